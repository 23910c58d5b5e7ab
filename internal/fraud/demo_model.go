package fraud

// DemoClassifier returns a small built-in model used when MODEL_PATH is not
// configured (demo mode and tests). Its encoding tables cover the merchant,
// category, payment, and location vocabulary of the training set; the
// single tree flags very large amounts at high-risk locations, which is
// enough to exercise the hybrid path end to end.
func DemoClassifier() *Classifier {
	encoders := map[string]map[string]float64{
		"merchant": {
			"Amazon": 0, "Apple Store": 1, "Airline": 2, "Best Buy": 3,
			"Gas Station": 4, "Grocery Store": 5, "Hotel": 6, "McDonald's": 7,
			"Online Service": 8, "Restaurant": 9, "Starbucks": 10,
			"Target": 11, "Walmart": 12,
		},
		"category": {
			"Entertainment": 0, "Food": 1, "Other": 2, "Shopping": 3,
			"Travel": 4, "Utilities": 5,
		},
		"paymentMethod": {
			"Credit Card": 0, "Debit Card": 1, "Mobile Payment": 2, "Online": 3,
		},
		"location": {
			"Chicago": 0, "Dubai": 1, "London": 2, "Los Angeles": 3,
			"Miami": 4, "New York": 5, "Tokyo": 6,
		},
	}

	// amount <= 4500 → legitimate; otherwise fraud only at Dubai/London/Tokyo
	// (location codes 1, 2, 6). Two splits approximate the set membership.
	tree := &treeNode{
		Feature:   featAmount,
		Threshold: 4500,
		Left:      &treeNode{Feature: -1, Class: 0},
		Right: &treeNode{
			Feature:   featLocation,
			Threshold: 2.5,
			Left: &treeNode{
				Feature:   featLocation,
				Threshold: 0.5,
				Left:      &treeNode{Feature: -1, Class: 0}, // Chicago
				Right:     &treeNode{Feature: -1, Class: 1}, // Dubai, London
			},
			Right: &treeNode{
				Feature:   featLocation,
				Threshold: 5.5,
				Left:      &treeNode{Feature: -1, Class: 0}, // LA, Miami, New York
				Right:     &treeNode{Feature: -1, Class: 1}, // Tokyo
			},
		},
	}

	return &Classifier{encoders: encoders, trees: []*treeNode{tree}}
}
