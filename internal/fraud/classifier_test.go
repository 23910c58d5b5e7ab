package fraud

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoTx(amount float64, location string) *Transaction {
	return &Transaction{
		Amount:        amount,
		Merchant:      "Amazon",
		Category:      "Shopping",
		PaymentMethod: "Credit Card",
		Location:      location,
	}
}

func TestDemoClassifier_Predict(t *testing.T) {
	c := DemoClassifier()

	tests := []struct {
		amount   float64
		location string
		fraud    bool
	}{
		{100, "Chicago", false},
		{100, "Dubai", false},
		{5000, "Chicago", false},
		{5000, "Dubai", true},
		{5000, "London", true},
		{5000, "Tokyo", true},
		{5000, "New York", false},
		{4500, "Dubai", false}, // at the boundary, still legitimate
	}

	for _, tc := range tests {
		got, err := c.Predict(demoTx(tc.amount, tc.location))
		require.NoError(t, err, "amount=%v location=%s", tc.amount, tc.location)
		assert.Equal(t, tc.fraud, got, "amount=%v location=%s", tc.amount, tc.location)
	}
}

func TestPredict_UnknownValue(t *testing.T) {
	c := DemoClassifier()

	tx := demoTx(100, "Chicago")
	tx.Merchant = "Definitely Not A Store"

	_, err := c.Predict(tx)
	require.Error(t, err)

	var unknownErr *UnknownValueError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "merchant", unknownErr.Field)
	assert.Equal(t, "Definitely Not A Store", unknownErr.Value)
}

func TestPredict_UnknownLocation(t *testing.T) {
	c := DemoClassifier()

	tx := demoTx(100, "Atlantis")
	_, err := c.Predict(tx)

	var unknownErr *UnknownValueError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "location", unknownErr.Field)
}

func TestParseClassifier_Invalid(t *testing.T) {
	_, err := ParseClassifier([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseClassifier([]byte(`{"version":1,"encoders":{},"trees":[]}`))
	assert.ErrorContains(t, err, "no trees")

	_, err = ParseClassifier([]byte(`{
		"version": 1,
		"encoders": {"merchant": {"A": 0}},
		"trees": [{"feature": -1, "class": 0}]
	}`))
	assert.ErrorContains(t, err, "missing category encoder")
}

func TestParseClassifier_MalformedTrees(t *testing.T) {
	const encoders = `{
		"merchant": {"A": 0},
		"category": {"B": 0},
		"paymentMethod": {"C": 0},
		"location": {"D": 0}
	}`

	// A feature index past the vector length must be rejected at load
	// time, not panic on the first prediction.
	_, err := ParseClassifier([]byte(`{
		"version": 1,
		"encoders": ` + encoders + `,
		"trees": [{"feature": 5, "threshold": 1,
			"left": {"feature": -1, "class": 0},
			"right": {"feature": -1, "class": 1}}]
	}`))
	assert.ErrorContains(t, err, "feature index 5 out of range")

	// A split node without children is equally unwalkable.
	_, err = ParseClassifier([]byte(`{
		"version": 1,
		"encoders": ` + encoders + `,
		"trees": [{"feature": 0, "threshold": 1,
			"left": {"feature": -1, "class": 0}}]
	}`))
	assert.ErrorContains(t, err, "missing a child")

	// Malformed nodes below the root are found too.
	_, err = ParseClassifier([]byte(`{
		"version": 1,
		"encoders": ` + encoders + `,
		"trees": [{"feature": 0, "threshold": 1,
			"left": {"feature": 9, "threshold": 1,
				"left": {"feature": -1, "class": 0},
				"right": {"feature": -1, "class": 1}},
			"right": {"feature": -1, "class": 1}}]
	}`))
	assert.ErrorContains(t, err, "feature index 9 out of range")
}

func TestLoadClassifier(t *testing.T) {
	artifact := `{
		"version": 1,
		"encoders": {
			"merchant": {"Amazon": 0},
			"category": {"Shopping": 0},
			"paymentMethod": {"Credit Card": 0},
			"location": {"Chicago": 0}
		},
		"trees": [
			{"feature": 0, "threshold": 1000,
			 "left": {"feature": -1, "class": 0},
			 "right": {"feature": -1, "class": 1}}
		]
	}`

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(artifact), 0o600))

	c, err := LoadClassifier(path)
	require.NoError(t, err)

	got, err := c.Predict(demoTx(2000, "Chicago"))
	require.NoError(t, err)
	assert.True(t, got)

	got, err = c.Predict(demoTx(500, "Chicago"))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLoadClassifier_MissingFile(t *testing.T) {
	_, err := LoadClassifier(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestPredict_MajorityVote(t *testing.T) {
	encoders := map[string]map[string]float64{
		"merchant":      {"Amazon": 0},
		"category":      {"Shopping": 0},
		"paymentMethod": {"Credit Card": 0},
		"location":      {"Chicago": 0},
	}
	fraudLeaf := &treeNode{Feature: -1, Class: 1}
	legitLeaf := &treeNode{Feature: -1, Class: 0}

	// Two fraud votes out of three carry the ensemble.
	c := &Classifier{encoders: encoders, trees: []*treeNode{fraudLeaf, fraudLeaf, legitLeaf}}
	got, err := c.Predict(demoTx(1, "Chicago"))
	require.NoError(t, err)
	assert.True(t, got)

	// A tie is not a majority.
	c = &Classifier{encoders: encoders, trees: []*treeNode{fraudLeaf, legitLeaf}}
	got, err = c.Predict(demoTx(1, "Chicago"))
	require.NoError(t, err)
	assert.False(t, got)
}
