package fraud

import (
	"encoding/json"
	"fmt"
	"os"
)

// Feature order the offline training job exports. The artifact and this
// adapter must agree; changing one without the other silently miscodes
// every prediction.
const (
	featAmount = iota
	featMerchant
	featCategory
	featPayment
	featLocation
	featureCount
)

// UnknownValueError reports a categorical value missing from the encoding
// table, i.e. one the model was never trained on.
type UnknownValueError struct {
	Field string
	Value string
}

func (e *UnknownValueError) Error() string {
	return fmt.Sprintf("unknown %s value %q", e.Field, e.Value)
}

// treeNode is one node of a serialized decision tree. Leaf nodes carry
// Feature == -1 and a Class verdict; split nodes route samples with
// x[Feature] <= Threshold to Left.
type treeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
	Class     int       `json:"class"`
}

func (n *treeNode) predict(x []float64) int {
	for n.Feature >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Class
}

// modelArtifact is the JSON export of the offline training job: one label
// encoder per categorical field plus a decision-tree ensemble.
type modelArtifact struct {
	Version  int                           `json:"version"`
	Encoders map[string]map[string]float64 `json:"encoders"`
	Trees    []*treeNode                   `json:"trees"`
}

// Classifier wraps the pre-trained categorical model. It is read-only
// after load and safe for concurrent use.
type Classifier struct {
	encoders map[string]map[string]float64
	trees    []*treeNode
}

// LoadClassifier reads a model artifact from disk.
func LoadClassifier(path string) (*Classifier, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	return ParseClassifier(data)
}

// ParseClassifier builds a classifier from raw artifact JSON.
func ParseClassifier(data []byte) (*Classifier, error) {
	var artifact modelArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if len(artifact.Trees) == 0 {
		return nil, fmt.Errorf("model artifact has no trees")
	}
	for _, field := range []string{"merchant", "category", "paymentMethod", "location"} {
		if artifact.Encoders[field] == nil {
			return nil, fmt.Errorf("model artifact missing %s encoder", field)
		}
	}
	for i, tree := range artifact.Trees {
		if err := validateTree(tree); err != nil {
			return nil, fmt.Errorf("model artifact tree %d: %w", i, err)
		}
	}
	return &Classifier{encoders: artifact.Encoders, trees: artifact.Trees}, nil
}

// validateTree rejects malformed nodes at load time so predict can walk
// the tree without bounds checks.
func validateTree(n *treeNode) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if n.Feature < 0 {
		return nil
	}
	if n.Feature >= featureCount {
		return fmt.Errorf("feature index %d out of range", n.Feature)
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("split node on feature %d missing a child", n.Feature)
	}
	if err := validateTree(n.Left); err != nil {
		return err
	}
	return validateTree(n.Right)
}

// encode maps one categorical value through its encoding table.
func (c *Classifier) encode(field, value string) (float64, error) {
	code, ok := c.encoders[field][value]
	if !ok {
		return 0, &UnknownValueError{Field: field, Value: value}
	}
	return code, nil
}

// Predict returns the model's binary fraud verdict for a transaction.
// An unseen categorical value yields an *UnknownValueError; callers decide
// the failure policy (the scoring engine fails closed).
func (c *Classifier) Predict(tx *Transaction) (bool, error) {
	x := make([]float64, featureCount)
	x[featAmount] = tx.Amount

	var err error
	if x[featMerchant], err = c.encode("merchant", tx.Merchant); err != nil {
		return false, err
	}
	if x[featCategory], err = c.encode("category", tx.Category); err != nil {
		return false, err
	}
	if x[featPayment], err = c.encode("paymentMethod", tx.PaymentMethod); err != nil {
		return false, err
	}
	if x[featLocation], err = c.encode("location", tx.Location); err != nil {
		return false, err
	}

	// Majority vote across the ensemble.
	votes := 0
	for _, tree := range c.trees {
		if tree.predict(x) == 1 {
			votes++
		}
	}
	return votes*2 > len(c.trees), nil
}
