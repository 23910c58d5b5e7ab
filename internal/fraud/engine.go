package fraud

import (
	"context"

	"github.com/phishnet/phishnet/internal/logging"
	"github.com/phishnet/phishnet/internal/metrics"
)

// DefaultFlagThreshold is the rule score above which a transaction is
// flagged regardless of the classifier.
const DefaultFlagThreshold = 50.0

// Engine combines the rule evaluator and the classifier into a single flag
// decision. It has no side effects beyond logging; callers own the status
// transition and alert dispatch.
type Engine struct {
	rules      *RuleEvaluator
	classifier *Classifier
	threshold  float64
}

// NewEngine creates a scoring engine with the default flag threshold.
func NewEngine(rules *RuleEvaluator, classifier *Classifier) *Engine {
	return &Engine{
		rules:      rules,
		classifier: classifier,
		threshold:  DefaultFlagThreshold,
	}
}

// WithThreshold overrides the default flag threshold.
func (e *Engine) WithThreshold(t float64) *Engine {
	e.threshold = t
	return e
}

// Evaluate scores a transaction against the cardholder's profile.
// flagged is true when the classifier votes fraud OR the rule score
// exceeds the threshold. The hybrid keeps a deterministic, explainable
// floor under the classifier: if the model degrades, the rules still
// catch large amounts and high-risk locations.
func (e *Engine) Evaluate(ctx context.Context, tx *Transaction, user *UserProfile) (flagged bool, ruleScore float64) {
	ruleScore = e.rules.Score(tx, user)

	verdict, err := e.classifier.Predict(tx)
	if err != nil {
		// Fail closed: an unencodable transaction contributes no model
		// signal, but the rule score still applies.
		logging.L(ctx).Warn("classifier prediction failed, ignoring model signal",
			"transaction_id", tx.ID,
			"error", err,
		)
		metrics.ClassifierFailuresTotal.Inc()
		verdict = false
	}

	return verdict || ruleScore > e.threshold, ruleScore
}
