package fraud

import "math"

// Rule contribution constants. The merchant risk weight is scaled by 100
// so a 0.5-weight merchant alone contributes 50 points.
const (
	highRiskLocationPoints = 30
	largeAmountPoints      = 40
	mediumAmountPoints     = 20

	largeAmountCutoff  = 3000
	mediumAmountCutoff = 1000
)

// highRiskLocations are always-suspicious transaction locations unless the
// cardholder has travel mode active for that exact location.
var highRiskLocations = map[string]bool{
	"Dubai":  true,
	"Tokyo":  true,
	"London": true,
}

// RuleEvaluator computes the deterministic portion of the fraud score.
// It is pure: no I/O, no clock, no stored state.
type RuleEvaluator struct{}

// NewRuleEvaluator creates a rule evaluator.
func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

// LocationRisk returns the location contribution. A location trusted under
// active travel mode scores 0 even when it is in the high-risk set. An
// empty trusted location never matches, so travel mode without a location
// falls through to the high-risk check.
func (e *RuleEvaluator) LocationRisk(location string, travelMode bool, trustedLocation string) float64 {
	if travelMode && trustedLocation != "" && location == trustedLocation {
		return 0
	}
	if highRiskLocations[location] {
		return highRiskLocationPoints
	}
	return 0
}

// AmountRisk returns the amount contribution: 40 above 3000, 20 above 1000.
func (e *RuleEvaluator) AmountRisk(amount float64) float64 {
	switch {
	case amount > largeAmountCutoff:
		return largeAmountPoints
	case amount > mediumAmountCutoff:
		return mediumAmountPoints
	default:
		return 0
	}
}

// Score combines the merchant risk weight with the amount and location
// contributions. The weight rides in on the transaction as RiskScore.
func (e *RuleEvaluator) Score(tx *Transaction, user *UserProfile) float64 {
	var travelMode bool
	var trusted string
	if user != nil {
		travelMode = user.TravelMode
		trusted = user.TrustedLocation
	}

	score := tx.RiskScore*100 +
		e.AmountRisk(tx.Amount) +
		e.LocationRisk(tx.Location, travelMode, trusted)

	return math.Round(score*100) / 100
}
