/*
evaluate.go - Waiver eligibility decision

PURPOSE:
  The single place that answers "is this card's annual fee waived?".
  Evaluate is a pure function over (rule, progress, available points):
  no clock, no store, no side effects. Everything that needs an
  eligibility answer - the lifecycle manager, the API, the statistics
  layer - calls through here so the decision logic cannot drift.

NUMERIC SEMANTICS:
  All comparisons and percentage math use decimal.Decimal. Eligibility
  is inclusive (progress == target counts). Percentages are uncapped:
  15 transactions against a target of 12 reports 125%.

SEE ALSO:
  - types.go: WaiverCondition variants
  - lifecycle.go: Applies the decision to stored records
*/
package fee

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WAIVER CHECK - The evaluation result
// =============================================================================

// WaiverCheck is the outcome of evaluating a rule against current progress.
type WaiverCheck struct {
	Eligible   bool
	Current    decimal.Decimal
	Target     decimal.Decimal
	Percentage decimal.Decimal
	Message    string
}

var hundred = decimal.NewFromInt(100)

// Evaluate decides waiver eligibility for a rule.
//
// progress is the record's current progress (count or cumulative amount).
// availablePoints is the cardholder's points balance, supplied by the
// caller; it is only consulted for points_exchange rules.
//
// A zero target is immediately satisfied. A rigid rule is never eligible
// and reports a zero target and zero percentage.
func Evaluate(rule *AnnualFeeRule, progress, availablePoints decimal.Decimal) WaiverCheck {
	switch cond := rule.Condition.(type) {
	case RigidCondition:
		return WaiverCheck{
			Eligible:   false,
			Current:    decimal.Zero,
			Target:     decimal.Zero,
			Percentage: decimal.Zero,
			Message:    fmt.Sprintf("rigid annual fee of %s: no waiver condition exists", RoundMoney(rule.BaseFee).StringFixed(MoneyScale)),
		}

	case TransactionCountCondition:
		target := decimal.NewFromInt(cond.Target)
		return thresholdCheck(progress, target,
			fmt.Sprintf("%s of %d qualifying transactions", progress.String(), cond.Target))

	case TransactionAmountCondition:
		return thresholdCheck(progress, cond.Target,
			fmt.Sprintf("%s of %s qualifying spend", RoundMoney(progress).StringFixed(MoneyScale), RoundMoney(cond.Target).StringFixed(MoneyScale)))

	case PointsExchangeCondition:
		required := rule.BaseFee.Mul(cond.PointsPerYuan)
		return thresholdCheck(availablePoints, required,
			fmt.Sprintf("%s of %s points required to offset the fee", availablePoints.String(), required.String()))

	default:
		// Unreachable for validated rules; report as not eligible.
		return WaiverCheck{Message: "unknown waiver condition"}
	}
}

// thresholdCheck handles the shared ">= target" shape of the non-rigid
// variants. Eligibility is inclusive; percentage is uncapped above 100.
func thresholdCheck(current, target decimal.Decimal, detail string) WaiverCheck {
	check := WaiverCheck{Current: current, Target: target}

	if target.IsZero() {
		check.Eligible = true
		check.Percentage = hundred
		check.Message = "waiver condition met: zero target is immediately satisfied"
		return check
	}

	check.Eligible = current.GreaterThanOrEqual(target)
	check.Percentage = current.Div(target).Mul(hundred)
	if check.Eligible {
		check.Message = fmt.Sprintf("waiver condition met: %s (%s%%)", detail, check.Percentage.String())
	} else {
		check.Message = fmt.Sprintf("waiver condition not met: %s (%s%%)", detail, check.Percentage.String())
	}
	return check
}
