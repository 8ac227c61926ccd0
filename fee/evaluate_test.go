package fee_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/annualfee-engine/fee"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func countRule(target int64) *fee.AnnualFeeRule {
	return &fee.AnnualFeeRule{
		ID:        "rule-count",
		CardID:    "card-1",
		Name:      "swipe waiver",
		FeeType:   fee.FeeTransactionCount,
		BaseFee:   fee.MustMoney("200.00"),
		Condition: fee.TransactionCountCondition{Target: target},
	}
}

func amountRule(target string) *fee.AnnualFeeRule {
	return &fee.AnnualFeeRule{
		ID:        "rule-amount",
		CardID:    "card-1",
		Name:      "spend waiver",
		FeeType:   fee.FeeTransactionAmount,
		BaseFee:   fee.MustMoney("580.00"),
		Condition: fee.TransactionAmountCondition{Target: fee.MustMoney(target)},
	}
}

func pointsRule(baseFee, pointsPerYuan string) *fee.AnnualFeeRule {
	return &fee.AnnualFeeRule{
		ID:        "rule-points",
		CardID:    "card-1",
		Name:      "points waiver",
		FeeType:   fee.FeePointsExchange,
		BaseFee:   fee.MustMoney(baseFee),
		Condition: fee.PointsExchangeCondition{PointsPerYuan: fee.MustMoney(pointsPerYuan)},
	}
}

// =============================================================================
// TRANSACTION COUNT RULES
// =============================================================================

func TestEvaluate_CountRule_OverTarget_UncappedPercentage(t *testing.T) {
	// GIVEN: Target of 12 transactions, 15 recorded
	// WHEN: Evaluating
	// THEN: Eligible at 125%, not capped to 100

	check := fee.Evaluate(countRule(12), decimal.NewFromInt(15), decimal.Zero)

	assert.True(t, check.Eligible)
	assert.True(t, check.Percentage.Equal(fee.MustMoney("125")), "got %s", check.Percentage)
}

func TestEvaluate_CountRule_ExactTarget_Inclusive(t *testing.T) {
	// Boundary: progress == target counts as met.
	check := fee.Evaluate(countRule(12), decimal.NewFromInt(12), decimal.Zero)

	assert.True(t, check.Eligible)
	assert.True(t, check.Percentage.Equal(fee.MustMoney("100")))
}

func TestEvaluate_CountRule_OneShort_NotEligible(t *testing.T) {
	check := fee.Evaluate(countRule(12), decimal.NewFromInt(11), decimal.Zero)

	assert.False(t, check.Eligible)
	assert.True(t, check.Percentage.LessThan(fee.MustMoney("100")))
}

func TestEvaluate_ZeroTarget_ImmediatelySatisfied(t *testing.T) {
	check := fee.Evaluate(countRule(0), decimal.Zero, decimal.Zero)

	assert.True(t, check.Eligible)
	assert.True(t, check.Percentage.Equal(fee.MustMoney("100")))
}

// =============================================================================
// TRANSACTION AMOUNT RULES
// =============================================================================

func TestEvaluate_AmountRule_OneCentShort_NotEligible(t *testing.T) {
	// GIVEN: Target spend of 50000.00, progress 49999.99
	// WHEN: Evaluating
	// THEN: Not eligible; decimal comparison must not round the cent away

	check := fee.Evaluate(amountRule("50000.00"), fee.MustMoney("49999.99"), decimal.Zero)

	assert.False(t, check.Eligible)
	assert.True(t, check.Percentage.LessThan(fee.MustMoney("100")))
	assert.True(t, check.Current.Equal(fee.MustMoney("49999.99")))
}

func TestEvaluate_AmountRule_ExactTarget_Eligible(t *testing.T) {
	check := fee.Evaluate(amountRule("50000.00"), fee.MustMoney("50000.00"), decimal.Zero)

	assert.True(t, check.Eligible)
	assert.True(t, check.Percentage.Equal(fee.MustMoney("100")))
}

// =============================================================================
// RIGID RULES
// =============================================================================

func TestEvaluate_RigidRule_NeverEligible(t *testing.T) {
	rule := &fee.AnnualFeeRule{
		ID:        "rule-rigid",
		CardID:    "card-1",
		Name:      "no waiver",
		FeeType:   fee.FeeRigid,
		BaseFee:   fee.MustMoney("200.00"),
		Condition: fee.RigidCondition{},
	}

	// Progress is irrelevant for rigid fees.
	check := fee.Evaluate(rule, decimal.NewFromInt(1000000), fee.MustMoney("1000000"))

	assert.False(t, check.Eligible)
	assert.True(t, check.Target.IsZero())
	assert.True(t, check.Percentage.IsZero())
}

// =============================================================================
// POINTS EXCHANGE RULES
// =============================================================================

func TestEvaluate_PointsRule_RequiredIsBaseFeeTimesRate(t *testing.T) {
	// GIVEN: Base fee 300.00 at 500 points per yuan → 150000 points needed
	// WHEN: The cardholder has exactly that balance
	// THEN: Eligible at 100%

	rule := pointsRule("300.00", "500")
	check := fee.Evaluate(rule, decimal.Zero, fee.MustMoney("150000"))

	assert.True(t, check.Eligible)
	assert.True(t, check.Target.Equal(fee.MustMoney("150000")))
}

func TestEvaluate_PointsRule_InsufficientBalance(t *testing.T) {
	rule := pointsRule("300.00", "500")
	check := fee.Evaluate(rule, decimal.Zero, fee.MustMoney("149999"))

	assert.False(t, check.Eligible)
}

func TestEvaluate_PointsRule_IgnoresStoredProgress(t *testing.T) {
	// Points eligibility depends on the supplied balance, never on the
	// record's transaction progress.
	rule := pointsRule("300.00", "500")
	check := fee.Evaluate(rule, fee.MustMoney("999999"), decimal.Zero)

	assert.False(t, check.Eligible)
	assert.True(t, check.Current.IsZero())
}
