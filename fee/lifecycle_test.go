package fee_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/annualfee-engine/fee"
)

// =============================================================================
// RULE CRUD
// =============================================================================

func TestCreateRule_UnknownCard_NotFound(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.lifecycle.CreateRule(context.Background(), countRule(12))
	assert.True(t, fee.IsNotFound(err))
}

func TestCreateRule_SecondRuleForCard_Rejected(t *testing.T) {
	// GIVEN: A card that already has a rule
	// WHEN: Creating another rule for the same card
	// THEN: Rejected with a duplicate_rule business error

	e := newTestEngine(t)
	e.seedCardAndRule(t, countRule(12))

	second := amountRule("50000.00")
	second.ID = "rule-second"
	_, err := e.lifecycle.CreateRule(context.Background(), second)

	assert.True(t, fee.IsBusinessRule(err))
	var bre *fee.BusinessRuleError
	require.ErrorAs(t, err, &bre)
	assert.Equal(t, fee.CodeDuplicateRule, bre.Code)
}

func TestCreateRule_GeneratesID(t *testing.T) {
	e := newTestEngine(t)
	rule := countRule(12)
	rule.ID = ""
	created := e.seedCardAndRule(t, rule)
	assert.NotEmpty(t, created.ID)
}

func TestUpdateRule_PartialAndRevalidated(t *testing.T) {
	e := newTestEngine(t)
	rule := e.seedCardAndRule(t, countRule(12))

	name := "renamed"
	newFee := fee.MustMoney("300")
	updated, err := e.lifecycle.UpdateRule(context.Background(), rule.ID, fee.RuleUpdate{
		Name:    &name,
		BaseFee: &newFee,
	})
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.BaseFee.Equal(fee.MustMoney("300.00")))
	// Untouched fields survive.
	assert.Equal(t, fee.FeeTransactionCount, updated.FeeType)
}

func TestUpdateRule_MismatchedCondition_Rejected(t *testing.T) {
	// Changing the condition without the fee type must keep them paired.
	e := newTestEngine(t)
	rule := e.seedCardAndRule(t, countRule(12))

	_, err := e.lifecycle.UpdateRule(context.Background(), rule.ID, fee.RuleUpdate{
		Condition: fee.TransactionAmountCondition{Target: fee.MustMoney("100.00")},
	})
	assert.True(t, fee.IsValidation(err))
}

func TestDeleteRule_ReferencedByRecord_Blocked(t *testing.T) {
	// GIVEN: A rule with an open record
	// WHEN: Deleting the rule
	// THEN: Blocked with rule_referenced; deleting after the record is gone works

	e := newTestEngine(t)
	ctx := context.Background()
	rule := e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	err := e.lifecycle.DeleteRule(ctx, rule.ID)
	assert.True(t, fee.IsBusinessRule(err))
	var bre *fee.BusinessRuleError
	require.ErrorAs(t, err, &bre)
	assert.Equal(t, fee.CodeRuleReferenced, bre.Code)

	require.NoError(t, e.lifecycle.DeleteRecord(ctx, rec.ID))
	assert.NoError(t, e.lifecycle.DeleteRule(ctx, rule.ID))
}

// =============================================================================
// RECORD CREATION
// =============================================================================

func TestCreateRecord_InitialState(t *testing.T) {
	// GIVEN: A rule with base fee 200.00 and no calendar anchor
	// WHEN: Opening the 2025 cycle
	// THEN: Pending, full fee owed, zero progress, due Dec 31

	e := newTestEngine(t)
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	assert.Equal(t, fee.StatusPending, rec.WaiverStatus)
	assert.True(t, rec.ActualFee.Equal(fee.MustMoney("200.00")))
	assert.True(t, rec.WaiverAmount.IsZero())
	assert.True(t, rec.CurrentProgress.IsZero())
	assert.Equal(t, date(2025, time.December, 31), rec.DueDate)
	assert.True(t, rec.MoneyBalanced())
}

func TestCreateRecord_LeapAnchor_ClampsPerYear(t *testing.T) {
	// GIVEN: A rule anchored on Feb 29
	// WHEN: Opening records for a leap and a non-leap year
	// THEN: Due dates are Feb 29 and Feb 28 respectively

	e := newTestEngine(t)
	rule := countRule(12)
	month := time.February
	day := 29
	rule.AnnualFeeMonth = &month
	rule.AnnualFeeDay = &day
	e.seedCardAndRule(t, rule)

	leap := e.openRecord(t, "card-1", 2024)
	assert.Equal(t, date(2024, time.February, 29), leap.DueDate)

	nonLeap := e.openRecord(t, "card-1", 2023)
	assert.Equal(t, date(2023, time.February, 28), nonLeap.DueDate)
}

func TestCreateRecord_DuplicateCycle_Rejected(t *testing.T) {
	e := newTestEngine(t)
	e.seedCardAndRule(t, countRule(12))
	e.openRecord(t, "card-1", 2025)

	_, err := e.lifecycle.CreateRecord(context.Background(), "card-1", 2025)
	assert.True(t, fee.IsBusinessRule(err))
	var bre *fee.BusinessRuleError
	require.ErrorAs(t, err, &bre)
	assert.Equal(t, fee.CodeDuplicateRecord, bre.Code)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestEvaluateAndApply_PendingEligible_Waives(t *testing.T) {
	// GIVEN: Progress past the target
	// WHEN: Evaluating
	// THEN: pending → waived with the full fee waived, money balanced

	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(2))
	rec := e.openRecord(t, "card-1", 2025)

	require.NoError(t, e.progress.ApplyTransaction(ctx, expense("tx-1", "card-1", "5.00", date(2025, time.April, 1))))
	require.NoError(t, e.progress.ApplyTransaction(ctx, expense("tx-2", "card-1", "5.00", date(2025, time.April, 2))))

	got, check, err := e.lifecycle.EvaluateAndApply(ctx, rec.ID, decimal.Zero)
	require.NoError(t, err)

	assert.True(t, check.Eligible)
	assert.Equal(t, fee.StatusWaived, got.WaiverStatus)
	assert.True(t, got.ActualFee.IsZero())
	assert.True(t, got.WaiverAmount.Equal(got.BaseFee))
	assert.True(t, got.MoneyBalanced())
}

func TestEvaluateAndApply_Idempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(0))
	rec := e.openRecord(t, "card-1", 2025)

	first, _, err := e.lifecycle.EvaluateAndApply(ctx, rec.ID, decimal.Zero)
	require.NoError(t, err)
	second, _, err := e.lifecycle.EvaluateAndApply(ctx, rec.ID, decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, fee.StatusWaived, first.WaiverStatus)
	assert.Equal(t, fee.StatusWaived, second.WaiverStatus)
}

func TestRecordPayment_Pending_PaysRemainder(t *testing.T) {
	// GIVEN: A pending record with a partial waiver of 50.00 on a 200.00 fee
	// WHEN: Recording payment
	// THEN: paid with actual fee 150.00 and the monetary invariant intact

	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	partial := fee.MustMoney("50.00")
	_, err := e.lifecycle.UpdateRecord(ctx, rec.ID, fee.RecordUpdate{WaiverAmount: &partial})
	require.NoError(t, err)

	payDay := date(2025, time.July, 1)
	paid, err := e.lifecycle.RecordPayment(ctx, rec.ID, payDay)
	require.NoError(t, err)

	assert.Equal(t, fee.StatusPaid, paid.WaiverStatus)
	assert.True(t, paid.ActualFee.Equal(fee.MustMoney("150.00")))
	assert.True(t, paid.MoneyBalanced())
	require.NotNil(t, paid.PaymentDate)
	assert.Equal(t, payDay, *paid.PaymentDate)
}

func TestRecordPayment_WaivedRecord_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(0))
	rec := e.openRecord(t, "card-1", 2025)

	_, _, err := e.lifecycle.EvaluateAndApply(ctx, rec.ID, decimal.Zero)
	require.NoError(t, err)

	_, err = e.lifecycle.RecordPayment(ctx, rec.ID, date(2025, time.July, 1))
	assert.True(t, fee.IsBusinessRule(err))
	var bre *fee.BusinessRuleError
	require.ErrorAs(t, err, &bre)
	assert.Equal(t, fee.CodeIllegalTransition, bre.Code)
}

func TestUpdateRecord_IllegalTransition_Rejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	paid, err := e.lifecycle.RecordPayment(ctx, rec.ID, date(2025, time.July, 1))
	require.NoError(t, err)
	require.Equal(t, fee.StatusPaid, paid.WaiverStatus)

	// paid is terminal; nothing leaves it.
	back := fee.StatusPending
	_, err = e.lifecycle.UpdateRecord(ctx, rec.ID, fee.RecordUpdate{Status: &back})
	assert.True(t, fee.IsBusinessRule(err))
}

func TestUpdateRecord_MonetaryBounds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	over := fee.MustMoney("200.01")
	_, err := e.lifecycle.UpdateRecord(ctx, rec.ID, fee.RecordUpdate{WaiverAmount: &over})
	assert.True(t, fee.IsValidation(err), "waiver above base fee")

	negative := fee.MustMoney("-1.00")
	_, err = e.lifecycle.UpdateRecord(ctx, rec.ID, fee.RecordUpdate{ActualFee: &negative})
	assert.True(t, fee.IsValidation(err), "negative actual fee")
}

func TestUpdateRecord_StatusWaived_ZeroesFee(t *testing.T) {
	// GIVEN: A pending record owing the full 200.00
	// WHEN: The status is set to waived through the generic update
	// THEN: The fee is zeroed and the waiver covers the base in full

	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	waived := fee.StatusWaived
	got, err := e.lifecycle.UpdateRecord(ctx, rec.ID, fee.RecordUpdate{Status: &waived})
	require.NoError(t, err)

	assert.Equal(t, fee.StatusWaived, got.WaiverStatus)
	assert.True(t, got.ActualFee.IsZero())
	assert.True(t, got.WaiverAmount.Equal(got.BaseFee))
	assert.True(t, got.MoneyBalanced())
}

func TestUpdateRecord_StatusPaid_OwesRemainder(t *testing.T) {
	// A partial waiver granted in the same update reduces what the paid
	// record settles.
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	partial := fee.MustMoney("50.00")
	status := fee.StatusPaid
	got, err := e.lifecycle.UpdateRecord(ctx, rec.ID, fee.RecordUpdate{
		WaiverAmount: &partial,
		Status:       &status,
	})
	require.NoError(t, err)

	assert.Equal(t, fee.StatusPaid, got.WaiverStatus)
	assert.True(t, got.ActualFee.Equal(fee.MustMoney("150.00")))
	assert.True(t, got.MoneyBalanced())
}

// =============================================================================
// OVERDUE DETECTION
// =============================================================================

func TestMarkOverdue_PastDueIneligible_GoesOverdue(t *testing.T) {
	// GIVEN: A pending record due Dec 31 2025 with no progress
	// WHEN: Checking on Jan 1 2026
	// THEN: overdue; payment afterwards is still allowed

	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	got, err := e.lifecycle.MarkOverdue(ctx, rec.ID, date(2026, time.January, 1), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusOverdue, got.WaiverStatus)

	paid, err := e.lifecycle.RecordPayment(ctx, rec.ID, date(2026, time.January, 15))
	require.NoError(t, err)
	assert.Equal(t, fee.StatusPaid, paid.WaiverStatus)
	assert.True(t, paid.MoneyBalanced())
}

func TestMarkOverdue_NotYetDue_Unchanged(t *testing.T) {
	e := newTestEngine(t)
	e.seedCardAndRule(t, countRule(12))
	rec := e.openRecord(t, "card-1", 2025)

	got, err := e.lifecycle.MarkOverdue(context.Background(), rec.ID, date(2025, time.December, 31), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusPending, got.WaiverStatus, "due date itself is not overdue")
}

func TestMarkOverdue_EligibleRecord_WaivedInstead(t *testing.T) {
	// An eligible record never goes overdue, even past its due date.
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(0))
	rec := e.openRecord(t, "card-1", 2025)

	got, err := e.lifecycle.MarkOverdue(ctx, rec.ID, date(2026, time.June, 1), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusWaived, got.WaiverStatus)
}

// =============================================================================
// READ-ONLY EVALUATION
// =============================================================================

func TestEvaluateWaiver_DoesNotMutate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(0))
	rec := e.openRecord(t, "card-1", 2025)

	check, err := e.lifecycle.EvaluateWaiver(ctx, "card-1", 2025, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, check.Eligible)

	got, err := e.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusPending, got.WaiverStatus, "read-only check must not waive")
}

func TestEvaluateAll_SkipsCardsWithoutRecords(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedCardAndRule(t, countRule(0))
	e.openRecord(t, "card-1", 2025)

	// A second card with no rule or record.
	require.NoError(t, e.store.SaveCard(ctx, &fee.Card{
		ID: "card-2", UserID: "user-1", Name: "spare card", CreatedAt: time.Now().UTC(),
	}))

	results, err := e.lifecycle.EvaluateAll(ctx, "user-1", 2025, decimal.Zero)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, fee.CardID("card-1"), results[0].CardID)
	assert.True(t, results[0].Check.Eligible)
}
