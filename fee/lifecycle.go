/*
lifecycle.go - Annual fee record lifecycle management

PURPOSE:
  Owns AnnualFeeRecord state transitions, due-date generation, and
  payment/waiver recording. This is the only component allowed to change
  a record's status or monetary fields.

STATE MACHINE:
  pending → waived   (evaluator reports eligible)
  pending → paid     (manual payment)
  pending → overdue  (explicit check: now past due date, not eligible)
  overdue → paid     (manual payment)

  All transitions are one-way. paid → pending is disallowed; corrections
  require a new record or an administrative override. EvaluateAndApply on
  an already-terminal record is a deliberate no-op, not an error.

MONETARY INVARIANT:
  Whenever a record is waived or paid:
      actual_fee + waiver_amount == base_fee   (exact decimal equality)

DETERMINISM:
  Overdue detection takes "now" as an explicit parameter. Nothing in this
  file reads the system clock except record audit timestamps.

SEE ALSO:
  - evaluate.go: The eligibility decision
  - calendar.go: Due-date resolution
  - stats.go: Read-only rollups over the records written here
*/
package fee

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LIFECYCLE MANAGER
// =============================================================================

// LifecycleManager drives annual fee records through their state machine.
type LifecycleManager struct {
	Rules   RuleStore
	Records RecordStore
	Cards   CardDirectory
}

// NewLifecycleManager wires a manager over the given stores.
func NewLifecycleManager(rules RuleStore, records RecordStore, cards CardDirectory) *LifecycleManager {
	return &LifecycleManager{Rules: rules, Records: records, Cards: cards}
}

// =============================================================================
// RULE OPERATIONS - CRUD with referential protection
// =============================================================================

// CreateRule validates and persists a new rule for a card.
func (m *LifecycleManager) CreateRule(ctx context.Context, rule *AnnualFeeRule) (*AnnualFeeRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	card, err := m.Cards.GetCard(ctx, rule.CardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, &ResourceNotFoundError{Resource: "card", ID: string(rule.CardID)}
	}

	existing, err := m.Rules.GetRuleByCard(ctx, rule.CardID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &BusinessRuleError{Code: CodeDuplicateRule, Message: "card already has an annual fee rule"}
	}

	if rule.ID == "" {
		rule.ID = RuleID(uuid.NewString())
	}
	rule.BaseFee = RoundMoney(rule.BaseFee)
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := m.Rules.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// RuleUpdate carries the optional fields of a partial rule update.
// Nil fields are left untouched.
type RuleUpdate struct {
	Name           *string
	FeeType        *FeeType
	BaseFee        *decimal.Decimal
	Condition      WaiverCondition
	AnnualFeeMonth *time.Month
	AnnualFeeDay   *int
}

// UpdateRule applies a partial update and re-validates the resulting rule.
func (m *LifecycleManager) UpdateRule(ctx context.Context, id RuleID, upd RuleUpdate) (*AnnualFeeRule, error) {
	rule, err := m.Rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, &ResourceNotFoundError{Resource: "rule", ID: string(id)}
	}

	if upd.Name != nil {
		rule.Name = *upd.Name
	}
	if upd.FeeType != nil {
		rule.FeeType = *upd.FeeType
	}
	if upd.BaseFee != nil {
		rule.BaseFee = RoundMoney(*upd.BaseFee)
	}
	if upd.Condition != nil {
		rule.Condition = upd.Condition
	}
	if upd.AnnualFeeMonth != nil {
		rule.AnnualFeeMonth = upd.AnnualFeeMonth
	}
	if upd.AnnualFeeDay != nil {
		rule.AnnualFeeDay = upd.AnnualFeeDay
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := m.Rules.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule unless any record still references it.
func (m *LifecycleManager) DeleteRule(ctx context.Context, id RuleID) error {
	rule, err := m.Rules.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil {
		return &ResourceNotFoundError{Resource: "rule", ID: string(id)}
	}

	count, err := m.Records.CountRecordsForRule(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return &BusinessRuleError{Code: CodeRuleReferenced, Message: "rule is referenced by existing fee records"}
	}
	return m.Rules.DeleteRule(ctx, id)
}

// =============================================================================
// RECORD CREATION
// =============================================================================

// CreateRecord opens the fee cycle for (card, fee year). The due date comes
// from the rule's calendar anchor resolved for that fee year; the initial
// state is pending with zero progress and the full fee owed.
func (m *LifecycleManager) CreateRecord(ctx context.Context, cardID CardID, feeYear int) (*AnnualFeeRecord, error) {
	card, err := m.Cards.GetCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, &ResourceNotFoundError{Resource: "card", ID: string(cardID)}
	}

	rule, err := m.Rules.GetRuleByCard(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, &ResourceNotFoundError{Resource: "rule", ID: "card:" + string(cardID)}
	}

	existing, err := m.Records.GetRecordByCardYear(ctx, cardID, feeYear)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &BusinessRuleError{Code: CodeDuplicateRecord, Message: "record already exists for this card and fee year"}
	}

	dueDate, err := rule.DueDate(feeYear)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &AnnualFeeRecord{
		ID:              RecordID(uuid.NewString()),
		RuleID:          rule.ID,
		CardID:          cardID,
		FeeYear:         feeYear,
		BaseFee:         rule.BaseFee,
		ActualFee:       rule.BaseFee,
		WaiverAmount:    decimal.Zero,
		CurrentProgress: decimal.Zero,
		WaiverStatus:    StatusPending,
		DueDate:         dueDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := m.Records.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// RECORD UPDATES
// =============================================================================

// RecordUpdate carries the optional fields of a partial record update.
// Status changes go through the transition table; monetary fields must
// stay within [0, base_fee].
type RecordUpdate struct {
	ActualFee    *decimal.Decimal
	WaiverAmount *decimal.Decimal
	Status       *WaiverStatus
	PaymentDate  *time.Time
}

// UpdateRecord applies a partial update. Payment fields are only meaningful
// when the status becomes paid; supplying them alone adjusts the stored
// values without a transition.
func (m *LifecycleManager) UpdateRecord(ctx context.Context, id RecordID, upd RecordUpdate) (*AnnualFeeRecord, error) {
	rec, err := m.Records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &ResourceNotFoundError{Resource: "record", ID: string(id)}
	}

	if upd.ActualFee != nil {
		v := RoundMoney(*upd.ActualFee)
		if v.IsNegative() || v.GreaterThan(rec.BaseFee) {
			return nil, &ValidationError{Field: "actual_fee", Message: "must be within [0, base_fee]"}
		}
		rec.ActualFee = v
	}
	if upd.WaiverAmount != nil {
		v := RoundMoney(*upd.WaiverAmount)
		if v.IsNegative() || v.GreaterThan(rec.BaseFee) {
			return nil, &ValidationError{Field: "waiver_amount", Message: "must be within [0, base_fee]"}
		}
		rec.WaiverAmount = v
	}
	if upd.Status != nil {
		next := *upd.Status
		if !next.Valid() {
			return nil, &ValidationError{Field: "waiver_status", Message: "unknown status: " + string(next)}
		}
		if next != rec.WaiverStatus {
			if !rec.WaiverStatus.CanTransitionTo(next) {
				return nil, &BusinessRuleError{
					Code:    CodeIllegalTransition,
					Message: "cannot transition from " + string(rec.WaiverStatus) + " to " + string(next),
				}
			}
			rec.WaiverStatus = next
			// The transition carries its monetary effect even on this
			// generic path: a waived record owes nothing, a paid record
			// owes the fee minus any waiver already granted.
			switch next {
			case StatusWaived:
				rec.ActualFee = decimal.Zero
				rec.WaiverAmount = rec.BaseFee
			case StatusPaid:
				rec.ActualFee = rec.BaseFee.Sub(rec.WaiverAmount)
			}
		}
	}
	if upd.PaymentDate != nil {
		rec.PaymentDate = upd.PaymentDate
	}

	rec.UpdatedAt = time.Now().UTC()
	if err := m.Records.UpdateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// =============================================================================
// WAIVER APPLICATION
// =============================================================================

// EvaluateAndApply runs the evaluator against stored progress and applies
// pending → waived when eligible. Idempotent: a record that is already
// waived or paid is returned unchanged with its current check.
func (m *LifecycleManager) EvaluateAndApply(ctx context.Context, id RecordID, availablePoints decimal.Decimal) (*AnnualFeeRecord, WaiverCheck, error) {
	rec, rule, err := m.loadRecordAndRule(ctx, id)
	if err != nil {
		return nil, WaiverCheck{}, err
	}

	check := Evaluate(rule, rec.CurrentProgress, availablePoints)

	// Terminal and overdue records are left alone; only pending records
	// are waived automatically.
	if rec.WaiverStatus != StatusPending || !check.Eligible {
		return rec, check, nil
	}

	rec.WaiverStatus = StatusWaived
	rec.ActualFee = decimal.Zero
	rec.WaiverAmount = rec.BaseFee
	rec.UpdatedAt = time.Now().UTC()

	if err := m.Records.UpdateRecord(ctx, rec); err != nil {
		return nil, WaiverCheck{}, err
	}
	return rec, check, nil
}

// RecordPayment transitions pending/overdue → paid. The fee actually owed
// is base_fee minus any partial waiver already granted. Paying a waived
// record is a business-rule violation.
func (m *LifecycleManager) RecordPayment(ctx context.Context, id RecordID, paymentDate time.Time) (*AnnualFeeRecord, error) {
	rec, err := m.Records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &ResourceNotFoundError{Resource: "record", ID: string(id)}
	}

	if !rec.WaiverStatus.CanTransitionTo(StatusPaid) {
		return nil, &BusinessRuleError{
			Code:    CodeIllegalTransition,
			Message: "cannot record payment on a " + string(rec.WaiverStatus) + " record",
		}
	}

	rec.WaiverStatus = StatusPaid
	rec.ActualFee = rec.BaseFee.Sub(rec.WaiverAmount)
	rec.PaymentDate = &paymentDate
	rec.UpdatedAt = time.Now().UTC()

	if err := m.Records.UpdateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkOverdue checks a pending record against an explicit "now". An
// eligible record is waived instead of going overdue; an ineligible record
// past its due date goes overdue; anything else is left untouched.
func (m *LifecycleManager) MarkOverdue(ctx context.Context, id RecordID, now time.Time, availablePoints decimal.Decimal) (*AnnualFeeRecord, error) {
	rec, rule, err := m.loadRecordAndRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.WaiverStatus != StatusPending {
		return rec, nil
	}

	check := Evaluate(rule, rec.CurrentProgress, availablePoints)
	if check.Eligible {
		rec, _, err = m.EvaluateAndApply(ctx, id, availablePoints)
		return rec, err
	}

	if !now.After(rec.DueDate) {
		return rec, nil
	}

	rec.WaiverStatus = StatusOverdue
	rec.UpdatedAt = time.Now().UTC()
	if err := m.Records.UpdateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecord removes a record. Explicit administrative action; nothing
// in the engine calls this as a side effect.
func (m *LifecycleManager) DeleteRecord(ctx context.Context, id RecordID) error {
	rec, err := m.Records.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return &ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	return m.Records.DeleteRecord(ctx, id)
}

// =============================================================================
// READ-ONLY EVALUATION
// =============================================================================

// EvaluateWaiver answers "would this card's fee be waived?" for a fee year
// without touching stored state.
func (m *LifecycleManager) EvaluateWaiver(ctx context.Context, cardID CardID, feeYear int, availablePoints decimal.Decimal) (WaiverCheck, error) {
	rec, err := m.Records.GetRecordByCardYear(ctx, cardID, feeYear)
	if err != nil {
		return WaiverCheck{}, err
	}
	if rec == nil {
		return WaiverCheck{}, &ResourceNotFoundError{Resource: "record", ID: string(cardID) + "/" + strconv.Itoa(feeYear)}
	}
	rule, err := m.Rules.GetRule(ctx, rec.RuleID)
	if err != nil {
		return WaiverCheck{}, err
	}
	if rule == nil {
		return WaiverCheck{}, &ResourceNotFoundError{Resource: "rule", ID: string(rec.RuleID)}
	}
	return Evaluate(rule, rec.CurrentProgress, availablePoints), nil
}

// CardWaiverCheck pairs a card with its evaluation result.
type CardWaiverCheck struct {
	CardID   CardID
	CardName string
	FeeYear  int
	Check    WaiverCheck
}

// EvaluateAll evaluates every card the user owns that has a record for the
// given fee year. Cards without a record for that year are skipped.
func (m *LifecycleManager) EvaluateAll(ctx context.Context, userID UserID, feeYear int, availablePoints decimal.Decimal) ([]CardWaiverCheck, error) {
	cards, err := m.Cards.CardsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var results []CardWaiverCheck
	for _, card := range cards {
		rec, err := m.Records.GetRecordByCardYear(ctx, card.ID, feeYear)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		rule, err := m.Rules.GetRule(ctx, rec.RuleID)
		if err != nil {
			return nil, err
		}
		if rule == nil {
			continue
		}
		results = append(results, CardWaiverCheck{
			CardID:   card.ID,
			CardName: card.Name,
			FeeYear:  feeYear,
			Check:    Evaluate(rule, rec.CurrentProgress, availablePoints),
		})
	}
	return results, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *LifecycleManager) loadRecordAndRule(ctx context.Context, id RecordID) (*AnnualFeeRecord, *AnnualFeeRule, error) {
	rec, err := m.Records.GetRecord(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, &ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	rule, err := m.Rules.GetRule(ctx, rec.RuleID)
	if err != nil {
		return nil, nil, err
	}
	if rule == nil {
		return nil, nil, &ResourceNotFoundError{Resource: "rule", ID: string(rec.RuleID)}
	}
	return rec, rule, nil
}
