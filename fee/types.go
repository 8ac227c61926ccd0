/*
Package fee implements the annual fee rule and waiver evaluation engine.

PURPOSE:
  This package contains the domain types and algorithms for credit card
  annual fees: how a yearly fee is defined, how progress toward a fee
  waiver accumulates as the cardholder transacts, and how a fee record
  moves through its lifecycle (pending → waived/paid/overdue).

KEY CONCEPTS IN THIS FILE (types.go):
  - FeeType: The closed set of fee rule kinds
  - WaiverCondition: Tagged union, one variant per fee type
  - AnnualFeeRule: The rule definition attached to a card
  - AnnualFeeRecord: One fee cycle for one card (unique per card + fee year)
  - CardTransaction: Read-only view of the transaction collaborator's data

DESIGN PRINCIPLES:
  1. Precision: All money and progress values use decimal.Decimal
  2. Type Safety: Strong typing for IDs; conditions are typed variants,
     never loosely validated maps
  3. Determinism: Nothing in this package reads the system clock; "now"
     is always an explicit parameter

USAGE:
  rule := fee.AnnualFeeRule{
      CardID:    "card-1",
      FeeType:   fee.FeeTransactionCount,
      BaseFee:   fee.MustMoney("200.00"),
      Condition: fee.TransactionCountCondition{Target: 12},
  }

SEE ALSO:
  - evaluate.go: Waiver eligibility decision
  - lifecycle.go: Record state machine
  - progress.go: Incremental and authoritative progress aggregation
*/
package fee

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY HELPERS
// =============================================================================

// MoneyScale is the number of decimal places carried by monetary fields.
const MoneyScale = 2

// MustMoney parses a decimal string, returning zero on failure.
// Intended for literals in configuration and tests.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney normalizes a monetary value to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RuleID string
type RecordID string
type CardID string
type UserID string
type TransactionID string

// =============================================================================
// FEE TYPE - Closed set of rule kinds
// =============================================================================

type FeeType string

const (
	// FeeRigid: fixed fee, no waiver condition exists.
	FeeRigid FeeType = "rigid"

	// FeeTransactionCount: waived after N qualifying transactions in the fee year.
	FeeTransactionCount FeeType = "transaction_count"

	// FeeTransactionAmount: waived after qualifying spend reaches a threshold.
	FeeTransactionAmount FeeType = "transaction_amount"

	// FeePointsExchange: waived by redeeming points worth base_fee * points_per_yuan.
	// The available points balance is an external input, never derived here.
	FeePointsExchange FeeType = "points_exchange"
)

// Valid reports whether ft is a member of the closed set.
func (ft FeeType) Valid() bool {
	switch ft {
	case FeeRigid, FeeTransactionCount, FeeTransactionAmount, FeePointsExchange:
		return true
	}
	return false
}

// TransactionDerived reports whether progress for this fee type is computed
// from the card's transactions.
func (ft FeeType) TransactionDerived() bool {
	return ft == FeeTransactionCount || ft == FeeTransactionAmount
}

// =============================================================================
// WAIVER CONDITION - Tagged union, one variant per fee type
// =============================================================================

// WaiverCondition is the rule-specific waiver target. Each fee type has
// exactly one variant carrying exactly the fields it needs, so there are
// no runtime "is key present" checks anywhere in the engine.
type WaiverCondition interface {
	// ConditionFeeType returns the fee type this variant belongs to.
	ConditionFeeType() FeeType

	// Validate checks variant-specific constraints.
	Validate() error
}

// RigidCondition carries no target: the fee is always due.
type RigidCondition struct{}

func (RigidCondition) ConditionFeeType() FeeType { return FeeRigid }
func (RigidCondition) Validate() error           { return nil }

// TransactionCountCondition waives the fee once the qualifying transaction
// count reaches Target. A target of zero is immediately satisfied.
type TransactionCountCondition struct {
	Target int64
}

func (TransactionCountCondition) ConditionFeeType() FeeType { return FeeTransactionCount }

func (c TransactionCountCondition) Validate() error {
	if c.Target < 0 {
		return &ValidationError{Field: "waiver_condition.target_count", Message: "target count must not be negative"}
	}
	return nil
}

// TransactionAmountCondition waives the fee once qualifying spend reaches Target.
type TransactionAmountCondition struct {
	Target decimal.Decimal
}

func (TransactionAmountCondition) ConditionFeeType() FeeType { return FeeTransactionAmount }

func (c TransactionAmountCondition) Validate() error {
	if c.Target.IsNegative() {
		return &ValidationError{Field: "waiver_condition.target_amount", Message: "target amount must not be negative"}
	}
	return nil
}

// PointsExchangeCondition waives the fee by redeeming points. The required
// points are base_fee * PointsPerYuan; the rate must be positive.
type PointsExchangeCondition struct {
	PointsPerYuan decimal.Decimal
}

func (PointsExchangeCondition) ConditionFeeType() FeeType { return FeePointsExchange }

func (c PointsExchangeCondition) Validate() error {
	if !c.PointsPerYuan.IsPositive() {
		return &ValidationError{Field: "waiver_condition.points_per_yuan", Message: "points_per_yuan must be positive"}
	}
	return nil
}

// =============================================================================
// ANNUAL FEE RULE
// =============================================================================

// AnnualFeeRule defines how a card's yearly fee is computed and waived.
// One rule per card; one rule spawns many records (one per fee year).
type AnnualFeeRule struct {
	ID      RuleID
	CardID  CardID
	Name    string
	FeeType FeeType

	// BaseFee is the full yearly fee, non-negative, two decimal places.
	BaseFee decimal.Decimal

	// Condition is the typed waiver target matching FeeType.
	Condition WaiverCondition

	// Optional calendar anchor for the yearly due date. When unset the due
	// date defaults to December 31 of the fee year. An anchor day invalid
	// for the resolved month is clamped (see calendar.go).
	AnnualFeeMonth *time.Month
	AnnualFeeDay   *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the rule's structural invariants.
func (r *AnnualFeeRule) Validate() error {
	if r.CardID == "" {
		return &ValidationError{Field: "card_id", Message: "card_id is required"}
	}
	if !r.FeeType.Valid() {
		return &ValidationError{Field: "fee_type", Message: "unknown fee type: " + string(r.FeeType)}
	}
	if r.BaseFee.IsNegative() {
		return &ValidationError{Field: "base_fee", Message: "base_fee must not be negative"}
	}
	if r.Condition == nil {
		return &ValidationError{Field: "waiver_condition", Message: "waiver condition is required"}
	}
	if r.Condition.ConditionFeeType() != r.FeeType {
		return &ValidationError{
			Field:   "waiver_condition",
			Message: "condition type " + string(r.Condition.ConditionFeeType()) + " does not match fee type " + string(r.FeeType),
		}
	}
	if err := r.Condition.Validate(); err != nil {
		return err
	}
	if r.AnnualFeeMonth != nil && (*r.AnnualFeeMonth < time.January || *r.AnnualFeeMonth > time.December) {
		return &ValidationError{Field: "annual_fee_month", Message: "month must be between 1 and 12"}
	}
	if r.AnnualFeeDay != nil && (*r.AnnualFeeDay < 1 || *r.AnnualFeeDay > 31) {
		return &ValidationError{Field: "annual_fee_day", Message: "day must be between 1 and 31"}
	}
	return nil
}

// DueDate resolves the rule's calendar anchor for the given fee year.
// Rules without an anchor fall due on December 31.
func (r *AnnualFeeRule) DueDate(feeYear int) (time.Time, error) {
	month := time.December
	day := 31
	if r.AnnualFeeMonth != nil {
		month = *r.AnnualFeeMonth
	}
	if r.AnnualFeeDay != nil {
		day = *r.AnnualFeeDay
	}
	return ResolveDueDate(feeYear, month, day)
}

// =============================================================================
// WAIVER STATUS - Record lifecycle states
// =============================================================================

type WaiverStatus string

const (
	StatusPending WaiverStatus = "pending"
	StatusWaived  WaiverStatus = "waived"
	StatusPaid    WaiverStatus = "paid"
	StatusOverdue WaiverStatus = "overdue"
)

// Valid reports whether s is a known status.
func (s WaiverStatus) Valid() bool {
	switch s {
	case StatusPending, StatusWaived, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Terminal reports whether the record has reached a final state.
// Terminal records are never re-evaluated automatically.
func (s WaiverStatus) Terminal() bool {
	return s == StatusWaived || s == StatusPaid
}

// CanTransitionTo encodes the one-way state machine:
//
//	pending → waived | paid | overdue
//	overdue → paid
//
// Everything else, including any transition out of a terminal state,
// is rejected.
func (s WaiverStatus) CanTransitionTo(next WaiverStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusWaived || next == StatusPaid || next == StatusOverdue
	case StatusOverdue:
		return next == StatusPaid
	default:
		return false
	}
}

// =============================================================================
// ANNUAL FEE RECORD
// =============================================================================

// AnnualFeeRecord is one fee cycle for one card, unique per (card, fee year).
// Progress is mutated by the ProgressAggregator; status and money by the
// LifecycleManager. Records are never hard-deleted outside an explicit
// administrative action.
type AnnualFeeRecord struct {
	ID      RecordID
	RuleID  RuleID
	CardID  CardID
	FeeYear int

	BaseFee      decimal.Decimal
	ActualFee    decimal.Decimal
	WaiverAmount decimal.Decimal

	// CurrentProgress is a count or a cumulative amount depending on the
	// rule's fee type. Monotonically non-decreasing on the incremental
	// path; authoritative recomputation may lower it.
	CurrentProgress decimal.Decimal

	WaiverStatus WaiverStatus
	DueDate      time.Time

	// PaymentDate is set only when the record transitions to paid.
	PaymentDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MoneyBalanced reports the terminal-state invariant:
// actual_fee + waiver_amount == base_fee, exact decimal equality.
func (rec *AnnualFeeRecord) MoneyBalanced() bool {
	return rec.ActualFee.Add(rec.WaiverAmount).Equal(rec.BaseFee)
}

// =============================================================================
// EXTERNAL COLLABORATOR VIEWS - Cards and transactions
// =============================================================================

// Card is the engine's read-only view of the card collaborator's data.
type Card struct {
	ID        CardID
	UserID    UserID
	Name      string
	Bank      string
	CreatedAt time.Time
}

type TransactionType string

const (
	TxExpense TransactionType = "expense"
	TxIncome  TransactionType = "income"
)

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxPending   TransactionStatus = "pending"
	TxRefunded  TransactionStatus = "refunded"
)

// CardTransaction is the engine's view of one transaction event. The engine
// never owns or mutates transactions; it only counts and sums them.
type CardTransaction struct {
	ID              TransactionID
	CardID          CardID
	Amount          decimal.Decimal
	Type            TransactionType
	Status          TransactionStatus
	TransactionDate time.Time
}

// Qualifying reports whether the transaction counts toward waiver progress:
// a completed expense. The fee-year check happens against the record.
func (t CardTransaction) Qualifying() bool {
	return t.Type == TxExpense && t.Status == TxCompleted
}

// FeeYear returns the calendar year the transaction belongs to.
func (t CardTransaction) FeeYear() int {
	return t.TransactionDate.Year()
}
