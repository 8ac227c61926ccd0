/*
store.go - Persistence interfaces for rules, records, and collaborators

PURPOSE:
  Defines the boundary between the engine and the datastore. Rules are
  read-mostly after creation; records are the shared mutable resource,
  written only by the LifecycleManager (status, money) and the
  ProgressAggregator (progress).

CONCURRENCY CONTRACT:
  IncrementProgress MUST be a single-row atomic add - never a
  read-modify-write across a round trip. Two near-simultaneous
  transaction events on the same (card, fee year) record must both land.
  SetProgress overwrites; it is the authoritative-recompute write and is
  idempotent, so it may race with readers, which tolerate momentarily
  stale progress.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - fee/store/memory.go:    In-memory for testing

SEE ALSO:
  - progress.go: Uses IncrementProgress and SetProgress
  - lifecycle.go: Uses the record CRUD surface
*/
package fee

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FILTERS AND PAGINATION
// =============================================================================

// RuleFilter narrows rule listings. Zero values match everything.
type RuleFilter struct {
	FeeType *FeeType
	Keyword string // matched against the rule name
	Page    int    // 1-based; 0 means first page
	PageSize int
}

// RecordFilter narrows record listings. Zero values match everything.
type RecordFilter struct {
	CardID   *CardID
	FeeYear  *int
	Status   *WaiverStatus
	Keyword  string // matched against the card name
	Page     int
	PageSize int
}

// PageLimit returns the effective page size with a sane default and cap.
func PageLimit(size int) int {
	if size <= 0 {
		return 20
	}
	if size > 200 {
		return 200
	}
	return size
}

// PageOffset computes the row offset for a 1-based page.
func PageOffset(page, size int) int {
	if page <= 1 {
		return 0
	}
	return (page - 1) * PageLimit(size)
}

// =============================================================================
// RULE STORE
// =============================================================================

// RuleStore persists annual fee rule definitions.
// Get methods return (nil, nil) when the rule does not exist.
type RuleStore interface {
	// SaveRule inserts a new rule. Fails if the ID already exists.
	SaveRule(ctx context.Context, rule *AnnualFeeRule) error

	// UpdateRule overwrites an existing rule.
	UpdateRule(ctx context.Context, rule *AnnualFeeRule) error

	// GetRule retrieves a rule by ID.
	GetRule(ctx context.Context, id RuleID) (*AnnualFeeRule, error)

	// GetRuleByCard retrieves the rule attached to a card.
	GetRuleByCard(ctx context.Context, cardID CardID) (*AnnualFeeRule, error)

	// ListRules returns a page of rules plus the unpaged total.
	ListRules(ctx context.Context, filter RuleFilter) ([]*AnnualFeeRule, int, error)

	// DeleteRule removes a rule. Referential protection is enforced by the
	// caller via RecordStore.CountRecordsForRule.
	DeleteRule(ctx context.Context, id RuleID) error
}

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore persists annual fee records.
// Get methods return (nil, nil) when the record does not exist.
type RecordStore interface {
	// SaveRecord inserts a new record. Fails on a duplicate (card, fee year).
	SaveRecord(ctx context.Context, rec *AnnualFeeRecord) error

	// UpdateRecord overwrites status, money, and payment fields.
	UpdateRecord(ctx context.Context, rec *AnnualFeeRecord) error

	// GetRecord retrieves a record by ID.
	GetRecord(ctx context.Context, id RecordID) (*AnnualFeeRecord, error)

	// GetRecordByCardYear retrieves the unique record for (card, fee year).
	GetRecordByCardYear(ctx context.Context, cardID CardID, feeYear int) (*AnnualFeeRecord, error)

	// ListRecords returns a page of records plus the unpaged total.
	ListRecords(ctx context.Context, filter RecordFilter) ([]*AnnualFeeRecord, int, error)

	// CountRecordsForRule reports how many records reference a rule.
	CountRecordsForRule(ctx context.Context, ruleID RuleID) (int, error)

	// IncrementProgress atomically adds delta to current_progress.
	// Single-row atomic add; see the concurrency contract above.
	IncrementProgress(ctx context.Context, id RecordID, delta decimal.Decimal) error

	// SetProgress overwrites current_progress with an authoritative value.
	SetProgress(ctx context.Context, id RecordID, progress decimal.Decimal) error

	// DeleteRecord removes a record. Explicit administrative action only.
	DeleteRecord(ctx context.Context, id RecordID) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// TransactionSource is the query side of the transaction collaborator:
// the qualifying set (completed expenses) for a card within a fee year.
type TransactionSource interface {
	QualifyingTransactions(ctx context.Context, cardID CardID, feeYear int) ([]CardTransaction, error)
}

// CardDirectory is the card collaborator: existence/ownership checks and
// card metadata for statistics grouping.
// GetCard returns (nil, nil) when the card does not exist.
type CardDirectory interface {
	GetCard(ctx context.Context, id CardID) (*Card, error)
	CardsForUser(ctx context.Context, userID UserID) ([]*Card, error)
}
