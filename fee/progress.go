/*
progress.go - Waiver progress aggregation

PURPOSE:
  Produces the value compared against a rule's waiver target. Two paths,
  both required:

  INCREMENTAL (fast path):
    On a new qualifying transaction, add 1 (count rules) or the amount
    (spend rules) to the open record via a single-row atomic increment.
    Called synchronously from the transaction-created hook.

  AUTHORITATIVE RECOMPUTE (correctness backstop):
    Re-derive progress from scratch by scanning the (card, fee year)'s
    qualifying transactions and overwriting the stored value. Invoked
    after any transaction deletion or edit, idempotent, safe to call at
    any time. Drift from the incremental path never accumulates past the
    next recompute.

POLICY:
  Recompute updates current_progress even on terminal records, but never
  changes status: a deleted transaction does not silently reopen an
  already-waived record. Only pending records are re-evaluated
  automatically, by the LifecycleManager.

SEE ALSO:
  - store.go: IncrementProgress / SetProgress contract
  - lifecycle.go: Decides whether a status change follows
*/
package fee

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProgressAggregator maintains current_progress on annual fee records.
type ProgressAggregator struct {
	Rules        RuleStore
	Records      RecordStore
	Transactions TransactionSource
}

// NewProgressAggregator wires an aggregator over the given stores.
func NewProgressAggregator(rules RuleStore, records RecordStore, txs TransactionSource) *ProgressAggregator {
	return &ProgressAggregator{Rules: rules, Records: records, Transactions: txs}
}

// ApplyTransaction is the incremental path. It is deliberately forgiving:
// non-qualifying transactions, fee years without an open record, terminal
// records, and non-transaction-derived rules all result in a silent skip,
// never an error. The caller does not need to know the card's rule setup.
func (a *ProgressAggregator) ApplyTransaction(ctx context.Context, tx CardTransaction) error {
	if !tx.Qualifying() {
		return nil
	}

	rec, err := a.Records.GetRecordByCardYear(ctx, tx.CardID, tx.FeeYear())
	if err != nil {
		return err
	}
	if rec == nil || rec.WaiverStatus.Terminal() {
		return nil
	}

	rule, err := a.Rules.GetRule(ctx, rec.RuleID)
	if err != nil {
		return err
	}
	if rule == nil || !rule.FeeType.TransactionDerived() {
		return nil
	}

	delta := decimal.NewFromInt(1)
	if rule.FeeType == FeeTransactionAmount {
		delta = tx.Amount
	}
	return a.Records.IncrementProgress(ctx, rec.ID, delta)
}

// Recompute is the authoritative path: it overwrites current_progress with
// a value derived from the full qualifying set, and returns that value.
// Missing records are a no-op (zero, nil) so mutation hooks can fire
// unconditionally. The record's status is never touched here.
func (a *ProgressAggregator) Recompute(ctx context.Context, cardID CardID, feeYear int) (decimal.Decimal, error) {
	rec, err := a.Records.GetRecordByCardYear(ctx, cardID, feeYear)
	if err != nil {
		return decimal.Zero, err
	}
	if rec == nil {
		return decimal.Zero, nil
	}

	rule, err := a.Rules.GetRule(ctx, rec.RuleID)
	if err != nil {
		return decimal.Zero, err
	}
	if rule == nil {
		return decimal.Zero, &ResourceNotFoundError{Resource: "rule", ID: string(rec.RuleID)}
	}
	if !rule.FeeType.TransactionDerived() {
		return rec.CurrentProgress, nil
	}

	txs, err := a.Transactions.QualifyingTransactions(ctx, cardID, feeYear)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, tx := range txs {
		if rule.FeeType == FeeTransactionCount {
			total = total.Add(decimal.NewFromInt(1))
		} else {
			total = total.Add(tx.Amount)
		}
	}

	if err := a.Records.SetProgress(ctx, rec.ID, total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
