/*
stats.go - Fee statistics rollups

PURPOSE:
  Read-only aggregation over the records the LifecycleManager persists:
  per-status counts and money, waiver rate, and distributions by bank and
  fee type for a user's cards. No side effects.

NUMERIC SEMANTICS:
  WaiverRate = waived amount / total base fee, in decimal. A user with a
  zero base-fee total gets a rate of exactly zero, never a division error.
*/
package fee

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATISTICS TYPES
// =============================================================================

// StatusBucket aggregates the records in one waiver status.
type StatusBucket struct {
	Count        int
	BaseFee      decimal.Decimal
	ActualFee    decimal.Decimal
	WaiverAmount decimal.Decimal
}

// Statistics is the per-user fee rollup for a fee year (or all years).
type Statistics struct {
	UserID       UserID
	FeeYear      *int // nil = all years
	TotalRules   int
	TotalRecords int

	ByStatus  map[WaiverStatus]StatusBucket
	ByBank    map[string]int
	ByFeeType map[FeeType]int

	TotalBaseFee decimal.Decimal
	TotalWaived  decimal.Decimal
	TotalPaid    decimal.Decimal
	WaiverRate   decimal.Decimal
}

// =============================================================================
// STATISTICS AGGREGATOR
// =============================================================================

// StatisticsAggregator rolls records up across a user's cards.
type StatisticsAggregator struct {
	Rules   RuleStore
	Records RecordStore
	Cards   CardDirectory
}

// NewStatisticsAggregator wires an aggregator over the given stores.
func NewStatisticsAggregator(rules RuleStore, records RecordStore, cards CardDirectory) *StatisticsAggregator {
	return &StatisticsAggregator{Rules: rules, Records: records, Cards: cards}
}

// Statistics computes the rollup for one user, optionally restricted to a
// single fee year.
func (s *StatisticsAggregator) Statistics(ctx context.Context, userID UserID, feeYear *int) (*Statistics, error) {
	cards, err := s.Cards.CardsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		UserID:       userID,
		FeeYear:      feeYear,
		ByStatus:     make(map[WaiverStatus]StatusBucket),
		ByBank:       make(map[string]int),
		ByFeeType:    make(map[FeeType]int),
		TotalBaseFee: decimal.Zero,
		TotalWaived:  decimal.Zero,
		TotalPaid:    decimal.Zero,
		WaiverRate:   decimal.Zero,
	}

	for _, card := range cards {
		rule, err := s.Rules.GetRuleByCard(ctx, card.ID)
		if err != nil {
			return nil, err
		}
		if rule != nil {
			stats.TotalRules++
			stats.ByFeeType[rule.FeeType]++
		}

		// Page through every record; a rollup must never truncate.
		for page := 1; ; page++ {
			filter := RecordFilter{CardID: &card.ID, FeeYear: feeYear, Page: page, PageSize: 200}
			recs, _, err := s.Records.ListRecords(ctx, filter)
			if err != nil {
				return nil, err
			}
			if len(recs) == 0 {
				break
			}

			for _, rec := range recs {
				stats.TotalRecords++
				stats.ByBank[card.Bank]++

				bucket := stats.ByStatus[rec.WaiverStatus]
				bucket.Count++
				bucket.BaseFee = bucket.BaseFee.Add(rec.BaseFee)
				bucket.ActualFee = bucket.ActualFee.Add(rec.ActualFee)
				bucket.WaiverAmount = bucket.WaiverAmount.Add(rec.WaiverAmount)
				stats.ByStatus[rec.WaiverStatus] = bucket

				stats.TotalBaseFee = stats.TotalBaseFee.Add(rec.BaseFee)
				switch rec.WaiverStatus {
				case StatusWaived:
					stats.TotalWaived = stats.TotalWaived.Add(rec.WaiverAmount)
				case StatusPaid:
					stats.TotalPaid = stats.TotalPaid.Add(rec.ActualFee)
					// Partial waivers still count toward the waived total.
					stats.TotalWaived = stats.TotalWaived.Add(rec.WaiverAmount)
				}
			}
		}
	}

	if stats.TotalBaseFee.IsPositive() {
		stats.WaiverRate = stats.TotalWaived.Div(stats.TotalBaseFee)
	}
	return stats, nil
}
