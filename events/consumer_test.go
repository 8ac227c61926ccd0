package events_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/annualfee-engine/events"
	"github.com/warp/annualfee-engine/fee"
	"github.com/warp/annualfee-engine/fee/store"
)

func newProgressHandler(t *testing.T) (*store.Memory, events.Handler) {
	t.Helper()
	mem := store.NewMemory()
	aggregator := fee.NewProgressAggregator(mem, mem, mem)
	return mem, events.NewProgressHandler(mem, aggregator)
}

// seedCountSetup registers card-1 with a 12-swipe waiver rule and opens a
// pending record for each given fee year.
func seedCountSetup(t *testing.T, mem *store.Memory, years ...int) map[int]fee.RecordID {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.SaveCard(ctx, &fee.Card{
		ID: "card-1", UserID: "user-1", Name: "test card", Bank: "CMB", CreatedAt: now,
	}))
	require.NoError(t, mem.SaveRule(ctx, &fee.AnnualFeeRule{
		ID:        "rule-1",
		CardID:    "card-1",
		Name:      "swipe waiver",
		FeeType:   fee.FeeTransactionCount,
		BaseFee:   fee.MustMoney("200.00"),
		Condition: fee.TransactionCountCondition{Target: 12},
		CreatedAt: now,
		UpdatedAt: now,
	}))

	ids := make(map[int]fee.RecordID)
	for _, year := range years {
		id := fee.RecordID("rec-" + strconv.Itoa(year))
		require.NoError(t, mem.SaveRecord(ctx, &fee.AnnualFeeRecord{
			ID:              id,
			RuleID:          "rule-1",
			CardID:          "card-1",
			FeeYear:         year,
			BaseFee:         fee.MustMoney("200.00"),
			ActualFee:       fee.MustMoney("200.00"),
			WaiverAmount:    decimal.Zero,
			CurrentProgress: decimal.Zero,
			WaiverStatus:    fee.StatusPending,
			DueDate:         time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
			CreatedAt:       now,
			UpdatedAt:       now,
		}))
		ids[year] = id
	}
	return ids
}

func txEvent(op, id, txDate string) *events.TransactionEvent {
	return &events.TransactionEvent{
		Op:              op,
		TransactionID:   id,
		CardID:          "card-1",
		Amount:          "25.00",
		Type:            "expense",
		Status:          "completed",
		TransactionDate: txDate,
		Timestamp:       time.Now(),
	}
}

func progressOf(t *testing.T, mem *store.Memory, id fee.RecordID) decimal.Decimal {
	t.Helper()
	rec, err := mem.GetRecord(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec.CurrentProgress
}

func TestProgressHandler_Created_Increments(t *testing.T) {
	mem, handle := newProgressHandler(t)
	ids := seedCountSetup(t, mem, 2025)

	require.NoError(t, handle(context.Background(), txEvent(events.OpCreated, "tx-1", "2025-03-01")))

	assert.True(t, progressOf(t, mem, ids[2025]).Equal(decimal.NewFromInt(1)))
}

func TestProgressHandler_Updated_CrossYearMove_RecomputesBothYears(t *testing.T) {
	// GIVEN: A transaction counted toward the 2024 cycle
	// WHEN: An update moves its date into 2025
	// THEN: The 2024 record drops back to zero and 2025 picks it up

	mem, handle := newProgressHandler(t)
	ids := seedCountSetup(t, mem, 2024, 2025)
	ctx := context.Background()

	require.NoError(t, handle(ctx, txEvent(events.OpCreated, "tx-1", "2024-06-01")))
	require.True(t, progressOf(t, mem, ids[2024]).Equal(decimal.NewFromInt(1)))

	require.NoError(t, handle(ctx, txEvent(events.OpUpdated, "tx-1", "2025-06-01")))

	assert.True(t, progressOf(t, mem, ids[2024]).IsZero(), "year the transaction left")
	assert.True(t, progressOf(t, mem, ids[2025]).Equal(decimal.NewFromInt(1)))
}

func TestProgressHandler_Deleted_Recomputes(t *testing.T) {
	mem, handle := newProgressHandler(t)
	ids := seedCountSetup(t, mem, 2025)
	ctx := context.Background()

	require.NoError(t, handle(ctx, txEvent(events.OpCreated, "tx-1", "2025-03-01")))
	require.NoError(t, handle(ctx, txEvent(events.OpDeleted, "tx-1", "2025-03-01")))

	assert.True(t, progressOf(t, mem, ids[2025]).IsZero())
}

func TestProgressHandler_MalformedDate_Dropped(t *testing.T) {
	// Returning an error would requeue the payload forever.
	mem, handle := newProgressHandler(t)
	ids := seedCountSetup(t, mem, 2025)

	err := handle(context.Background(), txEvent(events.OpCreated, "tx-1", "not-a-date"))
	assert.NoError(t, err)
	assert.True(t, progressOf(t, mem, ids[2025]).IsZero())
}
