// Package store provides in-memory implementations of the fee engine's
// persistence interfaces, for testing and development.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/annualfee-engine/fee"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements RuleStore, RecordStore, TransactionSource, and
// CardDirectory backed by maps. A single mutex serializes all writes, so
// IncrementProgress honors the atomic-add contract.
type Memory struct {
	mu           sync.RWMutex
	rules        map[fee.RuleID]fee.AnnualFeeRule
	records      map[fee.RecordID]fee.AnnualFeeRecord
	cards        map[fee.CardID]fee.Card
	transactions map[fee.TransactionID]fee.CardTransaction
}

func NewMemory() *Memory {
	return &Memory{
		rules:        make(map[fee.RuleID]fee.AnnualFeeRule),
		records:      make(map[fee.RecordID]fee.AnnualFeeRecord),
		cards:        make(map[fee.CardID]fee.Card),
		transactions: make(map[fee.TransactionID]fee.CardTransaction),
	}
}

// Interface checks.
var (
	_ fee.RuleStore         = (*Memory)(nil)
	_ fee.RecordStore       = (*Memory)(nil)
	_ fee.TransactionSource = (*Memory)(nil)
	_ fee.CardDirectory     = (*Memory)(nil)
)

// =============================================================================
// RULE STORE
// =============================================================================

func (m *Memory) SaveRule(_ context.Context, rule *fee.AnnualFeeRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = *rule
	return nil
}

func (m *Memory) UpdateRule(_ context.Context, rule *fee.AnnualFeeRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[rule.ID]; !ok {
		return &fee.ResourceNotFoundError{Resource: "rule", ID: string(rule.ID)}
	}
	m.rules[rule.ID] = *rule
	return nil
}

func (m *Memory) GetRule(_ context.Context, id fee.RuleID) (*fee.AnnualFeeRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rules[id]; ok {
		out := r
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) GetRuleByCard(_ context.Context, cardID fee.CardID) (*fee.AnnualFeeRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rules {
		if r.CardID == cardID {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListRules(_ context.Context, filter fee.RuleFilter) ([]*fee.AnnualFeeRule, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*fee.AnnualFeeRule
	for _, r := range m.rules {
		if filter.FeeType != nil && r.FeeType != *filter.FeeType {
			continue
		}
		if filter.Keyword != "" && !strings.Contains(strings.ToLower(r.Name), strings.ToLower(filter.Keyword)) {
			continue
		}
		out := r
		matched = append(matched, &out)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	total := len(matched)
	return paginate(matched, filter.Page, filter.PageSize), total, nil
}

func (m *Memory) DeleteRule(_ context.Context, id fee.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return &fee.ResourceNotFoundError{Resource: "rule", ID: string(id)}
	}
	delete(m.rules, id)
	return nil
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (m *Memory) SaveRecord(_ context.Context, rec *fee.AnnualFeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.CardID == rec.CardID && existing.FeeYear == rec.FeeYear {
			return &fee.BusinessRuleError{Code: fee.CodeDuplicateRecord, Message: "record already exists for this card and fee year"}
		}
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *Memory) UpdateRecord(_ context.Context, rec *fee.AnnualFeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.records[rec.ID]
	if !ok {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(rec.ID)}
	}
	// Progress is owned by IncrementProgress/SetProgress; keep the stored
	// value so a stale read in the caller cannot clobber a concurrent add.
	updated := *rec
	updated.CurrentProgress = stored.CurrentProgress
	m.records[rec.ID] = updated
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id fee.RecordID) (*fee.AnnualFeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.records[id]; ok {
		out := r
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) GetRecordByCardYear(_ context.Context, cardID fee.CardID, feeYear int) (*fee.AnnualFeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.CardID == cardID && r.FeeYear == feeYear {
			out := r
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListRecords(_ context.Context, filter fee.RecordFilter) ([]*fee.AnnualFeeRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*fee.AnnualFeeRecord
	for _, r := range m.records {
		if filter.CardID != nil && r.CardID != *filter.CardID {
			continue
		}
		if filter.FeeYear != nil && r.FeeYear != *filter.FeeYear {
			continue
		}
		if filter.Status != nil && r.WaiverStatus != *filter.Status {
			continue
		}
		if filter.Keyword != "" {
			card, ok := m.cards[r.CardID]
			if !ok || !strings.Contains(strings.ToLower(card.Name), strings.ToLower(filter.Keyword)) {
				continue
			}
		}
		out := r
		matched = append(matched, &out)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].FeeYear != matched[j].FeeYear {
			return matched[i].FeeYear > matched[j].FeeYear
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	total := len(matched)
	return paginate(matched, filter.Page, filter.PageSize), total, nil
}

func (m *Memory) CountRecordsForRule(_ context.Context, ruleID fee.RuleID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.records {
		if r.RuleID == ruleID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) IncrementProgress(_ context.Context, id fee.RecordID, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	rec.CurrentProgress = rec.CurrentProgress.Add(delta)
	m.records[id] = rec
	return nil
}

func (m *Memory) SetProgress(_ context.Context, id fee.RecordID, progress decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	rec.CurrentProgress = progress
	m.records[id] = rec
	return nil
}

func (m *Memory) DeleteRecord(_ context.Context, id fee.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return &fee.ResourceNotFoundError{Resource: "record", ID: string(id)}
	}
	delete(m.records, id)
	return nil
}

// =============================================================================
// CARD DIRECTORY
// =============================================================================

func (m *Memory) SaveCard(_ context.Context, card *fee.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[card.ID] = *card
	return nil
}

func (m *Memory) GetCard(_ context.Context, id fee.CardID) (*fee.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cards[id]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) CardsForUser(_ context.Context, userID fee.UserID) ([]*fee.Card, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cards []*fee.Card
	for _, c := range m.cards {
		if c.UserID == userID {
			out := c
			cards = append(cards, &out)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].ID < cards[j].ID })
	return cards, nil
}

// =============================================================================
// TRANSACTION SOURCE
// =============================================================================

func (m *Memory) SaveTransaction(_ context.Context, tx *fee.CardTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = *tx
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id fee.TransactionID) (*fee.CardTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.transactions[id]; ok {
		out := t
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id fee.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[id]; !ok {
		return &fee.ResourceNotFoundError{Resource: "transaction", ID: string(id)}
	}
	delete(m.transactions, id)
	return nil
}

func (m *Memory) QualifyingTransactions(_ context.Context, cardID fee.CardID, feeYear int) ([]fee.CardTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var txs []fee.CardTransaction
	for _, t := range m.transactions {
		if t.CardID == cardID && t.FeeYear() == feeYear && t.Qualifying() {
			txs = append(txs, t)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].TransactionDate.Before(txs[j].TransactionDate) })
	return txs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func paginate[T any](items []T, page, size int) []T {
	limit := fee.PageLimit(size)
	offset := fee.PageOffset(page, size)
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
