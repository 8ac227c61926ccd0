package events

import (
	"encoding/json"
	"time"

	"github.com/warp/annualfee-engine/fee"
)

// Transaction mutation operations carried on the wire.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// TransactionEvent is published by the transaction service whenever a card
// transaction is created, edited, or deleted. It carries the full
// transaction so the fee engine does not need a read back to the producer.
type TransactionEvent struct {
	Op              string    `json:"op"` // created, updated, deleted
	TransactionID   string    `json:"transaction_id"`
	CardID          string    `json:"card_id"`
	Amount          string    `json:"amount"` // decimal string
	Type            string    `json:"type"`   // expense, income
	Status          string    `json:"status"` // completed, pending, refunded
	TransactionDate string    `json:"transaction_date"` // YYYY-MM-DD
	Timestamp       time.Time `json:"timestamp"`
}

// NewTransactionEvent builds an event from a domain transaction.
func NewTransactionEvent(op string, tx fee.CardTransaction) *TransactionEvent {
	return &TransactionEvent{
		Op:              op,
		TransactionID:   string(tx.ID),
		CardID:          string(tx.CardID),
		Amount:          tx.Amount.StringFixed(fee.MoneyScale),
		Type:            string(tx.Type),
		Status:          string(tx.Status),
		TransactionDate: tx.TransactionDate.Format("2006-01-02"),
		Timestamp:       time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON creates an event from JSON bytes.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Transaction converts the wire payload into a domain transaction.
func (e *TransactionEvent) Transaction() (fee.CardTransaction, error) {
	date, err := time.Parse("2006-01-02", e.TransactionDate)
	if err != nil {
		return fee.CardTransaction{}, &fee.ValidationError{Field: "transaction_date", Message: "must be YYYY-MM-DD"}
	}
	return fee.CardTransaction{
		ID:              fee.TransactionID(e.TransactionID),
		CardID:          fee.CardID(e.CardID),
		Amount:          fee.MustMoney(e.Amount),
		Type:            fee.TransactionType(e.Type),
		Status:          fee.TransactionStatus(e.Status),
		TransactionDate: date,
	}, nil
}
