/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DECIMAL FIELDS:
  All monetary and progress values travel as decimal strings ("200.00"),
  never JSON numbers. Clients that parse them as floats do so at their
  own risk.

VALIDATION:
  Validation is done in handlers and the fee package, not in DTOs. DTOs
  are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON / ConditionJSON shapes reused here
*/
package api

import (
	"time"

	"github.com/warp/annualfee-engine/factory"
	"github.com/warp/annualfee-engine/fee"
)

// =============================================================================
// CARD TYPES
// =============================================================================

// CardDTO represents a card in API responses.
type CardDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Bank      string `json:"bank,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateCardRequest is the request to register a card.
type CreateCardRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Bank   string `json:"bank,omitempty"`
}

// =============================================================================
// RULE TYPES
// =============================================================================

// RuleDTO represents an annual fee rule in API responses.
type RuleDTO struct {
	factory.RuleJSON
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// CreateRuleRequest is the request to create a rule.
type CreateRuleRequest = factory.RuleJSON

// UpdateRuleRequest is a partial rule update. Omitted fields are left
// untouched; a present condition replaces the whole condition.
type UpdateRuleRequest struct {
	Name           *string                `json:"name,omitempty"`
	FeeType        *string                `json:"fee_type,omitempty"`
	BaseFee        *string                `json:"base_fee,omitempty"`
	Condition      *factory.ConditionJSON `json:"condition,omitempty"`
	AnnualFeeMonth *int                   `json:"annual_fee_month,omitempty"`
	AnnualFeeDay   *int                   `json:"annual_fee_day,omitempty"`
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// RecordDTO represents an annual fee record in API responses.
type RecordDTO struct {
	ID              string  `json:"id"`
	RuleID          string  `json:"rule_id"`
	CardID          string  `json:"card_id"`
	FeeYear         int     `json:"fee_year"`
	BaseFee         string  `json:"base_fee"`
	ActualFee       string  `json:"actual_fee"`
	WaiverAmount    string  `json:"waiver_amount"`
	CurrentProgress string  `json:"current_progress"`
	WaiverStatus    string  `json:"waiver_status"`
	DueDate         string  `json:"due_date"`
	PaymentDate     *string `json:"payment_date,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// CreateRecordRequest opens the fee cycle for a card and fee year.
type CreateRecordRequest struct {
	CardID  string `json:"card_id"`
	FeeYear int    `json:"fee_year"`
}

// UpdateRecordRequest is a partial record update.
type UpdateRecordRequest struct {
	ActualFee    *string `json:"actual_fee,omitempty"`
	WaiverAmount *string `json:"waiver_amount,omitempty"`
	WaiverStatus *string `json:"waiver_status,omitempty"`
	PaymentDate  *string `json:"payment_date,omitempty"` // YYYY-MM-DD
}

// PaymentRequest records a manual fee payment.
type PaymentRequest struct {
	PaymentDate string `json:"payment_date"` // YYYY-MM-DD, defaults to today
}

// EvaluateRequest triggers waiver evaluation on a record.
type EvaluateRequest struct {
	AvailablePoints string `json:"available_points,omitempty"` // decimal string
}

// OverdueRequest runs the overdue check with an explicit clock.
type OverdueRequest struct {
	Now             string `json:"now,omitempty"` // YYYY-MM-DD, defaults to today
	AvailablePoints string `json:"available_points,omitempty"`
}

// =============================================================================
// WAIVER CHECK TYPES
// =============================================================================

// WaiverCheckDTO is the evaluation verdict for one record.
type WaiverCheckDTO struct {
	Eligible   bool   `json:"eligible"`
	Current    string `json:"current"`
	Target     string `json:"target"`
	Percentage string `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

// CardWaiverCheckDTO pairs a card with its evaluation verdict.
type CardWaiverCheckDTO struct {
	CardID   string         `json:"card_id"`
	CardName string         `json:"card_name"`
	FeeYear  int            `json:"fee_year"`
	Check    WaiverCheckDTO `json:"check"`
}

// =============================================================================
// STATISTICS TYPES
// =============================================================================

// StatusBucketDTO aggregates the records in one waiver status.
type StatusBucketDTO struct {
	Count        int    `json:"count"`
	BaseFee      string `json:"base_fee"`
	ActualFee    string `json:"actual_fee"`
	WaiverAmount string `json:"waiver_amount"`
}

// StatisticsDTO is the per-user fee rollup.
type StatisticsDTO struct {
	UserID       string                     `json:"user_id"`
	FeeYear      *int                       `json:"fee_year,omitempty"`
	TotalRules   int                        `json:"total_rules"`
	TotalRecords int                        `json:"total_records"`
	ByStatus     map[string]StatusBucketDTO `json:"by_status"`
	ByBank       map[string]int             `json:"by_bank"`
	ByFeeType    map[string]int             `json:"by_fee_type"`
	TotalBaseFee string                     `json:"total_base_fee"`
	TotalWaived  string                     `json:"total_waived"`
	TotalPaid    string                     `json:"total_paid"`
	WaiverRate   string                     `json:"waiver_rate"`
}

// =============================================================================
// TRANSACTION HOOK TYPES
// =============================================================================

// TransactionRequest is the synchronous alternative to the AMQP stream:
// the transaction service POSTs mutations here.
type TransactionRequest struct {
	ID              string `json:"id"`
	CardID          string `json:"card_id"`
	Amount          string `json:"amount"` // decimal string
	Type            string `json:"type"`   // expense, income
	Status          string `json:"status"` // completed, pending, refunded
	TransactionDate string `json:"transaction_date"` // YYYY-MM-DD
}

// RecomputeRequest forces the authoritative progress recompute.
type RecomputeRequest struct {
	CardID  string `json:"card_id"`
	FeeYear int    `json:"fee_year"`
}

// ProgressDTO reports a record's progress after a recompute.
type ProgressDTO struct {
	CardID          string `json:"card_id"`
	FeeYear         int    `json:"fee_year"`
	CurrentProgress string `json:"current_progress"`
}

// =============================================================================
// COMMON TYPES
// =============================================================================

// ListResponse wraps a page of items with the unpaged total.
type ListResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toCardDTO(c *fee.Card) CardDTO {
	return CardDTO{
		ID:        string(c.ID),
		UserID:    string(c.UserID),
		Name:      c.Name,
		Bank:      c.Bank,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func toRuleDTO(f *factory.RuleFactory, rule *fee.AnnualFeeRule) RuleDTO {
	return RuleDTO{
		RuleJSON:  f.ToJSON(rule),
		CreatedAt: rule.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rule.UpdatedAt.Format(time.RFC3339),
	}
}

func toRecordDTO(rec *fee.AnnualFeeRecord) RecordDTO {
	dto := RecordDTO{
		ID:              string(rec.ID),
		RuleID:          string(rec.RuleID),
		CardID:          string(rec.CardID),
		FeeYear:         rec.FeeYear,
		BaseFee:         rec.BaseFee.StringFixed(fee.MoneyScale),
		ActualFee:       rec.ActualFee.StringFixed(fee.MoneyScale),
		WaiverAmount:    rec.WaiverAmount.StringFixed(fee.MoneyScale),
		CurrentProgress: rec.CurrentProgress.String(),
		WaiverStatus:    string(rec.WaiverStatus),
		DueDate:         rec.DueDate.Format("2006-01-02"),
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
	}
	if rec.PaymentDate != nil {
		s := rec.PaymentDate.Format("2006-01-02")
		dto.PaymentDate = &s
	}
	return dto
}

func toWaiverCheckDTO(check fee.WaiverCheck) WaiverCheckDTO {
	return WaiverCheckDTO{
		Eligible:   check.Eligible,
		Current:    check.Current.String(),
		Target:     check.Target.String(),
		Percentage: check.Percentage.Round(4).String(),
		Message:    check.Message,
	}
}

func toStatisticsDTO(stats *fee.Statistics) StatisticsDTO {
	dto := StatisticsDTO{
		UserID:       string(stats.UserID),
		FeeYear:      stats.FeeYear,
		TotalRules:   stats.TotalRules,
		TotalRecords: stats.TotalRecords,
		ByStatus:     make(map[string]StatusBucketDTO),
		ByBank:       stats.ByBank,
		ByFeeType:    make(map[string]int),
		TotalBaseFee: stats.TotalBaseFee.StringFixed(fee.MoneyScale),
		TotalWaived:  stats.TotalWaived.StringFixed(fee.MoneyScale),
		TotalPaid:    stats.TotalPaid.StringFixed(fee.MoneyScale),
		WaiverRate:   stats.WaiverRate.Round(4).String(),
	}
	for status, bucket := range stats.ByStatus {
		dto.ByStatus[string(status)] = StatusBucketDTO{
			Count:        bucket.Count,
			BaseFee:      bucket.BaseFee.StringFixed(fee.MoneyScale),
			ActualFee:    bucket.ActualFee.StringFixed(fee.MoneyScale),
			WaiverAmount: bucket.WaiverAmount.StringFixed(fee.MoneyScale),
		}
	}
	for ft, n := range stats.ByFeeType {
		dto.ByFeeType[string(ft)] = n
	}
	return dto
}
