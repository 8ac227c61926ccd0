/*
Package factory provides JSON to Go rule conversion.

PURPOSE:
  Converts JSON annual fee rule definitions into fee.AnnualFeeRule
  objects. This enables rule configuration without code changes - product
  can define card fee rules in JSON, and the factory creates the proper
  Go structs with the right typed waiver condition.

WHY JSON?
  - Non-developers can modify rules
  - Easy integration with admin UI
  - Version control for rule definitions
  - API request/response payloads share the same shape

JSON SCHEMA:
  {
    "id": "rule-cmb-gold",
    "card_id": "card-123",
    "name": "CMB Gold annual fee",
    "fee_type": "transaction_count",
    "base_fee": "200.00",
    "condition": {
      "target_count": 12
    },
    "annual_fee_month": 6,
    "annual_fee_day": 15
  }

  The condition key that must be present depends on fee_type:
    rigid:              no condition keys
    transaction_count:  target_count
    transaction_amount: target_amount  (decimal string)
    points_exchange:    points_per_yuan (decimal string)

KEY FEATURES:
  - Validates JSON structure and fee-type/condition pairing
  - Decimal fields travel as strings, never floats
  - Optional annual fee anchor (month/day); due dates clamp per calendar

USAGE:
  factory := NewRuleFactory()

  // From JSON string
  rule, err := factory.ParseRule(jsonString)

  // From preset (recommended)
  jsonStr := factory.TransactionCountRuleJSON("card-123", "CMB Gold", "200.00", 12)
  rule, err := factory.ParseRule(jsonStr)

SEE ALSO:
  - fee/types.go: AnnualFeeRule and WaiverCondition definitions
  - api/dto.go: HTTP payloads reuse ConditionJSON
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/annualfee-engine/fee"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of an annual fee rule.
type RuleJSON struct {
	ID             string        `json:"id,omitempty"`
	CardID         string        `json:"card_id"`
	Name           string        `json:"name"`
	FeeType        string        `json:"fee_type"`
	BaseFee        string        `json:"base_fee"`
	Condition      ConditionJSON `json:"condition,omitempty"`
	AnnualFeeMonth *int          `json:"annual_fee_month,omitempty"` // Month 1-12
	AnnualFeeDay   *int          `json:"annual_fee_day,omitempty"`   // Day 1-31
}

// ConditionJSON carries the waiver condition fields. Exactly the keys
// matching the fee type may be set; the rest stay nil.
type ConditionJSON struct {
	TargetCount   *int64  `json:"target_count,omitempty"`
	TargetAmount  *string `json:"target_amount,omitempty"`
	PointsPerYuan *string `json:"points_per_yuan,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to Go structs.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into an AnnualFeeRule.
func (f *RuleFactory) ParseRule(jsonStr string) (*fee.AnnualFeeRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleJSON to a fee.AnnualFeeRule. The returned rule
// passes fee validation; callers still own ID assignment and timestamps
// when the JSON omits them.
func (f *RuleFactory) FromJSON(rj RuleJSON) (*fee.AnnualFeeRule, error) {
	feeType := fee.FeeType(rj.FeeType)
	if !feeType.Valid() {
		return nil, &fee.ValidationError{Field: "fee_type", Message: fmt.Sprintf("unknown fee type: %s", rj.FeeType)}
	}

	baseFee, err := decimal.NewFromString(rj.BaseFee)
	if err != nil {
		return nil, &fee.ValidationError{Field: "base_fee", Message: "base_fee must be a decimal string"}
	}

	cond, err := ParseCondition(feeType, rj.Condition)
	if err != nil {
		return nil, err
	}

	rule := &fee.AnnualFeeRule{
		ID:        fee.RuleID(rj.ID),
		CardID:    fee.CardID(rj.CardID),
		Name:      rj.Name,
		FeeType:   feeType,
		BaseFee:   fee.RoundMoney(baseFee),
		Condition: cond,
	}

	if rj.AnnualFeeMonth != nil {
		m := time.Month(*rj.AnnualFeeMonth)
		rule.AnnualFeeMonth = &m
	}
	if rj.AnnualFeeDay != nil {
		d := *rj.AnnualFeeDay
		rule.AnnualFeeDay = &d
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// ParseCondition builds the typed condition for a fee type from the
// flat JSON fields. Mismatched or missing fields fail validation.
func ParseCondition(feeType fee.FeeType, cj ConditionJSON) (fee.WaiverCondition, error) {
	switch feeType {
	case fee.FeeRigid:
		return fee.RigidCondition{}, nil

	case fee.FeeTransactionCount:
		if cj.TargetCount == nil {
			return nil, &fee.ValidationError{Field: "condition.target_count", Message: "required for transaction_count rules"}
		}
		return fee.TransactionCountCondition{Target: *cj.TargetCount}, nil

	case fee.FeeTransactionAmount:
		if cj.TargetAmount == nil {
			return nil, &fee.ValidationError{Field: "condition.target_amount", Message: "required for transaction_amount rules"}
		}
		target, err := decimal.NewFromString(*cj.TargetAmount)
		if err != nil {
			return nil, &fee.ValidationError{Field: "condition.target_amount", Message: "must be a decimal string"}
		}
		return fee.TransactionAmountCondition{Target: target}, nil

	case fee.FeePointsExchange:
		if cj.PointsPerYuan == nil {
			return nil, &fee.ValidationError{Field: "condition.points_per_yuan", Message: "required for points_exchange rules"}
		}
		rate, err := decimal.NewFromString(*cj.PointsPerYuan)
		if err != nil {
			return nil, &fee.ValidationError{Field: "condition.points_per_yuan", Message: "must be a decimal string"}
		}
		return fee.PointsExchangeCondition{PointsPerYuan: rate}, nil

	default:
		return nil, &fee.ValidationError{Field: "fee_type", Message: fmt.Sprintf("unknown fee type: %s", feeType)}
	}
}

// ConditionToJSON flattens a typed condition back into JSON fields.
func ConditionToJSON(cond fee.WaiverCondition) ConditionJSON {
	var cj ConditionJSON
	switch c := cond.(type) {
	case fee.TransactionCountCondition:
		n := c.Target
		cj.TargetCount = &n
	case fee.TransactionAmountCondition:
		s := c.Target.String()
		cj.TargetAmount = &s
	case fee.PointsExchangeCondition:
		s := c.PointsPerYuan.String()
		cj.PointsPerYuan = &s
	}
	return cj
}

// ToJSON converts an AnnualFeeRule to RuleJSON.
func (f *RuleFactory) ToJSON(rule *fee.AnnualFeeRule) RuleJSON {
	rj := RuleJSON{
		ID:        string(rule.ID),
		CardID:    string(rule.CardID),
		Name:      rule.Name,
		FeeType:   string(rule.FeeType),
		BaseFee:   rule.BaseFee.StringFixed(fee.MoneyScale),
		Condition: ConditionToJSON(rule.Condition),
	}
	if rule.AnnualFeeMonth != nil {
		m := int(*rule.AnnualFeeMonth)
		rj.AnnualFeeMonth = &m
	}
	if rule.AnnualFeeDay != nil {
		d := *rule.AnnualFeeDay
		rj.AnnualFeeDay = &d
	}
	return rj
}

// =============================================================================
// PRESET RULES
// =============================================================================
//
// Convenience builders for the common rule shapes. They return JSON
// strings so they compose with ParseRule and with seeding scripts.

// RigidRuleJSON builds a rule that is never waived.
func (f *RuleFactory) RigidRuleJSON(cardID, name, baseFee string) string {
	rj := RuleJSON{
		CardID:  cardID,
		Name:    name,
		FeeType: string(fee.FeeRigid),
		BaseFee: baseFee,
	}
	b, _ := json.Marshal(rj)
	return string(b)
}

// TransactionCountRuleJSON builds a swipe-count waiver rule.
func (f *RuleFactory) TransactionCountRuleJSON(cardID, name, baseFee string, targetCount int64) string {
	rj := RuleJSON{
		CardID:    cardID,
		Name:      name,
		FeeType:   string(fee.FeeTransactionCount),
		BaseFee:   baseFee,
		Condition: ConditionJSON{TargetCount: &targetCount},
	}
	b, _ := json.Marshal(rj)
	return string(b)
}

// TransactionAmountRuleJSON builds a cumulative-spend waiver rule.
func (f *RuleFactory) TransactionAmountRuleJSON(cardID, name, baseFee, targetAmount string) string {
	rj := RuleJSON{
		CardID:    cardID,
		Name:      name,
		FeeType:   string(fee.FeeTransactionAmount),
		BaseFee:   baseFee,
		Condition: ConditionJSON{TargetAmount: &targetAmount},
	}
	b, _ := json.Marshal(rj)
	return string(b)
}

// PointsExchangeRuleJSON builds a points-redemption waiver rule.
func (f *RuleFactory) PointsExchangeRuleJSON(cardID, name, baseFee, pointsPerYuan string) string {
	rj := RuleJSON{
		CardID:    cardID,
		Name:      name,
		FeeType:   string(fee.FeePointsExchange),
		BaseFee:   baseFee,
		Condition: ConditionJSON{PointsPerYuan: &pointsPerYuan},
	}
	b, _ := json.Marshal(rj)
	return string(b)
}
