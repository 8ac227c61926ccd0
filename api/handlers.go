/*
handlers.go - HTTP API handlers for the annual fee engine

PURPOSE:
  Exposes the fee rule and waiver engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Cards:
    GET    /api/cards                  List a user's cards (?user_id=)
    POST   /api/cards                  Register a card
    GET    /api/cards/{id}             Get card details

  Rules:
    GET    /api/rules                  List rules (filter, paginate)
    POST   /api/rules                  Create rule
    GET    /api/rules/{id}             Get rule
    PUT    /api/rules/{id}             Partial update
    DELETE /api/rules/{id}             Delete (blocked while referenced)

  Records:
    GET    /api/records                List records (filter, paginate)
    POST   /api/records                Open fee cycle for (card, year)
    GET    /api/records/{id}           Get record
    PUT    /api/records/{id}           Partial update (guarded transitions)
    DELETE /api/records/{id}           Delete record
    POST   /api/records/{id}/payment   Record manual payment
    POST   /api/records/{id}/evaluate  Evaluate and apply waiver
    POST   /api/records/{id}/overdue   Overdue check with explicit clock

  Waivers:
    GET    /api/waivers/check          Read-only eligibility for one card
    GET    /api/waivers/evaluate-all   Read-only eligibility across a user

  Statistics:
    GET    /api/statistics             Per-user rollup (?user_id=&fee_year=)

  Transaction hooks (synchronous alternative to the AMQP stream):
    POST   /api/transactions           Created: incremental progress
    PUT    /api/transactions/{id}      Updated: authoritative recompute
    DELETE /api/transactions/{id}      Deleted: authoritative recompute
    POST   /api/transactions/recompute Force recompute for (card, year)

ERROR HANDLING:
  Domain errors map to HTTP status by taxonomy:
  - 400: fee.ValidationError (malformed input, bad fields)
  - 404: fee.ResourceNotFoundError
  - 409: fee.BusinessRuleError (duplicates, illegal transitions)
  - 500: everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - events/consumer.go: The asynchronous ingestion path
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/annualfee-engine/factory"
	"github.com/warp/annualfee-engine/fee"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is the full persistence surface the API needs. Satisfied by both
// the SQLite store and the in-memory store.
type Store interface {
	fee.RuleStore
	fee.RecordStore
	fee.TransactionSource
	fee.CardDirectory

	SaveCard(ctx context.Context, card *fee.Card) error
	SaveTransaction(ctx context.Context, tx *fee.CardTransaction) error
	GetTransaction(ctx context.Context, id fee.TransactionID) (*fee.CardTransaction, error)
	DeleteTransaction(ctx context.Context, id fee.TransactionID) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Store
	Lifecycle   *fee.LifecycleManager
	Progress    *fee.ProgressAggregator
	Stats       *fee.StatisticsAggregator
	RuleFactory *factory.RuleFactory
}

// NewHandler creates a new handler with the given store.
func NewHandler(store Store) *Handler {
	return &Handler{
		Store:       store,
		Lifecycle:   fee.NewLifecycleManager(store, store, store),
		Progress:    fee.NewProgressAggregator(store, store, store),
		Stats:       fee.NewStatisticsAggregator(store, store, store),
		RuleFactory: factory.NewRuleFactory(),
	}
}

// =============================================================================
// CARD HANDLERS
// =============================================================================

// ListCards returns a user's cards.
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required", nil)
		return
	}

	cards, err := h.Store.CardsForUser(r.Context(), fee.UserID(userID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CardDTO, len(cards))
	for i, c := range cards {
		dtos[i] = toCardDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCard returns a single card.
func (h *Handler) GetCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	card, err := h.Store.GetCard(r.Context(), fee.CardID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if card == nil {
		writeError(w, http.StatusNotFound, "Card not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toCardDTO(card))
}

// CreateCard registers a card.
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	var req CreateCardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.UserID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id, user_id, and name are required", nil)
		return
	}

	card := &fee.Card{
		ID:        fee.CardID(req.ID),
		UserID:    fee.UserID(req.UserID),
		Name:      req.Name,
		Bank:      req.Bank,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SaveCard(r.Context(), card); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCardDTO(card))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns a page of rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := fee.RuleFilter{
		Keyword:  q.Get("keyword"),
		Page:     intQuery(q.Get("page"), 1),
		PageSize: intQuery(q.Get("page_size"), 0),
	}
	if s := q.Get("fee_type"); s != "" {
		ft := fee.FeeType(s)
		if !ft.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown fee_type: "+s, nil)
			return
		}
		filter.FeeType = &ft
	}

	rules, total, err := h.Store.ListRules(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]RuleDTO, len(rules))
	for i, rule := range rules {
		items[i] = toRuleDTO(h.RuleFactory, rule)
	}
	writeJSON(w, http.StatusOK, ListResponse[RuleDTO]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: fee.PageLimit(filter.PageSize),
	})
}

// GetRule returns a single rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rule, err := h.Store.GetRule(r.Context(), fee.RuleID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "Rule not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, rule))
}

// CreateRule creates a new rule from its JSON definition.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := h.RuleFactory.FromJSON(req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	created, err := h.Lifecycle.CreateRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(h.RuleFactory, created))
}

// UpdateRule applies a partial rule update.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	upd := fee.RuleUpdate{Name: req.Name}
	if req.FeeType != nil {
		ft := fee.FeeType(*req.FeeType)
		upd.FeeType = &ft
	}
	if req.BaseFee != nil {
		v, err := decimal.NewFromString(*req.BaseFee)
		if err != nil {
			writeError(w, http.StatusBadRequest, "base_fee must be a decimal string", err)
			return
		}
		upd.BaseFee = &v
	}
	if req.Condition != nil {
		// The condition is typed by the rule's (possibly updated) fee type.
		feeType, err := h.effectiveFeeType(r.Context(), fee.RuleID(id), upd.FeeType)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		cond, err := factory.ParseCondition(feeType, *req.Condition)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		upd.Condition = cond
	}
	if req.AnnualFeeMonth != nil {
		m := time.Month(*req.AnnualFeeMonth)
		upd.AnnualFeeMonth = &m
	}
	if req.AnnualFeeDay != nil {
		upd.AnnualFeeDay = req.AnnualFeeDay
	}

	rule, err := h.Lifecycle.UpdateRule(r.Context(), fee.RuleID(id), upd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(h.RuleFactory, rule))
}

// DeleteRule removes a rule unless records still reference it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Lifecycle.DeleteRule(r.Context(), fee.RuleID(id)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) effectiveFeeType(ctx context.Context, id fee.RuleID, override *fee.FeeType) (fee.FeeType, error) {
	if override != nil {
		return *override, nil
	}
	rule, err := h.Store.GetRule(ctx, id)
	if err != nil {
		return "", err
	}
	if rule == nil {
		return "", &fee.ResourceNotFoundError{Resource: "rule", ID: string(id)}
	}
	return rule.FeeType, nil
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// ListRecords returns a page of records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := fee.RecordFilter{
		Keyword:  q.Get("keyword"),
		Page:     intQuery(q.Get("page"), 1),
		PageSize: intQuery(q.Get("page_size"), 0),
	}
	if s := q.Get("card_id"); s != "" {
		cid := fee.CardID(s)
		filter.CardID = &cid
	}
	if s := q.Get("fee_year"); s != "" {
		year, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "fee_year must be an integer", err)
			return
		}
		filter.FeeYear = &year
	}
	if s := q.Get("status"); s != "" {
		status := fee.WaiverStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Unknown status: "+s, nil)
			return
		}
		filter.Status = &status
	}

	records, total, err := h.Store.ListRecords(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]RecordDTO, len(records))
	for i, rec := range records {
		items[i] = toRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, ListResponse[RecordDTO]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: fee.PageLimit(filter.PageSize),
	})
}

// GetRecord returns a single record.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetRecord(r.Context(), fee.RecordID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Record not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// CreateRecord opens the fee cycle for (card, fee year).
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CardID == "" || req.FeeYear == 0 {
		writeError(w, http.StatusBadRequest, "card_id and fee_year are required", nil)
		return
	}

	rec, err := h.Lifecycle.CreateRecord(r.Context(), fee.CardID(req.CardID), req.FeeYear)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// UpdateRecord applies a partial record update.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var upd fee.RecordUpdate
	if req.ActualFee != nil {
		v, err := decimal.NewFromString(*req.ActualFee)
		if err != nil {
			writeError(w, http.StatusBadRequest, "actual_fee must be a decimal string", err)
			return
		}
		upd.ActualFee = &v
	}
	if req.WaiverAmount != nil {
		v, err := decimal.NewFromString(*req.WaiverAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "waiver_amount must be a decimal string", err)
			return
		}
		upd.WaiverAmount = &v
	}
	if req.WaiverStatus != nil {
		status := fee.WaiverStatus(*req.WaiverStatus)
		upd.Status = &status
	}
	if req.PaymentDate != nil {
		t, err := time.Parse("2006-01-02", *req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
			return
		}
		upd.PaymentDate = &t
	}

	rec, err := h.Lifecycle.UpdateRecord(r.Context(), fee.RecordID(id), upd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// DeleteRecord removes a record.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Lifecycle.DeleteRecord(r.Context(), fee.RecordID(id)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordPayment records a manual payment on a record.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	paymentDate := time.Now().UTC()
	if req.PaymentDate != "" {
		t, err := time.Parse("2006-01-02", req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
			return
		}
		paymentDate = t
	}

	rec, err := h.Lifecycle.RecordPayment(r.Context(), fee.RecordID(id), paymentDate)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// EvaluateRecord evaluates the waiver condition and applies pending → waived
// when eligible.
func (h *Handler) EvaluateRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req EvaluateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	points, err := parsePoints(req.AvailablePoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, "available_points must be a decimal string", err)
		return
	}

	rec, check, err := h.Lifecycle.EvaluateAndApply(r.Context(), fee.RecordID(id), points)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Record RecordDTO      `json:"record"`
		Check  WaiverCheckDTO `json:"check"`
	}{toRecordDTO(rec), toWaiverCheckDTO(check)})
}

// MarkOverdue runs the overdue check against an explicit clock.
func (h *Handler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OverdueRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	now := time.Now().UTC()
	if req.Now != "" {
		t, err := time.Parse("2006-01-02", req.Now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid now format (use YYYY-MM-DD)", err)
			return
		}
		now = t
	}
	points, err := parsePoints(req.AvailablePoints)
	if err != nil {
		writeError(w, http.StatusBadRequest, "available_points must be a decimal string", err)
		return
	}

	rec, err := h.Lifecycle.MarkOverdue(r.Context(), fee.RecordID(id), now, points)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// =============================================================================
// WAIVER HANDLERS
// =============================================================================

// CheckWaiver answers eligibility for one card without touching state.
// GET /api/waivers/check?card_id=&fee_year=&available_points=
func (h *Handler) CheckWaiver(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cardID := q.Get("card_id")
	if cardID == "" {
		writeError(w, http.StatusBadRequest, "card_id query parameter is required", nil)
		return
	}
	feeYear, err := strconv.Atoi(q.Get("fee_year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "fee_year must be an integer", err)
		return
	}
	points, err := parsePoints(q.Get("available_points"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "available_points must be a decimal string", err)
		return
	}

	check, err := h.Lifecycle.EvaluateWaiver(r.Context(), fee.CardID(cardID), feeYear, points)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWaiverCheckDTO(check))
}

// EvaluateAll answers eligibility across all of a user's cards.
// GET /api/waivers/evaluate-all?user_id=&fee_year=&available_points=
func (h *Handler) EvaluateAll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required", nil)
		return
	}
	feeYear := time.Now().UTC().Year()
	if s := q.Get("fee_year"); s != "" {
		year, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "fee_year must be an integer", err)
			return
		}
		feeYear = year
	}
	points, err := parsePoints(q.Get("available_points"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "available_points must be a decimal string", err)
		return
	}

	results, err := h.Lifecycle.EvaluateAll(r.Context(), fee.UserID(userID), feeYear, points)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CardWaiverCheckDTO, len(results))
	for i, res := range results {
		dtos[i] = CardWaiverCheckDTO{
			CardID:   string(res.CardID),
			CardName: res.CardName,
			FeeYear:  res.FeeYear,
			Check:    toWaiverCheckDTO(res.Check),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STATISTICS HANDLER
// =============================================================================

// GetStatistics returns the per-user fee rollup.
// GET /api/statistics?user_id=&fee_year=
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required", nil)
		return
	}

	var feeYear *int
	if s := q.Get("fee_year"); s != "" {
		year, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "fee_year must be an integer", err)
			return
		}
		feeYear = &year
	}

	stats, err := h.Stats.Statistics(r.Context(), fee.UserID(userID), feeYear)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsDTO(stats))
}

// =============================================================================
// TRANSACTION HOOK HANDLERS
// =============================================================================

// CreateTransaction ingests a created transaction and applies the
// incremental progress path.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok := h.decodeTransaction(w, r, "")
	if !ok {
		return
	}

	if err := h.Store.SaveTransaction(r.Context(), &tx); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Progress.ApplyTransaction(r.Context(), tx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProgressDTO{
		CardID:  string(tx.CardID),
		FeeYear: tx.FeeYear(),
	})
}

// UpdateTransaction ingests an edited transaction and recomputes progress
// from scratch for every (card, fee year) the edit touched. An edit that
// moves the transaction to another card or year affects the totals it
// leaves behind too, so both pairs recompute.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, ok := h.decodeTransaction(w, r, id)
	if !ok {
		return
	}

	prev, err := h.Store.GetTransaction(r.Context(), tx.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.Store.SaveTransaction(r.Context(), &tx); err != nil {
		writeDomainError(w, err)
		return
	}
	if prev != nil && (prev.CardID != tx.CardID || prev.FeeYear() != tx.FeeYear()) {
		if _, err := h.Progress.Recompute(r.Context(), prev.CardID, prev.FeeYear()); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	progress, err := h.Progress.Recompute(r.Context(), tx.CardID, tx.FeeYear())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressDTO{
		CardID:          string(tx.CardID),
		FeeYear:         tx.FeeYear(),
		CurrentProgress: progress.String(),
	})
}

// DeleteTransaction removes a transaction and recomputes progress for its
// (card, fee year).
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	tx, err := h.Store.GetTransaction(r.Context(), fee.TransactionID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	if err := h.Store.DeleteTransaction(r.Context(), tx.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	progress, err := h.Progress.Recompute(r.Context(), tx.CardID, tx.FeeYear())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressDTO{
		CardID:          string(tx.CardID),
		FeeYear:         tx.FeeYear(),
		CurrentProgress: progress.String(),
	})
}

// RecomputeProgress forces the authoritative recompute.
func (h *Handler) RecomputeProgress(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CardID == "" || req.FeeYear == 0 {
		writeError(w, http.StatusBadRequest, "card_id and fee_year are required", nil)
		return
	}

	progress, err := h.Progress.Recompute(r.Context(), fee.CardID(req.CardID), req.FeeYear)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressDTO{
		CardID:          req.CardID,
		FeeYear:         req.FeeYear,
		CurrentProgress: progress.String(),
	})
}

func (h *Handler) decodeTransaction(w http.ResponseWriter, r *http.Request, pathID string) (fee.CardTransaction, bool) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return fee.CardTransaction{}, false
	}
	if pathID != "" {
		req.ID = pathID
	}
	if req.ID == "" || req.CardID == "" {
		writeError(w, http.StatusBadRequest, "id and card_id are required", nil)
		return fee.CardTransaction{}, false
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string", err)
		return fee.CardTransaction{}, false
	}
	date, err := time.Parse("2006-01-02", req.TransactionDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction_date format (use YYYY-MM-DD)", err)
		return fee.CardTransaction{}, false
	}

	return fee.CardTransaction{
		ID:              fee.TransactionID(req.ID),
		CardID:          fee.CardID(req.CardID),
		Amount:          amount,
		Type:            fee.TransactionType(req.Type),
		Status:          fee.TransactionStatus(req.Status),
		TransactionDate: date,
	}, true
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the fee error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case fee.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case fee.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Resource not found", err)
	case fee.IsBusinessRule(err):
		writeError(w, http.StatusConflict, "Business rule violation", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func intQuery(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parsePoints(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
