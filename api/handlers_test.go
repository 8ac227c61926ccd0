package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/annualfee-engine/api"
	"github.com/warp/annualfee-engine/fee/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	handler := api.NewHandler(store.NewMemory())
	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// seedCard registers a card and returns its ID.
func seedCard(t *testing.T, srv *httptest.Server, id string) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/cards", map[string]any{
		"id": id, "user_id": "user-1", "name": "test card", "bank": "CMB",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return id
}

// seedCountRule creates a transaction-count rule for the card.
func seedCountRule(t *testing.T, srv *httptest.Server, cardID string, target int64) map[string]any {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]any{
		"card_id":   cardID,
		"name":      "swipe waiver",
		"fee_type":  "transaction_count",
		"base_fee":  "200.00",
		"condition": map[string]any{"target_count": target},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[map[string]any](t, resp)
}

func seedRecord(t *testing.T, srv *httptest.Server, cardID string, feeYear int) map[string]any {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/records", map[string]any{
		"card_id": cardID, "fee_year": feeYear,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[map[string]any](t, resp)
}

func postTransaction(t *testing.T, srv *httptest.Server, txID, cardID, amount, txDate string) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/transactions", map[string]any{
		"id": txID, "card_id": cardID, "amount": amount,
		"type": "expense", "status": "completed",
		"transaction_date": txDate,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestAPI_FullWaiverFlow(t *testing.T) {
	// GIVEN: A card with a 2-transaction waiver rule and an open 2025 record
	// WHEN: Two qualifying transactions arrive and the record is evaluated
	// THEN: The record comes back waived with the fee zeroed

	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 2)
	rec := seedRecord(t, srv, "card-1", 2025)
	recID := rec["id"].(string)

	postTransaction(t, srv, "tx-1", "card-1", "25.00", "2025-03-01")
	postTransaction(t, srv, "tx-2", "card-1", "25.00", "2025-03-02")

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/records/"+recID+"/evaluate", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decode[struct {
		Record map[string]any `json:"record"`
		Check  map[string]any `json:"check"`
	}](t, resp)

	assert.Equal(t, true, result.Check["eligible"])
	assert.Equal(t, "waived", result.Record["waiver_status"])
	assert.Equal(t, "0.00", result.Record["actual_fee"])
	assert.Equal(t, "200.00", result.Record["waiver_amount"])
}

func TestAPI_PaymentFlow(t *testing.T) {
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 12)
	rec := seedRecord(t, srv, "card-1", 2025)
	recID := rec["id"].(string)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/records/"+recID+"/payment", map[string]any{
		"payment_date": "2025-12-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	paid := decode[map[string]any](t, resp)
	assert.Equal(t, "paid", paid["waiver_status"])
	assert.Equal(t, "200.00", paid["actual_fee"])
	assert.Equal(t, "2025-12-01", paid["payment_date"])
}

func TestAPI_DeleteTransaction_Recomputes(t *testing.T) {
	// Transaction deletion must run the authoritative recompute.
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 12)
	seedRecord(t, srv, "card-1", 2025)

	postTransaction(t, srv, "tx-1", "card-1", "25.00", "2025-03-01")
	postTransaction(t, srv, "tx-2", "card-1", "25.00", "2025-03-01")

	resp := doJSON(t, http.MethodDelete, srv.URL+"/api/transactions/tx-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	progress := decode[map[string]any](t, resp)
	assert.Equal(t, "1", progress["current_progress"])
}

func TestAPI_UpdateTransaction_CrossYearMove_RecomputesBothYears(t *testing.T) {
	// GIVEN: A transaction counted toward the 2024 cycle
	// WHEN: An edit moves its date into 2025
	// THEN: The 2024 record drops back to zero and 2025 picks it up

	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 12)
	rec2024 := seedRecord(t, srv, "card-1", 2024)
	rec2025 := seedRecord(t, srv, "card-1", 2025)

	postTransaction(t, srv, "tx-1", "card-1", "25.00", "2024-06-01")

	resp := doJSON(t, http.MethodPut, srv.URL+"/api/transactions/tx-1", map[string]any{
		"card_id": "card-1", "amount": "25.00",
		"type": "expense", "status": "completed",
		"transaction_date": "2025-06-01",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	oldResp := doJSON(t, http.MethodGet, srv.URL+"/api/records/"+rec2024["id"].(string), nil)
	oldYear := decode[map[string]any](t, oldResp)
	assert.Equal(t, "0", oldYear["current_progress"], "year the transaction left")

	newResp := doJSON(t, http.MethodGet, srv.URL+"/api/records/"+rec2025["id"].(string), nil)
	newYear := decode[map[string]any](t, newResp)
	assert.Equal(t, "1", newYear["current_progress"])
}

func TestAPI_WaiverCheck_ReadOnly(t *testing.T) {
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 0)
	rec := seedRecord(t, srv, "card-1", 2025)

	resp := doJSON(t, http.MethodGet,
		srv.URL+"/api/waivers/check?card_id=card-1&fee_year=2025", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	check := decode[map[string]any](t, resp)
	assert.Equal(t, true, check["eligible"])

	// The record itself is untouched.
	getResp := doJSON(t, http.MethodGet, srv.URL+"/api/records/"+rec["id"].(string), nil)
	got := decode[map[string]any](t, getResp)
	assert.Equal(t, "pending", got["waiver_status"])
}

func TestAPI_EvaluateAll(t *testing.T) {
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 0)
	seedRecord(t, srv, "card-1", 2025)
	seedCard(t, srv, "card-2") // no rule, no record

	resp := doJSON(t, http.MethodGet,
		srv.URL+"/api/waivers/evaluate-all?user_id=user-1&fee_year=2025", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	results := decode[[]map[string]any](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, "card-1", results[0]["card_id"])
}

func TestAPI_Statistics(t *testing.T) {
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 0)
	rec := seedRecord(t, srv, "card-1", 2025)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/records/"+rec["id"].(string)+"/evaluate", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statsResp := doJSON(t, http.MethodGet, srv.URL+"/api/statistics?user_id=user-1&fee_year=2025", nil)
	require.Equal(t, http.StatusOK, statsResp.StatusCode)

	stats := decode[map[string]any](t, statsResp)
	assert.Equal(t, float64(1), stats["total_records"])
	assert.Equal(t, "200.00", stats["total_waived"])
	assert.Equal(t, "1", stats["waiver_rate"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 12)
	seedRecord(t, srv, "card-1", 2025)

	t.Run("validation maps to 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]any{
			"card_id": "card-1", "name": "bad", "fee_type": "mystery", "base_fee": "1.00",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing resource maps to 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/api/records/nope", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("duplicate record maps to 409", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/records", map[string]any{
			"card_id": "card-1", "fee_year": 2025,
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("duplicate rule maps to 409", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]any{
			"card_id": "card-1", "name": "second", "fee_type": "rigid", "base_fee": "1.00",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("rule delete blocked while referenced maps to 409", func(t *testing.T) {
		listResp := doJSON(t, http.MethodGet, srv.URL+"/api/rules", nil)
		list := decode[struct {
			Items []map[string]any `json:"items"`
		}](t, listResp)
		require.NotEmpty(t, list.Items)

		ruleID := list.Items[0]["id"].(string)
		resp := doJSON(t, http.MethodDelete, srv.URL+"/api/rules/"+ruleID, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

// =============================================================================
// LISTING
// =============================================================================

func TestAPI_ListRecords_FiltersAndPaginates(t *testing.T) {
	srv := newTestServer(t)
	seedCard(t, srv, "card-1")
	seedCountRule(t, srv, "card-1", 12)
	for _, year := range []int{2023, 2024, 2025} {
		seedRecord(t, srv, "card-1", year)
	}

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/records?card_id=card-1&page_size=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}](t, resp)
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Items, 2)
	// Newest fee year first.
	assert.Equal(t, float64(2025), list.Items[0]["fee_year"])

	yearResp := doJSON(t, http.MethodGet, srv.URL+"/api/records?fee_year=2024", nil)
	yearList := decode[struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}](t, yearResp)
	assert.Equal(t, 1, yearList.Total)
}

func TestAPI_ListRules_FeeTypeFilter(t *testing.T) {
	srv := newTestServer(t)
	for i := 1; i <= 2; i++ {
		seedCard(t, srv, fmt.Sprintf("card-%d", i))
	}
	seedCountRule(t, srv, "card-1", 12)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/rules", map[string]any{
		"card_id": "card-2", "name": "rigid fee", "fee_type": "rigid", "base_fee": "580.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	filtered := doJSON(t, http.MethodGet, srv.URL+"/api/rules?fee_type=rigid", nil)
	list := decode[struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}](t, filtered)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "rigid", list.Items[0]["fee_type"])
}
