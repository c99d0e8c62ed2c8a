package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kasirpro/backend/internal/cache"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/service"
	"kasirpro/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopReceiptConfigCache{}, "main-branch", 10000, 5*time.Minute)
	auth := NewAuthManager("test-secret-key", time.Hour, "924816", repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSales_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func postJSON(t *testing.T, api *API, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, api *API, path string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreatePurchaseSaleAndReceipt(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := postJSON(t, api, "/api/v1/sales", token, csrf, map[string]any{
		"transaction_type": "purchase",
		"items":            []map[string]any{{"product_id": "prod-mie-01", "quantity": 2}},
		"payments":         []map[string]any{{"method": "cash", "amount_cents": 10000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if created.Sale.ReceiptNumber == "" {
		t.Fatalf("expected receipt number on created sale")
	}

	receiptRec := getJSON(t, api, "/api/v1/sales/"+created.Sale.ID+"/receipt", token)
	if receiptRec.Code != http.StatusOK {
		t.Fatalf("expected 200 receipt, got %d (body: %s)", receiptRec.Code, receiptRec.Body.String())
	}
}

func TestCashbackSaleHasNoReceipt(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := postJSON(t, api, "/api/v1/sales", token, csrf, map[string]any{
		"transaction_type":      "cashback",
		"cashback_amount_cents": 40000,
		"service_charge_cents":  800,
		"payments":              []map[string]any{{"method": "transfer", "amount_cents": 40800, "reference": "TRF-100"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	receiptRec := getJSON(t, api, "/api/v1/sales/"+created.Sale.ID+"/receipt", token)
	if receiptRec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for cashback receipt, got %d", receiptRec.Code)
	}
}

func TestStockShortfallReturns422(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := postJSON(t, api, "/api/v1/sales", token, csrf, map[string]any{
		"transaction_type": "purchase",
		"items":            []map[string]any{{"product_id": "prod-mie-01", "quantity": 500}},
		"payments":         []map[string]any{{"method": "cash", "amount_cents": 10000000}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for stock shortfall, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	startRec := postJSON(t, api, "/api/v1/sessions/start", token, csrf, map[string]any{
		"opening_balance_cents": 250000,
	})
	if startRec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for session start, got %d (body: %s)", startRec.Code, startRec.Body.String())
	}

	dupRec := postJSON(t, api, "/api/v1/sessions/start", token, csrf, map[string]any{
		"opening_balance_cents": 100000,
	})
	if dupRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate session, got %d", dupRec.Code)
	}

	var started struct {
		Session domain.Session `json:"session"`
	}
	if err := json.NewDecoder(startRec.Body).Decode(&started); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	endRec := postJSON(t, api, "/api/v1/sessions/end", token, csrf, map[string]any{
		"session_id":            started.Session.ID,
		"closing_balance_cents": 250000,
	})
	if endRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for session end, got %d (body: %s)", endRec.Code, endRec.Body.String())
	}

	var summary domain.SessionSummary
	if err := json.NewDecoder(endRec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Reconciliation.VarianceCents != 0 || !summary.Reconciliation.IsBalanced {
		t.Fatalf("expected balanced empty session, got %+v", summary.Reconciliation)
	}
}

func TestCapitalAdjustRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	badRec := postJSON(t, api, "/api/v1/branches/main-branch/capital", token, csrf, map[string]any{
		"amount_cents": 100000,
		"manager_pin":  "000000",
	})
	if badRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong pin, got %d", badRec.Code)
	}

	goodRec := postJSON(t, api, "/api/v1/branches/main-branch/capital", token, csrf, map[string]any{
		"amount_cents": 100000,
		"manager_pin":  "924816",
		"notes":        "weekly top-up",
	})
	if goodRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for capital adjust, got %d (body: %s)", goodRec.Code, goodRec.Body.String())
	}

	var resp struct {
		Adjustment domain.CapitalAdjustment `json:"adjustment"`
	}
	if err := json.NewDecoder(goodRec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode adjustment: %v", err)
	}
	want := int64(5_000_000_00 + 100000)
	if resp.Adjustment.NewCapitalCents != want {
		t.Fatalf("expected new capital %d, got %d", want, resp.Adjustment.NewCapitalCents)
	}
}

func TestCapitalWithdrawBelowZeroReturns422(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := postJSON(t, api, "/api/v1/branches/main-branch/capital", token, csrf, map[string]any{
		"amount_cents": int64(-6_000_000_00),
		"manager_pin":  "924816",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for overdraw, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("insufficient")) {
		t.Fatalf("expected amount-carrying error message, got %s", rec.Body.String())
	}
}

func TestInventoryAdjustOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := postJSON(t, api, "/api/v1/inventory/adjust", token, csrf, map[string]any{
		"product_id":  "prod-gula-01",
		"change_type": "restock",
		"quantity":    10,
		"reason":      "supplier delivery",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for adjust, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	logsRec := getJSON(t, api, "/api/v1/inventory/logs?product_id=prod-gula-01", token)
	if logsRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for logs, got %d", logsRec.Code)
	}
	var body struct {
		Logs []domain.InventoryLogEntry `json:"logs"`
	}
	if err := json.NewDecoder(logsRec.Body).Decode(&body); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].NewQuantity != 100 {
		t.Fatalf("unexpected logs: %+v", body.Logs)
	}
}

func TestUnknownTransactionTypeReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := postJSON(t, api, "/api/v1/sales", token, csrf, map[string]any{
		"transaction_type": "layaway",
		"items":            []map[string]any{{"product_id": "prod-mie-01", "quantity": 1}},
		"payments":         []map[string]any{{"method": "cash", "amount_cents": 3500}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", rec.Code)
	}
}
