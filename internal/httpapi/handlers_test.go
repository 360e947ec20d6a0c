package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"innovaclean/backend/internal/folio"
	"innovaclean/backend/internal/ledger"
	"innovaclean/backend/internal/pricing"
	"innovaclean/backend/internal/sales"
	"innovaclean/backend/internal/store/memory"
)

// newTestAPI builds a full API over an in-memory store with the real
// AuthManager and engine so handler tests exercise the complete path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_SELLER_PASSWORD", "seller123")

	repo := memory.NewSeeded()
	engine := sales.New(repo, ledger.NewAtomic(repo), folio.NewCounter(repo), pricing.Thresholds{}, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(engine, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("expected access_token, got %v", body)
	}
	return token
}

func doJSON(handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin", "password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	// The login limiter allows 5 attempts per minute per client address.
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = doJSON(handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "admin", "password": "badpass",
		})
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", last.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestSellerCannotCancelFolio(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "vendedor", "seller123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/folios/00001/cancel", token, map[string]string{
		"reason": "prueba",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller cancel, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCommitSaleEndToEnd(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "vendedor", "seller123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"lines": []map[string]any{
			{"sku": "DES-01", "quantity": 12},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Result struct {
			Folio      string `json:"folio"`
			TotalCents int64  `json:"total_cents"`
			StockBySKU map[string]int
		} `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Result.Folio != "00001" {
		t.Fatalf("expected folio 00001, got %s", body.Result.Folio)
	}
	// Seeded DES-01 sells wholesale at 6400 cents for 12+ units.
	if body.Result.TotalCents != 12*6400 {
		t.Fatalf("expected wholesale total %d, got %d", 12*6400, body.Result.TotalCents)
	}

	// The folio is now retrievable as a derived group.
	rec = doJSON(handler, http.MethodGet, "/api/v1/folios/00001", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching folio, got %d", rec.Code)
	}
}

func TestCancelFolioEndToEnd(t *testing.T) {
	handler := newTestAPI(t).Handler()
	seller := loginAs(t, handler, "vendedor", "seller123")
	admin := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", seller, map[string]any{
		"lines": []map[string]any{{"sku": "CL-01", "quantity": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit failed: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/folios/00001/cancel", admin, map[string]string{
		"reason": "cliente canceló",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// A second cancel is a conflict.
	rec = doJSON(handler, http.MethodPost, "/api/v1/folios/00001/cancel", admin, map[string]string{
		"reason": "otra vez",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double cancel, got %d", rec.Code)
	}

	// Stock is back where it started.
	rec = doJSON(handler, http.MethodGet, "/api/v1/products/CL-01/stock", seller, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stock lookup failed: %d", rec.Code)
	}
	var stockBody struct {
		Stock int `json:"stock"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stockBody); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if stockBody.Stock != 200 {
		t.Fatalf("expected seeded stock 200 restored, got %d", stockBody.Stock)
	}
}

func TestCommitUnknownSKURejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "vendedor", "seller123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"lines": []map[string]any{{"sku": "NOPE-99", "quantity": 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sku, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestAmendFolioDate(t *testing.T) {
	handler := newTestAPI(t).Handler()
	seller := loginAs(t, handler, "vendedor", "seller123")
	admin := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/sales", seller, map[string]any{
		"lines": []map[string]any{{"sku": "JAB-01", "quantity": 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit failed: %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodPatch, "/api/v1/folios/00001/date", admin, map[string]string{
		"date": "2026-03-01",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 amending date, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(handler, http.MethodPatch, "/api/v1/folios/00001/date", admin, map[string]string{
		"date": "not-a-date",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed date, got %d", rec.Code)
	}
}

func TestPurchasesRequireAdmin(t *testing.T) {
	handler := newTestAPI(t).Handler()
	seller := loginAs(t, handler, "vendedor", "seller123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/purchases", seller, map[string]any{
		"sku": "DES-01", "quantity": 5, "cost_unit_cents": 4100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller purchase, got %d", rec.Code)
	}
}

func TestPurchaseFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/purchases", admin, map[string]any{
		"sku": "FIB-01", "quantity": 10, "cost_unit_cents": 500, "supplier": "Proveedora Norte",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Purchase struct {
			ID string `json:"id"`
		} `json:"purchase"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(handler, http.MethodDelete, fmt.Sprintf("/api/v1/purchases/%s", body.Purchase.ID), admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting purchase, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Add then delete nets out to the seeded stock.
	rec = doJSON(handler, http.MethodGet, "/api/v1/products/FIB-01/stock", admin, nil)
	var stockBody struct {
		Stock int `json:"stock"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&stockBody); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if stockBody.Stock != 300 {
		t.Fatalf("expected stock 300, got %d", stockBody.Stock)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()
	seller := loginAs(t, handler, "vendedor", "seller123")
	admin := loginAs(t, handler, "admin", "admin123")

	if rec := doJSON(handler, http.MethodGet, "/api/v1/audit-logs", seller, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for seller, got %d", rec.Code)
	}
	if rec := doJSON(handler, http.MethodGet, "/api/v1/audit-logs", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}
}
