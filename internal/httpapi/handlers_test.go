package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Malekfhima/G-vente-sub000/internal/domain"
	"github.com/Malekfhima/G-vente-sub000/internal/service"
	"github.com/Malekfhima/G-vente-sub000/internal/store/memory"
	"github.com/Malekfhima/G-vente-sub000/internal/ticket"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, ticket.NewCounterSequencer())
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func loginAsAdmin(t *testing.T, api *API) string {
	return login(t, api, "admin", "admin123")
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

// doJSON runs an authenticated JSON request through the full handler chain.
func doJSON(t *testing.T, api *API, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
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

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

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

	payload, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/products", token, csrf, domain.ProductCreateRequest{
		Name:       "Bloc-notes A5",
		PriceCents: 320,
		Stock:      10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode product: %v", err)
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleCreateRequest{
		ProductID: created.Product.ID,
		Quantity:  4,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var saleResp struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if saleResp.Sale.TotalCents != 1280 {
		t.Fatalf("expected total 1280, got %d", saleResp.Sale.TotalCents)
	}

	rec = doJSON(t, api, http.MethodPatch, fmt.Sprintf("/api/v1/sales/%d", saleResp.Sale.ID), token, csrf, domain.SaleUpdateRequest{Quantity: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("update sale: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", created.Product.ID), token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get product: expected 200, got %d", rec.Code)
	}
	var fetched struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if fetched.Product.Stock != 8 {
		t.Fatalf("expected stock 8 after sale of 2, got %d", fetched.Product.Stock)
	}

	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/api/v1/sales/%d", saleResp.Sale.ID), token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete sale: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, fmt.Sprintf("/api/v1/products/%d", created.Product.ID), token, "", nil)
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if fetched.Product.Stock != 10 {
		t.Fatalf("expected stock restored to 10, got %d", fetched.Product.Stock)
	}
}

func TestBasketEndpointRollsBackOnBadLine(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/baskets", token, csrf, domain.BasketRequest{Items: []domain.BasketLine{
		{ProductID: 1, Quantity: 2},
		{ProductID: 9999, Quantity: 1},
	}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown basket line, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales", token, "", nil)
	var listed struct {
		Sales []domain.Sale `json:"sales"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("decode sales: %v", err)
	}
	if len(listed.Sales) != 0 {
		t.Fatalf("expected no sale rows after failed basket, got %d", len(listed.Sales))
	}
}

func TestBasketAndReceiptOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/baskets", token, csrf, domain.BasketRequest{Items: []domain.BasketLine{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create basket: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var basket domain.BasketResponse
	if err := json.NewDecoder(rec.Body).Decode(&basket); err != nil {
		t.Fatalf("decode basket: %v", err)
	}
	if len(basket.Lines) != 2 || basket.TransactionID == "" {
		t.Fatalf("unexpected basket response: %+v", basket)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/transactions/"+basket.TransactionID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transaction detail: expected 200, got %d", rec.Code)
	}
	var detail domain.GroupedSaleDetail
	if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.LineCount != 2 || detail.TotalCents != basket.TotalCents {
		t.Fatalf("unexpected detail: %+v", detail.GroupedSaleSummary)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/receipts/"+basket.TransactionID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var receipt domain.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.TotalCents != basket.TotalCents {
		t.Fatalf("expected receipt total %d, got %d", basket.TotalCents, receipt.TotalCents)
	}
}

func TestCashierCannotDeleteSale(t *testing.T) {
	api := newTestAPI(t)
	adminToken := loginAsAdmin(t, api)
	cashierToken := login(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", adminToken, csrf, domain.SaleCreateRequest{ProductID: 1, Quantity: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d", rec.Code)
	}
	var saleResp struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	rec = doJSON(t, api, http.MethodDelete, fmt.Sprintf("/api/v1/sales/%d", saleResp.Sale.ID), cashierToken, csrf, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteProductWithSalesReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleCreateRequest{ProductID: 1, Quantity: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/products/1", token, csrf, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for guarded product delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestInsufficientStockReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", token, csrf, domain.SaleCreateRequest{ProductID: 1, Quantity: 1_000_000})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
