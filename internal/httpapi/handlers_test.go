package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"salepa/backend/internal/domain"
	"salepa/backend/internal/service"
	"salepa/backend/internal/store/memory"
)

type harness struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, 0)
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)
	api := New(svc, auth, "*")

	h := &harness{t: t, handler: api.Handler()}
	h.csrf = h.fetchCSRF()
	h.token = h.login("admin", "admin123")
	return h
}

func (h *harness) fetchCSRF() string {
	h.t.Helper()
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil))
	if rec.Code != http.StatusOK {
		h.t.Fatalf("csrf token fetch status = %d", rec.Code)
	}
	var body struct {
		Token string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		h.t.Fatalf("decode csrf token: %v", err)
	}
	return body.Token
}

func (h *harness) login(username, password string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: username, Password: password}, "")
	if rec.Code != http.StatusOK {
		h.t.Fatalf("login %s status = %d body = %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		h.t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func (h *harness) do(method, path string, payload any, token string) *httptest.ResponseRecorder {
	h.t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			h.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-CSRF-Token", h.csrf)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) openShift() {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{
		CashierName:      "Lan",
		OpeningCashCents: 5_000_000,
	}, h.token)
	if rec.Code != http.StatusOK {
		h.t.Fatalf("open shift status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestLoginAndListProducts(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/v1/products", nil, h.token)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products status = %d body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode products: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatal("expected seeded products")
	}
}

func TestOrderEndpointFlow(t *testing.T) {
	h := newHarness(t)
	h.openShift()

	rec := h.do(http.MethodPost, "/api/v1/orders", domain.OrderCreateRequest{
		PaymentMethod: "cash",
		Items: []domain.CartItem{
			{ProductID: "prod-mask-01", Qty: 2},
		},
	}, h.token)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order status = %d body = %s", rec.Code, rec.Body.String())
	}

	var resp domain.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode order response: %v", err)
	}
	if resp.Order.TotalCents != 2*550_000 {
		t.Fatalf("order total = %d, want %d", resp.Order.TotalCents, 2*550_000)
	}

	get := h.do(http.MethodGet, "/api/v1/orders/"+resp.Order.ID, nil, h.token)
	if get.Code != http.StatusOK {
		t.Fatalf("get order status = %d", get.Code)
	}
}

func TestOrderWithoutShiftIsConflict(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/orders", domain.OrderCreateRequest{
		Items: []domain.CartItem{{ProductID: "prod-mask-01", Qty: 1}},
	}, h.token)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body = %s", rec.Code, rec.Body.String())
	}
}

func TestOrderInsufficientStockIsConflict(t *testing.T) {
	h := newHarness(t)
	h.openShift()

	rec := h.do(http.MethodPost, "/api/v1/orders", domain.OrderCreateRequest{
		Items: []domain.CartItem{{ProductID: "prod-serum-01", Qty: 9999}},
	}, h.token)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body = %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownOrderIsNotFound(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/api/v1/orders/ord-missing", nil, h.token)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAppointmentDoubleBookingIsConflict(t *testing.T) {
	h := newHarness(t)

	first := h.do(http.MethodPost, "/api/v1/appointments", domain.AppointmentCreateRequest{
		CustomerName: "Thu Ha",
		Date:         "2026-09-15",
		StartTime:    "09:00",
		EndTime:      "10:00",
		Services: []domain.AppointmentService{
			{ProductID: "svc-facial-01", Name: "Facial", TechnicianID: "tech-01"},
		},
	}, h.token)
	if first.Code != http.StatusCreated {
		t.Fatalf("first appointment status = %d body = %s", first.Code, first.Body.String())
	}

	second := h.do(http.MethodPost, "/api/v1/appointments", domain.AppointmentCreateRequest{
		CustomerName: "Ngoc Anh",
		Date:         "2026-09-15",
		StartTime:    "09:30",
		EndTime:      "10:30",
		Services: []domain.AppointmentService{
			{ProductID: "svc-massage-01", Name: "Massage", TechnicianID: "tech-01"},
		},
	}, h.token)
	if second.Code != http.StatusConflict {
		t.Fatalf("second appointment status = %d, want 409; body = %s", second.Code, second.Body.String())
	}
}

func TestTechnicianCannotManageShifts(t *testing.T) {
	h := newHarness(t)
	techToken := h.login("technician", "tech123")

	rec := h.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{
		CashierName:      "Tech",
		OpeningCashCents: 0,
	}, techToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body = %s", rec.Code, rec.Body.String())
	}
}

func TestPermissionOverrideGrantsAccess(t *testing.T) {
	h := newHarness(t)
	techToken := h.login("technician", "tech123")

	denied := h.do(http.MethodGet, "/api/v1/orders", nil, techToken)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("pre-override status = %d, want 403", denied.Code)
	}

	update := h.do(http.MethodPut, "/api/v1/users/technician/permissions", domain.OverrideUpdateRequest{
		Added: []string{"orders.read"},
	}, h.token)
	if update.Code != http.StatusOK {
		t.Fatalf("override update status = %d body = %s", update.Code, update.Body.String())
	}

	allowed := h.do(http.MethodGet, "/api/v1/orders", nil, techToken)
	if allowed.Code != http.StatusOK {
		t.Fatalf("post-override status = %d, want 200; body = %s", allowed.Code, allowed.Body.String())
	}
}

func TestPermissionOverrideRevokesAccess(t *testing.T) {
	h := newHarness(t)
	cashierToken := h.login("cashier", "cashier123")

	update := h.do(http.MethodPut, "/api/v1/users/cashier/permissions", domain.OverrideUpdateRequest{
		Removed: []string{"shifts.manage"},
	}, h.token)
	if update.Code != http.StatusOK {
		t.Fatalf("override update status = %d body = %s", update.Code, update.Body.String())
	}

	rec := h.do(http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{
		CashierName:      "Lan",
		OpeningCashCents: 1_000_000,
	}, cashierToken)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 after removal", rec.Code)
	}
}

func TestReceiptDeleteRequiresManagerPIN(t *testing.T) {
	h := newHarness(t)

	created := h.do(http.MethodPost, "/api/v1/receipts/in", domain.ReceiptCreateRequest{
		Items:  []domain.ReceiptItem{{ProductID: "prod-shampoo-01", Qty: 5, UnitCostCents: 900_000}},
		Reason: "restock",
	}, h.token)
	if created.Code != http.StatusCreated {
		t.Fatalf("create receipt status = %d body = %s", created.Code, created.Body.String())
	}
	var resp domain.ReceiptResponse
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}

	withoutPIN := h.do(http.MethodDelete, "/api/v1/receipts/"+resp.Receipt.ID, nil, h.token)
	if withoutPIN.Code != http.StatusForbidden {
		t.Fatalf("delete without pin status = %d, want 403", withoutPIN.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/receipts/"+resp.Receipt.ID, nil)
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("X-CSRF-Token", h.csrf)
	req.Header.Set("X-Manager-PIN", "4321")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete with pin status = %d body = %s", rec.Code, rec.Body.String())
	}

	gone := h.do(http.MethodGet, "/api/v1/receipts/"+resp.Receipt.ID, nil, h.token)
	if gone.Code != http.StatusNotFound {
		t.Fatalf("deleted receipt status = %d, want 404", gone.Code)
	}
}

func TestDailyReportFormats(t *testing.T) {
	h := newHarness(t)
	h.openShift()

	order := h.do(http.MethodPost, "/api/v1/orders", domain.OrderCreateRequest{
		Items: []domain.CartItem{{ProductID: "prod-mask-01", Qty: 1}},
	}, h.token)
	if order.Code != http.StatusCreated {
		t.Fatalf("create order status = %d", order.Code)
	}

	jsonRec := h.do(http.MethodGet, "/api/v1/reports/daily", nil, h.token)
	if jsonRec.Code != http.StatusOK {
		t.Fatalf("json report status = %d", jsonRec.Code)
	}
	var report domain.DailyReport
	if err := json.Unmarshal(jsonRec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Orders != 1 {
		t.Fatalf("report orders = %d, want 1", report.Orders)
	}

	csvRec := h.do(http.MethodGet, "/api/v1/reports/daily?format=csv", nil, h.token)
	if csvRec.Code != http.StatusOK {
		t.Fatalf("csv report status = %d", csvRec.Code)
	}
	if ct := csvRec.Header().Get("Content-Type"); !strings.Contains(ct, "text/csv") {
		t.Fatalf("csv content type = %q", ct)
	}
	if !strings.Contains(csvRec.Body.String(), "summary,orders,1") {
		t.Fatalf("csv body missing summary row: %s", csvRec.Body.String())
	}

	htmlRec := h.do(http.MethodGet, "/api/v1/reports/daily?format=pdf", nil, h.token)
	if htmlRec.Code != http.StatusOK {
		t.Fatalf("printable report status = %d", htmlRec.Code)
	}
	if !strings.Contains(htmlRec.Body.String(), "Daily Report") {
		t.Fatal("printable report missing title")
	}
}

func TestShiftLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.openShift()

	active := h.do(http.MethodGet, "/api/v1/shifts/active", nil, h.token)
	if active.Code != http.StatusOK {
		t.Fatalf("active shift status = %d", active.Code)
	}

	closed := h.do(http.MethodPost, "/api/v1/shifts/close", domain.ShiftCloseRequest{
		ActualCashCents: 5_000_000,
	}, h.token)
	if closed.Code != http.StatusOK {
		t.Fatalf("close shift status = %d body = %s", closed.Code, closed.Body.String())
	}

	var resp domain.ShiftResponse
	if err := json.Unmarshal(closed.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode shift: %v", err)
	}
	if resp.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("shift status = %q, want closed", resp.Shift.Status)
	}

	noneActive := h.do(http.MethodGet, "/api/v1/shifts/active", nil, h.token)
	if noneActive.Code != http.StatusConflict {
		t.Fatalf("active after close status = %d, want 409", noneActive.Code)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	h := newHarness(t)

	created := h.do(http.MethodPost, "/api/v1/users", domain.UserCreateRequest{
		Username: "lethu",
		Password: "secret99",
		Role:     "cashier",
	}, h.token)
	if created.Code != http.StatusCreated {
		t.Fatalf("create user status = %d body = %s", created.Code, created.Body.String())
	}

	token := h.login("lethu", "secret99")
	rec := h.do(http.MethodGet, "/api/v1/products", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("new user list products status = %d", rec.Code)
	}
}

func TestHeldCartEndpoints(t *testing.T) {
	h := newHarness(t)

	created := h.do(http.MethodPost, "/api/v1/carts", domain.HoldCartRequest{
		Label: "ghe 3",
		Items: []domain.CartItem{{ProductID: "prod-mask-01", Qty: 2}},
	}, h.token)
	if created.Code != http.StatusCreated {
		t.Fatalf("hold cart status = %d body = %s", created.Code, created.Body.String())
	}
	var resp domain.HeldCartResponse
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode held cart: %v", err)
	}
	if resp.Cart.HeldBy != "admin" {
		t.Errorf("held by = %q, want actor username", resp.Cart.HeldBy)
	}

	list := h.do(http.MethodGet, "/api/v1/carts", nil, h.token)
	if list.Code != http.StatusOK {
		t.Fatalf("list carts status = %d", list.Code)
	}

	resumed := h.do(http.MethodPost, "/api/v1/carts/"+resp.Cart.ID+"/resume", nil, h.token)
	if resumed.Code != http.StatusOK {
		t.Fatalf("resume cart status = %d body = %s", resumed.Code, resumed.Body.String())
	}

	again := h.do(http.MethodPost, "/api/v1/carts/"+resp.Cart.ID+"/resume", nil, h.token)
	if again.Code != http.StatusNotFound {
		t.Fatalf("second resume status = %d, want 404", again.Code)
	}
}
