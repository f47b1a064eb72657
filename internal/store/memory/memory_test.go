package memory

import (
	"context"
	"errors"
	"testing"

	"salepa/backend/internal/domain"
	"salepa/backend/internal/store"
)

func openTestShift(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.CreateShift(context.Background(), domain.Shift{
		ID:               "shift-test-01",
		CashierName:      "Lan",
		OpeningCashCents: 5000000,
	})
	if err != nil {
		t.Fatalf("create shift: %v", err)
	}
}

func TestCommitOrderRejectsTakenPhone(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	openTestShift(t, s)

	first := store.OrderCommit{
		Order: domain.Order{
			ID:         "order-test-01",
			CustomerID: "cust-test-01",
			Items:      []domain.CartItem{{ProductID: "prod-oil-01", Qty: 1, PriceCents: 1200000}},
			TotalCents: 1200000,
		},
		StockDeltas: []domain.StockAdjustment{{ProductID: "prod-oil-01", Qty: 1}},
		NewCustomer: &domain.Customer{ID: "cust-test-01", Name: "Mai Linh", Phone: "0987654321"},
	}
	if _, err := s.CommitOrder(ctx, first); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// A second registration under the same phone must fail the whole
	// commit, not silently skip the customer insert.
	second := store.OrderCommit{
		Order: domain.Order{
			ID:         "order-test-02",
			CustomerID: "cust-test-02",
			Items:      []domain.CartItem{{ProductID: "prod-oil-01", Qty: 2, PriceCents: 1200000}},
			TotalCents: 2400000,
		},
		StockDeltas: []domain.StockAdjustment{{ProductID: "prod-oil-01", Qty: 2}},
		NewCustomer: &domain.Customer{ID: "cust-test-02", Name: "Mai Linh B", Phone: "0987654321"},
	}
	if _, err := s.CommitOrder(ctx, second); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("second commit err = %v, want ErrInvalidInput", err)
	}

	if _, err := s.GetOrderByID(ctx, "order-test-02"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected order was persisted")
	}
	if _, err := s.GetCustomerByID(ctx, "cust-test-02"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected customer was persisted")
	}
	product, err := s.GetProductByID(ctx, "prod-oil-01")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 59 {
		t.Errorf("stock = %d, want 59", product.Stock)
	}
}

func TestCreateAppointmentRequiresServices(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateAppointment(ctx, domain.Appointment{
		ID:           "apt-test-01",
		CustomerName: "Thu Ha",
		Date:         "2026-09-08",
		StartTime:    "10:00",
		EndTime:      "11:00",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := s.GetAppointmentByID(ctx, "apt-test-01"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("appointment was persisted")
	}
}
