package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"salepa/backend/internal/domain"
	"salepa/backend/internal/store"
	"salepa/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	ordersByID      map[string]domain.Order
	orderIDs        []string
	heldCarts       map[string]domain.HeldCart
	customersByID   map[string]domain.Customer
	customerByPhone map[string]string
	packagesByID    map[string]domain.TreatmentPackage
	appointments    map[string]domain.Appointment
	appointmentSeq  int
	receiptsByID    map[string]domain.StockReceipt
	shiftsByID      map[string]domain.Shift
	openShiftID     string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	overridesByUser map[string]domain.PermissionOverride
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_CASHIER_PASSWORD and
// SEED_TECHNICIAN_PASSWORD environment variables. If unset, hardcoded dev
// defaults are used with a warning printed to stdout. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL
// is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	techPwd := envOr("SEED_TECHNICIAN_PASSWORD", "tech123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
		{"technician", techPwd, "technician"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prod-shampoo-01", Name: "Dau Goi Thao Duoc", Category: "retail", ProductType: domain.ProductTypeProduct, PriceCents: 1850000, Stock: 40},
		{ID: "prod-mask-01", Name: "Mat Na Collagen", Category: "retail", ProductType: domain.ProductTypeProduct, PriceCents: 550000, Stock: 120},
		{ID: "prod-serum-01", Name: "Serum Vitamin C", Category: "retail", ProductType: domain.ProductTypeProduct, PriceCents: 3200000, Stock: 25},
		{ID: "prod-oil-01", Name: "Tinh Dau Massage", Category: "retail", ProductType: domain.ProductTypeProduct, PriceCents: 1200000, Stock: 60},
		{ID: "svc-facial-01", Name: "Cham Soc Da Co Ban", Category: "facial", ProductType: domain.ProductTypeService, PriceCents: 2500000},
		{ID: "svc-massage-01", Name: "Massage Body 60p", Category: "massage", ProductType: domain.ProductTypeService, PriceCents: 3500000},
		{ID: "svc-nail-01", Name: "Son Gel Tay", Category: "nail", ProductType: domain.ProductTypeService, PriceCents: 1500000},
		{
			ID: "trt-acne-01", Name: "Lieu Trinh Tri Mun 5 Buoi", Category: "treatment",
			ProductType: domain.ProductTypeTreatment, PriceCents: 25000000, Sessions: 5,
			SessionDetails: []domain.SessionPlan{
				{SessionNumber: 1, Items: []domain.SessionItem{{ProductID: "svc-facial-01", Name: "Cham Soc Da Co Ban", Qty: 1}, {ProductID: "prod-mask-01", Name: "Mat Na Collagen", Qty: 1}}},
				{SessionNumber: 2, Items: []domain.SessionItem{{ProductID: "svc-facial-01", Name: "Cham Soc Da Co Ban", Qty: 1}}},
				{SessionNumber: 3, Items: []domain.SessionItem{{ProductID: "svc-facial-01", Name: "Cham Soc Da Co Ban", Qty: 1}, {ProductID: "prod-serum-01", Name: "Serum Vitamin C", Qty: 1}}},
				{SessionNumber: 4, Items: []domain.SessionItem{{ProductID: "svc-facial-01", Name: "Cham Soc Da Co Ban", Qty: 1}}},
				{SessionNumber: 5, Items: []domain.SessionItem{{ProductID: "svc-facial-01", Name: "Cham Soc Da Co Ban", Qty: 1}, {ProductID: "prod-mask-01", Name: "Mat Na Collagen", Qty: 1}}},
			},
		},
		{ID: "trt-relax-01", Name: "Goi Massage 10 Buoi", Category: "treatment", ProductType: domain.ProductTypeTreatment, PriceCents: 30000000, Sessions: 10},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		productMap[p.ID] = p
	}

	return &Store{
		products:        productMap,
		ordersByID:      make(map[string]domain.Order),
		orderIDs:        make([]string, 0, 128),
		heldCarts:       make(map[string]domain.HeldCart),
		customersByID:   make(map[string]domain.Customer),
		customerByPhone: make(map[string]string),
		packagesByID:    make(map[string]domain.TreatmentPackage),
		appointments:    make(map[string]domain.Appointment),
		receiptsByID:    make(map[string]domain.StockReceipt),
		shiftsByID:      make(map[string]domain.Shift),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
		overridesByUser: make(map[string]domain.PermissionOverride),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.DeletedAt != nil {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if !isProductType(product.ProductType) {
		return nil, store.ErrInvalidInput
	}
	if product.ProductType == domain.ProductTypeTreatment && product.Sessions < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}

	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt
	s.products[product.ID] = product
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists || product.DeletedAt != nil {
		return nil, store.ErrNotFound
	}
	copied := cloneProduct(product)
	return &copied, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.DeletedAt == nil {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	existing, exists := s.products[product.ID]
	if !exists || existing.DeletedAt != nil {
		return nil, store.ErrNotFound
	}

	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := cloneProduct(product)
	return &updated, nil
}

func (s *Store) SoftDeleteProduct(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists || product.DeletedAt != nil {
		return store.ErrNotFound
	}
	deletedAt := at.UTC()
	product.DeletedAt = &deletedAt
	product.UpdatedAt = deletedAt
	s.products[id] = product
	return nil
}

// CommitOrder applies an order and all of its downstream effects as one
// transition under the write lock: stock decrements, the order record, the
// customer upsert with spend aggregates, treatment packages, and the open
// shift counters. Validation happens before any mutation so a failed commit
// leaves no partial state behind.
func (s *Store) CommitOrder(_ context.Context, commit store.OrderCommit) (*domain.Order, error) {
	order := commit.Order
	if order.ID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openShiftID == "" {
		return nil, store.ErrNoActiveShift
	}

	for _, delta := range commit.StockDeltas {
		product, exists := s.products[delta.ProductID]
		if !exists || product.DeletedAt != nil {
			return nil, store.ErrInvalidInput
		}
		if product.Stock < delta.Qty {
			return nil, fmt.Errorf("%w: %s has %d on hand, need %d", store.ErrInsufficientStock, product.Name, product.Stock, delta.Qty)
		}
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if commit.NewCustomer != nil {
		if _, taken := s.customerByPhone[commit.NewCustomer.Phone]; taken {
			return nil, fmt.Errorf("%w: phone %s already registered", store.ErrInvalidInput, commit.NewCustomer.Phone)
		}
	}

	for _, delta := range commit.StockDeltas {
		product := s.products[delta.ProductID]
		product.Stock -= delta.Qty
		product.UpdatedAt = time.Now().UTC()
		s.products[delta.ProductID] = product
	}

	if commit.NewCustomer != nil {
		customer := *commit.NewCustomer
		s.customersByID[customer.ID] = customer
		s.customerByPhone[customer.Phone] = customer.ID
	}
	if order.CustomerID != "" {
		if customer, ok := s.customersByID[order.CustomerID]; ok {
			customer.TotalSpentCents += order.TotalCents
			customer.TotalOrders++
			customer.UpdatedAt = time.Now().UTC()
			s.customersByID[order.CustomerID] = customer
		}
	}

	for _, pkg := range commit.Packages {
		s.packagesByID[pkg.ID] = clonePackage(pkg)
	}

	shift := s.shiftsByID[s.openShiftID]
	shift.TotalOrders++
	shift.TotalRevenueCents += order.TotalCents
	if order.PaymentMethod == "cash" {
		shift.ExpectedCashCents += order.TotalCents
	}
	s.shiftsByID[s.openShiftID] = shift

	order.ShiftID = s.openShiftID
	s.ordersByID[order.ID] = cloneOrder(order)
	s.orderIDs = append([]string{order.ID}, s.orderIDs...)

	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneOrder(order)
	return &copied, nil
}

func (s *Store) ListOrders(_ context.Context, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.Order, 0, limit)
	for _, id := range s.orderIDs {
		if len(result) >= limit {
			break
		}
		result = append(result, cloneOrder(s.ordersByID[id]))
	}
	return result, nil
}

func (s *Store) GetDailyReport(_ context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{}
	byPayment := make(map[string]*domain.DailyReportPayment)
	for _, order := range s.ordersByID {
		if order.CreatedAt.Before(from) || !order.CreatedAt.Before(to) {
			continue
		}
		report.Orders++
		report.GrossSalesCents += order.SubtotalCents
		report.DiscountCents += order.DiscountCents
		report.NetSalesCents += order.TotalCents

		entry, ok := byPayment[order.PaymentMethod]
		if !ok {
			entry = &domain.DailyReportPayment{PaymentMethod: order.PaymentMethod}
			byPayment[order.PaymentMethod] = entry
		}
		entry.Orders++
		entry.TotalCents += order.TotalCents
	}

	report.ByPayment = make([]domain.DailyReportPayment, 0, len(byPayment))
	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return cmpString(a.PaymentMethod, b.PaymentMethod)
	})
	return report, nil
}

func (s *Store) SaveHeldCart(_ context.Context, cart domain.HeldCart) (*domain.HeldCart, error) {
	if cart.ID == "" || len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: held cart requires an id and items", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneHeldCart(cart)
	s.heldCarts[cart.ID] = stored
	result := cloneHeldCart(stored)
	return &result, nil
}

func (s *Store) ListHeldCarts(_ context.Context) ([]domain.HeldCart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	carts := make([]domain.HeldCart, 0, len(s.heldCarts))
	for _, cart := range s.heldCarts {
		carts = append(carts, cloneHeldCart(cart))
	}
	slices.SortFunc(carts, func(a, b domain.HeldCart) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return carts, nil
}

// TakeHeldCart removes and returns a held cart in one step, so two registers
// cannot both resume the same parked sale.
func (s *Store) TakeHeldCart(_ context.Context, id string) (*domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.heldCarts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.heldCarts, id)
	result := cloneHeldCart(cart)
	return &result, nil
}

func (s *Store) DeleteHeldCart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.heldCarts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.heldCarts, id)
	return nil
}

func (s *Store) FindCustomerByPhone(_ context.Context, phone string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customerByPhone[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	customer := s.customersByID[id]
	return &customer, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.Customer, 0, len(s.customersByID))
	for _, customer := range s.customersByID {
		result = append(result, customer)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateTreatmentPackage(_ context.Context, pkg domain.TreatmentPackage) (*domain.TreatmentPackage, error) {
	if pkg.ID == "" || pkg.TreatmentProductID == "" || pkg.TotalSessions < 1 {
		return nil, store.ErrInvalidInput
	}
	if pkg.RemainingSessions+len(pkg.UsedSessionNumbers) != pkg.TotalSessions {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.packagesByID[pkg.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.packagesByID[pkg.ID] = clonePackage(pkg)
	created := clonePackage(pkg)
	return &created, nil
}

func (s *Store) GetTreatmentPackageByID(_ context.Context, id string) (*domain.TreatmentPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, exists := s.packagesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := clonePackage(pkg)
	return &copied, nil
}

func (s *Store) ListCustomerPackages(_ context.Context, customerID string) ([]domain.TreatmentPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.TreatmentPackage, 0, 8)
	for _, pkg := range s.packagesByID {
		if pkg.CustomerID != customerID {
			continue
		}
		result = append(result, clonePackage(pkg))
	}
	slices.SortFunc(result, func(a, b domain.TreatmentPackage) int {
		if a.PurchaseDate.Equal(b.PurchaseDate) {
			return cmpString(a.ID, b.ID)
		}
		if a.PurchaseDate.After(b.PurchaseDate) {
			return -1
		}
		return 1
	})
	return result, nil
}

// UsePackageSession marks one numbered session consumed. The session number
// must be within [1, TotalSessions] and not already used; RemainingSessions
// and Active are kept consistent with UsedSessionNumbers.
func (s *Store) UsePackageSession(_ context.Context, packageID string, sessionNumber int) (*domain.TreatmentPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, exists := s.packagesByID[packageID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sessionNumber < 1 || sessionNumber > pkg.TotalSessions {
		return nil, store.ErrSessionNumberOutOfRange
	}
	if slices.Contains(pkg.UsedSessionNumbers, sessionNumber) {
		return nil, store.ErrDuplicateSessionUse
	}

	pkg = clonePackage(pkg)
	pkg.UsedSessionNumbers = append(pkg.UsedSessionNumbers, sessionNumber)
	slices.Sort(pkg.UsedSessionNumbers)
	pkg.RemainingSessions--
	pkg.Active = pkg.RemainingSessions > 0
	s.packagesByID[packageID] = pkg

	updated := clonePackage(pkg)
	return &updated, nil
}

// ReturnPackageSession restores a previously consumed session. Returning a
// session number that was never used is a silent no-op.
func (s *Store) ReturnPackageSession(_ context.Context, packageID string, sessionNumber int) (*domain.TreatmentPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, exists := s.packagesByID[packageID]
	if !exists {
		return nil, store.ErrNotFound
	}

	idx := slices.Index(pkg.UsedSessionNumbers, sessionNumber)
	if idx < 0 {
		unchanged := clonePackage(pkg)
		return &unchanged, nil
	}

	pkg = clonePackage(pkg)
	pkg.UsedSessionNumbers = slices.Delete(pkg.UsedSessionNumbers, idx, idx+1)
	pkg.RemainingSessions++
	pkg.Active = true
	s.packagesByID[packageID] = pkg

	updated := clonePackage(pkg)
	return &updated, nil
}

func (s *Store) CreateAppointment(_ context.Context, apt domain.Appointment) (*domain.Appointment, error) {
	if apt.ID == "" || apt.CustomerName == "" || apt.Date == "" || apt.StartTime == "" || apt.EndTime == "" {
		return nil, store.ErrInvalidInput
	}
	if len(apt.Services) == 0 {
		return nil, fmt.Errorf("%w: appointment needs at least one service", store.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.appointments[apt.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if apt.Code == "" {
		s.appointmentSeq++
		apt.Code = fmt.Sprintf("LH%06d", s.appointmentSeq)
	}
	if apt.Status == "" {
		apt.Status = domain.AppointmentStatusPending
	}
	now := time.Now().UTC()
	if apt.CreatedAt.IsZero() {
		apt.CreatedAt = now
	}
	apt.UpdatedAt = apt.CreatedAt

	s.appointments[apt.ID] = cloneAppointment(apt)
	created := cloneAppointment(apt)
	return &created, nil
}

func (s *Store) GetAppointmentByID(_ context.Context, id string) (*domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	apt, exists := s.appointments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneAppointment(apt)
	return &copied, nil
}

func (s *Store) UpdateAppointment(_ context.Context, apt domain.Appointment) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.appointments[apt.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	apt.Code = existing.Code
	apt.CreatedAt = existing.CreatedAt
	apt.UpdatedAt = time.Now().UTC()
	s.appointments[apt.ID] = cloneAppointment(apt)
	updated := cloneAppointment(apt)
	return &updated, nil
}

func (s *Store) ListAppointmentsByDate(_ context.Context, date string) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Appointment, 0, 16)
	for _, apt := range s.appointments {
		if apt.Date != date {
			continue
		}
		result = append(result, cloneAppointment(apt))
	}
	sortAppointments(result)
	return result, nil
}

func (s *Store) ListAppointments(_ context.Context, limit int) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.Appointment, 0, len(s.appointments))
	for _, apt := range s.appointments {
		result = append(result, cloneAppointment(apt))
	}
	sortAppointments(result)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateStockReceipt numbers the receipt within its calendar day and applies
// every line to product stock in the same transition. A stock-out that would
// drive any product negative rejects the whole receipt.
func (s *Store) CreateStockReceipt(_ context.Context, receipt domain.StockReceipt) (*domain.StockReceipt, error) {
	if receipt.ID == "" || len(receipt.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if receipt.Kind != domain.ReceiptKindIn && receipt.Kind != domain.ReceiptKindOut {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	receipt.UpdatedAt = receipt.CreatedAt

	for _, item := range receipt.Items {
		product, exists := s.products[item.ProductID]
		if !exists || product.DeletedAt != nil || item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		if receipt.Kind == domain.ReceiptKindOut && product.Stock < item.Qty {
			return nil, fmt.Errorf("%w: %s has %d on hand, need %d", store.ErrInsufficientStock, product.Name, product.Stock, item.Qty)
		}
	}

	if receipt.Number == "" {
		receipt.Number = s.nextReceiptNumberLocked(receipt.Kind, receipt.CreatedAt)
	}

	for _, item := range receipt.Items {
		product := s.products[item.ProductID]
		if receipt.Kind == domain.ReceiptKindIn {
			product.Stock += item.Qty
		} else {
			product.Stock -= item.Qty
		}
		product.UpdatedAt = time.Now().UTC()
		s.products[item.ProductID] = product
	}

	s.receiptsByID[receipt.ID] = cloneReceipt(receipt)
	created := cloneReceipt(receipt)
	return &created, nil
}

// nextReceiptNumberLocked builds the date-scoped sequential receipt number,
// e.g. IN-20260115-003 for the third stock-in of that day. Caller holds the
// write lock, so the count-then-assign pair cannot race.
func (s *Store) nextReceiptNumberLocked(kind string, at time.Time) string {
	prefix := "IN-"
	if kind == domain.ReceiptKindOut {
		prefix = "OUT-"
	}
	dayPrefix := prefix + at.UTC().Format("20060102") + "-"

	count := 0
	for _, r := range s.receiptsByID {
		if strings.HasPrefix(r.Number, dayPrefix) {
			count++
		}
	}
	return fmt.Sprintf("%s%03d", dayPrefix, count+1)
}

// UpdateStockReceipt reverses the receipt's original stock effect before
// applying the new items, so repeated edits never drift product stock. The
// reversal and reapplication are collapsed into per-product net deltas and
// validated before anything is written.
func (s *Store) UpdateStockReceipt(_ context.Context, id string, items []domain.ReceiptItem, reason *string, at time.Time) (*domain.StockReceipt, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, exists := s.receiptsByID[id]
	if !exists {
		return nil, store.ErrReceiptNotFound
	}

	deltas, err := s.receiptNetDeltasLocked(receipt, items)
	if err != nil {
		return nil, err
	}

	for productID, delta := range deltas {
		product := s.products[productID]
		product.Stock += delta
		product.UpdatedAt = at.UTC()
		s.products[productID] = product
	}

	receipt.Items = cloneReceiptItems(items)
	receipt.TotalQty, receipt.TotalCents = receiptTotals(items)
	if reason != nil {
		receipt.Reason = *reason
	}
	receipt.UpdatedAt = at.UTC()
	s.receiptsByID[id] = cloneReceipt(receipt)

	updated := cloneReceipt(receipt)
	return &updated, nil
}

// receiptNetDeltasLocked computes the per-product stock change that undoing
// the old items and applying the new ones produces, and rejects the edit if
// any product would end up negative.
func (s *Store) receiptNetDeltasLocked(receipt domain.StockReceipt, newItems []domain.ReceiptItem) (map[string]int, error) {
	sign := 1
	if receipt.Kind == domain.ReceiptKindOut {
		sign = -1
	}

	deltas := make(map[string]int, len(newItems))
	for _, item := range receipt.Items {
		deltas[item.ProductID] -= sign * item.Qty
	}
	for _, item := range newItems {
		if item.Qty < 1 {
			return nil, store.ErrInvalidInput
		}
		if _, exists := s.products[item.ProductID]; !exists {
			return nil, store.ErrInvalidInput
		}
		deltas[item.ProductID] += sign * item.Qty
	}

	for productID, delta := range deltas {
		product, exists := s.products[productID]
		if !exists {
			return nil, store.ErrInvalidInput
		}
		if product.Stock+delta < 0 {
			return nil, fmt.Errorf("%w: %s would drop to %d", store.ErrInsufficientStock, product.Name, product.Stock+delta)
		}
	}
	return deltas, nil
}

// DeleteStockReceipt reverses the receipt's stock effect and removes it
// from the ledger.
func (s *Store) DeleteStockReceipt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, exists := s.receiptsByID[id]
	if !exists {
		return store.ErrReceiptNotFound
	}

	sign := -1
	if receipt.Kind == domain.ReceiptKindOut {
		sign = 1
	}
	for _, item := range receipt.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		if product.Stock+sign*item.Qty < 0 {
			return fmt.Errorf("%w: %s would drop below zero on reversal", store.ErrInsufficientStock, product.Name)
		}
	}
	for _, item := range receipt.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		product.Stock += sign * item.Qty
		product.UpdatedAt = time.Now().UTC()
		s.products[item.ProductID] = product
	}

	delete(s.receiptsByID, id)
	return nil
}

func (s *Store) GetStockReceiptByID(_ context.Context, id string) (*domain.StockReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receiptsByID[id]
	if !exists {
		return nil, store.ErrReceiptNotFound
	}
	copied := cloneReceipt(receipt)
	return &copied, nil
}

func (s *Store) ListStockReceipts(_ context.Context, kind string, limit int) ([]domain.StockReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	result := make([]domain.StockReceipt, 0, len(s.receiptsByID))
	for _, receipt := range s.receiptsByID {
		if kind != "" && receipt.Kind != kind {
			continue
		}
		result = append(result, cloneReceipt(receipt))
	}
	slices.SortFunc(result, func(a, b domain.StockReceipt) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.Number, a.Number)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.ID == "" || shift.CashierName == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openShiftID != "" {
		return nil, store.ErrInvalidInput
	}

	shift.Status = domain.ShiftStatusOpen
	shift.ExpectedCashCents = shift.OpeningCashCents
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	s.shiftsByID[shift.ID] = shift
	s.openShiftID = shift.ID

	created := shift
	return &created, nil
}

func (s *Store) GetOpenShift(_ context.Context) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.openShiftID == "" {
		return nil, store.ErrNoActiveShift
	}
	shift := s.shiftsByID[s.openShiftID]
	return &shift, nil
}

func (s *Store) CloseOpenShift(_ context.Context, actualCashCents int64, note string, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openShiftID == "" {
		return nil, store.ErrNoActiveShift
	}

	shift := s.shiftsByID[s.openShiftID]
	closed := closedAt.UTC()
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCashCents = actualCashCents
	shift.DifferenceCents = actualCashCents - shift.ExpectedCashCents
	shift.Note = note
	shift.ClosedAt = &closed
	s.shiftsByID[shift.ID] = shift
	s.openShiftID = ""

	result := shift
	return &result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidInput
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) GetPermissionOverride(_ context.Context, username string) (*domain.PermissionOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	override, exists := s.overridesByUser[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := override
	copied.Added = slices.Clone(override.Added)
	copied.Removed = slices.Clone(override.Removed)
	return &copied, nil
}

func (s *Store) SetPermissionOverride(_ context.Context, override domain.PermissionOverride) error {
	if override.Username == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	override.Added = slices.Clone(override.Added)
	override.Removed = slices.Clone(override.Removed)
	s.overridesByUser[override.Username] = override
	return nil
}

func sortAppointments(appointments []domain.Appointment) {
	slices.SortFunc(appointments, func(a, b domain.Appointment) int {
		if a.Date == b.Date {
			if a.StartTime == b.StartTime {
				return cmpString(a.Code, b.Code)
			}
			return cmpString(a.StartTime, b.StartTime)
		}
		return cmpString(a.Date, b.Date)
	})
}

func receiptTotals(items []domain.ReceiptItem) (int, int64) {
	qty := 0
	cents := int64(0)
	for _, item := range items {
		qty += item.Qty
		cents += int64(item.Qty) * item.UnitCostCents
	}
	return qty, cents
}

func cloneProduct(p domain.Product) domain.Product {
	copied := p
	copied.SessionDetails = cloneSessionPlans(p.SessionDetails)
	return copied
}

func cloneSessionPlans(plans []domain.SessionPlan) []domain.SessionPlan {
	if plans == nil {
		return nil
	}
	copied := make([]domain.SessionPlan, len(plans))
	for i, plan := range plans {
		copied[i] = plan
		copied[i].Items = slices.Clone(plan.Items)
	}
	return copied
}

func cloneOrder(o domain.Order) domain.Order {
	copied := o
	copied.Items = slices.Clone(o.Items)
	copied.PaymentHistory = slices.Clone(o.PaymentHistory)
	return copied
}

func clonePackage(p domain.TreatmentPackage) domain.TreatmentPackage {
	copied := p
	copied.UsedSessionNumbers = slices.Clone(p.UsedSessionNumbers)
	copied.Sessions = cloneSessionPlans(p.Sessions)
	return copied
}

func cloneHeldCart(c domain.HeldCart) domain.HeldCart {
	copied := c
	copied.Items = slices.Clone(c.Items)
	return copied
}

func cloneAppointment(a domain.Appointment) domain.Appointment {
	copied := a
	copied.Services = slices.Clone(a.Services)
	return copied
}

func cloneReceipt(r domain.StockReceipt) domain.StockReceipt {
	copied := r
	copied.Items = slices.Clone(r.Items)
	return copied
}

func cloneReceiptItems(items []domain.ReceiptItem) []domain.ReceiptItem {
	return slices.Clone(items)
}

func isProductType(t string) bool {
	switch t {
	case domain.ProductTypeProduct, domain.ProductTypeService, domain.ProductTypeTreatment:
		return true
	default:
		return false
	}
}

func cmpString(a string, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
