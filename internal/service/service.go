package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"salepa/backend/internal/cache"
	"salepa/backend/internal/domain"
	"salepa/backend/internal/schedule"
	"salepa/backend/internal/store"
	"salepa/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// TechnicianConflictError reports a double-booked technician along with the
// appointment that collides, so callers can surface which booking is in the
// way instead of a bare boolean.
type TechnicianConflictError struct {
	TechnicianID string
	Conflict     domain.ScheduleConflict
}

func (e *TechnicianConflictError) Error() string {
	return fmt.Sprintf("technician %s already booked %s-%s (appointment %s)",
		e.TechnicianID, e.Conflict.StartTime, e.Conflict.EndTime, e.Conflict.Code)
}

type Service struct {
	repo        store.Repository
	schedules   cache.ScheduleCache
	scheduleTTL time.Duration
}

func New(repo store.Repository, schedules cache.ScheduleCache, scheduleTTL time.Duration) *Service {
	if schedules == nil {
		schedules = cache.NoopScheduleCache{}
	}
	if scheduleTTL <= 0 {
		scheduleTTL = 30 * time.Second
	}

	return &Service{
		repo:        repo,
		schedules:   schedules,
		scheduleTTL: scheduleTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.ProductType = strings.ToLower(strings.TrimSpace(req.ProductType))
	if req.ProductType == "" {
		req.ProductType = domain.ProductTypeProduct
	}

	if req.Name == "" || req.PriceCents < 1 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.ProductType == domain.ProductTypeTreatment {
		if req.Sessions < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		if err := validateSessionDetails(req.Sessions, req.SessionDetails); err != nil {
			return domain.Product{}, err
		}
	}

	product := domain.Product{
		ID:             xid.New("prod"),
		Name:           req.Name,
		Category:       req.Category,
		ProductType:    req.ProductType,
		PriceCents:     req.PriceCents,
		Stock:          req.InitialStock,
		Sessions:       req.Sessions,
		SessionDetails: req.SessionDetails,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,type=%s,price=%d", created.Name, created.ProductType, created.PriceCents))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.Sessions != nil {
		if updated.ProductType != domain.ProductTypeTreatment || *req.Sessions < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Sessions = *req.Sessions
	}
	if req.SessionDetails != nil {
		if updated.ProductType != domain.ProductTypeTreatment {
			return domain.Product{}, store.ErrInvalidInput
		}
		if err := validateSessionDetails(updated.Sessions, *req.SessionDetails); err != nil {
			return domain.Product{}, err
		}
		updated.SessionDetails = *req.SessionDetails
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%d", saved.Name, saved.PriceCents))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.SoftDeleteProduct(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.logAudit(ctx, "product_delete", "product", id, "soft-deleted")
	return nil
}

// CreateOrder runs the full order fulfillment pipeline: it snapshots the
// cart against current product records, computes totals, seeds the payment
// history, resolves or creates the customer, materializes treatment
// packages for treatment-type lines, and hands everything to the repository
// as one atomic commit that also decrements stock and bumps the open
// shift's counters.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.OrderResponse, error) {
	items := normalizeCartItems(req.Items)
	if len(items) == 0 {
		return domain.OrderResponse{}, store.ErrInvalidInput
	}
	if req.DiscountCents < 0 {
		return domain.OrderResponse{}, store.ErrInvalidInput
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.OrderResponse{}, store.ErrInvalidInput
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	subtotal := int64(0)
	lineDiscounts := int64(0)
	for i, item := range items {
		product, exists := products[item.ProductID]
		if !exists {
			return domain.OrderResponse{}, fmt.Errorf("%w: unknown product %s", store.ErrInvalidInput, item.ProductID)
		}
		items[i].Name = product.Name
		items[i].ProductType = product.ProductType
		items[i].PriceCents = product.PriceCents
		subtotal += int64(item.Qty) * product.PriceCents
		lineDiscounts += int64(item.Qty) * item.DiscountCents
	}

	totalDiscount := lineDiscounts + req.DiscountCents
	if totalDiscount > subtotal {
		totalDiscount = subtotal
	}
	total := subtotal - totalDiscount

	received := req.ReceivedCents
	if received == 0 {
		received = total
	}
	if received < total {
		return domain.OrderResponse{}, fmt.Errorf("%w: received %d below total %d", store.ErrInvalidInput, received, total)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:            xid.New("order"),
		Items:         items,
		SubtotalCents: subtotal,
		DiscountCents: totalDiscount,
		TotalCents:    total,
		PaymentMethod: req.PaymentMethod,
		PaymentHistory: []domain.PaymentEvent{{
			Method:        req.PaymentMethod,
			AmountCents:   total,
			ReceivedCents: received,
			ChangeCents:   received - total,
			At:            now,
		}},
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Note:          strings.TrimSpace(req.Note),
		Status:        domain.OrderStatusCompleted,
		CreatedAt:     now,
	}

	commit := store.OrderCommit{StockDeltas: stockDeltas(items)}

	if order.CustomerPhone != "" {
		existing, err := s.repo.FindCustomerByPhone(ctx, order.CustomerPhone)
		switch {
		case err == nil:
			order.CustomerID = existing.ID
		case errors.Is(err, store.ErrNotFound):
			if order.CustomerName != "" {
				customer := domain.Customer{
					ID:        xid.New("cus"),
					Name:      order.CustomerName,
					Phone:     order.CustomerPhone,
					CreatedAt: now,
					UpdatedAt: now,
				}
				commit.NewCustomer = &customer
				order.CustomerID = customer.ID
			}
		default:
			return domain.OrderResponse{}, err
		}
	}

	packages, err := s.buildTreatmentPackages(ctx, order, products)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	commit.Packages = packages
	commit.Order = order

	created, err := s.repo.CommitOrder(ctx, commit)
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.logAudit(ctx, "order_create", "order", created.ID, fmt.Sprintf("total=%d,payment=%s,packages=%d", created.TotalCents, created.PaymentMethod, len(packages)))
	return domain.OrderResponse{Order: *created, Packages: packages}, nil
}

// buildTreatmentPackages materializes one package instance per unit of
// quantity for every treatment-type cart line. The session plan comes from
// the product's sessionDetails when present, with nested product references
// resolved by ID; otherwise a generic one-placeholder-per-session plan is
// generated.
func (s *Service) buildTreatmentPackages(ctx context.Context, order domain.Order, products map[string]domain.Product) ([]domain.TreatmentPackage, error) {
	var packages []domain.TreatmentPackage

	for _, item := range order.Items {
		if item.ProductType != domain.ProductTypeTreatment {
			continue
		}
		product := products[item.ProductID]
		if product.Sessions < 1 {
			return nil, fmt.Errorf("%w: treatment %s has no session count", store.ErrInvalidInput, product.Name)
		}

		plans, err := s.resolveSessionPlans(ctx, product)
		if err != nil {
			return nil, err
		}

		expiry := order.CreatedAt.AddDate(1, 0, 0)
		for unit := 0; unit < item.Qty; unit++ {
			packages = append(packages, domain.TreatmentPackage{
				ID:                 xid.New("pkg"),
				CustomerID:         order.CustomerID,
				TreatmentProductID: product.ID,
				ProductName:        product.Name,
				OrderID:            order.ID,
				TotalSessions:      product.Sessions,
				UsedSessionNumbers: []int{},
				RemainingSessions:  product.Sessions,
				Sessions:           cloneSessionPlans(plans),
				Active:             true,
				PurchaseDate:       order.CreatedAt,
				ExpiryDate:         &expiry,
			})
		}
	}

	return packages, nil
}

func (s *Service) resolveSessionPlans(ctx context.Context, product domain.Product) ([]domain.SessionPlan, error) {
	if len(product.SessionDetails) == 0 {
		plans := make([]domain.SessionPlan, 0, product.Sessions)
		for n := 1; n <= product.Sessions; n++ {
			plans = append(plans, domain.SessionPlan{
				SessionNumber: n,
				Items: []domain.SessionItem{{
					ProductID: product.ID,
					Name:      fmt.Sprintf("%s (buoi %d)", product.Name, n),
					Qty:       1,
				}},
			})
		}
		return plans, nil
	}

	refIDs := make([]string, 0, 8)
	for _, plan := range product.SessionDetails {
		for _, item := range plan.Items {
			if item.ProductID != "" {
				refIDs = append(refIDs, item.ProductID)
			}
		}
	}
	refs, err := s.repo.GetProductsByIDs(ctx, refIDs)
	if err != nil {
		return nil, err
	}

	plans := cloneSessionPlans(product.SessionDetails)
	for i := range plans {
		for j, item := range plans[i].Items {
			if ref, ok := refs[item.ProductID]; ok {
				plans[i].Items[j].Name = ref.Name
			}
			if plans[i].Items[j].Qty < 1 {
				plans[i].Items[j].Qty = 1
			}
		}
	}
	return plans, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, limit)
}

func (s *Service) DailyReport(ctx context.Context, date string) (domain.DailyReport, error) {
	var day time.Time
	if strings.TrimSpace(date) == "" {
		now := time.Now().UTC()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.DailyReport{}, store.ErrInvalidInput
		}
		day = parsed.UTC()
	}

	report, err := s.repo.GetDailyReport(ctx, day, day.Add(24*time.Hour))
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.Date = day.Format("2006-01-02")
	return report, nil
}

// HoldCart parks an in-progress sale. The cart keeps its raw lines; prices
// are re-resolved when the cart is resumed and submitted as an order.
func (s *Service) HoldCart(ctx context.Context, req domain.HoldCartRequest) (domain.HeldCart, error) {
	items := normalizeCartItems(req.Items)
	if len(items) == 0 {
		return domain.HeldCart{}, store.ErrInvalidInput
	}

	actor, _ := ActorFromContext(ctx)
	cart := domain.HeldCart{
		ID:            xid.New("cart"),
		Label:         strings.TrimSpace(req.Label),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Items:         items,
		Note:          strings.TrimSpace(req.Note),
		HeldBy:        actor.Username,
		CreatedAt:     time.Now().UTC(),
	}

	saved, err := s.repo.SaveHeldCart(ctx, cart)
	if err != nil {
		return domain.HeldCart{}, err
	}

	s.logAudit(ctx, "cart_hold", "held_cart", saved.ID, fmt.Sprintf("items=%d,label=%s", len(saved.Items), saved.Label))
	return *saved, nil
}

func (s *Service) ListHeldCarts(ctx context.Context) ([]domain.HeldCart, error) {
	return s.repo.ListHeldCarts(ctx)
}

// ResumeHeldCart removes the cart from the store and hands it back to the
// caller, who reloads it into the register.
func (s *Service) ResumeHeldCart(ctx context.Context, id string) (domain.HeldCart, error) {
	cart, err := s.repo.TakeHeldCart(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.HeldCart{}, err
	}

	s.logAudit(ctx, "cart_resume", "held_cart", cart.ID, fmt.Sprintf("items=%d", len(cart.Items)))
	return *cart, nil
}

func (s *Service) DiscardHeldCart(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteHeldCart(ctx, id); err != nil {
		return err
	}

	s.logAudit(ctx, "cart_discard", "held_cart", id, "")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, limit)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) GetPackage(ctx context.Context, id string) (domain.TreatmentPackage, error) {
	pkg, err := s.repo.GetTreatmentPackageByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.TreatmentPackage{}, err
	}
	return *pkg, nil
}

func (s *Service) ListCustomerPackages(ctx context.Context, customerID string) ([]domain.TreatmentPackage, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListCustomerPackages(ctx, customerID)
}

// CustomerActivePackages returns the customer's packages that still have
// sessions to consume. Both Active and RemainingSessions are checked even
// though Active is defined by the remaining count, matching how callers
// treat the denormalized flag with suspicion.
func (s *Service) CustomerActivePackages(ctx context.Context, customerID string) ([]domain.TreatmentPackage, error) {
	packages, err := s.ListCustomerPackages(ctx, customerID)
	if err != nil {
		return nil, err
	}

	active := make([]domain.TreatmentPackage, 0, len(packages))
	for _, pkg := range packages {
		if pkg.Active && pkg.RemainingSessions > 0 {
			active = append(active, pkg)
		}
	}
	return active, nil
}

// PackageForService finds an active package of the customer whose session
// plan covers the given product/service ID, preferring the oldest purchase.
func (s *Service) PackageForService(ctx context.Context, customerID string, serviceID string) (*domain.TreatmentPackage, error) {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return nil, store.ErrInvalidInput
	}

	packages, err := s.CustomerActivePackages(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var match *domain.TreatmentPackage
	for i := range packages {
		pkg := packages[i]
		if !sessionPlanCovers(pkg.Sessions, serviceID) {
			continue
		}
		if match == nil || pkg.PurchaseDate.Before(match.PurchaseDate) {
			match = &packages[i]
		}
	}
	if match == nil {
		return nil, store.ErrNotFound
	}
	return match, nil
}

func sessionPlanCovers(plans []domain.SessionPlan, productID string) bool {
	for _, plan := range plans {
		for _, item := range plan.Items {
			if item.ProductID == productID {
				return true
			}
		}
	}
	return false
}

func (s *Service) UsePackageSession(ctx context.Context, packageID string, sessionNumber int) (domain.TreatmentPackage, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return domain.TreatmentPackage{}, store.ErrInvalidInput
	}

	pkg, err := s.repo.UsePackageSession(ctx, packageID, sessionNumber)
	if err != nil {
		return domain.TreatmentPackage{}, err
	}

	s.logAudit(ctx, "package_session_use", "treatment_package", pkg.ID, fmt.Sprintf("session=%d,remaining=%d", sessionNumber, pkg.RemainingSessions))
	return *pkg, nil
}

func (s *Service) ReturnPackageSession(ctx context.Context, packageID string, sessionNumber int) (domain.TreatmentPackage, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return domain.TreatmentPackage{}, store.ErrInvalidInput
	}

	pkg, err := s.repo.ReturnPackageSession(ctx, packageID, sessionNumber)
	if err != nil {
		return domain.TreatmentPackage{}, err
	}

	s.logAudit(ctx, "package_session_return", "treatment_package", pkg.ID, fmt.Sprintf("session=%d,remaining=%d", sessionNumber, pkg.RemainingSessions))
	return *pkg, nil
}

func (s *Service) CreateAppointment(ctx context.Context, req domain.AppointmentCreateRequest) (domain.Appointment, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" || len(req.Services) == 0 {
		return domain.Appointment{}, store.ErrInvalidInput
	}
	if err := validateAppointmentWindow(req.Date, req.StartTime, req.EndTime); err != nil {
		return domain.Appointment{}, err
	}

	apt := domain.Appointment{
		ID:            xid.New("apt"),
		CustomerID:    strings.TrimSpace(req.CustomerID),
		CustomerName:  req.CustomerName,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Date:          req.Date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Status:        domain.AppointmentStatusPending,
		Services:      req.Services,
		Note:          strings.TrimSpace(req.Note),
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.checkServiceConflicts(ctx, apt, ""); err != nil {
		return domain.Appointment{}, err
	}

	created, err := s.repo.CreateAppointment(ctx, apt)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateDay(ctx, created.Date)
	s.logAudit(ctx, "appointment_create", "appointment", created.ID, fmt.Sprintf("code=%s,date=%s,services=%d", created.Code, created.Date, len(created.Services)))
	return *created, nil
}

func (s *Service) UpdateAppointment(ctx context.Context, id string, req domain.AppointmentUpdateRequest) (domain.Appointment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Appointment{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if existing.Status == domain.AppointmentStatusCancelled || existing.Status == domain.AppointmentStatusCompleted {
		return domain.Appointment{}, fmt.Errorf("%w: appointment is %s", store.ErrInvalidInput, existing.Status)
	}

	updated := *existing
	oldDate := existing.Date
	if req.Date != nil {
		updated.Date = *req.Date
	}
	if req.StartTime != nil {
		updated.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		updated.EndTime = *req.EndTime
	}
	if req.Services != nil {
		if len(*req.Services) == 0 {
			return domain.Appointment{}, store.ErrInvalidInput
		}
		updated.Services = *req.Services
	}
	if req.Note != nil {
		updated.Note = strings.TrimSpace(*req.Note)
	}
	if err := validateAppointmentWindow(updated.Date, updated.StartTime, updated.EndTime); err != nil {
		return domain.Appointment{}, err
	}

	// Re-check with self-exclusion so the appointment's current slot does
	// not conflict with itself.
	if err := s.checkServiceConflicts(ctx, updated, updated.ID); err != nil {
		return domain.Appointment{}, err
	}

	saved, err := s.repo.UpdateAppointment(ctx, updated)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateDay(ctx, oldDate)
	if saved.Date != oldDate {
		s.invalidateDay(ctx, saved.Date)
	}
	s.logAudit(ctx, "appointment_update", "appointment", saved.ID, fmt.Sprintf("date=%s,start=%s", saved.Date, saved.StartTime))
	return *saved, nil
}

// SetAppointmentStatus moves an appointment through its lifecycle.
// Completing it consumes every linked package session; cancelling it
// returns any sessions it had consumed (a no-op for sessions never used).
func (s *Service) SetAppointmentStatus(ctx context.Context, id string, status string) (domain.Appointment, error) {
	id = strings.TrimSpace(id)
	status = strings.ToLower(strings.TrimSpace(status))
	if id == "" || !isAppointmentStatus(status) {
		return domain.Appointment{}, store.ErrInvalidInput
	}

	existing, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !isStatusTransitionAllowed(existing.Status, status) {
		return domain.Appointment{}, fmt.Errorf("%w: cannot move %s appointment to %s", store.ErrInvalidInput, existing.Status, status)
	}

	switch status {
	case domain.AppointmentStatusCompleted:
		if err := s.consumeLinkedSessions(ctx, existing.Services); err != nil {
			return domain.Appointment{}, err
		}
	case domain.AppointmentStatusCancelled:
		for _, svc := range existing.Services {
			if svc.PackageID == "" || svc.SessionNumber == 0 {
				continue
			}
			if _, err := s.ReturnPackageSession(ctx, svc.PackageID, svc.SessionNumber); err != nil && !errors.Is(err, store.ErrNotFound) {
				return domain.Appointment{}, fmt.Errorf("return session %d of package %s: %w", svc.SessionNumber, svc.PackageID, err)
			}
		}
	}

	updated := *existing
	updated.Status = status
	saved, err := s.repo.UpdateAppointment(ctx, updated)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.invalidateDay(ctx, saved.Date)
	s.logAudit(ctx, "appointment_status", "appointment", saved.ID, fmt.Sprintf("status=%s", status))
	return *saved, nil
}

type sessionLink struct {
	packageID     string
	sessionNumber int
}

// consumeLinkedSessions burns every package session an appointment's service
// lines reference. All links are validated against the current package state
// before any session is consumed, and a failure while consuming rolls back
// the sessions already taken, so a rejected completion never leaves a
// half-consumed package behind.
func (s *Service) consumeLinkedSessions(ctx context.Context, services []domain.AppointmentService) error {
	links := make([]sessionLink, 0, len(services))
	for _, svc := range services {
		if svc.PackageID == "" || svc.SessionNumber == 0 {
			continue
		}
		link := sessionLink{packageID: svc.PackageID, sessionNumber: svc.SessionNumber}
		if slices.Contains(links, link) {
			return fmt.Errorf("%w: session %d of package %s linked twice", store.ErrInvalidInput, link.sessionNumber, link.packageID)
		}
		links = append(links, link)
	}

	for _, link := range links {
		pkg, err := s.repo.GetTreatmentPackageByID(ctx, link.packageID)
		if err != nil {
			return fmt.Errorf("consume session %d of package %s: %w", link.sessionNumber, link.packageID, err)
		}
		if link.sessionNumber < 1 || link.sessionNumber > pkg.TotalSessions {
			return fmt.Errorf("consume session %d of package %s: %w", link.sessionNumber, link.packageID, store.ErrSessionNumberOutOfRange)
		}
		if slices.Contains(pkg.UsedSessionNumbers, link.sessionNumber) {
			return fmt.Errorf("consume session %d of package %s: %w", link.sessionNumber, link.packageID, store.ErrDuplicateSessionUse)
		}
	}

	for i, link := range links {
		if _, err := s.UsePackageSession(ctx, link.packageID, link.sessionNumber); err != nil {
			for _, taken := range links[:i] {
				if _, rbErr := s.ReturnPackageSession(ctx, taken.packageID, taken.sessionNumber); rbErr != nil {
					log.Printf("[service] WARN: failed to return session %d of package %s after aborted completion: %v", taken.sessionNumber, taken.packageID, rbErr)
				}
			}
			return fmt.Errorf("consume session %d of package %s: %w", link.sessionNumber, link.packageID, err)
		}
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id string) (domain.Appointment, error) {
	apt, err := s.repo.GetAppointmentByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Appointment{}, err
	}
	return *apt, nil
}

func (s *Service) ListAppointments(ctx context.Context, date string, limit int) ([]domain.Appointment, error) {
	if strings.TrimSpace(date) != "" {
		return s.dayAppointments(ctx, date)
	}
	return s.repo.ListAppointments(ctx, limit)
}

// CheckAvailability answers whether a technician is free for the candidate
// window, returning the colliding appointment when not.
func (s *Service) CheckAvailability(ctx context.Context, req domain.AvailabilityRequest) (domain.AvailabilityResponse, error) {
	req.TechnicianID = strings.TrimSpace(req.TechnicianID)
	if req.TechnicianID == "" || req.DurationMinutes < 1 {
		return domain.AvailabilityResponse{}, store.ErrInvalidInput
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return domain.AvailabilityResponse{}, store.ErrInvalidInput
	}
	startMin, err := schedule.ParseClock(req.StartTime)
	if err != nil {
		return domain.AvailabilityResponse{}, store.ErrInvalidInput
	}

	appointments, err := s.dayAppointments(ctx, req.Date)
	if err != nil {
		return domain.AvailabilityResponse{}, err
	}

	conflict := schedule.FindConflict(appointments, req.TechnicianID, req.Date, startMin, req.DurationMinutes, req.ExcludeAppointmentID)
	if conflict == nil {
		return domain.AvailabilityResponse{Busy: false}, nil
	}
	return domain.AvailabilityResponse{Busy: true, Conflict: conflict}, nil
}

func (s *Service) TechnicianAppointments(ctx context.Context, technicianID string, date string) ([]domain.Appointment, error) {
	technicianID = strings.TrimSpace(technicianID)
	if technicianID == "" {
		return nil, store.ErrInvalidInput
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, store.ErrInvalidInput
	}

	appointments, err := s.dayAppointments(ctx, date)
	if err != nil {
		return nil, err
	}
	return schedule.TechnicianAppointments(appointments, technicianID, date), nil
}

func (s *Service) CreateStockReceipt(ctx context.Context, kind string, req domain.ReceiptCreateRequest) (domain.StockReceipt, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != domain.ReceiptKindIn && kind != domain.ReceiptKindOut {
		return domain.StockReceipt{}, store.ErrInvalidInput
	}
	if len(req.Items) == 0 {
		return domain.StockReceipt{}, store.ErrInvalidInput
	}

	actor, _ := ActorFromContext(ctx)
	totalQty, totalCents := receiptTotals(req.Items)
	receipt := domain.StockReceipt{
		ID:         xid.New("rcpt"),
		Kind:       kind,
		Items:      req.Items,
		TotalQty:   totalQty,
		TotalCents: totalCents,
		Reason:     strings.TrimSpace(req.Reason),
		CreatedBy:  actor.Username,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := s.repo.CreateStockReceipt(ctx, receipt)
	if err != nil {
		return domain.StockReceipt{}, err
	}

	s.logAudit(ctx, "stock_receipt_create", "stock_receipt", created.ID, fmt.Sprintf("number=%s,items=%d", created.Number, len(created.Items)))
	return *created, nil
}

func (s *Service) UpdateStockReceipt(ctx context.Context, id string, req domain.ReceiptUpdateRequest) (domain.StockReceipt, error) {
	id = strings.TrimSpace(id)
	if id == "" || len(req.Items) == 0 {
		return domain.StockReceipt{}, store.ErrInvalidInput
	}

	updated, err := s.repo.UpdateStockReceipt(ctx, id, req.Items, req.Reason, time.Now().UTC())
	if err != nil {
		return domain.StockReceipt{}, err
	}

	s.logAudit(ctx, "stock_receipt_update", "stock_receipt", updated.ID, fmt.Sprintf("number=%s,items=%d", updated.Number, len(updated.Items)))
	return *updated, nil
}

func (s *Service) DeleteStockReceipt(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}
	if err := s.repo.DeleteStockReceipt(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "stock_receipt_delete", "stock_receipt", id, "reversed and removed")
	return nil
}

func (s *Service) GetStockReceipt(ctx context.Context, id string) (domain.StockReceipt, error) {
	receipt, err := s.repo.GetStockReceiptByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.StockReceipt{}, err
	}
	return *receipt, nil
}

func (s *Service) ListStockReceipts(ctx context.Context, kind string, limit int) ([]domain.StockReceipt, error) {
	return s.repo.ListStockReceipts(ctx, strings.ToLower(strings.TrimSpace(kind)), limit)
}

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	req.CashierName = strings.TrimSpace(req.CashierName)
	if req.CashierName == "" || req.OpeningCashCents < 0 {
		return domain.ShiftResponse{}, store.ErrInvalidInput
	}

	shift := domain.Shift{
		ID:               xid.New("shift"),
		CashierName:      req.CashierName,
		OpeningCashCents: req.OpeningCashCents,
		Status:           domain.ShiftStatusOpen,
		OpenedAt:         time.Now().UTC(),
	}
	saved, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		if errors.Is(err, store.ErrInvalidInput) {
			return domain.ShiftResponse{}, fmt.Errorf("shift already open")
		}
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, "shift_open", "shift", saved.ID, req.CashierName)
	return domain.ShiftResponse{Shift: *saved}, nil
}

func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	if req.ActualCashCents < 0 {
		return domain.ShiftResponse{}, store.ErrInvalidInput
	}

	closed, err := s.repo.CloseOpenShift(ctx, req.ActualCashCents, strings.TrimSpace(req.Note), time.Now().UTC())
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, "shift_close", "shift", closed.ID, fmt.Sprintf("actual=%d,difference=%d", req.ActualCashCents, closed.DifferenceCents))
	return domain.ShiftResponse{Shift: *closed}, nil
}

func (s *Service) GetActiveShift(ctx context.Context) (domain.ShiftResponse, error) {
	shift, err := s.repo.GetOpenShift(ctx)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidInput
		}
		from = parsed.UTC()
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

// checkServiceConflicts runs the scheduling guard once per technician-
// assigned service line of the appointment.
func (s *Service) checkServiceConflicts(ctx context.Context, apt domain.Appointment, excludeID string) error {
	var appointments []domain.Appointment
	loaded := false

	for _, svc := range apt.Services {
		if svc.TechnicianID == "" {
			continue
		}

		startClock, endClock := svc.StartTime, svc.EndTime
		if startClock == "" || endClock == "" {
			startClock, endClock = apt.StartTime, apt.EndTime
		}
		startMin, err := schedule.ParseClock(startClock)
		if err != nil {
			return store.ErrInvalidInput
		}
		endMin, err := schedule.ParseClock(endClock)
		if err != nil || endMin <= startMin {
			return store.ErrInvalidInput
		}

		if !loaded {
			appointments, err = s.dayAppointments(ctx, apt.Date)
			if err != nil {
				return err
			}
			loaded = true
		}

		if conflict := schedule.FindConflict(appointments, svc.TechnicianID, apt.Date, startMin, endMin-startMin, excludeID); conflict != nil {
			return &TechnicianConflictError{TechnicianID: svc.TechnicianID, Conflict: *conflict}
		}
	}
	return nil
}

func (s *Service) dayAppointments(ctx context.Context, date string) ([]domain.Appointment, error) {
	cached, ok, err := s.schedules.GetDay(ctx, date)
	if err != nil {
		log.Printf("[service] WARN: failed to read day schedule cache date=%s: %v", date, err)
	} else if ok {
		return cached, nil
	}

	appointments, err := s.repo.ListAppointmentsByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := s.schedules.SetDay(ctx, date, appointments, s.scheduleTTL); err != nil {
		log.Printf("[service] WARN: failed to cache day schedule date=%s: %v", date, err)
	}
	return appointments, nil
}

func (s *Service) invalidateDay(ctx context.Context, date string) {
	if err := s.schedules.InvalidateDay(ctx, date); err != nil {
		log.Printf("[service] WARN: failed to invalidate day schedule date=%s: %v", date, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func normalizeCartItems(items []domain.CartItem) []domain.CartItem {
	normalized := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" || item.Qty < 1 || item.DiscountCents < 0 {
			continue
		}
		normalized = append(normalized, item)
	}
	return normalized
}

// stockDeltas builds the per-product stock decrements of an order. Only
// physical products track on-hand quantity; service and treatment lines
// consume no stock.
func stockDeltas(items []domain.CartItem) []domain.StockAdjustment {
	byProduct := make(map[string]int, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		if item.ProductType != domain.ProductTypeProduct {
			continue
		}
		if _, seen := byProduct[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		byProduct[item.ProductID] += item.Qty
	}

	deltas := make([]domain.StockAdjustment, 0, len(byProduct))
	for _, id := range order {
		deltas = append(deltas, domain.StockAdjustment{ProductID: id, Qty: byProduct[id]})
	}
	return deltas
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

func validateSessionDetails(sessions int, plans []domain.SessionPlan) error {
	if len(plans) == 0 {
		return nil
	}
	if len(plans) > sessions {
		return store.ErrInvalidInput
	}
	for _, plan := range plans {
		if plan.SessionNumber < 1 || plan.SessionNumber > sessions {
			return store.ErrInvalidInput
		}
	}
	return nil
}

func validateAppointmentWindow(date string, startTime string, endTime string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return store.ErrInvalidInput
	}
	startMin, err := schedule.ParseClock(startTime)
	if err != nil {
		return store.ErrInvalidInput
	}
	endMin, err := schedule.ParseClock(endTime)
	if err != nil || endMin <= startMin {
		return store.ErrInvalidInput
	}
	return nil
}

func cloneSessionPlans(plans []domain.SessionPlan) []domain.SessionPlan {
	if plans == nil {
		return nil
	}
	copied := make([]domain.SessionPlan, len(plans))
	for i, plan := range plans {
		copied[i] = plan
		copied[i].Items = append([]domain.SessionItem(nil), plan.Items...)
	}
	return copied
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "transfer", "ewallet":
		return true
	default:
		return false
	}
}

func isAppointmentStatus(status string) bool {
	switch status {
	case domain.AppointmentStatusPending, domain.AppointmentStatusInProgress,
		domain.AppointmentStatusCompleted, domain.AppointmentStatusCancelled:
		return true
	default:
		return false
	}
}

// isStatusTransitionAllowed encodes the appointment lifecycle: cancelled is
// terminal, and a completed appointment may still be cancelled (which
// returns its consumed package sessions).
func isStatusTransitionAllowed(from string, to string) bool {
	if from == to {
		return false
	}
	switch from {
	case domain.AppointmentStatusPending:
		return to == domain.AppointmentStatusInProgress || to == domain.AppointmentStatusCompleted || to == domain.AppointmentStatusCancelled
	case domain.AppointmentStatusInProgress:
		return to == domain.AppointmentStatusCompleted || to == domain.AppointmentStatusCancelled
	case domain.AppointmentStatusCompleted:
		return to == domain.AppointmentStatusCancelled
	default:
		return false
	}
}
