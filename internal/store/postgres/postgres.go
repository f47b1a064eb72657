package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"salepa/backend/internal/domain"
	"salepa/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, product_type, price_cents, stock, sessions, session_details, created_at, updated_at
		FROM products
		WHERE deleted_at IS NULL
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.ProductType == domain.ProductTypeTreatment && product.Sessions < 1 {
		return nil, store.ErrInvalidInput
	}

	details, err := json.Marshal(product.SessionDetails)
	if err != nil {
		return nil, err
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.UpdatedAt = product.CreatedAt

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, product_type, price_cents, stock, sessions, session_details, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Name, product.Category, product.ProductType, product.PriceCents,
		product.Stock, product.Sessions, details, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, product_type, price_cents, stock, sessions, session_details, created_at, updated_at
		FROM products
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, product_type, price_cents, stock, sessions, session_details, created_at, updated_at
		FROM products
		WHERE deleted_at IS NULL AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.PriceCents < 1 {
		return nil, store.ErrInvalidInput
	}

	details, err := json.Marshal(product.SessionDetails)
	if err != nil {
		return nil, err
	}
	product.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price_cents = $4, sessions = $5, session_details = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`, product.ID, product.Name, product.Category, product.PriceCents, product.Sessions, details, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) SoftDeleteProduct(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CommitOrder applies the order and every downstream effect in one
// serializable transaction. The open shift row is locked first, then stock
// is decremented with an in-query guard so an oversell rolls the whole
// commit back.
func (s *Store) CommitOrder(ctx context.Context, commit store.OrderCommit) (*domain.Order, error) {
	order := commit.Order
	if order.ID == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var shiftID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM shifts WHERE status = 'open' ORDER BY opened_at DESC LIMIT 1 FOR UPDATE
	`).Scan(&shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveShift
		}
		return nil, err
	}
	order.ShiftID = shiftID

	for _, delta := range commit.StockDeltas {
		if delta.Qty < 1 {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND deleted_at IS NULL AND stock >= $2
		`, delta.ProductID, delta.Qty)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: product %s", store.ErrInsufficientStock, delta.ProductID)
		}
	}

	if commit.NewCustomer != nil {
		c := commit.NewCustomer
		_, err = tx.ExecContext(ctx, `
			INSERT INTO customers (id, name, phone, email, total_spent_cents, total_orders, created_at, updated_at)
			VALUES ($1,$2,$3,$4,0,0,$5,$5)
		`, c.ID, c.Name, c.Phone, c.Email, c.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrInvalidInput
			}
			return nil, err
		}
	}
	if order.CustomerID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET total_spent_cents = total_spent_cents + $2, total_orders = total_orders + 1, updated_at = now()
			WHERE id = $1
		`, order.CustomerID, order.TotalCents)
		if err != nil {
			return nil, err
		}
	}

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	payments, err := json.Marshal(order.PaymentHistory)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, items, subtotal_cents, discount_cents, total_cents, payment_method, payment_history,
			customer_id, customer_name, customer_phone, shift_id, note, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, order.ID, items, order.SubtotalCents, order.DiscountCents, order.TotalCents, order.PaymentMethod,
		payments, nullIfEmpty(order.CustomerID), order.CustomerName, order.CustomerPhone,
		order.ShiftID, order.Note, order.Status, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, pkg := range commit.Packages {
		if err := insertPackage(ctx, tx, pkg); err != nil {
			return nil, err
		}
	}

	cashDelta := int64(0)
	if order.PaymentMethod == "cash" {
		cashDelta = order.TotalCents
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE shifts
		SET total_orders = total_orders + 1,
			total_revenue_cents = total_revenue_cents + $2,
			expected_cash_cents = expected_cash_cents + $3
		WHERE id = $1
	`, shiftID, order.TotalCents, cashDelta)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPackage(ctx context.Context, db execer, pkg domain.TreatmentPackage) error {
	used, err := json.Marshal(pkg.UsedSessionNumbers)
	if err != nil {
		return err
	}
	sessions, err := json.Marshal(pkg.Sessions)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO treatment_packages (
			id, customer_id, treatment_product_id, product_name, order_id, total_sessions,
			used_session_numbers, remaining_sessions, sessions, active, purchase_date, expiry_date
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, pkg.ID, nullIfEmpty(pkg.CustomerID), pkg.TreatmentProductID, pkg.ProductName, pkg.OrderID,
		pkg.TotalSessions, used, pkg.RemainingSessions, sessions, pkg.Active, pkg.PurchaseDate, nullTime(pkg.ExpiryDate))
	return err
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, items, subtotal_cents, discount_cents, total_cents, payment_method, payment_history,
			COALESCE(customer_id,''), customer_name, customer_phone, shift_id, note, status, created_at
		FROM orders
		WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, items, subtotal_cents, discount_cents, total_cents, payment_method, payment_history,
			COALESCE(customer_id,''), customer_name, customer_phone, shift_id, note, status, created_at
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{ByPayment: make([]domain.DailyReportPayment, 0, 4)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(subtotal_cents),0)::bigint,
			COALESCE(SUM(discount_cents),0)::bigint,
			COALESCE(SUM(total_cents),0)::bigint
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&report.Orders, &report.GrossSalesCents, &report.DiscountCents, &report.NetSalesCents)
	if err != nil {
		return report, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY payment_method
		ORDER BY payment_method
	`, from, to)
	if err != nil {
		return report, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.DailyReportPayment
		if err := rows.Scan(&row.PaymentMethod, &row.Orders, &row.TotalCents); err != nil {
			return report, err
		}
		report.ByPayment = append(report.ByPayment, row)
	}
	if err := rows.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Store) SaveHeldCart(ctx context.Context, cart domain.HeldCart) (*domain.HeldCart, error) {
	if cart.ID == "" || len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: held cart requires an id and items", store.ErrInvalidInput)
	}
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO held_carts (id, label, customer_name, customer_phone, items, note, held_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, cart.ID, nullIfEmpty(cart.Label), nullIfEmpty(cart.CustomerName), nullIfEmpty(cart.CustomerPhone),
		itemsJSON, nullIfEmpty(cart.Note), nullIfEmpty(cart.HeldBy), cart.CreatedAt)
	if err != nil {
		return nil, err
	}
	result := cart
	return &result, nil
}

func (s *Store) ListHeldCarts(ctx context.Context) ([]domain.HeldCart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(label,''), COALESCE(customer_name,''), COALESCE(customer_phone,''), items, COALESCE(note,''), COALESCE(held_by,''), created_at
		FROM held_carts
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	carts := make([]domain.HeldCart, 0, 8)
	for rows.Next() {
		cart, err := scanHeldCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, *cart)
	}
	return carts, rows.Err()
}

// TakeHeldCart removes and returns a held cart in one statement, so two
// registers cannot both resume the same parked sale.
func (s *Store) TakeHeldCart(ctx context.Context, id string) (*domain.HeldCart, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM held_carts
		WHERE id = $1
		RETURNING id, COALESCE(label,''), COALESCE(customer_name,''), COALESCE(customer_phone,''), items, COALESCE(note,''), COALESCE(held_by,''), created_at
	`, id)
	return scanHeldCart(row)
}

func (s *Store) DeleteHeldCart(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM held_carts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, COALESCE(email,''), total_spent_cents, total_orders, created_at, updated_at
		FROM customers
		WHERE phone = $1
	`, phone)
	return scanCustomer(row)
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, COALESCE(email,''), total_spent_cents, total_orders, created_at, updated_at
		FROM customers
		WHERE id = $1
	`, id)
	return scanCustomer(row)
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, COALESCE(email,''), total_spent_cents, total_orders, created_at, updated_at
		FROM customers
		ORDER BY name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.TotalSpentCents, &c.TotalOrders, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateTreatmentPackage(ctx context.Context, pkg domain.TreatmentPackage) (*domain.TreatmentPackage, error) {
	if pkg.ID == "" || pkg.TreatmentProductID == "" || pkg.TotalSessions < 1 {
		return nil, store.ErrInvalidInput
	}
	if pkg.UsedSessionNumbers == nil {
		pkg.UsedSessionNumbers = []int{}
	}
	if err := insertPackage(ctx, s.db, pkg); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	created := pkg
	return &created, nil
}

func (s *Store) GetTreatmentPackageByID(ctx context.Context, id string) (*domain.TreatmentPackage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(customer_id,''), treatment_product_id, product_name, order_id, total_sessions,
			used_session_numbers, remaining_sessions, sessions, active, purchase_date, expiry_date
		FROM treatment_packages
		WHERE id = $1
	`, id)

	pkg, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

func (s *Store) ListCustomerPackages(ctx context.Context, customerID string) ([]domain.TreatmentPackage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(customer_id,''), treatment_product_id, product_name, order_id, total_sessions,
			used_session_numbers, remaining_sessions, sessions, active, purchase_date, expiry_date
		FROM treatment_packages
		WHERE customer_id = $1
		ORDER BY purchase_date ASC
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packages := make([]domain.TreatmentPackage, 0, 8)
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return packages, nil
}

// UsePackageSession marks one numbered session consumed. The package row is
// locked so concurrent uses of the same session serialize, and the
// remaining count is always recomputed from the used set.
func (s *Store) UsePackageSession(ctx context.Context, packageID string, sessionNumber int) (*domain.TreatmentPackage, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	pkg, err := lockPackage(ctx, tx, packageID)
	if err != nil {
		return nil, err
	}

	if sessionNumber < 1 || sessionNumber > pkg.TotalSessions {
		return nil, store.ErrSessionNumberOutOfRange
	}
	if slices.Contains(pkg.UsedSessionNumbers, sessionNumber) {
		return nil, store.ErrDuplicateSessionUse
	}

	pkg.UsedSessionNumbers = append(pkg.UsedSessionNumbers, sessionNumber)
	slices.Sort(pkg.UsedSessionNumbers)
	pkg.RemainingSessions = pkg.TotalSessions - len(pkg.UsedSessionNumbers)
	pkg.Active = pkg.RemainingSessions > 0

	if err := savePackageSessions(ctx, tx, pkg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ReturnPackageSession hands a session back. Returning a session that was
// never used leaves the package untouched.
func (s *Store) ReturnPackageSession(ctx context.Context, packageID string, sessionNumber int) (*domain.TreatmentPackage, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	pkg, err := lockPackage(ctx, tx, packageID)
	if err != nil {
		return nil, err
	}

	idx := slices.Index(pkg.UsedSessionNumbers, sessionNumber)
	if idx < 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &pkg, nil
	}

	pkg.UsedSessionNumbers = slices.Delete(pkg.UsedSessionNumbers, idx, idx+1)
	pkg.RemainingSessions = pkg.TotalSessions - len(pkg.UsedSessionNumbers)
	pkg.Active = pkg.RemainingSessions > 0

	if err := savePackageSessions(ctx, tx, pkg); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func lockPackage(ctx context.Context, tx *sql.Tx, packageID string) (domain.TreatmentPackage, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, COALESCE(customer_id,''), treatment_product_id, product_name, order_id, total_sessions,
			used_session_numbers, remaining_sessions, sessions, active, purchase_date, expiry_date
		FROM treatment_packages
		WHERE id = $1
		FOR UPDATE
	`, packageID)

	pkg, err := scanPackage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TreatmentPackage{}, store.ErrNotFound
		}
		return domain.TreatmentPackage{}, err
	}
	return pkg, nil
}

func savePackageSessions(ctx context.Context, tx *sql.Tx, pkg domain.TreatmentPackage) error {
	used, err := json.Marshal(pkg.UsedSessionNumbers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE treatment_packages
		SET used_session_numbers = $2, remaining_sessions = $3, active = $4
		WHERE id = $1
	`, pkg.ID, used, pkg.RemainingSessions, pkg.Active)
	return err
}

func (s *Store) CreateAppointment(ctx context.Context, apt domain.Appointment) (*domain.Appointment, error) {
	if apt.ID == "" || apt.CustomerName == "" || len(apt.Services) == 0 {
		return nil, store.ErrInvalidInput
	}
	if apt.CreatedAt.IsZero() {
		apt.CreatedAt = time.Now().UTC()
	}
	apt.UpdatedAt = apt.CreatedAt
	if apt.Status == "" {
		apt.Status = domain.AppointmentStatusPending
	}

	services, err := json.Marshal(apt.Services)
	if err != nil {
		return nil, err
	}

	// The booking code is assigned from a sequence inside the insert so it
	// stays gapless-enough and unique under concurrency.
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO appointments (
			id, code, customer_id, customer_name, customer_phone, date, start_time, end_time,
			status, services, note, created_at, updated_at
		)
		VALUES ($1, 'LH' || LPAD(nextval('appointment_code_seq')::text, 6, '0'),
			$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING code
	`, apt.ID, nullIfEmpty(apt.CustomerID), apt.CustomerName, apt.CustomerPhone, apt.Date,
		apt.StartTime, apt.EndTime, apt.Status, services, apt.Note, apt.CreatedAt, apt.UpdatedAt).Scan(&apt.Code)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := apt
	return &created, nil
}

func (s *Store) GetAppointmentByID(ctx context.Context, id string) (*domain.Appointment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, COALESCE(customer_id,''), customer_name, customer_phone, date, start_time, end_time,
			status, services, note, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)

	apt, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &apt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, apt domain.Appointment) (*domain.Appointment, error) {
	if apt.ID == "" || len(apt.Services) == 0 {
		return nil, store.ErrInvalidInput
	}

	services, err := json.Marshal(apt.Services)
	if err != nil {
		return nil, err
	}
	apt.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET date = $2, start_time = $3, end_time = $4, status = $5, services = $6, note = $7, updated_at = $8
		WHERE id = $1
	`, apt.ID, apt.Date, apt.StartTime, apt.EndTime, apt.Status, services, apt.Note, apt.UpdatedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := apt
	return &updated, nil
}

func (s *Store) ListAppointmentsByDate(ctx context.Context, date string) ([]domain.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, COALESCE(customer_id,''), customer_name, customer_phone, date, start_time, end_time,
			status, services, note, created_at, updated_at
		FROM appointments
		WHERE date = $1
		ORDER BY start_time, code
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (s *Store) ListAppointments(ctx context.Context, limit int) ([]domain.Appointment, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, COALESCE(customer_id,''), customer_name, customer_phone, date, start_time, end_time,
			status, services, note, created_at, updated_at
		FROM appointments
		ORDER BY date DESC, start_time DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

// CreateStockReceipt numbers the receipt per day and kind, then applies the
// stock movement. Both happen in one serializable transaction so the number
// sequence has no duplicates and an insufficient out-movement applies
// nothing.
func (s *Store) CreateStockReceipt(ctx context.Context, receipt domain.StockReceipt) (*domain.StockReceipt, error) {
	if receipt.ID == "" || len(receipt.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if receipt.Kind != domain.ReceiptKindIn && receipt.Kind != domain.ReceiptKindOut {
		return nil, store.ErrInvalidInput
	}
	for _, item := range receipt.Items {
		if item.ProductID == "" || item.Qty < 1 || item.UnitCostCents < 0 {
			return nil, store.ErrInvalidInput
		}
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	receipt.UpdatedAt = receipt.CreatedAt

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	prefix := receiptPrefix(receipt.Kind, receipt.CreatedAt)
	var sameDay int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stock_receipts WHERE number LIKE $1 || '%'
	`, prefix).Scan(&sameDay)
	if err != nil {
		return nil, err
	}
	receipt.Number = fmt.Sprintf("%s%03d", prefix, sameDay+1)

	if err := applyStockMovement(ctx, tx, receipt.Kind, receipt.Items, false); err != nil {
		return nil, err
	}

	items, err := json.Marshal(receipt.Items)
	if err != nil {
		return nil, err
	}
	qty, cents := receiptTotals(receipt.Items)
	receipt.TotalQty = qty
	receipt.TotalCents = cents

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stock_receipts (id, number, kind, items, total_qty, total_cents, reason, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, receipt.ID, receipt.Number, receipt.Kind, items, receipt.TotalQty, receipt.TotalCents,
		receipt.Reason, receipt.CreatedBy, receipt.CreatedAt, receipt.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := receipt
	return &created, nil
}

func (s *Store) GetStockReceiptByID(ctx context.Context, id string) (*domain.StockReceipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, kind, items, total_qty, total_cents, reason, created_by, created_at, updated_at
		FROM stock_receipts
		WHERE id = $1
	`, id)

	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrReceiptNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

// UpdateStockReceipt replaces the receipt's line items and adjusts stock by
// the net difference between old and new quantities, so editing is
// idempotent: final stock reflects the latest quantities exactly once.
func (s *Store) UpdateStockReceipt(ctx context.Context, id string, items []domain.ReceiptItem, reason *string, at time.Time) (*domain.StockReceipt, error) {
	if len(items) == 0 {
		return nil, store.ErrInvalidInput
	}
	for _, item := range items {
		if item.ProductID == "" || item.Qty < 1 || item.UnitCostCents < 0 {
			return nil, store.ErrInvalidInput
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, number, kind, items, total_qty, total_cents, reason, created_by, created_at, updated_at
		FROM stock_receipts
		WHERE id = $1
		FOR UPDATE
	`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrReceiptNotFound
		}
		return nil, err
	}

	// Net delta per product: undo the old quantities, apply the new ones.
	sign := 1
	if receipt.Kind == domain.ReceiptKindOut {
		sign = -1
	}
	deltas := make(map[string]int)
	for _, item := range receipt.Items {
		deltas[item.ProductID] -= sign * item.Qty
	}
	for _, item := range items {
		deltas[item.ProductID] += sign * item.Qty
	}
	if err := applyStockDeltas(ctx, tx, deltas); err != nil {
		return nil, err
	}

	receipt.Items = items
	receipt.TotalQty, receipt.TotalCents = receiptTotals(items)
	if reason != nil {
		receipt.Reason = *reason
	}
	receipt.UpdatedAt = at.UTC()

	payload, err := json.Marshal(receipt.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE stock_receipts
		SET items = $2, total_qty = $3, total_cents = $4, reason = $5, updated_at = $6
		WHERE id = $1
	`, receipt.ID, payload, receipt.TotalQty, receipt.TotalCents, receipt.Reason, receipt.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) DeleteStockReceipt(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, number, kind, items, total_qty, total_cents, reason, created_by, created_at, updated_at
		FROM stock_receipts
		WHERE id = $1
		FOR UPDATE
	`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrReceiptNotFound
		}
		return err
	}

	if err := applyStockMovement(ctx, tx, receipt.Kind, receipt.Items, true); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_receipts WHERE id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) ListStockReceipts(ctx context.Context, kind string, limit int) ([]domain.StockReceipt, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, kind, items, total_qty, total_cents, reason, created_by, created_at, updated_at
		FROM stock_receipts
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.StockReceipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// applyStockMovement applies or reverses a receipt's effect on stock. The
// guarded update keeps every on-hand quantity non-negative.
func applyStockMovement(ctx context.Context, tx *sql.Tx, kind string, items []domain.ReceiptItem, reverse bool) error {
	deltas := make(map[string]int, len(items))
	sign := 1
	if kind == domain.ReceiptKindOut {
		sign = -1
	}
	if reverse {
		sign = -sign
	}
	for _, item := range items {
		deltas[item.ProductID] += sign * item.Qty
	}
	return applyStockDeltas(ctx, tx, deltas)
}

func applyStockDeltas(ctx context.Context, tx *sql.Tx, deltas map[string]int) error {
	for productID, delta := range deltas {
		if delta == 0 {
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1 AND deleted_at IS NULL AND stock + $2 >= 0
		`, productID, delta)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS(SELECT 1 FROM products WHERE id = $1 AND deleted_at IS NULL)
			`, productID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("%w: product %s", store.ErrInvalidInput, productID)
			}
			return fmt.Errorf("%w: product %s", store.ErrInsufficientStock, productID)
		}
	}
	return nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.ID == "" || shift.CashierName == "" {
		return nil, store.ErrInvalidInput
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ExpectedCashCents = shift.OpeningCashCents

	// The partial unique index on open shifts makes a second concurrent
	// open fail as a unique violation.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, cashier_name, opening_cash_cents, closing_cash_cents, expected_cash_cents,
			difference_cents, total_orders, total_revenue_cents, status, note, opened_at, closed_at
		)
		VALUES ($1,$2,$3,0,$4,0,0,0,$5,'',$6,NULL)
	`, shift.ID, shift.CashierName, shift.OpeningCashCents, shift.ExpectedCashCents, shift.Status, shift.OpenedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := shift
	return &created, nil
}

func (s *Store) GetOpenShift(ctx context.Context) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cashier_name, opening_cash_cents, closing_cash_cents, expected_cash_cents,
			difference_cents, total_orders, total_revenue_cents, status, note, opened_at, closed_at
		FROM shifts
		WHERE status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`)

	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveShift
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) CloseOpenShift(ctx context.Context, actualCashCents int64, note string, closedAt time.Time) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed',
			closing_cash_cents = $1,
			difference_cents = $1 - expected_cash_cents,
			note = $2,
			closed_at = $3
		WHERE status = 'open'
		RETURNING id, cashier_name, opening_cash_cents, closing_cash_cents, expected_cash_cents,
			difference_cents, total_orders, total_revenue_cents, status, note, opened_at, closed_at
	`, actualCashCents, note, closedAt.UTC())

	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoActiveShift
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidInput
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrInvalidInput
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetPermissionOverride(ctx context.Context, username string) (*domain.PermissionOverride, error) {
	var added, removed []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT added, removed FROM permission_overrides WHERE username = $1
	`, username).Scan(&added, &removed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	override := domain.PermissionOverride{Username: username}
	if err := json.Unmarshal(added, &override.Added); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(removed, &override.Removed); err != nil {
		return nil, err
	}
	return &override, nil
}

func (s *Store) SetPermissionOverride(ctx context.Context, override domain.PermissionOverride) error {
	if override.Username == "" {
		return store.ErrInvalidInput
	}
	if override.Added == nil {
		override.Added = []string{}
	}
	if override.Removed == nil {
		override.Removed = []string{}
	}
	added, err := json.Marshal(override.Added)
	if err != nil {
		return err
	}
	removed, err := json.Marshal(override.Removed)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO permission_overrides (username, added, removed, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (username)
		DO UPDATE SET added = EXCLUDED.added, removed = EXCLUDED.removed, updated_at = now()
	`, override.Username, added, removed)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var details []byte
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.ProductType, &p.PriceCents, &p.Stock, &p.Sessions, &details, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.SessionDetails); err != nil {
			return p, err
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var o domain.Order
	var items, payments []byte
	err := row.Scan(&o.ID, &items, &o.SubtotalCents, &o.DiscountCents, &o.TotalCents, &o.PaymentMethod,
		&payments, &o.CustomerID, &o.CustomerName, &o.CustomerPhone, &o.ShiftID, &o.Note, &o.Status, &o.CreatedAt)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, err
	}
	if err := json.Unmarshal(payments, &o.PaymentHistory); err != nil {
		return o, err
	}
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.TotalSpentCents, &c.TotalOrders, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanHeldCart(row rowScanner) (*domain.HeldCart, error) {
	var cart domain.HeldCart
	var itemsJSON []byte
	err := row.Scan(&cart.ID, &cart.Label, &cart.CustomerName, &cart.CustomerPhone, &itemsJSON, &cart.Note, &cart.HeldBy, &cart.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &cart.Items); err != nil {
		return nil, err
	}
	cart.CreatedAt = cart.CreatedAt.UTC()
	return &cart, nil
}

func scanPackage(row rowScanner) (domain.TreatmentPackage, error) {
	var pkg domain.TreatmentPackage
	var used, sessions []byte
	var expiry sql.NullTime
	err := row.Scan(&pkg.ID, &pkg.CustomerID, &pkg.TreatmentProductID, &pkg.ProductName, &pkg.OrderID,
		&pkg.TotalSessions, &used, &pkg.RemainingSessions, &sessions, &pkg.Active, &pkg.PurchaseDate, &expiry)
	if err != nil {
		return pkg, err
	}
	if err := json.Unmarshal(used, &pkg.UsedSessionNumbers); err != nil {
		return pkg, err
	}
	if pkg.UsedSessionNumbers == nil {
		pkg.UsedSessionNumbers = []int{}
	}
	if err := json.Unmarshal(sessions, &pkg.Sessions); err != nil {
		return pkg, err
	}
	pkg.PurchaseDate = pkg.PurchaseDate.UTC()
	if expiry.Valid {
		at := expiry.Time.UTC()
		pkg.ExpiryDate = &at
	}
	return pkg, nil
}

func scanAppointment(row rowScanner) (domain.Appointment, error) {
	var apt domain.Appointment
	var services []byte
	err := row.Scan(&apt.ID, &apt.Code, &apt.CustomerID, &apt.CustomerName, &apt.CustomerPhone,
		&apt.Date, &apt.StartTime, &apt.EndTime, &apt.Status, &services, &apt.Note, &apt.CreatedAt, &apt.UpdatedAt)
	if err != nil {
		return apt, err
	}
	if err := json.Unmarshal(services, &apt.Services); err != nil {
		return apt, err
	}
	apt.CreatedAt = apt.CreatedAt.UTC()
	apt.UpdatedAt = apt.UpdatedAt.UTC()
	return apt, nil
}

func collectAppointments(rows *sql.Rows) ([]domain.Appointment, error) {
	appointments := make([]domain.Appointment, 0, 32)
	for rows.Next() {
		apt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appointments = append(appointments, apt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appointments, nil
}

func scanReceipt(row rowScanner) (domain.StockReceipt, error) {
	var receipt domain.StockReceipt
	var items []byte
	err := row.Scan(&receipt.ID, &receipt.Number, &receipt.Kind, &items, &receipt.TotalQty,
		&receipt.TotalCents, &receipt.Reason, &receipt.CreatedBy, &receipt.CreatedAt, &receipt.UpdatedAt)
	if err != nil {
		return receipt, err
	}
	if err := json.Unmarshal(items, &receipt.Items); err != nil {
		return receipt, err
	}
	receipt.CreatedAt = receipt.CreatedAt.UTC()
	receipt.UpdatedAt = receipt.UpdatedAt.UTC()
	return receipt, nil
}

func scanShift(row rowScanner) (domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	err := row.Scan(&shift.ID, &shift.CashierName, &shift.OpeningCashCents, &shift.ClosingCashCents,
		&shift.ExpectedCashCents, &shift.DifferenceCents, &shift.TotalOrders, &shift.TotalRevenueCents,
		&shift.Status, &shift.Note, &shift.OpenedAt, &closedAt)
	if err != nil {
		return shift, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return shift, nil
}

func receiptPrefix(kind string, at time.Time) string {
	label := "IN"
	if kind == domain.ReceiptKindOut {
		label = "OUT"
	}
	return label + "-" + at.UTC().Format("20060102") + "-"
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

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
