package store

import (
	"context"
	"errors"
	"time"

	"salepa/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrInvalidInput          = errors.New("invalid input")
	ErrNoActiveShift         = errors.New("no active shift")
	ErrDuplicateSessionUse   = errors.New("session number already used")
	ErrSessionNumberOutOfRange = errors.New("session number out of range")
	ErrReceiptNotFound       = errors.New("receipt not found")
)

// OrderCommit bundles every downstream effect of an order so the repository
// can apply it as a single atomic transition: stock decrements, the order
// itself, the customer upsert, treatment package creation, and the open
// shift counters. Nothing is applied if any part fails.
type OrderCommit struct {
	Order       domain.Order
	StockDeltas []domain.StockAdjustment
	NewCustomer *domain.Customer
	Packages    []domain.TreatmentPackage
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SoftDeleteProduct(ctx context.Context, id string, at time.Time) error

	CommitOrder(ctx context.Context, commit OrderCommit) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]domain.Order, error)
	GetDailyReport(ctx context.Context, from time.Time, to time.Time) (domain.DailyReport, error)

	SaveHeldCart(ctx context.Context, cart domain.HeldCart) (*domain.HeldCart, error)
	ListHeldCarts(ctx context.Context) ([]domain.HeldCart, error)
	TakeHeldCart(ctx context.Context, id string) (*domain.HeldCart, error)
	DeleteHeldCart(ctx context.Context, id string) error

	FindCustomerByPhone(ctx context.Context, phone string) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	CreateTreatmentPackage(ctx context.Context, pkg domain.TreatmentPackage) (*domain.TreatmentPackage, error)
	GetTreatmentPackageByID(ctx context.Context, id string) (*domain.TreatmentPackage, error)
	ListCustomerPackages(ctx context.Context, customerID string) ([]domain.TreatmentPackage, error)
	UsePackageSession(ctx context.Context, packageID string, sessionNumber int) (*domain.TreatmentPackage, error)
	ReturnPackageSession(ctx context.Context, packageID string, sessionNumber int) (*domain.TreatmentPackage, error)

	CreateAppointment(ctx context.Context, apt domain.Appointment) (*domain.Appointment, error)
	GetAppointmentByID(ctx context.Context, id string) (*domain.Appointment, error)
	UpdateAppointment(ctx context.Context, apt domain.Appointment) (*domain.Appointment, error)
	ListAppointmentsByDate(ctx context.Context, date string) ([]domain.Appointment, error)
	ListAppointments(ctx context.Context, limit int) ([]domain.Appointment, error)

	CreateStockReceipt(ctx context.Context, receipt domain.StockReceipt) (*domain.StockReceipt, error)
	GetStockReceiptByID(ctx context.Context, id string) (*domain.StockReceipt, error)
	UpdateStockReceipt(ctx context.Context, id string, items []domain.ReceiptItem, reason *string, at time.Time) (*domain.StockReceipt, error)
	DeleteStockReceipt(ctx context.Context, id string) error
	ListStockReceipts(ctx context.Context, kind string, limit int) ([]domain.StockReceipt, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetOpenShift(ctx context.Context) (*domain.Shift, error)
	CloseOpenShift(ctx context.Context, actualCashCents int64, note string, closedAt time.Time) (*domain.Shift, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	GetPermissionOverride(ctx context.Context, username string) (*domain.PermissionOverride, error)
	SetPermissionOverride(ctx context.Context, override domain.PermissionOverride) error
}
