package domain

import "time"

type Product struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	ProductType    string        `json:"product_type"`
	PriceCents     int64         `json:"price_cents"`
	Stock          int           `json:"stock"`
	Sessions       int           `json:"sessions,omitempty"`
	SessionDetails []SessionPlan `json:"session_details,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
}

// SessionPlan describes what a single numbered visit of a treatment
// package consumes.
type SessionPlan struct {
	SessionNumber int           `json:"session_number"`
	Items         []SessionItem `json:"items"`
}

type SessionItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Qty       int    `json:"qty"`
}

type ProductCreateRequest struct {
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	ProductType    string        `json:"product_type"`
	PriceCents     int64         `json:"price_cents"`
	InitialStock   int           `json:"initial_stock"`
	Sessions       int           `json:"sessions,omitempty"`
	SessionDetails []SessionPlan `json:"session_details,omitempty"`
}

type ProductUpdateRequest struct {
	Name           *string        `json:"name,omitempty"`
	Category       *string        `json:"category,omitempty"`
	PriceCents     *int64         `json:"price_cents,omitempty"`
	Sessions       *int           `json:"sessions,omitempty"`
	SessionDetails *[]SessionPlan `json:"session_details,omitempty"`
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// CartItem is a snapshot of a product line at sale time. DiscountCents is
// the per-unit line discount.
type CartItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	ProductType   string `json:"product_type"`
	PriceCents    int64  `json:"price_cents"`
	Qty           int    `json:"qty"`
	DiscountCents int64  `json:"discount_cents"`
}

type PaymentEvent struct {
	Method        string    `json:"method"`
	AmountCents   int64     `json:"amount_cents"`
	ReceivedCents int64     `json:"received_cents"`
	ChangeCents   int64     `json:"change_cents"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}

type Order struct {
	ID             string         `json:"id"`
	Items          []CartItem     `json:"items"`
	SubtotalCents  int64          `json:"subtotal_cents"`
	DiscountCents  int64          `json:"discount_cents"`
	TotalCents     int64          `json:"total_cents"`
	PaymentMethod  string         `json:"payment_method"`
	PaymentHistory []PaymentEvent `json:"payment_history"`
	CustomerID     string         `json:"customer_id,omitempty"`
	CustomerName   string         `json:"customer_name,omitempty"`
	CustomerPhone  string         `json:"customer_phone,omitempty"`
	ShiftID        string         `json:"shift_id,omitempty"`
	Note           string         `json:"note,omitempty"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
}

// HeldCart parks an in-progress sale so the register can serve the next
// customer. Resuming a cart removes it from the store.
type HeldCart struct {
	ID            string     `json:"id"`
	Label         string     `json:"label,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Items         []CartItem `json:"items"`
	Note          string     `json:"note,omitempty"`
	HeldBy        string     `json:"held_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type HoldCartRequest struct {
	Label         string     `json:"label,omitempty"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Items         []CartItem `json:"items"`
	Note          string     `json:"note,omitempty"`
}

type HeldCartResponse struct {
	Cart HeldCart `json:"cart"`
}

type HeldCartListResponse struct {
	Carts []HeldCart `json:"carts"`
}

type OrderCreateRequest struct {
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	PaymentMethod string     `json:"payment_method"`
	DiscountCents int64      `json:"discount_cents"`
	ReceivedCents int64      `json:"received_cents,omitempty"`
	Note          string     `json:"note,omitempty"`
	Items         []CartItem `json:"items"`
}

type OrderResponse struct {
	Order    Order              `json:"order"`
	Packages []TreatmentPackage `json:"packages,omitempty"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type Shift struct {
	ID                string     `json:"id"`
	CashierName       string     `json:"cashier_name"`
	OpeningCashCents  int64      `json:"opening_cash_cents"`
	ClosingCashCents  int64      `json:"closing_cash_cents,omitempty"`
	ExpectedCashCents int64      `json:"expected_cash_cents,omitempty"`
	DifferenceCents   int64      `json:"difference_cents,omitempty"`
	TotalOrders       int        `json:"total_orders"`
	TotalRevenueCents int64      `json:"total_revenue_cents"`
	Status            string     `json:"status"`
	Note              string     `json:"note,omitempty"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	CashierName      string `json:"cashier_name"`
	OpeningCashCents int64  `json:"opening_cash_cents"`
}

type ShiftCloseRequest struct {
	ActualCashCents int64  `json:"actual_cash_cents"`
	Note            string `json:"note,omitempty"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type Customer struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email,omitempty"`
	TotalSpentCents int64     `json:"total_spent_cents"`
	TotalOrders     int       `json:"total_orders"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CustomerListResponse struct {
	Customers []Customer `json:"customers"`
}

// TreatmentPackage tracks a purchased multi-session service package.
// RemainingSessions is denormalized and must always equal
// TotalSessions - len(UsedSessionNumbers).
type TreatmentPackage struct {
	ID                 string        `json:"id"`
	CustomerID         string        `json:"customer_id"`
	TreatmentProductID string        `json:"treatment_product_id"`
	ProductName        string        `json:"product_name"`
	OrderID            string        `json:"order_id"`
	TotalSessions      int           `json:"total_sessions"`
	UsedSessionNumbers []int         `json:"used_session_numbers"`
	RemainingSessions  int           `json:"remaining_sessions"`
	Sessions           []SessionPlan `json:"sessions"`
	Active             bool          `json:"active"`
	PurchaseDate       time.Time     `json:"purchase_date"`
	ExpiryDate         *time.Time    `json:"expiry_date,omitempty"`
}

type PackageSessionRequest struct {
	SessionNumber int `json:"session_number"`
}

type PackageResponse struct {
	Package TreatmentPackage `json:"package"`
}

type PackageListResponse struct {
	Packages []TreatmentPackage `json:"packages"`
}

// AppointmentService is one service line within an appointment. Each line
// carries its own technician and time sub-window, which need not equal the
// appointment's own start/end. PackageID and SessionNumber, when set, link
// the line to a treatment package session consumed on completion.
type AppointmentService struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	PriceCents    int64  `json:"price_cents"`
	TechnicianID  string `json:"technician_id,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
	PackageID     string `json:"package_id,omitempty"`
	SessionNumber int    `json:"session_number,omitempty"`
}

type Appointment struct {
	ID            string               `json:"id"`
	Code          string               `json:"code"`
	CustomerID    string               `json:"customer_id,omitempty"`
	CustomerName  string               `json:"customer_name"`
	CustomerPhone string               `json:"customer_phone,omitempty"`
	Date          string               `json:"date"`
	StartTime     string               `json:"start_time"`
	EndTime       string               `json:"end_time"`
	Status        string               `json:"status"`
	Services      []AppointmentService `json:"services"`
	Note          string               `json:"note,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

type AppointmentCreateRequest struct {
	CustomerID    string               `json:"customer_id,omitempty"`
	CustomerName  string               `json:"customer_name"`
	CustomerPhone string               `json:"customer_phone,omitempty"`
	Date          string               `json:"date"`
	StartTime     string               `json:"start_time"`
	EndTime       string               `json:"end_time"`
	Services      []AppointmentService `json:"services"`
	Note          string               `json:"note,omitempty"`
}

type AppointmentUpdateRequest struct {
	Date      *string               `json:"date,omitempty"`
	StartTime *string               `json:"start_time,omitempty"`
	EndTime   *string               `json:"end_time,omitempty"`
	Services  *[]AppointmentService `json:"services,omitempty"`
	Note      *string               `json:"note,omitempty"`
}

type AppointmentStatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	Appointment Appointment `json:"appointment"`
}

type AppointmentListResponse struct {
	Appointments []Appointment `json:"appointments"`
}

type AvailabilityRequest struct {
	TechnicianID         string `json:"technician_id"`
	Date                 string `json:"date"`
	StartTime            string `json:"start_time"`
	DurationMinutes      int    `json:"duration_minutes"`
	ExcludeAppointmentID string `json:"exclude_appointment_id,omitempty"`
}

// AvailabilityResponse reports whether a technician is busy and, when busy,
// which appointment collides.
type AvailabilityResponse struct {
	Busy     bool              `json:"busy"`
	Conflict *ScheduleConflict `json:"conflict,omitempty"`
}

type ScheduleConflict struct {
	AppointmentID string `json:"appointment_id"`
	Code          string `json:"code"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type ReceiptItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents"`
}

type StockReceipt struct {
	ID         string        `json:"id"`
	Number     string        `json:"number"`
	Kind       string        `json:"kind"`
	Items      []ReceiptItem `json:"items"`
	TotalQty   int           `json:"total_qty"`
	TotalCents int64         `json:"total_cents"`
	Reason     string        `json:"reason,omitempty"`
	CreatedBy  string        `json:"created_by,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

type ReceiptCreateRequest struct {
	Items  []ReceiptItem `json:"items"`
	Reason string        `json:"reason,omitempty"`
}

type ReceiptUpdateRequest struct {
	Items  []ReceiptItem `json:"items"`
	Reason *string       `json:"reason,omitempty"`
}

type ReceiptResponse struct {
	Receipt StockReceipt `json:"receipt"`
}

type ReceiptListResponse struct {
	Receipts []StockReceipt `json:"receipts"`
}

type DailyReportPayment struct {
	PaymentMethod string `json:"payment_method"`
	Orders        int64  `json:"orders"`
	TotalCents    int64  `json:"total_cents"`
}

type DailyReport struct {
	Date            string               `json:"date"`
	Orders          int64                `json:"orders"`
	GrossSalesCents int64                `json:"gross_sales_cents"`
	DiscountCents   int64                `json:"discount_cents"`
	NetSalesCents   int64                `json:"net_sales_cents"`
	ByPayment       []DailyReportPayment `json:"by_payment"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	ExpiresAt   string   `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserResponse struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// PermissionOverride lets a single user's effective permission set diverge
// from their role group. Effective = (group - Removed) + Added.
type PermissionOverride struct {
	Username string   `json:"username"`
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
}

type OverrideUpdateRequest struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

const (
	ProductTypeProduct   = "product"
	ProductTypeService   = "service"
	ProductTypeTreatment = "treatment"
)

const (
	OrderStatusCompleted = "completed"
	OrderStatusPending   = "pending"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)

const (
	AppointmentStatusPending    = "pending"
	AppointmentStatusInProgress = "in-progress"
	AppointmentStatusCompleted  = "completed"
	AppointmentStatusCancelled  = "cancelled"
)

const (
	ReceiptKindIn  = "in"
	ReceiptKindOut = "out"
)
