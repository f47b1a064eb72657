package permission

import (
	"sort"

	"salepa/backend/internal/domain"
)

// Permission IDs. Routes in httpapi are guarded by these.
const (
	ProductsRead      = "products.read"
	ProductsWrite     = "products.write"
	OrdersCreate      = "orders.create"
	OrdersRead        = "orders.read"
	CustomersRead     = "customers.read"
	PackagesRead      = "packages.read"
	PackagesUse       = "packages.use"
	AppointmentsRead  = "appointments.read"
	AppointmentsWrite = "appointments.write"
	ReceiptsRead      = "receipts.read"
	ReceiptsWrite     = "receipts.write"
	ShiftsManage      = "shifts.manage"
	ReportsRead       = "reports.read"
	UsersManage       = "users.manage"
)

// RoleGroup bundles permission IDs under a role name.
type RoleGroup struct {
	ID          string
	Name        string
	Permissions []string
}

var roleGroups = map[string]RoleGroup{
	"admin": {
		ID:   "admin",
		Name: "Administrator",
		Permissions: []string{
			ProductsRead, ProductsWrite,
			OrdersCreate, OrdersRead,
			CustomersRead,
			PackagesRead, PackagesUse,
			AppointmentsRead, AppointmentsWrite,
			ReceiptsRead, ReceiptsWrite,
			ShiftsManage, ReportsRead, UsersManage,
		},
	},
	"cashier": {
		ID:   "cashier",
		Name: "Cashier",
		Permissions: []string{
			ProductsRead,
			OrdersCreate, OrdersRead,
			CustomersRead,
			PackagesRead, PackagesUse,
			AppointmentsRead,
			ShiftsManage,
		},
	},
	"technician": {
		ID:   "technician",
		Name: "Technician",
		Permissions: []string{
			ProductsRead,
			CustomersRead,
			PackagesRead, PackagesUse,
			AppointmentsRead, AppointmentsWrite,
		},
	},
}

// Group returns the role group for a role ID, falling back to the most
// restricted group for unknown roles.
func Group(role string) RoleGroup {
	if group, ok := roleGroups[role]; ok {
		return group
	}
	return roleGroups["technician"]
}

// Effective resolves a user's permission set: the role group's permissions
// minus the override's removed list, plus its added list. The result is
// sorted and de-duplicated.
func Effective(role string, override *domain.PermissionOverride) []string {
	group := Group(role)

	removed := make(map[string]bool)
	if override != nil {
		for _, id := range override.Removed {
			removed[id] = true
		}
	}

	set := make(map[string]bool, len(group.Permissions))
	for _, id := range group.Permissions {
		if removed[id] {
			continue
		}
		set[id] = true
	}
	if override != nil {
		for _, id := range override.Added {
			if id == "" {
				continue
			}
			set[id] = true
		}
	}

	result := make([]string, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Has reports whether an effective permission list contains the given ID.
func Has(permissions []string, id string) bool {
	for _, p := range permissions {
		if p == id {
			return true
		}
	}
	return false
}
