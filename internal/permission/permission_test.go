package permission

import (
	"sort"
	"testing"

	"salepa/backend/internal/domain"
)

func TestGroupFallsBackToTechnician(t *testing.T) {
	if g := Group("admin"); g.ID != "admin" {
		t.Fatalf("group = %q, want admin", g.ID)
	}
	if g := Group("intern"); g.ID != "technician" {
		t.Fatalf("unknown role group = %q, want technician", g.ID)
	}
}

func TestEffectiveWithoutOverride(t *testing.T) {
	perms := Effective("cashier", nil)
	if !Has(perms, OrdersCreate) || !Has(perms, ShiftsManage) {
		t.Fatalf("cashier missing base permissions: %v", perms)
	}
	if Has(perms, UsersManage) {
		t.Fatalf("cashier should not manage users: %v", perms)
	}
	if !sort.StringsAreSorted(perms) {
		t.Fatalf("effective set not sorted: %v", perms)
	}
}

func TestEffectiveAppliesAddedAndRemoved(t *testing.T) {
	override := &domain.PermissionOverride{
		Username: "lan",
		Added:    []string{ReceiptsRead, ""},
		Removed:  []string{ShiftsManage},
	}

	perms := Effective("cashier", override)
	if !Has(perms, ReceiptsRead) {
		t.Fatalf("added permission missing: %v", perms)
	}
	if Has(perms, ShiftsManage) {
		t.Fatalf("removed permission still present: %v", perms)
	}
	if Has(perms, "") {
		t.Fatalf("empty permission id leaked: %v", perms)
	}
}

func TestEffectiveRemovalOfAbsentPermissionIsNoop(t *testing.T) {
	override := &domain.PermissionOverride{Removed: []string{UsersManage}}

	base := Effective("technician", nil)
	adjusted := Effective("technician", override)
	if len(base) != len(adjusted) {
		t.Fatalf("removal of absent permission changed set: %v vs %v", base, adjusted)
	}
}

func TestEffectiveDeduplicates(t *testing.T) {
	override := &domain.PermissionOverride{Added: []string{ProductsRead, ProductsRead}}

	perms := Effective("technician", override)
	count := 0
	for _, id := range perms {
		if id == ProductsRead {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("duplicate permission id in set: %v", perms)
	}
}

func TestHas(t *testing.T) {
	perms := []string{OrdersRead, ProductsRead}
	if !Has(perms, OrdersRead) {
		t.Fatal("expected Has to find orders.read")
	}
	if Has(perms, UsersManage) {
		t.Fatal("expected Has to miss users.manage")
	}
	if Has(nil, OrdersRead) {
		t.Fatal("expected Has on nil slice to be false")
	}
}
