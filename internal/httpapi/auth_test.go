package httpapi

import (
	"context"
	"testing"
	"time"

	"salepa/backend/internal/domain"
	"salepa/backend/internal/permission"
	"salepa/backend/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %q, want admin", resp.Role)
	}
	if !permission.Has(resp.Permissions, permission.UsersManage) {
		t.Fatalf("admin permissions missing %s: %v", permission.UsersManage, resp.Permissions)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "wrong"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "nobody", Password: "admin123"}); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret", time.Millisecond, "4321", repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	repo := memory.NewSeeded()
	signer := NewAuthManager("secret-a", time.Hour, "4321", repo)
	verifier := NewAuthManager("secret-b", time.Hour, "4321", repo)

	resp, err := signer.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected token signed with other secret to be rejected")
	}
}

func TestEffectivePermissionsAppliesOverride(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)
	ctx := context.Background()

	base := auth.EffectivePermissions(ctx, "technician", "technician")
	if permission.Has(base, permission.OrdersRead) {
		t.Fatalf("technician should not have %s by default", permission.OrdersRead)
	}

	err := repo.SetPermissionOverride(ctx, domain.PermissionOverride{
		Username: "technician",
		Added:    []string{permission.OrdersRead},
		Removed:  []string{permission.AppointmentsWrite},
	})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}

	effective := auth.EffectivePermissions(ctx, "technician", "technician")
	if !permission.Has(effective, permission.OrdersRead) {
		t.Fatalf("override add not applied: %v", effective)
	}
	if permission.Has(effective, permission.AppointmentsWrite) {
		t.Fatalf("override removal not applied: %v", effective)
	}
}

func TestCreateUserValidation(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)

	cases := []struct {
		name string
		req  domain.UserCreateRequest
	}{
		{"short username", domain.UserCreateRequest{Username: "ab", Password: "secret99", Role: "cashier"}},
		{"username with space", domain.UserCreateRequest{Username: "le thu", Password: "secret99", Role: "cashier"}},
		{"short password", domain.UserCreateRequest{Username: "lethu", Password: "abc", Role: "cashier"}},
		{"unknown role", domain.UserCreateRequest{Username: "lethu", Password: "secret99", Role: "owner"}},
		{"duplicate", domain.UserCreateRequest{Username: "admin", Password: "secret99", Role: "admin"}},
	}
	for _, tc := range cases {
		if _, err := auth.CreateUser(tc.req); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}

	user, err := auth.CreateUser(domain.UserCreateRequest{Username: "LeThu", Password: "secret99", Role: "cashier"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Username != "lethu" {
		t.Fatalf("username = %q, want lowercased", user.Username)
	}
	if _, err := auth.Login(domain.LoginRequest{Username: "lethu", Password: "secret99"}); err != nil {
		t.Fatalf("login as created user: %v", err)
	}
}

func TestValidateManagerPIN(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret", time.Hour, "4321", repo)

	if !auth.ValidateManagerPIN("4321") {
		t.Fatal("correct pin rejected")
	}
	if auth.ValidateManagerPIN("0000") {
		t.Fatal("wrong pin accepted")
	}
	if auth.ValidateManagerPIN("") {
		t.Fatal("empty pin accepted")
	}
}
