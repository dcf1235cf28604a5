package auth

import (
	"errors"
	"testing"
)

func TestAuthenticateDevice(t *testing.T) {
	t.Parallel()

	a := NewStaticAuthenticator("your_auth_token_here", "admin_token")

	role, err := a.Authenticate("dev-1", "your_auth_token_here")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if role != RoleDevice {
		t.Errorf("expected RoleDevice, got %v", role)
	}
}

func TestAuthenticateAdminByToken(t *testing.T) {
	t.Parallel()

	a := NewStaticAuthenticator("your_auth_token_here", "admin_token")

	role, err := a.Authenticate("console-1", "admin_token")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if role != RoleAdmin {
		t.Errorf("expected RoleAdmin, got %v", role)
	}
}

func TestAuthenticateAdminByDeviceIDPrefix(t *testing.T) {
	t.Parallel()

	a := NewStaticAuthenticator("your_auth_token_here", "admin_token")

	// Device id carries the admin prefix but presents the wrong token:
	// still classified as an admin attempt, so it must fail rather than
	// fall through to the device check.
	_, err := a.Authenticate("admin_dashboard", "your_auth_token_here")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthenticateInvalidToken(t *testing.T) {
	t.Parallel()

	a := NewStaticAuthenticator("your_auth_token_here", "admin_token")

	_, err := a.Authenticate("dev-1", "wrong")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestWithAdminDeviceIDPrefix(t *testing.T) {
	t.Parallel()

	a := NewStaticAuthenticator("dev-token", "admin-token", WithAdminDeviceIDPrefix("ctrl_"))

	role, err := a.Authenticate("ctrl_panel", "admin-token")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if role != RoleAdmin {
		t.Errorf("expected RoleAdmin, got %v", role)
	}
}
