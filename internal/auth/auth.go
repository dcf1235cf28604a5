package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// Role classifies an authenticated connection.
type Role uint8

const (
	// RoleDevice is a routable device connection.
	RoleDevice Role = iota

	// RoleAdmin is an administrative connection attached to the event
	// feed and exempt from device routing.
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "device"
}

// Sentinel errors for authentication failures.
var (
	// ErrInvalidToken indicates the presented token does not match the
	// secret for the role the attempt was classified as (admin or
	// device).
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Authenticator classifies a LOGIN attempt.
type Authenticator interface {
	// Authenticate returns the Role a (deviceID, token) pair is entitled
	// to, or ErrInvalidToken if the token does not match the secret for
	// the role the attempt is classified as.
	Authenticate(deviceID, token string) (Role, error)
}

// StaticAuthenticator is a shared-secret Authenticator: one token
// string authorizes any device connection, a second authorizes admin
// connections, and a configurable device-id prefix additionally routes
// an attempt to the admin path regardless of token (mirroring the
// reference server's "device ids starting with admin_ are an admin
// attempt" rule).
type StaticAuthenticator struct {
	deviceToken string
	adminToken  string
	adminPrefix string
}

// StaticAuthenticatorOption configures a StaticAuthenticator.
type StaticAuthenticatorOption func(*StaticAuthenticator)

// WithAdminDeviceIDPrefix overrides the device-id prefix that marks a
// LOGIN attempt as an admin attempt regardless of the presented token.
func WithAdminDeviceIDPrefix(prefix string) StaticAuthenticatorOption {
	return func(a *StaticAuthenticator) {
		a.adminPrefix = prefix
	}
}

// NewStaticAuthenticator creates a StaticAuthenticator accepting
// deviceToken for device logins and adminToken for admin logins.
func NewStaticAuthenticator(deviceToken, adminToken string, opts ...StaticAuthenticatorOption) *StaticAuthenticator {
	a := &StaticAuthenticator{
		deviceToken: deviceToken,
		adminToken:  adminToken,
		adminPrefix: "admin_",
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate implements Authenticator.
//
// A LOGIN is treated as an admin attempt if deviceID carries the
// configured admin prefix or the token equals the admin token; it then
// succeeds only if the token matches the admin token exactly. Otherwise
// it is a device attempt, which succeeds only if the token matches the
// device token exactly.
func (a *StaticAuthenticator) Authenticate(deviceID, token string) (Role, error) {
	isAdminAttempt := strings.HasPrefix(deviceID, a.adminPrefix) || constantTimeEqual(token, a.adminToken)

	if isAdminAttempt {
		if constantTimeEqual(token, a.adminToken) {
			return RoleAdmin, nil
		}
		return 0, ErrInvalidToken
	}

	if constantTimeEqual(token, a.deviceToken) {
		return RoleDevice, nil
	}
	return 0, ErrInvalidToken
}

// constantTimeEqual compares two secrets without leaking timing
// information proportional to the mismatching byte offset.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
