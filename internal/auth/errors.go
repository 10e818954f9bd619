package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPendingApproval    = errors.New("account pending approval")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountGone        = errors.New("account no longer exists")

	// ErrMalformedToken covers bad signatures and bad shapes alike; the
	// response never says which.
	ErrMalformedToken = errors.New("malformed token")
	ErrExpiredToken   = errors.New("expired token")

	// ErrRefreshReused is returned when a presented refresh credential has no
	// valid stored record: already rotated, revoked by logout, or expired.
	// Reuse of a rotated token lands here even though its signature verifies.
	ErrRefreshReused = errors.New("refresh credential revoked or expired")

	ErrInvalidCSRFToken = errors.New("invalid csrf token")
	ErrUnauthenticated  = errors.New("missing credentials")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// RoleError reports a role allow-set miss, naming the required set and the
// actual role so clients can render a meaningful denial.
type RoleError struct {
	Required []Role
	Actual   Role
}

func (e RoleError) Error() string {
	return fmt.Sprintf("role %q is not in allowed set %v", e.Actual, e.Required)
}
