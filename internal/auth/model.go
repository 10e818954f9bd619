package auth

import "time"

// Role is the closed set of account roles on the platform. Endpoints declare
// an allow-set of roles; the gate checks membership centrally.
type Role string

const (
	RoleParent     Role = "parent"
	RoleTeacher    Role = "teacher"
	RoleReception  Role = "reception"
	RoleAdmin      Role = "admin"
	RoleGovernment Role = "government"
	RoleBusiness   Role = "business"
)

// AllRoles lists every valid role, in a stable order.
var AllRoles = []Role{RoleParent, RoleTeacher, RoleReception, RoleAdmin, RoleGovernment, RoleBusiness}

func ParseRole(value string) (Role, bool) {
	role := Role(value)
	for _, known := range AllRoles {
		if role == known {
			return role, true
		}
	}
	return "", false
}

// requiresApproval reports whether accounts of this role must be approved by
// an admin before their first login. Teachers self-register and wait.
func (r Role) requiresApproval() bool {
	return r == RoleTeacher
}

type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	Approved     bool      `json:"approved"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is what the issuer and rotation engine hand back to the transport
// layer. The transport decides whether the tokens travel as cookies, JSON
// body fields, or both.
type Session struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	CSRFToken    string  `json:"csrf_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	Account      Account `json:"account"`
}

// RefreshCredential mirrors a row of auth_refresh_credentials. The raw token
// never appears here; only its SHA-256 hash is stored.
type RefreshCredential struct {
	ID             string
	AccountID      string
	CredentialHash string
	ExpiresAt      time.Time
	Revoked        bool
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

type LoginAttempt struct {
	Username       string
	FailedAttempts int
	LockedUntil    *time.Time
}
