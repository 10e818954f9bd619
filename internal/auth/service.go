package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMaxAttempts = 5
	defaultLockWindow  = 15 * time.Minute
)

// Store is the durable state the service coordinates through. *Repository is
// the Postgres implementation; tests inject an in-memory fake.
type Store interface {
	FindAccountByUsername(ctx context.Context, username string) (Account, error)
	FindAccountByID(ctx context.Context, id string) (Account, error)
	CreateAccount(ctx context.Context, username, plainPassword string, role Role) (Account, error)
	ApproveAccount(ctx context.Context, id string) error
	CreateRefreshCredential(ctx context.Context, accountID, rawToken string, expiresAt time.Time) error
	RotateRefreshCredential(ctx context.Context, accountID, rawOldToken, rawNewToken string, newExpiresAt time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string) error
	GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error)
	RegisterFailedAttempt(ctx context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error)
	ResetLoginAttempt(ctx context.Context, username string) error
}

// Service is the session issuer and rotation engine. It owns no mutable state
// of its own; every validity decision goes through the store.
type Service struct {
	store        Store
	codec        *TokenCodec
	maxAttempts  int
	lockDuration time.Duration
}

func NewService(store Store, codec *TokenCodec) *Service {
	return &Service{
		store:        store,
		codec:        codec,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockWindow,
	}
}

func (s *Service) WithLockoutConfig(maxAttempts int, lockDuration time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
}

// Login verifies credentials and issues a fresh session. Absent accounts and
// wrong passwords are indistinguishable to the caller; only the pending
// approval and disabled states surface as their own kinds.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	attempt, err := s.store.GetLoginAttempt(ctx, username)
	if err != nil {
		return Session{}, err
	}
	if attempt.LockedUntil != nil && now.Before(*attempt.LockedUntil) {
		return Session{}, ErrLoginLocked{Until: *attempt.LockedUntil}
	}

	account, err := s.store.FindAccountByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, s.failLogin(ctx, username, now)
		}
		return Session{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Session{}, s.failLogin(ctx, username, now)
	}

	if err := accountStateError(account); err != nil {
		return Session{}, err
	}

	if err := s.store.ResetLoginAttempt(ctx, username); err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, account)
}

func (s *Service) failLogin(ctx context.Context, username string, now time.Time) error {
	lockedUntil, err := s.store.RegisterFailedAttempt(ctx, username, s.maxAttempts, s.lockDuration, now)
	if err != nil {
		return err
	}
	if lockedUntil != nil {
		return ErrLoginLocked{Until: *lockedUntil}
	}
	return ErrInvalidCredentials
}

// Refresh rotates the presented refresh credential: the store revokes it and
// records the replacement in one conditional step, so a replayed token fails
// with ErrRefreshReused even though its signature still verifies.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (Session, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return Session{}, ErrMalformedToken
	}

	claims, err := s.codec.VerifyRefresh(rawRefresh)
	if err != nil {
		return Session{}, err
	}

	account, err := s.store.FindAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrAccountGone
		}
		return Session{}, err
	}

	if err := accountStateError(account); err != nil {
		return Session{}, err
	}

	newRefresh, err := s.codec.IssueRefresh(account.ID)
	if err != nil {
		return Session{}, err
	}

	newExpiry := time.Now().UTC().Add(s.codec.RefreshTTL())
	if err := s.store.RotateRefreshCredential(ctx, account.ID, rawRefresh, newRefresh, newExpiry); err != nil {
		return Session{}, err
	}

	return s.buildSession(account, newRefresh)
}

// Logout revokes every refresh credential for the subject. Access tokens
// cannot be recalled; they run out their short TTL.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	return s.store.RevokeAllForAccount(ctx, accountID)
}

func (s *Service) Register(ctx context.Context, username, password string, role Role) (Account, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	return s.store.CreateAccount(ctx, username, password, role)
}

func (s *Service) Approve(ctx context.Context, accountID string) error {
	err := s.store.ApproveAccount(ctx, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountGone
	}
	return err
}

// EnsureAdmin seeds the admin account from the environment on first boot.
// No-op when both values are empty or when the account already exists.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)

	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}

	_, err := s.store.FindAccountByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	if _, err := s.store.CreateAccount(ctx, username, password, RoleAdmin); err != nil {
		return fmt.Errorf("seed admin account: %w", err)
	}

	return nil
}

// issueSession creates the access/refresh pair and persists the refresh hash.
// If the store write fails no tokens reach the caller.
func (s *Service) issueSession(ctx context.Context, account Account) (Session, error) {
	refreshToken, err := s.codec.IssueRefresh(account.ID)
	if err != nil {
		return Session{}, err
	}

	expiresAt := time.Now().UTC().Add(s.codec.RefreshTTL())
	if err := s.store.CreateRefreshCredential(ctx, account.ID, refreshToken, expiresAt); err != nil {
		return Session{}, err
	}

	return s.buildSession(account, refreshToken)
}

func (s *Service) buildSession(account Account, refreshToken string) (Session, error) {
	accessToken, err := s.codec.IssueAccess(account.ID)
	if err != nil {
		return Session{}, err
	}

	csrfToken, err := randomToken(32)
	if err != nil {
		return Session{}, fmt.Errorf("generate csrf token: %w", err)
	}

	return Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CSRFToken:    csrfToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessTTL().Seconds()),
		Account:      account,
	}, nil
}

// accountStateError is the account-state gate: a valid credential is not
// enough when the account is switched off or still awaiting approval.
func accountStateError(account Account) error {
	if !account.Active {
		return ErrAccountDisabled
	}
	if account.Role.requiresApproval() && !account.Approved {
		return ErrPendingApproval
	}
	return nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
