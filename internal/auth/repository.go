package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const pgUniqueViolation = "23505"

// Repository is the durable credential store. All validity coordination
// between workers happens through these queries; nothing is cached in-process.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// hashCredential is the one-way mapping from a raw refresh token to the value
// stored and looked up. The raw token never touches the database.
func hashCredential(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

func (r *Repository) FindAccountByUsername(ctx context.Context, username string) (Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active, approved, created_at, updated_at
		FROM accounts
		WHERE username = $1
	`, username))
}

func (r *Repository) FindAccountByID(ctx context.Context, id string) (Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active, approved, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id))
}

func (r *Repository) scanAccount(row *sql.Row) (Account, error) {
	var account Account
	err := row.Scan(
		&account.ID, &account.Username, &account.PasswordHash, &account.Role,
		&account.Active, &account.Approved, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}

	return account, nil
}

func (r *Repository) CreateAccount(ctx context.Context, username, plainPassword string, role Role) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	account := Account{
		ID:        id.String(),
		Username:  username,
		Role:      role,
		Active:    true,
		Approved:  !role.requiresApproval(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, username, password_hash, role, active, approved, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, account.ID, account.Username, string(hash), account.Role, account.Active, account.Approved, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Account{}, ErrAccountExists
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	return account, nil
}

func (r *Repository) ApproveAccount(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET approved = TRUE, updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("approve account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("approve account rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (r *Repository) CreateRefreshCredential(ctx context.Context, accountID, rawToken string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh credential id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_credentials (id, account_id, credential_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), accountID, hashCredential(rawToken), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh credential: %w", err)
	}

	return nil
}

// RotateRefreshCredential revokes the presented credential and stores its
// replacement. The revoke is a single conditional update scoped to
// still-valid rows, so two concurrent rotations of the same raw token get
// exactly one winner; the loser sees ErrRefreshReused. Expiry is evaluated in
// SQL at update time, never against a fetched copy.
func (r *Repository) RotateRefreshCredential(ctx context.Context, accountID, rawOldToken, rawNewToken string, newExpiresAt time.Time) error {
	newID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate rotated credential id: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation tx: %w", err)
	}
	defer tx.Rollback()

	var oldID string
	err = tx.QueryRowContext(ctx, `
		UPDATE auth_refresh_credentials
		SET revoked = TRUE, revoked_at = NOW()
		WHERE credential_hash = $1
		  AND account_id = $2
		  AND revoked = FALSE
		  AND expires_at > NOW()
		RETURNING id
	`, hashCredential(rawOldToken), accountID).Scan(&oldID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRefreshReused
		}
		return fmt.Errorf("revoke presented credential: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_refresh_credentials (id, account_id, credential_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, newID.String(), accountID, hashCredential(rawNewToken), newExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert rotated credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation tx: %w", err)
	}

	return nil
}

// RevokeAllForAccount ends every live session for the subject. Idempotent:
// already-revoked rows are untouched.
func (r *Repository) RevokeAllForAccount(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_refresh_credentials
		SET revoked = TRUE, revoked_at = NOW()
		WHERE account_id = $1 AND revoked = FALSE
	`, accountID)
	if err != nil {
		return fmt.Errorf("revoke account credentials: %w", err)
	}

	return nil
}

func (r *Repository) GetLoginAttempt(ctx context.Context, username string) (LoginAttempt, error) {
	var attempt LoginAttempt
	attempt.Username = username

	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE username = $1
	`, username).Scan(&attempt.FailedAttempts, &lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attempt, nil
		}
		return LoginAttempt{}, fmt.Errorf("query login attempt: %w", err)
	}
	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		attempt.LockedUntil = &value
	}

	return attempt, nil
}

func (r *Repository) RegisterFailedAttempt(ctx context.Context, username string, maxAttempts int, lockDuration time.Duration, now time.Time) (*time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin login attempt tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM auth_login_attempts
		WHERE username = $1
		FOR UPDATE
	`, username).Scan(&failed, &lockedUntil)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lock login attempt row: %w", err)
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return &until, nil
	}

	failed++
	var nextLock *time.Time
	var nextLockValue any
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
		failed = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_login_attempts (username, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, username, failed, nextLockValue, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert failed login attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login attempt tx: %w", err)
	}

	return nextLock, nil
}

func (r *Repository) ResetLoginAttempt(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_login_attempts
		WHERE username = $1
	`, username)
	if err != nil {
		return fmt.Errorf("reset login attempts: %w", err)
	}

	return nil
}

func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		WITH upsert AS (
			INSERT INTO auth_login_ip_limits (ip, window_started_at, hits, updated_at)
			VALUES ($1, $2, 1, $2)
			ON CONFLICT (ip) DO UPDATE
			SET
				hits = CASE
					WHEN auth_login_ip_limits.window_started_at <= $3 THEN 1
					ELSE auth_login_ip_limits.hits + 1
				END,
				window_started_at = CASE
					WHEN auth_login_ip_limits.window_started_at <= $3 THEN $2
					ELSE auth_login_ip_limits.window_started_at
				END,
				updated_at = $2
			RETURNING hits, window_started_at
		)
		SELECT hits, window_started_at FROM upsert
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip rate limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(window).Sub(now.UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter, nil
}

type CleanupResult struct {
	DeletedRefreshCredentials int64 `json:"deleted_refresh_credentials"`
	DeletedLoginAttempts      int64 `json:"deleted_login_attempts"`
	DeletedIPLimits           int64 `json:"deleted_ip_limits"`
}

func (r *Repository) CleanupStaleAuthData(ctx context.Context, credentialRetention, loginAttemptRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if credentialRetention <= 0 {
		credentialRetention = 14 * 24 * time.Hour
	}
	if loginAttemptRetention <= 0 {
		loginAttemptRetention = 30 * 24 * time.Hour
	}

	credentialCutoff := time.Now().UTC().Add(-credentialRetention)
	loginCutoff := time.Now().UTC().Add(-loginAttemptRetention)

	deletedCredentials, err := r.deleteStaleCredentials(ctx, credentialCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedAttempts, err := r.deleteStaleLoginAttempts(ctx, loginCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	deletedIPLimits, err := r.deleteStaleIPLimits(ctx, loginCutoff, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		DeletedRefreshCredentials: deletedCredentials,
		DeletedLoginAttempts:      deletedAttempts,
		DeletedIPLimits:           deletedIPLimits,
	}, nil
}

func (r *Repository) deleteStaleCredentials(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_credentials
			WHERE expires_at < NOW() OR (revoked AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM auth_refresh_credentials c
		USING stale
		WHERE c.id = stale.id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale refresh credentials: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale refresh credentials rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleLoginAttempts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT username
			FROM auth_login_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_attempts a
		USING stale
		WHERE a.username = stale.username
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login attempts rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) deleteStaleIPLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM auth_login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_ip_limits l
		USING stale
		WHERE l.ip = stale.ip
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login ip limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login ip limits rows affected: %w", err)
	}

	return affected, nil
}
