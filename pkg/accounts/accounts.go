// Package accounts stores local user accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/cohort/pkg/storage"
)

var (
	// ErrNotFound is returned when no account matches
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is returned when the username or email is already taken
	ErrDuplicate = errors.New("account already exists")
)

// Account is a local user account
type Account struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	IsActive  bool      `json:"is_active"`
	IsStaff   bool      `json:"is_staff"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount holds the fields for account creation. Accounts created here have
// no password; they authenticate only through a linked identity.
type NewAccount struct {
	Username string
	Email    string
	IsStaff  bool
}

// Store persists accounts in the users table
type Store struct {
	db  storage.DBTX
	now func() time.Time
}

// NewStore creates an account store
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// WithTx returns a store bound to tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, now: s.now}
}

const accountColumns = `id, username, email, is_active, is_staff, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &a.IsActive, &a.IsStaff, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) getOne(ctx context.Context, query string, args ...interface{}) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetByID returns the account with the given id
func (s *Store) GetByID(ctx context.Context, id int64) (*Account, error) {
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the account whose email matches exactly
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, `SELECT `+accountColumns+` FROM users WHERE email = $1`, email)
}

// UsernameExists reports whether the username is taken
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return exists, nil
}

// Create inserts an active account
func (s *Store) Create(ctx context.Context, n NewAccount) (*Account, error) {
	now := s.now().UTC()
	a := &Account{
		Username:  n.Username,
		Email:     n.Email,
		IsActive:  true,
		IsStaff:   n.IsStaff,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, is_active, is_staff, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.Username, a.Email, a.IsActive, a.IsStaff, a.CreatedAt, a.UpdatedAt,
	).Scan(&a.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, err)
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return a, nil
}

// SetActive enables or disables an account
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`, active, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnmapped returns active accounts with an email that have no identity mapping
func (s *Store) ListUnmapped(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.username, u.email, u.is_active, u.is_staff, u.created_at, u.updated_at
		 FROM users u
		 LEFT JOIN identity_mappings m ON m.local_account_id = u.id
		 WHERE m.id IS NULL AND u.email <> '' AND u.is_active = $1
		 ORDER BY u.id`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmapped accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SynthesizeUsername derives a username from the local part of an email:
// every character outside [A-Za-z0-9] becomes '_' and the result is cut to
// maxLen.
func SynthesizeUsername(email string, maxLen int) string {
	local := email
	if i := strings.LastIndex(email, "@"); i >= 0 {
		local = email[:i]
	}

	var b strings.Builder
	for _, r := range local {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}

	name := b.String()
	if name == "" {
		name = "user"
	}
	if maxLen > 0 && len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// WithSuffix appends "_n" to base, shortening base so the result fits maxLen
func WithSuffix(base string, n, maxLen int) string {
	suffix := fmt.Sprintf("_%d", n)
	if maxLen > 0 && len(base)+len(suffix) > maxLen {
		base = base[:maxLen-len(suffix)]
	}
	return base + suffix
}
