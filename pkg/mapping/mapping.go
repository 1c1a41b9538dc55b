// Package mapping stores identity mappings between provider subjects and local accounts.
package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/cohort/pkg/storage"
)

var (
	// ErrNotFound is returned when no mapping matches
	ErrNotFound = errors.New("identity mapping not found")
	// ErrDuplicateMapping is returned when the subject or the local account is
	// already mapped
	ErrDuplicateMapping = errors.New("identity mapping already exists")
)

// IdentityMapping links an external subject to exactly one local account
type IdentityMapping struct {
	ID                  int64      `json:"id"`
	LocalAccountID      int64      `json:"local_account_id"`
	ExternalSubjectID   string     `json:"external_subject_id"`
	ExternalEmail       string     `json:"external_email"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	LastAuthenticatedAt *time.Time `json:"last_authenticated_at,omitempty"`
	IsActive            bool       `json:"is_active"`
}

// Store persists mappings in the identity_mappings table
type Store struct {
	db  storage.DBTX
	now func() time.Time
}

// NewStore creates a mapping store
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// WithTx returns a store bound to tx
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, now: s.now}
}

const mappingColumns = `id, local_account_id, external_subject_id, external_email, created_at, updated_at, last_authenticated_at, is_active`

func scanMapping(row interface{ Scan(...interface{}) error }) (*IdentityMapping, error) {
	var (
		m    IdentityMapping
		last sql.NullTime
	)
	err := row.Scan(&m.ID, &m.LocalAccountID, &m.ExternalSubjectID, &m.ExternalEmail,
		&m.CreatedAt, &m.UpdatedAt, &last, &m.IsActive)
	if err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		m.LastAuthenticatedAt = &t
	}
	return &m, nil
}

func (s *Store) getOne(ctx context.Context, query string, args ...interface{}) (*IdentityMapping, error) {
	m, err := scanMapping(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity mapping: %w", err)
	}
	return m, nil
}

// FindByExternalSubject returns the active mapping for the subject
func (s *Store) FindByExternalSubject(ctx context.Context, subjectID string) (*IdentityMapping, error) {
	return s.getOne(ctx,
		`SELECT `+mappingColumns+` FROM identity_mappings WHERE external_subject_id = $1 AND is_active = $2`,
		subjectID, true)
}

// FindByLocalAccount returns the mapping for the account, active or not
func (s *Store) FindByLocalAccount(ctx context.Context, accountID int64) (*IdentityMapping, error) {
	return s.getOne(ctx,
		`SELECT `+mappingColumns+` FROM identity_mappings WHERE local_account_id = $1`,
		accountID)
}

// Create inserts an active mapping. A clash on either unique column yields
// ErrDuplicateMapping.
func (s *Store) Create(ctx context.Context, accountID int64, subjectID, email string) (*IdentityMapping, error) {
	now := s.now().UTC()
	m := &IdentityMapping{
		LocalAccountID:    accountID,
		ExternalSubjectID: subjectID,
		ExternalEmail:     email,
		CreatedAt:         now,
		UpdatedAt:         now,
		IsActive:          true,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO identity_mappings (local_account_id, external_subject_id, external_email, created_at, updated_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		m.LocalAccountID, m.ExternalSubjectID, m.ExternalEmail, m.CreatedAt, m.UpdatedAt, m.IsActive,
	).Scan(&m.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMapping, err)
		}
		return nil, fmt.Errorf("failed to create identity mapping: %w", err)
	}

	return m, nil
}

// TouchLastAuthenticated records a successful authentication. Callers treat
// failures as non-fatal.
func (s *Store) TouchLastAuthenticated(ctx context.Context, mappingID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_mappings SET last_authenticated_at = $1, updated_at = $1 WHERE id = $2`,
		at.UTC(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to touch identity mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate hides the mapping from subject lookup. Rows are never deleted.
func (s *Store) Deactivate(ctx context.Context, mappingID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE identity_mappings SET is_active = $1, updated_at = $2 WHERE id = $3`,
		false, s.now().UTC(), mappingID)
	if err != nil {
		return fmt.Errorf("failed to deactivate identity mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns mappings ordered by id
func (s *Store) List(ctx context.Context, limit, offset int) ([]*IdentityMapping, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM identity_mappings ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity mappings: %w", err)
	}
	defer rows.Close()

	var out []*IdentityMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
