package provisioner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/mapping"
	"github.com/platinummonkey/cohort/pkg/observability"
	"github.com/platinummonkey/cohort/pkg/storage"
	"github.com/platinummonkey/cohort/pkg/verifier"
)

// Path records how the account was obtained
type Path string

const (
	PathMapped  Path = "mapped"
	PathLinked  Path = "linked"
	PathCreated Path = "created"
)

// Config holds account synthesis settings
type Config struct {
	MaxUsernameLength int
	MaxUsernameSuffix int
}

// DefaultConfig returns the default synthesis limits
func DefaultConfig() Config {
	return Config{MaxUsernameLength: 150, MaxUsernameSuffix: 20}
}

// Result is a resolved local account. Mapping is nil when the account was
// linked by email but the mapping row could not be written.
type Result struct {
	Account *accounts.Account
	Mapping *mapping.IdentityMapping
	Path    Path
}

// Provisioner turns verified external claims into a local account, creating
// the account and its mapping on first login
type Provisioner struct {
	db       *sql.DB
	accounts *accounts.Store
	mappings *mapping.Store
	config   Config
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New creates a provisioner over db
func New(db *sql.DB, config Config, logger *observability.Logger, metrics *observability.Metrics) *Provisioner {
	if config.MaxUsernameLength <= 0 {
		config.MaxUsernameLength = DefaultConfig().MaxUsernameLength
	}
	if config.MaxUsernameSuffix <= 0 {
		config.MaxUsernameSuffix = DefaultConfig().MaxUsernameSuffix
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Provisioner{
		db:       db,
		accounts: accounts.NewStore(db),
		mappings: mapping.NewStore(db),
		config:   config,
		logger:   logger.WithComponent("provisioner"),
		metrics:  metrics,
	}
}

// Mappings exposes the mapping store for callers that record authentications
func (p *Provisioner) Mappings() *mapping.Store {
	return p.mappings
}

// Accounts exposes the account store
func (p *Provisioner) Accounts() *accounts.Store {
	return p.accounts
}

// ResolveOrCreateAccount finds the local account for claims: by existing
// mapping, then by email, then by creating one. A failure caused by a
// concurrent first login is retried once, so racing callers converge on the
// same account.
func (p *Provisioner) ResolveOrCreateAccount(ctx context.Context, claims *verifier.ExternalClaims) (*Result, error) {
	if claims == nil || claims.SubjectID == "" {
		return nil, newError(LookupFailed, errors.New("claims carry no subject"))
	}

	res, err := p.resolve(ctx, claims)
	var perr *Error
	if errors.As(err, &perr) && perr.retry {
		p.logger.WithField("subject", claims.SubjectID).
			WithField("kind", perr.Kind.String()).
			Info("concurrent provisioning detected, retrying")
		res, err = p.resolve(ctx, claims)
	}
	if err != nil {
		return nil, err
	}

	p.metrics.RecordProvisioning(string(res.Path))
	return res, nil
}

func (p *Provisioner) resolve(ctx context.Context, claims *verifier.ExternalClaims) (*Result, error) {
	log := observability.FromContext(ctx, p.logger).WithField("subject", claims.SubjectID)

	m, err := p.mappings.FindByExternalSubject(ctx, claims.SubjectID)
	switch {
	case err == nil:
		account, err := p.accounts.GetByID(ctx, m.LocalAccountID)
		if err != nil {
			return nil, newError(LookupFailed, fmt.Errorf("mapped account %d: %w", m.LocalAccountID, err))
		}
		if !account.IsActive {
			return nil, newError(AccountDisabled, fmt.Errorf("account %d", account.ID))
		}
		return &Result{Account: account, Mapping: m, Path: PathMapped}, nil
	case !errors.Is(err, mapping.ErrNotFound):
		return nil, newError(LookupFailed, err)
	}

	if claims.Email == "" {
		return nil, newError(MissingEmail, nil)
	}

	account, err := p.accounts.GetByEmail(ctx, claims.Email)
	switch {
	case err == nil:
		return p.link(ctx, log, account, claims)
	case !errors.Is(err, accounts.ErrNotFound):
		return nil, newError(LookupFailed, err)
	}

	return p.create(ctx, log, claims)
}

// link attaches the subject to an existing account found by email
func (p *Provisioner) link(ctx context.Context, log *observability.Logger, account *accounts.Account, claims *verifier.ExternalClaims) (*Result, error) {
	if !account.IsActive {
		return nil, newError(AccountDisabled, fmt.Errorf("account %d", account.ID))
	}

	m, err := p.mappings.Create(ctx, account.ID, claims.SubjectID, claims.Email)
	if err == nil {
		log.WithField("account_id", account.ID).Info("linked external identity to existing account")
		return &Result{Account: account, Mapping: m, Path: PathLinked}, nil
	}

	if errors.Is(err, mapping.ErrDuplicateMapping) {
		if _, lookupErr := p.mappings.FindByExternalSubject(ctx, claims.SubjectID); lookupErr == nil {
			return nil, retryable(MappingCreationFailed, err)
		}
		if existing, lookupErr := p.mappings.FindByLocalAccount(ctx, account.ID); lookupErr == nil && existing.ExternalSubjectID != claims.SubjectID {
			return nil, newError(MappingConflict, fmt.Errorf("account %d is linked to %s", account.ID, existing.ExternalSubjectID))
		}
	}

	// The account is usable without the mapping; the next login tries again.
	log.WithError(newError(MappingCreationFailed, err)).
		WithField("account_id", account.ID).
		Warn("proceeding without identity mapping")
	return &Result{Account: account, Path: PathLinked}, nil
}

// create synthesizes an account and its mapping in one transaction
func (p *Provisioner) create(ctx context.Context, log *observability.Logger, claims *verifier.ExternalClaims) (*Result, error) {
	username, err := p.pickUsername(ctx, claims.Email)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = storage.RunInTx(ctx, p.db, func(tx *sql.Tx) error {
		account, err := p.accounts.WithTx(tx).Create(ctx, accounts.NewAccount{
			Username: username,
			Email:    claims.Email,
		})
		if err != nil {
			return retryable(AccountCreationFailed, err)
		}

		m, err := p.mappings.WithTx(tx).Create(ctx, account.ID, claims.SubjectID, claims.Email)
		if err != nil {
			if errors.Is(err, mapping.ErrDuplicateMapping) {
				return retryable(MappingCreationFailed, err)
			}
			return newError(MappingCreationFailed, err)
		}

		res = &Result{Account: account, Mapping: m, Path: PathCreated}
		return nil
	})
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		// begin or commit failed
		return nil, retryable(AccountCreationFailed, err)
	}

	log.WithField("account_id", res.Account.ID).
		WithField("username", res.Account.Username).
		Info("created local account for external identity")
	return res, nil
}

// pickUsername returns the synthesized username, or the first free "_n"
// variant of it
func (p *Provisioner) pickUsername(ctx context.Context, email string) (string, error) {
	base := accounts.SynthesizeUsername(email, p.config.MaxUsernameLength)

	candidate := base
	for n := 2; ; n++ {
		taken, err := p.accounts.UsernameExists(ctx, candidate)
		if err != nil {
			return "", newError(LookupFailed, err)
		}
		if !taken {
			return candidate, nil
		}
		if n > p.config.MaxUsernameSuffix {
			return "", newError(AccountCreationFailed, fmt.Errorf("no free username for base %q", base))
		}
		candidate = accounts.WithSuffix(base, n, p.config.MaxUsernameLength)
	}
}
