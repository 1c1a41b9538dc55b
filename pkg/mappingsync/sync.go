// Package mappingsync links existing local accounts to provider users that
// share their email, so those users resolve on first login without going
// through account synthesis.
package mappingsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/async"
	"github.com/platinummonkey/cohort/pkg/mapping"
	"github.com/platinummonkey/cohort/pkg/provideradmin"
)

// Directory lists and creates provider users
type Directory interface {
	ListUsers(ctx context.Context) ([]provideradmin.User, error)
	CreateUser(ctx context.Context, u provideradmin.NewUser) (*provideradmin.User, error)
}

// AccountSource lists local accounts that have no mapping yet
type AccountSource interface {
	ListUnmapped(ctx context.Context) ([]*accounts.Account, error)
}

// MappingWriter persists new mappings
type MappingWriter interface {
	Create(ctx context.Context, accountID int64, subjectID, email string) (*mapping.IdentityMapping, error)
}

// Options controls one sync run
type Options struct {
	DryRun bool
	// CreateMissing creates provider users for accounts the provider does
	// not know, using DefaultPassword.
	CreateMissing   bool
	DefaultPassword string
	ConfirmEmail    bool
	Workers         int
	ItemTimeout     time.Duration
}

// Report counts what a run did
type Report struct {
	Unmapped        int  `json:"unmapped"`
	ProviderUsers   int  `json:"provider_users"`
	Linked          int  `json:"linked"`
	ProviderCreated int  `json:"provider_created"`
	NotFound        int  `json:"not_found"`
	Conflicts       int  `json:"conflicts"`
	Errors          int  `json:"errors"`
	DryRun          bool `json:"dry_run"`
}

// Syncer performs sync runs
type Syncer struct {
	directory Directory
	accounts  AccountSource
	mappings  MappingWriter
	logger    *logrus.Logger
}

// New creates a Syncer
func New(directory Directory, accounts AccountSource, mappings MappingWriter, logger *logrus.Logger) *Syncer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Syncer{directory: directory, accounts: accounts, mappings: mappings, logger: logger}
}

// Run links every unmapped account whose email matches a provider user
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.CreateMissing && opts.DefaultPassword == "" {
		return nil, errors.New("creating missing provider users requires a default password")
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 30 * time.Second
	}

	unmapped, err := s.accounts.ListUnmapped(ctx)
	if err != nil {
		return nil, err
	}
	report := &Report{Unmapped: len(unmapped), DryRun: opts.DryRun}
	s.logger.Infof("Found %d unmapped accounts", len(unmapped))
	if len(unmapped) == 0 {
		return report, nil
	}

	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	report.ProviderUsers = len(users)
	s.logger.Infof("Fetched %d provider users", len(users))

	byEmail := make(map[string]string, len(users))
	for _, u := range users {
		if u.Email != "" {
			byEmail[strings.ToLower(u.Email)] = u.ID
		}
	}

	var linked, created, notFound, conflicts atomic.Int64
	errs := async.Batch(ctx, unmapped, opts.Workers, "link account", opts.ItemTimeout,
		func(ctx context.Context, a *accounts.Account) error {
			email := strings.ToLower(strings.TrimSpace(a.Email))
			log := s.logger.WithFields(logrus.Fields{"account_id": a.ID, "email": email})

			subject, ok := byEmail[email]
			if !ok {
				if !opts.CreateMissing {
					notFound.Add(1)
					log.Debug("no provider user with this email")
					return nil
				}
				if opts.DryRun {
					created.Add(1)
					log.Info("would create provider user")
					return nil
				}
				u, err := s.directory.CreateUser(ctx, provideradmin.NewUser{
					Email:        a.Email,
					Password:     opts.DefaultPassword,
					EmailConfirm: opts.ConfirmEmail,
				})
				if err != nil {
					log.WithError(err).Warn("failed to create provider user")
					return fmt.Errorf("account %d: %w", a.ID, err)
				}
				created.Add(1)
				subject = u.ID
			}

			if opts.DryRun {
				linked.Add(1)
				log.WithField("subject", subject).Info("would link account")
				return nil
			}

			_, err := s.mappings.Create(ctx, a.ID, subject, email)
			switch {
			case errors.Is(err, mapping.ErrDuplicateMapping):
				conflicts.Add(1)
				log.WithField("subject", subject).Warn("provider user is already mapped to another account")
				return nil
			case err != nil:
				log.WithError(err).Error("failed to create mapping")
				return fmt.Errorf("account %d: %w", a.ID, err)
			}
			linked.Add(1)
			log.WithField("subject", subject).Info("linked account")
			return nil
		})

	report.Linked = int(linked.Load())
	report.ProviderCreated = int(created.Load())
	report.NotFound = int(notFound.Load())
	report.Conflicts = int(conflicts.Load())
	report.Errors = len(errs)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// Log writes the report summary
func (r *Report) Log(logger *logrus.Logger) {
	logger.WithFields(logrus.Fields{
		"unmapped":         r.Unmapped,
		"provider_users":   r.ProviderUsers,
		"linked":           r.Linked,
		"provider_created": r.ProviderCreated,
		"not_found":        r.NotFound,
		"conflicts":        r.Conflicts,
		"errors":           r.Errors,
		"dry_run":          r.DryRun,
	}).Info("Mapping sync finished")
}
