package mapping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/storage/storagetest"
)

type fixture struct {
	store    *Store
	accounts *accounts.Store
}

func newFixture(t *testing.T) fixture {
	db := storagetest.NewSQLite(t)
	return fixture{store: NewStore(db), accounts: accounts.NewStore(db)}
}

func (f fixture) account(t *testing.T, username string) *accounts.Account {
	t.Helper()
	a, err := f.accounts.Create(context.Background(), accounts.NewAccount{Username: username, Email: username + "@example.com"})
	require.NoError(t, err)
	return a
}

func TestCreateAndFind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "ada")

	created, err := f.store.Create(ctx, a.ID, "sub-ada", "ada@example.com")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.True(t, created.IsActive)
	assert.Nil(t, created.LastAuthenticatedAt)

	bySubject, err := f.store.FindByExternalSubject(ctx, "sub-ada")
	require.NoError(t, err)
	assert.Equal(t, a.ID, bySubject.LocalAccountID)
	assert.Equal(t, "ada@example.com", bySubject.ExternalEmail)

	byAccount, err := f.store.FindByLocalAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAccount.ID)

	_, err = f.store.FindByExternalSubject(ctx, "sub-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.store.FindByLocalAccount(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.account(t, "ada")
	bob := f.account(t, "bob")

	_, err := f.store.Create(ctx, ada.ID, "sub-1", "")
	require.NoError(t, err)

	_, err = f.store.Create(ctx, bob.ID, "sub-1", "")
	assert.ErrorIs(t, err, ErrDuplicateMapping, "subject already mapped")

	_, err = f.store.Create(ctx, ada.ID, "sub-2", "")
	assert.ErrorIs(t, err, ErrDuplicateMapping, "account already mapped")
}

func TestDeactivateHidesFromSubjectLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "ada")

	m, err := f.store.Create(ctx, a.ID, "sub-1", "")
	require.NoError(t, err)
	require.NoError(t, f.store.Deactivate(ctx, m.ID))

	_, err = f.store.FindByExternalSubject(ctx, "sub-1")
	assert.ErrorIs(t, err, ErrNotFound)

	byAccount, err := f.store.FindByLocalAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, byAccount.IsActive)

	// the unique constraint still holds for inactive rows
	_, err = f.store.Create(ctx, f.account(t, "bob").ID, "sub-1", "")
	assert.ErrorIs(t, err, ErrDuplicateMapping)

	assert.ErrorIs(t, f.store.Deactivate(ctx, 4040), ErrNotFound)
}

func TestTouchLastAuthenticated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "ada")

	m, err := f.store.Create(ctx, a.ID, "sub-1", "")
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.TouchLastAuthenticated(ctx, m.ID, at))

	got, err := f.store.FindByExternalSubject(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastAuthenticatedAt)
	assert.True(t, got.LastAuthenticatedAt.Equal(at))

	assert.ErrorIs(t, f.store.TouchLastAuthenticated(ctx, 777, at), ErrNotFound)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, name := range []string{"a1", "a2", "a3"} {
		a := f.account(t, name)
		_, err := f.store.Create(ctx, a.ID, "sub-"+name, "")
		require.NoError(t, err, i)
	}

	page, err := f.store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "sub-a1", page[0].ExternalSubjectID)

	page, err = f.store.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "sub-a3", page[0].ExternalSubjectID)
}

func TestCreatePostgresUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO identity_mappings").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "identity_mappings_subject_key"})

	_, err = NewStore(db).Create(context.Background(), 1, "sub-1", "")
	assert.ErrorIs(t, err, ErrDuplicateMapping)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOtherFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO identity_mappings").WillReturnError(errors.New("disk full"))

	_, err = NewStore(db).Create(context.Background(), 1, "sub-1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateMapping)
}
