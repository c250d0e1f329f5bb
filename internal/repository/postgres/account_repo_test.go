package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/grouptalk/internal/errs"
	"github.com/and161185/grouptalk/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var accountCols = []string{"id", "external_id", "display_name", "pwd_hash", "salt", "created_at", "last_login"}

func TestAccountRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	a := &model.Account{
		ExternalID:  uuid.Must(uuid.NewV4()),
		DisplayName: "alice",
		PwdHash:     []byte("h"),
		Salt:        []byte("s"),
	}
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO accounts \(external_id, display_name, pwd_hash, salt\) VALUES \(\$1, \$2, \$3, \$4\) RETURNING id, created_at`).
		WithArgs(a.ExternalID, a.DisplayName, a.PwdHash, a.Salt).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))
	require.NoError(t, r.Create(ctx, a))
	require.Equal(t, int64(7), a.ID)
	require.Equal(t, now, a.CreatedAt)

	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs(a.ExternalID, a.DisplayName, a.PwdHash, a.Salt).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	err := r.Create(ctx, a)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	last := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`SELECT id, external_id, display_name, pwd_hash, salt, created_at, last_login FROM accounts WHERE external_id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow(int64(1), id, "alice", []byte("h"), []byte("s"), time.Now(), &last))
	a, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, a.ExternalID)
	require.NotNil(t, a.LastLogin)
	require.Equal(t, last, *a.LastLogin)

	mock.ExpectQuery(`FROM accounts WHERE external_id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAccountRepo_GetByName(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM accounts WHERE display_name=\$1`).
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow(int64(2), id, "bob", []byte("h"), []byte("s"), time.Now(), nil))
	a, err := r.GetByName(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", a.DisplayName)
	require.Nil(t, a.LastLogin)

	mock.ExpectQuery(`FROM accounts WHERE display_name=\$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByName(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)

	boom := errors.New("conn reset")
	mock.ExpectQuery(`FROM accounts WHERE display_name=\$1`).
		WithArgs("bob").
		WillReturnError(boom)
	_, err = r.GetByName(ctx, "bob")
	require.ErrorIs(t, err, boom)
}

func TestAccountRepo_TouchLastLogin(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAccountRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	at := time.Now()

	mock.ExpectExec(`UPDATE accounts SET last_login=\$2 WHERE external_id=\$1`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.TouchLastLogin(ctx, id, at))

	mock.ExpectExec(`UPDATE accounts SET last_login`).
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.TouchLastLogin(ctx, id, at), errs.ErrNotFound)
}
