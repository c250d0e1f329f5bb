package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var loginPolicy = Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}

func TestPG_Allow_KeyedByNameAndAddress(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)
	ip := HashIP("203.0.113.9")

	mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter WHERE username=\$1 AND ip_hash=\$2`).
		WithArgs("alice", ip).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(4 * time.Minute)))
	mock.ExpectQuery(`SELECT blocked_until FROM auth_limiter`).
		WithArgs("alice", HashIP("198.51.100.1")).
		WillReturnError(pgx.ErrNoRows)

	ok, retry, err := l.Allow(context.Background(), "alice", ip)
	require.NoError(t, err)
	require.False(t, ok)
	require.InDelta(t, float64(4*time.Minute), float64(retry), float64(5*time.Second))

	ok, retry, err = l.Allow(context.Background(), "alice", HashIP("198.51.100.1"))
	require.NoError(t, err)
	require.True(t, ok, "another address has its own counter")
	require.Zero(t, retry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Allow_ExpiredBlock(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)

	mock.ExpectQuery(`SELECT blocked_until`).
		WithArgs("bob", HashIP("127.0.0.1")).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Now().Add(-time.Second)))

	ok, retry, err := l.Allow(context.Background(), "bob", HashIP("127.0.0.1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, retry)
}

func TestPG_Allow_StoreError(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)

	mock.ExpectQuery(`SELECT blocked_until`).WillReturnError(errors.New("connection reset"))

	ok, _, err := l.Allow(context.Background(), "bob", HashIP("127.0.0.1"))
	require.Error(t, err)
	require.False(t, ok)
}

func TestPG_Failure_PassesWindowAndBlocksAtThreshold(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)
	ip := HashIP("203.0.113.9")

	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("alice", ip, loginPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
	mock.ExpectQuery(`RETURNING fail_count`).
		WithArgs("alice", ip, loginPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE auth_limiter SET blocked_until=\$3 WHERE username=\$1 AND ip_hash=\$2`).
		WithArgs("alice", ip, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	blocked, dur, err := l.Failure(context.Background(), "alice", ip)
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, dur)

	blocked, dur, err = l.Failure(context.Background(), "alice", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, loginPolicy.BlockFor, dur)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure_WindowResetCountsAsFirst(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)

	// the upsert restarts the counter when the last failure is older than the window
	mock.ExpectQuery(`CASE WHEN EXCLUDED.updated_at - auth_limiter.updated_at > \$3::interval THEN 1`).
		WithArgs("alice", HashIP("127.0.0.1"), loginPolicy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(1))

	blocked, _, err := l.Failure(context.Background(), "alice", HashIP("127.0.0.1"))
	require.NoError(t, err)
	require.False(t, blocked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Failure_BlockWriteError(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)

	mock.ExpectQuery(`RETURNING fail_count`).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE auth_limiter SET blocked_until`).
		WillReturnError(errors.New("read-only transaction"))

	blocked, _, err := l.Failure(context.Background(), "alice", HashIP("127.0.0.1"))
	require.Error(t, err)
	require.False(t, blocked)
}

func TestPG_Success_ResetsRow(t *testing.T) {
	mock := newMock(t)
	l := NewPG(mock, loginPolicy)

	mock.ExpectExec(`DO UPDATE SET fail_count=0, blocked_until='epoch'`).
		WithArgs("alice", HashIP("127.0.0.1")).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, l.Success(context.Background(), "alice", HashIP("127.0.0.1")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashIP(t *testing.T) {
	a := HashIP("203.0.113.9")
	require.Len(t, a, 32)
	require.Equal(t, a, HashIP("203.0.113.9"))
	require.NotEqual(t, a, HashIP("203.0.113.10"))
}
