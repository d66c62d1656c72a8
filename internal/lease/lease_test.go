package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMocked(t *testing.T) (*Redis, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewRedis(db, 30*time.Second)
	l.NewToken = func() string { return "tok-1" }
	return l, mock
}

func TestRedis_AcquireAndRelease(t *testing.T) {
	l, mock := newMocked(t)
	defer mock.ClearExpect()

	mock.ExpectSetNX("lease:mint:o1", "tok-1", 30*time.Second).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"lease:mint:o1"}, "tok-1").SetVal(int64(1))

	release, ok, err := l.Acquire(context.Background(), "mint:o1")
	require.NoError(t, err)
	require.True(t, ok)
	release()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Busy(t *testing.T) {
	l, mock := newMocked(t)
	defer mock.ClearExpect()

	mock.ExpectSetNX("lease:mint:o1", "tok-1", 30*time.Second).SetVal(false)

	release, ok, err := l.Acquire(context.Background(), "mint:o1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Error(t *testing.T) {
	l, mock := newMocked(t)
	defer mock.ClearExpect()

	mock.ExpectSetNX("lease:mint:o1", "tok-1", 30*time.Second).SetErr(errors.New("connection refused"))

	_, ok, err := l.Acquire(context.Background(), "mint:o1")
	assert.False(t, ok)
	assert.ErrorContains(t, err, "connection refused")
}

func TestLocal(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.Acquire(ctx, "k")
	assert.False(t, ok)

	release()
	release()
	_, ok, _ = l.Acquire(ctx, "k")
	assert.True(t, ok)
}
