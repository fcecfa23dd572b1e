package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tealrun/teal/bytecode"
	"github.com/tealrun/teal/session"
)

func TestMemoryCreateAndLockRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	sess, err := m.CreateSession(ctx, "exe-ref-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	locked, err := m.Lock(ctx, sess.ID)
	require.NoError(t, err)

	tid := m.NextThreadID(sess.ID)
	require.Equal(t, 0, tid)
	locked.Session().Threads = append(locked.Session().Threads, &session.Thread{
		ID: tid, IsTopLevel: true, FutureID: 0, State: session.NewThreadState(0),
	})
	require.NoError(t, locked.Save(ctx))
	locked.Unlock()

	locked2, err := m.Lock(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, locked2.Session().Threads, 1)
	locked2.Unlock()
}

func TestMemoryLockUnknownSession(t *testing.T) {
	m := NewMemory()
	_, err := m.Lock(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestParseDSN(t *testing.T) {
	d, err := ParseDSN("mysql:host=db.internal;port=3307;dbname=teal;user=root;password=hunter2")
	require.NoError(t, err)
	require.Equal(t, "mysql", d.Driver)
	require.Equal(t, "db.internal", d.Host)
	require.Equal(t, 3307, d.Port)
	require.Equal(t, "teal", d.Database)
	require.Equal(t, "root", d.Username)

	driverName, err := d.SQLDriverName()
	require.NoError(t, err)
	require.Equal(t, "mysql", driverName)
	require.Contains(t, d.DataSourceName(), "tcp(db.internal:3307)/teal")

	sq, err := ParseDSN("sqlite:/tmp/teal.db")
	require.NoError(t, err)
	require.Equal(t, "/tmp/teal.db", sq.DataSourceName())

	mem, err := ParseDSN("sqlite::memory:")
	require.NoError(t, err)
	require.Contains(t, mem.DataSourceName(), "mode=memory")
}

func TestExecutableCacheEviction(t *testing.T) {
	c := NewExecutableCache(2)
	a := bytecode.New(nil, nil, nil)
	b := bytecode.New(nil, nil, nil)
	d := bytecode.New(nil, nil, nil)

	c.Put("a", a)
	c.Put("b", b)
	_, ok := c.Get("a") // promote a to MRU
	require.True(t, ok)

	c.Put("d", d) // evicts b (least recently used)
	_, ok = c.Get("b")
	require.False(t, ok)

	_, ok = c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("d")
	require.True(t, ok)
}
