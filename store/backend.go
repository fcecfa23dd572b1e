// Package store persists Teal sessions: threads, futures, the executable
// reference, and the finished/result fields (spec 4.4, spec §6 "Persistent
// session layout"). It defines a backend-agnostic Backend interface plus two
// reference implementations: an in-memory backend for tests and the default
// in-process worker, and a SQL backend (mysql/postgres/sqlite, selected by
// DSN) for a real multi-worker deployment.
//
// Locking is coarse and session-wide, following spec 5 ("A per-session
// exclusive lock protects all reads/writes of the session's threads and
// futures for the duration of any controller operation and any VM cycle"):
// Lock loads the whole session and hands back a handle that must be Saved
// and Unlocked by the caller, mirroring the teacher's pkg/pdo.Tx
// begin/commit/rollback shape but scoped to one session instead of one SQL
// transaction.
package store

import (
	"context"
	"errors"

	"github.com/tealrun/teal/session"
)

// ErrNotFound is returned when a session id has no matching row/entry.
var ErrNotFound = errors.New("store: session not found")

// Backend is the storage contract the Controller depends on.
type Backend interface {
	// CreateSession persists a brand-new session and returns it.
	CreateSession(ctx context.Context, executableRef string) (*session.Session, error)

	// Lock acquires the session-wide exclusive lock and returns a handle
	// to the loaded session. The caller must eventually call Unlock.
	Lock(ctx context.Context, sessionID string) (Locked, error)

	// NextThreadID and NextFutureID allocate dense per-session ids. Must
	// only be called while the session is locked.
	NextThreadID(sessionID string) int
	NextFutureID(sessionID string) int
}

// Locked is a session loaded under its exclusive lock. Save persists
// mutations made to Session(); Unlock releases the lock whether or not Save
// was called. Calling Session() after Unlock is undefined.
type Locked interface {
	Session() *session.Session
	// PutRawExecutable overwrites the locked session's pending source with
	// content. It only stages the change in memory; callers must still call
	// Save to persist it, matching every other session mutation in this
	// package.
	PutRawExecutable(ctx context.Context, content string) error
	Save(ctx context.Context) error
	Unlock()
}
