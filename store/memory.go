package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tealrun/teal/session"
)

// Memory is an in-process Backend: every session lives in a map behind a
// per-session mutex. This is the default backend for a single-worker
// deployment and the backend every controller/vm property test runs
// against, mirroring how the teacher's pkg/fpm/pool keeps worker state
// in-process rather than reaching for a database by default.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*memSession
}

type memSession struct {
	mu         sync.Mutex
	sess       *session.Session
	nextThread int
	nextFuture int
}

// NewMemory builds an empty in-memory Backend.
func NewMemory() *Memory {
	return &Memory{sessions: map[string]*memSession{}}
}

func (m *Memory) CreateSession(ctx context.Context, executableRef string) (*session.Session, error) {
	id := uuid.NewString()
	s := &session.Session{ID: id, ExecutableRef: executableRef}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &memSession{sess: s}
	return s, nil
}

func (m *Memory) NextThreadID(sessionID string) int {
	ms := m.find(sessionID)
	if ms == nil {
		return -1
	}
	id := ms.nextThread
	ms.nextThread++
	return id
}

func (m *Memory) NextFutureID(sessionID string) int {
	ms := m.find(sessionID)
	if ms == nil {
		return -1
	}
	id := ms.nextFuture
	ms.nextFuture++
	return id
}

func (m *Memory) find(sessionID string) *memSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionID]
}

func (m *Memory) Lock(ctx context.Context, sessionID string) (Locked, error) {
	ms := m.find(sessionID)
	if ms == nil {
		return nil, ErrNotFound
	}
	ms.mu.Lock()
	return &memLocked{ms: ms}, nil
}

type memLocked struct {
	ms *memSession
}

func (l *memLocked) Session() *session.Session { return l.ms.sess }

// PutRawExecutable stages content directly on the in-memory session; since
// Save is a no-op for this backend, the write is already durable once this
// returns.
func (l *memLocked) PutRawExecutable(ctx context.Context, content string) error {
	l.ms.sess.PendingSource = content
	return nil
}

// Save is a no-op: the in-memory backend mutates the session in place, so
// there is nothing to flush. It still exists on the interface because the
// SQL backend needs an explicit write-back point.
func (l *memLocked) Save(ctx context.Context) error { return nil }

func (l *memLocked) Unlock() { l.ms.mu.Unlock() }
