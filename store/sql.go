package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tealrun/teal/session"
)

// LeaseTTL bounds how long one worker may hold a session's lock row before
// another worker is allowed to steal it, guarding against a crashed worker
// wedging a session forever. Grounded on the lease-row idea in spec §6
// ("locked_by, lock_expiry") rather than a true distributed mutex.
const LeaseTTL = 30 * time.Second

// SQL is a Backend over database/sql, usable with any of the three wired
// drivers (go-sql-driver/mysql, lib/pq, modernc.org/sqlite) depending on
// which DSN scheme Open was given. Table layout follows spec §6's
// "Persistent session layout", with extra columns: pending_source and the
// next_thread_id/next_future_id counters on sessions, probe_blob and
// has_exception on threads, and value_blob for a future's value.
type SQL struct {
	db      *sql.DB
	driver  string
	ownerID string
}

// OpenSQL parses dsn, opens the matching database/sql driver, and ensures
// the sessions/threads/futures tables exist.
func OpenSQL(ctx context.Context, dsn string) (*SQL, error) {
	parsed, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	driverName, err := parsed.SQLDriverName()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, parsed.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driverName, err)
	}
	s := &SQL{db: db, driver: driverName, ownerID: uuid.NewString()}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			executable_ref TEXT,
			pending_source TEXT,
			finished INTEGER NOT NULL DEFAULT 0,
			result BLOB,
			next_thread_id INTEGER NOT NULL DEFAULT 0,
			next_future_id INTEGER NOT NULL DEFAULT 0,
			locked_by TEXT,
			lock_expiry TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			session_id TEXT NOT NULL,
			thread_id INTEGER NOT NULL,
			is_top_level INTEGER NOT NULL DEFAULT 0,
			future_id INTEGER NOT NULL,
			state_blob BLOB,
			probe_blob BLOB,
			stdout TEXT,
			exception TEXT,
			has_exception INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, thread_id)
		)`,
		`CREATE TABLE IF NOT EXISTS futures (
			session_id TEXT NOT NULL,
			future_id INTEGER NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			value_blob BLOB,
			chain_id INTEGER NOT NULL DEFAULT -1,
			continuations_blob BLOB,
			PRIMARY KEY (session_id, future_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQL) CreateSession(ctx context.Context, executableRef string) (*session.Session, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO sessions (session_id, executable_ref, finished) VALUES (?, ?, 0)`),
		id, executableRef)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return &session.Session{ID: id, ExecutableRef: executableRef}, nil
}

func (s *SQL) NextThreadID(sessionID string) int {
	return s.nextID(sessionID, "next_thread_id")
}

func (s *SQL) NextFutureID(sessionID string) int {
	return s.nextID(sessionID, "next_future_id")
}

func (s *SQL) nextID(sessionID, column string) int {
	var id int
	row := s.db.QueryRow(s.rebind(fmt.Sprintf(`SELECT %s FROM sessions WHERE session_id = ?`, column)), sessionID)
	if err := row.Scan(&id); err != nil {
		return -1
	}
	_, _ = s.db.Exec(s.rebind(fmt.Sprintf(`UPDATE sessions SET %s = ? WHERE session_id = ?`, column)), id+1, sessionID)
	return id
}

// Lock polls for the session's lease until acquired or ctx is cancelled,
// following spec §6's lock-row design: acquisition is an UPDATE that only
// succeeds when the row is unlocked or its lease has expired.
func (s *SQL) Lock(ctx context.Context, sessionID string) (Locked, error) {
	for {
		now := time.Now()
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE sessions SET locked_by = ?, lock_expiry = ?
			WHERE session_id = ? AND (locked_by IS NULL OR lock_expiry < ?)`),
			s.ownerID, now.Add(LeaseTTL), sessionID, now)
		if err != nil {
			return nil, fmt.Errorf("store: lock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		s.releaseLease(sessionID)
		return nil, err
	}
	return &sqlLocked{sql: s, sess: sess}, nil
}

func (s *SQL) releaseLease(sessionID string) {
	_, _ = s.db.Exec(s.rebind(`UPDATE sessions SET locked_by = NULL, lock_expiry = NULL WHERE session_id = ?`), sessionID)
}

func (s *SQL) loadSession(ctx context.Context, sessionID string) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT executable_ref, pending_source, finished, result FROM sessions WHERE session_id = ?`), sessionID)
	var executableRef string
	var pendingSource sql.NullString
	var finished bool
	var resultBlob []byte
	if err := row.Scan(&executableRef, &pendingSource, &finished, &resultBlob); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	result, err := decodeValue(resultBlob)
	if err != nil {
		return nil, err
	}

	sess := &session.Session{ID: sessionID, ExecutableRef: executableRef, PendingSource: pendingSource.String, Finished: finished, Result: result}

	threadRows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT thread_id, is_top_level, future_id, state_blob, probe_blob, stdout, exception, has_exception
		FROM threads WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, err
	}
	defer threadRows.Close()
	for threadRows.Next() {
		var t session.Thread
		var stateBlob, probeBlob []byte
		if err := threadRows.Scan(&t.ID, &t.IsTopLevel, &t.FutureID, &stateBlob, &probeBlob, &t.Stdout, &t.Exception, &t.HasException); err != nil {
			return nil, err
		}
		ts, err := decodeThreadState(stateBlob)
		if err != nil {
			return nil, err
		}
		t.State = ts
		probes, err := decodeProbe(probeBlob)
		if err != nil {
			return nil, err
		}
		t.Probe = probes
		sess.Threads = append(sess.Threads, &t)
	}
	if err := threadRows.Err(); err != nil {
		return nil, err
	}

	futureRows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT future_id, resolved, value_blob, chain_id, continuations_blob
		FROM futures WHERE session_id = ?`), sessionID)
	if err != nil {
		return nil, err
	}
	defer futureRows.Close()
	for futureRows.Next() {
		var f session.Future
		var valueBlob, contBlob []byte
		if err := futureRows.Scan(&f.ID, &f.Resolved, &valueBlob, &f.Chain, &contBlob); err != nil {
			return nil, err
		}
		v, err := decodeValue(valueBlob)
		if err != nil {
			return nil, err
		}
		f.Value = v
		conts, err := decodeContinuations(contBlob)
		if err != nil {
			return nil, err
		}
		f.Continuations = conts
		sess.Futures = append(sess.Futures, &f)
	}
	if err := futureRows.Err(); err != nil {
		return nil, err
	}

	return sess, nil
}

// rebind rewrites "?" placeholders to "$1", "$2", ... for postgres; mysql
// and sqlite accept "?" as-is, matching how pkg/pdo's drivers each format
// their own placeholder style.
func (s *SQL) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

type sqlLocked struct {
	sql  *SQL
	sess *session.Session
}

func (l *sqlLocked) Session() *session.Session { return l.sess }

// PutRawExecutable stages content on the locked session; like every other
// field mutation on Locked, it is only persisted once Save runs.
func (l *sqlLocked) PutRawExecutable(ctx context.Context, content string) error {
	l.sess.PendingSource = content
	return nil
}

func (l *sqlLocked) Save(ctx context.Context) error {
	s := l.sql
	resultBlob, err := encodeValue(l.sess.Result)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`UPDATE sessions SET pending_source = ?, finished = ?, result = ? WHERE session_id = ?`),
		l.sess.PendingSource, l.sess.Finished, resultBlob, l.sess.ID); err != nil {
		return err
	}

	for _, t := range l.sess.Threads {
		stateBlob, err := encodeThreadState(t.State)
		if err != nil {
			return err
		}
		probeBlob, err := encodeProbe(t.Probe)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO threads (session_id, thread_id, is_top_level, future_id, state_blob, probe_blob, stdout, exception, has_exception)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, thread_id) DO UPDATE SET
				state_blob = excluded.state_blob, probe_blob = excluded.probe_blob, stdout = excluded.stdout,
				exception = excluded.exception, has_exception = excluded.has_exception`),
			l.sess.ID, t.ID, t.IsTopLevel, t.FutureID, stateBlob, probeBlob, t.Stdout, t.Exception, t.HasException); err != nil {
			return fmt.Errorf("store: save thread %d: %w", t.ID, err)
		}
	}

	for _, f := range l.sess.Futures {
		valueBlob, err := encodeValue(f.Value)
		if err != nil {
			return err
		}
		contBlob, err := encodeContinuations(f.Continuations)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO futures (session_id, future_id, resolved, value_blob, chain_id, continuations_blob)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, future_id) DO UPDATE SET
				resolved = excluded.resolved, value_blob = excluded.value_blob,
				chain_id = excluded.chain_id, continuations_blob = excluded.continuations_blob`),
			l.sess.ID, f.ID, f.Resolved, valueBlob, f.Chain, contBlob); err != nil {
			return fmt.Errorf("store: save future %d: %w", f.ID, err)
		}
	}
	return nil
}

func (l *sqlLocked) Unlock() {
	l.sql.releaseLease(l.sess.ID)
}
