// Package session defines the Teal data model: Session, Thread, Future, and
// ThreadState. These are plain data structures plus Session.Validate, which
// checks two of the invariants spec.md section 3 calls out (exactly one
// top-level thread, unique thread/future ids); it does not check that ids
// are dense, and single assignment of futures is enforced by package
// controller, not here. The transactional behaviour
// (locking, persistence, dispatch) lives in package controller, and the
// interpreter lives in package vm. The struct shapes are grounded on the
// teacher's registry.Function/Class field style (plain exported structs,
// no behaviour baked in) and on values.Goroutine (ID/Status/Result/Error),
// which is the closest the teacher pack gets to a Future.
package session

import "github.com/tealrun/teal/value"

// Session is the unit of a running Teal program: its executable reference,
// every thread and future it has ever created, and (once finished) its
// result. Session itself carries no lock; package controller owns locking
// so that different storage backends can implement it as a mutex, a
// database advisory lock, or a lease row.
type Session struct {
	ID            string
	ExecutableRef string // opaque reference understood by the store backend
	PendingSource string // raw Teal source submitted via set-executable, not yet compiled
	Threads       []*Thread
	Futures       []*Future
	Finished      bool
	Result        value.Value
}

// Thread is one concurrent line of bytecode execution within a Session.
type Thread struct {
	ID          int
	IsTopLevel  bool
	FutureID    int
	State       *ThreadState
	Probe       []string // ordered observability strings (spec open question (c))
	Stdout      string
	Exception   string // empty when no exception is pending
	HasException bool
}

// Frame is a saved return point: the instruction pointer to resume at and
// the binding-scope depth to restore to when a CALL returns.
type Frame struct {
	ReturnIP  int
	ScopeBase int
}

// ThreadState is a thread's mutable VM state: instruction pointer, data
// stack, call stack, and lexical binding scopes. Bounded by Limits;
// exceeding a bound is a fatal StackOverflow for the thread (spec 4.2).
type ThreadState struct {
	IP        int
	DataStack []value.Value
	CallStack []Frame
	Scopes    []map[string]value.Value
	Stopped   bool
}

// NewThreadState creates a ThreadState starting execution at ip with one
// empty lexical scope (the function's own locals).
func NewThreadState(ip int) *ThreadState {
	return &ThreadState{
		IP:     ip,
		Scopes: []map[string]value.Value{make(map[string]value.Value)},
	}
}

// Future is a single-assignment cell: once Resolved flips true, Value and
// Chain never change again (spec invariant 1). Continuations is only
// non-empty while Resolved is false (invariant 3).
type Future struct {
	ID            int
	Resolved      bool
	Value         value.Value
	Chain         int // future-id, or -1 if none
	Continuations []Continuation
}

// NoChain is the sentinel Future.Chain value meaning "no forward chain".
const NoChain = -1

// Continuation records where a waiter's resumed value should be written:
// thread ThreadID's data stack at absolute offset Offset.
type Continuation struct {
	ThreadID int
	Offset   int
}

// NewFuture creates an unresolved Future with the given id.
func NewFuture(id int) *Future {
	return &Future{ID: id, Chain: NoChain}
}

// Validate checks the session-level invariants from spec.md section 3:
// exactly one top-level thread, and unique thread/future ids.
func (s *Session) Validate() error {
	topLevel := 0
	seenThread := make(map[int]bool, len(s.Threads))
	for _, t := range s.Threads {
		if t.IsTopLevel {
			topLevel++
		}
		if seenThread[t.ID] {
			return errDuplicateThread(t.ID)
		}
		seenThread[t.ID] = true
	}
	if topLevel != 1 {
		return errTopLevelCount(topLevel)
	}

	seenFuture := make(map[int]bool, len(s.Futures))
	for _, f := range s.Futures {
		if seenFuture[f.ID] {
			return errDuplicateFuture(f.ID)
		}
		seenFuture[f.ID] = true
	}
	return nil
}
