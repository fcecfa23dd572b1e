// Package controller implements the Data Controller (spec 4.4): the
// transactional façade over persistent session state that mediates between
// the VM and the store/invoker backends. It owns every lock acquisition,
// implements get_or_wait/resolve/chain-resolve/mark_finished, and drives
// one VM cycle per dispatch.
//
// There is no teacher file that does this directly -- registry.go's
// struct-shape style and runtime/concurrency.go's GoroutineManager (waiting
// on a channel rather than a future, but the same "allocate, run, collect"
// shape) are its closest analogues -- so this package is grounded on the
// spec's own pseudocode in 4.4/4.5 translated into Go idiom: exported
// methods on a struct holding the store and invoker dependencies, plain
// error returns, a package-level logger with session_id/thread_id context
// matching teal/invoker and the teacher's log.Printf convention.
package controller

import (
	"context"
	"log"

	"github.com/tealrun/teal/bytecode"
	"github.com/tealrun/teal/errs"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/store"
	"github.com/tealrun/teal/value"
	"github.com/tealrun/teal/vm"
)

// Invoker is the subset of invoker.Invoker the Controller depends on
// (avoids an import of package invoker purely for this one method).
type Invoker interface {
	Invoke(ctx context.Context, sessionID string, threadID int) error
}

// Executables resolves a session's executable_ref to a decoded Executable,
// consulting the process-local cache (store.ExecutableCache) before
// falling back to whatever long-term storage holds the compiled bytes.
// Left abstract here because where executables actually live (a blob
// column, object storage, a local file) is outside this repository's scope
// (spec §1, compiler frontend out of scope).
type Executables interface {
	Load(ctx context.Context, ref string) (*bytecode.Executable, error)
}

// Controller is the Data Controller: one instance per worker process,
// shared across every session it touches.
type Controller struct {
	backend store.Backend
	exes    Executables
	invoke  Invoker
	limits  vm.Limits
	foreign map[string]vm.Foreign
}

// New builds a Controller. foreign is the FCALL bridge every VM cycle is
// given; limits bounds each thread's stacks.
func New(backend store.Backend, exes Executables, invoke Invoker, foreign map[string]vm.Foreign, limits vm.Limits) *Controller {
	return &Controller{backend: backend, exes: exes, invoke: invoke, limits: limits, foreign: foreign}
}

// NewSession allocates a persistent session and its top-level thread
// (thread 0), then runs the first VM cycle inline, following spec 4.7
// "new-session": "create session and top-level thread; run the first VM
// cycle inline".
func (c *Controller) NewSession(ctx context.Context, executableRef, fnName string, args []value.Value) (sess *session.Session, err error) {
	sess, err = c.backend.CreateSession(ctx, executableRef)
	if err != nil {
		return nil, err
	}

	locked, err := c.backend.Lock(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	exe, err := c.exes.Load(ctx, executableRef)
	if err != nil {
		locked.Unlock()
		return nil, err
	}
	sym, ok := exe.Lookup(fnName)
	if !ok {
		locked.Unlock()
		return nil, errs.NewLinkErrorUnknown(fnName)
	}
	if sym.Arity != len(args) {
		locked.Unlock()
		return nil, errs.NewLinkErrorArity(fnName, sym.Arity, len(args))
	}

	threadID := c.backend.NextThreadID(sess.ID)
	futureID := c.backend.NextFutureID(sess.ID)

	thread := &session.Thread{ID: threadID, IsTopLevel: true, FutureID: futureID, State: session.NewThreadState(sym.Offset)}
	for i, a := range args {
		thread.State.Scopes[0][vm.ArgName(i)] = a
	}
	locked.Session().Threads = append(locked.Session().Threads, thread)
	locked.Session().Futures = append(locked.Session().Futures, session.NewFuture(futureID))

	saveErr := locked.Save(ctx)
	sessionID := locked.Session().ID
	locked.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	if err := c.RunCycle(ctx, sessionID, threadID); err != nil {
		return nil, err
	}

	final, err := c.backend.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer final.Unlock()
	return final.Session(), nil
}

// RunCycle loads sessionID under its lock, runs one VM cycle against
// threadID, and persists the result (spec 4.7 "resume": "load the session,
// run one VM cycle on that thread, persist, and return"). This is also
// what every Invoker backend's RunFunc ultimately calls.
func (c *Controller) RunCycle(ctx context.Context, sessionID string, threadID int) error {
	locked, err := c.backend.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer locked.Unlock()

	sess := locked.Session()
	var thread *session.Thread
	for _, t := range sess.Threads {
		if t.ID == threadID {
			thread = t
			break
		}
	}
	if thread == nil {
		return errs.NewICE("session %s has no thread %d", sessionID, threadID)
	}

	// Idempotency: re-invoking an already-completed thread is a no-op
	// (spec 4.6). A thread is complete once its own future is resolved.
	if f := c.findFuture(sess, thread.FutureID); f != nil && f.Resolved {
		return nil
	}

	exe, err := c.exes.Load(ctx, sess.ExecutableRef)
	if err != nil {
		return err
	}

	host := &hostAdapter{c: c, ctx: ctx, sess: sess}
	machine := vm.New(exe, host, c.foreign, c.limits)

	outcome, runErr := machine.Run(sessionID, threadID, thread)
	if runErr != nil {
		thread.Exception = runErr.Error()
		thread.HasException = true
		thread.State.Stopped = true
		log.Printf("controller: session=%s thread=%d aborted: %v", sessionID, threadID, runErr)
	}
	_ = outcome

	return locked.Save(ctx)
}

func (c *Controller) findFuture(sess *session.Session, futureID int) *session.Future {
	for _, f := range sess.Futures {
		if f.ID == futureID {
			return f
		}
	}
	return nil
}

func (c *Controller) findThread(sess *session.Session, threadID int) *session.Thread {
	for _, t := range sess.Threads {
		if t.ID == threadID {
			return t
		}
	}
	return nil
}
