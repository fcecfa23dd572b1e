package controller

import (
	"context"

	"github.com/tealrun/teal/errs"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/value"
	"github.com/tealrun/teal/vm"
)

// hostAdapter implements vm.Host against one already-locked session (spec
// 5: the session lock is held for the duration of the whole VM cycle, so
// every fork/wait/resolve/chain call a cycle makes mutates the same
// in-memory session that RunCycle will persist when the cycle suspends).
type hostAdapter struct {
	c    *Controller
	ctx  context.Context
	sess *session.Session
}

// NewThread implements FORK (spec 4.3/4.4 new_thread): allocate a thread
// plus its owning future, seed its ThreadState to invoke calleeOffset with
// args bound as $0, $1, ..., and ask the Invoker to run it.
func (h *hostAdapter) NewThread(sessionID string, calleeOffset int, args []value.Value) (int, int, error) {
	threadID := h.c.backend.NextThreadID(sessionID)
	futureID := h.c.backend.NextFutureID(sessionID)

	ts := session.NewThreadState(calleeOffset)
	for i, a := range args {
		ts.Scopes[0][vm.ArgName(i)] = a
	}
	thread := &session.Thread{ID: threadID, FutureID: futureID, State: ts}
	h.sess.Threads = append(h.sess.Threads, thread)
	h.sess.Futures = append(h.sess.Futures, session.NewFuture(futureID))

	if err := h.c.invoke.Invoke(h.ctx, sessionID, threadID); err != nil {
		return 0, 0, err
	}
	return threadID, futureID, nil
}

// GetOrWait implements spec 4.4 get_or_wait: the check-then-append is
// atomic here simply because the whole VM cycle runs under the session
// lock -- no other goroutine can observe or mutate this session's futures
// between the check and the append.
func (h *hostAdapter) GetOrWait(sessionID string, threadID, futureID, offset int) (bool, value.Value, error) {
	f := h.c.findFuture(h.sess, futureID)
	if f == nil {
		return false, value.Value{}, errs.NewICE("session %s has no future %d", sessionID, futureID)
	}
	if resolved, v, ok := h.resolvedValue(h.sess, f); ok {
		return resolved, v, nil
	}
	f.Continuations = append(f.Continuations, session.Continuation{ThreadID: threadID, Offset: offset})
	return false, value.Value{}, nil
}

// resolvedValue follows f's forward chain to find its effective value, per
// invariant 2: an unresolved future with a chain takes on its chain
// target's eventual value. Returns ok=false only if neither f nor anything
// it chains to is resolved yet.
func (h *hostAdapter) resolvedValue(sess *session.Session, f *session.Future) (resolved bool, v value.Value, ok bool) {
	cur := f
	for {
		if cur.Resolved {
			return true, cur.Value, true
		}
		if cur.Chain == session.NoChain {
			return false, value.Value{}, false
		}
		next := h.c.findFuture(sess, cur.Chain)
		if next == nil {
			return false, value.Value{}, false
		}
		cur = next
	}
}

// ResolveFuture implements the public entry point to chain-resolve (spec
// 4.4 resolve / 4.5 chain-resolve), invoked when a thread terminates via a
// plain RET.
func (h *hostAdapter) ResolveFuture(sessionID string, futureID int, v value.Value) error {
	f := h.c.findFuture(h.sess, futureID)
	if f == nil {
		return errs.NewICE("session %s has no future %d", sessionID, futureID)
	}
	if f.Resolved {
		return errs.NewFutureViolation(futureID, "future already resolved to %s", f.Value.String())
	}
	return h.c.chainResolve(h.ctx, h.sess, f, v)
}

// ChainFuture implements MRETURN (spec 4.3 "Chain-return"): futureID's
// chain is pointed at target instead of resolving futureID directly. A
// chain that would close a cycle is rejected (spec 9, Design Notes).
func (h *hostAdapter) ChainFuture(sessionID string, futureID int, target int) error {
	f := h.c.findFuture(h.sess, futureID)
	if f == nil {
		return errs.NewICE("session %s has no future %d", sessionID, futureID)
	}
	if f.Resolved {
		return errs.NewFutureViolation(futureID, "cannot chain an already-resolved future")
	}

	byID := make(map[int]*session.Future, len(h.sess.Futures))
	for _, other := range h.sess.Futures {
		byID[other.ID] = other
	}
	if session.WouldCycle(byID, futureID, target) {
		return errs.NewFutureViolation(futureID, "chaining to future %d would close a cycle", target)
	}

	f.Chain = target

	// The chain target may already be resolved (or itself chained to a
	// resolved value) by the time we set this pointer; propagate
	// immediately rather than leaving f stuck waiting for an event that
	// already happened.
	if resolved, v, ok := h.resolvedValue(h.sess, f); ok && resolved {
		return h.c.chainResolve(h.ctx, h.sess, f, v)
	}
	return nil
}
