package controller

import (
	"context"

	"github.com/tealrun/teal/errs"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/value"
)

// chainResolve implements spec 4.5. f must not already be resolved when
// called for a freshly-returning thread's own future; it is also the
// recursive step used to cascade a value through the chain graph, where a
// future that has already taken on the cascaded value via a race is
// tolerated (idempotent completion) rather than rejected.
//
// Note on direction: MRETURN sets the RETURNING thread's own future's
// Chain field to point at the future it is deferring to (e.g. a forked
// child's future) -- so a future is resolved either directly (its owning
// thread returned a plain value) or as the result of some OTHER future
// that chains to it resolving first. Scenario 3 in spec §8 is exactly
// this: h()'s own future chains to k()'s future; when k() returns, h()'s
// future must also resolve. That means propagation walks the chain graph
// against the direction the Chain field points -- from a newly-resolved
// future to every future whose Chain field names it -- which is what the
// loop over sess.Futures below does. See DESIGN.md for the reasoning.
func (c *Controller) chainResolve(ctx context.Context, sess *session.Session, f *session.Future, v value.Value) error {
	if f.Resolved {
		if value.Equal(f.Value, v) {
			return nil // idempotent: a race already delivered the same value
		}
		return errs.NewFutureViolation(f.ID, "chain target resolved to a different value than expected")
	}

	f.Value = v
	f.Resolved = true

	continuations := f.Continuations
	f.Continuations = nil
	for _, cont := range continuations {
		if t := c.findThread(sess, cont.ThreadID); t != nil {
			if cont.Offset >= 0 && cont.Offset < len(t.State.DataStack) {
				t.State.DataStack[cont.Offset] = v
			}
			t.State.Stopped = false
		}
		if err := c.invoke.Invoke(ctx, sess.ID, cont.ThreadID); err != nil {
			return err
		}
	}

	for _, t := range sess.Threads {
		if t.IsTopLevel && t.FutureID == f.ID && !sess.Finished {
			sess.Finished = true
			sess.Result = v
		}
	}

	// Cascade to every future whose forward chain names f, i.e. every
	// future that is "waiting" on f's value via MRETURN rather than WAIT.
	for _, other := range sess.Futures {
		if other.Chain == f.ID && !other.Resolved {
			if err := c.chainResolve(ctx, sess, other, v); err != nil {
				return err
			}
		}
	}
	return nil
}
