// Package invoker implements the "run thread T asynchronously" capability
// (spec 4.6). The VM and Controller depend only on the Invoker interface;
// concrete backends -- an in-process worker pool and a remote/HTTP
// dispatcher -- are interchangeable (spec 9, "Dispatch polymorphism").
//
// Grounded on runtime.GoroutineManager for the in-process pool's
// queue-plus-worker-goroutines shape, and on pkg/fpm/pool/worker.go for the
// per-worker request-channel/state-machine style.
package invoker

import "context"

// Invoker requests that some worker eventually run the VM against
// (sessionID, threadID). Delivery is at-least-once; re-invoking a thread
// whose future is already resolved must be a safe no-op at the VM level
// (spec 4.6).
type Invoker interface {
	Invoke(ctx context.Context, sessionID string, threadID int) error
}

// RunFunc runs exactly one VM cycle against (sessionID, threadID). Pool
// calls back into it; Remote does not, it POSTs the request to a peer
// worker instead. Package controller supplies the implementation (it is
// the only thing that can load a session, hold its lock, and drive the VM).
type RunFunc func(ctx context.Context, sessionID string, threadID int) error
