package controller

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tealrun/teal/bytecode"
	"github.com/tealrun/teal/invoker"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/store"
	"github.com/tealrun/teal/value"
	"github.com/tealrun/teal/vm"
)

// fakeExecutables serves pre-built Executables by ref, bypassing any real
// byte storage -- the compiler frontend that would produce these bytes is
// out of scope for this repository.
type fakeExecutables map[string]*bytecode.Executable

func (f fakeExecutables) Load(ctx context.Context, ref string) (*bytecode.Executable, error) {
	return f[ref], nil
}

func addFn(args []value.Value) (value.Value, error) {
	return value.Int(args[0].AsInt() + args[1].AsInt()), nil
}

func mulFn(args []value.Value) (value.Value, error) {
	return value.Int(args[0].AsInt() * args[1].AsInt()), nil
}

func newTestController(t *testing.T, exe *bytecode.Executable) (*Controller, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	exes := fakeExecutables{"exe1": exe}

	var ctrl *Controller
	pool := invoker.NewPool(func(ctx context.Context, sessionID string, threadID int) error {
		return ctrl.RunCycle(ctx, sessionID, threadID)
	}, 4, 64)
	pool.Start()
	t.Cleanup(pool.Stop)

	foreign := map[string]vm.Foreign{"add": addFn, "mul": mulFn}
	ctrl = New(mem, exes, pool, foreign, vm.DefaultLimits)
	return ctrl, mem
}

// Scenario 1 (spec §8): main() = 1 + 2 -> result 3, threads=1, finished.
func TestScenarioSimpleAddition(t *testing.T) {
	exe := bytecode.New(
		[]bytecode.Instruction{
			{Op: bytecode.OpPush, A: 0},
			{Op: bytecode.OpPush, A: 1},
			{Op: bytecode.OpFCall, A: 2, B: 2},
			{Op: bytecode.OpRet},
		},
		[]value.Value{value.Int(1), value.Int(2), value.String("add")},
		[]bytecode.Symbol{{Name: "main", Offset: 0, Arity: 0}},
	)
	ctrl, _ := newTestController(t, exe)

	sess, err := ctrl.NewSession(context.Background(), "exe1", "main", nil)
	require.NoError(t, err)
	require.True(t, sess.Finished)
	require.Equal(t, int64(3), sess.Result.AsInt())
	require.Len(t, sess.Threads, 1)
}

// Scenario 2 (spec §8): main() = let f = fork(g, 10) in wait(f) + 1;
// g(x) = x * 2 -> result 21, threads=2, both stopped.
func TestScenarioForkWaitJoin(t *testing.T) {
	exe := bytecode.New(
		[]bytecode.Instruction{
			// main @ 0
			{Op: bytecode.OpPush, A: 0}, // func g
			{Op: bytecode.OpPush, A: 1}, // 10
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpWait},
			{Op: bytecode.OpPush, A: 2}, // 1
			{Op: bytecode.OpFCall, A: 3, B: 2},
			{Op: bytecode.OpRet},
			// g(x) @ 7
			{Op: bytecode.OpLookup, A: 4}, // $0
			{Op: bytecode.OpPush, A: 5},   // 2
			{Op: bytecode.OpFCall, A: 6, B: 2},
			{Op: bytecode.OpRet},
		},
		[]value.Value{
			value.Func("g", 7), value.Int(10), value.Int(1), value.String("add"),
			value.String("$0"), value.Int(2), value.String("mul"),
		},
		[]bytecode.Symbol{{Name: "main", Offset: 0, Arity: 0}, {Name: "g", Offset: 7, Arity: 1}},
	)
	ctrl, _ := newTestController(t, exe)

	var sess *session.Session
	require.Eventually(t, func() bool {
		s, err := ctrl.NewSession(context.Background(), "exe1", "main", nil)
		require.NoError(t, err)
		sess = s
		return sess.Finished
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, int64(21), sess.Result.AsInt())
	require.Len(t, sess.Threads, 2)
	for _, th := range sess.Threads {
		require.True(t, th.State.Stopped)
	}
}

// Scenario 3 (spec §8): main() = h(); h() = fork(k, 5); k(x) = x + 100.
// h's tail value is a future, so it chains instead of resolving directly;
// when k resolves to 105, chain-resolve must propagate that value all the
// way up to main's own future and finish the session.
func TestScenarioChainPropagation(t *testing.T) {
	exe := bytecode.New(
		[]bytecode.Instruction{
			// main @ 0
			{Op: bytecode.OpPush, A: 0}, // func h
			{Op: bytecode.OpCall, A: 0},
			// h @ 2
			{Op: bytecode.OpPush, A: 1}, // func k
			{Op: bytecode.OpPush, A: 2}, // 5
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpMReturn},
			// k(x) @ 6
			{Op: bytecode.OpLookup, A: 3}, // $0
			{Op: bytecode.OpPush, A: 4},   // 100
			{Op: bytecode.OpFCall, A: 5, B: 2},
			{Op: bytecode.OpRet},
		},
		[]value.Value{
			value.Func("h", 2), value.Func("k", 6), value.Int(5),
			value.String("$0"), value.Int(100), value.String("add"),
		},
		[]bytecode.Symbol{
			{Name: "main", Offset: 0, Arity: 0},
			{Name: "h", Offset: 2, Arity: 0},
			{Name: "k", Offset: 6, Arity: 1},
		},
	)
	ctrl, mem := newTestController(t, exe)

	sess, err := ctrl.NewSession(context.Background(), "exe1", "main", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		locked, err := mem.Lock(context.Background(), sess.ID)
		require.NoError(t, err)
		defer locked.Unlock()
		return locked.Session().Finished
	}, 2*time.Second, 5*time.Millisecond)

	locked, err := mem.Lock(context.Background(), sess.ID)
	require.NoError(t, err)
	defer locked.Unlock()
	require.Equal(t, int64(105), locked.Session().Result.AsInt())
}

// TestChainPropagationTransitiveDepth2 extends scenario 3 one level
// deeper: main() = h(); h() = fork(g); g() = m(); m() = fork(k, 5);
// k(x) = x + 100. Resolving k's future must cascade through two chain
// links (future_g -> future_k, then future_main -> future_g) rather than
// stopping after one hop, exercising chainResolve's reverse scan
// transitively instead of just once.
func TestChainPropagationTransitiveDepth2(t *testing.T) {
	exe := bytecode.New(
		[]bytecode.Instruction{
			// main @ 0
			{Op: bytecode.OpPush, A: 0}, // func h
			{Op: bytecode.OpCall, A: 0},
			// h @ 2
			{Op: bytecode.OpPush, A: 1}, // func g
			{Op: bytecode.OpFork, A: 0},
			{Op: bytecode.OpMReturn},
			// g @ 5
			{Op: bytecode.OpPush, A: 2}, // func m
			{Op: bytecode.OpCall, A: 0},
			// m @ 7
			{Op: bytecode.OpPush, A: 3}, // func k
			{Op: bytecode.OpPush, A: 4}, // 5
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpMReturn},
			// k(x) @ 11
			{Op: bytecode.OpLookup, A: 5}, // $0
			{Op: bytecode.OpPush, A: 6},   // 100
			{Op: bytecode.OpFCall, A: 7, B: 2},
			{Op: bytecode.OpRet},
		},
		[]value.Value{
			value.Func("h", 2), value.Func("g", 5), value.Func("m", 7), value.Func("k", 11),
			value.Int(5), value.String("$0"), value.Int(100), value.String("add"),
		},
		[]bytecode.Symbol{
			{Name: "main", Offset: 0, Arity: 0},
			{Name: "h", Offset: 2, Arity: 0},
			{Name: "g", Offset: 5, Arity: 0},
			{Name: "m", Offset: 7, Arity: 0},
			{Name: "k", Offset: 11, Arity: 1},
		},
	)
	ctrl, mem := newTestController(t, exe)

	sess, err := ctrl.NewSession(context.Background(), "exe1", "main", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		locked, err := mem.Lock(context.Background(), sess.ID)
		require.NoError(t, err)
		defer locked.Unlock()
		return locked.Session().Finished
	}, 2*time.Second, 5*time.Millisecond)

	locked, err := mem.Lock(context.Background(), sess.ID)
	require.NoError(t, err)
	defer locked.Unlock()
	require.Equal(t, int64(105), locked.Session().Result.AsInt())
	require.Len(t, locked.Session().Threads, 3)
}

// Scenario 4 (spec §8): resolving a future twice is a FutureViolation and
// the stored value does not change.
func TestDoubleResolveIsFutureViolation(t *testing.T) {
	ctrl, _ := newTestController(t, bytecode.New(nil, nil, nil))
	sess := &session.Session{ID: "s1", Futures: []*session.Future{session.NewFuture(0)}}
	host := &hostAdapter{c: ctrl, ctx: context.Background(), sess: sess}

	require.NoError(t, host.ResolveFuture("s1", 0, value.Int(1)))
	err := host.ResolveFuture("s1", 0, value.Int(2))
	require.Error(t, err)
	require.Equal(t, int64(1), sess.Futures[0].Value.AsInt())
}

// Scenario 5 (spec §8): two waiters racing get_or_wait against a resolve
// both receive the value, and the continuations list ends up consumed.
func TestWaiterRaceBothGetScheduled(t *testing.T) {
	ctrl, mem := newTestController(t, bytecode.New(nil, nil, nil))

	sess, err := mem.CreateSession(context.Background(), "exe1")
	require.NoError(t, err)
	locked, err := mem.Lock(context.Background(), sess.ID)
	require.NoError(t, err)

	future := session.NewFuture(0)
	locked.Session().Futures = append(locked.Session().Futures, future)
	t1 := &session.Thread{ID: 1, FutureID: 1, State: session.NewThreadState(0)}
	t1.State.DataStack = append(t1.State.DataStack, value.Nil())
	t2 := &session.Thread{ID: 2, FutureID: 2, State: session.NewThreadState(0)}
	t2.State.DataStack = append(t2.State.DataStack, value.Nil())
	locked.Session().Threads = append(locked.Session().Threads, t1, t2)

	host := &hostAdapter{c: ctrl, ctx: context.Background(), sess: locked.Session()}
	resolved, _, err := host.GetOrWait("s1", 1, 0, 0)
	require.NoError(t, err)
	require.False(t, resolved)
	resolved, _, err = host.GetOrWait("s1", 2, 0, 0)
	require.NoError(t, err)
	require.False(t, resolved)
	require.Len(t, future.Continuations, 2)

	require.NoError(t, host.ResolveFuture("s1", 0, value.Int(42)))
	require.Empty(t, future.Continuations)
	require.Equal(t, int64(42), t1.State.DataStack[0].AsInt())
	require.Equal(t, int64(42), t2.State.DataStack[0].AsInt())
	locked.Unlock()
}

// No-lost-waiter property (spec §8): across many random interleavings of
// get_or_wait and resolve on a single future -- some waiters registering
// before the resolve, some after -- every waiter ends up with the resolved
// value and no continuation is ever left unscheduled.
func TestNoLostWaiterManyInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const trials = 500
	for trial := 0; trial < trials; trial++ {
		ctrl, mem := newTestController(t, bytecode.New(nil, nil, nil))

		sess, err := mem.CreateSession(context.Background(), "exe1")
		require.NoError(t, err)
		locked, err := mem.Lock(context.Background(), sess.ID)
		require.NoError(t, err)

		future := session.NewFuture(0)
		locked.Session().Futures = append(locked.Session().Futures, future)

		numWaiters := 1 + rng.Intn(6)
		threads := make([]*session.Thread, numWaiters)
		for i := range threads {
			th := &session.Thread{ID: i + 1, FutureID: i + 1, State: session.NewThreadState(0)}
			th.State.DataStack = append(th.State.DataStack, value.Nil())
			threads[i] = th
			locked.Session().Threads = append(locked.Session().Threads, th)
		}

		host := &hostAdapter{c: ctrl, ctx: context.Background(), sess: locked.Session()}

		// resolveAt == numWaiters means the resolve happens after every
		// waiter has already registered; any smaller value interleaves it
		// partway through the random registration order.
		resolveAt := rng.Intn(numWaiters + 1)
		order := rng.Perm(numWaiters)
		for idx, i := range order {
			if idx == resolveAt {
				require.NoError(t, host.ResolveFuture("s1", 0, value.Int(42)))
			}
			resolved, v, err := host.GetOrWait("s1", threads[i].ID, 0, 0)
			require.NoError(t, err)
			if resolved {
				require.Equal(t, int64(42), v.AsInt())
				// A resolved GetOrWait hands the value back to the caller;
				// writing it into the waiting slot is the VM's job (doWait).
				threads[i].State.DataStack[0] = v
			}
		}
		if resolveAt == numWaiters {
			require.NoError(t, host.ResolveFuture("s1", 0, value.Int(42)))
		}

		require.Empty(t, future.Continuations, "trial %d: continuations left unscheduled", trial)
		for i, th := range threads {
			require.Equal(t, int64(42), th.State.DataStack[0].AsInt(), "trial %d: waiter %d lost its value", trial, i)
		}
		locked.Unlock()
	}
}

// Determinism (spec §8): running the same program against a single-worker
// pool repeatedly must produce the same result and thread count every time,
// since the VM itself has no source of nondeterminism.
func TestSingleWorkerDeterminism(t *testing.T) {
	exe := bytecode.New(
		[]bytecode.Instruction{
			// main @ 0
			{Op: bytecode.OpPush, A: 0}, // func g
			{Op: bytecode.OpPush, A: 1}, // 10
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpWait},
			{Op: bytecode.OpPush, A: 2}, // 1
			{Op: bytecode.OpFCall, A: 3, B: 2},
			{Op: bytecode.OpRet},
			// g(x) @ 7
			{Op: bytecode.OpLookup, A: 4}, // $0
			{Op: bytecode.OpPush, A: 5},   // 2
			{Op: bytecode.OpFCall, A: 6, B: 2},
			{Op: bytecode.OpRet},
		},
		[]value.Value{
			value.Func("g", 7), value.Int(10), value.Int(1), value.String("add"),
			value.String("$0"), value.Int(2), value.String("mul"),
		},
		[]bytecode.Symbol{{Name: "main", Offset: 0, Arity: 0}, {Name: "g", Offset: 7, Arity: 1}},
	)

	const runs = 20
	var wantResult int64 = -1
	var wantThreads = -1
	for run := 0; run < runs; run++ {
		mem := store.NewMemory()
		exes := fakeExecutables{"exe1": exe}

		var ctrl *Controller
		pool := invoker.NewPool(func(ctx context.Context, sessionID string, threadID int) error {
			return ctrl.RunCycle(ctx, sessionID, threadID)
		}, 1, 64)
		pool.Start()
		ctrl = New(mem, exes, pool, map[string]vm.Foreign{"add": addFn, "mul": mulFn}, vm.DefaultLimits)

		var sess *session.Session
		require.Eventually(t, func() bool {
			s, err := ctrl.NewSession(context.Background(), "exe1", "main", nil)
			require.NoError(t, err)
			sess = s
			return sess.Finished
		}, 2*time.Second, 5*time.Millisecond)
		pool.Stop()

		if run == 0 {
			wantResult = sess.Result.AsInt()
			wantThreads = len(sess.Threads)
			continue
		}
		require.Equal(t, wantResult, sess.Result.AsInt(), "run %d diverged in result", run)
		require.Equal(t, wantThreads, len(sess.Threads), "run %d diverged in thread count", run)
	}
}

// Fork-count property (spec §8): a program that forks N children and joins
// them all via sequential WAITs produces exactly N+1 threads, all stopped.
func TestForkCountProperty(t *testing.T) {
	// main() = wait(fork(g,1)) + wait(fork(g,2)) + wait(fork(g,3)); g(x)=x
	exe := bytecode.New(
		[]bytecode.Instruction{
			// main @ 0
			{Op: bytecode.OpPush, A: 0}, // func g
			{Op: bytecode.OpPush, A: 1}, // 1
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpWait},
			{Op: bytecode.OpPush, A: 0},
			{Op: bytecode.OpPush, A: 2}, // 2
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpWait},
			{Op: bytecode.OpFCall, A: 3, B: 2}, // "add"
			{Op: bytecode.OpPush, A: 0},
			{Op: bytecode.OpPush, A: 4}, // 3
			{Op: bytecode.OpFork, A: 1},
			{Op: bytecode.OpWait},
			{Op: bytecode.OpFCall, A: 3, B: 2},
			{Op: bytecode.OpRet},
			// g(x) @ 15
			{Op: bytecode.OpLookup, A: 5}, // $0
			{Op: bytecode.OpRet},
		},
		[]value.Value{
			value.Func("g", 15), value.Int(1), value.Int(2), value.String("add"), value.Int(3), value.String("$0"),
		},
		[]bytecode.Symbol{{Name: "main", Offset: 0, Arity: 0}, {Name: "g", Offset: 15, Arity: 1}},
	)
	ctrl, _ := newTestController(t, exe)

	var sess *session.Session
	require.Eventually(t, func() bool {
		s, err := ctrl.NewSession(context.Background(), "exe1", "main", nil)
		require.NoError(t, err)
		sess = s
		return sess.Finished
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, int64(6), sess.Result.AsInt())
	require.Len(t, sess.Threads, 4) // main + 3 forked g's
	for _, th := range sess.Threads {
		require.True(t, th.State.Stopped)
	}
}
