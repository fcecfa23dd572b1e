// Package vm implements the Teal bytecode interpreter: the stack-based
// instruction loop, fork/wait/return concurrency semantics, and the foreign
// call bridge. One VM instance executes at a time within one worker
// context, against exactly one thread of one session (spec 4.3).
//
// Grounded on stackedboxes-romualdo/pkg/vm/vm.go for the overall shape of a
// stack VM's run loop (switch over opcodes, trace-mode disassembly before
// each step) and on the teacher's vm.VirtualMachine / vm.ExecutionContext
// split between "the interpreter" and "the state it interprets against".
package vm

import (
	"fmt"
	"io"

	"github.com/tealrun/teal/bytecode"
	"github.com/tealrun/teal/errs"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/value"
)

// Host is the minimal set of Controller operations the VM needs to
// implement FORK, WAIT, RET and MRETURN. Declaring it here (rather than
// importing package controller) avoids a import cycle between vm and
// controller, the same trick registry.BuiltinCallContext uses in the
// teacher pack to avoid a cycle back into package vm.
type Host interface {
	// NewThread allocates a new thread that will invoke the function at
	// calleeOffset with args, plus a fresh future bound to it, and asks the
	// dispatcher to run it. Returns the new thread and future ids.
	NewThread(sessionID string, calleeOffset int, args []value.Value) (threadID int, futureID int, err error)

	// GetOrWait atomically checks whether futureID is resolved; if not, it
	// registers (threadID, offset) as a continuation. This must be atomic
	// with the resolved-check (spec 4.4 get_or_wait) or a waiter can be
	// lost to a race with a concurrent resolve.
	GetOrWait(sessionID string, threadID int, futureID int, offset int) (resolved bool, val value.Value, err error)

	// ResolveFuture performs chain-resolve on futureID with value v.
	ResolveFuture(sessionID string, futureID int, v value.Value) error

	// ChainFuture sets futureID's forward chain to target instead of
	// resolving it directly (spec 4.3 "Chain-return (tail-future) handling").
	ChainFuture(sessionID string, futureID int, target int) error
}

// Foreign is a host-provided function reachable via FCALL. It is opaque to
// the VM (spec 4.3: "Foreign calls are opaque to the VM and must not
// themselves yield") and must map its result to the value.Value universe
// itself, at the boundary, not inside the VM (spec DESIGN NOTES).
type Foreign func(args []value.Value) (value.Value, error)

// VM is a Teal Virtual Machine: one interpreter loop bound to one
// Executable, one Host, and one foreign-function table. A VM instance may
// be reused across many Run calls (each against a different thread),
// matching spec 4.3's "One VM instance executes at a time... against
// exactly one thread of one session"; package controller builds a fresh
// VM for every cycle, since one is cheap to build.
type VM struct {
	exe     *bytecode.Executable
	host    Host
	foreign map[string]Foreign
	limits  Limits

	// Trace, when non-nil, receives a disassembled line for every
	// instruction executed -- the equivalent of
	// stackedboxes-romualdo/pkg/vm.VM.DebugTraceExecution.
	Trace io.Writer
}

// New builds a VM bound to exe. foreign supplies the FCALL bridge; host
// supplies the fork/wait/resolve primitives.
func New(exe *bytecode.Executable, host Host, foreign map[string]Foreign, limits Limits) *VM {
	if foreign == nil {
		foreign = map[string]Foreign{}
	}
	return &VM{exe: exe, host: host, foreign: foreign, limits: limits}
}

// Suspended is returned by Run to tell the caller why the cycle ended.
type Suspended int

const (
	// SuspendedWait: the thread is blocked on an unresolved future and is
	// marked stopped. The caller persists its state; it will resume when
	// the Controller's chain-resolve dispatches it.
	SuspendedWait Suspended = iota
	// SuspendedReturn: the thread has terminated, either by RET with an
	// empty call stack (its future has already been resolved) or by
	// MRETURN (its future has been chained to another future).
	SuspendedReturn
	// SuspendedError: a fatal error aborted the thread and is returned
	// alongside this value. Run does not record it; the caller sets the
	// thread's Exception field and marks it stopped.
	SuspendedError
)

// Run executes sessionID's thread threadID starting from its current
// ThreadState until the next suspension point: WAIT on an unresolved
// future, RET with an empty call stack, or a fatal exception (spec 5,
// "Suspension points"). This is "one VM cycle" (spec 4.7).
//
// Run never itself persists state; the caller (package controller) is
// responsible for loading ts before the call and storing it (plus the
// thread's Stdout/Probe/Exception) after.
func (vm *VM) Run(sessionID string, threadID int, t *session.Thread) (Suspended, error) {
	st := Wrap(t.State, vm.limits)

	for {
		if t.State.IP < 0 || t.State.IP >= len(vm.exe.Code) {
			return SuspendedError, errs.NewICE("ip %d out of range (code length %d)", t.State.IP, len(vm.exe.Code))
		}

		in := vm.exe.Code[t.State.IP]

		if vm.Trace != nil {
			var buf fmt.Stringer
			_ = buf
			vm.exe.DisassembleInstruction(vm.Trace, t.State.IP)
		}

		t.State.IP++

		switch in.Op {
		case bytecode.OpPush:
			if int(in.A) < 0 || int(in.A) >= len(vm.exe.Constants) {
				return SuspendedError, errs.NewICE("constant index %d out of range", in.A)
			}
			if err := st.Push(vm.exe.Constants[in.A]); err != nil {
				return SuspendedError, err
			}

		case bytecode.OpPop:
			if _, err := st.Pop(); err != nil {
				return SuspendedError, err
			}

		case bytecode.OpDup:
			top, err := st.Top()
			if err != nil {
				return SuspendedError, err
			}
			if err := st.Push(top); err != nil {
				return SuspendedError, err
			}

		case bytecode.OpPushV:
			switch byte(in.A) {
			case bytecode.ImmNil:
				err := st.Push(value.Nil())
				if err != nil {
					return SuspendedError, err
				}
			case bytecode.ImmTrue:
				if err := st.Push(value.Bool(true)); err != nil {
					return SuspendedError, err
				}
			case bytecode.ImmFalse:
				if err := st.Push(value.Bool(false)); err != nil {
					return SuspendedError, err
				}
			case bytecode.ImmInt:
				if err := st.Push(value.Int(int64(in.B))); err != nil {
					return SuspendedError, err
				}
			default:
				return SuspendedError, errs.NewICE("unknown PUSHV immediate kind %d", in.A)
			}

		case bytecode.OpBind:
			name, err := vm.constString(in.A)
			if err != nil {
				return SuspendedError, err
			}
			v, err := st.Pop()
			if err != nil {
				return SuspendedError, err
			}
			st.Bind(name, v)

		case bytecode.OpLookup:
			name, err := vm.constString(in.A)
			if err != nil {
				return SuspendedError, err
			}
			v, ok := st.Lookup(name)
			if !ok {
				return SuspendedError, errs.NewTypeError("unbound name %q", name)
			}
			if err := st.Push(v); err != nil {
				return SuspendedError, err
			}

		case bytecode.OpJump:
			t.State.IP = int(in.A)

		case bytecode.OpJumpIfFalse:
			v, err := st.Pop()
			if err != nil {
				return SuspendedError, err
			}
			if !v.Truthy() {
				t.State.IP = int(in.A)
			}

		case bytecode.OpCall:
			suspended, err := vm.call(st, t, int(in.A))
			if err != nil {
				return SuspendedError, err
			}
			if suspended {
				// Not reachable today (CALL never yields), reserved should
				// synchronous in-VM calls ever need to suspend.
				return SuspendedWait, nil
			}

		case bytecode.OpRet:
			done, err := vm.doReturn(sessionID, threadID, t, st)
			if err != nil {
				return SuspendedError, err
			}
			if done {
				return SuspendedReturn, nil
			}

		case bytecode.OpFork:
			if err := vm.doFork(sessionID, st, int(in.A)); err != nil {
				return SuspendedError, err
			}

		case bytecode.OpWait:
			suspended, err := vm.doWait(sessionID, threadID, t, st)
			if err != nil {
				return SuspendedError, err
			}
			if suspended {
				t.State.Stopped = true
				return SuspendedWait, nil
			}

		case bytecode.OpMReturn:
			v, err := st.Pop()
			if err != nil {
				return SuspendedError, err
			}
			if !v.IsFutureRef() {
				return SuspendedError, errs.NewTypeError("MRETURN expects a future reference, got %v", v.Kind)
			}
			if err := vm.host.ChainFuture(sessionID, t.FutureID, v.AsFutureID()); err != nil {
				return SuspendedError, err
			}
			t.State.Stopped = true
			return SuspendedReturn, nil

		case bytecode.OpFCall:
			if err := vm.doFCall(st, in); err != nil {
				return SuspendedError, err
			}

		case bytecode.OpPrint:
			v, err := st.Pop()
			if err != nil {
				return SuspendedError, err
			}
			t.Stdout += v.String()

		case bytecode.OpProbe:
			name, err := vm.constString(in.A)
			if err != nil {
				return SuspendedError, err
			}
			t.Probe = append(t.Probe, fmt.Sprintf("ip=%d %s", t.State.IP-1, name))

		default:
			return SuspendedError, errs.NewICE("unimplemented opcode %v", in.Op)
		}
	}
}

func (vm *VM) constString(idx int32) (string, error) {
	if int(idx) < 0 || int(idx) >= len(vm.exe.Constants) {
		return "", errs.NewICE("constant index %d out of range", idx)
	}
	c := vm.exe.Constants[idx]
	if c.Kind != value.KindString && c.Kind != value.KindSymbol {
		return "", errs.NewTypeError("expected a name constant, got %v", c.Kind)
	}
	return c.AsString(), nil
}

// call implements CALL argc: pop argc args, then the callable beneath them, push a return
// frame, and jump to the callee. Intra-VM calls never suspend; the bool
// return is reserved for symmetry with doWait/doFork's signatures.
func (vm *VM) call(st *State, t *session.Thread, argc int) (suspended bool, err error) {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i], err = st.Pop()
		if err != nil {
			return false, err
		}
	}
	callee, err := st.Pop()
	if err != nil {
		return false, err
	}
	if callee.Kind != value.KindFuncRef {
		return false, errs.NewTypeError("CALL target is not a function reference, got %v", callee.Kind)
	}
	fn := callee.AsFunc()

	if sym, ok := vm.exe.Lookup(fn.Name); ok && sym.Arity != argc {
		return false, errs.NewLinkErrorArity(fn.Name, sym.Arity, argc)
	}

	if err := st.PushFrame(t.State.IP); err != nil {
		return false, err
	}
	st.EnterScope()
	for i, a := range args {
		st.Bind(ArgName(i), a)
	}
	t.State.IP = fn.Offset
	return false, nil
}

// doReturn implements RET: pop a frame and resume the caller, or -- if the
// call stack is empty -- terminate the thread and resolve its future with
// whatever is left on the data stack (spec 4.3 "Thread termination").
func (vm *VM) doReturn(sessionID string, threadID int, t *session.Thread, st *State) (terminated bool, err error) {
	frame, ok := st.PopFrame()
	if !ok {
		result, err := st.Pop()
		if err != nil {
			result = value.Nil()
		}
		if err := vm.host.ResolveFuture(sessionID, t.FutureID, result); err != nil {
			return false, err
		}
		t.State.Stopped = true
		return true, nil
	}

	retVal, err := st.Pop()
	if err != nil {
		return false, err
	}
	st.LeaveScope(frame.ScopeBase)
	t.State.IP = frame.ReturnIP
	if err := st.Push(retVal); err != nil {
		return false, err
	}
	return false, nil
}

// doFork implements FORK argc (spec 4.3).
func (vm *VM) doFork(sessionID string, st *State, argc int) error {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := st.Pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	callee, err := st.Pop()
	if err != nil {
		return err
	}
	if callee.Kind != value.KindFuncRef {
		return errs.NewTypeError("FORK target is not a function reference, got %v", callee.Kind)
	}
	fn := callee.AsFunc()
	if sym, ok := vm.exe.Lookup(fn.Name); ok && sym.Arity != argc {
		return errs.NewLinkErrorArity(fn.Name, sym.Arity, argc)
	}

	_, futureID, err := vm.host.NewThread(sessionID, fn.Offset, args)
	if err != nil {
		return err
	}
	return st.Push(value.FutureRef(futureID))
}

// doWait implements WAIT (spec 4.3). Non-future values and already-resolved
// futures pass straight through without suspending.
func (vm *VM) doWait(sessionID string, threadID int, t *session.Thread, st *State) (suspended bool, err error) {
	v, err := st.Pop()
	if err != nil {
		return false, err
	}
	if !v.IsFutureRef() {
		if err := st.Push(v); err != nil {
			return false, err
		}
		return false, nil
	}

	// Push a placeholder first so the continuation offset points at a real
	// stack slot that SetAt can later overwrite (spec 4.2/4.3).
	if err := st.Push(value.Nil()); err != nil {
		return false, err
	}
	offset := st.Offset()

	resolved, val, err := vm.host.GetOrWait(sessionID, threadID, v.AsFutureID(), offset)
	if err != nil {
		return false, err
	}
	if resolved {
		if err := st.SetAt(offset, val); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// doFCall implements FCALL name-idx,argc (spec 4.3).
func (vm *VM) doFCall(st *State, in bytecode.Instruction) error {
	name, err := vm.constString(in.A)
	if err != nil {
		return err
	}
	argc := int(in.B)
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, err := st.Pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	fn, ok := vm.foreign[name]
	if !ok {
		return errs.NewLinkErrorUnknown(name)
	}
	result, err := fn(args)
	if err != nil {
		return errs.NewForeignError(name, err)
	}
	return st.Push(result)
}
