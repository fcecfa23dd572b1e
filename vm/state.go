package vm

import (
	"github.com/tealrun/teal/errs"
	"github.com/tealrun/teal/session"
	"github.com/tealrun/teal/value"
)

// State wraps a *session.ThreadState with the bounded stack/scope
// operations spec 4.2 requires. It is a thin, stateless-receiver operation
// set (mirrors vm.Stack/vm.StackView in the teacher pack, which are plain
// operations over a backing slice) so that the Controller can persist the
// underlying session.ThreadState directly without going through this type.
type State struct {
	ts     *session.ThreadState
	limits Limits
}

// Wrap adapts a session.ThreadState for use by the interpreter.
func Wrap(ts *session.ThreadState, limits Limits) *State {
	return &State{ts: ts, limits: limits}
}

func (s *State) Raw() *session.ThreadState { return s.ts }

// Push pushes v onto the data stack. Returns StackOverflow past the
// configured limit.
func (s *State) Push(v value.Value) error {
	if len(s.ts.DataStack) >= s.limits.MaxDataStack {
		return errs.NewStackOverflow("data", s.limits.MaxDataStack)
	}
	s.ts.DataStack = append(s.ts.DataStack, v)
	return nil
}

// Pop removes and returns the top of the data stack.
func (s *State) Pop() (value.Value, error) {
	n := len(s.ts.DataStack)
	if n == 0 {
		var zero value.Value
		return zero, errs.NewStackUnderflow("data")
	}
	v := s.ts.DataStack[n-1]
	s.ts.DataStack = s.ts.DataStack[:n-1]
	return v, nil
}

// Top returns the top of the data stack without removing it.
func (s *State) Top() (value.Value, error) {
	n := len(s.ts.DataStack)
	if n == 0 {
		var zero value.Value
		return zero, errs.NewStackUnderflow("data")
	}
	return s.ts.DataStack[n-1], nil
}

// Offset returns the absolute index of the current top of the data stack
// -- this is what a WAIT continuation records, so that a later resume
// can write the resolved value back to exactly this slot (spec 4.3 WAIT).
func (s *State) Offset() int { return len(s.ts.DataStack) - 1 }

// PeekAt returns the value at an absolute data-stack offset.
func (s *State) PeekAt(offset int) (value.Value, error) {
	if offset < 0 || offset >= len(s.ts.DataStack) {
		var zero value.Value
		return zero, errs.NewStackUnderflow("data")
	}
	return s.ts.DataStack[offset], nil
}

// SetAt writes v at an absolute data-stack offset. This is how a resumed
// thread's waited-on value gets delivered (spec 4.2: "required for resume").
func (s *State) SetAt(offset int, v value.Value) error {
	if offset < 0 || offset >= len(s.ts.DataStack) {
		return errs.NewStackUnderflow("data")
	}
	s.ts.DataStack[offset] = v
	return nil
}

// PushFrame saves the current ip and scope depth as a return point.
func (s *State) PushFrame(returnIP int) error {
	if len(s.ts.CallStack) >= s.limits.MaxCallStack {
		return errs.NewStackOverflow("call", s.limits.MaxCallStack)
	}
	s.ts.CallStack = append(s.ts.CallStack, session.Frame{
		ReturnIP:  returnIP,
		ScopeBase: len(s.ts.Scopes),
	})
	return nil
}

// PopFrame removes and returns the most recent call frame. ok is false when
// the call stack is empty (RET with no caller: thread termination, not an
// error).
func (s *State) PopFrame() (frame session.Frame, ok bool) {
	n := len(s.ts.CallStack)
	if n == 0 {
		return session.Frame{}, false
	}
	frame = s.ts.CallStack[n-1]
	s.ts.CallStack = s.ts.CallStack[:n-1]
	return frame, true
}

// EnterScope pushes a fresh lexical scope (a function call's locals).
func (s *State) EnterScope() {
	s.ts.Scopes = append(s.ts.Scopes, make(map[string]value.Value))
}

// LeaveScope pops back to baseDepth scopes, discarding any scopes entered
// since (used when a CALL returns, to restore the caller's scope nesting).
func (s *State) LeaveScope(baseDepth int) {
	if baseDepth < len(s.ts.Scopes) {
		s.ts.Scopes = s.ts.Scopes[:baseDepth]
	}
}

// Bind creates or updates name in the innermost scope.
func (s *State) Bind(name string, v value.Value) {
	n := len(s.ts.Scopes)
	s.ts.Scopes[n-1][name] = v
}

// Lookup searches scopes innermost-to-outermost for name.
func (s *State) Lookup(name string) (value.Value, bool) {
	for i := len(s.ts.Scopes) - 1; i >= 0; i-- {
		if v, ok := s.ts.Scopes[i][name]; ok {
			return v, true
		}
	}
	var zero value.Value
	return zero, false
}
