package vm

// Limits bounds a thread's stacks (spec 4.2: "Bounded by configuration:
// maximum stack depth and maximum call depth; violation yields a fatal
// thread exception"). Grounded on the teacher's fixed-capacity slice
// allocations (vm.CallStackManager, vm.Stack) generalized into an explicit,
// injectable configuration rather than a compiled-in constant.
type Limits struct {
	MaxDataStack int
	MaxCallStack int
}

// DefaultLimits matches the teacher's default call-stack capacity hint
// (vm.NewCallStackManager pre-allocates 8 frames) scaled up to a sane
// production ceiling.
var DefaultLimits = Limits{
	MaxDataStack: 4096,
	MaxCallStack: 1024,
}
