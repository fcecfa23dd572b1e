package vm

import "fmt"

// ArgName is the binding name an argument at position i is visible under
// inside a called function's innermost scope. CALL, FORK, and the
// Controller's top-level thread initialisation all agree on this naming so
// that a forked or top-level function's parameter list reads the same way
// regardless of how the thread was started.
func ArgName(i int) string {
	return fmt.Sprintf("$%d", i)
}
