// Package invariant holds the fatal-assertion helper used for structural
// invariants that can never be violated without a bug (pivot ordering,
// refcount underflow, dead-node re-entry).
package invariant

import "fmt"

// Assert panics with a formatted message when cond is false. It is only
// used for conditions that indicate a programming error, never for
// recoverable runtime errors (those are returned as errors).
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("cascadb: invariant violated: "+format, args...))
	}
}
