package executor

import "fmt"

// ExecutionError reports a failure that aborts the whole request rather than
// one a single location's response can be blamed for and continued past: a
// malformed Plan, a location with no registered LocationExecutor, a
// transport/parse failure talking to a location, or a Merge contract
// violation. Execute returns it directly instead of folding it into the
// response, discarding any partial data already assembled; a location's own
// GraphQL-level errors are a different case (supergraph.RemoteError) that
// does not abort anything.
type ExecutionError struct {
	Reason string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s", e.Reason)
}
