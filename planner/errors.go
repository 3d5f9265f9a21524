package planner

import "fmt"

// PlanError is returned when a Request cannot be turned into a Plan: an
// unresolvable field, a reserved alias in the client query, or a merged
// type with no reachable boundary query (spec §7: surfaces as {errors,
// data: null} before any location is ever called).
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan error: %s", e.Reason)
}
