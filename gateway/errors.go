package gateway

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ValidationError is returned when GatewayOption.Validate is set and a
// client's query fails gqlparser's schema validation (spec §7: surfaces as
// {errors, data: null} before planning ever starts, the same as a
// request.ParseError or planner.PlanError).
type ValidationError struct {
	Errors gqlerror.List
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Errors.Error())
}
