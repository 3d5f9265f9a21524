package gateway

import (
	"context"
	"log/slog"
)

// ErrorHook maps an ExecutionError (or any error Execute can't fold into a
// partial response) to the single message a client is shown (spec §6): the
// abort path discards whatever data was assembled, so this is the only
// detail that crosses the trust boundary.
type ErrorHook func(err error, ctx context.Context) string

// DefaultErrorHook logs the real error server-side and returns a generic
// message, never the error's own text: an ExecutionError can wrap a
// location's raw transport failure, which may carry internal hostnames or
// stack detail a client has no business seeing.
func DefaultErrorHook(err error, ctx context.Context) string {
	reqID, _ := RequestIDFromContext(ctx)
	slog.ErrorContext(ctx, "gateway execution aborted", "error", err, "request_id", reqID)
	return "internal error"
}
