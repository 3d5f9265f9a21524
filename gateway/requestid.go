package gateway

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader is the header a request ID is read from (if already
// present, e.g. set by an upstream proxy) and echoed back on, completing the
// teacher's enableComplementRequestId toggle (gateway/gateway.go), which was
// always set true but never wired to anything.
const RequestIDHeader = "X-Stitchgate-Request-Id"

type requestIDKey struct{}

// withRequestID attaches id to ctx so slog call sites and the ErrorHook can
// recover it without threading it through every function signature.
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID withRequestID attached, if
// any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// requestIDFromHeader returns the caller-supplied request ID, or mints a
// fresh v4 UUID when the header is absent.
func requestIDFromHeader(h http.Header) string {
	if id := h.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}
