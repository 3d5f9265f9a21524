package supergraph

import "fmt"

// CompositionError is returned by Compose when the given location schemas
// cannot be merged into a single Supergraph: an incompatible field
// signature, a malformed @stitch directive, an unsupported Subscription
// root, or a merged type with no boundary query covering one of its
// contributing locations. Composition happens at build time; a
// CompositionError never reaches the request path.
type CompositionError struct {
	Reason string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("composition error: %s", e.Reason)
}
