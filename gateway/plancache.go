package gateway

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/n9te9/stitchgate/planner"
)

// PlanCache memoizes Plans by request.Request.Digest (spec §6): Planning is
// pure given a Supergraph and a normalized query, so a repeated query never
// needs to be planned twice. Concurrent misses for the same digest are
// collapsed through singleflight rather than each racing the Planner, using
// the same golang.org/x/sync module the Executor already depends on for
// errgroup.
type PlanCache struct {
	mu      sync.RWMutex
	entries map[string]*planner.Plan
	group   singleflight.Group

	onCacheRead  func(digest string, hit bool)
	onCacheWrite func(digest string)

	max int
}

// PlanCacheOption configures a PlanCache's onCacheRead/onCacheWrite hooks
// (spec §6).
type PlanCacheOption func(*PlanCache)

// WithOnCacheRead registers fn to be called after every GetOrCompute lookup,
// reporting whether the digest was already cached.
func WithOnCacheRead(fn func(digest string, hit bool)) PlanCacheOption {
	return func(c *PlanCache) { c.onCacheRead = fn }
}

// WithOnCacheWrite registers fn to be called whenever a digest is newly
// planned and stored.
func WithOnCacheWrite(fn func(digest string)) PlanCacheOption {
	return func(c *PlanCache) { c.onCacheWrite = fn }
}

// NewPlanCache creates a PlanCache. max <= 0 means unbounded; a positive max
// evicts arbitrarily (map iteration order) once exceeded, favoring simplicity
// over LRU precision since Plans are small and re-planning a Digest that was
// evicted just re-populates it.
func NewPlanCache(max int, opts ...PlanCacheOption) *PlanCache {
	c := &PlanCache{entries: make(map[string]*planner.Plan), max: max}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the cached Plan for digest, computing and storing it
// via compute on a miss. Concurrent calls for the same digest share one
// compute invocation.
func (c *PlanCache) GetOrCompute(digest string, compute func() (*planner.Plan, error)) (*planner.Plan, error) {
	c.mu.RLock()
	plan, hit := c.entries[digest]
	c.mu.RUnlock()

	if c.onCacheRead != nil {
		c.onCacheRead(digest, hit)
	}
	if hit {
		return plan, nil
	}

	v, err, _ := c.group.Do(digest, func() (interface{}, error) {
		c.mu.RLock()
		if plan, ok := c.entries[digest]; ok {
			c.mu.RUnlock()
			return plan, nil
		}
		c.mu.RUnlock()

		plan, err := compute()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.max > 0 && len(c.entries) >= c.max {
			for k := range c.entries {
				delete(c.entries, k)
				break
			}
		}
		c.entries[digest] = plan
		c.mu.Unlock()

		if c.onCacheWrite != nil {
			c.onCacheWrite(digest)
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*planner.Plan), nil
}

// rebindVariables returns a copy of plan with every Operation's Variables
// rederived from vars. A cached Plan was built from some earlier request's
// Variables (planner.Planner.Plan bakes the submitted values into each
// Operation.Variables, not just the variable names), so a cache hit must
// not hand the caller another request's values back. The set of variable
// names an Operation's SelectionSet references is fixed by the query text
// alone — the PlanCache's key — so it is safe to take it straight from the
// cached Operation's own Variables keys and look each one up again in vars.
func rebindVariables(plan *planner.Plan, vars map[string]interface{}) *planner.Plan {
	ops := make([]*planner.Operation, len(plan.Operations))
	for i, op := range plan.Operations {
		clone := *op
		if len(op.Variables) > 0 {
			rebound := make(map[string]interface{}, len(op.Variables))
			for name := range op.Variables {
				rebound[name] = vars[name]
			}
			clone.Variables = rebound
		}
		ops[i] = &clone
	}
	return &planner.Plan{Operations: ops, OperationType: plan.OperationType}
}
