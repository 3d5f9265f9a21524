package gateway

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/n9te9/stitchgate/planner"
)

func TestPlanCache_GetOrCompute_CachesByDigest(t *testing.T) {
	c := NewPlanCache(0)
	var calls int32

	compute := func() (*planner.Plan, error) {
		atomic.AddInt32(&calls, 1)
		return &planner.Plan{OperationType: "query"}, nil
	}

	if _, err := c.GetOrCompute("digest-a", compute); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}
	if _, err := c.GetOrCompute("digest-a", compute); err != nil {
		t.Fatalf("GetOrCompute() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("compute called %d times, want 1 (second call should hit cache)", calls)
	}
}

func TestPlanCache_GetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := NewPlanCache(0)
	var calls int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetOrCompute("digest-b", func() (*planner.Plan, error) {
				atomic.AddInt32(&calls, 1)
				return &planner.Plan{OperationType: "query"}, nil
			})
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("compute called %d times across 20 concurrent misses, want 1", calls)
	}
}

func TestPlanCache_Hooks_ReportHitAndMiss(t *testing.T) {
	var reads []bool
	var writes int
	c := NewPlanCache(0,
		WithOnCacheRead(func(digest string, hit bool) { reads = append(reads, hit) }),
		WithOnCacheWrite(func(digest string) { writes++ }),
	)
	compute := func() (*planner.Plan, error) { return &planner.Plan{}, nil }

	c.GetOrCompute("d", compute)
	c.GetOrCompute("d", compute)

	if len(reads) != 2 || reads[0] != false || reads[1] != true {
		t.Errorf("onCacheRead calls = %v, want [false, true]", reads)
	}
	if writes != 1 {
		t.Errorf("onCacheWrite called %d times, want 1", writes)
	}
}

func TestRebindVariables_RederivesValuesForNewRequest(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, Variables: map[string]interface{}{"id": "first-request-value"}},
		},
	}

	rebound := rebindVariables(plan, map[string]interface{}{"id": "second-request-value"})

	if got := rebound.Operations[0].Variables["id"]; got != "second-request-value" {
		t.Errorf("rebound Variables[id] = %v, want second-request-value", got)
	}
	if got := plan.Operations[0].Variables["id"]; got != "first-request-value" {
		t.Errorf("rebindVariables mutated the cached Plan's own Operation: Variables[id] = %v", got)
	}
}
