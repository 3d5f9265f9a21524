package executor_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/n9te9/stitchgate/executor"
	"github.com/n9te9/stitchgate/planner"
	"github.com/n9te9/stitchgate/supergraph"
)

// withRecordedSpans swaps in an SDK TracerProvider backed by a
// tracetest.SpanRecorder for the duration of fn, restoring the previous
// global provider afterward, and returns every span it recorded.
func withRecordedSpans(t *testing.T, fn func()) []sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	fn()

	return sr.Ended()
}

func TestExecute_RootOperationOpensSpanNamedLocationDotStep(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, Location: "products", OperationType: "query", SelectionSet: "{ widget { id } }"},
		},
	}
	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"products": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"widget": map[string]interface{}{"id": "1"},
		}}},
	})

	spans := withRecordedSpans(t, func() {
		if _, err := executor.New(sg).Execute(context.Background(), plan); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	})

	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1: %+v", len(spans), spans)
	}
	if got, want := spans[0].Name(), "products.1"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
}

func TestExecute_BatchedBoundaryGroupOpensOneSpanNamedAfterEveryStep(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, Location: "reviews", OperationType: "query", SelectionSet: "{ widgets { id _STITCH_id } }"},
			{
				Step: 2, After: 1, Location: "inventory", OperationType: "query",
				Path:     []string{"widgets"},
				Boundary: &planner.BoundaryRef{Field: "widgetByID", ArgName: "id", Key: "id", List: false},
			},
			{
				Step: 3, After: 1, Location: "inventory", OperationType: "query",
				Path:     []string{"widgets"},
				Boundary: &planner.BoundaryRef{Field: "stockByID", ArgName: "id", Key: "id", List: false},
			},
		},
	}
	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"reviews": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"widgets": []interface{}{map[string]interface{}{"id": "1", "_STITCH_id": "1"}},
		}}},
		"inventory": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{}}},
	})

	spans := withRecordedSpans(t, func() {
		if _, err := executor.New(sg).Execute(context.Background(), plan); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	})

	var names []string
	for _, s := range spans {
		names = append(names, s.Name())
	}

	foundRoot, foundBatch := false, false
	for _, n := range names {
		if n == "reviews.1" {
			foundRoot = true
		}
		if n == "inventory.2_3" {
			foundBatch = true
		}
	}
	if !foundRoot {
		t.Errorf("spans = %v, want one named %q", names, "reviews.1")
	}
	if !foundBatch {
		t.Errorf("spans = %v, want one named %q (batched group dispatched as a single call)", names, "inventory.2_3")
	}
}
