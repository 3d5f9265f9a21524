package executor_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/n9te9/stitchgate/executor"
	"github.com/n9te9/stitchgate/planner"
	"github.com/n9te9/stitchgate/supergraph"
)

// fakeLocation is a LocationExecutor stub: each call is matched against want
// substrings (so tests don't need to assert on exact printed documents) and
// answered with a canned result.
type fakeLocation struct {
	t    *testing.T
	want []string
	resp *supergraph.LocationResult
}

func (f *fakeLocation) Execute(_ context.Context, _ string, doc string, _ map[string]interface{}) (*supergraph.LocationResult, error) {
	for _, w := range f.want {
		if !strings.Contains(doc, w) {
			f.t.Errorf("outbound document %q missing expected substring %q", doc, w)
		}
	}
	return f.resp, nil
}

func TestExecute_MergesTwoRootOperations(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, Location: "a", OperationType: "query", SelectionSet: "{ widget { id } }"},
			{Step: 2, Location: "b", OperationType: "query", SelectionSet: "{ sprocket { id } }"},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"a": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"widget": map[string]interface{}{"id": "1"},
		}}},
		"b": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"sprocket": map[string]interface{}{"id": "2"},
		}}},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data := resp["data"].(map[string]interface{})
	if data["widget"] == nil || data["sprocket"] == nil {
		t.Fatalf("expected both root operations merged into data, got %+v", data)
	}
}

func TestExecute_BoundaryListStitchesAndStripsReservedFields(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{
				Step: 1, Location: "products", OperationType: "query",
				SelectionSet: "{ products { _STITCH_id: id name } }",
			},
			{
				Step: 2, After: 1, Location: "shipping", OperationType: "query",
				Path: []string{"products"},
				Boundary: &planner.BoundaryRef{
					Field: "productsByID", ArgName: "ids", Key: "id", List: true,
				},
				SelectionSet: "{ _STITCH_id: id weightKg }",
			},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"products": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"products": []interface{}{
				map[string]interface{}{"_STITCH_id": "1", "name": "Widget"},
				map[string]interface{}{"_STITCH_id": "2", "name": "Sprocket"},
			},
		}}},
		"shipping": &fakeLocation{t: t, want: []string{"_0_result:", "productsByID", "ids"}, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"_0_result": []interface{}{
				// deliberately reversed order from the origin objects, to
				// prove correlation is by key, not by position.
				map[string]interface{}{"_STITCH_id": "2", "weightKg": 2.5},
				map[string]interface{}{"_STITCH_id": "1", "weightKg": 1.5},
			},
		}}},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data := resp["data"].(map[string]interface{})
	products := data["products"].([]interface{})
	first := products[0].(map[string]interface{})
	second := products[1].(map[string]interface{})

	if first["weightKg"] != 1.5 || second["weightKg"] != 2.5 {
		t.Fatalf("boundary rows not correlated by key: %+v", products)
	}
	if _, ok := first["_STITCH_id"]; ok {
		t.Error("expected reserved _STITCH_id field to be stripped from the final response")
	}
}

func TestExecute_BoundarySingleKeyBatchesPerObjectCalls(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{
				Step: 1, Location: "products", OperationType: "query",
				SelectionSet: "{ product { _STITCH_id: id } }",
			},
			{
				Step: 2, After: 1, Location: "shipping", OperationType: "query",
				Path: []string{"product"},
				Boundary: &planner.BoundaryRef{
					Field: "productByID", ArgName: "id", Key: "id", List: false,
				},
				SelectionSet: "{ _STITCH_id: id weightKg }",
			},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"products": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"product": map[string]interface{}{"_STITCH_id": "1"},
		}}},
		"shipping": &fakeLocation{t: t, want: []string{"_0_0_result:", "productByID"}, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"_0_0_result": map[string]interface{}{"_STITCH_id": "1", "weightKg": 9.5},
		}}},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	data := resp["data"].(map[string]interface{})
	product := data["product"].(map[string]interface{})
	if product["weightKg"] != 9.5 {
		t.Fatalf("expected single-key boundary result stitched in, got %+v", product)
	}
}

func TestExecute_BoundaryListErrorIsRepathedToOriginObject(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{
				Step: 1, Location: "products", OperationType: "query",
				SelectionSet: "{ elementsA { _STITCH_id: id name } }",
			},
			{
				Step: 2, After: 1, Location: "shipping", OperationType: "query",
				Path: []string{"elementsA"},
				Boundary: &planner.BoundaryRef{
					Field: "productsByID", ArgName: "ids", Key: "id", List: true,
				},
				SelectionSet: "{ _STITCH_id: id weightKg }",
			},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"products": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"elementsA": []interface{}{
				map[string]interface{}{"_STITCH_id": "1", "name": "Widget"},
				map[string]interface{}{"_STITCH_id": "2", "name": "Sprocket"},
			},
		}}},
		"shipping": &fakeLocation{t: t, resp: &supergraph.LocationResult{
			Data: map[string]interface{}{
				"_0_result": []interface{}{
					map[string]interface{}{"_STITCH_id": "1", "weightKg": 1.5},
					nil,
				},
			},
			Errors: []supergraph.RemoteError{
				{Message: "boom", Path: []interface{}{"_0_result", float64(1), "weightKg"}},
			},
		}},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	errs, ok := resp["errors"].([]supergraph.RemoteError)
	if !ok || len(errs) != 1 {
		t.Fatalf("expected exactly one remote error, got %+v", resp["errors"])
	}
	want := []interface{}{"elementsA", 1, "weightKg"}
	got := errs[0].Path
	if len(got) != len(want) {
		t.Fatalf("repathed error.path = %+v, want %+v", got, want)
	}
	for i := range want {
		if fmt.Sprint(got[i]) != fmt.Sprint(want[i]) {
			t.Errorf("repathed error.path[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExecute_BoundarySingleKeyErrorIsRepathedByAliasIndex(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{
				Step: 1, Location: "products", OperationType: "query",
				SelectionSet: "{ items { _STITCH_id: id } }",
			},
			{
				Step: 2, After: 1, Location: "shipping", OperationType: "query",
				Path: []string{"items"},
				Boundary: &planner.BoundaryRef{
					Field: "productByID", ArgName: "id", Key: "id", List: false,
				},
				SelectionSet: "{ _STITCH_id: id weightKg }",
			},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"products": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"items": []interface{}{
				map[string]interface{}{"_STITCH_id": "1"},
				map[string]interface{}{"_STITCH_id": "2"},
			},
		}}},
		"shipping": &fakeLocation{t: t, resp: &supergraph.LocationResult{
			Data: map[string]interface{}{
				"_0_0_result": map[string]interface{}{"_STITCH_id": "1", "weightKg": 1.5},
			},
			Errors: []supergraph.RemoteError{
				{Message: "boom", Path: []interface{}{"_0_1_result", "weightKg"}},
			},
		}},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	errs, ok := resp["errors"].([]supergraph.RemoteError)
	if !ok || len(errs) != 1 {
		t.Fatalf("expected exactly one remote error, got %+v", resp["errors"])
	}
	want := []interface{}{"items", 1, "weightKg"}
	got := errs[0].Path
	if len(got) != len(want) {
		t.Fatalf("repathed error.path = %+v, want %+v", got, want)
	}
	for i := range want {
		if fmt.Sprint(got[i]) != fmt.Sprint(want[i]) {
			t.Errorf("repathed error.path[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestExecute_BoundaryOperationsSharingLocationAndAfterAreBatchedTogether(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{
				Step: 1, Location: "catalog", OperationType: "query",
				SelectionSet: "{ productA { _STITCH_id: id } productB { _STITCH_id: id } }",
			},
			{
				Step: 2, After: 1, Location: "shipping", OperationType: "query",
				Path: []string{"productA"},
				Boundary: &planner.BoundaryRef{
					Field: "productByID", ArgName: "id", Key: "id", List: false,
				},
				SelectionSet: "{ _STITCH_id: id weightKg }",
			},
			{
				Step: 3, After: 1, Location: "shipping", OperationType: "query",
				Path: []string{"productB"},
				Boundary: &planner.BoundaryRef{
					Field: "productByID", ArgName: "id", Key: "id", List: false,
				},
				SelectionSet: "{ _STITCH_id: id weightKg }",
			},
		},
	}

	var shippingCalls int
	shipping := &fakeLocation{
		t: t,
		want: []string{
			"Batch_2_3",
			"_0_0_result:", "_1_0_result:",
		},
		resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"_0_0_result": map[string]interface{}{"_STITCH_id": "a", "weightKg": 1.0},
			"_1_0_result": map[string]interface{}{"_STITCH_id": "b", "weightKg": 2.0},
		}},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"catalog": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"productA": map[string]interface{}{"_STITCH_id": "a"},
			"productB": map[string]interface{}{"_STITCH_id": "b"},
		}}},
		"shipping": &countingLocation{fakeLocation: shipping, calls: &shippingCalls},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if shippingCalls != 1 {
		t.Fatalf("expected the two sibling boundary Operations to batch into one round trip, got %d calls", shippingCalls)
	}

	data := resp["data"].(map[string]interface{})
	productA := data["productA"].(map[string]interface{})
	productB := data["productB"].(map[string]interface{})
	if productA["weightKg"] != 1.0 || productB["weightKg"] != 2.0 {
		t.Fatalf("expected both batched boundary results stitched in, got %+v / %+v", productA, productB)
	}
}

// countingLocation wraps a fakeLocation to count how many outbound calls a
// location actually received, proving batching collapsed sibling Operations
// into one round trip rather than issuing one each.
type countingLocation struct {
	*fakeLocation
	calls *int
}

func (c *countingLocation) Execute(ctx context.Context, location, doc string, vars map[string]interface{}) (*supergraph.LocationResult, error) {
	*c.calls++
	return c.fakeLocation.Execute(ctx, location, doc, vars)
}

func TestExecute_MissingExecutorAbortsWithExecutionError(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, Location: "a", OperationType: "query", SelectionSet: "{ widget { id } }"},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected Execute() to abort with an *executor.ExecutionError, got nil")
	}
	if resp != nil {
		t.Errorf("expected no partial data on an aborted request, got %+v", resp)
	}
	if _, ok := err.(*executor.ExecutionError); !ok {
		t.Errorf("expected *executor.ExecutionError, got %T: %v", err, err)
	}
}

func TestExecute_LocationFailureAbortsSiblingsAndDiscardsPartialData(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, Location: "a", OperationType: "query", SelectionSet: "{ widget { id } }"},
			{Step: 2, Location: "missing", OperationType: "query", SelectionSet: "{ sprocket { id } }"},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{
		"a": &fakeLocation{t: t, resp: &supergraph.LocationResult{Data: map[string]interface{}{
			"widget": map[string]interface{}{"id": "1"},
		}}},
	})

	resp, err := executor.New(sg).Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected Execute() to abort when a wave-mate's location has no executor")
	}
	if resp != nil {
		t.Errorf("expected data to be fully discarded on abort, got %+v", resp)
	}
}

func TestExecute_RejectsCircularPlan(t *testing.T) {
	plan := &planner.Plan{
		OperationType: "query",
		Operations: []*planner.Operation{
			{Step: 1, After: 2, Location: "a", OperationType: "query", SelectionSet: "{ a }"},
			{Step: 2, After: 1, Location: "b", OperationType: "query", SelectionSet: "{ b }"},
		},
	}

	sg := (&supergraph.Supergraph{}).WithExecutables(map[string]supergraph.LocationExecutor{})
	if _, err := executor.New(sg).Execute(context.Background(), plan); err == nil {
		t.Fatal("expected Execute() to reject a circular Plan, got nil error")
	}
}
