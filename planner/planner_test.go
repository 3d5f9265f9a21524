package planner_test

import (
	"context"
	"sort"
	"testing"

	"github.com/n9te9/stitchgate/planner"
	"github.com/n9te9/stitchgate/request"
	"github.com/n9te9/stitchgate/supergraph"
)

func buildTwoLocationSupergraph(t *testing.T) *supergraph.Supergraph {
	t.Helper()

	productsSchema := []byte(`
		type Query {
			product(id: ID!): Product @stitch(key: "id")
		}
		type Product {
			id: ID!
			name: String!
		}
	`)
	shippingSchema := []byte(`
		type Query {
			products(ids: [ID!]!): [Product] @stitch(key: "id")
		}
		type Product {
			id: ID!
			weightKg: Float!
		}
	`)

	sg, err := supergraph.Compose(map[string][]byte{
		"products": productsSchema,
		"shipping": shippingSchema,
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	return sg
}

func TestPlanner_TwoLocationSplit(t *testing.T) {
	sg := buildTwoLocationSupergraph(t)
	p := planner.New(sg)

	req, err := request.Parse(context.Background(), `{ product(id: "1") { id name weightKg } }`, "", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	plan, err := p.Plan(req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d: %+v", len(plan.Operations), plan.Operations)
	}

	root := plan.Operations[0]
	if root.Location != "products" || root.After != 0 {
		t.Errorf("root operation = %+v, want location=products after=0", root)
	}

	dependent := plan.Operations[1]
	if dependent.Location != "shipping" {
		t.Errorf("dependent operation location = %q, want shipping", dependent.Location)
	}
	if dependent.After != root.Step {
		t.Errorf("dependent.After = %d, want %d", dependent.After, root.Step)
	}
	if dependent.Boundary == nil || dependent.Boundary.Field != "products" || dependent.Boundary.Key != "id" {
		t.Errorf("dependent.Boundary = %+v, want products/id boundary", dependent.Boundary)
	}
	if !dependent.Boundary.List {
		t.Errorf("dependent.Boundary.List = false, want true")
	}
}

func TestPlanner_IntrospectionAlwaysSuper(t *testing.T) {
	sg := buildTwoLocationSupergraph(t)
	p := planner.New(sg)

	req, err := request.Parse(context.Background(), `{ __schema { queryType { name } } product(id: "1") { id name } }`, "", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	plan, err := p.Plan(req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	var locations []string
	for _, op := range plan.Operations {
		locations = append(locations, op.Location)
	}
	sort.Strings(locations)

	want := []string{"__super", "products"}
	if len(locations) != len(want) || locations[0] != want[0] || locations[1] != want[1] {
		t.Errorf("operation locations = %v, want %v", locations, want)
	}
}

func TestPlanner_MutationSerializesByLocation(t *testing.T) {
	widgetsSchema := []byte(`
		type Query { widget(id: ID!): Widget }
		type Mutation { makeWidget(name: String!): Widget }
		type Widget { id: ID!, name: String! }
	`)
	sprocketsSchema := []byte(`
		type Query { sprocket(id: ID!): Sprocket }
		type Mutation { makeSprocket(name: String!): Sprocket }
		type Sprocket { id: ID!, name: String! }
	`)

	sg, err := supergraph.Compose(map[string][]byte{
		"widgets":   widgetsSchema,
		"sprockets": sprocketsSchema,
	})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}

	p := planner.New(sg)
	req, err := request.Parse(context.Background(), `
		mutation {
			a: makeWidget(name: "w1") { id }
			b: makeSprocket(name: "s1") { id }
			c: makeWidget(name: "w2") { id }
		}
	`, "", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	plan, err := p.Plan(req)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(plan.Operations) != 3 {
		t.Fatalf("expected 3 operations (one per contiguous run), got %d: %+v", len(plan.Operations), plan.Operations)
	}

	for i, op := range plan.Operations {
		if op.OperationType != "mutation" {
			t.Errorf("operation %d type = %q, want mutation", i, op.OperationType)
		}
		if i == 0 {
			if op.After != 0 {
				t.Errorf("first operation After = %d, want 0", op.After)
			}
			continue
		}
		prev := plan.Operations[i-1]
		if op.After != prev.Step {
			t.Errorf("operation %d After = %d, want %d (previous step, serialized)", i, op.After, prev.Step)
		}
	}
}

func TestPlanner_RejectsReservedAlias(t *testing.T) {
	sg := buildTwoLocationSupergraph(t)
	p := planner.New(sg)

	req, err := request.Parse(context.Background(), `{ _export_product: product(id: "1") { id } }`, "", nil)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if _, err := p.Plan(req); err == nil {
		t.Fatal("expected Plan() to reject a reserved alias, got nil error")
	}
}
