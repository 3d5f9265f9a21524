package supergraph

import (
	"testing"

	"github.com/n9te9/graphql-parser/ast"
)

func TestParseLocation(t *testing.T) {
	schema := `
		type Query {
			product(id: ID!): Product
		}
		type Product {
			id: ID!
			name: String!
		}
	`

	loc, err := parseLocation("products", []byte(schema))
	if err != nil {
		t.Fatalf("parseLocation() error = %v", err)
	}

	if loc.name != "products" {
		t.Errorf("loc.name = %q, want products", loc.name)
	}
	if loc.schema == nil || len(loc.schema.Definitions) == 0 {
		t.Fatal("expected a parsed, non-empty schema document")
	}
}

func TestParseLocation_InvalidSchema(t *testing.T) {
	_, err := parseLocation("broken", []byte(`type Query { product(`))
	if err == nil {
		t.Fatal("expected parseLocation() to reject malformed SDL, got nil error")
	}
}

func TestDirectivesNamed(t *testing.T) {
	directives := []*ast.Directive{
		{Name: "stitch"},
		{Name: "deprecated"},
		{Name: "stitch"},
	}

	matches := directivesNamed(directives, "stitch")
	if len(matches) != 2 {
		t.Fatalf("directivesNamed(stitch) = %d matches, want 2", len(matches))
	}

	if none := directivesNamed(directives, "unknown"); none != nil {
		t.Errorf("directivesNamed(unknown) = %v, want nil", none)
	}
}
