package supergraph

import (
	"fmt"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// location is one source schema given to Compose, parsed into an AST. It is
// a build-time value only — Supergraph itself never retains per-location
// schema ASTs, only the routing tables derived from them.
type location struct {
	name   string
	schema *ast.Document
}

// parseLocation parses one location's SDL source into an AST document.
func parseLocation(name string, src []byte) (*location, error) {
	l := lexer.New(string(src))
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("location %q: schema parse error: %v", name, p.Errors())
	}

	return &location{name: name, schema: doc}, nil
}

func directivesNamed(directives []*ast.Directive, name string) []*ast.Directive {
	var out []*ast.Directive
	for _, d := range directives {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}
