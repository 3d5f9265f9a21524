// Package request parses an incoming GraphQL query into the normalized form
// the Planner consumes: a single selected operation with no fragment spreads
// left in it. Spreads become inline fragments carrying the fragment's type
// condition, untyped inline fragments are flattened into their parent, and
// typed inline fragments are kept.
package request

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Request is one parsed, fragment-expanded GraphQL operation together with
// the variables and ambient context it was submitted with.
type Request struct {
	// Document is the selected operation with every fragment spread
	// replaced by a typed inline fragment and every untyped inline fragment
	// flattened into its SelectionSet; typed inline fragments remain.
	Document *ast.OperationDefinition
	// OperationType mirrors Document.Operation as a string ("query" /
	// "mutation") for callers that don't want to import the ast package.
	OperationType string
	OperationName string
	Variables     map[string]interface{}
	Context       context.Context
	// Digest is a stable hash of the normalized query text and operation
	// name, suitable as a PlanCache key (spec §6).
	Digest string
	// OperationDirectives are the directives attached to the selected
	// operation itself (e.g. @live). The Planner and Executor do not read
	// them: every Operation of one Plan comes from the same operation, so
	// batching groups by location and After alone.
	OperationDirectives []*ast.Directive
	// FragmentDefinitions is kept only for diagnostics; Document's
	// selections no longer reference fragment spreads after Parse.
	FragmentDefinitions map[string]*ast.FragmentDefinition
}

// ParseError is returned for malformed queries or an unresolvable operation
// selection (spec §7: surfaces as {errors, data: null} before planning ever
// starts).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("request parse error: %s", e.Reason)
}

// Parse parses query, selects the operation named by operationName (or the
// query's sole operation when operationName is empty and only one is
// present), and returns it with all fragments expanded.
func Parse(ctx context.Context, query string, operationName string, variables map[string]interface{}) (*Request, error) {
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("%v", p.Errors())}
	}

	fragmentDefs := collectFragmentDefinitions(doc)

	op, err := selectOperation(doc, operationName)
	if err != nil {
		return nil, err
	}

	expanded := &ast.OperationDefinition{
		Operation:           op.Operation,
		Name:                op.Name,
		VariableDefinitions: op.VariableDefinitions,
		Directives:          op.Directives,
		SelectionSet:        expandFragments(op.SelectionSet, fragmentDefs),
	}

	if variables == nil {
		variables = map[string]interface{}{}
	}

	return &Request{
		Document:            expanded,
		OperationType:       string(op.Operation),
		OperationName:       operationName,
		Variables:           variables,
		Context:             ctx,
		Digest:              digest(query, operationName),
		OperationDirectives: op.Directives,
		FragmentDefinitions: fragmentDefs,
	}, nil
}

// selectOperation implements spec §4.2 step 1: select by name, or require a
// sole operation when no name is given.
func selectOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var ops []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			ops = append(ops, op)
		}
	}
	if len(ops) == 0 {
		return nil, &ParseError{Reason: "document contains no operation"}
	}

	if operationName == "" {
		if len(ops) > 1 {
			return nil, &ParseError{Reason: "document contains multiple operations; operationName is required"}
		}
		return ops[0], nil
	}

	for _, op := range ops {
		if op.Name != nil && op.Name.String() == operationName {
			return op, nil
		}
	}
	return nil, &ParseError{Reason: fmt.Sprintf("unknown operation %q", operationName)}
}

// collectFragmentDefinitions indexes every named fragment in the document.
func collectFragmentDefinitions(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragDef.Name.String()] = fragDef
		}
	}
	return fragments
}

// expandFragments recursively inlines fragment spreads and inline fragments,
// following the teacher's expandFragmentsInSelections.
func expandFragments(selections []ast.Selection, fragmentDefs map[string]*ast.FragmentDefinition) []ast.Selection {
	result := make([]ast.Selection, 0, len(selections))

	for _, selection := range selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if len(sel.SelectionSet) > 0 {
				newField := &ast.Field{
					Alias:      sel.Alias,
					Name:       sel.Name,
					Arguments:  sel.Arguments,
					Directives: sel.Directives,
				}
				newField.SelectionSet = expandFragments(sel.SelectionSet, fragmentDefs)
				result = append(result, newField)
			} else {
				result = append(result, sel)
			}

		case *ast.InlineFragment:
			expanded := expandFragments(sel.SelectionSet, fragmentDefs)
			if sel.TypeCondition != nil {
				result = append(result, &ast.InlineFragment{
					TypeCondition: sel.TypeCondition,
					Directives:    sel.Directives,
					SelectionSet:  expanded,
				})
			} else {
				result = append(result, expanded...)
			}

		case *ast.FragmentSpread:
			fragDef, ok := fragmentDefs[sel.Name.String()]
			if !ok {
				continue
			}
			expanded := expandFragments(fragDef.SelectionSet, fragmentDefs)
			result = append(result, &ast.InlineFragment{
				TypeCondition: fragDef.TypeCondition,
				Directives:    sel.Directives,
				SelectionSet:  expanded,
			})

		default:
			result = append(result, sel)
		}
	}

	return dedupeCoalescedFields(result)
}

// dedupeCoalescedFields merges sibling selections that resolve to the same
// response key after fragment expansion (spec §4.2 "Fragments").
func dedupeCoalescedFields(selections []ast.Selection) []ast.Selection {
	seen := make(map[string]*ast.Field)
	result := make([]ast.Selection, 0, len(selections))

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			result = append(result, sel)
			continue
		}

		key := responseKey(field)
		if existing, ok := seen[key]; ok {
			existing.SelectionSet = append(existing.SelectionSet, field.SelectionSet...)
			continue
		}
		seen[key] = field
		result = append(result, field)
	}

	return result
}

func responseKey(f *ast.Field) string {
	if f.Alias != nil {
		return f.Alias.String()
	}
	return f.Name.String()
}

// digest returns a stable hash of the normalized query text and operation
// name, used as the PlanCache key (spec §6). Normalization collapses
// insignificant whitespace so equivalent queries that differ only in
// formatting share a cache entry.
func digest(query, operationName string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	sum := sha256.Sum256([]byte(operationName + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}
