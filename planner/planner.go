// Package planner implements the Planner: it turns a parsed Request into a
// Plan of Operations against individual locations (spec §4.2).
package planner

import (
	"strings"

	"github.com/n9te9/graphql-parser/ast"

	"github.com/n9te9/stitchgate/internal/gqlprint"
	"github.com/n9te9/stitchgate/request"
	"github.com/n9te9/stitchgate/supergraph"
)

// reservedAliasPrefix is forbidden in client-submitted queries; the Planner
// uses it to splice boundary-key values into outbound sub-queries.
const reservedAliasPrefix = "_STITCH_"

// reservedExportPrefix is the other reserved alias prefix named by spec §6.
const reservedExportPrefix = "_export_"

// BoundaryRef describes the boundary query an Operation issues to re-fetch
// a merged type from a location other than the one that produced it.
type BoundaryRef struct {
	Field      string
	ArgName    string
	Key        string
	List       bool
	Federation bool
}

// Operation is one outbound request the Executor will issue to a single
// location (spec §3).
type Operation struct {
	Step          int
	After         int
	Location      string
	OperationType string // "query" | "mutation"
	SelectionSet  string // textual GraphQL selection set, e.g. "{ id name }"
	Variables     map[string]interface{}
	Path          []string // response-key path from the request root
	IfType        string   // concrete type constraint for an abstract-type branch
	Boundary      *BoundaryRef
}

// Plan is an ordered set of Operations that together resolve one Request.
type Plan struct {
	Operations    []*Operation
	OperationType string
}

// Planner plans requests against a fixed Supergraph.
type Planner struct {
	Supergraph *supergraph.Supergraph
}

// New creates a Planner bound to sg.
func New(sg *supergraph.Supergraph) *Planner {
	return &Planner{Supergraph: sg}
}

// Plan builds an execution Plan for req (spec §4.2).
func (p *Planner) Plan(req *request.Request) (*Plan, error) {
	if err := checkReservedAliases(req.Document.SelectionSet); err != nil {
		return nil, err
	}

	opType := "query"
	rootType := p.Supergraph.QueryTypeName
	if req.Document.Operation == ast.Mutation {
		opType = "mutation"
		rootType = p.Supergraph.MutationTypeName
	}

	b := &builder{sg: p.Supergraph, requestVars: req.Variables, opType: opType, nextStepID: 1}

	groups, err := b.groupRootSelections(req.Document.SelectionSet, rootType)
	if err != nil {
		return nil, err
	}

	prevStep := 0
	for _, g := range groups {
		op := &Operation{
			Step:          b.allocStep(),
			Location:      g.location,
			OperationType: opType,
		}
		if opType == "mutation" {
			op.After = prevStep
		}

		var sel []ast.Selection
		if g.location == supergraph.IntrospectionLocation {
			sel = g.fields
		} else {
			sel = b.projectSelections(g.fields, rootType, g.location, nil, op.Step)
		}
		op.SelectionSet = gqlprint.SelectionSet(sel)
		op.Variables = b.collectVariables(sel)

		b.operations = append(b.operations, op)
		prevStep = op.Step
	}

	return &Plan{Operations: b.operations, OperationType: opType}, nil
}

// checkReservedAliases rejects client queries that use a Planner-reserved
// alias prefix (spec §6 "Reserved identifiers").
func checkReservedAliases(selections []ast.Selection) error {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Alias != nil {
				alias := s.Alias.String()
				if strings.HasPrefix(alias, reservedAliasPrefix) || strings.HasPrefix(alias, reservedExportPrefix) {
					return &PlanError{Reason: "query uses reserved alias prefix " + alias}
				}
			}
			if err := checkReservedAliases(s.SelectionSet); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if err := checkReservedAliases(s.SelectionSet); err != nil {
				return err
			}
		}
	}
	return nil
}

// builder accumulates Operations while walking one Request's document.
type builder struct {
	sg          *supergraph.Supergraph
	requestVars map[string]interface{}
	opType      string
	operations  []*Operation
	nextStepID  int
}

func (b *builder) allocStep() int {
	s := b.nextStepID
	b.nextStepID++
	return s
}

type rootGroup struct {
	location string
	fields   []ast.Selection
}

// groupRootSelections implements spec §4.2's "root scoping" and "grouping &
// order": every top-level selection is assigned a location (introspection
// fields always resolve to "__super"), and contiguous same-location runs
// become one group each, in request order.
func (b *builder) groupRootSelections(selections []ast.Selection, rootType string) ([]*rootGroup, error) {
	var groups []*rootGroup
	prevLoc := ""

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()

		var loc string
		if name == "__schema" || name == "__type" || name == "__typename" {
			loc = supergraph.IntrospectionLocation
		} else {
			locs := b.sg.FieldLocations(rootType, name)
			if len(locs) == 0 {
				return nil, &PlanError{Reason: "no location can resolve " + rootType + "." + name}
			}
			loc = pickLocation(locs, prevLoc)
		}

		if len(groups) > 0 && groups[len(groups)-1].location == loc {
			groups[len(groups)-1].fields = append(groups[len(groups)-1].fields, field)
		} else {
			groups = append(groups, &rootGroup{location: loc, fields: []ast.Selection{field}})
		}
		prevLoc = loc
	}

	return groups, nil
}

// pickLocation implements the spec §4.2 tie-break: prefer the previously
// selected location, else the alphabetically first candidate (locs is
// already sorted by Supergraph.FieldLocations).
func pickLocation(locs []string, preferred string) string {
	for _, l := range locs {
		if l == preferred {
			return l
		}
	}
	return locs[0]
}

// projectSelections filters selections down to the fields resolvable at
// loc, recursing into child selection sets and spinning off dependent
// Operations (with injected _STITCH_* fields) for any sibling fields that
// belong to a different location (spec §4.2 "recursive descent").
func (b *builder) projectSelections(selections []ast.Selection, parentType, loc string, path []string, afterStep int) []ast.Selection {
	var result []ast.Selection
	offLoc := make(map[string][]ast.Selection)
	var offLocOrder []string
	injected := make(map[string]bool)

	for _, sel := range selections {
		field, ok := sel.(*ast.Field)
		if !ok {
			result = append(result, sel)
			continue
		}
		fieldName := field.Name.String()

		if fieldName == "__typename" {
			result = append(result, field)
			continue
		}

		locs := b.sg.FieldLocations(parentType, fieldName)
		if containsString(locs, loc) {
			result = append(result, b.projectField(field, parentType, fieldName, loc, path, afterStep))
			continue
		}

		target := pickLocation(locs, "")
		if _, seen := offLoc[target]; !seen {
			offLocOrder = append(offLocOrder, target)
		}
		offLoc[target] = append(offLoc[target], field)
	}

	for _, target := range offLocOrder {
		bq := b.findBoundary(parentType, target)
		if bq == nil {
			continue
		}

		op := &Operation{
			Step:          b.allocStep(),
			After:         afterStep,
			Location:      target,
			OperationType: "query",
			Path:          append([]string{}, path...),
			Boundary: &BoundaryRef{
				Field:      bq.Field,
				ArgName:    bq.ArgName,
				Key:        bq.Key,
				List:       bq.List,
				Federation: bq.Federation,
			},
		}
		childSel := b.projectSelections(offLoc[target], parentType, target, path, op.Step)
		childSel = append([]ast.Selection{stitchKeyField(bq.Key)}, childSel...)
		if bq.Federation {
			childSel = append([]ast.Selection{stitchTypenameField()}, childSel...)
		}
		op.SelectionSet = gqlprint.SelectionSet(childSel)
		op.Variables = b.collectVariables(childSel)
		b.operations = append(b.operations, op)

		if !injected[reservedAliasPrefix+bq.Key] {
			result = append(result, stitchKeyField(bq.Key))
			injected[reservedAliasPrefix+bq.Key] = true
		}
		if !injected[reservedAliasPrefix+"typename"] {
			result = append(result, stitchTypenameField())
			injected[reservedAliasPrefix+"typename"] = true
		}
	}

	return result
}

// projectField handles one inline-resolvable field, recursing into its
// child selection set (plain types) or branching per concrete type
// (abstract types).
func (b *builder) projectField(field *ast.Field, parentType, fieldName, loc string, path []string, afterStep int) ast.Selection {
	newField := &ast.Field{
		Alias:      field.Alias,
		Name:       field.Name,
		Arguments:  field.Arguments,
		Directives: field.Directives,
	}
	if len(field.SelectionSet) == 0 {
		return newField
	}

	returnType, _ := b.fieldReturnType(parentType, fieldName)
	childPath := append(append([]string{}, path...), responseKey(field))

	if returnType != "" && b.sg.IsAbstractType(returnType) {
		sel := b.projectAbstractSelections(field.SelectionSet, returnType, loc, childPath, afterStep)
		// IfType filtering at execution time needs every returned object's
		// concrete type, regardless of whether this particular branch turns
		// out to need a dependent Operation.
		newField.SelectionSet = append([]ast.Selection{stitchTypenameField()}, sel...)
	} else {
		newField.SelectionSet = b.projectSelections(field.SelectionSet, returnType, loc, childPath, afterStep)
	}
	return newField
}

// projectAbstractSelections handles spec §4.2 "abstract types": shared
// fields (selected directly on the interface/union) are projected like any
// other field; each "... on Concrete" branch is projected against its own
// concrete type, and a dependent Operation with ifType=Concrete is created
// for any of its fields that need a different location.
func (b *builder) projectAbstractSelections(selections []ast.Selection, abstractType, loc string, path []string, afterStep int) []ast.Selection {
	var result []ast.Selection
	typenameInjected := false

	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name.String() == "__typename" {
				result = append(result, s)
				continue
			}
			locs := b.sg.FieldLocations(abstractType, s.Name.String())
			if containsString(locs, loc) {
				result = append(result, b.projectField(s, abstractType, s.Name.String(), loc, path, afterStep))
			}

		case *ast.InlineFragment:
			concreteType := s.TypeCondition.Name.String()
			var inline []ast.Selection
			offLoc := make(map[string][]ast.Selection)
			var offLocOrder []string

			for _, fsel := range s.SelectionSet {
				f, ok := fsel.(*ast.Field)
				if !ok {
					inline = append(inline, fsel)
					continue
				}
				if f.Name.String() == "__typename" {
					inline = append(inline, f)
					continue
				}
				locs := b.sg.FieldLocations(concreteType, f.Name.String())
				if containsString(locs, loc) {
					inline = append(inline, b.projectField(f, concreteType, f.Name.String(), loc, path, afterStep))
					continue
				}
				target := pickLocation(locs, "")
				if _, seen := offLoc[target]; !seen {
					offLocOrder = append(offLocOrder, target)
				}
				offLoc[target] = append(offLoc[target], f)
			}

			for _, target := range offLocOrder {
				bq := b.findBoundary(concreteType, target)
				if bq == nil {
					continue
				}
				op := &Operation{
					Step:          b.allocStep(),
					After:         afterStep,
					Location:      target,
					OperationType: "query",
					Path:          append([]string{}, path...),
					IfType:        concreteType,
					Boundary: &BoundaryRef{
						Field:      bq.Field,
						ArgName:    bq.ArgName,
						Key:        bq.Key,
						List:       bq.List,
						Federation: bq.Federation,
					},
				}
				childSel := b.projectSelections(offLoc[target], concreteType, target, path, op.Step)
				childSel = append([]ast.Selection{stitchKeyField(bq.Key)}, childSel...)
				if bq.Federation {
					childSel = append([]ast.Selection{stitchTypenameField()}, childSel...)
				}
				op.SelectionSet = gqlprint.SelectionSet(childSel)
				op.Variables = b.collectVariables(childSel)
				b.operations = append(b.operations, op)

				if !typenameInjected {
					result = append(result, stitchTypenameField())
					typenameInjected = true
				}
			}

			if len(inline) > 0 {
				result = append(result, &ast.InlineFragment{TypeCondition: s.TypeCondition, Directives: s.Directives, SelectionSet: inline})
			}
		}
	}

	return result
}

func (b *builder) findBoundary(typeName, location string) *supergraph.BoundaryQuery {
	for _, bq := range b.sg.BoundariesFor(typeName) {
		if bq.Location == location {
			return bq
		}
	}
	return nil
}

// fieldReturnType resolves the named return type of parentType.fieldName,
// stripping list/non-null wrappers, by scanning the merged schema (mirrors
// the teacher's getNamedType/getFieldTypeName).
func (b *builder) fieldReturnType(parentType, fieldName string) (string, bool) {
	for _, def := range b.sg.Schema.Definitions {
		var fields []*ast.FieldDefinition
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			if d.Name.String() != parentType {
				continue
			}
			fields = d.Fields
		case *ast.InterfaceTypeDefinition:
			if d.Name.String() != parentType {
				continue
			}
			fields = d.Fields
		default:
			continue
		}
		for _, f := range fields {
			if f.Name.String() == fieldName {
				return unwrapType(f.Type)
			}
		}
	}
	return "", false
}

func unwrapType(t ast.Type) (string, bool) {
	switch v := t.(type) {
	case *ast.NamedType:
		return v.Name.String(), false
	case *ast.ListType:
		name, _ := unwrapType(v.Type)
		return name, true
	case *ast.NonNullType:
		return unwrapType(v.Type)
	default:
		return "", false
	}
}

// collectVariables walks selections for referenced $variables and returns
// the subset of the request's variables they use (spec §4.2 "Variables").
func (b *builder) collectVariables(selections []ast.Selection) map[string]interface{} {
	names := make(map[string]struct{})
	collectVariableNames(selections, names)

	out := make(map[string]interface{}, len(names))
	for name := range names {
		if v, ok := b.requestVars[name]; ok {
			out[name] = v
		}
	}
	return out
}

func collectVariableNames(selections []ast.Selection, names map[string]struct{}) {
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				collectVariableNamesFromValue(arg.Value, names)
			}
			if len(s.SelectionSet) > 0 {
				collectVariableNames(s.SelectionSet, names)
			}
		case *ast.InlineFragment:
			collectVariableNames(s.SelectionSet, names)
		}
	}
}

func collectVariableNamesFromValue(val ast.Value, names map[string]struct{}) {
	switch v := val.(type) {
	case *ast.Variable:
		names[v.Name] = struct{}{}
	case *ast.ListValue:
		for _, item := range v.Values {
			collectVariableNamesFromValue(item, names)
		}
	case *ast.ObjectValue:
		for _, field := range v.Fields {
			collectVariableNamesFromValue(field.Value, names)
		}
	}
}

func stitchKeyField(key string) *ast.Field {
	return &ast.Field{
		Alias: &ast.Name{Value: reservedAliasPrefix + key},
		Name:  &ast.Name{Value: key},
	}
}

func stitchTypenameField() *ast.Field {
	return &ast.Field{
		Alias: &ast.Name{Value: reservedAliasPrefix + "typename"},
		Name:  &ast.Name{Value: "__typename"},
	}
}

func responseKey(f *ast.Field) string {
	if f.Alias != nil {
		return f.Alias.String()
	}
	return f.Name.String()
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
