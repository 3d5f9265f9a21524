package supergraph

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/token"
)

// Option configures Compose.
type Option func(*composeConfig)

type composeConfig struct {
	directiveName    string
	queryTypeName    string
	mutationTypeName string
}

// WithDirectiveName overrides the stitch directive name (default "stitch").
func WithDirectiveName(name string) Option {
	return func(c *composeConfig) { c.directiveName = name }
}

// WithRootTypeNames overrides the merged schema's root operation type names.
func WithRootTypeNames(queryTypeName, mutationTypeName string) Option {
	return func(c *composeConfig) {
		c.queryTypeName = queryTypeName
		c.mutationTypeName = mutationTypeName
	}
}

// Compose merges the given location schemas into a Supergraph (spec §4.1).
// schemas maps location name to raw SDL source.
func Compose(schemas map[string][]byte, opts ...Option) (*Supergraph, error) {
	cfg := &composeConfig{
		directiveName:    DefaultDirectiveName,
		queryTypeName:    "Query",
		mutationTypeName: "Mutation",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(schemas) == 0 {
		return nil, &CompositionError{Reason: "no locations to compose"}
	}

	locNames := make([]string, 0, len(schemas))
	locations := make([]*location, 0, len(schemas))
	for name, src := range schemas {
		loc, err := parseLocation(name, src)
		if err != nil {
			return nil, &CompositionError{Reason: err.Error()}
		}
		locNames = append(locNames, name)
		locations = append(locations, loc)
	}
	sortStrings(locNames)

	c := &composer{
		cfg:                     cfg,
		fieldsByTypeAndLocation: make(map[string]map[string]map[string]struct{}),
		objectFields:            make(map[string]map[string]*ast.FieldDefinition),
		objectFieldOrder:        make(map[string][]string),
		objectIsInterface:       make(map[string]bool),
		typeOrder:               nil,
		enumValues:               make(map[string]map[string]struct{}),
		inputFields:             make(map[string]map[string]struct{}),
		unionMembers:            make(map[string]map[string]struct{}),
		interfaces:              make(map[string]map[string]struct{}),
		polymorphicTypes:        make(map[string]struct{}),
		boundaries:              make(map[string][]*BoundaryQuery),
		boundaryDedup:           make(map[string]struct{}),
		scalars:                 make(map[string]struct{}),
		directiveDefs:           make(map[string]*ast.DirectiveDefinition),
	}

	for _, loc := range locations {
		if err := c.checkNoSubscription(loc); err != nil {
			return nil, err
		}
	}

	for _, loc := range locations {
		if err := c.mergeLocationTypes(loc); err != nil {
			return nil, err
		}
	}

	// Abstract-type membership must be known before stitch discovery decides
	// each BoundaryQuery's Federation flag.
	c.computePolymorphicTypes()

	for _, loc := range locations {
		if err := c.discoverStitchQueries(loc); err != nil {
			return nil, err
		}
	}

	if err := c.checkMergedTypeCoverage(); err != nil {
		return nil, err
	}

	schema := c.buildSchemaDocument()

	return &Supergraph{
		Schema:                  schema,
		Locations:               locNames,
		FieldsByTypeAndLocation: c.fieldsByTypeAndLocation,
		Boundaries:              c.boundaries,
		UnionMembers:            c.unionMemberSlices(),
		InterfaceImplementers:   c.interfaceImplementerSlices(),
		IntrospectionLocation:   IntrospectionLocation,
		DirectiveName:           cfg.directiveName,
		QueryTypeName:           cfg.queryTypeName,
		MutationTypeName:        cfg.mutationTypeName,
	}, nil
}

func (c *composer) unionMemberSlices() map[string][]string {
	out := make(map[string][]string, len(c.unionMembers))
	for typeName, members := range c.unionMembers {
		names := make([]string, 0, len(members))
		for m := range members {
			names = append(names, m)
		}
		sortStrings(names)
		out[typeName] = names
	}
	return out
}

func (c *composer) interfaceImplementerSlices() map[string][]string {
	byIface := make(map[string][]string)
	for typeName, ifaces := range c.interfaces {
		for iface := range ifaces {
			byIface[iface] = append(byIface[iface], typeName)
		}
	}
	for iface := range byIface {
		sortStrings(byIface[iface])
	}
	return byIface
}

// composer accumulates merge state across all locations before the final
// *ast.Document is assembled. It mirrors the teacher's SuperGraphV2 deep-copy
// merge passes (federation/graph/super_graph_v2.go) generalized from
// entity-ownership tracking to fieldsByTypeAndLocation routing.
type composer struct {
	cfg *composeConfig

	fieldsByTypeAndLocation map[string]map[string]map[string]struct{}

	typeOrder        []string // object/interface type names, first-seen order
	objectFields     map[string]map[string]*ast.FieldDefinition
	objectFieldOrder map[string][]string
	objectIsInterface map[string]bool

	enumValues    map[string]map[string]struct{}
	enumOrder     []string
	inputFields   map[string]map[string]struct{}
	inputOrder    []string
	unionMembers  map[string]map[string]struct{}
	unionOrder    []string
	interfaces    map[string]map[string]struct{} // typeName -> set of interfaces it implements
	scalars       map[string]struct{}
	scalarOrder   []string
	directiveDefs map[string]*ast.DirectiveDefinition
	directiveOrder []string

	polymorphicTypes map[string]struct{}

	boundaries    map[string][]*BoundaryQuery
	boundaryDedup map[string]struct{} // location+"|"+key+"|"+typeName
}

func (c *composer) checkNoSubscription(loc *location) error {
	for _, def := range loc.schema.Definitions {
		if obj, ok := def.(*ast.ObjectTypeDefinition); ok && obj.Name.String() == "Subscription" {
			return &CompositionError{Reason: fmt.Sprintf("location %q declares a Subscription root, which is unsupported", loc.name)}
		}
		if sd, ok := def.(*ast.SchemaDefinition); ok {
			for _, ot := range sd.OperationTypes {
				if ot.Operation == token.SUBSCRIPTION {
					return &CompositionError{Reason: fmt.Sprintf("location %q declares a subscription root operation, which is unsupported", loc.name)}
				}
			}
		}
	}
	return nil
}

func (c *composer) mergeLocationTypes(loc *location) error {
	for _, def := range loc.schema.Definitions {
		switch d := def.(type) {
		case *ast.ObjectTypeDefinition:
			if err := c.mergeObjectLike(loc.name, d.Name.String(), d.Fields, d.Directives, false); err != nil {
				return err
			}
		case *ast.ObjectTypeExtension:
			if err := c.mergeObjectLike(loc.name, d.Name.String(), d.Fields, d.Directives, false); err != nil {
				return err
			}
		case *ast.InterfaceTypeDefinition:
			if err := c.mergeObjectLike(loc.name, d.Name.String(), d.Fields, d.Directives, true); err != nil {
				return err
			}
			for _, f := range d.Fields {
				_ = f
			}
		case *ast.InputObjectTypeDefinition:
			c.mergeInput(d.Name.String(), d.Fields)
		case *ast.EnumTypeDefinition:
			c.mergeEnum(d.Name.String(), d.Values)
		case *ast.ScalarTypeDefinition:
			c.mergeScalar(d.Name.String())
		case *ast.UnionTypeDefinition:
			c.mergeUnion(d.Name.String(), d.Types)
		case *ast.DirectiveDefinition:
			c.mergeDirectiveDefinition(d)
		}
	}

	// A second pass records interface-implements relationships, which
	// ast.ObjectTypeDefinition exposes via Interfaces.
	for _, def := range loc.schema.Definitions {
		if obj, ok := def.(*ast.ObjectTypeDefinition); ok {
			for _, iface := range obj.Interfaces {
				name := iface.Name.String()
				if c.interfaces[obj.Name.String()] == nil {
					c.interfaces[obj.Name.String()] = make(map[string]struct{})
				}
				c.interfaces[obj.Name.String()][name] = struct{}{}
			}
		}
	}

	return nil
}

func (c *composer) mergeObjectLike(locName, typeName string, fields []*ast.FieldDefinition, directives []*ast.Directive, isInterface bool) error {
	if c.objectFields[typeName] == nil {
		c.objectFields[typeName] = make(map[string]*ast.FieldDefinition)
		c.typeOrder = append(c.typeOrder, typeName)
	}
	if isInterface {
		c.objectIsInterface[typeName] = true
	}

	for _, field := range fields {
		fieldName := field.Name.String()

		if c.fieldsByTypeAndLocation[typeName] == nil {
			c.fieldsByTypeAndLocation[typeName] = make(map[string]map[string]struct{})
		}
		if c.fieldsByTypeAndLocation[typeName][locName] == nil {
			c.fieldsByTypeAndLocation[typeName][locName] = make(map[string]struct{})
		}
		c.fieldsByTypeAndLocation[typeName][locName][fieldName] = struct{}{}

		existing, seen := c.objectFields[typeName][fieldName]
		if !seen {
			c.objectFields[typeName][fieldName] = field
			c.objectFieldOrder[typeName] = append(c.objectFieldOrder[typeName], fieldName)
			continue
		}

		// A field already merged from another location must always be
		// signature-identical, root types included: two locations may both
		// declare the same root field only when they agree on its type.
		if !signatureCompatible(existing.Type, field.Type) {
			return &CompositionError{Reason: fmt.Sprintf("%s.%s: incompatible field type across locations (%s vs %s)", typeName, fieldName, field.Type.String(), existing.Type.String())}
		}
	}

	return nil
}

func (c *composer) mergeInput(typeName string, fields []*ast.InputValueDefinition) {
	if c.inputFields[typeName] == nil {
		c.inputFields[typeName] = make(map[string]struct{})
		c.inputOrder = append(c.inputOrder, typeName)
	}
	for _, f := range fields {
		c.inputFields[typeName][f.Name.String()] = struct{}{}
	}
}

func (c *composer) mergeEnum(typeName string, values []*ast.EnumValueDefinition) {
	if c.enumValues[typeName] == nil {
		c.enumValues[typeName] = make(map[string]struct{})
		c.enumOrder = append(c.enumOrder, typeName)
	}
	for _, v := range values {
		c.enumValues[typeName][v.Value.String()] = struct{}{}
	}
}

func (c *composer) mergeScalar(typeName string) {
	if _, ok := c.scalars[typeName]; !ok {
		c.scalars[typeName] = struct{}{}
		c.scalarOrder = append(c.scalarOrder, typeName)
	}
}

func (c *composer) mergeUnion(typeName string, types []*ast.NamedType) {
	if c.unionMembers[typeName] == nil {
		c.unionMembers[typeName] = make(map[string]struct{})
		c.unionOrder = append(c.unionOrder, typeName)
	}
	for _, t := range types {
		c.unionMembers[typeName][t.Name.String()] = struct{}{}
	}
}

func (c *composer) mergeDirectiveDefinition(d *ast.DirectiveDefinition) {
	name := d.Name.String()
	if _, ok := c.directiveDefs[name]; !ok {
		c.directiveDefs[name] = d
		c.directiveOrder = append(c.directiveOrder, name)
	}
}

// computePolymorphicTypes marks every type that is a union member or
// implements an interface. BoundaryQuery.Federation is set for these types:
// when a boundary field's target type is polymorphic, correlating fetched
// items back to origin objects needs the concrete __typename alongside the
// key, not the key alone (spec §3 "federation flag controls input shape").
func (c *composer) computePolymorphicTypes() {
	for _, members := range c.unionMembers {
		for m := range members {
			c.polymorphicTypes[m] = struct{}{}
		}
	}
	for typeName, ifaces := range c.interfaces {
		if len(ifaces) > 0 {
			c.polymorphicTypes[typeName] = struct{}{}
		}
	}
}

// discoverStitchQueries scans a location's root Query/Mutation fields for
// the stitch directive (spec §4.1 "Stitch discovery").
func (c *composer) discoverStitchQueries(loc *location) error {
	for _, def := range loc.schema.Definitions {
		obj, ok := def.(*ast.ObjectTypeDefinition)
		if !ok {
			continue
		}
		if obj.Name.String() != c.cfg.queryTypeName && obj.Name.String() != c.cfg.mutationTypeName {
			continue
		}

		for _, field := range obj.Fields {
			directives := directivesNamed(field.Directives, c.cfg.directiveName)
			for _, d := range directives {
				bq, err := c.buildBoundaryQuery(loc.name, field, d)
				if err != nil {
					return err
				}
				dedupKey := bq.Location + "|" + bq.Key + "|" + targetTypeName(field.Type)
				if _, exists := c.boundaryDedup[dedupKey]; exists {
					return &CompositionError{Reason: fmt.Sprintf("duplicate stitch query on location %q for key %q", loc.name, bq.Key)}
				}
				c.boundaryDedup[dedupKey] = struct{}{}

				target := targetTypeName(field.Type)
				c.boundaries[target] = append(c.boundaries[target], bq)
			}
		}
	}
	return nil
}

func (c *composer) buildBoundaryQuery(locName string, field *ast.FieldDefinition, d *ast.Directive) (*BoundaryQuery, error) {
	var keySpec string
	for _, arg := range d.Arguments {
		if arg.Name.String() == "key" {
			keySpec = strings.Trim(arg.Value.String(), "\"")
		}
	}
	if keySpec == "" {
		return nil, &CompositionError{Reason: fmt.Sprintf("@%s on %s.%s is missing a key", c.cfg.directiveName, locName, field.Name.String())}
	}

	argName, key, _ := strings.Cut(keySpec, ":")
	if key == "" {
		key = argName
		argName = ""
	}

	if argName == "" {
		if len(field.Arguments) != 1 {
			return nil, &CompositionError{Reason: fmt.Sprintf("@%s key %q on %s.%s does not name an argument and the field does not have exactly one argument to infer", c.cfg.directiveName, keySpec, locName, field.Name.String())}
		}
		argName = field.Arguments[0].Name.String()
	}

	var argFound bool
	for _, a := range field.Arguments {
		if a.Name.String() == argName {
			argFound = true
			break
		}
	}
	if !argFound {
		return nil, &CompositionError{Reason: fmt.Sprintf("@%s on %s.%s references unknown argument %q", c.cfg.directiveName, locName, field.Name.String(), argName)}
	}

	target := targetTypeName(field.Type)
	if !c.hasField(target, key) {
		return nil, &CompositionError{Reason: fmt.Sprintf("@%s key %q on %s.%s is not a field of %s", c.cfg.directiveName, key, locName, field.Name.String(), target)}
	}

	_, isList := unwrapListness(field.Type)

	return &BoundaryQuery{
		Location:   locName,
		Field:      field.Name.String(),
		ArgName:    argName,
		Key:        key,
		List:       isList,
		Federation: c.isPolymorphic(target),
	}, nil
}

func (c *composer) hasField(typeName, fieldName string) bool {
	fields, ok := c.objectFields[typeName]
	if !ok {
		return false
	}
	_, ok = fields[fieldName]
	return ok
}

func (c *composer) isPolymorphic(typeName string) bool {
	_, ok := c.polymorphicTypes[typeName]
	return ok
}

// checkMergedTypeCoverage enforces the Supergraph invariant "every merged
// type with variants in multiple locations has at least one BoundaryQuery
// per location that contributes unique fields" (spec §3).
func (c *composer) checkMergedTypeCoverage() error {
	for typeName, byLoc := range c.fieldsByTypeAndLocation {
		if len(byLoc) < 2 {
			continue
		}
		if typeName == c.cfg.queryTypeName || typeName == c.cfg.mutationTypeName {
			continue
		}
		boundaryLocs := make(map[string]struct{})
		for _, bq := range c.boundaries[typeName] {
			boundaryLocs[bq.Location] = struct{}{}
		}
		for loc := range byLoc {
			if _, ok := boundaryLocs[loc]; !ok {
				return &CompositionError{Reason: fmt.Sprintf("type %q is contributed to by location %q but has no boundary query to re-fetch it", typeName, loc)}
			}
		}
	}
	return nil
}

func (c *composer) buildSchemaDocument() *ast.Document {
	doc := &ast.Document{Definitions: make([]ast.Definition, 0)}

	for _, typeName := range c.typeOrder {
		fields := make([]*ast.FieldDefinition, 0, len(c.objectFieldOrder[typeName]))
		for _, fieldName := range c.objectFieldOrder[typeName] {
			fields = append(fields, c.objectFields[typeName][fieldName])
		}

		if c.objectIsInterface[typeName] {
			doc.Definitions = append(doc.Definitions, &ast.InterfaceTypeDefinition{
				Name:   &ast.Name{Value: typeName},
				Fields: fields,
			})
			continue
		}

		doc.Definitions = append(doc.Definitions, &ast.ObjectTypeDefinition{
			Name:   &ast.Name{Value: typeName},
			Fields: fields,
		})
	}

	for _, typeName := range c.inputOrder {
		names := make([]string, 0, len(c.inputFields[typeName]))
		for n := range c.inputFields[typeName] {
			names = append(names, n)
		}
		sortStrings(names)
		fields := make([]*ast.InputValueDefinition, 0, len(names))
		for _, n := range names {
			fields = append(fields, &ast.InputValueDefinition{Name: &ast.Name{Value: n}})
		}
		doc.Definitions = append(doc.Definitions, &ast.InputObjectTypeDefinition{
			Name:   &ast.Name{Value: typeName},
			Fields: fields,
		})
	}

	for _, typeName := range c.enumOrder {
		names := make([]string, 0, len(c.enumValues[typeName]))
		for n := range c.enumValues[typeName] {
			names = append(names, n)
		}
		sortStrings(names)
		values := make([]*ast.EnumValueDefinition, 0, len(names))
		for _, n := range names {
			values = append(values, &ast.EnumValueDefinition{Value: &ast.Name{Value: n}})
		}
		doc.Definitions = append(doc.Definitions, &ast.EnumTypeDefinition{
			Name:   &ast.Name{Value: typeName},
			Values: values,
		})
	}

	for _, typeName := range c.scalarOrder {
		doc.Definitions = append(doc.Definitions, &ast.ScalarTypeDefinition{Name: &ast.Name{Value: typeName}})
	}

	for _, typeName := range c.unionOrder {
		names := make([]string, 0, len(c.unionMembers[typeName]))
		for n := range c.unionMembers[typeName] {
			names = append(names, n)
		}
		sortStrings(names)
		members := make([]*ast.NamedType, 0, len(names))
		for _, n := range names {
			members = append(members, &ast.NamedType{Name: &ast.Name{Value: n}})
		}
		doc.Definitions = append(doc.Definitions, &ast.UnionTypeDefinition{
			Name:  &ast.Name{Value: typeName},
			Types: members,
		})
	}

	for _, name := range c.directiveOrder {
		doc.Definitions = append(doc.Definitions, c.directiveDefs[name])
	}

	return doc
}

// targetTypeName returns the named type a field resolves to, stripping
// List/NonNull wrappers.
func targetTypeName(t ast.Type) string {
	switch v := t.(type) {
	case *ast.NamedType:
		return v.Name.String()
	case *ast.ListType:
		return targetTypeName(v.Type)
	case *ast.NonNullType:
		return targetTypeName(v.Type)
	default:
		return ""
	}
}

// unwrapListness reports the named type and whether a ListType wrapper
// appears anywhere in t's wrapper chain.
func unwrapListness(t ast.Type) (string, bool) {
	switch v := t.(type) {
	case *ast.NamedType:
		return v.Name.String(), false
	case *ast.ListType:
		name, _ := unwrapListness(v.Type)
		return name, true
	case *ast.NonNullType:
		return unwrapListness(v.Type)
	default:
		return "", false
	}
}

// signatureCompatible implements spec §4.1's compatibility rule: same named
// type after stripping list/non-null wrappers, and identical wrapper
// structure.
func signatureCompatible(a, b ast.Type) bool {
	return targetTypeName(a) == targetTypeName(b) && typeShape(a) == typeShape(b)
}

func typeShape(t ast.Type) string {
	switch v := t.(type) {
	case *ast.NamedType:
		return "N"
	case *ast.ListType:
		return "L(" + typeShape(v.Type) + ")"
	case *ast.NonNullType:
		return "!" + typeShape(v.Type)
	default:
		return "?"
	}
}
