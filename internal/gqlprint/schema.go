package gqlprint

import (
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// Document renders a composed schema document back to SDL text, for feeding
// gqlparser.LoadSchema (spec §6 "validate" path): the Supergraph's merged
// schema is an *ast.Document built by supergraph.Compose, not text, and
// gqlparser only accepts text.
//
// queryType/mutationType name the root operation types explicitly, since a
// composed schema may rename them away from "Query"/"Mutation"
// (supergraph.WithRootTypeNames); an explicit "schema { ... }" block removes
// any ambiguity gqlparser would otherwise have to guess at.
//
// Directive definitions and a field's own directive applications are not
// printed, although supergraph.Compose keeps both in the merged document
// (field definitions are copied as-is): a client query is never expected to
// reference one (@stitch is a location-SDL-only construct), so there is
// nothing for gqlparser's validator to check a directive application against.
func Document(doc *ast.Document, queryType, mutationType string) string {
	var sb strings.Builder

	sb.WriteString("schema { query: ")
	sb.WriteString(queryType)
	if mutationType != "" {
		sb.WriteString(" mutation: ")
		sb.WriteString(mutationType)
	}
	sb.WriteString(" }\n\n")

	for _, def := range doc.Definitions {
		writeSchemaDefinition(&sb, def)
	}

	return sb.String()
}

func writeSchemaDefinition(sb *strings.Builder, def ast.Definition) {
	switch d := def.(type) {
	case *ast.ObjectTypeDefinition:
		sb.WriteString("type ")
		sb.WriteString(d.Name.String())
		writeFieldBlock(sb, d.Fields)
	case *ast.InterfaceTypeDefinition:
		sb.WriteString("interface ")
		sb.WriteString(d.Name.String())
		writeFieldBlock(sb, d.Fields)
	case *ast.InputObjectTypeDefinition:
		sb.WriteString("input ")
		sb.WriteString(d.Name.String())
		writeInputFieldBlock(sb, d.Fields)
	case *ast.EnumTypeDefinition:
		sb.WriteString("enum ")
		sb.WriteString(d.Name.String())
		sb.WriteString(" {\n")
		for _, v := range d.Values {
			sb.WriteString("  ")
			sb.WriteString(v.Value.String())
			sb.WriteString("\n")
		}
		sb.WriteString("}\n\n")
	case *ast.ScalarTypeDefinition:
		sb.WriteString("scalar ")
		sb.WriteString(d.Name.String())
		sb.WriteString("\n\n")
	case *ast.UnionTypeDefinition:
		sb.WriteString("union ")
		sb.WriteString(d.Name.String())
		sb.WriteString(" = ")
		names := make([]string, len(d.Types))
		for i, t := range d.Types {
			names[i] = t.Name.String()
		}
		sb.WriteString(strings.Join(names, " | "))
		sb.WriteString("\n\n")
	case *ast.DirectiveDefinition:
		// not printed; see Document's doc comment.
	}
}

func writeFieldBlock(sb *strings.Builder, fields []*ast.FieldDefinition) {
	sb.WriteString(" {\n")
	for _, f := range fields {
		sb.WriteString("  ")
		sb.WriteString(f.Name.String())
		writeArguments(sb, f.Arguments)
		sb.WriteString(": ")
		sb.WriteString(f.Type.String())
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")
}

func writeArguments(sb *strings.Builder, args []*ast.InputValueDefinition) {
	if len(args) == 0 {
		return
	}
	sb.WriteString("(")
	for i, a := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Name.String())
		sb.WriteString(": ")
		sb.WriteString(inputValueType(a))
	}
	sb.WriteString(")")
}

func writeInputFieldBlock(sb *strings.Builder, fields []*ast.InputValueDefinition) {
	sb.WriteString(" {\n")
	for _, f := range fields {
		sb.WriteString("  ")
		sb.WriteString(f.Name.String())
		sb.WriteString(": ")
		sb.WriteString(inputValueType(f))
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")
}

// inputValueType guards against supergraph.Compose's mergeInput, which
// tracks an input object's field names only, never their types (no
// component needs them: routing keys off object/interface fields, and an
// input value's own type checking is a location's concern once the field
// reaches it). A placeholder scalar keeps the printed SDL loadable; it never
// affects what a client query is allowed to select.
func inputValueType(f *ast.InputValueDefinition) string {
	if f.Type == nil {
		return "String"
	}
	return f.Type.String()
}
