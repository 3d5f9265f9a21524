// Package gqlprint renders parsed GraphQL selection sets and values back to
// source text. The Planner uses it to freeze each Operation's selectionSet
// as a string (spec §3: "selectionSet (textual GraphQL)"), and the Gateway
// uses Document (schema.go) to render the merged schema as SDL. The Executor
// does not use this package; it prints boundary-query literals with its own
// writeGoValue.
package gqlprint

import (
	"fmt"
	"strings"

	"github.com/n9te9/graphql-parser/ast"
)

// SelectionSet renders selections as a brace-delimited block, e.g. "{ id
// name }". An empty selection list renders as "{}".
func SelectionSet(selections []ast.Selection) string {
	if len(selections) == 0 {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteString("{ ")
	for i, sel := range selections {
		if i > 0 {
			sb.WriteString(" ")
		}
		writeSelection(&sb, sel)
	}
	sb.WriteString(" }")
	return sb.String()
}

func writeSelection(sb *strings.Builder, sel ast.Selection) {
	switch s := sel.(type) {
	case *ast.Field:
		if s.Alias != nil && s.Alias.String() != "" {
			sb.WriteString(s.Alias.String())
			sb.WriteString(": ")
		}
		sb.WriteString(s.Name.String())

		if len(s.Arguments) > 0 {
			sb.WriteString("(")
			for i, arg := range s.Arguments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(arg.Name.String())
				sb.WriteString(": ")
				Value(sb, arg.Value)
			}
			sb.WriteString(")")
		}

		if len(s.Directives) > 0 {
			for _, d := range s.Directives {
				sb.WriteString(" @")
				sb.WriteString(d.Name)
				writeDirectiveArguments(sb, d.Arguments)
			}
		}

		if len(s.SelectionSet) > 0 {
			sb.WriteString(" ")
			sb.WriteString(SelectionSet(s.SelectionSet))
		}

	case *ast.InlineFragment:
		sb.WriteString("... on ")
		sb.WriteString(s.TypeCondition.Name.String())
		sb.WriteString(" ")
		sb.WriteString(SelectionSet(s.SelectionSet))

	case *ast.FragmentSpread:
		sb.WriteString("...")
		sb.WriteString(s.Name.String())
	}
}

func writeDirectiveArguments(sb *strings.Builder, args []*ast.Argument) {
	if len(args) == 0 {
		return
	}
	sb.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(arg.Name.String())
		sb.WriteString(": ")
		Value(sb, arg.Value)
	}
	sb.WriteString(")")
}

// Value renders a single argument/input value.
func Value(sb *strings.Builder, val ast.Value) {
	switch v := val.(type) {
	case *ast.StringValue:
		sb.WriteString("\"")
		sb.WriteString(v.Value)
		sb.WriteString("\"")
	case *ast.IntValue:
		fmt.Fprintf(sb, "%d", v.Value)
	case *ast.FloatValue:
		fmt.Fprintf(sb, "%f", v.Value)
	case *ast.BooleanValue:
		fmt.Fprintf(sb, "%t", v.Value)
	case *ast.Variable:
		sb.WriteString("$")
		sb.WriteString(v.Name)
	case *ast.ListValue:
		sb.WriteString("[")
		for i, item := range v.Values {
			if i > 0 {
				sb.WriteString(", ")
			}
			Value(sb, item)
		}
		sb.WriteString("]")
	case *ast.ObjectValue:
		sb.WriteString("{")
		for i, field := range v.Fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(field.Name.String())
			sb.WriteString(": ")
			Value(sb, field.Value)
		}
		sb.WriteString("}")
	case *ast.EnumValue:
		sb.WriteString(v.Value)
	default:
		sb.WriteString("null")
	}
}

// ValueString renders val using Value and returns it as a string.
func ValueString(val ast.Value) string {
	var sb strings.Builder
	Value(&sb, val)
	return sb.String()
}
