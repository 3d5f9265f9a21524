package executor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/n9te9/stitchgate/planner"
)

// buildRootDocument wraps a non-boundary Operation's own pre-rendered
// SelectionSet (already a complete "{ ... }" block) in an operation header.
func buildRootDocument(op *planner.Operation, vars map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(op.OperationType)
	writeVariableDefinitions(&sb, vars)
	sb.WriteString(" ")
	sb.WriteString(op.SelectionSet)
	return sb.String()
}

// buildBoundaryGroupDocument wraps callText — every grouped member's aliased
// boundary-field calls, built by boundaryCallList/boundaryCallSingle — in an
// operation header. vars is already the union of every grouped Operation's
// Variables (spec §4.3 "Variable definitions are the union..."). steps names
// the document after the Operations it batches together, for traceability; a
// singleton group is left anonymous, matching a root Operation's document.
func buildBoundaryGroupDocument(opType string, steps []int, callText string, vars map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(opType)
	if name := batchOperationName(steps); name != "" {
		sb.WriteString(" ")
		sb.WriteString(name)
	}
	writeVariableDefinitions(&sb, vars)
	sb.WriteString(" { ")
	sb.WriteString(callText)
	sb.WriteString(" }")
	return sb.String()
}

// batchOperationName names a batched boundary document after the Steps of
// every Operation it groups together, so dispatch/merge log lines and traced
// spans can be correlated back to the Plan that produced them (spec §4.3
// "traceability").
func batchOperationName(steps []int) string {
	if len(steps) < 2 {
		return ""
	}
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = strconv.Itoa(s)
	}
	return "Batch_" + strings.Join(parts, "_")
}

// writeVariableDefinitions renders a "($a: T, $b: T)" header. The Planner
// already narrowed vars down to the subset a selection set references
// (collectVariables), so every name here is used; the type is inferred from
// the value's own JSON shape rather than re-consulted against the merged
// schema, since the client's document was already validated against it.
func writeVariableDefinitions(sb *strings.Builder, vars map[string]interface{}) {
	if len(vars) == 0 {
		return
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	sb.WriteString("(")
	for i, name := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("$")
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(inferVariableType(vars[name]))
	}
	sb.WriteString(")")
}

func inferVariableType(v interface{}) string {
	switch val := v.(type) {
	case string:
		return "String"
	case bool:
		return "Boolean"
	case float64:
		if val == float64(int64(val)) {
			return "Int"
		}
		return "Float"
	case []interface{}:
		if len(val) == 0 {
			return "[String]"
		}
		return "[" + inferVariableType(val[0]) + "]"
	default:
		return "String"
	}
}

// batchResultAlias and batchResultAliasFor are the reserved batch aliases
// spec §6 names: "_<batchIdx>_result" for a List boundary Operation's single
// batched call, "_<batchIdx>_<objIdx>_result" for one of a single-key
// boundary Operation's per-object calls. batchIdx distinguishes one grouped
// Operation's contribution from its siblings' when spec §4.3 "Boundary
// batching" combines several same-location, same-After Operations into one
// outbound document; a group of one still uses batchIdx 0.
func batchResultAlias(batchIdx int) string {
	return fmt.Sprintf("_%d_result", batchIdx)
}

func batchResultAliasFor(batchIdx, objIdx int) string {
	return fmt.Sprintf("_%d_%d_result", batchIdx, objIdx)
}

// boundaryCallList renders the aliased call issued for one List-boundary
// group member: every one of its origin objects' keys is batched into a
// single field call, aliased by its batchIdx within the shared document.
func boundaryCallList(op *planner.Operation, batchIdx int, argLiteral string) string {
	return fmt.Sprintf("%s: %s(%s: %s) %s", batchResultAlias(batchIdx), op.Boundary.Field, op.Boundary.ArgName, argLiteral, op.SelectionSet)
}

// boundaryCallSingle renders one aliased call for group member batchIdx's
// origin object objIdx, used when the boundary field accepts only a single
// key; batching happens by issuing one aliased root field per origin object
// (across every grouped member) in the same document instead of one request
// per object.
func boundaryCallSingle(op *planner.Operation, batchIdx, objIdx int, argLiteral string) string {
	return fmt.Sprintf("%s: %s(%s: %s) %s", batchResultAliasFor(batchIdx, objIdx), op.Boundary.Field, op.Boundary.ArgName, argLiteral, op.SelectionSet)
}

// writeGoValue renders a decoded-JSON value (the shapes encoding/json
// produces: string, bool, float64, nil, []interface{}, map[string]interface{})
// as a GraphQL literal. This is distinct from gqlprint.Value, which prints
// ast.Value nodes parsed from a client document; boundary-query arguments are
// built from already-fetched response data, not from AST.
func writeGoValue(sb *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case string:
		sb.WriteString(strconv.Quote(val))
	case bool:
		fmt.Fprintf(sb, "%t", val)
	case float64:
		if val == float64(int64(val)) {
			fmt.Fprintf(sb, "%d", int64(val))
		} else {
			fmt.Fprintf(sb, "%g", val)
		}
	case []interface{}:
		sb.WriteString("[")
		for i, item := range val {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeGoValue(sb, item)
		}
		sb.WriteString("]")
	case map[string]interface{}:
		sb.WriteString("{")
		names := make([]string, 0, len(val))
		for k := range val {
			names = append(names, k)
		}
		sort.Strings(names)
		for i, k := range names {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			writeGoValue(sb, val[k])
		}
		sb.WriteString("}")
	default:
		sb.WriteString("null")
	}
}

func goValueLiteral(v interface{}) string {
	var sb strings.Builder
	writeGoValue(&sb, v)
	return sb.String()
}
