// Package executor implements the Executor: it dispatches a Plan's
// Operations against the Supergraph's LocationExecutors and assembles the
// merged {data, errors} response (spec §4.3).
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/n9te9/stitchgate/planner"
	"github.com/n9te9/stitchgate/supergraph"
)

// stitchAliasPrefix mirrors planner.reservedAliasPrefix: the two packages
// must agree on the wire convention for carrying boundary-key and typename
// values through an otherwise ordinary GraphQL response.
const stitchAliasPrefix = "_STITCH_"

// tracer names every span this package opens after the Operation dispatch it
// instruments (spec's domain-stack tracing requirement): "<location>.<step>"
// for a plain Operation, "<location>.<step>_<step>..." for a batched
// boundary group, since a group is dispatched as one round trip.
var tracer = otel.Tracer("github.com/n9te9/stitchgate/executor")

// startDispatchSpan opens a span named "<location>.<steps...>" around one
// outbound call to a location; the caller closes it with endDispatchSpan,
// which records the call's error (if any) before ending it.
func startDispatchSpan(ctx context.Context, location string, steps []int) (context.Context, trace.Span) {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = strconv.Itoa(s)
	}
	name := fmt.Sprintf("%s.%s", location, strings.Join(parts, "_"))
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("stitchgate.location", location),
	))
}

// endDispatchSpan records err on span, if any, and ends it.
func endDispatchSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Executor runs Plans against one Supergraph's registered LocationExecutors.
type Executor struct {
	sg *supergraph.Supergraph
}

// New creates an Executor bound to sg. sg.Executables must already be
// populated (supergraph.Supergraph.WithExecutables) before Execute is called.
func New(sg *supergraph.Supergraph) *Executor {
	return &Executor{sg: sg}
}

// execState accumulates the assembled response data and any partial errors
// across concurrently-dispatched Operations.
type execState struct {
	mu     sync.Mutex
	data   map[string]interface{}
	errors []supergraph.RemoteError
}

// Execute runs plan to completion and returns the assembled {data, errors}
// response. Operations are dispatched in waves (spec §4.3): every Operation
// whose After dependency has already completed runs concurrently with its
// wave-mates. Within a wave, boundary Operations that target the same
// location and share the same After dependency are batched into a single
// outbound document (spec §4.3 "Boundary batching") rather than issuing one
// round trip each. A RemoteGraphQLError from a location (the location
// answered, but with its own "errors" array) is folded into the response and
// its siblings keep running (spec §7 "partial responses"). A
// LocationExecutor failure (transport/parse) is a different class: per spec
// §5 "Cancellation" it aborts the whole request — wave-mates still in flight
// are awaited and their results discarded, no further wave starts, and
// Execute returns the *ExecutionError so the caller can invoke its error hook
// and reply with a single generic error entry and no data (spec §7).
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan) (map[string]interface{}, error) {
	if err := validateDAG(plan); err != nil {
		return nil, err
	}

	st := &execState{data: make(map[string]interface{})}
	done := make(map[int]bool, len(plan.Operations))

	for {
		wave := readyOperations(plan, done)
		if len(wave) == 0 {
			break
		}

		var rootOps []*planner.Operation
		var boundaryOps []*planner.Operation
		for _, op := range wave {
			if op.Boundary == nil {
				rootOps = append(rootOps, op)
			} else {
				boundaryOps = append(boundaryOps, op)
			}
		}

		eg, gctx := errgroup.WithContext(ctx)
		for _, op := range rootOps {
			op := op
			eg.Go(func() error {
				return e.dispatchRoot(gctx, st, op)
			})
		}
		for _, group := range groupBoundaryOperations(boundaryOps) {
			group := group
			eg.Go(func() error {
				return e.runBoundaryGroup(gctx, st, group)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}

		for _, op := range wave {
			done[op.Step] = true
		}
	}

	response := map[string]interface{}{"data": stripStitchFields(st.data)}
	if len(st.errors) > 0 {
		response["errors"] = st.errors
	}
	return response, nil
}

// validateDAG rejects a Plan whose After relation contains a cycle, via
// Kahn's algorithm over Operation.Step.
func validateDAG(plan *planner.Plan) error {
	inDegree := make(map[int]int, len(plan.Operations))
	dependents := make(map[int][]int)
	for _, op := range plan.Operations {
		if _, ok := inDegree[op.Step]; !ok {
			inDegree[op.Step] = 0
		}
		if op.After != 0 {
			inDegree[op.Step]++
			dependents[op.After] = append(dependents[op.After], op.Step)
		}
	}

	queue := make([]int, 0, len(inDegree))
	for step, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, step)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(plan.Operations) {
		return &ExecutionError{Reason: "plan contains a circular operation dependency"}
	}
	return nil
}

// readyOperations returns every not-yet-run Operation whose After dependency
// (0 meaning none) has already completed.
func readyOperations(plan *planner.Plan, done map[int]bool) []*planner.Operation {
	var ready []*planner.Operation
	for _, op := range plan.Operations {
		if done[op.Step] {
			continue
		}
		if op.After == 0 || done[op.After] {
			ready = append(ready, op)
		}
	}
	return ready
}

// boundaryGroupKey is the spec §4.3 batching key: Operations sharing a
// location and an After dependency are always ready in the same wave and
// always carry the same client operationName and operationDirectives (both
// are Request-level, not per-Operation, in this Plan representation — see
// DESIGN.md), so Location+After alone is the full grouping criterion here.
type boundaryGroupKey struct {
	location string
	after    int
}

// groupBoundaryOperations partitions a wave's boundary Operations into the
// batches spec §4.3 describes, preserving the order each key was first seen
// in so dispatch order stays deterministic.
func groupBoundaryOperations(ops []*planner.Operation) [][]*planner.Operation {
	if len(ops) == 0 {
		return nil
	}
	var order []boundaryGroupKey
	groups := make(map[boundaryGroupKey][]*planner.Operation, len(ops))
	for _, op := range ops {
		k := boundaryGroupKey{location: op.Location, after: op.After}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], op)
	}

	out := make([][]*planner.Operation, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

func (e *Executor) dispatchRoot(ctx context.Context, st *execState, op *planner.Operation) error {
	exec, ok := e.sg.Executables[op.Location]
	if !ok {
		return &ExecutionError{Reason: fmt.Sprintf("no executor registered for location %q", op.Location)}
	}
	return e.runRootOperation(ctx, st, exec, op)
}

// runRootOperation dispatches a plain (non-boundary) Operation and merges its
// result directly at the response root.
func (e *Executor) runRootOperation(ctx context.Context, st *execState, exec supergraph.LocationExecutor, op *planner.Operation) error {
	spanCtx, span := startDispatchSpan(ctx, op.Location, []int{op.Step})
	doc := buildRootDocument(op, op.Variables)
	result, err := exec.Execute(spanCtx, op.Location, doc, op.Variables)
	if err != nil {
		err = &ExecutionError{Reason: fmt.Sprintf("dispatching to location %q: %v", op.Location, err)}
		endDispatchSpan(span, err)
		return err
	}
	endDispatchSpan(span, nil)
	st.mergeRemoteErrors(op.Location, result.Errors)

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := Merge(st.data, result.Data, nil); err != nil {
		return &ExecutionError{Reason: fmt.Sprintf("merging result from %q: %v", op.Location, err)}
	}
	return nil
}

// boundaryMember is one grouped Operation's contribution to a batched
// boundary document: its origin objects, found by walking the
// already-assembled response along its own Path before the group's single
// document is built.
type boundaryMember struct {
	op      *planner.Operation
	targets []targetNode
}

// runBoundaryGroup dispatches every Operation in group as one outbound
// document (spec §4.3 "Boundary batching"): each member contributes its own
// aliased field(s) at a distinct batchIdx, the variable definitions are the
// union of every member's Variables, and the document's operation name (if
// the group has more than one member) is suffixed with each member's Step
// for traceability. A group of one behaves exactly like a single boundary
// Operation did before batching existed (batchIdx always 0, no name).
//
// Result merging and error repathing both key off batchIdx: after the
// shared call returns, each member resolves its own origin set, pairs it
// with the rows or per-object fields aliased under its batchIdx, and a
// remote error's alias is parsed back to (batchIdx, objIdx) to find which
// member's origin path it belongs to (spec §7/§8 "error path correctness").
func (e *Executor) runBoundaryGroup(ctx context.Context, st *execState, group []*planner.Operation) error {
	location := group[0].Location
	exec, ok := e.sg.Executables[location]
	if !ok {
		return &ExecutionError{Reason: fmt.Sprintf("no executor registered for location %q", location)}
	}

	st.mu.Lock()
	members := make([]boundaryMember, 0, len(group))
	for _, op := range group {
		targets := collectTargets(st.data, nil, op.Path, op.IfType)
		if len(targets) == 0 {
			continue
		}
		members = append(members, boundaryMember{op: op, targets: targets})
	}
	st.mu.Unlock()

	if len(members) == 0 {
		return nil
	}

	vars := make(map[string]interface{})
	steps := make([]int, 0, len(members))
	var calls []string
	for batchIdx, m := range members {
		op := m.op
		keyAlias := stitchAlias(op.Boundary.Key)
		typenameAlias := stitchAlias("typename")

		if op.Boundary.List {
			values := make([]interface{}, 0, len(m.targets))
			for _, t := range m.targets {
				values = append(values, boundaryArgValue(op.Boundary, t.obj, keyAlias, typenameAlias))
			}
			calls = append(calls, boundaryCallList(op, batchIdx, goValueLiteral(values)))
		} else {
			for i, t := range m.targets {
				arg := goValueLiteral(boundaryArgValue(op.Boundary, t.obj, keyAlias, typenameAlias))
				calls = append(calls, boundaryCallSingle(op, batchIdx, i, arg))
			}
		}
		for name, v := range op.Variables {
			vars[name] = v
		}
		steps = append(steps, op.Step)
	}

	spanCtx, span := startDispatchSpan(ctx, location, steps)
	doc := buildBoundaryGroupDocument(members[0].op.OperationType, steps, strings.Join(calls, " "), vars)
	result, err := exec.Execute(spanCtx, location, doc, vars)
	if err != nil {
		err = &ExecutionError{Reason: fmt.Sprintf("dispatching to location %q: %v", location, err)}
		endDispatchSpan(span, err)
		return err
	}
	endDispatchSpan(span, nil)

	st.mu.Lock()
	for batchIdx, m := range members {
		op := m.op
		if op.Boundary.List {
			rows := flattenBatchList(result.Data[batchResultAlias(batchIdx)])
			objs := make([]map[string]interface{}, len(m.targets))
			for i, t := range m.targets {
				objs[i] = t.obj
			}
			stitchRows(objs, rows, stitchAlias(op.Boundary.Key), stitchAlias("typename"), op.Boundary.Federation)
			continue
		}
		for i, t := range m.targets {
			row, _ := result.Data[batchResultAliasFor(batchIdx, i)].(map[string]interface{})
			stitchOne(t.obj, row)
		}
	}
	st.mu.Unlock()

	st.mergeRemoteErrors(location, repathGroupErrors(result.Errors, members))
	return nil
}

// boundaryArgValue builds the literal passed as the boundary field's argument
// for one origin object: a bare key value, or — for a polymorphic boundary —
// {__typename, key} so the location can disambiguate which concrete type's
// resolver to use.
func boundaryArgValue(b *planner.BoundaryRef, obj map[string]interface{}, keyAlias, typenameAlias string) interface{} {
	key := obj[keyAlias]
	if !b.Federation {
		return key
	}
	return map[string]interface{}{
		"__typename": obj[typenameAlias],
		b.Key:        key,
	}
}

// targetNode pairs an origin object discovered by collectTargets with its
// absolute response path from the root — a mix of string field-name and int
// list-index segments. The path is needed only to repath a remote error's
// alias-relative Path back to where the origin object actually lives in the
// assembled response (spec §7/§8 "error path correctness").
type targetNode struct {
	obj  map[string]interface{}
	path []interface{}
}

// collectTargets walks root along path, flattening through any list
// encountered at any segment, and returns every live map found at the
// terminal position together with its absolute response path. Because map
// values are reference types, the returned maps are the same objects
// embedded in root: stitching into them later mutates the assembled response
// directly, no further merge-by-path needed. When ifType is non-empty, only
// objects whose carried typename matches it are returned (an abstract-type
// branch's dependent Operation only applies to the concrete type it was
// planned for).
func collectTargets(root map[string]interface{}, basePath []interface{}, path []string, ifType string) []targetNode {
	nodes := []pathedNode{{v: root, path: basePath}}
	for _, segment := range path {
		var next []pathedNode
		for _, n := range nodes {
			m, ok := n.v.(map[string]interface{})
			if !ok {
				continue
			}
			child, exists := m[segment]
			if !exists {
				continue
			}
			childPath := append(append([]interface{}{}, n.path...), segment)
			next = append(next, flattenListNodes(child, childPath)...)
		}
		nodes = next
	}

	var targets []targetNode
	for _, n := range nodes {
		m, ok := n.v.(map[string]interface{})
		if !ok || m == nil {
			continue
		}
		if ifType != "" && typeNameOf(m) != ifType {
			continue
		}
		targets = append(targets, targetNode{obj: m, path: n.path})
	}
	return targets
}

type pathedNode struct {
	v    interface{}
	path []interface{}
}

// flattenListNodes expands v into its leaves, appending a list index to path
// at every level of nesting a []interface{} is found.
func flattenListNodes(v interface{}, path []interface{}) []pathedNode {
	if arr, ok := v.([]interface{}); ok {
		var out []pathedNode
		for i, item := range arr {
			itemPath := append(append([]interface{}{}, path...), i)
			out = append(out, flattenListNodes(item, itemPath)...)
		}
		return out
	}
	return []pathedNode{{v: v, path: path}}
}

func typeNameOf(m map[string]interface{}) string {
	if tn, ok := m[stitchAlias("typename")].(string); ok {
		return tn
	}
	tn, _ := m["__typename"].(string)
	return tn
}

// flattenBatchList extracts the rows returned by a List boundary call; a row
// that failed to resolve surfaces as nil and is skipped during stitching.
func flattenBatchList(v interface{}) []map[string]interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		m, _ := item.(map[string]interface{})
		out = append(out, m)
	}
	return out
}

// stitchRows correlates a List boundary call's returned rows back to their
// origin targets by key (and typename, for a polymorphic boundary) and
// copies each matched row's fields into every origin object sharing that
// key — the location's resolver order is not assumed to match the request's.
func stitchRows(targets []map[string]interface{}, rows []map[string]interface{}, keyAlias, typenameAlias string, federation bool) {
	byKey := make(map[string][]map[string]interface{}, len(targets))
	for _, t := range targets {
		k := correlationKey(t, keyAlias, typenameAlias, federation)
		byKey[k] = append(byKey[k], t)
	}

	for _, row := range rows {
		if row == nil {
			continue
		}
		k := correlationKey(row, keyAlias, typenameAlias, federation)
		for _, t := range byKey[k] {
			stitchOne(t, row)
		}
	}
}

func correlationKey(m map[string]interface{}, keyAlias, typenameAlias string, federation bool) string {
	if federation {
		return fmt.Sprintf("%v|%v", m[typenameAlias], m[keyAlias])
	}
	return fmt.Sprintf("%v", m[keyAlias])
}

func stitchOne(target, row map[string]interface{}) {
	if row == nil {
		return
	}
	for field, v := range row {
		target[field] = v
	}
}

func stitchAlias(name string) string {
	return stitchAliasPrefix + name
}

// repathGroupErrors rewrites each remote error's alias-relative Path back to
// the absolute response path of the origin object it actually concerns (spec
// §7 "repathed", §8 "error path correctness"), resolving the error's batchIdx
// against members to find the right Operation's own origin set.
func repathGroupErrors(errs []supergraph.RemoteError, members []boundaryMember) []supergraph.RemoteError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]supergraph.RemoteError, len(errs))
	for i, re := range errs {
		out[i] = repathGroupOne(re, members)
	}
	return out
}

// repathGroupOne parses the leading alias of a batched boundary call's
// result ("_<batchIdx>_result" for a List member's single call, or
// "_<batchIdx>_<objIdx>_result" for one of a single-key member's per-object
// calls — see batchResultAlias/batchResultAliasFor), replaces it (and, for a
// List member, the list index immediately following it) with the matching
// origin object's own absolute path, and leaves any remaining segments
// untouched, descending one level per remaining segment regardless of
// whether that level is a list or an object, per spec §9's guidance for the
// otherwise-ambiguous case.
func repathGroupOne(re supergraph.RemoteError, members []boundaryMember) supergraph.RemoteError {
	if len(re.Path) == 0 {
		return re
	}
	alias, ok := re.Path[0].(string)
	if !ok {
		return re
	}
	batchIdx, objIdx, ok := parseBatchAlias(alias)
	if !ok || batchIdx < 0 || batchIdx >= len(members) {
		return re
	}
	m := members[batchIdx]

	if objIdx == -1 {
		if !m.op.Boundary.List || len(re.Path) < 2 {
			return re
		}
		idx, ok := asInt(re.Path[1])
		if !ok || idx < 0 || idx >= len(m.targets) {
			return re
		}
		return rewritePath(re, m.targets[idx].path, re.Path[2:])
	}

	if m.op.Boundary.List || objIdx < 0 || objIdx >= len(m.targets) {
		return re
	}
	return rewritePath(re, m.targets[objIdx].path, re.Path[1:])
}

func rewritePath(re supergraph.RemoteError, origin, rest []interface{}) supergraph.RemoteError {
	newPath := make([]interface{}, 0, len(origin)+len(rest))
	newPath = append(newPath, origin...)
	newPath = append(newPath, rest...)
	re.Path = newPath
	return re
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// parseBatchAlias parses a reserved batch alias of the form "_<batchIdx>_result"
// (a List member's single batched call — objIdx -1) or
// "_<batchIdx>_<objIdx>_result" (one of a single-key member's per-object
// calls).
func parseBatchAlias(alias string) (batchIdx, objIdx int, ok bool) {
	const prefix, suffix = "_", "_result"
	if !strings.HasPrefix(alias, prefix) || !strings.HasSuffix(alias, suffix) {
		return 0, 0, false
	}
	mid := alias[len(prefix) : len(alias)-len(suffix)]
	parts := strings.Split(mid, "_")
	switch len(parts) {
	case 1:
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, false
		}
		return n, -1, true
	case 2:
		a, err1 := strconv.Atoi(parts[0])
		b, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return a, b, true
	default:
		return 0, 0, false
	}
}

// stripStitchFields removes every reserved _STITCH_*-aliased field the
// Planner injected to carry boundary-key and typename values, recursing
// through the whole assembled tree before it is returned to the client.
func stripStitchFields(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, child := range val {
			if strings.HasPrefix(k, stitchAliasPrefix) {
				delete(val, k)
				continue
			}
			val[k] = stripStitchFields(child)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = stripStitchFields(item)
		}
		return val
	default:
		return v
	}
}

func (st *execState) mergeRemoteErrors(location string, errs []supergraph.RemoteError) {
	if len(errs) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, re := range errs {
		if re.Extensions == nil {
			re.Extensions = map[string]interface{}{}
		}
		re.Extensions["location"] = location
		st.errors = append(st.errors, re)
	}
}
