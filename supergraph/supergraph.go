// Package supergraph implements the Composer: it merges the schemas of
// independently-operated GraphQL locations into a single Supergraph, the
// read-only, long-lived data structure the Planner and Executor consume.
package supergraph

import (
	"context"

	"github.com/n9te9/graphql-parser/ast"
)

// DefaultDirectiveName is the stitch directive name used when an Option does
// not override it. Tests may instantiate multiple Supergraphs with distinct
// directive names in one process; the name is carried on the Supergraph
// value, never as package state.
const DefaultDirectiveName = "stitch"

// IntrospectionLocation is the synthetic location that resolves __schema and
// __type locally against the merged schema, never over the network.
const IntrospectionLocation = "__super"

// BoundaryQuery records one root-field entry point a location exposes for
// re-fetching a merged type by key.
type BoundaryQuery struct {
	Location   string // owning location
	Field      string // root query field name
	ArgName    string // argument on Field that carries the key value
	Key        string // field on the target type supplying the argument value
	List       bool   // Field accepts/returns a list
	Federation bool   // true: input is {__typename, key}; false: bare scalar key
}

// LocationResult is what a LocationExecutor returns for one sub-query.
type LocationResult struct {
	Data   map[string]interface{}
	Errors []RemoteError
}

// RemoteError is one entry of a location's GraphQL "errors" array, before
// the Executor re-paths it into the assembled response (spec §4.3, §7).
type RemoteError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// LocationExecutor dispatches one query document to a location and returns
// its result. Implementations must not mutate query or variables. It may be
// synchronous or asynchronous; the Executor is the only caller and always
// invokes it under a context.
type LocationExecutor interface {
	Execute(ctx context.Context, location, queryDocument string, variables map[string]interface{}) (*LocationResult, error)
}

// Supergraph is the immutable output of Compose: merged schema plus the
// routing tables the Planner and Executor need. It is built once and shared
// read-only across every request.
type Supergraph struct {
	Schema *ast.Document
	// Locations is the set of location names contributing to the schema.
	Locations []string
	// FieldsByTypeAndLocation maps typeName -> location -> set of field
	// names that location can resolve for that type.
	FieldsByTypeAndLocation map[string]map[string]map[string]struct{}
	// Boundaries maps typeName -> the BoundaryQueries that can re-fetch it.
	Boundaries map[string][]*BoundaryQuery
	// UnionMembers maps a union type name to its member object type names.
	UnionMembers map[string][]string
	// InterfaceImplementers maps an interface type name to the object type
	// names that implement it.
	InterfaceImplementers map[string][]string
	// Executables maps location -> the callable that dispatches to it.
	// Populated by the Gateway after Compose; nil immediately after Compose.
	Executables map[string]LocationExecutor
	// IntrospectionLocation is always "__super".
	IntrospectionLocation string
	// DirectiveName is the stitch directive name used during composition,
	// carried here so error messages and debug tooling can refer to it.
	DirectiveName string
	// QueryTypeName / MutationTypeName are the merged schema's root
	// operation type names ("Query"/"Mutation" unless overridden).
	QueryTypeName    string
	MutationTypeName string
}

// WithExecutables returns a shallow copy of sg with Executables populated.
// Supergraph itself never dials a network connection; Gateway wires the
// per-location LocationExecutor map after Compose.
func (sg *Supergraph) WithExecutables(executables map[string]LocationExecutor) *Supergraph {
	out := *sg
	out.Executables = executables
	return &out
}

// FieldLocations returns the locations that can resolve typeName.fieldName,
// in deterministic (sorted) order.
func (sg *Supergraph) FieldLocations(typeName, fieldName string) []string {
	byLoc, ok := sg.FieldsByTypeAndLocation[typeName]
	if !ok {
		return nil
	}
	var locs []string
	for loc, fields := range byLoc {
		if _, ok := fields[fieldName]; ok {
			locs = append(locs, loc)
		}
	}
	sortStrings(locs)
	return locs
}

// IsMergedType reports whether typeName is contributed to by more than one
// location (the GLOSSARY's "merged type"), and therefore may need boundary
// queries to fully resolve.
func (sg *Supergraph) IsMergedType(typeName string) bool {
	byLoc, ok := sg.FieldsByTypeAndLocation[typeName]
	return ok && len(byLoc) > 1
}

// BoundariesFor returns the BoundaryQueries registered for typeName.
func (sg *Supergraph) BoundariesFor(typeName string) []*BoundaryQuery {
	return sg.Boundaries[typeName]
}

// IsAbstractType reports whether typeName is a union or an interface.
func (sg *Supergraph) IsAbstractType(typeName string) bool {
	if _, ok := sg.UnionMembers[typeName]; ok {
		return true
	}
	_, ok := sg.InterfaceImplementers[typeName]
	return ok
}

// ConcreteTypesFor returns the concrete object type names a union or
// interface resolves to. For a non-abstract type it returns nil.
func (sg *Supergraph) ConcreteTypesFor(typeName string) []string {
	if members, ok := sg.UnionMembers[typeName]; ok {
		return members
	}
	return sg.InterfaceImplementers[typeName]
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
