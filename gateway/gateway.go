package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/n9te9/stitchgate/executor"
	"github.com/n9te9/stitchgate/internal/gqlprint"
	"github.com/n9te9/stitchgate/planner"
	"github.com/n9te9/stitchgate/request"
	"github.com/n9te9/stitchgate/supergraph"
)

var _ http.Handler = (*Gateway)(nil)

// Gateway is the assembled Composer+Planner+Executor plus the request-path
// conveniences spec §6 names: a validating schema, a PlanCache, and an
// ErrorHook. It is built once from a GatewayOption and is safe for
// concurrent use by many in-flight requests.
type Gateway struct {
	sg       *supergraph.Supergraph
	planner  *planner.Planner
	executor *executor.Executor

	validate    bool
	querySchema *ast.Schema
	planCache   *PlanCache
	errorHook   ErrorHook
	serviceName string
	requestIDs  bool
}

// NewGateway composes settings.Services into a Supergraph, wires each
// location's HTTPLocation (fetching its SDL by introspection when no
// SchemaFiles are configured, following the teacher's
// gateway/schema_fetcher.go), and builds the validating schema gqlparser
// needs for the spec §6 "validate" path.
func NewGateway(settings GatewayOption) (*Gateway, error) {
	httpClient := &http.Client{Timeout: 3 * time.Second}
	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	schemas := make(map[string][]byte, len(settings.Services))
	executables := make(map[string]supergraph.LocationExecutor, len(settings.Services))

	for _, svc := range settings.Services {
		schema, err := loadServiceSchema(svc, httpClient)
		if err != nil {
			return nil, fmt.Errorf("loading schema for location %q: %w", svc.Name, err)
		}
		schemas[svc.Name] = schema
		executables[svc.Name] = executor.NewHTTPLocation(svc.Host, httpClient, executor.RetryOption(svc.Retry))
	}

	sg, err := supergraph.Compose(schemas)
	if err != nil {
		return nil, err
	}
	sg = sg.WithExecutables(executables)

	gw := &Gateway{
		sg:          sg,
		planner:     planner.New(sg),
		executor:    executor.New(sg),
		validate:    settings.Validate,
		planCache:   NewPlanCache(settings.PlanCacheSize),
		errorHook:   DefaultErrorHook,
		serviceName: settings.ServiceName,
		requestIDs:  settings.EnableRequestID,
	}

	if settings.Validate {
		schemaText := gqlprint.Document(sg.Schema, sg.QueryTypeName, sg.MutationTypeName)
		querySchema, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph", Input: schemaText})
		if err != nil {
			return nil, fmt.Errorf("building validating schema: %w", err)
		}
		gw.querySchema = querySchema
	}

	return gw, nil
}

// loadServiceSchema reads svc's SDL from its configured files, or fetches it
// from svc.Host by introspection when no files are listed (spec.md's
// Composer takes location schemas as input; this is how a deployment
// supplies them without hand-copying SDL files).
func loadServiceSchema(svc GatewayService, httpClient *http.Client) ([]byte, error) {
	if len(svc.SchemaFiles) == 0 {
		sdl, err := fetchSDL(svc.Host, httpClient, svc.Retry)
		if err != nil {
			return nil, err
		}
		return []byte(sdl), nil
	}

	var schema []byte
	for _, f := range svc.SchemaFiles {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		schema = append(schema, src...)
	}
	return schema, nil
}

// graphQLRequest is the standard GraphQL-over-HTTP request body.
type graphQLRequest struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// ServeHTTP decodes a GraphQL-over-HTTP POST, runs Execute, and encodes the
// envelope it returns. Request-ID generation/propagation follows the
// teacher's enableComplementRequestId toggle.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	reqID := ""
	if g.requestIDs {
		reqID = requestIDFromHeader(r.Header)
		ctx = withRequestID(ctx, reqID)
		w.Header().Set(RequestIDHeader, reqID)
	}

	result := g.Execute(ctx, body.Query, body.Variables, body.OperationName, g.validate)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.ErrorContext(ctx, "failed to encode gateway response", "error", err, "request_id", reqID)
	}
}

// Execute implements spec §6's execute(query, variables?, operationName?,
// context?, validate?) → {data?, errors?}. A ParseError, a validation
// failure, or a PlanError surfaces as {errors, data: null} before any
// location is ever called (spec §7); an ExecutionError is folded through
// g.errorHook into a single generic error entry with no data key at all,
// discarding whatever partial data the Executor had assembled.
func (g *Gateway) Execute(ctx context.Context, query string, variables map[string]interface{}, operationName string, validate bool) map[string]interface{} {
	req, err := request.Parse(ctx, query, operationName, variables)
	if err != nil {
		return parseFailureEnvelope(err)
	}

	if validate && g.querySchema != nil {
		if errs := validateQuery(g.querySchema, query); len(errs) > 0 {
			return parseFailureEnvelope(&ValidationError{Errors: errs})
		}
	}

	plan, err := g.planCache.GetOrCompute(req.Digest, func() (*planner.Plan, error) {
		return g.planner.Plan(req)
	})
	if err != nil {
		return parseFailureEnvelope(err)
	}
	plan = rebindVariables(plan, req.Variables)

	response, err := g.executor.Execute(ctx, plan)
	if err != nil {
		message := g.errorHook(err, ctx)
		return map[string]interface{}{
			"errors": []map[string]interface{}{{"message": message}},
		}
	}

	return response
}

// Plan runs Parse and Plan without executing, for the CLI's debug "plan"
// command (SPEC_FULL's supplemented features): it returns the same Plan the
// request path would build, letting an operator inspect the Operations a
// query produces against a live configuration.
func (g *Gateway) Plan(ctx context.Context, query, operationName string, variables map[string]interface{}) (*planner.Plan, error) {
	req, err := request.Parse(ctx, query, operationName, variables)
	if err != nil {
		return nil, err
	}
	return g.planner.Plan(req)
}

func parseFailureEnvelope(err error) map[string]interface{} {
	return map[string]interface{}{
		"errors": []map[string]interface{}{{"message": err.Error()}},
		"data":   nil,
	}
}

// validateQuery re-parses query with gqlparser and runs its validator
// against schema, implementing spec §6's validate flag. It is a second,
// independent parse (gqlparser's own *ast.QueryDocument, not
// n9te9/graphql-parser's) because only gqlparser carries the validation
// rules spec §6 asks for; request.Parse's own parser has none.
func validateQuery(schema *ast.Schema, query string) gqlerror.List {
	_, errs := gqlparser.LoadQuery(schema, query)
	return errs
}
