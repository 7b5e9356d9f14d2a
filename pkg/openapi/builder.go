package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Summary     string   `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Permissions []string `json:"x-required-permissions,omitempty"`
	// Schema names the validate schema the request body must match.
	Schema string   `json:"x-request-schema,omitempty"`
	Query  []string `json:"-"`
}

// Registry records the operations a service mounts.
type Registry struct {
	mu  sync.Mutex
	Ops []Operation
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}} }

func (r *Registry) Register(op Operation) {
	op.Method = strings.ToLower(op.Method)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ops = append(r.Ops, op)
}

// Mount registers op and routes it on router in one step so the document
// cannot drift from the routes.
func (r *Registry) Mount(router chi.Router, op Operation, h http.HandlerFunc) {
	r.Register(op)
	router.Method(strings.ToUpper(op.Method), op.Path, h)
}

// Build produces a minimal OpenAPI 3.1 document of the registered
// operations.
func (r *Registry) Build(serviceName, version string) map[string]any {
	r.mu.Lock()
	ops := append([]Operation(nil), r.Ops...)
	r.mu.Unlock()
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })

	paths := map[string]any{}
	for _, op := range ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary": op.Summary,
			"tags":    op.Tags,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
				"400": map[string]any{"description": "Invalid input or missing principal"},
				"403": map[string]any{"description": "Forbidden"},
				"404": map[string]any{"description": "Not found"},
				"409": map[string]any{"description": "Conflict"},
			},
		}
		if len(op.Permissions) > 0 {
			m["x-required-permissions"] = op.Permissions
		}
		if op.Schema != "" {
			m["requestBody"] = map[string]any{
				"required":         true,
				"x-request-schema": op.Schema,
				"content":          map[string]any{"application/json": map[string]any{}},
			}
		}
		var params []map[string]any
		for _, seg := range strings.Split(op.Path, "/") {
			if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
				params = append(params, map[string]any{"name": strings.Trim(seg, "{}"), "in": "path", "required": true, "schema": map[string]string{"type": "string"}})
			}
		}
		for _, q := range op.Query {
			params = append(params, map[string]any{"name": q, "in": "query", "required": true, "schema": map[string]string{"type": "string"}})
		}
		if len(params) > 0 {
			m["parameters"] = params
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer":    map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
				"principal": map[string]any{"type": "apiKey", "in": "header", "name": "X-Principal-Id"},
			},
		},
		"security": []map[string]any{{"bearer": []string{}}, {"principal": []string{}}},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
