// Package httpapi mounts the gateway's HTTP surface (spec.md §6): a
// health check and the JSON-RPC 2.0 endpoint backends and clients speak,
// on a github.com/go-chi/chi/v5 router, grounded on the teacher's own
// internal/adapter/http package (routes.go route table shape,
// middleware.go bearer-auth style).
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/anonymize"
	"github.com/portero-gateway/portero/internal/domain/tool"
)

// Pipeline is the subset of *service.Pipeline the HTTP surface calls.
type Pipeline interface {
	ListTools(ctx context.Context) ([]tool.Tool, error)
	ReadResource(ctx context.Context, uri string) (anonymize.Value, error)
	CallTool(ctx context.Context, fullName string, args anonymize.Value) (anonymize.Value, error)
}

const version = "0.1.0"

// Server wires the Request Pipeline behind the HTTP transport.
type Server struct {
	pipeline    Pipeline
	bearerToken string
	logger      *slog.Logger
}

// New builds a Server. bearerToken is the single static credential required
// on POST /mcp/message (spec.md §6); an empty token disables auth checking,
// which callers should only do in local development.
func New(pipeline Pipeline, bearerToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{pipeline: pipeline, bearerToken: bearerToken, logger: logger}
}

// Routes mounts the gateway's HTTP surface onto r. wsHandler, when non-nil,
// is mounted at /admin/ws for the Approval Channel's admin console
// transport; it is a separate concern from the JSON-RPC endpoint and is not
// gated by the bearer token (the websocket handshake performs its own
// pairing exchange).
func (s *Server) Routes(r chi.Router, maxBodyBytes int64, wsHandler http.HandlerFunc) {
	r.Get("/health", s.handleHealth)

	r.With(s.requireBearer, s.limitBody(maxBodyBytes)).
		Post("/mcp/message", s.handleMCPMessage)

	if wsHandler != nil {
		r.Get("/admin/ws", wsHandler)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   version,
	})
}

// requireBearer enforces spec.md §6's static bearer-token check, comparing
// in constant time (crypto/subtle) the way the teacher's own auth
// middleware compares API keys — see DESIGN.md for why this one comparison
// stays on the standard library instead of a third-party auth package.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.bearerToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header || !constantTimeEqual(token, s.bearerToken) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// rpcRequest is the JSON-RPC 2.0 envelope spec.md §6 describes.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleMCPMessage(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, apperr.RPCParseError, "malformed JSON-RPC request")
		return
	}

	ctx := r.Context()
	result, rpcErr := s.dispatch(ctx, req)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}},
			"serverInfo":      map[string]any{"name": "portero-gateway", "version": version},
		}, nil

	case "ping":
		return map[string]any{}, nil

	case "notifications/initialized", "notifications/cancelled":
		// Lifecycle notifications are no-ops that never error (spec.md §6).
		return map[string]any{}, nil

	case "tools/list":
		tools, err := s.pipeline.ListTools(ctx)
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"tools": toolsToWire(tools)}, nil

	case "resources/list":
		// No backend exposes a resource catalog distinct from its tool
		// catalog in this design (internal/port/backend.Backend has no
		// ListResources method) — resource access is by direct URI only,
		// per spec.md §4.3's closing note. An empty list is the correct,
		// documented answer rather than an unsupported-method error.
		return map[string]any{"resources": []any{}}, nil

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, &rpcError{Code: apperr.RPCInvalidParams, Message: "resources/read requires a uri"}
		}
		val, err := s.pipeline.ReadResource(ctx, params.URI)
		if err != nil {
			return nil, mapErr(err)
		}
		return map[string]any{"contents": []any{map[string]any{"uri": params.URI, "text": jsonText(val)}}}, nil

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			return nil, &rpcError{Code: apperr.RPCInvalidParams, Message: "tools/call requires a name"}
		}
		args := anonymize.Null()
		if len(params.Arguments) > 0 {
			var raw any
			if err := json.Unmarshal(params.Arguments, &raw); err != nil {
				return nil, &rpcError{Code: apperr.RPCInvalidParams, Message: "malformed tool arguments"}
			}
			args = anonymize.FromJSON(raw)
		}
		result, err := s.pipeline.CallTool(ctx, params.Name, args)
		if err != nil {
			return nil, mapErr(err)
		}
		// CallTool always returns the {content, isError} envelope shape
		// (internal/virtualtool.Envelope, internal/adapter/mcpbackend's
		// resultToValue), so it becomes the RPC result verbatim.
		return result.ToJSON(), nil

	default:
		return nil, &rpcError{Code: apperr.RPCMethodNotFound, Message: "unknown method " + req.Method}
	}
}

func toolsToWire(tools []tool.Tool) []map[string]any {
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		out[i] = map[string]any{
			"name":        t.FullName(),
			"description": t.Description,
			"inputSchema": t.InputSchema,
		}
	}
	return out
}

func jsonText(v anonymize.Value) string {
	data, err := json.Marshal(v.ToJSON())
	if err != nil {
		return ""
	}
	return string(data)
}

func mapErr(err error) *rpcError {
	if kind, ok := apperr.KindOf(err); ok {
		return &rpcError{Code: apperr.RPCCode(kind), Message: err.Error()}
	}
	return internalErr(err)
}

func internalErr(err error) *rpcError {
	return &rpcError{Code: apperr.RPCInternalError, Message: err.Error()}
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// constantTimeEqual compares two bearer-token candidates without leaking
// timing information about where they first differ (spec.md §6 "mismatch
// yields 401"), matching the teacher's own webhook-token comparison in
// internal/middleware/webhook.go.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
