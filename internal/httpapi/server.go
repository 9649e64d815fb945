// Package httpapi is the thin HTTP/JSON framing described in spec.md
// §6: a chi router where every handler decodes a request, calls one
// core.Core operation, and encodes the result. It carries no business
// logic of its own and internal/core never imports it, keeping the
// core usable from cmd/tradegate's CLI without ever standing up a
// listener. Grounded on the other_examples chi-router style (layered
// middleware, a role-free health route, an http.Server with explicit
// timeouts) since the teacher itself is a CLI-only trading engine with
// no HTTP surface to imitate directly.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rustyeddy/tradegate/internal/core"
	"github.com/rustyeddy/tradegate/internal/errs"
)

// tracer emits one span per request under the same name every caller of
// otel.SetTracerProvider (cmd/tradegate/cmd/root.go's newTracerProvider)
// configures for the process. When no provider is registered, the
// global default is a documented no-op, so tracing costs nothing in
// tests or dev runs that never call it.
var tracer = otel.Tracer("github.com/rustyeddy/tradegate/internal/httpapi")

type correlationIDKey struct{}

// CorrelationID extracts the per-request correlation id threaded by
// the correlationMiddleware, or "" if called outside a request.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// Server owns the chi router and every dependency a handler needs.
// It has no state of its own beyond the logger; all durable state
// lives in core.Core.
type Server struct {
	core   *core.Core
	log    *zap.Logger
	router chi.Router
}

// NewServer builds the router and registers every route in spec.md
// §6's endpoint table. log may be nil, in which case a no-op logger is
// used (tests construct servers without a live zap sink).
func NewServer(c *core.Core, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{core: c, log: log}
	s.router = s.newRouter()
	return s
}

func (s *Server) Router() http.Handler { return s.router }

// NewHTTPServer wraps Router in an http.Server with explicit timeouts,
// matching the other_examples chi reference rather than relying on
// net/http's zero-value (unbounded) defaults.
func NewHTTPServer(addr string, s *Server) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.correlationMiddleware)
	r.Use(s.tracingMiddleware)
	r.Use(s.loggingMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/portfolio", s.handlePortfolio)
		r.Get("/positions", s.handlePositions)
		r.Get("/market/snapshot", s.handleMarketSnapshot)
		r.Get("/market/bars", s.handleMarketBars)
		r.Get("/instruments/search", s.handleInstrumentSearch)
		r.Get("/feature-flags", s.handleFeatureFlags)

		r.Post("/propose", s.handlePropose)
		r.Post("/simulate", s.handleSimulate)
		r.Post("/risk/evaluate", s.handleRiskEvaluate)
		r.Post("/proposals/create", s.handleProposalsCreate)

		r.Post("/approval/request", s.handleApprovalRequest)
		r.Post("/approval/grant", s.handleApprovalGrant)
		r.Post("/approval/deny", s.handleApprovalDeny)
		r.Get("/approval/pending", s.handleApprovalPending)

		r.Post("/orders/submit", s.handleOrdersSubmit)
		r.Get("/orders/{broker_order_id}", s.handleOrderStatus)

		r.Post("/cancel/request", s.handleCancelRequest)
		r.Post("/cancel/grant", s.handleCancelGrant)
		r.Post("/cancel/deny", s.handleCancelDeny)

		r.Post("/modify/request", s.handleModifyRequest)
		r.Post("/modify/grant", s.handleModifyGrant)
		r.Post("/modify/deny", s.handleModifyDeny)

		r.Post("/kill-switch/activate", s.handleKillSwitchActivate)
		r.Post("/kill-switch/deactivate", s.handleKillSwitchDeactivate)
		r.Get("/kill-switch/status", s.handleKillSwitchStatus)
	})
	return r
}

// correlationMiddleware implements spec.md §6's "a per-request
// correlation_id header is accepted; when absent, one is generated and
// returned in the response".
func (s *Server) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Correlation-Id", id)
		ctx := context.WithValue(r.Context(), correlationIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tracingMiddleware opens one span per request, tagging it with the
// correlation id so a trace backend and the audit log can be
// cross-referenced by the same identifier.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
				attribute.String("correlation_id", CorrelationID(r.Context())),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("correlation_id", CorrelationID(r.Context())),
		)
	})
}

// writeJSON encodes v as the response body. Encoding failures are
// logged, not surfaced, since headers/status are already committed.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response failed", zap.Error(err))
	}
}

// writeError maps an errs.Kind to an HTTP status per spec.md §7.
// Internal errors are masked from the response body; the real message
// only ever reaches the audit log and the server's own logger.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := map[string]string{"error": err.Error()}

	e, ok := errs.As(err)
	if !ok {
		s.log.Error("unclassified error", zap.Error(err), zap.String("correlation_id", CorrelationID(r.Context())))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "code": "INTERNAL"})
		return
	}

	body["code"] = e.Code
	if len(e.Rules) > 0 {
		body["violated_rules"] = joinRules(e.Rules)
	}

	var status int
	switch e.Kind {
	case errs.Validation:
		status = http.StatusBadRequest
	case errs.State:
		status = http.StatusConflict
	case errs.Policy:
		status = http.StatusForbidden
	case errs.Resource:
		status = http.StatusServiceUnavailable
		body["retryable"] = boolString(e.Retryable)
	case errs.Concurrency:
		status = http.StatusConflict
	default:
		s.log.Error("internal error", zap.Error(err), zap.String("correlation_id", CorrelationID(r.Context())))
		status = http.StatusInternalServerError
		body = map[string]string{"error": "internal error", "code": e.Code}
	}
	s.writeJSON(w, status, body)
}

func joinRules(rules []string) string {
	out := ""
	for i, r := range rules {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validationf("MALFORMED_JSON", "decode request body: %v", err)
	}
	return nil
}
