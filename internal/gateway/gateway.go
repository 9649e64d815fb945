package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/errs"
)

// Handler executes a validated tool call and returns a JSON-marshalable
// result. Handlers are registered by the caller (internal/core), keeping
// the gateway itself free of any dependency on the concrete services it
// fronts.
type Handler func(ctx context.Context, params any) (any, error)

// Gateway is the sole entry point for the tool surface (spec.md §4.9).
type Gateway struct {
	mu       sync.RWMutex
	policy   Policy
	handlers map[string]Handler
	limits   *limiters
	redactor *Redactor
	audit    audit.Store
}

func New(policy Policy, store audit.Store) *Gateway {
	return &Gateway{
		policy:   policy,
		handlers: make(map[string]Handler),
		limits:   newLimiters(policy),
		redactor: NewRedactor(),
		audit:    store,
	}
}

func (g *Gateway) Register(tool string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[tool] = h
}

func (g *Gateway) emit(ctx context.Context, correlationID string, kind audit.Kind, tool, session string, extra map[string]string) {
	if g.audit == nil {
		return
	}
	payload := map[string]string{"tool": tool, "session": session}
	for k, v := range extra {
		payload[k] = v
	}
	ev, err := audit.NewEvent(correlationID, kind, session, payload)
	if err == nil {
		_ = g.audit.Append(ctx, ev)
	}
}

// Call runs tool with the given raw JSON params through the four gates
// of spec.md §4.9 in order: allowlist, schema, rate-limit/breaker, and
// (on success) output redaction.
func (g *Gateway) Call(ctx context.Context, correlationID, session, tool string, rawParams json.RawMessage) (any, error) {
	toolPolicy, ok := g.policy.Lookup(tool)
	if !ok {
		g.emit(ctx, correlationID, audit.ToolCallDenied, tool, session, map[string]string{"reason": "unknown tool"})
		return nil, errs.Validationf("UNKNOWN_TOOL", "tool %q is not in the allowlist", tool)
	}

	keys, err := rawParamKeys(rawParams)
	if err != nil {
		g.emit(ctx, correlationID, audit.ToolCallDenied, tool, session, map[string]string{"reason": err.Error()})
		return nil, err
	}
	for k := range keys {
		if toolPolicy.ForbidsParam(k) {
			g.emit(ctx, correlationID, audit.ToolCallDenied, tool, session, map[string]string{"reason": "forbidden parameter " + k})
			return nil, errs.Validationf("FORBIDDEN_PARAMETER", "parameter %q is forbidden for tool %q", k, tool)
		}
	}

	params, err := decodeAndValidate(tool, rawParams)
	if err != nil {
		g.emit(ctx, correlationID, audit.ToolCallDenied, tool, session, map[string]string{"reason": err.Error()})
		return nil, err
	}

	if ok, reason := g.limits.allow(tool, session); !ok {
		g.emit(ctx, correlationID, audit.RateLimitDenied, tool, session, map[string]string{"reason": reason})
		return nil, errs.Concurrencyf("RATE_LIMITED", "%s", reason)
	}

	g.mu.RLock()
	handler, ok := g.handlers[tool]
	g.mu.RUnlock()
	if !ok {
		return nil, errs.Internalf("NO_HANDLER", nil, "no handler registered for tool %q", tool)
	}

	result, err := handler(ctx, params)
	if err != nil {
		g.emit(ctx, correlationID, audit.ToolCallDenied, tool, session, map[string]string{"reason": err.Error()})
		return nil, err
	}

	g.emit(ctx, correlationID, audit.ToolCallAllowed, tool, session, nil)
	return g.redactResult(result), nil
}

// redactResult round-trips result through JSON so map/slice-shaped
// redaction rules apply uniformly regardless of the handler's concrete
// return type.
func (g *Gateway) redactResult(result any) any {
	b, err := json.Marshal(result)
	if err != nil {
		return result
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return result
	}
	return g.redactor.Redact(generic)
}
