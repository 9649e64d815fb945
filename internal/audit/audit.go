// Package audit implements the append-only event log (spec.md §4.1),
// grounded on the teacher's journal package (SQLite persistence, a
// Schema constant, an interface separating the store from its backend)
// but widened from trade/equity records to a generic structured event
// with storage-layer enforcement against UPDATE/DELETE.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind enumerates the event taxonomy. New kinds may be added; existing
// ones are never renamed since the audit log is permanent history.
type Kind string

const (
	OrderProposed         Kind = "ORDER_PROPOSED"
	OrderSimulated        Kind = "ORDER_SIMULATED"
	RiskGateEvaluated     Kind = "RISK_GATE_EVALUATED"
	ProposalCreated       Kind = "PROPOSAL_CREATED"
	ProposalEvicted       Kind = "PROPOSAL_EVICTED"
	ApprovalRequested     Kind = "APPROVAL_REQUESTED"
	ApprovalGranted       Kind = "APPROVAL_GRANTED"
	ApprovalDenied        Kind = "APPROVAL_DENIED"
	OrderSubmitted        Kind = "ORDER_SUBMITTED"
	OrderSubmissionFailed Kind = "ORDER_SUBMISSION_FAILED"
	OrderFilled           Kind = "ORDER_FILLED"
	OrderCancelled        Kind = "ORDER_CANCELLED"
	OrderRejected         Kind = "ORDER_REJECTED"
	CancelRequested       Kind = "CANCEL_REQUESTED"
	CancelGranted         Kind = "CANCEL_GRANTED"
	CancelDenied          Kind = "CANCEL_DENIED"
	ModifyRequested       Kind = "MODIFY_REQUESTED"
	ModifyGranted         Kind = "MODIFY_GRANTED"
	ModifyDenied          Kind = "MODIFY_DENIED"
	KillSwitchActivated Kind = "KILL_SWITCH_ACTIVATED"
	KillSwitchReleased  Kind = "KILL_SWITCH_RELEASED"
	RateLimitDenied       Kind = "RATE_LIMIT_DENIED"
	BreakerOpened         Kind = "BREAKER_OPENED"
	BreakerClosed         Kind = "BREAKER_CLOSED"
	ToolCallAllowed       Kind = "TOOL_CALL_ALLOWED"
	ToolCallDenied        Kind = "TOOL_CALL_DENIED"
	ReportJobStarted      Kind = "REPORT_JOB_STARTED"
	ReportJobCompleted    Kind = "REPORT_JOB_COMPLETED"
	ReportJobFailed       Kind = "REPORT_JOB_FAILED"
	AutoApprovalGranted   Kind = "AUTO_APPROVAL_GRANTED"
	OperationCancelled    Kind = "OPERATION_CANCELLED"
)

// Event is a single, immutable audit record. Payload is opaque
// structured data the log never interprets (spec.md §4.1(c)).
type Event struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Kind          Kind            `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	Actor         string          `json:"actor,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event, generating a ULID id and, when correlationID
// is empty, a ULID correlation id as well (spec.md §4.1: "if none is set,
// generate a UUID" — implemented with the same ULID generator to keep
// ordering monotonic within a process, since a time-sortable id also
// satisfies "unpredictable enough to not be guessed").
func NewEvent(correlationID string, kind Kind, actor string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	if correlationID == "" {
		correlationID = ulid.Make().String()
	}
	return Event{
		ID:            ulid.Make().String(),
		CorrelationID: correlationID,
		Kind:          kind,
		Timestamp:     time.Now().UTC(),
		Actor:         actor,
		Payload:       b,
	}, nil
}

// Filter narrows Query results.
type Filter struct {
	Kinds         []Kind
	CorrelationID string
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// Store is the append-only audit backend. Implementations must make
// append durable before returning (spec.md §4.1) and must reject
// mutation of previously-appended rows at the storage layer.
type Store interface {
	Append(ctx context.Context, event Event) error
	Get(ctx context.Context, id string) (Event, error)
	Query(ctx context.Context, filter Filter) ([]Event, error)
	Stats(ctx context.Context) (map[Kind]int64, error)
	// Backup produces a verifiable, idempotent copy of the log at dst.
	Backup(ctx context.Context, dst string) error
	Close() error
}
