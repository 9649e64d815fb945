// Package approval implements the Approval Service (spec.md §4.6): the
// proposal store, the 11-state transition guard, and single-use token
// issuance/validation/consumption. It is grounded on the teacher's
// journal package for the "single lock guarding a map plus a slice
// index" idiom, generalized here to a per-proposal lock table so that
// concurrent transitions on different proposals never contend (spec.md
// §5's "per-proposal lock, acquired before the map lock").
package approval

import (
	"time"

	"github.com/rustyeddy/tradegate/internal/types"
)

// Proposal is immutable once created; every state transition in this
// package returns a new value rather than mutating in place, matching
// spec.md §3's "mutable only via successor objects".
type Proposal struct {
	ProposalID      string
	CorrelationID   string
	Intent          types.OrderIntent
	IntentHash      string
	Simulation      types.SimulationResult
	RiskDecision    types.RiskDecision
	State           types.OrderState
	CreatedAt       time.Time
	UpdatedAt       time.Time
	GrantedTokenID  string
	ApprovalReason  string
	BrokerOrderID   string
}

func (p Proposal) withState(s types.OrderState, now time.Time) Proposal {
	p.State = s
	p.UpdatedAt = now
	return p
}

// Token is an immutable, single-use credential bound to exactly one
// proposal and intent hash (spec.md §3 ApprovalToken).
type Token struct {
	TokenID    string
	ProposalID string
	IntentHash string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	UsedAt     *time.Time
}

// IsValid reports whether the token may still be consumed at now. The
// expiry check is strict: a token at exactly expires_at is invalid
// (spec.md §8 boundary behaviors).
func (t Token) IsValid(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}

// DefaultTokenTTL is the default token lifetime (spec.md §3).
const DefaultTokenTTL = 5 * time.Minute

// DefaultCapacity is the default in-memory proposal store capacity
// (spec.md §3 "Ownership and lifecycle").
const DefaultCapacity = 1000
