package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/rustyeddy/tradegate/internal/audit"
	"github.com/rustyeddy/tradegate/internal/errs"
	"github.com/rustyeddy/tradegate/internal/types"
)

// AutoApprover decides whether a RISK_APPROVED proposal may skip the
// human APPROVAL_REQUESTED step (spec.md §4.6 "Auto-approval"). It is a
// narrow interface so internal/autoapproval never needs to import
// internal/approval, avoiding a cycle.
type AutoApprover interface {
	Allow(ctx context.Context, intent types.OrderIntent, sim types.SimulationResult) (bool, string)
}

// Clock is overridable for deterministic tests.
type Clock func() time.Time

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	proposal_id      TEXT PRIMARY KEY,
	correlation_id   TEXT,
	intent_hash      TEXT NOT NULL,
	state            TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	granted_token_id TEXT,
	approval_reason  TEXT,
	broker_order_id  TEXT,
	payload          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	token_id    TEXT PRIMARY KEY,
	proposal_id TEXT NOT NULL,
	intent_hash TEXT NOT NULL,
	issued_at   DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL,
	used_at     DATETIME
);
`

// proposalPayload holds the nested fields Proposal doesn't flatten into
// dedicated columns, mirroring internal/audit/sqlite.go's json-payload
// column for structured event data.
type proposalPayload struct {
	Intent       types.OrderIntent
	Simulation   types.SimulationResult
	RiskDecision types.RiskDecision
}

// Service owns every proposal and token for the process (spec.md §3
// "Ownership and lifecycle"). Structural mutation of the proposal map is
// guarded by mapMu; each proposal additionally has its own lock so that
// transitions on different proposals never contend (spec.md §5).
//
// Every mutation is mirrored to a SQLite-backed proposals/tokens store
// (mirroring internal/killswitch's single-row-table idiom, generalized
// to one row per proposal/token) before the in-memory map is updated. An
// in-memory-only store would let a crash between a Grant and the
// matching Submit orphan a live token with no record it was ever issued;
// recover() replays that store back into the maps on New so a restart
// picks up exactly where the process left off.
type Service struct {
	mapMu     sync.Mutex
	proposals map[string]Proposal
	order     []string // insertion order, oldest first, for eviction
	tokens    map[string]Token
	locks     sync.Map // proposalID -> *sync.Mutex

	db       *sql.DB
	capacity int
	ttl      time.Duration
	audit    audit.Store
	killSw   killSwitchChecker
	auto     AutoApprover
	now      Clock
}

// killSwitchChecker is the narrow slice of *killswitch.KillSwitch this
// package needs, kept as an interface to avoid a hard dependency and to
// simplify testing.
type killSwitchChecker interface {
	IsEnabled(ctx context.Context) (bool, string)
}

// New opens (creating if absent) the persisted proposal/token store at
// path and reloads every persisted proposal and token, terminal ones
// included, back into memory before returning.
func New(path string, store audit.Store, ks killSwitchChecker, auto AutoApprover) (*Service, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("approval: open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("approval: install schema: %w", err)
	}

	s := &Service{
		proposals: make(map[string]Proposal),
		tokens:    make(map[string]Token),
		db:        db,
		capacity:  DefaultCapacity,
		ttl:       DefaultTokenTTL,
		audit:     store,
		killSw:    ks,
		auto:      auto,
		now:       time.Now,
	}
	if err := s.recover(); err != nil {
		db.Close()
		return nil, fmt.Errorf("approval: recover persisted state: %w", err)
	}
	return s, nil
}

// recover reloads every persisted proposal and token into memory,
// oldest first, so store.order matches insertion order across restarts.
func (s *Service) recover() error {
	rows, err := s.db.Query(`
		SELECT proposal_id, correlation_id, intent_hash, state, created_at, updated_at,
		       granted_token_id, approval_reason, broker_order_id, payload
		FROM proposals ORDER BY created_at ASC, proposal_id ASC`)
	if err != nil {
		return fmt.Errorf("query proposals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Proposal
		var corrID, tokenID, reason, brokerOrderID sql.NullString
		var state string
		var payloadRaw string
		if err := rows.Scan(&p.ProposalID, &corrID, &p.IntentHash, &state, &p.CreatedAt, &p.UpdatedAt,
			&tokenID, &reason, &brokerOrderID, &payloadRaw); err != nil {
			return fmt.Errorf("scan proposal: %w", err)
		}
		p.CorrelationID = corrID.String
		p.State = types.OrderState(state)
		p.GrantedTokenID = tokenID.String
		p.ApprovalReason = reason.String
		p.BrokerOrderID = brokerOrderID.String

		var payload proposalPayload
		if err := json.Unmarshal([]byte(payloadRaw), &payload); err != nil {
			return fmt.Errorf("unmarshal proposal %s payload: %w", p.ProposalID, err)
		}
		p.Intent = payload.Intent
		p.Simulation = payload.Simulation
		p.RiskDecision = payload.RiskDecision

		s.proposals[p.ProposalID] = p
		s.order = append(s.order, p.ProposalID)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	tokRows, err := s.db.Query(`SELECT token_id, proposal_id, intent_hash, issued_at, expires_at, used_at FROM tokens`)
	if err != nil {
		return fmt.Errorf("query tokens: %w", err)
	}
	defer tokRows.Close()

	for tokRows.Next() {
		var t Token
		var usedAt sql.NullTime
		if err := tokRows.Scan(&t.TokenID, &t.ProposalID, &t.IntentHash, &t.IssuedAt, &t.ExpiresAt, &usedAt); err != nil {
			return fmt.Errorf("scan token: %w", err)
		}
		if usedAt.Valid {
			t.UsedAt = &usedAt.Time
		}
		s.tokens[t.TokenID] = t
	}
	return tokRows.Err()
}

func (s *Service) lockFor(id string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *Service) emit(ctx context.Context, correlationID string, kind audit.Kind, actor string, payload any) {
	if s.audit == nil {
		return
	}
	ev, err := audit.NewEvent(correlationID, kind, actor, payload)
	if err == nil {
		_ = s.audit.Append(ctx, ev)
	}
}

// persistProposal upserts p's full row, including its json payload.
func (s *Service) persistProposal(ctx context.Context, p Proposal) error {
	payload, err := json.Marshal(proposalPayload{Intent: p.Intent, Simulation: p.Simulation, RiskDecision: p.RiskDecision})
	if err != nil {
		return fmt.Errorf("marshal proposal %s payload: %w", p.ProposalID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals (proposal_id, correlation_id, intent_hash, state, created_at, updated_at,
		                       granted_token_id, approval_reason, broker_order_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(proposal_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			granted_token_id = excluded.granted_token_id,
			approval_reason = excluded.approval_reason,
			broker_order_id = excluded.broker_order_id,
			payload = excluded.payload`,
		p.ProposalID, p.CorrelationID, p.IntentHash, string(p.State), p.CreatedAt, p.UpdatedAt,
		p.GrantedTokenID, p.ApprovalReason, p.BrokerOrderID, string(payload),
	)
	if err != nil {
		return fmt.Errorf("persist proposal %s: %w", p.ProposalID, err)
	}
	return nil
}

func (s *Service) persistToken(ctx context.Context, t Token) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (token_id, proposal_id, intent_hash, issued_at, expires_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(token_id) DO UPDATE SET used_at = excluded.used_at`,
		t.TokenID, t.ProposalID, t.IntentHash, t.IssuedAt, t.ExpiresAt, t.UsedAt,
	)
	if err != nil {
		return fmt.Errorf("persist token %s: %w", t.TokenID, err)
	}
	return nil
}

func (s *Service) deleteProposal(ctx context.Context, proposalID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE proposal_id = ?`, proposalID)
	return err
}

// Create stores a new proposal already carrying its simulation and risk
// decision (the wire contract of POST /api/v1/proposals/create, spec.md
// §6). A REJECT risk decision is refused; the proposal never enters a
// non-terminal state (spec.md §8 scenario 2).
func (s *Service) Create(ctx context.Context, correlationID string, intent types.OrderIntent, sim types.SimulationResult, risk types.RiskDecision) (Proposal, error) {
	if risk.Decision == types.Reject {
		return Proposal{}, errs.Policyf("RISK_REJECTED", risk.ViolatedRules, "risk engine rejected proposal: %s", risk.Reason)
	}
	hash, err := intent.Hash()
	if err != nil {
		return Proposal{}, errs.Validationf("INTENT_HASH_FAILED", "compute intent hash: %v", err)
	}

	now := s.now()
	p := Proposal{
		ProposalID:    uuid.NewString(),
		CorrelationID: correlationID,
		Intent:        intent,
		IntentHash:    hash,
		Simulation:    sim,
		RiskDecision:  risk,
		State:         types.RiskApproved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.insert(ctx, p); err != nil {
		return Proposal{}, err
	}
	s.emit(ctx, correlationID, audit.ProposalCreated, "system", map[string]string{
		"proposal_id": p.ProposalID,
		"intent_hash": p.IntentHash,
	})
	return p, nil
}

// insert adds p to the store, evicting the oldest terminal proposal if
// the store is at capacity. If none is evictable, the insertion is
// rejected (spec.md §4.6 invariant (d)).
func (s *Service) insert(ctx context.Context, p Proposal) error {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if len(s.proposals) >= s.capacity {
		if !s.evictOldestTerminalLocked(ctx) {
			return errs.Resourcef(false, "PROPOSAL_STORE_FULL", "proposal store is at capacity and no terminal proposal can be evicted")
		}
	}
	if err := s.persistProposal(ctx, p); err != nil {
		return errs.Internalf("PROPOSAL_PERSIST_FAILED", err, "approval: persist proposal %s", p.ProposalID)
	}
	s.proposals[p.ProposalID] = p
	s.order = append(s.order, p.ProposalID)
	return nil
}

// evictOldestTerminalLocked must be called with mapMu held.
func (s *Service) evictOldestTerminalLocked(ctx context.Context) bool {
	for i, id := range s.order {
		if p, ok := s.proposals[id]; ok && p.State.IsTerminal() {
			_ = s.deleteProposal(ctx, id)
			delete(s.proposals, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) Get(proposalID string) (Proposal, error) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	p, ok := s.proposals[proposalID]
	if !ok {
		return Proposal{}, errs.Resourcef(false, "PROPOSAL_NOT_FOUND", "proposal %s not found", proposalID)
	}
	return p, nil
}

func (s *Service) replace(ctx context.Context, p Proposal) error {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if err := s.persistProposal(ctx, p); err != nil {
		return errs.Internalf("PROPOSAL_PERSIST_FAILED", err, "approval: persist proposal %s", p.ProposalID)
	}
	s.proposals[p.ProposalID] = p
	return nil
}

// Pending returns RISK_APPROVED and APPROVAL_REQUESTED proposals, newest
// first, capped at limit (0 means unbounded).
func (s *Service) Pending(limit int) []Proposal {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	var out []Proposal
	for i := len(s.order) - 1; i >= 0; i-- {
		p := s.proposals[s.order[i]]
		if p.State == types.RiskApproved || p.State == types.ApprovalRequested {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Request transitions RISK_APPROVED -> APPROVAL_REQUESTED, unless the
// auto-approval policy allows it and the kill switch is not enabled, in
// which case it skips straight to APPROVAL_GRANTED with a token
// (spec.md §4.6 "Auto-approval").
func (s *Service) Request(ctx context.Context, proposalID string) (Proposal, *Token, error) {
	lock := s.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(proposalID)
	if err != nil {
		return Proposal{}, nil, err
	}
	if p.State != types.RiskApproved {
		return Proposal{}, nil, errs.Statef("INVALID_TRANSITION", "proposal %s is in state %s, expected RISK_APPROVED", proposalID, p.State)
	}

	killEnabled := false
	if s.killSw != nil {
		killEnabled, _ = s.killSw.IsEnabled(ctx)
	}

	if s.auto != nil && !killEnabled && p.RiskDecision.Decision != types.ManualReview {
		if allow, reason := s.auto.Allow(ctx, p.Intent, p.Simulation); allow {
			now := s.now()
			tok, err := s.issueToken(ctx, p, now)
			if err != nil {
				return Proposal{}, nil, err
			}
			p = p.withState(types.ApprovalGranted, now)
			p.GrantedTokenID = tok.TokenID
			p.ApprovalReason = reason
			if err := s.replace(ctx, p); err != nil {
				return Proposal{}, nil, err
			}
			s.emit(ctx, p.CorrelationID, audit.AutoApprovalGranted, "system", map[string]string{
				"proposal_id": proposalID, "reason": reason, "token_id": tok.TokenID,
			})
			return p, &tok, nil
		}
	}

	now := s.now()
	p = p.withState(types.ApprovalRequested, now)
	if err := s.replace(ctx, p); err != nil {
		return Proposal{}, nil, err
	}
	s.emit(ctx, p.CorrelationID, audit.ApprovalRequested, "system", map[string]string{"proposal_id": proposalID})
	return p, nil, nil
}

func (s *Service) issueToken(ctx context.Context, p Proposal, now time.Time) (Token, error) {
	tok := Token{
		TokenID:    uuid.NewString(),
		ProposalID: p.ProposalID,
		IntentHash: p.IntentHash,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if err := s.persistToken(ctx, tok); err != nil {
		return Token{}, errs.Internalf("TOKEN_PERSIST_FAILED", err, "approval: persist token %s", tok.TokenID)
	}
	s.tokens[tok.TokenID] = tok
	return tok, nil
}

// Grant transitions APPROVAL_REQUESTED -> APPROVAL_GRANTED and issues a
// token bound to the proposal's intent hash.
func (s *Service) Grant(ctx context.Context, proposalID, reason, actor string) (Proposal, Token, error) {
	lock := s.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(proposalID)
	if err != nil {
		return Proposal{}, Token{}, err
	}
	if p.State != types.ApprovalRequested {
		return Proposal{}, Token{}, errs.Statef("INVALID_TRANSITION", "proposal %s is in state %s, expected APPROVAL_REQUESTED", proposalID, p.State)
	}

	now := s.now()
	tok, err := s.issueToken(ctx, p, now)
	if err != nil {
		return Proposal{}, Token{}, err
	}
	p = p.withState(types.ApprovalGranted, now)
	p.GrantedTokenID = tok.TokenID
	p.ApprovalReason = reason
	if err := s.replace(ctx, p); err != nil {
		return Proposal{}, Token{}, err
	}

	s.emit(ctx, p.CorrelationID, audit.ApprovalGranted, actor, map[string]string{
		"proposal_id": proposalID, "reason": reason, "token_id": tok.TokenID,
	})
	return p, tok, nil
}

// Deny transitions APPROVAL_REQUESTED -> APPROVAL_DENIED. reason is
// required (spec.md §4.6).
func (s *Service) Deny(ctx context.Context, proposalID, reason, actor string) (Proposal, error) {
	if reason == "" {
		return Proposal{}, errs.Validationf("DENY_REASON_REQUIRED", "denial reason is required")
	}

	lock := s.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if p.State != types.ApprovalRequested {
		return Proposal{}, errs.Statef("INVALID_TRANSITION", "proposal %s is in state %s, expected APPROVAL_REQUESTED", proposalID, p.State)
	}

	p = p.withState(types.ApprovalDenied, s.now())
	p.ApprovalReason = reason
	if err := s.replace(ctx, p); err != nil {
		return Proposal{}, err
	}

	s.emit(ctx, p.CorrelationID, audit.ApprovalDenied, actor, map[string]string{
		"proposal_id": proposalID, "reason": reason,
	})
	return p, nil
}

// ValidateToken checks existence, not-used, not-expired, and hash match,
// without consuming the token.
func (s *Service) ValidateToken(tokenID, intentHash string, now time.Time) bool {
	s.mapMu.Lock()
	tok, ok := s.tokens[tokenID]
	s.mapMu.Unlock()
	if !ok {
		return false
	}
	return tok.IsValid(now) && tok.IntentHash == intentHash
}

// ConsumeToken atomically sets used_at, failing if already used or
// expired (spec.md §3, §8 round-trip (c): the second call must fail
// with the same error as any other invalid-token check).
func (s *Service) ConsumeToken(ctx context.Context, tokenID string, now time.Time) (Token, error) {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	tok, ok := s.tokens[tokenID]
	if !ok {
		return Token{}, errs.Concurrencyf("TOKEN_NOT_FOUND", "token %s not found", tokenID)
	}
	if !tok.IsValid(now) {
		return Token{}, errs.Concurrencyf("TOKEN_ALREADY_CONSUMED", "token %s already consumed or expired", tokenID)
	}
	tok.UsedAt = &now
	if err := s.persistToken(ctx, tok); err != nil {
		return Token{}, errs.Internalf("TOKEN_PERSIST_FAILED", err, "approval: persist token %s", tok.TokenID)
	}
	s.tokens[tokenID] = tok
	return tok, nil
}

// MarkSubmitted transitions APPROVAL_GRANTED -> SUBMITTED, recording the
// broker order id (spec.md §4.7 step 6).
func (s *Service) MarkSubmitted(ctx context.Context, proposalID, brokerOrderID string) (Proposal, error) {
	lock := s.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if !types.CanTransition(p.State, types.Submitted) {
		return Proposal{}, errs.Statef("INVALID_TRANSITION", "cannot transition proposal %s from %s to SUBMITTED", proposalID, p.State)
	}

	p = p.withState(types.Submitted, s.now())
	p.BrokerOrderID = brokerOrderID
	if err := s.replace(ctx, p); err != nil {
		return Proposal{}, err
	}
	s.emit(ctx, p.CorrelationID, audit.OrderSubmitted, "system", map[string]string{
		"proposal_id": proposalID, "broker_order_id": brokerOrderID,
	})
	return p, nil
}

// MarkTerminal transitions SUBMITTED -> {FILLED, CANCELLED, REJECTED}
// and emits the matching audit event.
func (s *Service) MarkTerminal(ctx context.Context, proposalID string, state types.OrderState) (Proposal, error) {
	lock := s.lockFor(proposalID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Get(proposalID)
	if err != nil {
		return Proposal{}, err
	}
	if !types.CanTransition(p.State, state) {
		return Proposal{}, errs.Statef("INVALID_TRANSITION", "cannot transition proposal %s from %s to %s", proposalID, p.State, state)
	}

	p = p.withState(state, s.now())
	if err := s.replace(ctx, p); err != nil {
		return Proposal{}, err
	}

	var kind audit.Kind
	switch state {
	case types.Filled:
		kind = audit.OrderFilled
	case types.Cancelled:
		kind = audit.OrderCancelled
	case types.Rejected:
		kind = audit.OrderRejected
	}
	s.emit(ctx, p.CorrelationID, kind, "system", map[string]string{"proposal_id": proposalID})
	return p, nil
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.db.Close()
}
