// Package service wires the proposal pipeline: gateway admission, causal
// logging, policy evaluation, and risk orchestration. Proposals from the same
// agent are totally ordered through a single-writer worker per causal scope;
// different agents never serialise against each other.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/causalguard-labs/causalguard/internal/causal"
	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/gateway"
	"github.com/causalguard-labs/causalguard/internal/orchestrator"
	"github.com/causalguard-labs/causalguard/internal/policy"
	"go.uber.org/zap"
)

// GovernanceScope is the causal scope governance events are chained in.
const GovernanceScope = "governance"

// ErrClosed is returned for proposals submitted after shutdown began.
var ErrClosed = errors.New("service is shutting down")

// Granularity selects the ordering domain events are chained in.
type Granularity string

const (
	PerAgent Granularity = "per_agent"
	Global   Granularity = "global"
)

// ProposalRequest is an inbound action proposal from an agent.
type ProposalRequest struct {
	AgentID   string             `json:"agent_id"`
	Type      eventlog.EventType `json:"event_type"`
	Payload   []byte             `json:"payload"`
	Value     uint64             `json:"value"`
	Nonce     uint64             `json:"nonce"`
	Timestamp time.Time          `json:"timestamp"`

	// Risk context for the orchestrator's commitment.
	Recipient        string `json:"recipient"`
	DestinationChain uint16 `json:"destination_chain"`
}

// ProposalResult reports what happened to a proposal.
type ProposalResult struct {
	ActionID  string              `json:"action_id"`
	Status    orchestrator.Status `json:"status"`
	Compliant bool                `json:"compliant"`
	Duplicate bool                `json:"duplicate"`
	Tier      string              `json:"tier"`
	Threshold uint16              `json:"threshold"`
	Violation *policy.Violation   `json:"violation,omitempty"`
}

// Service runs the proposal pipeline.
type Service struct {
	gate        *gateway.Gateway
	logger      *causal.Logger
	engine      *policy.Engine
	policy      *policy.Policy
	orch        *orchestrator.Orchestrator
	store       eventlog.Store
	audit       AuditLog
	granularity Granularity
	log         *zap.Logger

	mu      sync.Mutex
	workers map[string]chan *task
	closed  bool
	wg      sync.WaitGroup
}

// task is one unit of work for a scope's writer goroutine. run executes on
// that goroutine, so everything it does against the scope's chain is atomic.
type task struct {
	run   func() taskResult
	reply chan taskResult
}

type taskResult struct {
	res *ProposalResult
	ev  *eventlog.Event
	err error
}

// New creates a Service. granularity defaults to per-agent scopes.
func New(
	gate *gateway.Gateway,
	logger *causal.Logger,
	engine *policy.Engine,
	pol *policy.Policy,
	orch *orchestrator.Orchestrator,
	store eventlog.Store,
	granularity Granularity,
	log *zap.Logger,
) *Service {
	if granularity == "" {
		granularity = PerAgent
	}
	return &Service{
		gate:        gate,
		logger:      logger,
		engine:      engine,
		policy:      pol,
		orch:        orch,
		store:       store,
		audit:       NewDecisionLog(256),
		granularity: granularity,
		log:         log,
		workers:     make(map[string]chan *task),
	}
}

// Audit returns the decision audit log.
func (s *Service) Audit() AuditLog { return s.audit }

// SetAudit swaps the decision audit sink. Call before serving traffic;
// deployments with a database use PostgresAudit so verdicts persist.
func (s *Service) SetAudit(a AuditLog) {
	if a != nil {
		s.audit = a
	}
}

// Orchestrator exposes lifecycle state lookups.
func (s *Service) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Store exposes read-only chain access for the HTTP layer.
func (s *Service) Store() eventlog.Store { return s.store }

func (s *Service) scope(agentID string) string {
	if s.granularity == Global {
		return "global"
	}
	return agentID
}

// Propose runs one proposal through the pipeline. Admission failures
// (oversize, rate limited) reject before logging; ordering violations reject
// before append; condition violations are logged, then rejected; compliant
// proposals are logged and handed to the orchestrator in the background so
// slow signature collection never blocks admission of other proposals.
func (s *Service) Propose(ctx context.Context, req *ProposalRequest) (*ProposalResult, error) {
	if req.AgentID == "" {
		return nil, fmt.Errorf("agent_id is required")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	if err := s.gate.Admit(req.AgentID, len(req.Payload)); err != nil {
		return nil, err
	}

	scope := s.scope(req.AgentID)
	out, err := s.dispatch(ctx, scope, func() taskResult {
		res, err := s.process(scope, req)
		return taskResult{res: res, err: err}
	})
	if err != nil {
		return nil, err
	}
	return out.res, out.err
}

// dispatch hands run to the scope's single-writer goroutine and waits for the
// result.
func (s *Service) dispatch(ctx context.Context, scope string, run func() taskResult) (taskResult, error) {
	ch, err := s.worker(scope)
	if err != nil {
		return taskResult{}, err
	}

	t := &task{run: run, reply: make(chan taskResult, 1)}
	select {
	case ch <- t:
	case <-ctx.Done():
		return taskResult{}, ctx.Err()
	}

	select {
	case out := <-t.reply:
		return out, nil
	case <-ctx.Done():
		return taskResult{}, ctx.Err()
	}
}

// worker returns the scope's single-writer channel, starting it if needed.
func (s *Service) worker(scope string) (chan *task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	ch, ok := s.workers[scope]
	if !ok {
		ch = make(chan *task, 16)
		s.workers[scope] = ch
		s.wg.Add(1)
		go s.run(ch)
	}
	return ch, nil
}

func (s *Service) run(ch chan *task) {
	defer s.wg.Done()
	for t := range ch {
		t.reply <- t.run()
	}
}

// duplicateResult reports a replayed proposal. The verdict comes from the
// original's stored lifecycle state, so a replayed rejection stays rejected.
func (s *Service) duplicateResult(prior *eventlog.Event) *ProposalResult {
	status := s.orch.Status(prior.ActionID)
	tier := s.policy.Tiers.ForValue(prior.Value)
	return &ProposalResult{
		ActionID:  prior.ActionID,
		Status:    status,
		Compliant: status != orchestrator.StatusRejected,
		Duplicate: true,
		Tier:      tier.String(),
		Threshold: orchestrator.RequiredThreshold(tier),
	}
}

// process handles one proposal. It runs on the scope's writer goroutine, so
// the snapshot-evaluate-append sequence is atomic per scope.
func (s *Service) process(scope string, req *ProposalRequest) (*ProposalResult, error) {
	ctx := context.Background()

	candidate := s.logger.Candidate(&causal.Proposal{
		AgentID:          req.AgentID,
		Type:             req.Type,
		Payload:          req.Payload,
		Value:            req.Value,
		Nonce:            req.Nonce,
		Timestamp:        req.Timestamp,
		Recipient:        req.Recipient,
		DestinationChain: req.DestinationChain,
	})

	// Replay of an already logged proposal: return the prior id unchanged.
	if prior, err := s.store.ByActionID(ctx, candidate.ActionID); err == nil {
		return s.duplicateResult(prior), nil
	} else if !errors.Is(err, eventlog.ErrNotFound) {
		return nil, err
	}

	snapshot, err := s.store.Snapshot(ctx, scope)
	if err != nil {
		return nil, err
	}

	decision := s.engine.Evaluate(snapshot, s.policy, candidate)
	threshold := orchestrator.RequiredThreshold(decision.Tier)

	// Ordering violations never reach the chain: history must not contain a
	// nonce or timestamp regression.
	if !decision.Compliant && decision.FailedCondition == -1 {
		s.audit.Record(candidate, &decision, threshold)
		s.log.Info("proposal rejected before logging",
			zap.String("agent_id", req.AgentID),
			zap.String("rule", decision.Violation.Rule),
		)
		return &ProposalResult{
			ActionID:  candidate.ActionID,
			Status:    orchestrator.StatusRejected,
			Tier:      decision.Tier.String(),
			Threshold: threshold,
			Violation: decision.Violation,
		}, nil
	}

	// The act of proposing is causally significant: log before the verdict is
	// applied, so rejected attempts stay visible to future evaluations.
	logged, dup, err := s.logger.Log(ctx, scope, candidate)
	if err != nil {
		return nil, err
	}
	if dup {
		return s.duplicateResult(logged), nil
	}

	s.audit.Record(logged, &decision, threshold)

	if !decision.Compliant {
		s.orch.SetStatus(logged.ActionID, orchestrator.StatusRejected)
		s.log.Info("proposal rejected by policy",
			zap.String("action_id", logged.ActionID),
			zap.String("agent_id", req.AgentID),
			zap.String("rule", decision.Violation.Rule),
			zap.String("reason", decision.Violation.Reason),
		)
		return &ProposalResult{
			ActionID:  logged.ActionID,
			Status:    orchestrator.StatusRejected,
			Tier:      decision.Tier.String(),
			Threshold: threshold,
			Violation: decision.Violation,
		}, nil
	}

	s.orch.SetStatus(logged.ActionID, orchestrator.StatusCompliant)

	// Signature collection happens off the writer goroutine with no store
	// lock held; a slow collaborator cannot block this scope's next proposal.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.orch.Execute(context.Background(), logged, decision.Tier, req.Recipient); err != nil {
			s.log.Warn("orchestration failed",
				zap.String("action_id", logged.ActionID),
				zap.Error(err),
			)
		}
	}()

	return &ProposalResult{
		ActionID:  logged.ActionID,
		Status:    orchestrator.StatusCompliant,
		Compliant: true,
		Tier:      decision.Tier.String(),
		Threshold: threshold,
	}, nil
}

// UpdateProofRoot replaces the aggregate-key root through the governance
// path. The update itself becomes an auditable event in the governance scope,
// appended on that scope's writer goroutine so concurrent updates cannot race
// the tail-read-then-append sequence.
func (s *Service) UpdateProofRoot(ctx context.Context, subject, newRoot string) (*eventlog.Event, error) {
	out, err := s.dispatch(ctx, GovernanceScope, func() taskResult {
		ev, err := s.appendRootUpdate(subject, newRoot)
		return taskResult{ev: ev, err: err}
	})
	if err != nil {
		return nil, err
	}
	return out.ev, out.err
}

// appendRootUpdate runs on the governance scope's writer goroutine.
func (s *Service) appendRootUpdate(subject, newRoot string) (*eventlog.Event, error) {
	ctx := context.Background()

	var nonce uint64 = 1
	tail, err := s.store.Tail(ctx, GovernanceScope)
	if err != nil {
		return nil, err
	}
	if tail != nil {
		nonce = tail.Nonce + 1
	}

	candidate := s.logger.Candidate(&causal.Proposal{
		AgentID: subject,
		Type:    eventlog.TypeGovernance,
		Payload: []byte("proof_root:" + newRoot),
		Nonce:   nonce,
	})
	logged, _, err := s.logger.Log(ctx, GovernanceScope, candidate)
	if err != nil {
		return nil, err
	}

	s.orch.UpdateProofRoot(newRoot)
	s.log.Info("aggregate-key root updated",
		zap.String("subject", subject),
		zap.String("action_id", logged.ActionID),
	)
	return logged, nil
}

// Close drains the per-scope workers and waits for in-flight orchestration.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, ch := range s.workers {
		close(ch)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
