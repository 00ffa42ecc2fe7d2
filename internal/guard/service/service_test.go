package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/causalguard-labs/causalguard/internal/causal"
	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/gateway"
	"github.com/causalguard-labs/causalguard/internal/orchestrator"
	"github.com/causalguard-labs/causalguard/internal/policy"
	"github.com/causalguard-labs/causalguard/internal/signer"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, conditions ...policy.Condition) (*Service, *eventlog.MemoryStore) {
	t.Helper()
	store := eventlog.NewMemory()
	log := zap.NewNop()
	svc := New(
		gateway.New(gateway.Config{}),
		causal.NewLogger(store, causal.Config{}, log),
		policy.NewEngine(0),
		&policy.Policy{
			Name:       "test",
			Conditions: conditions,
			Tiers:      policy.DefaultBreakpoints,
		},
		orchestrator.New(signer.NewStaticCollector(log), nil, orchestrator.Config{ProofRoot: "root-0"}, log),
		store,
		PerAgent,
		log,
	)
	t.Cleanup(svc.Close)
	return svc, store
}

func req(agent string, nonce uint64, value uint64) *ProposalRequest {
	return &ProposalRequest{
		AgentID:   agent,
		Type:      eventlog.TypeSignatureRequest,
		Payload:   []byte(fmt.Sprintf("transfer %d", nonce)),
		Value:     value,
		Nonce:     nonce,
		Timestamp: time.Unix(1700000000, 0).UTC().Add(time.Duration(nonce) * time.Second),
		Recipient: "0xabc",
	}
}

func TestProposeCompliantEndToEnd(t *testing.T) {
	svc, store := newTestService(t)

	res, err := svc.Propose(context.Background(), req("agent-1", 1, 50))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !res.Compliant {
		t.Fatalf("expected compliant, got violation %v", res.Violation)
	}
	if res.Tier != "low" {
		t.Errorf("tier = %q, want low", res.Tier)
	}
	if res.Threshold != 2 {
		t.Errorf("threshold = %d, want 2", res.Threshold)
	}

	if n, _ := store.Len(context.Background(), "agent-1"); n != 1 {
		t.Fatalf("chain length = %d, want 1", n)
	}

	// Close waits for the background orchestration; the static collector
	// grants exactly the threshold, so the action ends up signed.
	svc.Close()
	if got := svc.Orchestrator().Status(res.ActionID); got != orchestrator.StatusSigned {
		t.Errorf("status after orchestration = %q, want %q", got, orchestrator.StatusSigned)
	}
}

func TestProposeNonceRegressionNotLogged(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Propose(ctx, req("agent-1", 5, 50)); err != nil {
		t.Fatalf("first propose: %v", err)
	}

	res, err := svc.Propose(ctx, req("agent-1", 3, 50))
	if err != nil {
		t.Fatalf("regressing propose: %v", err)
	}
	if res.Compliant {
		t.Fatal("expected rejection for nonce regression")
	}
	if res.Violation == nil || res.Violation.Rule != policy.RuleNonceMonotonicity {
		t.Fatalf("violation = %+v, want rule %q", res.Violation, policy.RuleNonceMonotonicity)
	}
	if res.Status != orchestrator.StatusRejected {
		t.Errorf("status = %q, want rejected", res.Status)
	}

	// Ordering failures must never reach the chain.
	if n, _ := store.Len(ctx, "agent-1"); n != 1 {
		t.Errorf("chain length = %d, want 1", n)
	}
}

func TestProposeConditionViolationLoggedButRejected(t *testing.T) {
	svc, store := newTestService(t, &policy.MaxDailyOutflow{Cap: 100})
	ctx := context.Background()

	res, err := svc.Propose(ctx, req("agent-1", 1, 1500))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if res.Compliant {
		t.Fatal("expected condition rejection")
	}
	if res.Violation.Rule != "max_daily_outflow" {
		t.Errorf("rule = %q, want max_daily_outflow", res.Violation.Rule)
	}
	if res.Tier != "high" {
		t.Errorf("tier = %q, want high (tier is independent of the verdict)", res.Tier)
	}

	// The rejected attempt is still part of history.
	if n, _ := store.Len(ctx, "agent-1"); n != 1 {
		t.Fatalf("chain length = %d, want 1", n)
	}
	ev, err := store.ByActionID(ctx, res.ActionID)
	if err != nil {
		t.Fatalf("rejected attempt not in log: %v", err)
	}
	if ev.Value != 1500 {
		t.Errorf("logged value = %d, want 1500", ev.Value)
	}
}

func TestProposeDuplicateReturnsPrior(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, err := svc.Propose(ctx, req("agent-1", 1, 50))
	if err != nil {
		t.Fatalf("first propose: %v", err)
	}
	second, err := svc.Propose(ctx, req("agent-1", 1, 50))
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate result")
	}
	if second.ActionID != first.ActionID {
		t.Errorf("duplicate action id %q != original %q", second.ActionID, first.ActionID)
	}
	if n, _ := store.Len(ctx, "agent-1"); n != 1 {
		t.Errorf("chain length = %d, want 1", n)
	}
}

func TestProposeDuplicateOfRejectedStaysRejected(t *testing.T) {
	svc, store := newTestService(t, &policy.MaxDailyOutflow{Cap: 100})
	ctx := context.Background()

	first, err := svc.Propose(ctx, req("agent-1", 1, 1500))
	if err != nil {
		t.Fatalf("first propose: %v", err)
	}
	if first.Compliant {
		t.Fatal("expected condition rejection")
	}

	second, err := svc.Propose(ctx, req("agent-1", 1, 1500))
	if err != nil {
		t.Fatalf("resubmission: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate result")
	}
	if second.Compliant {
		t.Error("replayed rejection must not report compliant")
	}
	if second.Status != orchestrator.StatusRejected {
		t.Errorf("status = %q, want rejected", second.Status)
	}
	if second.Tier != "high" || second.Threshold != 5 {
		t.Errorf("tier/threshold = %q/%d, want high/5", second.Tier, second.Threshold)
	}
	if n, _ := store.Len(ctx, "agent-1"); n != 1 {
		t.Errorf("chain length = %d, want 1", n)
	}
}

func TestProposeRateLimited(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		if _, err := svc.Propose(ctx, req("agent-1", i, 50)); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}
	_, err := svc.Propose(ctx, req("agent-1", 11, 50))
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("11th proposal err = %v, want ErrRateLimited", err)
	}
}

func TestProposeOversizedPayload(t *testing.T) {
	svc, _ := newTestService(t)

	r := req("agent-1", 1, 50)
	r.Payload = make([]byte, 4097)
	_, err := svc.Propose(context.Background(), r)
	if !errors.Is(err, gateway.ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Propose(ctx, req("agent-a", 1, 50)); err != nil {
		t.Fatalf("agent-a: %v", err)
	}
	res, err := svc.Propose(ctx, req("agent-b", 1, 50))
	if err != nil {
		t.Fatalf("agent-b: %v", err)
	}
	if !res.Compliant {
		t.Fatal("agent-b nonce 1 must not collide with agent-a's chain")
	}
	for _, agent := range []string{"agent-a", "agent-b"} {
		if n, _ := store.Len(ctx, agent); n != 1 {
			t.Errorf("chain %s length = %d, want 1", agent, n)
		}
	}
}

func TestUpdateProofRoot(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	ev, err := svc.UpdateProofRoot(ctx, "ops@example.com", "root-1")
	if err != nil {
		t.Fatalf("UpdateProofRoot: %v", err)
	}
	if ev.Type != eventlog.TypeGovernance {
		t.Errorf("event type = %q, want governance", ev.Type)
	}
	if got := svc.Orchestrator().ProofRoot(); got != "root-1" {
		t.Errorf("proof root = %q, want root-1", got)
	}
	if n, _ := store.Len(ctx, GovernanceScope); n != 1 {
		t.Errorf("governance chain length = %d, want 1", n)
	}

	// Consecutive updates chain with increasing nonces.
	ev2, err := svc.UpdateProofRoot(ctx, "ops@example.com", "root-2")
	if err != nil {
		t.Fatalf("second UpdateProofRoot: %v", err)
	}
	if ev2.Nonce != ev.Nonce+1 {
		t.Errorf("second nonce = %d, want %d", ev2.Nonce, ev.Nonce+1)
	}
}

func TestUpdateProofRootConcurrent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	const updates = 64
	var wg sync.WaitGroup
	errs := make(chan error, updates)
	for i := 0; i < updates; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.UpdateProofRoot(ctx, "ops@example.com", fmt.Sprintf("root-%d", i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("UpdateProofRoot: %v", err)
	}

	// Every update must land, in a single gap-free nonce sequence.
	chain, err := store.Snapshot(ctx, GovernanceScope)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(chain) != updates {
		t.Fatalf("governance chain length = %d, want %d", len(chain), updates)
	}
	for i, ev := range chain {
		if ev.Nonce != uint64(i+1) {
			t.Fatalf("nonce at index %d = %d, want %d", i, ev.Nonce, i+1)
		}
	}
	if err := store.Verify(ctx, GovernanceScope); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestAuditRecordsDecisions(t *testing.T) {
	svc, _ := newTestService(t, &policy.MaxDailyOutflow{Cap: 100})
	ctx := context.Background()

	if _, err := svc.Propose(ctx, req("agent-1", 1, 50)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := svc.Propose(ctx, req("agent-1", 2, 1500)); err != nil {
		t.Fatalf("propose: %v", err)
	}

	recent, err := svc.Audit().Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("audit records = %d, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Compliant {
		t.Error("newest record should be the rejection")
	}
	if recent[0].Rule != "max_daily_outflow" {
		t.Errorf("rule = %q, want max_daily_outflow", recent[0].Rule)
	}
	if !recent[1].Compliant {
		t.Error("older record should be compliant")
	}
	if recent[0].ID == recent[1].ID {
		t.Error("audit record ids must be unique")
	}
}

func TestDecisionLogRingWraps(t *testing.T) {
	d := NewDecisionLog(4)
	for i := 0; i < 6; i++ {
		d.Record(&eventlog.Event{ActionID: fmt.Sprintf("a-%d", i), AgentID: "x"},
			&policy.Decision{Compliant: true, Tier: policy.TierLow}, 2)
	}
	recent, err := d.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("records = %d, want 4", len(recent))
	}
	if recent[0].ActionID != "a-5" {
		t.Errorf("newest = %q, want a-5", recent[0].ActionID)
	}
	if recent[3].ActionID != "a-2" {
		t.Errorf("oldest = %q, want a-2", recent[3].ActionID)
	}
}

func TestProposeAfterClose(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Close()
	_, err := svc.Propose(context.Background(), req("agent-1", 1, 50))
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
