package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/causalguard-labs/causalguard/internal/causal"
	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/gateway"
	"github.com/causalguard-labs/causalguard/internal/guard/handler"
	"github.com/causalguard-labs/causalguard/internal/guard/service"
	"github.com/causalguard-labs/causalguard/internal/identity"
	"github.com/causalguard-labs/causalguard/internal/orchestrator"
	"github.com/causalguard-labs/causalguard/internal/policy"
	"github.com/causalguard-labs/causalguard/internal/signer"
	"github.com/causalguard-labs/causalguard/pkg/client"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// startGuard runs a full guard stack on an httptest server.
func startGuard(t *testing.T, conditions ...policy.Condition) (*httptest.Server, *identity.TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := eventlog.NewMemory()
	log := zap.NewNop()
	svc := service.New(
		gateway.New(gateway.Config{}),
		causal.NewLogger(store, causal.Config{}, log),
		policy.NewEngine(0),
		&policy.Policy{Name: "test", Conditions: conditions, Tiers: policy.DefaultBreakpoints},
		orchestrator.New(signer.NewStaticCollector(log), nil, orchestrator.Config{ProofRoot: "root-0"}, log),
		store,
		service.PerAgent,
		log,
	)
	t.Cleanup(svc.Close)

	tokens := identity.NewTokenIssuer([]byte("secret"), "https://guard.test", time.Minute)

	r := gin.New()
	v1 := r.Group("/api/v1")
	handler.NewProposalHandler(svc, log).Register(v1)
	handler.NewChainHandler(store, log).Register(v1)
	handler.NewGovernanceHandler(svc, tokens, log).Register(v1)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, tokens
}

func proposal(nonce uint64, value uint64) client.Proposal {
	return client.Proposal{
		AgentID:     "agent-1",
		ActionType:  "signature_request",
		Payload:     []byte("transfer"),
		Value:       value,
		Nonce:       nonce,
		TimestampMs: time.Now().UnixMilli(),
		Recipient:   "0xabc",
	}
}

func TestClientProposeAndInspect(t *testing.T) {
	srv, _ := startGuard(t)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	res, err := c.Propose(ctx, proposal(1, 50))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if !res.Compliant || res.Threshold != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	detail, err := c.Action(ctx, res.ActionID)
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if detail.Event.Nonce != 1 {
		t.Errorf("nonce = %d, want 1", detail.Event.Nonce)
	}

	ov, err := c.Chain(ctx, "agent-1")
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if ov.Events != 1 {
		t.Errorf("events = %d, want 1", ov.Events)
	}
	if ov.Root == eventlog.GenesisHash {
		t.Error("root should have advanced past genesis")
	}

	vr, err := c.VerifyChain(ctx, "agent-1")
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !vr.Valid {
		t.Errorf("chain should verify: %s", vr.Error)
	}

	ev, err := c.Event(ctx, "agent-1", 0)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if ev.ActionID != res.ActionID {
		t.Errorf("event action id mismatch")
	}

	scopes, err := c.Scopes(ctx)
	if err != nil {
		t.Fatalf("Scopes: %v", err)
	}
	if len(scopes) != 1 || scopes[0] != "agent-1" {
		t.Errorf("scopes = %v", scopes)
	}
}

func TestClientProposeRejected(t *testing.T) {
	srv, _ := startGuard(t, &policy.MaxDailyOutflow{Cap: 100})
	c := client.MustNew(srv.URL)

	res, err := c.Propose(context.Background(), proposal(1, 1500))
	if !errors.Is(err, client.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if res == nil || res.Violation == nil {
		t.Fatal("rejection should carry the violation")
	}
	if res.Violation.Rule != "max_daily_outflow" {
		t.Errorf("rule = %q", res.Violation.Rule)
	}
}

func TestClientRateLimited(t *testing.T) {
	srv, _ := startGuard(t)
	c := client.MustNew(srv.URL)
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		if _, err := c.Propose(ctx, proposal(i, 50)); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}
	_, err := c.Propose(ctx, proposal(11, 50))
	if !errors.Is(err, client.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestClientActionNotFound(t *testing.T) {
	srv, _ := startGuard(t)
	c := client.MustNew(srv.URL)

	_, err := c.Action(context.Background(), "deadbeef")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestClientGovernance(t *testing.T) {
	srv, tokens := startGuard(t)

	token, err := tokens.Issue("ops@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	c := client.MustNew(srv.URL, client.WithGovernanceToken(token))

	if err := c.UpdateProofRoot(context.Background(), "root-1"); err != nil {
		t.Fatalf("UpdateProofRoot: %v", err)
	}

	// Without a token the same call is refused.
	anon := client.MustNew(srv.URL)
	if err := anon.UpdateProofRoot(context.Background(), "root-2"); err == nil {
		t.Fatal("expected unauthorized error")
	}
}
