package gateway

import (
	"errors"
	"testing"
	"time"
)

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func newTestGateway() (*Gateway, *time.Time) {
	g := New(Config{})
	now, clock := fakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	g.now = clock
	return g, now
}

func TestAdmit_payloadCap(t *testing.T) {
	g, _ := newTestGateway()

	if err := g.Admit("agent-1", 4096); err != nil {
		t.Errorf("4096 bytes should be admitted: %v", err)
	}
	if err := g.Admit("agent-1", 4097); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestAdmit_eleventhProposalRejected(t *testing.T) {
	g, now := newTestGateway()

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		if err := g.Admit("agent-1", 100); err != nil {
			t.Fatalf("proposal %d should be admitted: %v", i+1, err)
		}
	}

	*now = now.Add(time.Second)
	if err := g.Admit("agent-1", 100); !errors.Is(err, ErrRateLimited) {
		t.Errorf("11th proposal within 60s: expected ErrRateLimited, got %v", err)
	}
}

func TestAdmit_windowSlides(t *testing.T) {
	g, now := newTestGateway()

	// Fill the window in the first 10 seconds.
	for i := 0; i < 10; i++ {
		*now = now.Add(time.Second)
		if err := g.Admit("agent-1", 100); err != nil {
			t.Fatal(err)
		}
	}

	// 30s later the window is still full.
	*now = now.Add(30 * time.Second)
	if err := g.Admit("agent-1", 100); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("window should still be full at +40s: %v", err)
	}

	// Once the earliest acceptance slides out, admission resumes — sliding
	// window, not a fixed bucket.
	*now = now.Add(31 * time.Second)
	if err := g.Admit("agent-1", 100); err != nil {
		t.Errorf("proposal after the window slid should be admitted: %v", err)
	}
}

func TestAdmit_rejectionsDoNotCount(t *testing.T) {
	g, now := newTestGateway()

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Millisecond)
		_ = g.Admit("agent-1", 100)
	}

	// Hammer the full window; none of these should extend it.
	for i := 0; i < 50; i++ {
		*now = now.Add(time.Millisecond)
		_ = g.Admit("agent-1", 100)
	}

	w := g.agents["agent-1"]
	if len(w.accepted) != 10 {
		t.Errorf("rejected proposals counted against the window: %d recorded", len(w.accepted))
	}
}

func TestAdmit_agentsIndependent(t *testing.T) {
	g, now := newTestGateway()

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Millisecond)
		_ = g.Admit("agent-1", 100)
	}

	if err := g.Admit("agent-2", 100); err != nil {
		t.Errorf("agent-2 should not be throttled by agent-1's window: %v", err)
	}
}

func TestAdmit_oversizedDoesNotTouchWindow(t *testing.T) {
	g, _ := newTestGateway()

	_ = g.Admit("agent-1", 1 << 20)
	if _, ok := g.agents["agent-1"]; ok {
		t.Error("oversized proposal should be rejected before the window is touched")
	}
}
