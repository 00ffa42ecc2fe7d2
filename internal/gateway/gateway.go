// Package gateway is the system's external-facing admission boundary. It
// rejects oversized and over-rate proposals before they reach the causal
// logger, so throttled noise never pollutes history.
package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Admission errors. Both reject a proposal before logging.
var (
	ErrPayloadTooLarge = errors.New("payload exceeds size cap")
	ErrRateLimited     = errors.New("proposal rate limit exceeded")
)

// Config holds the gateway's admission parameters.
type Config struct {
	MaxPayloadBytes int           // default 4096
	MaxPerWindow    int           // accepted proposals per window per agent; default 10
	Window          time.Duration // default 60s
}

// Gateway enforces per-agent sliding-window rate limits and payload caps.
//
// The window slides: a proposal at second 61 is compared against acceptances
// in the previous 60 seconds, not against a fixed-minute bucket. Rejected
// proposals do not count against the limit.
type Gateway struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	agents map[string]*agentWindow
}

type agentWindow struct {
	accepted []time.Time
	lastSeen time.Time
}

// New creates a Gateway with the given configuration.
func New(cfg Config) *Gateway {
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 4096
	}
	if cfg.MaxPerWindow == 0 {
		cfg.MaxPerWindow = 10
	}
	if cfg.Window == 0 {
		cfg.Window = time.Minute
	}
	return &Gateway{
		cfg:    cfg,
		now:    time.Now,
		agents: make(map[string]*agentWindow),
	}
}

// Admit decides whether a proposal may proceed to the logger. On success the
// acceptance is recorded against the agent's window atomically, so two
// concurrent submissions cannot both squeeze under the limit.
func (g *Gateway) Admit(agentID string, payloadSize int) error {
	if payloadSize > g.cfg.MaxPayloadBytes {
		return fmt.Errorf("%d bytes (max %d): %w", payloadSize, g.cfg.MaxPayloadBytes, ErrPayloadTooLarge)
	}

	now := g.now()
	cutoff := now.Add(-g.cfg.Window)

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.agents[agentID]
	if !ok {
		w = &agentWindow{}
		g.agents[agentID] = w
	}
	w.lastSeen = now

	// Drop acceptances that slid out of the window.
	keep := w.accepted[:0]
	for _, ts := range w.accepted {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	w.accepted = keep

	if len(w.accepted) >= g.cfg.MaxPerWindow {
		return fmt.Errorf("%d proposals in the last %s: %w", len(w.accepted), g.cfg.Window, ErrRateLimited)
	}

	w.accepted = append(w.accepted, now)
	return nil
}

// StartCleanup launches a goroutine that evicts agents idle for longer than
// ten windows. It stops when stop is closed.
func (g *Gateway) StartCleanup(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				idle := g.now().Add(-10 * g.cfg.Window)
				g.mu.Lock()
				for id, w := range g.agents {
					if w.lastSeen.Before(idle) {
						delete(g.agents, id)
					}
				}
				g.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}
