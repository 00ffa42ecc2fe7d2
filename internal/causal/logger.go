// Package causal implements the Causal Event Logger: it derives action ids,
// enforces ordering and replay protection, and appends accepted proposals to
// the event store. Logging happens before policy evaluation, so rejected
// proposals remain visible to future evaluations.
package causal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"go.uber.org/zap"
)

// Logging errors.
var (
	// ErrPayloadTooLarge is returned when a payload exceeds the configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrNonceRegression is returned when a candidate's nonce is not strictly
	// greater than the scope's last accepted nonce. History never contains a
	// nonce regression because the check runs before append.
	ErrNonceRegression = errors.New("nonce regression")

	// ErrTimestampRegression is returned when a candidate's timestamp is
	// earlier than the previous event's timestamp minus the skew tolerance.
	ErrTimestampRegression = errors.New("timestamp regression")
)

// Proposal is an action submitted by an agent for logging and evaluation.
type Proposal struct {
	AgentID   string
	Type      eventlog.EventType
	Payload   []byte
	Value     uint64 // USD; 0 = unvalued
	Nonce     uint64
	Timestamp time.Time // zero = logger assigns current time

	// Recipient and DestinationChain are risk context carried through to the
	// orchestrator's commitment; they are not part of the chain hash.
	Recipient        string
	DestinationChain uint16
}

// Config holds the logger's limits.
type Config struct {
	MaxPayloadBytes int           // default 4096
	SkewTolerance   time.Duration // default 500ms
}

// Logger appends accepted proposals to the causal event log.
//
// Log is not itself serialised; the proposal pipeline runs one writer per
// agent scope, which is what makes the tail read + append sequence atomic
// per scope.
type Logger struct {
	store eventlog.Store
	cfg   Config
	log   *zap.Logger
}

// NewLogger creates a Logger over the given store.
func NewLogger(store eventlog.Store, cfg Config, log *zap.Logger) *Logger {
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = 4096
	}
	if cfg.SkewTolerance == 0 {
		cfg.SkewTolerance = 500 * time.Millisecond
	}
	return &Logger{store: store, cfg: cfg, log: log}
}

// Candidate builds the event a proposal would append, without appending it.
// The policy engine evaluates this candidate against a chain snapshot.
func (l *Logger) Candidate(p *Proposal) *eventlog.Event {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	digest := eventlog.DigestPayload(p.Payload)
	return &eventlog.Event{
		ActionID:      eventlog.ComputeActionID(p.Nonce, ts, p.AgentID, digest),
		AgentID:       p.AgentID,
		Type:          p.Type,
		Nonce:         p.Nonce,
		Timestamp:     ts,
		PayloadDigest: digest,
		Value:         p.Value,
	}
}

// Log appends a candidate event to its agent's chain.
//
// Replay protection: if an event with the same action id was already logged,
// the previously issued event is returned unchanged — a network retry of an
// accepted proposal is idempotent, not an error. Ordering violations are
// rejected before append. A non-nil error wrapping eventlog.ErrUnavailable
// means the durability layer failed and the caller should retry with backoff.
func (l *Logger) Log(ctx context.Context, scope string, candidate *eventlog.Event) (*eventlog.Event, bool, error) {
	if prior, err := l.store.ByActionID(ctx, candidate.ActionID); err == nil {
		l.log.Debug("replayed proposal, returning prior event",
			zap.String("action_id", prior.ActionID),
			zap.String("agent_id", prior.AgentID),
		)
		return prior, true, nil
	} else if !errors.Is(err, eventlog.ErrNotFound) {
		return nil, false, err
	}

	tail, err := l.store.Tail(ctx, scope)
	if err != nil {
		return nil, false, err
	}
	if tail != nil {
		if candidate.Nonce <= tail.Nonce {
			return nil, false, fmt.Errorf("nonce %d <= last %d: %w",
				candidate.Nonce, tail.Nonce, ErrNonceRegression)
		}
		if candidate.Timestamp.Before(tail.Timestamp.Add(-l.cfg.SkewTolerance)) {
			return nil, false, fmt.Errorf("timestamp %s predates %s beyond skew tolerance: %w",
				candidate.Timestamp.Format(time.RFC3339Nano),
				tail.Timestamp.Format(time.RFC3339Nano),
				ErrTimestampRegression)
		}
	}

	appended, err := l.store.Append(ctx, scope, candidate)
	if err != nil {
		return nil, false, err
	}
	return appended, false, nil
}

// CheckPayload validates the raw payload size against the configured cap.
func (l *Logger) CheckPayload(payload []byte) error {
	if len(payload) > l.cfg.MaxPayloadBytes {
		return fmt.Errorf("%d bytes (max %d): %w", len(payload), l.cfg.MaxPayloadBytes, ErrPayloadTooLarge)
	}
	return nil
}
