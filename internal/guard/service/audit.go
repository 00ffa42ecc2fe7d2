package service

import (
	"context"
	"sync"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/policy"
	"github.com/google/uuid"
)

// AuditLog records policy verdicts and serves them back for inspection.
// DecisionLog keeps them in memory; PostgresAudit persists them.
type AuditLog interface {
	Record(ev *eventlog.Event, dec *policy.Decision, threshold uint16)
	Recent(ctx context.Context, n int) ([]DecisionRecord, error)
}

// DecisionRecord captures one policy verdict for audit queries.
type DecisionRecord struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	AgentID   string    `json:"agent_id"`
	Compliant bool      `json:"compliant"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Tier      string    `json:"tier"`
	Threshold uint16    `json:"threshold"`
	DecidedAt time.Time `json:"decided_at"`
}

// DecisionLog is a fixed-size ring of the most recent policy decisions.
type DecisionLog struct {
	mu      sync.RWMutex
	records []DecisionRecord
	next    int
	filled  bool
}

// NewDecisionLog creates a ring holding the last n decisions.
func NewDecisionLog(n int) *DecisionLog {
	if n <= 0 {
		n = 256
	}
	return &DecisionLog{records: make([]DecisionRecord, n)}
}

// newRecord builds the audit row for one verdict.
func newRecord(ev *eventlog.Event, dec *policy.Decision, threshold uint16) DecisionRecord {
	rec := DecisionRecord{
		ID:        uuid.NewString(),
		ActionID:  ev.ActionID,
		AgentID:   ev.AgentID,
		Compliant: dec.Compliant,
		Tier:      dec.Tier.String(),
		Threshold: threshold,
		DecidedAt: time.Now().UTC(),
	}
	if dec.Violation != nil {
		rec.Rule = dec.Violation.Rule
		rec.Reason = dec.Violation.Reason
	}
	return rec
}

// Record appends a decision for the given candidate event.
func (d *DecisionLog) Record(ev *eventlog.Event, dec *policy.Decision, threshold uint16) {
	rec := newRecord(ev, dec, threshold)

	d.mu.Lock()
	d.records[d.next] = rec
	d.next++
	if d.next == len(d.records) {
		d.next = 0
		d.filled = true
	}
	d.mu.Unlock()
}

// Recent returns up to n decisions, newest first.
func (d *DecisionLog) Recent(_ context.Context, n int) ([]DecisionRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	size := d.next
	if d.filled {
		size = len(d.records)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]DecisionRecord, 0, n)
	for i := 1; i <= n; i++ {
		idx := (d.next - i + len(d.records)) % len(d.records)
		out = append(out, d.records[idx])
	}
	return out, nil
}
