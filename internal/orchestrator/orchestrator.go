// Package orchestrator drives a compliant action from policy decision to
// signature collection and on-chain submission, and tracks each action's
// lifecycle state. The tier-to-threshold mapping lives here and nowhere else.
package orchestrator

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/policy"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

// ErrThresholdUnmet is returned when signature collection does not reach the
// required threshold before the configured deadline. The action's event stays
// in history; the proposal may be resubmitted with a new nonce.
var ErrThresholdUnmet = errors.New("signature threshold unmet")

// Status is an action's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"   // logged, awaiting policy evaluation
	StatusCompliant Status = "compliant" // policy passed, awaiting signatures
	StatusRejected  Status = "rejected"  // policy violation
	StatusSigned    Status = "signed"    // signatures collected
	StatusSubmitted Status = "submitted" // handed to the on-chain verifier
	StatusConfirmed Status = "confirmed" // verifier accepted
	StatusFailed    Status = "failed"    // collection or submission error
	StatusUnknown   Status = "unknown"
)

// SignatureRequest is what the external signature collaborator receives.
// The threshold is derived from the risk tier by RequiredThreshold; it is
// never caller-supplied.
type SignatureRequest struct {
	ActionID      string `json:"action_id"`
	PayloadDigest string `json:"payload_digest"`
	Commitment    string `json:"commitment"`
	ProofRoot     string `json:"proof_root"`
	Threshold     uint16 `json:"threshold"`
}

// SignatureBundle is the collaborator's successful response: at least
// Threshold independent signatures plus an aggregate proof, both opaque here.
type SignatureBundle struct {
	SignerCount    uint16 `json:"signer_count"`
	AggregateProof []byte `json:"aggregate_proof"`
}

// Collector is the external signature collaborator. Collect blocks until the
// bundle is ready, the context deadline passes, or collection fails.
type Collector interface {
	Collect(ctx context.Context, req SignatureRequest) (*SignatureBundle, error)
}

// Submission carries the minimum fields the on-chain verifier checks: a
// commitment binding (amount, recipient, nonce), the signer count, and the
// claimed aggregate-key root.
type Submission struct {
	Commitment  string `json:"commitment"`
	SignerCount uint16 `json:"signer_count"`
	ProofRoot   string `json:"proof_root"`
	Amount      uint64 `json:"amount"`
	Recipient   string `json:"recipient"`
}

// Verifier is the on-chain verifier collaborator.
type Verifier interface {
	Submit(ctx context.Context, sub Submission) (txID string, err error)
}

// Config holds orchestration parameters.
type Config struct {
	// CollectionDeadline bounds how long signature collection may take for
	// one action. Default 2 minutes.
	CollectionDeadline time.Duration
	// ProofRoot is the aggregate-key root presented to the collaborators.
	// Updated only through the authenticated governance path.
	ProofRoot string
}

// Orchestrator requests signatures for compliant actions and tracks states.
type Orchestrator struct {
	collector Collector
	verifier  Verifier // nil = collection only, no chain submission
	deadline  time.Duration
	log       *zap.Logger

	mu        sync.RWMutex
	proofRoot string
	states    map[string]Status

	metricsRecord func(success bool) // nil = no metrics
}

// New creates an Orchestrator.
func New(collector Collector, verifier Verifier, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.CollectionDeadline == 0 {
		cfg.CollectionDeadline = 2 * time.Minute
	}
	return &Orchestrator{
		collector: collector,
		verifier:  verifier,
		deadline:  cfg.CollectionDeadline,
		log:       log,
		proofRoot: cfg.ProofRoot,
		states:    make(map[string]Status),
	}
}

// SetMetricsRecord sets a callback invoked with each collection result.
func (o *Orchestrator) SetMetricsRecord(fn func(success bool)) {
	o.metricsRecord = fn
}

func (o *Orchestrator) recordCollection(success bool) {
	if o.metricsRecord != nil {
		o.metricsRecord(success)
	}
}

// SetStatus records an action's lifecycle state.
func (o *Orchestrator) SetStatus(actionID string, s Status) {
	o.mu.Lock()
	o.states[actionID] = s
	o.mu.Unlock()
}

// Status returns an action's current lifecycle state.
func (o *Orchestrator) Status(actionID string) Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if s, ok := o.states[actionID]; ok {
		return s
	}
	return StatusUnknown
}

// ProofRoot returns the current aggregate-key root.
func (o *Orchestrator) ProofRoot() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.proofRoot
}

// UpdateProofRoot replaces the aggregate-key root. Callers must have passed
// the governance authentication gate; the caller is also responsible for
// appending the governance event that makes the update auditable.
func (o *Orchestrator) UpdateProofRoot(root string) {
	o.mu.Lock()
	o.proofRoot = root
	o.mu.Unlock()
}

// Commitment binds (amount, recipient, nonce) to a payload digest:
// SHA3-256(nonce || payload_digest || amount || recipient).
func Commitment(nonce uint64, payloadDigest string, amount uint64, recipient string) string {
	var buf [8]byte
	h := sha3.New256()
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	h.Write([]byte(payloadDigest))
	binary.BigEndian.PutUint64(buf[:], amount)
	h.Write(buf[:])
	h.Write([]byte(recipient))
	return hex.EncodeToString(h.Sum(nil))
}

// Execute takes a compliant action through signature collection and, when a
// verifier is configured, on-chain submission.
//
// The caller invokes Execute after the event is appended and the decision is
// made; no event store lock is held while signatures are awaited, so slow
// collection cannot block admission of unrelated proposals. A timed-out
// action keeps its event in history — logging happened before any possibility
// of timeout — and is reported as ErrThresholdUnmet.
func (o *Orchestrator) Execute(ctx context.Context, event *eventlog.Event, tier policy.RiskTier, recipient string) error {
	threshold := RequiredThreshold(tier)
	req := SignatureRequest{
		ActionID:      event.ActionID,
		PayloadDigest: event.PayloadDigest,
		Commitment:    Commitment(event.Nonce, event.PayloadDigest, event.Value, recipient),
		ProofRoot:     o.ProofRoot(),
		Threshold:     threshold,
	}

	o.log.Info("requesting signatures",
		zap.String("action_id", event.ActionID),
		zap.String("tier", tier.String()),
		zap.Uint16("threshold", threshold),
	)

	cctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	bundle, err := o.collector.Collect(cctx, req)
	if err != nil {
		o.SetStatus(event.ActionID, StatusFailed)
		o.recordCollection(false)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("collection deadline passed: %w", ErrThresholdUnmet)
		}
		return fmt.Errorf("collect signatures: %w", err)
	}
	if bundle.SignerCount < threshold {
		o.SetStatus(event.ActionID, StatusFailed)
		o.recordCollection(false)
		return fmt.Errorf("%d of %d signatures: %w", bundle.SignerCount, threshold, ErrThresholdUnmet)
	}
	o.SetStatus(event.ActionID, StatusSigned)
	o.recordCollection(true)

	if o.verifier == nil {
		return nil
	}

	o.SetStatus(event.ActionID, StatusSubmitted)
	txID, err := o.verifier.Submit(ctx, Submission{
		Commitment:  req.Commitment,
		SignerCount: bundle.SignerCount,
		ProofRoot:   req.ProofRoot,
		Amount:      event.Value,
		Recipient:   recipient,
	})
	if err != nil {
		o.SetStatus(event.ActionID, StatusFailed)
		return fmt.Errorf("submit to verifier: %w", err)
	}

	o.SetStatus(event.ActionID, StatusConfirmed)
	o.log.Info("action confirmed",
		zap.String("action_id", event.ActionID),
		zap.String("tx_id", txID),
	)
	return nil
}
