package signer

import (
	"context"

	"github.com/causalguard-labs/causalguard/internal/orchestrator"
	"go.uber.org/zap"
)

// StaticCollector grants every request exactly its required threshold of
// simulated signatures. Used when no collaborator URL is configured, so the
// daemon and the agent simulator can run end to end without validator
// infrastructure.
type StaticCollector struct {
	logger *zap.Logger
}

// NewStaticCollector creates a StaticCollector.
func NewStaticCollector(logger *zap.Logger) *StaticCollector {
	return &StaticCollector{logger: logger}
}

// Collect implements orchestrator.Collector.
func (s *StaticCollector) Collect(ctx context.Context, req orchestrator.SignatureRequest) (*orchestrator.SignatureBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Info("static collector granting signatures",
		zap.String("action_id", req.ActionID),
		zap.Uint16("threshold", req.Threshold),
	)
	return &orchestrator.SignatureBundle{
		SignerCount:    req.Threshold,
		AggregateProof: []byte("static-aggregate-proof"),
	}, nil
}
