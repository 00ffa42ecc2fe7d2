package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/causalguard-labs/causalguard/internal/eventlog"
	"github.com/causalguard-labs/causalguard/internal/policy"
)

// PostgresAudit persists decision records to the decision_audit table so the
// verdict history survives restarts. It implements AuditLog.
type PostgresAudit struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresAudit creates a PostgresAudit backed by the given pool.
func NewPostgresAudit(pool *pgxpool.Pool, logger *zap.Logger) *PostgresAudit {
	return &PostgresAudit{pool: pool, logger: logger}
}

// Record inserts the verdict. It runs on a scope's writer goroutine, so a
// failed insert is logged and dropped rather than failing the proposal; the
// chain itself remains the authoritative history.
func (a *PostgresAudit) Record(ev *eventlog.Event, dec *policy.Decision, threshold uint16) {
	rec := newRecord(ev, dec, threshold)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.pool.Exec(ctx,
		`INSERT INTO decision_audit
		   (id, action_id, agent_id, compliant, rule, reason, tier, threshold, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.ActionID, rec.AgentID, rec.Compliant,
		rec.Rule, rec.Reason, rec.Tier, int16(rec.Threshold), rec.DecidedAt,
	)
	if err != nil {
		a.logger.Error("decision audit insert failed",
			zap.String("action_id", rec.ActionID),
			zap.Error(err),
		)
	}
}

// Recent returns up to n decisions, newest first.
func (a *PostgresAudit) Recent(ctx context.Context, n int) ([]DecisionRecord, error) {
	if n <= 0 {
		n = 50
	}

	rows, err := a.pool.Query(ctx,
		`SELECT id, action_id, agent_id, compliant, rule, reason, tier, threshold, decided_at
		   FROM decision_audit
		  ORDER BY decided_at DESC
		  LIMIT $1`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query decision audit: %w: %w", err, eventlog.ErrUnavailable)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var threshold int16
		if err := rows.Scan(
			&rec.ID, &rec.ActionID, &rec.AgentID, &rec.Compliant,
			&rec.Rule, &rec.Reason, &rec.Tier, &threshold, &rec.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision audit row: %w", err)
		}
		rec.Threshold = uint16(threshold)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision audit rows: %w", err)
	}
	return out, nil
}
