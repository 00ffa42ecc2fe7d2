package eventlog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists causal event chains to a PostgreSQL database.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresStore backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// scopeLockKey derives a stable advisory lock key for a scope so that appends
// to different scopes do not serialise against each other.
func scopeLockKey(scope string) int64 {
	h := fnv.New64a()
	h.Write([]byte(scope))
	return int64(h.Sum64())
}

// Append implements Store.
// It acquires a per-scope PostgreSQL advisory lock, reads the chain tail,
// computes the new event hash, and inserts it — all in a single transaction.
func (s *PostgresStore) Append(ctx context.Context, scope string, e *Event) (*Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w: %w", err, ErrUnavailable)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The lock is released automatically when the transaction ends.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", scopeLockKey(scope)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w: %w", err, ErrUnavailable)
	}

	// Idempotency: a retried proposal maps to the same action id.
	if prior, err := s.scanOne(ctx, tx,
		"WHERE action_id = $1", e.ActionID,
	); err == nil {
		return prior, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	prevIdx := -1
	prevHash := GenesisHash
	err = tx.QueryRow(ctx,
		"SELECT idx, hash FROM causal_events WHERE scope = $1 ORDER BY idx DESC LIMIT 1", scope,
	).Scan(&prevIdx, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read chain tail: %w: %w", err, ErrUnavailable)
	}

	stored := *e
	stored.Index = prevIdx + 1
	stored.PrevHash = prevHash
	stored.Hash = hashEvent(&stored)

	if _, err := tx.Exec(ctx,
		`INSERT INTO causal_events
		   (scope, idx, action_id, agent_id, event_type, nonce, ts, payload_digest, value, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		scope, stored.Index, stored.ActionID, stored.AgentID, string(stored.Type),
		stored.Nonce, stored.Timestamp, stored.PayloadDigest, stored.Value,
		stored.PrevHash, stored.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert event: %w: %w", err, ErrUnavailable)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit event tx: %w: %w", err, ErrUnavailable)
	}

	s.logger.Debug("event appended",
		zap.String("scope", scope),
		zap.Int("idx", stored.Index),
		zap.String("type", string(stored.Type)),
		zap.Uint64("nonce", stored.Nonce),
	)
	return &stored, nil
}

const selectCols = `SELECT idx, action_id, agent_id, event_type, nonce, ts, payload_digest, value, prev_hash, hash
	 FROM causal_events `

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) scanOne(ctx context.Context, q rowQuerier, where string, args ...any) (*Event, error) {
	e := &Event{}
	var typ string
	err := q.QueryRow(ctx, selectCols+where, args...).Scan(
		&e.Index, &e.ActionID, &e.AgentID, &typ, &e.Nonce,
		&e.Timestamp, &e.PayloadDigest, &e.Value, &e.PrevHash, &e.Hash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w: %w", err, ErrUnavailable)
	}
	e.Type = EventType(typ)
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, scope string, index int) (*Event, error) {
	return s.scanOne(ctx, s.pool, "WHERE scope = $1 AND idx = $2", scope, index)
}

// ByActionID implements Store.
func (s *PostgresStore) ByActionID(ctx context.Context, actionID string) (*Event, error) {
	return s.scanOne(ctx, s.pool, "WHERE action_id = $1", actionID)
}

// Len implements Store.
func (s *PostgresStore) Len(ctx context.Context, scope string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM causal_events WHERE scope = $1", scope,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w: %w", err, ErrUnavailable)
	}
	return n, nil
}

// Snapshot implements Store. A single ordered query gives a read-consistent
// view of the chain without holding any lock during evaluation.
func (s *PostgresStore) Snapshot(ctx context.Context, scope string) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, selectCols+"WHERE scope = $1 ORDER BY idx ASC", scope)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w: %w", err, ErrUnavailable)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		var typ string
		if err := rows.Scan(
			&e.Index, &e.ActionID, &e.AgentID, &typ, &e.Nonce,
			&e.Timestamp, &e.PayloadDigest, &e.Value, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w: %w", err, ErrUnavailable)
		}
		e.Type = EventType(typ)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tail implements Store.
func (s *PostgresStore) Tail(ctx context.Context, scope string) (*Event, error) {
	e, err := s.scanOne(ctx, s.pool, "WHERE scope = $1 ORDER BY idx DESC LIMIT 1", scope)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// Verify implements Store. O(n) in chain length.
func (s *PostgresStore) Verify(ctx context.Context, scope string) error {
	chain, err := s.Snapshot(ctx, scope)
	if err != nil {
		return err
	}

	prevHash := GenesisHash
	for i, curr := range chain {
		if curr.Index != i {
			return fmt.Errorf("scope %q: event at position %d has index %d", scope, i, curr.Index)
		}
		if curr.PrevHash != prevHash {
			return fmt.Errorf("scope %q: hash chain broken at index %d", scope, i)
		}
		if curr.Hash != hashEvent(curr) {
			return fmt.Errorf("scope %q: event %d has invalid hash", scope, i)
		}
		prevHash = curr.Hash
	}
	return nil
}

// Root implements Store.
func (s *PostgresStore) Root(ctx context.Context, scope string) (string, error) {
	tail, err := s.Tail(ctx, scope)
	if err != nil {
		return "", err
	}
	if tail == nil {
		return GenesisHash, nil
	}
	return tail.Hash, nil
}

// Scopes implements Store.
func (s *PostgresStore) Scopes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT scope FROM causal_events ORDER BY scope")
	if err != nil {
		return nil, fmt.Errorf("query scopes: %w: %w", err, ErrUnavailable)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, fmt.Errorf("scan scope: %w: %w", err, ErrUnavailable)
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}
