package pgstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/state"
)

// Repository is the durable StateRepository backend (spec §4.5).
// state.Service writes to it when an execution starts, on every node
// state update and token usage append, and on the terminal status
// transition; node outputs live only in the cache (memstate.Cache or
// redisstate.Cache), matching the
// teacher's hot-cache/cold-db split in workflow_lifecycle/status.go.
type Repository struct {
	db *DB
}

// NewRepository wraps an already-opened DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new execution row. node_states/variables/token_usage
// are stored as JSONB, mirroring the teacher's tags_snapshot JSONB column
// in common/models/artifact.go and common/repository/run.go.
func (r *Repository) Create(ctx context.Context, s *state.ExecutionState) error {
	nodeStates, err := json.Marshal(s.NodeStates)
	if err != nil {
		return fmt.Errorf("marshal node states: %w", err)
	}
	variables, err := json.Marshal(s.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}

	query := `
		INSERT INTO execution (execution_id, diagram_id, status, started_at, node_states, variables, token_usage)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	tokenUsage, err := json.Marshal(s.TokenUsage)
	if err != nil {
		return fmt.Errorf("marshal token usage: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, s.ID, s.DiagramID, s.Status, s.StartedAt, nodeStates, variables, tokenUsage); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id diagram.ExecutionID) (*state.ExecutionState, error) {
	query := `
		SELECT execution_id, diagram_id, status, started_at, ended_at, error, node_states, variables, token_usage
		FROM execution
		WHERE execution_id = $1
	`

	row := r.db.QueryRow(ctx, query, id)
	return scanExecution(row)
}

func (r *Repository) List(ctx context.Context, filter state.ListFilter) ([]*state.ExecutionState, error) {
	query := `
		SELECT execution_id, diagram_id, status, started_at, ended_at, error, node_states, variables, token_usage
		FROM execution
		WHERE ($1 = '' OR diagram_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, query, filter.DiagramID, filter.Status, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*state.ExecutionState
	for rows.Next() {
		s, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateStatus(ctx context.Context, id diagram.ExecutionID, status state.ExecutionStatus, errMsg string) error {
	var endedAt *time.Time
	if status.IsTerminal() {
		now := time.Now()
		endedAt = &now
	}

	query := `UPDATE execution SET status = $2, error = $3, ended_at = $4 WHERE execution_id = $1`
	if _, err := r.db.Exec(ctx, query, id, status, errMsg, endedAt); err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return nil
}

func (r *Repository) UpdateNodeState(ctx context.Context, id diagram.ExecutionID, nodeID diagram.NodeID, ns *state.NodeState) error {
	query := `
		UPDATE execution
		SET node_states = jsonb_set(node_states, $2, $3::jsonb, true)
		WHERE execution_id = $1
	`
	nsJSON, err := json.Marshal(ns)
	if err != nil {
		return fmt.Errorf("marshal node state: %w", err)
	}

	path := fmt.Sprintf("{%s}", nodeID)
	if _, err := r.db.Exec(ctx, query, id, path, nsJSON); err != nil {
		return fmt.Errorf("update node state: %w", err)
	}
	return nil
}

func (r *Repository) AppendTokenUsage(ctx context.Context, id diagram.ExecutionID, usage state.TokenUsage) error {
	query := `
		UPDATE execution
		SET token_usage = jsonb_build_object(
			'input', (token_usage->>'input')::bigint + $2,
			'output', (token_usage->>'output')::bigint + $3,
			'cached', (token_usage->>'cached')::bigint + $4,
			'total', (token_usage->>'total')::bigint + $5
		)
		WHERE execution_id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, usage.Input, usage.Output, usage.Cached, usage.Total); err != nil {
		return fmt.Errorf("append token usage: %w", err)
	}
	return nil
}

func (r *Repository) CleanupOlderThan(ctx context.Context, olderThanSeconds int64) (int, error) {
	query := `DELETE FROM execution WHERE ended_at IS NOT NULL AND ended_at < now() - ($1 || ' seconds')::interval`
	tag, err := r.db.Exec(ctx, query, olderThanSeconds)
	if err != nil {
		return 0, fmt.Errorf("cleanup executions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*state.ExecutionState, error) {
	var (
		s          state.ExecutionState
		nodeStates []byte
		variables  []byte
		tokenUsage []byte
	)

	err := row.Scan(&s.ID, &s.DiagramID, &s.Status, &s.StartedAt, &s.EndedAt, &s.Error, &nodeStates, &variables, &tokenUsage)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("execution not found: %w", err)
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	s.NodeStates = map[diagram.NodeID]*state.NodeState{}
	if len(nodeStates) > 0 {
		if err := json.Unmarshal(nodeStates, &s.NodeStates); err != nil {
			return nil, fmt.Errorf("unmarshal node states: %w", err)
		}
	}
	s.Variables = map[string]any{}
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &s.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if len(tokenUsage) > 0 {
		if err := json.Unmarshal(tokenUsage, &s.TokenUsage); err != nil {
			return nil, fmt.Errorf("unmarshal token usage: %w", err)
		}
	}
	// node_outputs (envelopes) are cache-only per spec §6.5: the durable
	// repository persists status/metrics, not large payload bodies.

	return &s, nil
}
