package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pulsechat-backend/internal/domain"
)

const directCallColumns = `call_id, caller_id, callee_id, call_type, status,
	started_at, ended_at, duration_seconds, created_at`

// DirectCallRepository handles 1:1 call records
type DirectCallRepository struct {
	pool *pgxpool.Pool
}

// NewDirectCallRepository creates a new DirectCallRepository
func NewDirectCallRepository(pool *pgxpool.Pool) *DirectCallRepository {
	return &DirectCallRepository{pool: pool}
}

// Create inserts a new call record
func (r *DirectCallRepository) Create(ctx context.Context, call *domain.DirectCall) error {
	query := `
		INSERT INTO direct_calls (` + directCallColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.CallerID,
		call.CalleeID,
		string(call.Type),
		string(call.Status),
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create direct call: %w", err)
	}
	return nil
}

// GetByID retrieves a call by ID
func (r *DirectCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.DirectCall, error) {
	query := `SELECT ` + directCallColumns + ` FROM direct_calls WHERE call_id = $1`
	return scanDirectCall(r.pool.QueryRow(ctx, query, callID))
}

// FindLatest returns the newest call from callerID to calleeID in one of statuses
func (r *DirectCallRepository) FindLatest(ctx context.Context, callerID, calleeID uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error) {
	query := `
		SELECT ` + directCallColumns + `
		FROM direct_calls
		WHERE caller_id = $1 AND callee_id = $2`
	return r.findLatest(ctx, query, []any{callerID, calleeID}, statuses)
}

// FindLatestBetween is FindLatest over both orientations of the pair
func (r *DirectCallRepository) FindLatestBetween(ctx context.Context, a, b uuid.UUID, statuses ...domain.CallStatus) (*domain.DirectCall, error) {
	query := `
		SELECT ` + directCallColumns + `
		FROM direct_calls
		WHERE ((caller_id = $1 AND callee_id = $2) OR (caller_id = $2 AND callee_id = $1))`
	return r.findLatest(ctx, query, []any{a, b}, statuses)
}

// FindLiveByParty returns ringing and active calls the user is part of
func (r *DirectCallRepository) FindLiveByParty(ctx context.Context, userID uuid.UUID) ([]*domain.DirectCall, error) {
	query := `
		SELECT ` + directCallColumns + `
		FROM direct_calls
		WHERE (caller_id = $1 OR callee_id = $1)
		  AND status IN ('ringing', 'active')
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get live calls: %w", err)
	}
	return collectDirectCalls(rows)
}

// Update writes the lifecycle fields of a call
func (r *DirectCallRepository) Update(ctx context.Context, call *domain.DirectCall) error {
	query := `
		UPDATE direct_calls
		SET status = $2, started_at = $3, ended_at = $4, duration_seconds = $5
		WHERE call_id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		call.CallID,
		string(call.Status),
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to update direct call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

// ListBetween returns the call log of a pair, newest first
func (r *DirectCallRepository) ListBetween(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*domain.DirectCall, error) {
	query := `
		SELECT ` + directCallColumns + `
		FROM direct_calls
		WHERE (caller_id = $1 AND callee_id = $2) OR (caller_id = $2 AND callee_id = $1)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query, a, b, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list direct calls: %w", err)
	}
	return collectDirectCalls(rows)
}

// findLatest appends the optional status filter and returns the newest match
func (r *DirectCallRepository) findLatest(ctx context.Context, query string, args []any, statuses []domain.CallStatus) (*domain.DirectCall, error) {
	if len(statuses) > 0 {
		args = append(args, statusStrings(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d::STRING[])", len(args))
	}
	query += " ORDER BY created_at DESC LIMIT 1"
	return scanDirectCall(r.pool.QueryRow(ctx, query, args...))
}

func scanDirectCall(row pgx.Row) (*domain.DirectCall, error) {
	call := &domain.DirectCall{}
	var callType, status string
	err := row.Scan(
		&call.CallID,
		&call.CallerID,
		&call.CalleeID,
		&callType,
		&status,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&call.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get direct call: %w", err)
	}
	call.Type = domain.CallType(callType)
	call.Status = domain.CallStatus(status)
	return call, nil
}

func collectDirectCalls(rows pgx.Rows) ([]*domain.DirectCall, error) {
	defer rows.Close()

	var calls []*domain.DirectCall
	for rows.Next() {
		call, err := scanDirectCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan direct call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate direct calls: %w", err)
	}
	return calls, nil
}

func statusStrings(statuses []domain.CallStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
