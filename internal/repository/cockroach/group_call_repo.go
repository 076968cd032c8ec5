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

// participant arrays travel as STRING[] so scanning never depends on UUID array codecs
const groupCallColumns = `call_id, group_id, initiator_id, call_type, status,
	participants_accepted::STRING[], participants_active::STRING[],
	started_at, ended_at, duration_seconds, created_at`

// GroupCallRepository handles group call records
type GroupCallRepository struct {
	pool *pgxpool.Pool
}

// NewGroupCallRepository creates a new GroupCallRepository
func NewGroupCallRepository(pool *pgxpool.Pool) *GroupCallRepository {
	return &GroupCallRepository{pool: pool}
}

// Create inserts a new group call record
func (r *GroupCallRepository) Create(ctx context.Context, call *domain.GroupCall) error {
	query := `
		INSERT INTO group_calls (
			call_id, group_id, initiator_id, call_type, status,
			participants_accepted, participants_active,
			started_at, ended_at, duration_seconds, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::STRING[]::UUID[], $7::STRING[]::UUID[], $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		call.CallID,
		call.GroupID,
		call.InitiatorID,
		string(call.Type),
		string(call.Status),
		uuidStrings(call.ParticipantsAccepted),
		uuidStrings(call.ParticipantsActive),
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group call: %w", err)
	}
	return nil
}

// GetByID retrieves a group call by ID
func (r *GroupCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.GroupCall, error) {
	query := `SELECT ` + groupCallColumns + ` FROM group_calls WHERE call_id = $1`
	return scanGroupCall(r.pool.QueryRow(ctx, query, callID))
}

// FindLatestByGroup returns the group's newest call record
func (r *GroupCallRepository) FindLatestByGroup(ctx context.Context, groupID uuid.UUID) (*domain.GroupCall, error) {
	query := `
		SELECT ` + groupCallColumns + `
		FROM group_calls
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanGroupCall(r.pool.QueryRow(ctx, query, groupID))
}

// FindRunningByParticipant returns running calls listing userID as active
func (r *GroupCallRepository) FindRunningByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.GroupCall, error) {
	query := `
		SELECT ` + groupCallColumns + `
		FROM group_calls
		WHERE status = 'active' AND ended_at IS NULL
		  AND $1::UUID = ANY(participants_active)
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get running group calls: %w", err)
	}
	return collectGroupCalls(rows)
}

// Update writes the lifecycle fields and participant lists
func (r *GroupCallRepository) Update(ctx context.Context, call *domain.GroupCall) error {
	query := `
		UPDATE group_calls
		SET status = $2,
		    participants_accepted = $3::STRING[]::UUID[],
		    participants_active = $4::STRING[]::UUID[],
		    started_at = $5, ended_at = $6, duration_seconds = $7
		WHERE call_id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		call.CallID,
		string(call.Status),
		uuidStrings(call.ParticipantsAccepted),
		uuidStrings(call.ParticipantsActive),
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to update group call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

// ListByGroup returns a group's call log, newest first
func (r *GroupCallRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, limit, offset int) ([]*domain.GroupCall, error) {
	query := `
		SELECT ` + groupCallColumns + `
		FROM group_calls
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, groupID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list group calls: %w", err)
	}
	return collectGroupCalls(rows)
}

// ListRunningByGroups returns running calls in any of the groups
func (r *GroupCallRepository) ListRunningByGroups(ctx context.Context, groupIDs []uuid.UUID) ([]*domain.GroupCall, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + groupCallColumns + `
		FROM group_calls
		WHERE group_id = ANY($1::STRING[]::UUID[])
		  AND status = 'active' AND ended_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, uuidStrings(groupIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list running group calls: %w", err)
	}
	return collectGroupCalls(rows)
}

func scanGroupCall(row pgx.Row) (*domain.GroupCall, error) {
	call := &domain.GroupCall{}
	var (
		callType, status string
		accepted, active []string
	)
	err := row.Scan(
		&call.CallID,
		&call.GroupID,
		&call.InitiatorID,
		&callType,
		&status,
		&accepted,
		&active,
		&call.StartedAt,
		&call.EndedAt,
		&call.DurationSeconds,
		&call.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get group call: %w", err)
	}
	call.Type = domain.CallType(callType)
	call.Status = domain.CallStatus(status)
	if call.ParticipantsAccepted, err = parseUUIDs(accepted); err != nil {
		return nil, err
	}
	if call.ParticipantsActive, err = parseUUIDs(active); err != nil {
		return nil, err
	}
	return call, nil
}

func collectGroupCalls(rows pgx.Rows) ([]*domain.GroupCall, error) {
	defer rows.Close()

	var calls []*domain.GroupCall
	for rows.Next() {
		call, err := scanGroupCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group calls: %w", err)
	}
	return calls, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid participant id %q: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}
