package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RuleStore is the rule persistence used by the booking engine and the rule
// management endpoints.
type RuleStore interface {
	Create(ctx context.Context, rule Rule) (*Rule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Rule, error)
	ListByHost(ctx context.Context, hostID uuid.UUID) ([]Rule, error)
	Deactivate(ctx context.Context, id, hostID uuid.UUID) error
}

type PgRuleStore struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

func NewPgRuleStore(pool *pgxpool.Pool, opTimeout time.Duration) *PgRuleStore {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &PgRuleStore{pool: pool, opTimeout: opTimeout}
}

func (s *PgRuleStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// mapInfraErr folds timeouts and connection failures into ErrStoreUnavailable
// so callers see one retryable signal.
func mapInfraErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

func scanRule(row pgx.Row) (*Rule, error) {
	var r Rule
	var days *string

	err := row.Scan(
		&r.ID,
		&r.HostID,
		&r.RuleType,
		&days,
		&r.StartHour,
		&r.EndHour,
		&r.IsActive,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	if days != nil {
		r.DaysOfWeek = *days
	}
	return &r, nil
}

func (s *PgRuleStore) Create(ctx context.Context, rule Rule) (*Rule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	id := rule.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	row := s.pool.QueryRow(opCtx, `
		INSERT INTO availability_rules (id, host_id, rule_type, days_of_week, start_hour, end_hour, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, host_id, rule_type, days_of_week, start_hour, end_hour, is_active, created_at, updated_at
	`, id, rule.HostID, rule.RuleType, rule.DaysOfWeek, rule.StartHour, rule.EndHour, rule.IsActive)

	created, err := scanRule(row)
	if err != nil {
		return nil, mapInfraErr(fmt.Errorf("create rule: %w", err))
	}
	return created, nil
}

func (s *PgRuleStore) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	row := s.pool.QueryRow(opCtx, `
		SELECT id, host_id, rule_type, days_of_week, start_hour, end_hour, is_active, created_at, updated_at
		FROM availability_rules
		WHERE id = $1
	`, id)

	r, err := scanRule(row)
	if err != nil {
		return nil, mapInfraErr(err)
	}
	return r, nil
}

func (s *PgRuleStore) ListByHost(ctx context.Context, hostID uuid.UUID) ([]Rule, error) {
	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	rows, err := s.pool.Query(opCtx, `
		SELECT id, host_id, rule_type, days_of_week, start_hour, end_hour, is_active, created_at, updated_at
		FROM availability_rules
		WHERE host_id = $1
		ORDER BY created_at ASC
	`, hostID)
	if err != nil {
		return nil, mapInfraErr(fmt.Errorf("list rules for host %s: %w", hostID, err))
	}
	defer rows.Close()

	var result []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, mapInfraErr(err)
	}

	return result, nil
}

func (s *PgRuleStore) Deactivate(ctx context.Context, id, hostID uuid.UUID) error {
	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	tag, err := s.pool.Exec(opCtx, `
		UPDATE availability_rules
		SET is_active = false,
		    updated_at = now()
		WHERE id = $1
		  AND host_id = $2
	`, id, hostID)
	if err != nil {
		return mapInfraErr(fmt.Errorf("deactivate rule %s: %w", id, err))
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}
