package slot

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

type PgStore struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

func NewPgStore(pool *pgxpool.Pool, opTimeout time.Duration) *PgStore {
	if opTimeout <= 0 {
		opTimeout = 3 * time.Second
	}
	return &PgStore{pool: pool, opTimeout: opTimeout}
}

func (s *PgStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
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

func (s *PgStore) BulkInsert(ctx context.Context, slots []Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}

	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	tx, err := s.pool.Begin(opCtx)
	if err != nil {
		return 0, mapInfraErr(fmt.Errorf("begin bulk insert: %w", err))
	}
	defer tx.Rollback(opCtx)

	inserted := 0
	for _, sl := range slots {
		tag, err := tx.Exec(opCtx, `
			INSERT INTO slots (id, host_id, rule_id, start_time, end_time, is_available, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (host_id, start_time) DO NOTHING
		`, sl.ID, sl.HostID, sl.RuleID, sl.StartTime, sl.EndTime, sl.IsAvailable)
		if err != nil {
			return 0, mapInfraErr(fmt.Errorf("insert slot %s: %w", sl.ID, err))
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(opCtx); err != nil {
		return 0, mapInfraErr(fmt.Errorf("commit bulk insert: %w", err))
	}

	return inserted, nil
}

// Claim is the single synchronization point of the whole engine: a
// conditional UPDATE whose row count decides the winner. No application
// lock, so correctness holds across server instances.
func (s *PgStore) Claim(ctx context.Context, id uuid.UUID) (*Claimed, error) {
	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	row := s.pool.QueryRow(opCtx, `
		UPDATE slots
		SET is_available = false,
		    updated_at = now()
		FROM users u
		WHERE slots.id = $1
		  AND slots.is_available = true
		  AND u.id = slots.host_id
		RETURNING slots.id, slots.host_id, slots.rule_id, slots.start_time, slots.end_time,
		          slots.is_available, slots.created_at, slots.updated_at,
		          u.name, u.email
	`, id)

	var c Claimed
	err := row.Scan(
		&c.ID,
		&c.HostID,
		&c.RuleID,
		&c.StartTime,
		&c.EndTime,
		&c.IsAvailable,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.HostName,
		&c.HostEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimFailed
		}
		return nil, mapInfraErr(fmt.Errorf("claim slot %s: %w", id, err))
	}

	return &c, nil
}

func (s *PgStore) Release(ctx context.Context, id uuid.UUID) error {
	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	_, err := s.pool.Exec(opCtx, `
		UPDATE slots
		SET is_available = true,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return mapInfraErr(fmt.Errorf("release slot %s: %w", id, err))
	}

	return nil
}

func (s *PgStore) List(ctx context.Context, hostID uuid.UUID, onlyAvailable bool, after *time.Time) ([]Slot, error) {
	opCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	q := `
		SELECT id, host_id, rule_id, start_time, end_time, is_available, created_at, updated_at
		FROM slots
		WHERE host_id = $1
	`
	args := []any{hostID}

	if onlyAvailable {
		q += ` AND is_available = true`
	}
	if after != nil {
		args = append(args, *after)
		q += fmt.Sprintf(` AND start_time > $%d`, len(args))
	}
	q += ` ORDER BY start_time ASC`

	rows, err := s.pool.Query(opCtx, q, args...)
	if err != nil {
		return nil, mapInfraErr(fmt.Errorf("list slots for host %s: %w", hostID, err))
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		var sl Slot
		err := rows.Scan(
			&sl.ID,
			&sl.HostID,
			&sl.RuleID,
			&sl.StartTime,
			&sl.EndTime,
			&sl.IsAvailable,
			&sl.CreatedAt,
			&sl.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, sl)
	}

	if err := rows.Err(); err != nil {
		return nil, mapInfraErr(err)
	}

	return result, nil
}
