package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/preop/preop/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) Completed(ctx context.Context, patientID uuid.UUID) (map[Step]time.Time, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT step, completed_at FROM workflow_steps WHERE patient_id = $1`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	completed := make(map[Step]time.Time)
	for rows.Next() {
		var step string
		var at time.Time
		if err := rows.Scan(&step, &at); err != nil {
			return nil, err
		}
		completed[Step(step)] = at
	}
	return completed, rows.Err()
}

// MarkCompleted is a single guarded insert so the order and frozen checks
// are atomic relative to concurrent writers on the same patient.
func (r *repoPG) MarkCompleted(ctx context.Context, patientID uuid.UUID, step Step, prereq *Step) (bool, error) {
	var prereqStr *string
	if prereq != nil {
		s := string(*prereq)
		prereqStr = &s
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO workflow_steps (patient_id, step)
		SELECT $1, $2
		WHERE NOT EXISTS (
			SELECT 1 FROM workflow_steps WHERE patient_id = $1 AND step = $4
		)
		AND ($3::text IS NULL OR EXISTS (
			SELECT 1 FROM workflow_steps WHERE patient_id = $1 AND step = $3
		))
		ON CONFLICT (patient_id, step) DO NOTHING`,
		patientID, step, prereqStr, StepCompleted,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
