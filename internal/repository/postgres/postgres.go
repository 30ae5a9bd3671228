// Package postgres implements the history repository on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/repository"
)

// History implements repository.HistoryRepository on PostgreSQL.
type History struct {
	pool *pgxpool.Pool
}

// New constructs a History repository.
func New(pool *pgxpool.Pool) *History {
	return &History{pool: pool}
}

var _ repository.HistoryRepository = (*History)(nil)

const recordColumns = `id, deployment_id, evolution_id, recorded_at, strategy, duration_ms,
	success, rollback_required, affected_users, error_rate, performance_impact,
	metrics_rollback_required, stage_durations`

// AppendRecord inserts a finished-deployment record.
func (h *History) AppendRecord(ctx context.Context, record *domain.DeploymentRecord) error {
	const query = `INSERT INTO deployment_history
		(id, deployment_id, evolution_id, recorded_at, strategy, duration_ms,
		 success, rollback_required, affected_users, error_rate, performance_impact,
		 metrics_rollback_required, stage_durations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	stages, err := json.Marshal(record.StageDurations)
	if err != nil {
		return err
	}
	_, err = h.pool.Exec(ctx, query,
		record.ID,
		record.DeploymentID,
		record.EvolutionID,
		record.Timestamp,
		string(record.Strategy),
		record.Duration.Milliseconds(),
		record.Result.Success,
		record.Result.RollbackRequired,
		record.Metrics.AffectedUsers,
		record.Metrics.ErrorRate,
		record.Metrics.PerformanceImpact,
		record.Metrics.RollbackRequired,
		stages,
	)
	return err
}

// GetRecordByDeploymentID fetches the record archived for a deployment.
func (h *History) GetRecordByDeploymentID(ctx context.Context, deploymentID string) (*domain.DeploymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM deployment_history WHERE deployment_id = $1`
	record, err := scanRecord(h.pool.QueryRow(ctx, query, deploymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// ListRecords returns every record in insertion order.
func (h *History) ListRecords(ctx context.Context) ([]domain.DeploymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM deployment_history ORDER BY recorded_at ASC, id ASC`
	return h.list(ctx, query)
}

// ListRecentRecords returns up to limit records, newest first.
func (h *History) ListRecentRecords(ctx context.Context, limit int) ([]domain.DeploymentRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + recordColumns + ` FROM deployment_history ORDER BY recorded_at DESC, id DESC LIMIT $1`
	return h.list(ctx, query, limit)
}

// ListRecordsByEvolution returns records for one evolution in insertion order.
func (h *History) ListRecordsByEvolution(ctx context.Context, evolutionID string) ([]domain.DeploymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM deployment_history WHERE evolution_id = $1 ORDER BY recorded_at ASC`
	return h.list(ctx, query, evolutionID)
}

// ListRecordsByStrategy returns records that used the given strategy.
func (h *History) ListRecordsByStrategy(ctx context.Context, strategy domain.Strategy) ([]domain.DeploymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM deployment_history WHERE strategy = $1 ORDER BY recorded_at ASC`
	return h.list(ctx, query, string(strategy))
}

// ListRecordsBetween returns records recorded within [from, to].
func (h *History) ListRecordsBetween(ctx context.Context, from, to time.Time) ([]domain.DeploymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM deployment_history
		WHERE recorded_at >= $1 AND recorded_at <= $2 ORDER BY recorded_at ASC`
	return h.list(ctx, query, from, to)
}

func (h *History) list(ctx context.Context, query string, args ...any) ([]domain.DeploymentRecord, error) {
	rows, err := h.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.DeploymentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.DeploymentRecord, error) {
	var (
		record     domain.DeploymentRecord
		strategy   string
		durationMS int64
		stages     []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.DeploymentID,
		&record.EvolutionID,
		&record.Timestamp,
		&strategy,
		&durationMS,
		&record.Result.Success,
		&record.Result.RollbackRequired,
		&record.Metrics.AffectedUsers,
		&record.Metrics.ErrorRate,
		&record.Metrics.PerformanceImpact,
		&record.Metrics.RollbackRequired,
		&stages,
	); err != nil {
		return nil, err
	}
	record.Strategy = domain.Strategy(strategy)
	record.Duration = time.Duration(durationMS) * time.Millisecond
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &record.StageDurations); err != nil {
			return nil, err
		}
	}
	return &record, nil
}
