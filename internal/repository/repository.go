package repository

import (
	"context"
	"time"

	"github.com/splax/rollout/internal/domain"
)

// HistoryRepository persists finished-deployment records. Records are
// append-only; implementations must keep insertion order stable so analytics
// windows are reproducible.
type HistoryRepository interface {
	AppendRecord(ctx context.Context, record *domain.DeploymentRecord) error
	GetRecordByDeploymentID(ctx context.Context, deploymentID string) (*domain.DeploymentRecord, error)
	ListRecords(ctx context.Context) ([]domain.DeploymentRecord, error)
	ListRecentRecords(ctx context.Context, limit int) ([]domain.DeploymentRecord, error)
	ListRecordsByEvolution(ctx context.Context, evolutionID string) ([]domain.DeploymentRecord, error)
	ListRecordsByStrategy(ctx context.Context, strategy domain.Strategy) ([]domain.DeploymentRecord, error)
	ListRecordsBetween(ctx context.Context, from, to time.Time) ([]domain.DeploymentRecord, error)
}
