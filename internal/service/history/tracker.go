// Package history archives finished deployments and derives aggregate
// analytics for operators.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/repository"
)

// ErrMissingResult indicates an attempt to archive a deployment that has no
// terminal result yet.
var ErrMissingResult = errors.New("history: deployment has no terminal result")

// analyticsWindow caps how many recent records feed analytics.
const analyticsWindow = 100

// trendDays caps how many daily trend buckets are reported.
const trendDays = 7

// Tracker is the durable record of finished deployments.
type Tracker struct {
	repo   repository.HistoryRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Tracker on the given repository.
func New(repo repository.HistoryRepository, logger *slog.Logger) *Tracker {
	if repo == nil {
		repo = repository.NewMemoryHistory()
	}
	if logger != nil {
		logger = logger.With("component", "history")
	}
	return &Tracker{repo: repo, logger: logger, now: time.Now}
}

// Record archives a finished deployment. Deployments without a terminal
// result are rejected before anything is written.
func (t *Tracker) Record(ctx context.Context, deployment domain.Deployment) (*domain.DeploymentRecord, error) {
	if deployment.Result == nil {
		return nil, ErrMissingResult
	}

	record := domain.DeploymentRecord{
		ID:           uuid.NewString(),
		DeploymentID: deployment.ID,
		EvolutionID:  deployment.EvolutionID,
		Timestamp:    t.now().UTC(),
		Strategy:     deployment.Strategy,
		Duration:     deployment.Duration(),
		Result:       *deployment.Result,
		Metrics:      deployment.Metrics,
	}
	for _, stage := range deployment.Stages {
		sd := domain.StageDuration{Name: stage.Name, Success: stage.Success}
		if stage.CompletedAt != nil {
			sd.Duration = stage.CompletedAt.Sub(stage.StartedAt)
		}
		record.StageDurations = append(record.StageDurations, sd)
	}

	if err := t.repo.AppendRecord(ctx, &record); err != nil {
		return nil, err
	}
	if t.logger != nil {
		t.logger.Info("deployment archived", "deployment_id", deployment.ID, "strategy", deployment.Strategy, "success", deployment.Result.Success)
	}
	return &record, nil
}

// Analytics derives aggregate statistics from the most recent records.
// Rates are fractions in [0,1].
func (t *Tracker) Analytics(ctx context.Context) (*domain.DeploymentAnalytics, error) {
	records, err := t.repo.ListRecentRecords(ctx, analyticsWindow)
	if err != nil {
		return nil, err
	}
	return deriveAnalytics(records), nil
}

func deriveAnalytics(records []domain.DeploymentRecord) *domain.DeploymentAnalytics {
	analytics := &domain.DeploymentAnalytics{
		TotalDeployments:  len(records),
		StrategyBreakdown: make(map[domain.Strategy]domain.StrategyStats, 3),
	}
	for _, strategy := range domain.Strategies() {
		analytics.StrategyBreakdown[strategy] = domain.StrategyStats{}
	}
	if len(records) == 0 {
		return analytics
	}

	var successes, rollbacks int
	var totalDuration time.Duration
	perStrategy := make(map[domain.Strategy]*strategyAccumulator, 3)
	for _, strategy := range domain.Strategies() {
		perStrategy[strategy] = &strategyAccumulator{}
	}

	for _, record := range records {
		if record.Result.Success {
			successes++
		}
		if record.Metrics.RollbackRequired {
			rollbacks++
		}
		totalDuration += record.Duration

		if acc, ok := perStrategy[record.Strategy]; ok {
			acc.count++
			if record.Result.Success {
				acc.successes++
			}
			if record.Metrics.RollbackRequired {
				acc.rollbacks++
			}
		}
	}

	n := float64(len(records))
	analytics.SuccessRate = float64(successes) / n
	analytics.RollbackRate = float64(rollbacks) / n
	analytics.AverageDuration = totalDuration / time.Duration(len(records))

	for strategy, acc := range perStrategy {
		stats := domain.StrategyStats{Count: acc.count}
		if acc.count > 0 {
			stats.SuccessRate = float64(acc.successes) / float64(acc.count)
			stats.RollbackRate = float64(acc.rollbacks) / float64(acc.count)
		}
		analytics.StrategyBreakdown[strategy] = stats
	}

	analytics.Trends = deriveTrends(records)
	return analytics
}

type strategyAccumulator struct {
	count     int
	successes int
	rollbacks int
}

// deriveTrends groups records by UTC calendar day, ascending, keeping only
// the most recent days.
func deriveTrends(records []domain.DeploymentRecord) []domain.DailyTrend {
	type dayAccumulator struct {
		count     int
		successes int
		rollbacks int
	}
	days := make(map[string]*dayAccumulator)
	for _, record := range records {
		date := record.Timestamp.UTC().Format("2006-01-02")
		acc := days[date]
		if acc == nil {
			acc = &dayAccumulator{}
			days[date] = acc
		}
		acc.count++
		if record.Result.Success {
			acc.successes++
		}
		if record.Metrics.RollbackRequired {
			acc.rollbacks++
		}
	}

	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	if len(dates) > trendDays {
		dates = dates[len(dates)-trendDays:]
	}

	trends := make([]domain.DailyTrend, 0, len(dates))
	for _, date := range dates {
		acc := days[date]
		trends = append(trends, domain.DailyTrend{
			Date:        date,
			Count:       acc.count,
			SuccessRate: float64(acc.successes) / float64(acc.count),
			Rollbacks:   acc.rollbacks,
		})
	}
	return trends
}

// RecordByDeploymentID returns the archive entry for one deployment.
func (t *Tracker) RecordByDeploymentID(ctx context.Context, deploymentID string) (*domain.DeploymentRecord, error) {
	return t.repo.GetRecordByDeploymentID(ctx, deploymentID)
}

// RecordsByEvolution returns archive entries for one evolution.
func (t *Tracker) RecordsByEvolution(ctx context.Context, evolutionID string) ([]domain.DeploymentRecord, error) {
	return t.repo.ListRecordsByEvolution(ctx, evolutionID)
}

// RecordsByStrategy returns archive entries that used one strategy.
func (t *Tracker) RecordsByStrategy(ctx context.Context, strategy domain.Strategy) ([]domain.DeploymentRecord, error) {
	return t.repo.ListRecordsByStrategy(ctx, strategy)
}

// RecordsBetween returns archive entries recorded within [from, to].
func (t *Tracker) RecordsBetween(ctx context.Context, from, to time.Time) ([]domain.DeploymentRecord, error) {
	return t.repo.ListRecordsBetween(ctx, from, to)
}

// RecentRecords returns up to limit of the newest archive entries.
func (t *Tracker) RecentRecords(ctx context.Context, limit int) ([]domain.DeploymentRecord, error) {
	return t.repo.ListRecentRecords(ctx, limit)
}
