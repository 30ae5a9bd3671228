// Package rollback builds compensating-action plans for deployments and
// executes them on demand.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/events"
	"github.com/splax/rollout/internal/service/flags"
)

// ErrPlanNotFound indicates no rollback plan exists for the given
// deployment.
var ErrPlanNotFound = errors.New("rollback: plan not found")

// ActionExecutor applies one compensating action against the underlying
// infrastructure. Feature-flag actions are handled by the flag engine; the
// executor covers everything else (traffic switches, instance reverts, cache
// clears, environment shutdowns).
type ActionExecutor interface {
	Execute(ctx context.Context, deploymentID string, action domain.RollbackAction) error
}

// FlagDisabler is the slice of the flag engine the manager needs.
type FlagDisabler interface {
	UpdateFlag(ctx context.Context, evolutionID string, update flags.FlagUpdate) (*domain.FeatureFlag, error)
}

// noopExecutor acknowledges actions without side effects. Used when no
// infrastructure executor is wired, e.g. in dry-run deployments.
type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, string, domain.RollbackAction) error { return nil }

const defaultBaseDuration = time.Minute

// Manager owns rollback plans keyed by deployment ID.
type Manager struct {
	executor     ActionExecutor
	flagEngine   FlagDisabler
	bus          *events.Bus
	logger       *slog.Logger
	baseDuration time.Duration
	now          func() time.Time

	mu    sync.Mutex
	plans map[string]*domain.RollbackPlan
}

// New constructs a Manager. A nil executor degrades to a no-op acknowledger.
func New(executor ActionExecutor, flagEngine FlagDisabler, bus *events.Bus, logger *slog.Logger) *Manager {
	if executor == nil {
		executor = noopExecutor{}
	}
	if logger != nil {
		logger = logger.With("component", "rollback")
	}
	return &Manager{
		executor:     executor,
		flagEngine:   flagEngine,
		bus:          bus,
		logger:       logger,
		baseDuration: defaultBaseDuration,
		now:          time.Now,
		plans:        make(map[string]*domain.RollbackPlan),
	}
}

// CreatePlan captures a checkpoint per existing stage and generates the
// strategy-specific action list. The plan replaces any previous plan for the
// same deployment.
func (m *Manager) CreatePlan(ctx context.Context, deployment domain.Deployment) (*domain.RollbackPlan, error) {
	strategy := deployment.Strategy
	if !strategy.Valid() {
		strategy = domain.StrategyDirect
	}

	now := m.now().UTC()
	checkpoints := make([]domain.Checkpoint, 0, len(deployment.Stages))
	for _, stage := range deployment.Stages {
		checkpoints = append(checkpoints, domain.Checkpoint{
			Stage:      stage.Name,
			CapturedAt: now,
			State: map[string]any{
				"started_at": stage.StartedAt,
				"success":    stage.Success,
			},
		})
	}

	plan := &domain.RollbackPlan{
		DeploymentID:      deployment.ID,
		EvolutionID:       deployment.EvolutionID,
		Strategy:          strategy,
		Actions:           actionsFor(strategy),
		Checkpoints:       checkpoints,
		EstimatedDuration: m.estimateDuration(strategy),
		CreatedAt:         now,
	}

	m.mu.Lock()
	m.plans[deployment.ID] = plan
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("rollback plan created", "deployment_id", deployment.ID, "strategy", strategy, "actions", len(plan.Actions))
	}
	out := clonePlan(plan)
	return &out, nil
}

// Plan returns a copy of the plan for a deployment.
func (m *Manager) Plan(deploymentID string) (*domain.RollbackPlan, error) {
	m.mu.Lock()
	plan, ok := m.plans[deploymentID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrPlanNotFound
	}
	out := clonePlan(plan)
	return &out, nil
}

// ExecuteRollback runs the plan's actions in reverse generated order, so the
// most recently applied effect is undone first. The first failing action
// aborts the remainder; the error is captured in the result, not returned.
// A rollback in progress runs to completion or failure and cannot be
// cancelled mid-flight.
func (m *Manager) ExecuteRollback(ctx context.Context, deploymentID, reason string) (*domain.RollbackResult, error) {
	m.mu.Lock()
	plan, ok := m.plans[deploymentID]
	var (
		actions     []domain.RollbackAction
		evolutionID string
		strategy    domain.Strategy
	)
	if ok {
		actions = append([]domain.RollbackAction(nil), plan.Actions...)
		evolutionID = plan.EvolutionID
		strategy = plan.Strategy
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrPlanNotFound
	}

	result := &domain.RollbackResult{
		ID:           uuid.NewString(),
		DeploymentID: deploymentID,
		Reason:       reason,
		StartedAt:    m.now().UTC(),
	}
	if m.logger != nil {
		m.logger.Info("rollback started", "deployment_id", deploymentID, "reason", reason, "actions", len(actions))
	}
	m.publish(events.RollbackStarted, deploymentID, map[string]any{"reason": reason, "rollback_id": result.ID})

	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]
		action.Status = domain.ActionInProgress
		m.publish(events.RollbackAction, deploymentID, action)

		if err := m.executeAction(ctx, deploymentID, evolutionID, action); err != nil {
			action.Status = domain.ActionFailed
			result.ExecutedActions = append(result.ExecutedActions, action)
			result.Success = false
			result.Error = fmt.Sprintf("action %q failed: %v", action.Name, err)
			result.CompletedAt = m.now().UTC()
			observeRollback(string(strategy), "failed")
			if m.logger != nil {
				m.logger.Error("rollback failed", "deployment_id", deploymentID, "action", action.Name, "error", err)
			}
			m.publish(events.RollbackFailed, deploymentID, result)
			return result, nil
		}

		action.Status = domain.ActionCompleted
		result.ExecutedActions = append(result.ExecutedActions, action)
		m.publish(events.RollbackActionOK, deploymentID, action)
	}

	result.Success = true
	result.CompletedAt = m.now().UTC()
	observeRollback(string(strategy), "completed")
	if m.logger != nil {
		m.logger.Info("rollback completed", "deployment_id", deploymentID, "duration", result.CompletedAt.Sub(result.StartedAt))
	}
	m.publish(events.RollbackCompleted, deploymentID, result)
	return result, nil
}

func (m *Manager) executeAction(ctx context.Context, deploymentID, evolutionID string, action domain.RollbackAction) error {
	if action.Type == domain.ActionFeatureFlag && m.flagEngine != nil {
		disabled := false
		if _, err := m.flagEngine.UpdateFlag(ctx, evolutionID, flags.FlagUpdate{Enabled: &disabled}); err != nil {
			if !errors.Is(err, flags.ErrNotFound) {
				return err
			}
			// No flag to disable; nothing to compensate.
		}
		return nil
	}
	return m.executor.Execute(ctx, deploymentID, action)
}

// estimateDuration is advisory only, never enforced as a timeout.
func (m *Manager) estimateDuration(strategy domain.Strategy) time.Duration {
	switch strategy {
	case domain.StrategyCanary:
		return 2 * m.baseDuration
	case domain.StrategyBlueGreen:
		return m.baseDuration
	default:
		return m.baseDuration * 3 / 2
	}
}

func (m *Manager) publish(eventType events.Type, deploymentID string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:         eventType,
		DeploymentID: deploymentID,
		At:           m.now().UTC(),
		Payload:      payload,
	})
}

// actionsFor returns the fixed, strategy-specific action list in generation
// order. Execution reverses this order.
func actionsFor(strategy domain.Strategy) []domain.RollbackAction {
	switch strategy {
	case domain.StrategyCanary:
		return []domain.RollbackAction{
			{Name: "Disable feature flag", Type: domain.ActionFeatureFlag, Status: domain.ActionPending},
			{Name: "Revert canary instances", Type: domain.ActionInstanceRevert, Status: domain.ActionPending},
			{Name: "Clear caches", Type: domain.ActionCacheClear, Status: domain.ActionPending},
			{Name: "Restore traffic routing", Type: domain.ActionTrafficSwitch, Status: domain.ActionPending},
		}
	case domain.StrategyBlueGreen:
		return []domain.RollbackAction{
			{Name: "Switch traffic to blue environment", Type: domain.ActionTrafficSwitch, Status: domain.ActionPending},
			{Name: "Disable green feature flag", Type: domain.ActionFeatureFlag, Status: domain.ActionPending},
			{Name: "Shut down green environment", Type: domain.ActionEnvShutdown, Status: domain.ActionPending},
			{Name: "Clear green caches", Type: domain.ActionCacheClear, Status: domain.ActionPending},
		}
	default:
		return []domain.RollbackAction{
			{Name: "Disable feature flag", Type: domain.ActionFeatureFlag, Status: domain.ActionPending},
			{Name: "Revert instances", Type: domain.ActionInstanceRevert, Status: domain.ActionPending},
			{Name: "Clear all caches", Type: domain.ActionCacheClear, Status: domain.ActionPending},
		}
	}
}

func clonePlan(plan *domain.RollbackPlan) domain.RollbackPlan {
	out := *plan
	out.Actions = append([]domain.RollbackAction(nil), plan.Actions...)
	out.Checkpoints = append([]domain.Checkpoint(nil), plan.Checkpoints...)
	return out
}
