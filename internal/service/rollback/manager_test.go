package rollback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/service/flags"
	"github.com/splax/rollout/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingExecutor captures executed action names in order, optionally
// failing on a named action.
type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	failOn   string
}

func (e *recordingExecutor) Execute(_ context.Context, _ string, action domain.RollbackAction) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, action.Name)
	if e.failOn != "" && action.Name == e.failOn {
		return errors.New("infrastructure refused")
	}
	return nil
}

func TestCreatePlanPerStrategy(t *testing.T) {
	m := New(nil, nil, nil, testLogger())
	ctx := context.Background()

	tests := []struct {
		strategy domain.Strategy
		actions  int
		first    string
	}{
		{domain.StrategyCanary, 4, "Disable feature flag"},
		{domain.StrategyBlueGreen, 4, "Switch traffic to blue environment"},
		{domain.StrategyDirect, 3, "Disable feature flag"},
	}
	for _, tc := range tests {
		plan, err := m.CreatePlan(ctx, domain.Deployment{ID: "dep-" + string(tc.strategy), Strategy: tc.strategy})
		if err != nil {
			t.Fatalf("CreatePlan(%s): %v", tc.strategy, err)
		}
		if len(plan.Actions) != tc.actions {
			t.Errorf("%s: %d actions, want %d", tc.strategy, len(plan.Actions), tc.actions)
		}
		if plan.Actions[0].Name != tc.first {
			t.Errorf("%s: first action %q, want %q", tc.strategy, plan.Actions[0].Name, tc.first)
		}
		for _, action := range plan.Actions {
			if action.Status != domain.ActionPending {
				t.Errorf("%s: action %q status %s, want pending", tc.strategy, action.Name, action.Status)
			}
		}
		if plan.EstimatedDuration <= 0 {
			t.Errorf("%s: no duration estimate", tc.strategy)
		}
	}
}

func TestCreatePlanUnknownStrategyFallsBackToDirect(t *testing.T) {
	m := New(nil, nil, nil, testLogger())

	plan, err := m.CreatePlan(context.Background(), domain.Deployment{ID: "dep-1", Strategy: domain.Strategy("chaotic")})
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if plan.Strategy != domain.StrategyDirect {
		t.Errorf("strategy = %s, want direct", plan.Strategy)
	}
	if len(plan.Actions) != 3 {
		t.Errorf("%d actions, want 3", len(plan.Actions))
	}
}

func TestCreatePlanCapturesCheckpoints(t *testing.T) {
	m := New(nil, nil, nil, testLogger())

	deployment := domain.Deployment{
		ID:       "dep-1",
		Strategy: domain.StrategyCanary,
		Stages: []domain.Stage{
			{Name: "build", Success: true},
			{Name: "canary-10", Success: true},
		},
	}
	plan, err := m.CreatePlan(context.Background(), deployment)
	if err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	if len(plan.Checkpoints) != 2 {
		t.Fatalf("%d checkpoints, want 2", len(plan.Checkpoints))
	}
	if plan.Checkpoints[0].Stage != "build" || plan.Checkpoints[1].Stage != "canary-10" {
		t.Errorf("checkpoint stages = %q, %q", plan.Checkpoints[0].Stage, plan.Checkpoints[1].Stage)
	}
}

func TestExecuteRollbackReversesActionOrder(t *testing.T) {
	executor := &recordingExecutor{}
	m := New(executor, nil, nil, testLogger())
	ctx := context.Background()

	if _, err := m.CreatePlan(ctx, domain.Deployment{ID: "dep-1", Strategy: domain.StrategyBlueGreen}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	result, err := m.ExecuteRollback(ctx, "dep-1", "health check failed")
	if err != nil {
		t.Fatalf("ExecuteRollback: %v", err)
	}
	if !result.Success {
		t.Fatalf("rollback failed: %s", result.Error)
	}
	if len(result.ExecutedActions) != 4 {
		t.Fatalf("%d executed actions, want 4", len(result.ExecutedActions))
	}
	if result.ExecutedActions[0].Name != "Clear green caches" {
		t.Errorf("first executed = %q, want the last generated action", result.ExecutedActions[0].Name)
	}
	if result.ExecutedActions[3].Name != "Switch traffic to blue environment" {
		t.Errorf("last executed = %q, want the first generated action", result.ExecutedActions[3].Name)
	}
	for _, action := range result.ExecutedActions {
		if action.Status != domain.ActionCompleted {
			t.Errorf("action %q status %s, want completed", action.Name, action.Status)
		}
	}
}

func TestExecuteRollbackStopsOnFirstFailure(t *testing.T) {
	executor := &recordingExecutor{failOn: "Shut down green environment"}
	m := New(executor, nil, nil, testLogger())
	ctx := context.Background()

	if _, err := m.CreatePlan(ctx, domain.Deployment{ID: "dep-1", Strategy: domain.StrategyBlueGreen}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	result, err := m.ExecuteRollback(ctx, "dep-1", "validation regression")
	if err != nil {
		t.Fatalf("ExecuteRollback: %v", err)
	}
	if result.Success {
		t.Fatal("rollback reported success despite failed action")
	}
	if result.Error == "" {
		t.Error("failure left no error description")
	}
	// Reverse order: caches cleared first, then the shutdown fails.
	if len(result.ExecutedActions) != 2 {
		t.Fatalf("%d executed actions, want 2", len(result.ExecutedActions))
	}
	last := result.ExecutedActions[len(result.ExecutedActions)-1]
	if last.Name != "Shut down green environment" || last.Status != domain.ActionFailed {
		t.Errorf("last action = %q/%s, want failed shutdown", last.Name, last.Status)
	}
}

func TestExecuteRollbackUnknownPlan(t *testing.T) {
	m := New(nil, nil, nil, testLogger())
	if _, err := m.ExecuteRollback(context.Background(), "nope", "reason"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}
	if _, err := m.Plan("nope"); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("Plan err = %v, want ErrPlanNotFound", err)
	}
}

func TestFeatureFlagActionDisablesFlag(t *testing.T) {
	engine := flags.NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()
	if _, err := engine.CreateFlag(ctx, "evo-1", flags.FlagConfig{Enabled: true, Percentage: 100}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	m := New(&recordingExecutor{}, engine, nil, testLogger())
	deployment := domain.Deployment{ID: "dep-1", EvolutionID: "evo-1", Strategy: domain.StrategyDirect}
	if _, err := m.CreatePlan(ctx, deployment); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	result, err := m.ExecuteRollback(ctx, "dep-1", "manual")
	if err != nil {
		t.Fatalf("ExecuteRollback: %v", err)
	}
	if !result.Success {
		t.Fatalf("rollback failed: %s", result.Error)
	}

	flag, err := engine.GetFlag(ctx, "evo-1")
	if err != nil {
		t.Fatalf("GetFlag: %v", err)
	}
	if flag.Enabled {
		t.Error("flag still enabled after rollback")
	}
	if flag.Metadata.Version != 2 {
		t.Errorf("flag version = %d, want 2", flag.Metadata.Version)
	}
}

func TestFeatureFlagActionToleratesMissingFlag(t *testing.T) {
	engine := flags.NewEngine(store.NewMemory(), testLogger())
	m := New(&recordingExecutor{}, engine, nil, testLogger())
	ctx := context.Background()

	if _, err := m.CreatePlan(ctx, domain.Deployment{ID: "dep-1", EvolutionID: "evo-none", Strategy: domain.StrategyDirect}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	result, err := m.ExecuteRollback(ctx, "dep-1", "manual")
	if err != nil {
		t.Fatalf("ExecuteRollback: %v", err)
	}
	if !result.Success {
		t.Fatalf("rollback failed on missing flag: %s", result.Error)
	}
}
