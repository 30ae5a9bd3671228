package flags

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateFlagInitialVersion(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())

	flag, err := engine.CreateFlag(context.Background(), "evo-1", FlagConfig{Enabled: true, Percentage: 25})
	if err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if flag.ID != "flag-evo-1" {
		t.Errorf("flag ID = %q, want flag-evo-1", flag.ID)
	}
	if flag.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", flag.Metadata.Version)
	}
	if flag.Metadata.CreatedAt.IsZero() || flag.Metadata.UpdatedAt.IsZero() {
		t.Error("metadata timestamps not set")
	}

	got, err := engine.GetFlag(context.Background(), "evo-1")
	if err != nil {
		t.Fatalf("GetFlag: %v", err)
	}
	if got.Percentage != 25 {
		t.Errorf("percentage = %v, want 25", got.Percentage)
	}
}

func TestCreateFlagRejectsBadPercentage(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())

	if _, err := engine.CreateFlag(context.Background(), "evo-1", FlagConfig{Percentage: 150}); err == nil {
		t.Fatal("expected error for percentage 150")
	}
	if _, err := engine.CreateFlag(context.Background(), "evo-1", FlagConfig{Percentage: -1}); err == nil {
		t.Fatal("expected error for percentage -1")
	}
}

func TestUpdateFlagBumpsVersion(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := engine.CreateFlag(ctx, "evo-1", FlagConfig{Enabled: true, Percentage: 10}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	pct := 50.0
	flag, err := engine.UpdateFlag(ctx, "evo-1", FlagUpdate{Percentage: &pct})
	if err != nil {
		t.Fatalf("UpdateFlag: %v", err)
	}
	if flag.Metadata.Version != 2 {
		t.Errorf("version = %d, want 2", flag.Metadata.Version)
	}
	if flag.Percentage != 50 {
		t.Errorf("percentage = %v, want 50", flag.Percentage)
	}
	if !flag.Enabled {
		t.Error("enabled changed by percentage-only update")
	}

	disabled := false
	flag, err = engine.UpdateFlag(ctx, "evo-1", FlagUpdate{Enabled: &disabled})
	if err != nil {
		t.Fatalf("UpdateFlag: %v", err)
	}
	if flag.Metadata.Version != 3 {
		t.Errorf("version = %d, want 3", flag.Metadata.Version)
	}
	if flag.Enabled {
		t.Error("flag still enabled after disable update")
	}
}

func TestUpdateFlagNotFound(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())

	enabled := true
	if _, err := engine.UpdateFlag(context.Background(), "missing", FlagUpdate{Enabled: &enabled}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteFlag(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := engine.CreateFlag(ctx, "evo-1", FlagConfig{Enabled: true, Percentage: 100}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if err := engine.DeleteFlag(ctx, "evo-1"); err != nil {
		t.Fatalf("DeleteFlag: %v", err)
	}
	if _, err := engine.GetFlag(ctx, "evo-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetFlag after delete: err = %v, want ErrNotFound", err)
	}
	if err := engine.DeleteFlag(ctx, "evo-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteFlag: err = %v, want ErrNotFound", err)
	}
}

func TestFlagReloadsFromStore(t *testing.T) {
	kv := store.NewMemory()
	ctx := context.Background()

	first := NewEngine(kv, testLogger())
	if _, err := first.CreateFlag(ctx, "evo-1", FlagConfig{Enabled: true, Percentage: 100}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	// A fresh engine over the same store recovers the flag lazily.
	second := NewEngine(kv, testLogger())
	flag, err := second.GetFlag(ctx, "evo-1")
	if err != nil {
		t.Fatalf("GetFlag on fresh engine: %v", err)
	}
	if flag.Metadata.Version != 1 {
		t.Errorf("version = %d, want 1", flag.Metadata.Version)
	}
	enabled, err := second.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !enabled {
		t.Error("expected enabled flag at 100% to evaluate true")
	}
}

func TestEvaluateUnknownFlag(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())

	if _, err := engine.Evaluate(context.Background(), "flag-missing", domain.EvalContext{UserID: "u"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEvaluateDisabledFlag(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := engine.CreateFlag(ctx, "evo-1", FlagConfig{Enabled: false, Percentage: 100}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	enabled, err := engine.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if enabled {
		t.Error("disabled flag evaluated true")
	}
}

func TestEvaluatePercentageBounds(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := engine.CreateFlag(ctx, "zero", FlagConfig{Enabled: true, Percentage: 0}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}
	if _, err := engine.CreateFlag(ctx, "full", FlagConfig{Enabled: true, Percentage: 100}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	users := []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi"}
	for _, user := range users {
		evalCtx := domain.EvalContext{UserID: user}
		if enabled, _ := engine.Evaluate(ctx, FlagID("zero"), evalCtx); enabled {
			t.Errorf("user %q enabled at 0%%", user)
		}
		if enabled, _ := engine.Evaluate(ctx, FlagID("full"), evalCtx); !enabled {
			t.Errorf("user %q disabled at 100%%", user)
		}
	}
}

func TestEvaluateDeterministicPerUser(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	if _, err := engine.CreateFlag(ctx, "evo-1", FlagConfig{Enabled: true, Percentage: 42}); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	users := []string{"alice", "bob", "carol", "dave", "erin"}
	for _, user := range users {
		evalCtx := domain.EvalContext{UserID: user}
		first, err := engine.Evaluate(ctx, FlagID("evo-1"), evalCtx)
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		for i := 0; i < 10; i++ {
			again, err := engine.Evaluate(ctx, FlagID("evo-1"), evalCtx)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if again != first {
				t.Fatalf("user %q flipped from %v to %v", user, first, again)
			}
		}
	}
}

func TestEvaluateGroupGate(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	cfg := FlagConfig{Enabled: true, Percentage: 100, UserGroups: []string{"beta", "staff"}}
	if _, err := engine.CreateFlag(ctx, "evo-1", cfg); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	enabled, err := engine.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{UserID: "u1", UserGroup: "beta"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !enabled {
		t.Error("beta member not enabled")
	}

	enabled, err = engine.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{UserID: "u1", UserGroup: "free"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if enabled {
		t.Error("non-member enabled by group-gated flag")
	}

	enabled, err = engine.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{UserID: "u1"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if enabled {
		t.Error("user without group enabled by group-gated flag")
	}
}

func TestEvaluateCustomRuleGate(t *testing.T) {
	engine := NewEngine(store.NewMemory(), testLogger())
	ctx := context.Background()

	cfg := FlagConfig{
		Enabled:    true,
		Percentage: 100,
		Rules: []domain.FlagRule{
			{Type: domain.RuleCustom, Condition: "plan", Value: "pro"},
		},
	}
	if _, err := engine.CreateFlag(ctx, "evo-1", cfg); err != nil {
		t.Fatalf("CreateFlag: %v", err)
	}

	enabled, err := engine.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{
		UserID:     "u1",
		Attributes: map[string]any{"plan": "pro"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !enabled {
		t.Error("matching attribute not enabled")
	}

	enabled, err = engine.Evaluate(ctx, FlagID("evo-1"), domain.EvalContext{
		UserID:     "u1",
		Attributes: map[string]any{"plan": "free"},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if enabled {
		t.Error("mismatched attribute enabled")
	}
}
