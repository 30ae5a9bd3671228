// Package flags implements the feature flag engine gating evolution rollout.
package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/splax/rollout/internal/domain"
	"github.com/splax/rollout/internal/store"
)

// ErrNotFound indicates no flag exists for the given evolution.
var ErrNotFound = errors.New("flags: not found")

// FlagConfig carries the initial configuration for a new flag.
type FlagConfig struct {
	Enabled    bool              `json:"enabled"`
	Percentage float64           `json:"percentage"`
	UserGroups []string          `json:"user_groups,omitempty"`
	Rules      []domain.FlagRule `json:"rules,omitempty"`
}

// FlagUpdate carries a partial update; nil fields are left unchanged.
type FlagUpdate struct {
	Enabled    *bool             `json:"enabled,omitempty"`
	Percentage *float64          `json:"percentage,omitempty"`
	UserGroups []string          `json:"user_groups,omitempty"`
	Rules      []domain.FlagRule `json:"rules,omitempty"`
}

// Engine owns the flag table for one control-plane instance. Reads are
// lock-free for concurrent evaluation; mutations serialize so Version stays
// monotonic. Flags write through to the KV store and reload lazily on miss,
// so a restarted instance recovers its table.
type Engine struct {
	kv     store.KV
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	table map[string]domain.FeatureFlag
}

// NewEngine returns a flag engine backed by the given KV store.
func NewEngine(kv store.KV, logger *slog.Logger) *Engine {
	if kv == nil {
		kv = store.NewMemory()
	}
	if logger != nil {
		logger = logger.With("component", "flags")
	}
	return &Engine{
		kv:     kv,
		logger: logger,
		now:    time.Now,
		table:  make(map[string]domain.FeatureFlag),
	}
}

// FlagID derives the flag identifier for an evolution.
func FlagID(evolutionID string) string {
	return "flag-" + evolutionID
}

// CreateFlag creates the flag for an evolution.
func (e *Engine) CreateFlag(ctx context.Context, evolutionID string, cfg FlagConfig) (*domain.FeatureFlag, error) {
	if strings.TrimSpace(evolutionID) == "" {
		return nil, errors.New("flags: evolution id required")
	}
	if err := validatePercentage(cfg.Percentage); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	flag := domain.FeatureFlag{
		ID:         FlagID(evolutionID),
		Enabled:    cfg.Enabled,
		Percentage: cfg.Percentage,
		UserGroups: append([]string(nil), cfg.UserGroups...),
		Rules:      append([]domain.FlagRule(nil), cfg.Rules...),
		Metadata: domain.FlagMetadata{
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		},
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.persist(ctx, flag); err != nil {
		return nil, err
	}
	e.table[flag.ID] = flag
	if e.logger != nil {
		e.logger.Info("flag created", "flag_id", flag.ID, "percentage", flag.Percentage, "enabled", flag.Enabled)
	}
	out := flag
	return &out, nil
}

// UpdateFlag applies a partial update, bumping the flag version.
func (e *Engine) UpdateFlag(ctx context.Context, evolutionID string, update FlagUpdate) (*domain.FeatureFlag, error) {
	if update.Percentage != nil {
		if err := validatePercentage(*update.Percentage); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	flag, err := e.lookupLocked(ctx, FlagID(evolutionID))
	if err != nil {
		return nil, err
	}
	if update.Enabled != nil {
		flag.Enabled = *update.Enabled
	}
	if update.Percentage != nil {
		flag.Percentage = *update.Percentage
	}
	if update.UserGroups != nil {
		flag.UserGroups = append([]string(nil), update.UserGroups...)
	}
	if update.Rules != nil {
		flag.Rules = append([]domain.FlagRule(nil), update.Rules...)
	}
	flag.Metadata.UpdatedAt = e.now().UTC()
	flag.Metadata.Version++

	if err := e.persist(ctx, flag); err != nil {
		return nil, err
	}
	e.table[flag.ID] = flag
	if e.logger != nil {
		e.logger.Info("flag updated", "flag_id", flag.ID, "version", flag.Metadata.Version)
	}
	out := flag
	return &out, nil
}

// GetFlag returns the current flag for an evolution.
func (e *Engine) GetFlag(ctx context.Context, evolutionID string) (*domain.FeatureFlag, error) {
	e.mu.RLock()
	flag, ok := e.table[FlagID(evolutionID)]
	e.mu.RUnlock()
	if ok {
		out := flag
		return &out, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	loaded, err := e.lookupLocked(ctx, FlagID(evolutionID))
	if err != nil {
		return nil, err
	}
	out := loaded
	return &out, nil
}

// DeleteFlag removes the flag for a retired evolution.
func (e *Engine) DeleteFlag(ctx context.Context, evolutionID string) error {
	id := FlagID(evolutionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.lookupLocked(ctx, id); err != nil {
		return err
	}
	if err := e.kv.Delete(ctx, id); err != nil {
		return err
	}
	delete(e.table, id)
	if e.logger != nil {
		e.logger.Info("flag deleted", "flag_id", id)
	}
	return nil
}

// Evaluate decides whether the user described by evalCtx sees the new
// version. Checks short-circuit in order: disabled flag, group membership,
// percentage bucket, then every targeting rule.
func (e *Engine) Evaluate(ctx context.Context, flagID string, evalCtx domain.EvalContext) (bool, error) {
	e.mu.RLock()
	flag, ok := e.table[flagID]
	e.mu.RUnlock()
	if !ok {
		e.mu.Lock()
		loaded, err := e.lookupLocked(ctx, flagID)
		e.mu.Unlock()
		if err != nil {
			return false, err
		}
		flag = loaded
	}

	if !flag.Enabled {
		return false, nil
	}
	if len(flag.UserGroups) > 0 {
		if evalCtx.UserGroup == "" || !containsString(flag.UserGroups, evalCtx.UserGroup) {
			return false, nil
		}
	}
	if flag.Percentage < 100 {
		if Bucket(evalCtx.UserID) >= flag.Percentage {
			return false, nil
		}
	}
	for _, rule := range flag.Rules {
		if !evaluateRule(rule, evalCtx) {
			return false, nil
		}
	}
	return true, nil
}

// lookupLocked resolves a flag from the table or, failing that, the KV
// store. Callers hold e.mu.
func (e *Engine) lookupLocked(ctx context.Context, flagID string) (domain.FeatureFlag, error) {
	if flag, ok := e.table[flagID]; ok {
		return flag, nil
	}
	raw, err := e.kv.Load(ctx, flagID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.FeatureFlag{}, ErrNotFound
		}
		return domain.FeatureFlag{}, err
	}
	var flag domain.FeatureFlag
	if err := json.Unmarshal(raw, &flag); err != nil {
		return domain.FeatureFlag{}, fmt.Errorf("flags: decode %s: %w", flagID, err)
	}
	e.table[flagID] = flag
	return flag, nil
}

func (e *Engine) persist(ctx context.Context, flag domain.FeatureFlag) error {
	raw, err := json.Marshal(flag)
	if err != nil {
		return err
	}
	return e.kv.Save(ctx, flag.ID, raw)
}

func validatePercentage(p float64) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("flags: percentage %.2f out of range [0,100]", p)
	}
	return nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
