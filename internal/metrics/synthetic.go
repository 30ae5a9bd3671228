package metrics

import (
	"context"
	"math/rand"
	"sync"
)

// Synthetic is a seeded pseudo-random metrics source for local development
// and demos. Values follow a bounded random walk so trends look plausible
// over a sampling window.
type Synthetic struct {
	mu         sync.Mutex
	random     *rand.Rand
	errorRate  float64
	latency    float64
	cpu        float64
	memory     float64
	conversion float64
}

// NewSynthetic returns a Synthetic source with a deterministic seed.
func NewSynthetic(seed int64) *Synthetic {
	return &Synthetic{
		random:     rand.New(rand.NewSource(seed)),
		errorRate:  0.01,
		latency:    180,
		cpu:        35,
		memory:     50,
		conversion: 0.052,
	}
}

func (s *Synthetic) walk(value, step, min, max float64) float64 {
	value += (s.random.Float64()*2 - 1) * step
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	return value
}

// ErrorRate returns the current synthetic error rate.
func (s *Synthetic) ErrorRate(_ context.Context, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorRate = s.walk(s.errorRate, 0.005, 0, 0.25)
	return s.errorRate, nil
}

// ResponseTimes returns synthetic latency percentiles.
func (s *Synthetic) ResponseTimes(_ context.Context, _ string) (ResponseTimes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = s.walk(s.latency, 25, 40, 1500)
	return ResponseTimes{
		Average: s.latency,
		P95:     s.latency * 1.8,
		P99:     s.latency * 2.6,
	}, nil
}

// ResourceUsage returns synthetic CPU and memory usage.
func (s *Synthetic) ResourceUsage(_ context.Context, _ string) (ResourceUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu = s.walk(s.cpu, 6, 2, 100)
	s.memory = s.walk(s.memory, 4, 5, 100)
	return ResourceUsage{CPU: s.cpu, Memory: s.memory}, nil
}

// UserFeedback returns synthetic feedback; roughly 30% of periods have none.
func (s *Synthetic) UserFeedback(_ context.Context, _ string) (Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.random.Float64() < 0.3 {
		return Feedback{}, nil
	}
	return Feedback{
		Score:      3.2 + s.random.Float64()*1.8,
		SampleSize: 5 + s.random.Intn(60),
		OK:         true,
	}, nil
}

// BusinessMetrics returns a synthetic conversion rate.
func (s *Synthetic) BusinessMetrics(_ context.Context, _ string) (BusinessMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversion = s.walk(s.conversion, 0.002, 0.01, 0.2)
	return BusinessMetrics{ConversionRate: s.conversion}, nil
}

var _ Source = (*Synthetic)(nil)
