// Package metrics defines the contract to the external APM/metrics source
// consumed by the monitor and the post-deployment validator.
package metrics

import (
	"context"
	"errors"
)

// ErrUnavailable indicates a transient failure reaching the metrics source.
// Callers running periodic loops treat it as a missing sample, not a fatal
// condition.
var ErrUnavailable = errors.New("metrics: source unavailable")

// ResponseTimes holds response-time percentiles in milliseconds.
type ResponseTimes struct {
	Average float64
	P95     float64
	P99     float64
}

// ResourceUsage holds instantaneous resource consumption in percent.
type ResourceUsage struct {
	CPU    float64
	Memory float64
}

// Feedback is an optional user-feedback observation. OK is false when no
// feedback was collected for the sampling period.
type Feedback struct {
	Score      float64
	SampleSize int
	OK         bool
}

// BusinessMetrics holds business-level indicators.
type BusinessMetrics struct {
	ConversionRate float64
}

// Source is the abstract query interface to the external APM system. All
// methods return the current observation for the given deployment.
type Source interface {
	ErrorRate(ctx context.Context, deploymentID string) (float64, error)
	ResponseTimes(ctx context.Context, deploymentID string) (ResponseTimes, error)
	ResourceUsage(ctx context.Context, deploymentID string) (ResourceUsage, error)
	UserFeedback(ctx context.Context, deploymentID string) (Feedback, error)
	BusinessMetrics(ctx context.Context, deploymentID string) (BusinessMetrics, error)
}
