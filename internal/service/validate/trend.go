package validate

// trend classifies how a metric moved over the sampling window.
type trend int

const (
	trendStable trend = iota
	trendIncreasing
	trendDecreasing
)

func (t trend) String() string {
	switch t {
	case trendIncreasing:
		return "increasing"
	case trendDecreasing:
		return "decreasing"
	default:
		return "stable"
	}
}

// classifyTrend splits the sample sequence in half and compares means. A
// relative change beyond ±10% counts as a trend; anything less is stable.
func classifyTrend(values []float64) trend {
	if len(values) < 2 {
		return trendStable
	}
	mid := len(values) / 2
	first := mean(values[:mid])
	second := mean(values[mid:])

	if first == 0 {
		if second > 0 {
			return trendIncreasing
		}
		return trendStable
	}
	change := (second - first) / first
	switch {
	case change > 0.10:
		return trendIncreasing
	case change < -0.10:
		return trendDecreasing
	default:
		return trendStable
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func trailingMean(values []float64, window int) (float64, bool) {
	if len(values) < window {
		return 0, false
	}
	return mean(values[len(values)-window:]), true
}
