package validate

import "testing"

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   trend
	}{
		{"empty", nil, trendStable},
		{"single", []float64{1}, trendStable},
		{"flat", []float64{5, 5, 5, 5}, trendStable},
		{"small drift", []float64{100, 100, 105, 105}, trendStable},
		{"increasing", []float64{100, 100, 150, 150}, trendIncreasing},
		{"decreasing", []float64{100, 100, 50, 50}, trendDecreasing},
		{"from zero", []float64{0, 0, 1, 1}, trendIncreasing},
		{"all zero", []float64{0, 0, 0, 0}, trendStable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyTrend(tc.values); got != tc.want {
				t.Errorf("classifyTrend(%v) = %s, want %s", tc.values, got, tc.want)
			}
		})
	}
}

func TestTrailingMean(t *testing.T) {
	if _, ok := trailingMean([]float64{1, 2}, 3); ok {
		t.Error("trailingMean reported ok with too few values")
	}
	got, ok := trailingMean([]float64{10, 1, 2, 3}, 3)
	if !ok {
		t.Fatal("trailingMean not ok")
	}
	if got != 2 {
		t.Errorf("trailingMean = %v, want 2", got)
	}
}
