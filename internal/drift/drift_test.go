package drift

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectInsufficientHistory(t *testing.T) {
	h := NewHistory(Options{})
	for i := 0; i < 4; i++ {
		a := h.Detect(100)
		assert.False(t, a.Detected)
		assert.Equal(t, "Insufficient history for drift detection", a.Explanation)
		assert.Equal(t, 0.0, a.ZScore)
		h.Record(float64(i), 0)
	}
	a := h.Detect(100)
	assert.False(t, a.Detected)
	assert.Equal(t, 100.0, a.CurrentValue)
	assert.InDelta(t, 1.5, a.HistoricalMean, 1e-12)
}

func TestDetectNoVariation(t *testing.T) {
	h := NewHistory(Options{})
	for i := 0; i < 5; i++ {
		h.Record(0.3, 0)
	}
	a := h.Detect(0.9)
	assert.False(t, a.Detected)
	assert.Equal(t, "No variation in historical data", a.Explanation)
	assert.InDelta(t, 0.3, a.HistoricalMean, 1e-12)
}

func TestDetectOutlierAgainstStableHistory(t *testing.T) {
	h := NewHistory(Options{})
	for _, v := range []float64{0.1, 0.12, 0.11, 0.13, 0.12} {
		h.Record(v, 0)
	}
	a := h.Detect(10.12)
	require.True(t, a.Detected)
	assert.Greater(t, math.Abs(a.ZScore), 2.5)
	assert.InDelta(t, 0.116, a.HistoricalMean, 1e-9)
	assert.Contains(t, a.Explanation, "Drift detected! Z-score=")
	assert.Contains(t, a.Explanation, "current=10.120")
	assert.Contains(t, a.Explanation, "historical_mean=0.116")
}

func TestDetectWithinRange(t *testing.T) {
	h := NewHistory(Options{})
	for _, v := range []float64{0.1, 0.2, 0.3, 0.4, 0.5} {
		h.Record(v, 0)
	}
	a := h.Detect(0.35)
	assert.False(t, a.Detected)
	assert.Equal(t, "Within normal range. Z-score=0.32. Model behavior is stable (mean=0.300).", a.Explanation)
}

func TestObserveIncludesCurrentSample(t *testing.T) {
	h := NewHistory(Options{})
	for i := 0; i < 5; i++ {
		h.Record(0.1, 0)
	}
	// The outlier becomes part of its own baseline, which caps |z| for a
	// window of six at (n-1)/sqrt(n) ~= 2.04.
	a := h.Observe(10.1, 1)
	assert.False(t, a.Detected)
	assert.InDelta(t, 5/math.Sqrt(6), a.ZScore, 1e-9)
	assert.Equal(t, 6, h.Len())
}

func TestObserveDetectsOnceBaselineIsLarge(t *testing.T) {
	h := NewHistory(Options{})
	for i := 0; i < 60; i++ {
		h.Record(0.1+float64(i%2)*0.01, 0)
	}
	a := h.Observe(0.9, 0)
	assert.True(t, a.Detected)
}

func TestRingEvictsOldest(t *testing.T) {
	h := NewHistory(Options{Capacity: 3})
	for i := 1; i <= 5; i++ {
		h.Record(float64(i), i)
	}
	assert.Equal(t, 3, h.Len())
	assert.Equal(t, []Sample{{3, 3}, {4, 4}, {5, 5}}, h.Samples())
}

func TestDefaultCapacity(t *testing.T) {
	h := NewHistory(Options{})
	for i := 0; i < 250; i++ {
		h.Record(float64(i), 0)
	}
	samples := h.Samples()
	require.Len(t, samples, DefaultCapacity)
	assert.Equal(t, 150.0, samples[0].Divergence)
	assert.Equal(t, 249.0, samples[len(samples)-1].Divergence)
}

func TestStats(t *testing.T) {
	h := NewHistory(Options{})
	st := h.Stats()
	assert.Equal(t, 0, st.Samples)
	assert.False(t, st.LatestAlert.Detected)

	h.Record(0.2, 0)
	h.Record(0.4, 2)
	h.Record(0.6, 0)
	h.Record(0.8, 1)
	st = h.Stats()
	assert.Equal(t, 4, st.Samples)
	assert.InDelta(t, 0.5, st.MeanDivergence, 1e-12)
	assert.InDelta(t, 0.5, st.ViolationRate, 1e-12)
	assert.Equal(t, 0.8, st.LatestDivergence)
}

func TestConcurrentObserve(t *testing.T) {
	h := NewHistory(Options{Capacity: 50})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a := h.Observe(float64(g)/10, 0)
				if a.Explanation == "" {
					t.Errorf("empty explanation")
					return
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 50, h.Len())
}

func TestHistoriesAreIsolated(t *testing.T) {
	a := NewHistory(Options{})
	b := NewHistory(Options{})
	a.Record(1, 0)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
}
