// Package drift keeps a bounded history of divergence samples and flags
// statistically anomalous values by z-score.
package drift

import (
	"fmt"
	"math"
	"sync"
)

const (
	DefaultCapacity   = 100
	DefaultMinSamples = 5
	DefaultThreshold  = 2.5
)

// Sample is one recorded request outcome.
type Sample struct {
	Divergence     float64
	ViolationCount int
}

// Alert is derived from the history at query time and never stored.
type Alert struct {
	Detected       bool    `json:"detected"`
	ZScore         float64 `json:"z_score"`
	HistoricalMean float64 `json:"historical_mean"`
	CurrentValue   float64 `json:"current_value"`
	Explanation    string  `json:"explanation"`
}

// Options tunes a History. Zero values fall back to the defaults.
type Options struct {
	Capacity   int
	MinSamples int
	Threshold  float64
}

// History is a fixed-capacity ring of samples. One lock guards all access.
type History struct {
	mu         sync.Mutex
	buf        []Sample
	next       int
	full       bool
	minSamples int
	threshold  float64
}

func NewHistory(opts Options) *History {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = DefaultMinSamples
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	return &History{
		buf:        make([]Sample, opts.Capacity),
		minSamples: opts.MinSamples,
		threshold:  opts.Threshold,
	}
}

// Record appends a sample, evicting the oldest when full.
func (h *History) Record(divergence float64, violationCount int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordLocked(divergence, violationCount)
}

// Detect evaluates current against the recorded divergences.
func (h *History) Detect(current float64) Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detectLocked(current)
}

// Observe records the sample and then evaluates it against a history that
// already contains it, atomically with respect to other callers.
func (h *History) Observe(divergence float64, violationCount int) Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recordLocked(divergence, violationCount)
	return h.detectLocked(divergence)
}

// Len reports how many samples are held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lenLocked()
}

// Samples returns the held samples oldest first.
func (h *History) Samples() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.samplesLocked()
}

// Cap is the window capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Stats summarizes the window for health reporting.
type Stats struct {
	Samples          int
	MeanDivergence   float64
	ViolationRate    float64
	LatestDivergence float64
	LatestAlert      Alert
}

func (h *History) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	samples := h.samplesLocked()
	st := Stats{Samples: len(samples)}
	if len(samples) == 0 {
		st.LatestAlert = h.detectLocked(0)
		return st
	}
	var sum float64
	var withViolations int
	for _, s := range samples {
		sum += s.Divergence
		if s.ViolationCount > 0 {
			withViolations++
		}
	}
	st.MeanDivergence = sum / float64(len(samples))
	st.ViolationRate = float64(withViolations) / float64(len(samples))
	st.LatestDivergence = samples[len(samples)-1].Divergence
	st.LatestAlert = h.detectLocked(st.LatestDivergence)
	return st
}

func (h *History) recordLocked(divergence float64, violationCount int) {
	h.buf[h.next] = Sample{Divergence: divergence, ViolationCount: violationCount}
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.buf)
	}
	return h.next
}

func (h *History) samplesLocked() []Sample {
	n := h.lenLocked()
	out := make([]Sample, 0, n)
	if h.full {
		out = append(out, h.buf[h.next:]...)
		out = append(out, h.buf[:h.next]...)
		return out
	}
	return append(out, h.buf[:h.next]...)
}

func (h *History) detectLocked(current float64) Alert {
	samples := h.samplesLocked()
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Divergence
	}

	if len(samples) < h.minSamples {
		alert := Alert{
			CurrentValue: current,
			Explanation:  "Insufficient history for drift detection",
		}
		if len(values) >= 2 {
			alert.HistoricalMean, _ = meanStdDev(values)
		}
		return alert
	}

	mean, sd := meanStdDev(values)
	if sd == 0 {
		return Alert{
			HistoricalMean: mean,
			CurrentValue:   current,
			Explanation:    "No variation in historical data",
		}
	}

	z := (current - mean) / sd
	alert := Alert{
		Detected:       math.Abs(z) > h.threshold,
		ZScore:         z,
		HistoricalMean: mean,
		CurrentValue:   current,
	}
	if alert.Detected {
		alert.Explanation = fmt.Sprintf("Drift detected! Z-score=%.2f (current=%.3f, historical_mean=%.3f). Model behavior has shifted significantly.", z, current, mean)
	} else {
		alert.Explanation = fmt.Sprintf("Within normal range. Z-score=%.2f. Model behavior is stable (mean=%.3f).", z, mean)
	}
	return alert
}

// meanStdDev returns the mean and the sample (n-1) standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if len(values) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)-1))
}
