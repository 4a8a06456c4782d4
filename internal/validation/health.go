package validation

const (
	StatusHealthy  = "HEALTHY"
	StatusDegraded = "DEGRADED"
	StatusCritical = "CRITICAL"
)

const (
	degradedViolationRate = 0.3
	criticalViolationRate = 0.6
)

// Health summarizes the engine over the drift window.
type Health struct {
	UptimeRequests        int64   `json:"uptime_requests"`
	RecentDivergenceAvg   float64 `json:"recent_divergence_avg"`
	RecentViolationRate   float64 `json:"recent_violation_rate"`
	DriftDetected         bool    `json:"drift_detected"`
	LastCriticalViolation *string `json:"last_critical_violation"`
	Status                string  `json:"status"`
	Strategy              string  `json:"divergence_strategy"`
}

// Health reports CRITICAL when a BLOCK happened within the last window of
// requests or the violation rate is at least 0.6, DEGRADED on drift or a
// violation rate of at least 0.3, HEALTHY otherwise.
func (e *Engine) Health() Health {
	st := e.history.Stats()

	e.mu.Lock()
	requests, lastBlock, lastCritical := e.requests, e.lastBlockSeq, e.lastCritical
	e.mu.Unlock()

	h := Health{
		UptimeRequests:      requests,
		RecentDivergenceAvg: st.MeanDivergence,
		RecentViolationRate: st.ViolationRate,
		DriftDetected:       st.LatestAlert.Detected,
		Strategy:            e.estimator.Name(),
	}
	if lastBlock > 0 {
		msg := lastCritical
		h.LastCriticalViolation = &msg
	}

	recentBlock := lastBlock > 0 && requests-lastBlock < int64(e.history.Cap())
	switch {
	case recentBlock || st.ViolationRate >= criticalViolationRate:
		h.Status = StatusCritical
	case st.LatestAlert.Detected || st.ViolationRate >= degradedViolationRate:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}
