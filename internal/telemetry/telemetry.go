package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/afsalb/deep-researcher/config"
)

// Telemetry tracks run outcomes, per-stage timings and LLM spend.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds aggregate performance counters.
type Metrics struct {
	TotalRuns             int64
	SuccessfulRuns        int64
	FailedRuns            int64
	EmptyRuns             int64 // runs that ended without sources
	AverageProcessingTime time.Duration

	StageExecutions map[string]int64
	StageAverages   map[string]time.Duration

	ChatTurns     map[string]int64 // by route
	DegradedTurns int64

	TierRequests   map[string]int64
	TierTokensUsed map[string]int64
}

// CostTracker accumulates LLM spend by session and model tier.
type CostTracker struct {
	SessionCosts map[string]float64
	TierCosts    map[string]float64
	TotalCost    float64
	TotalTokens  int64
}

// RunEvent is one completed research run.
type RunEvent struct {
	RunID          string
	Topic          string
	Stage          string // final stage
	Success        bool
	Empty          bool
	ProcessingTime time.Duration
	Cost           float64
	TokensUsed     int64
}

// StageEvent is one pipeline stage execution.
type StageEvent struct {
	RunID    string
	Stage    string
	Duration time.Duration
	Err      error
}

// TurnEvent is one chat turn.
type TurnEvent struct {
	SessionID string
	Route     string
	Degraded  bool
	Duration  time.Duration
	Cost      float64
}

func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions: make(map[string]int64),
			StageAverages:   make(map[string]time.Duration),
			ChatTurns:       make(map[string]int64),
			TierRequests:    make(map[string]int64),
			TierTokensUsed:  make(map[string]int64),
		},
		costTracker: &CostTracker{
			SessionCosts: make(map[string]float64),
			TierCosts:    make(map[string]float64),
		},
	}
	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startCostReporting()
	}
	return t
}

// RecordRunEvent records a completed research run.
func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	switch {
	case event.Empty:
		t.metrics.EmptyRuns++
	case event.Success:
		t.metrics.SuccessfulRuns++
	default:
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageProcessingTime = event.ProcessingTime
	} else {
		total := t.metrics.AverageProcessingTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageProcessingTime = (total + event.ProcessingTime) / time.Duration(t.metrics.TotalRuns)
	}

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	runsTotal.WithLabelValues(event.Stage).Inc()
	runDuration.Observe(event.ProcessingTime.Seconds())
	llmCost.Add(event.Cost)

	t.logger.Printf("Run: ID=%s, Stage=%s, Duration=%v, Cost=$%.4f, Tokens=%d",
		event.RunID, event.Stage, event.ProcessingTime, event.Cost, event.TokensUsed)
}

// RecordStageEvent records one pipeline stage execution.
func (t *Telemetry) RecordStageEvent(event StageEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++
	n := t.metrics.StageExecutions[event.Stage]
	if n == 1 {
		t.metrics.StageAverages[event.Stage] = event.Duration
	} else {
		total := t.metrics.StageAverages[event.Stage] * time.Duration(n-1)
		t.metrics.StageAverages[event.Stage] = (total + event.Duration) / time.Duration(n)
	}

	stageDuration.WithLabelValues(event.Stage).Observe(event.Duration.Seconds())
}

// RecordTurnEvent records one chat turn.
func (t *Telemetry) RecordTurnEvent(event TurnEvent) {
	if !t.config.Enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.ChatTurns[event.Route]++
	if event.Degraded {
		t.metrics.DegradedTurns++
	}

	// Spend is already booked per call through AddSessionCost; the event's
	// Cost is the session running total, reported here for the log only.
	chatTurns.WithLabelValues(event.Route).Inc()

	t.logger.Printf("Turn: Session=%s, Route=%s, Degraded=%v, Duration=%v, SessionCost=$%.4f",
		event.SessionID, event.Route, event.Degraded, event.Duration, event.Cost)
}

// AddSessionCost accumulates cost against a session and returns the new total.
// The guardrail layer compares this against the per-session budget.
func (t *Telemetry) AddSessionCost(sessionID string, cost float64, tokens int64, tier string) float64 {
	if !t.config.CostTracking {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.costTracker.SessionCosts[sessionID] += cost
	t.costTracker.TierCosts[tier] += cost
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += tokens
	t.metrics.TierRequests[tier]++
	t.metrics.TierTokensUsed[tier] += tokens
	llmCost.Add(cost)
	return t.costTracker.SessionCosts[sessionID]
}

// SessionCost returns the accumulated spend for a session.
func (t *Telemetry) SessionCost(sessionID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.costTracker.SessionCosts[sessionID]
}

// ForgetSession drops cost bookkeeping for an expired session.
func (t *Telemetry) ForgetSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.costTracker.SessionCosts, sessionID)
}

// GetMetrics returns a snapshot of the aggregate counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := *t.metrics
	m.StageExecutions = copyMap(t.metrics.StageExecutions)
	m.StageAverages = copyMap(t.metrics.StageAverages)
	m.ChatTurns = copyMap(t.metrics.ChatTurns)
	m.TierRequests = copyMap(t.metrics.TierRequests)
	m.TierTokensUsed = copyMap(t.metrics.TierTokensUsed)
	return m
}

// GetCostSummary returns a snapshot of accumulated spend.
func (t *Telemetry) GetCostSummary() CostTracker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return CostTracker{
		SessionCosts: copyMap(t.costTracker.SessionCosts),
		TierCosts:    copyMap(t.costTracker.TierCosts),
		TotalCost:    t.costTracker.TotalCost,
		TotalTokens:  t.costTracker.TotalTokens,
	}
}

func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		summary := t.GetCostSummary()
		t.logger.Printf("Cost summary: total=$%.4f tokens=%d sessions=%d",
			summary.TotalCost, summary.TotalTokens, len(summary.SessionCosts))
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
