package telemetry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/afsalb/deep-researcher/config"
)

func enabled() config.TelemetryConfig {
	return config.TelemetryConfig{Enabled: true, CostTracking: true}
}

func TestRunEventCounters(t *testing.T) {
	tel := New(enabled())

	tel.RecordRunEvent(RunEvent{RunID: "r1", Stage: "done", Success: true, ProcessingTime: 10 * time.Second, Cost: 0.5, TokensUsed: 1000})
	tel.RecordRunEvent(RunEvent{RunID: "r2", Stage: "error_no_sources", Empty: true, ProcessingTime: 2 * time.Second})
	tel.RecordRunEvent(RunEvent{RunID: "r3", Stage: "failed", ProcessingTime: 6 * time.Second})

	m := tel.GetMetrics()
	if m.TotalRuns != 3 || m.SuccessfulRuns != 1 || m.EmptyRuns != 1 || m.FailedRuns != 1 {
		t.Fatalf("run counters wrong: %+v", m)
	}
	if m.AverageProcessingTime != 6*time.Second {
		t.Fatalf("expected 6s average, got %v", m.AverageProcessingTime)
	}
}

func TestStageAverages(t *testing.T) {
	tel := New(enabled())

	tel.RecordStageEvent(StageEvent{Stage: "analyzing", Duration: 2 * time.Second})
	tel.RecordStageEvent(StageEvent{Stage: "analyzing", Duration: 4 * time.Second})
	tel.RecordStageEvent(StageEvent{Stage: "retrieving", Duration: time.Second})

	m := tel.GetMetrics()
	wantExec := map[string]int64{"analyzing": 2, "retrieving": 1}
	if diff := cmp.Diff(wantExec, m.StageExecutions); diff != "" {
		t.Fatalf("stage executions mismatch (-want +got):\n%s", diff)
	}
	wantAvg := map[string]time.Duration{"analyzing": 3 * time.Second, "retrieving": time.Second}
	if diff := cmp.Diff(wantAvg, m.StageAverages); diff != "" {
		t.Fatalf("stage averages mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionCostLifecycle(t *testing.T) {
	tel := New(enabled())

	if total := tel.AddSessionCost("s1", 0.25, 500, "analysis"); total != 0.25 {
		t.Fatalf("expected 0.25, got %f", total)
	}
	if total := tel.AddSessionCost("s1", 0.50, 800, "synthesis"); total != 0.75 {
		t.Fatalf("expected 0.75, got %f", total)
	}
	tel.AddSessionCost("s2", 0.125, 100, "analysis")

	summary := tel.GetCostSummary()
	wantSessions := map[string]float64{"s1": 0.75, "s2": 0.125}
	if diff := cmp.Diff(wantSessions, summary.SessionCosts); diff != "" {
		t.Fatalf("session costs mismatch (-want +got):\n%s", diff)
	}
	wantTiers := map[string]float64{"analysis": 0.375, "synthesis": 0.5}
	if diff := cmp.Diff(wantTiers, summary.TierCosts); diff != "" {
		t.Fatalf("tier costs mismatch (-want +got):\n%s", diff)
	}
	if summary.TotalTokens != 1400 {
		t.Fatalf("expected 1400 tokens, got %d", summary.TotalTokens)
	}

	tel.ForgetSession("s1")
	if cost := tel.SessionCost("s1"); cost != 0 {
		t.Fatalf("expected forgotten session, got %f", cost)
	}
	if cost := tel.SessionCost("s2"); cost != 0.125 {
		t.Fatalf("unrelated session lost: %f", cost)
	}
}

func TestTurnEventDoesNotBookSpend(t *testing.T) {
	tel := New(enabled())

	tel.AddSessionCost("s1", 0.25, 100, "synthesis")
	tel.RecordTurnEvent(TurnEvent{SessionID: "s1", Route: "context", Cost: tel.SessionCost("s1")})

	// The per-call bookings are the only source of spend; the turn event
	// just reports the running total.
	if got := tel.SessionCost("s1"); got != 0.25 {
		t.Fatalf("turn event re-booked spend: %f", got)
	}
	if got := tel.GetMetrics().ChatTurns["context"]; got != 1 {
		t.Fatalf("turn not counted: %d", got)
	}
}

func TestDisabledTelemetryRecordsNothing(t *testing.T) {
	tel := New(config.TelemetryConfig{})

	tel.RecordRunEvent(RunEvent{RunID: "r1", Stage: "done", Success: true})
	tel.RecordTurnEvent(TurnEvent{SessionID: "s1", Route: "context"})
	tel.AddSessionCost("s1", 5, 100, "analysis")

	m := tel.GetMetrics()
	if m.TotalRuns != 0 || len(m.ChatTurns) != 0 {
		t.Fatalf("disabled telemetry recorded events: %+v", m)
	}
	if tel.SessionCost("s1") != 0 {
		t.Fatal("disabled cost tracking still accumulated spend")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	tel := New(enabled())
	tel.RecordStageEvent(StageEvent{Stage: "analyzing", Duration: time.Second})

	m := tel.GetMetrics()
	m.StageExecutions["analyzing"] = 99

	if got := tel.GetMetrics().StageExecutions["analyzing"]; got != 1 {
		t.Fatalf("snapshot mutation leaked into internal state: %d", got)
	}
}
