package research

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afsalb/deep-researcher/config"
	"github.com/afsalb/deep-researcher/internal/telemetry"
)

// Stage is one state of the research pipeline.
type Stage string

const (
	StageDecomposing        Stage = "decomposing"
	StageRetrieving         Stage = "retrieving"
	StageAnalyzing          Stage = "analyzing"
	StageGeneratingInsights Stage = "generating_insights"
	StageBuildingReport     Stage = "building_report"
	StageSummarizing        Stage = "summarizing"
	StageDone               Stage = "done"
	StageErrorNoSources     Stage = "error_no_sources"
	StageFailed             Stage = "failed"
)

// Terminal reports whether the pipeline stops at this stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageErrorNoSources || s == StageFailed
}

// stageResult is the tagged outcome of one stage execution: either the next
// stage to enter, or the error that failed the run.
type stageResult struct {
	next Stage
	err  error
}

// Status is the externally visible progress of one run.
type Status struct {
	RunID       string    `json:"run_id"`
	Topic       string    `json:"topic"`
	Stage       Stage     `json:"stage"`
	Progress    float64   `json:"progress"` // 0.0 to 1.0
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
}

var stageProgress = map[Stage]float64{
	StageDecomposing:        0.05,
	StageRetrieving:         0.2,
	StageAnalyzing:          0.4,
	StageGeneratingInsights: 0.7,
	StageBuildingReport:     0.8,
	StageSummarizing:        0.95,
	StageDone:               1.0,
	StageErrorNoSources:     1.0,
	StageFailed:             1.0,
}

// Orchestrator drives one topic through the pipeline:
// Decomposing -> Retrieving -> {ErrorNoSources | Analyzing} ->
// GeneratingInsights -> BuildingReport -> Summarizing -> Done.
// Stages run strictly sequentially; fan-out only happens inside the
// retriever and the analyzer, each fully joined before the stage completes.
type Orchestrator struct {
	cfg        *config.Config
	logger     *log.Logger
	telemetry  *telemetry.Telemetry
	decomposer *QueryDecomposer
	retriever  *Retriever
	analyzer   *Analyzer
	insights   *InsightGenerator
	builder    *ReportBuilder
	summarizer *Summarizer

	running map[string]*Status
	mu      sync.RWMutex

	semaphore chan struct{}
}

func NewOrchestrator(cfg *config.Config, llm LLMProvider, providers []SearchProvider, fetcher PageFetcher, tel *telemetry.Telemetry) *Orchestrator {
	maxRuns := cfg.Research.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	llm = meteredLLM{inner: llm}
	return &Orchestrator{
		cfg:        cfg,
		logger:     log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
		telemetry:  tel,
		decomposer: NewQueryDecomposer(cfg.Research, llm),
		retriever:  NewRetriever(cfg.Research, cfg.Search, providers, fetcher),
		analyzer:   NewAnalyzer(cfg.Research, llm),
		insights:   NewInsightGenerator(llm),
		builder:    NewReportBuilder(llm),
		summarizer: NewSummarizer(llm),
		running:    make(map[string]*Status),
		semaphore:  make(chan struct{}, maxRuns),
	}
}

// Analyzer exposes the analyzer for the chat router's search and file routes.
func (o *Orchestrator) Analyzer() *Analyzer { return o.analyzer }

// Retriever exposes the retriever for the chat router's search route.
func (o *Orchestrator) Retriever() *Retriever { return o.retriever }

// Run executes the full pipeline for topic, blocking until a terminal stage.
// uploaded documents participate in retrieval alongside web results.
func (o *Orchestrator) Run(ctx context.Context, topic string, uploaded []Source) (Result, error) {
	return o.RunWithID(ctx, uuid.NewString(), topic, uploaded)
}

// RunWithID runs the pipeline under a caller-chosen run ID so the caller can
// poll status while the run is still queued on the semaphore.
func (o *Orchestrator) RunWithID(ctx context.Context, runID, topic string, uploaded []Source) (Result, error) {
	startTime := time.Now()
	o.setStatus(&Status{
		RunID:     runID,
		Topic:     topic,
		Stage:     StageDecomposing,
		Progress:  stageProgress[StageDecomposing],
		StartedAt: startTime,
	})
	defer o.clearStatusLater(runID)

	select {
	case o.semaphore <- struct{}{}:
		defer func() { <-o.semaphore }()
	case <-ctx.Done():
		o.updateStatus(runID, StageFailed, ctx.Err().Error())
		return Result{}, ctx.Err()
	}

	result := Result{
		ID:        runID,
		Topic:     topic,
		CreatedAt: startTime,
	}
	ctx, usage := withUsage(ctx)
	book := func() {
		result.CostEstimate, result.TokensUsed, result.TiersUsed = usage.snapshot()
	}

	stage := StageDecomposing
	for !stage.Terminal() {
		stageStart := time.Now()
		res := o.step(ctx, stage, uploaded, &result)
		o.telemetry.RecordStageEvent(telemetry.StageEvent{
			RunID:    result.ID,
			Stage:    string(stage),
			Duration: time.Since(stageStart),
			Err:      res.err,
		})
		entry := StageLog{
			Stage:      stage,
			StartedAt:  stageStart,
			DurationMS: time.Since(stageStart).Milliseconds(),
		}
		if res.err != nil {
			entry.Error = res.err.Error()
		}
		result.StageLog = append(result.StageLog, entry)
		if res.err != nil {
			result.Stage = StageFailed
			result.ProcessingTime = time.Since(startTime)
			book()
			o.updateStatus(result.ID, StageFailed, res.err.Error())
			o.recordRun(result, false)
			return result, res.err
		}
		stage = res.next
		o.updateStatus(result.ID, stage, "")
	}

	result.Stage = stage
	result.ProcessingTime = time.Since(startTime)
	book()
	if stage == StageErrorNoSources {
		result.Message = "No sources could be found for this topic. Try rephrasing it or uploading relevant documents."
		o.logger.Printf("run %s ended without sources for topic %q", result.ID, topic)
	}
	o.recordRun(result, stage == StageDone)
	return result, nil
}

// step executes one stage and returns the tagged transition.
func (o *Orchestrator) step(ctx context.Context, stage Stage, uploaded []Source, result *Result) stageResult {
	sctx := ctx
	if o.cfg.Research.StageTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.cfg.Research.StageTimeout)
		defer cancel()
	}

	switch stage {
	case StageDecomposing:
		queries, err := o.decomposer.Decompose(sctx, result.Topic)
		if err != nil {
			return stageResult{err: err}
		}
		result.SubQueries = queries
		return stageResult{next: StageRetrieving}

	case StageRetrieving:
		result.Sources = o.retriever.Retrieve(sctx, result.SubQueries, uploaded)
		if len(result.Sources) == 0 {
			return stageResult{next: StageErrorNoSources}
		}
		return stageResult{next: StageAnalyzing}

	case StageAnalyzing:
		analysis, err := o.analyzer.Analyze(sctx, result.Sources)
		if err != nil {
			return stageResult{err: err}
		}
		result.Analysis = analysis
		return stageResult{next: StageGeneratingInsights}

	case StageGeneratingInsights:
		insights, err := o.insights.Generate(sctx, result.Analysis, result.Topic)
		if err != nil {
			// Insights are additive; a failed bundle does not sink the run.
			o.logger.Printf("insight generation failed for run %s: %v", result.ID, err)
			insights = Insights{Trends: []string{}, Gaps: []string{}, Hypotheses: []string{}}
		}
		result.Insights = insights
		return stageResult{next: StageBuildingReport}

	case StageBuildingReport:
		result.Report = o.builder.Build(sctx, result.Topic, result.SubQueries, result.Analysis, result.Insights)
		return stageResult{next: StageSummarizing}

	case StageSummarizing:
		result.Summary = o.summarizer.Summarize(sctx, result.Report.FullText)
		result.Report.ExecutiveSummary = result.Summary
		return stageResult{next: StageDone}

	default:
		return stageResult{err: fmt.Errorf("unknown stage %q", stage)}
	}
}

// GetStatus returns the live status of a run, if it is still tracked.
func (o *Orchestrator) GetStatus(runID string) (Status, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.running[runID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

func (o *Orchestrator) setStatus(st *Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st.LastUpdated = time.Now()
	o.running[st.RunID] = st
}

func (o *Orchestrator) updateStatus(runID string, stage Stage, errMsg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.running[runID]
	if !ok {
		return
	}
	st.Stage = stage
	st.Progress = stageProgress[stage]
	st.Error = errMsg
	st.LastUpdated = time.Now()
}

// clearStatusLater keeps the terminal status visible briefly for pollers.
func (o *Orchestrator) clearStatusLater(runID string) {
	go func() {
		time.Sleep(5 * time.Minute)
		o.mu.Lock()
		delete(o.running, runID)
		o.mu.Unlock()
	}()
}

func (o *Orchestrator) recordRun(result Result, success bool) {
	o.telemetry.RecordRunEvent(telemetry.RunEvent{
		RunID:          result.ID,
		Topic:          result.Topic,
		Stage:          string(result.Stage),
		Success:        success,
		Empty:          result.Stage == StageErrorNoSources,
		ProcessingTime: result.ProcessingTime,
		Cost:           result.CostEstimate,
		TokensUsed:     result.TokensUsed,
	})
}
