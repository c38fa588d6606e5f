package research

import (
	"errors"
	"fmt"
)

// ErrNoSources signals that a run ended in the ErrorNoSources terminal state:
// retrieval produced zero usable sources. One-shot callers surface it as
// their exit status; the HTTP layer reports the state through polling instead.
var ErrNoSources = errors.New("no sources found")

// ProviderError wraps a transient failure from an external provider call.
// Callers retry once, then apply their stage's degradation policy.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// DecompositionError means the topic could not be broken into sub-queries
// even after the simplified-prompt retry.
type DecompositionError struct {
	Topic string
	Err   error
}

func (e *DecompositionError) Error() string {
	return fmt.Sprintf("could not plan research for %q: %v", e.Topic, e.Err)
}

func (e *DecompositionError) Unwrap() error { return e.Err }

// AnalysisError is raised only when an entire analysis batch failed. Partial
// failures degrade individual sources instead.
type AnalysisError struct {
	Failed int
	Total  int
	Err    error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed for all %d of %d sources: %v", e.Failed, e.Total, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
