package core

import "fmt"

// AnalysisError is raised only when an analysis cannot start at all, for
// example because the target URL is unusable. Failures of individual
// heuristics are reported inside the result instead.
type AnalysisError struct {
	URL string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis of %q failed: %v", e.URL, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
