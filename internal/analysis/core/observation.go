package core

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks an observation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Observation is a single noteworthy fact reported by a heuristic, such as a
// missing protective header or a token without an expiry.
type Observation struct {
	ID             string    `json:"id"`
	Check          string    `json:"check"`
	Title          string    `json:"title"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description"`
	Evidence       string    `json:"evidence,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	CWE            []string  `json:"cwe,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// NewObservation stamps a fresh ID and time on an observation.
func NewObservation(check, title string, severity Severity, cwe, description, evidence, recommendation string) Observation {
	obs := Observation{
		ID:             uuid.NewString(),
		Check:          check,
		Title:          title,
		Severity:       severity,
		Description:    description,
		Evidence:       evidence,
		Recommendation: recommendation,
		ObservedAt:     time.Now().UTC(),
	}
	if cwe != "" {
		obs.CWE = []string{cwe}
	}
	return obs
}
