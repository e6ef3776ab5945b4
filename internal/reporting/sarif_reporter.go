package reporting

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis"
	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
	"github.com/xkilldash9x/siteprobe-cli/internal/collector"
	"github.com/xkilldash9x/siteprobe-cli/internal/keyring"
	"github.com/xkilldash9x/siteprobe-cli/internal/reporting/sarif"
)

const (
	ToolName    = "siteprobe"
	ToolInfoURI = "https://github.com/xkilldash9x/siteprobe-cli"
	rulePrefix  = "SITEPROBE-"
)

// ruleIDSanitizer collapses runs of characters that are not allowed in rule IDs.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

// RuleFingerprint identifies a rule definition by its content.
type RuleFingerprint string

func calculateFingerprint(obs core.Observation) RuleFingerprint {
	sortedCWEs := append([]string(nil), obs.CWE...)
	sort.Strings(sortedCWEs)

	data := struct {
		Title          string
		Description    string
		Recommendation string
		CWEs           []string
	}{
		Title:          obs.Title,
		Description:    obs.Description,
		Recommendation: obs.Recommendation,
		CWEs:           sortedCWEs,
	}

	h := sha1.New()
	_ = reportJSON.NewEncoder(h).Encode(data)
	return RuleFingerprint(hex.EncodeToString(h.Sum(nil)))
}

// SARIFReporter collects observations from analysis reports into a single
// SARIF run that is written on Close. It is safe for concurrent use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu guards log and the rule maps.
	mu                 sync.Mutex
	rulesByFingerprint map[RuleFingerprint]string
	ruleIDUsage        map[string]int
}

func NewSARIFReporter(writer io.WriteCloser, toolVersion string, logger *zap.Logger) *SARIFReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := &sarif.Log{
		Version: sarif.Version,
		Schema:  sarif.Schema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						Rules:          []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:             writer,
		logger:             logger.Named("sarif_reporter"),
		log:                log,
		rulesByFingerprint: make(map[RuleFingerprint]string),
		ruleIDUsage:        make(map[string]int),
	}
}

// WriteAnalysis adds the security header and token observations of report.
// Heuristics that failed are recorded on the run's invocation properties.
func (r *SARIFReporter) WriteAnalysis(report *analysis.Report) error {
	if report == nil {
		return nil
	}
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	var observations []core.Observation
	if report.SecurityHeaders.OK() {
		observations = append(observations, report.SecurityHeaders.Value...)
	}
	if report.Authentication.OK() && report.Authentication.Value.Token != nil {
		observations = append(observations, report.Authentication.Value.Token.Observations...)
	}

	for _, obs := range observations {
		ruleID := r.ensureRule(obs)

		messageText := obs.Description
		if messageText == "" {
			messageText = obs.Title
		}
		result := &sarif.Result{
			RuleID:    ruleID,
			Message:   &sarif.Message{Text: pString(messageText)},
			Level:     mapSeverityToSARIFLevel(obs.Severity),
			Locations: createLocations(report.URL),
		}
		if obs.Evidence != "" {
			result.Properties = &sarif.PropertyBag{"evidence": obs.Evidence, "check": obs.Check}
		}
		run.Results = append(run.Results, result)
	}

	invocation := &sarif.Invocation{
		ExecutionSuccessful: len(report.Failed()) == 0,
		StartTimeUTC:        pString(report.AnalyzedAt.UTC().Format(time.RFC3339)),
		Properties:          &sarif.PropertyBag{"target": report.URL, "report_id": report.ID},
	}
	if failed := report.Failed(); len(failed) > 0 {
		(*invocation.Properties)["failed_heuristics"] = failed
	}
	run.Invocations = append(run.Invocations, invocation)

	if len(observations) > 0 {
		r.logger.Debug("Wrote observations to SARIF buffer",
			zap.Int("observations_count", len(observations)),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

func (r *SARIFReporter) WriteCollection(*collector.Result) error {
	return fmt.Errorf("sarif: collection results: %w", ErrUnsupported)
}

func (r *SARIFReporter) WriteKeys([]keyring.KeyRecord) error {
	return fmt.Errorf("sarif: key listings: %w", ErrUnsupported)
}

// Close encodes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	payload, encodeErr := reportJSON.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		payload = append(payload, '\n')
		_, encodeErr = r.writer.Write(payload)
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

func sanitizeRuleName(name string) string {
	if name == "" {
		return "UNNAMED-OBSERVATION"
	}
	sanitized := strings.ToUpper(name)
	sanitized = ruleIDSanitizer.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		return "UNKNOWN-OBSERVATION"
	}
	return sanitized
}

// ensureRule returns the rule ID for obs, registering a new rule the first
// time a definition is seen. Callers hold mu.
func (r *SARIFReporter) ensureRule(obs core.Observation) string {
	fingerprint := calculateFingerprint(obs)
	if ruleID, exists := r.rulesByFingerprint[fingerprint]; exists {
		return ruleID
	}

	baseRuleID := rulePrefix + sanitizeRuleName(obs.Title)
	usageCount := r.ruleIDUsage[baseRuleID]
	r.ruleIDUsage[baseRuleID] = usageCount + 1

	finalRuleID := baseRuleID
	if usageCount > 0 {
		finalRuleID = fmt.Sprintf("%s-%d", baseRuleID, usageCount)
		r.logger.Debug("Rule ID collision, using suffix",
			zap.String("base_id", baseRuleID),
			zap.String("final_id", finalRuleID),
		)
	}

	markdownHelp := fmt.Sprintf("**Observation:** %s\n\n**Description:**\n%s\n\n**Recommendation:**\n%s",
		obs.Title, obs.Description, obs.Recommendation)
	cwe := obs.CWE
	if cwe == nil {
		cwe = []string{}
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               finalRuleID,
		Name:             pString(obs.Title),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(obs.Title)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(obs.Description)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(obs.Recommendation),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":      []string{"security", obs.Check},
			"precision": "medium",
			"CWE":       cwe,
		},
	})
	r.rulesByFingerprint[fingerprint] = finalRuleID
	return finalRuleID
}

func createLocations(target string) []*sarif.Location {
	return []*sarif.Location{{
		PhysicalLocation: &sarif.PhysicalLocation{
			ArtifactLocation: &sarif.ArtifactLocation{URI: pString(target)},
		},
		Message: &sarif.Message{Text: pString("Observed at " + target)},
	}}
}

func mapSeverityToSARIFLevel(severity core.Severity) sarif.Level {
	switch severity {
	case core.SeverityCritical, core.SeverityHigh:
		return sarif.LevelError
	case core.SeverityMedium:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

func pString(s string) *string {
	return &s
}
