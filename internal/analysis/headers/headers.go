// Package headers inspects response headers for missing protective headers,
// weak transport and content policies, and version disclosure.
package headers

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
)

const checkName = "security_headers"

// MinHSTSMaxAge is six months in seconds.
const MinHSTSMaxAge = 15552000

var regexMaxAge = regexp.MustCompile(`(?i)max-age=(\d+)`)

type required struct {
	header string
	cwe    string
}

// requiredHeaders are checked in this order. HSTS and CSP get their own checks.
var requiredHeaders = []required{
	{"x-frame-options", "CWE-1021"},
	{"x-content-type-options", "CWE-116"},
	{"referrer-policy", "CWE-200"},
}

var disclosureHeaders = []string{"server", "x-powered-by", "x-aspnet-version"}

// Analyzer reviews a single response's headers.
type Analyzer struct {
	core.BaseAnalyzer
}

// New returns a header Analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{BaseAnalyzer: *core.NewBaseAnalyzer("headers", "Analyzes security headers", core.TypePassive, logger)}
}

// Inspect returns the observations for one response. Header names are
// matched case-insensitively. HSTS is only expected over HTTPS.
func (a *Analyzer) Inspect(headers map[string]string, https bool) []core.Observation {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[strings.ToLower(k)] = v
	}

	obs := []core.Observation{}
	for _, r := range requiredHeaders {
		if _, ok := h[r.header]; !ok {
			obs = append(obs, missing(r.header, r.cwe))
		}
	}
	if https {
		obs = append(obs, a.checkHSTS(h)...)
	}
	obs = append(obs, checkCSP(h)...)
	obs = append(obs, checkDisclosure(h)...)

	a.Logger.Debug("Header inspection complete.", zap.Int("observations", len(obs)))
	return obs
}

func (a *Analyzer) checkHSTS(h map[string]string) []core.Observation {
	const name = "strict-transport-security"
	value, ok := h[name]
	if !ok {
		return []core.Observation{missing(name, "CWE-319")}
	}

	matches := regexMaxAge.FindStringSubmatch(value)
	if len(matches) < 2 {
		return []core.Observation{core.NewObservation(checkName,
			"Weak HSTS Configuration: Missing max-age",
			core.SeverityLow, "CWE-319",
			"The Strict-Transport-Security header is present but has no max-age directive, so browsers ignore it.",
			fmt.Sprintf("%s: %s", name, value),
			"Add a max-age directive with a non-zero value.",
		)}
	}

	maxAge, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		// Too large to parse is long enough.
		if !errors.Is(err, strconv.ErrRange) {
			a.Logger.Error("Failed to parse HSTS max-age.", zap.String("value", matches[1]), zap.Error(err))
		}
		return nil
	}

	switch {
	case maxAge == 0:
		return []core.Observation{core.NewObservation(checkName,
			"Weak HSTS Configuration: max-age is Zero",
			core.SeverityMedium, "CWE-319",
			"A max-age of 0 tells browsers to drop the HSTS policy for this host.",
			fmt.Sprintf("%s: %s", name, value),
			"Set max-age to a large value such as 31536000 (one year).",
		)}
	case maxAge < MinHSTSMaxAge:
		return []core.Observation{core.NewObservation(checkName,
			"Weak HSTS Configuration: Short max-age",
			core.SeverityLow, "CWE-319",
			fmt.Sprintf("max-age is %d seconds; at least %d (six months) is expected.", maxAge, MinHSTSMaxAge),
			fmt.Sprintf("%s: %s", name, value),
			fmt.Sprintf("Increase max-age to at least %d.", MinHSTSMaxAge),
		)}
	}
	return nil
}

func checkCSP(h map[string]string) []core.Observation {
	const name = "content-security-policy"
	csp, ok := h[name]
	if !ok {
		return []core.Observation{missing(name, "CWE-693")}
	}
	lower := strings.ToLower(csp)
	if strings.Contains(lower, "'unsafe-inline'") && !strings.Contains(lower, "nonce-") && !strings.Contains(lower, "'sha") {
		return []core.Observation{core.NewObservation(checkName,
			"Weak Content-Security-Policy",
			core.SeverityMedium, "CWE-693",
			"The policy allows 'unsafe-inline' without a nonce or hash, so injected inline scripts would run.",
			fmt.Sprintf("%s: %s", name, csp),
			"Use nonces or hashes for inline scripts, or move them into external files.",
		)}
	}
	return nil
}

func checkDisclosure(h map[string]string) []core.Observation {
	var obs []core.Observation
	for _, name := range disclosureHeaders {
		if value := strings.TrimSpace(h[name]); value != "" {
			obs = append(obs, core.NewObservation(checkName,
				"Information Disclosure in HTTP Headers",
				core.SeverityLow, "CWE-200",
				fmt.Sprintf("The '%s' header reveals stack or version information: '%s'.", name, value),
				fmt.Sprintf("%s: %s", name, value),
				fmt.Sprintf("Suppress or genericize the '%s' header.", name),
			))
		}
	}
	return obs
}

func missing(header, cwe string) core.Observation {
	return core.NewObservation(checkName,
		fmt.Sprintf("Missing Security Header: %s", header),
		core.SeverityMedium, cwe,
		fmt.Sprintf("The response does not set the '%s' header.", header),
		fmt.Sprintf("Header not present in response: %s", header),
		fmt.Sprintf("Configure the server or framework to send '%s' on every response.", header),
	)
}
