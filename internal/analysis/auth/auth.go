// Package auth infers how a site authenticates users from its login forms
// and the authentication-related response headers.
package auth

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
	"github.com/xkilldash9x/siteprobe-cli/internal/page"
)

// loginActionPattern marks a form action as login-like.
var loginActionPattern = regexp.MustCompile(`(?i)login|auth|signin|session`)

// sessionCookieNames are substrings of well-known framework session cookies.
var sessionCookieNames = []string{"sessionid", "sessid", "jsessionid", "phpsessid", "asp.net_sessionid", "connect.sid"}

// tokenHeaders may carry bearer tokens, checked in this order.
var tokenHeaders = []string{"authorization", "x-auth-token", "x-access-token"}

// tokenMarkers identify a token-bearing header value.
var tokenMarkers = []string{"bearer ", "jwt "}

// Input is one <input> of a login form. Name is nil when the input has none.
type Input struct {
	Name *string `json:"name"`
	Type string  `json:"type"`
}

// Form describes a login-like form.
type Form struct {
	Action string  `json:"action"`
	Method string  `json:"method"`
	Inputs []Input `json:"inputs"`
}

// Assessment is the best-effort authentication profile of a page.
type Assessment struct {
	LoginFormsFound        bool          `json:"login_forms_found"`
	FormDetails            []Form        `json:"form_details"`
	CookiesUsed            bool          `json:"cookies_used"`
	SessionCookiesLikely   bool          `json:"session_cookies_likely"`
	HTTPAuthHeadersPresent bool          `json:"http_auth_headers_present"`
	AuthHeaderDetails      *string       `json:"auth_header_details"`
	JWTLikely              bool          `json:"jwt_likely"`
	Token                  *TokenDetails `json:"token,omitempty"`
}

// Analyzer assesses authentication mechanisms.
type Analyzer struct {
	core.BaseAnalyzer
}

// New returns an authentication Analyzer.
func New(logger *zap.Logger) *Analyzer {
	return &Analyzer{
		BaseAnalyzer: *core.NewBaseAnalyzer("auth", "Assesses authentication mechanisms", core.TypePassive, logger),
	}
}

// Assess inspects the document's forms and the response headers. Either
// input may be missing. A failing stage is logged and the remaining stages
// still contribute to the result.
func (a *Analyzer) Assess(doc *page.Document, headers map[string]string) Assessment {
	result := Assessment{FormDetails: []Form{}}

	if doc == nil {
		a.Logger.Warn("No document available; skipping form inspection.")
	} else {
		a.stage("forms", func() { a.inspectForms(doc, &result) })
	}

	normalized := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.ToLower(k)
		if prev, ok := normalized[key]; ok {
			v = prev + "; " + v
		}
		normalized[key] = v
	}
	a.stage("headers", func() { a.inspectHeaders(normalized, &result) })

	a.Logger.Info("Authentication analysis complete.",
		zap.Bool("login_forms", result.LoginFormsFound),
		zap.Bool("session_cookies", result.SessionCookiesLikely),
		zap.Bool("jwt_likely", result.JWTLikely),
	)
	return result
}

// stage runs fn, logging instead of propagating a panic.
func (a *Analyzer) stage(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			a.Logger.Error("Authentication analysis stage failed.", zap.String("stage", name), zap.Any("panic", r))
		}
	}()
	fn()
}

func (a *Analyzer) inspectForms(doc *page.Document, result *Assessment) {
	for _, form := range doc.Find("form", isLoginForm) {
		detail := Form{
			Action: form.AttrOr("action", "N/A"),
			Method: strings.ToUpper(form.AttrOr("method", "GET")),
			Inputs: []Input{},
		}
		for _, input := range form.Find("input", nil) {
			in := Input{Type: input.AttrOr("type", "text")}
			if name, ok := input.Attr("name"); ok {
				in.Name = &name
			}
			detail.Inputs = append(detail.Inputs, in)
		}
		result.FormDetails = append(result.FormDetails, detail)
	}
	result.LoginFormsFound = len(result.FormDetails) > 0
}

// isLoginForm accepts forms with a login-like action or a password field.
func isLoginForm(form page.Node) bool {
	if action, ok := form.Attr("action"); ok && loginActionPattern.MatchString(action) {
		return true
	}
	return len(form.Find("input", page.AttrEqualFold("type", "password"))) > 0
}

func (a *Analyzer) inspectHeaders(headers map[string]string, result *Assessment) {
	if cookies, ok := headers["set-cookie"]; ok {
		result.CookiesUsed = true
		lower := strings.ToLower(cookies)
		for _, name := range sessionCookieNames {
			if strings.Contains(lower, name) {
				result.SessionCookiesLikely = true
				break
			}
		}
	}

	wwwAuth, hasWWW := headers["www-authenticate"]
	authz, hasAuthz := headers["authorization"]
	switch {
	case hasWWW:
		result.HTTPAuthHeadersPresent = true
		result.AuthHeaderDetails = &wwwAuth
	case hasAuthz:
		result.HTTPAuthHeadersPresent = true
		result.AuthHeaderDetails = &authz
	}

	for _, name := range tokenHeaders {
		value := headers[name]
		for _, marker := range tokenMarkers {
			if indexASCIIFold(value, marker) < 0 {
				continue
			}
			result.JWTLikely = true
			if raw := tokenAfter(value, marker); raw != "" {
				details, err := InspectToken(raw)
				if err != nil {
					a.Logger.Debug("Bearer value is not a decodable JWT.", zap.String("header", name), zap.Error(err))
				} else {
					result.Token = details
				}
			}
			return
		}
	}
}

// tokenAfter returns the first whitespace-delimited word following marker.
func tokenAfter(value, marker string) string {
	i := indexASCIIFold(value, marker)
	if i < 0 {
		return ""
	}
	fields := strings.Fields(value[i+len(marker):])
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], `",;`)
}

// indexASCIIFold is strings.Index ignoring ASCII case. marker must be lower
// case ASCII. Offsets are into value itself, whatever its encoding.
func indexASCIIFold(value, marker string) int {
	n := len(marker)
	for i := 0; i+n <= len(value); i++ {
		j := 0
		for ; j < n; j++ {
			c := value[i+j]
			if 'A' <= c && c <= 'Z' {
				c += 'a' - 'A'
			}
			if c != marker[j] {
				break
			}
		}
		if j == n {
			return i
		}
	}
	return -1
}
