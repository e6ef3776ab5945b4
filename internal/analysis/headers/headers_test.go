package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
)

func titles(obs []core.Observation) []string {
	out := make([]string, 0, len(obs))
	for _, o := range obs {
		out = append(out, o.Title)
	}
	return out
}

func find(obs []core.Observation, title string) *core.Observation {
	for i := range obs {
		if obs[i].Title == title {
			return &obs[i]
		}
	}
	return nil
}

var hardened = map[string]string{
	"X-Frame-Options":           "DENY",
	"X-Content-Type-Options":    "nosniff",
	"Referrer-Policy":           "no-referrer",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Content-Security-Policy":   "default-src 'self'",
}

func with(overrides map[string]string, drop ...string) map[string]string {
	h := make(map[string]string, len(hardened))
	for k, v := range hardened {
		h[k] = v
	}
	for _, d := range drop {
		delete(h, d)
	}
	for k, v := range overrides {
		h[k] = v
	}
	return h
}

func TestInspect(t *testing.T) {
	t.Parallel()
	a := New(zap.NewNop())

	tests := []struct {
		name    string
		headers map[string]string
		https   bool
		want    []string
	}{
		{
			name:    "hardened response",
			headers: hardened,
			https:   true,
			want:    []string{},
		},
		{
			name:  "nothing set over https",
			https: true,
			want: []string{
				"Missing Security Header: x-frame-options",
				"Missing Security Header: x-content-type-options",
				"Missing Security Header: referrer-policy",
				"Missing Security Header: strict-transport-security",
				"Missing Security Header: content-security-policy",
			},
		},
		{
			name:    "hsts not expected over plain http",
			headers: with(nil, "Strict-Transport-Security"),
			want:    []string{},
		},
		{
			name:    "hsts without max-age",
			headers: with(map[string]string{"Strict-Transport-Security": "includeSubDomains"}),
			https:   true,
			want:    []string{"Weak HSTS Configuration: Missing max-age"},
		},
		{
			name:    "hsts zero",
			headers: with(map[string]string{"Strict-Transport-Security": "max-age=0"}),
			https:   true,
			want:    []string{"Weak HSTS Configuration: max-age is Zero"},
		},
		{
			name:    "hsts short",
			headers: with(map[string]string{"Strict-Transport-Security": "max-age=3600"}),
			https:   true,
			want:    []string{"Weak HSTS Configuration: Short max-age"},
		},
		{
			name:    "hsts overflowing max-age",
			headers: with(map[string]string{"Strict-Transport-Security": "max-age=99999999999999999999999"}),
			https:   true,
			want:    []string{},
		},
		{
			name:    "csp unsafe-inline",
			headers: with(map[string]string{"Content-Security-Policy": "script-src 'self' 'unsafe-inline'"}),
			want:    []string{"Weak Content-Security-Policy"},
		},
		{
			name:    "csp unsafe-inline with nonce",
			headers: with(map[string]string{"Content-Security-Policy": "script-src 'unsafe-inline' 'nonce-abc'"}),
			want:    []string{},
		},
		{
			name: "disclosure headers",
			headers: with(map[string]string{
				"Server":       "nginx/1.25.3",
				"x-powered-by": "PHP/8.2",
			}),
			want: []string{
				"Information Disclosure in HTTP Headers",
				"Information Disclosure in HTTP Headers",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Inspect(tt.headers, tt.https)
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestInspect_ObservationFields(t *testing.T) {
	t.Parallel()
	obs := New(zap.NewNop()).Inspect(with(map[string]string{"Server": "Apache/2.4.1"}), true)

	o := find(obs, "Information Disclosure in HTTP Headers")
	require.NotNil(t, o)
	assert.Equal(t, checkName, o.Check)
	assert.Equal(t, core.SeverityLow, o.Severity)
	assert.Equal(t, []string{"CWE-200"}, o.CWE)
	assert.Equal(t, "server: Apache/2.4.1", o.Evidence)
	assert.NotEmpty(t, o.ID)
	assert.False(t, o.ObservedAt.IsZero())
}
