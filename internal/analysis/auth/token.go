package auth

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/siteprobe-cli/internal/analysis/core"
)

// TokenDetails summarizes a JWT seen in a response header. The signature is
// never verified; this is inspection only.
type TokenDetails struct {
	Algorithm    string             `json:"algorithm"`
	ClaimNames   []string           `json:"claim_names"`
	Observations []core.Observation `json:"observations"`
}

// parserUnverified decodes header and claims without checking the signature.
var parserUnverified = jwt.NewParser()

// sensitiveClaimKeywords flag claim names that should not travel in a token.
var sensitiveClaimKeywords = []string{
	"password", "pwd", "secret", "apikey", "api_key", "ssn", "creditcard",
	"privatekey", "credential", "auth_token", "access_key",
}

// InspectToken decodes a JWT and reports weaknesses visible without the key:
// the none algorithm, sensitive claim names and a missing expiry.
func InspectToken(raw string) (*TokenDetails, error) {
	token, _, err := parserUnverified.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}

	claims, _ := token.Claims.(jwt.MapClaims)
	alg, _ := token.Header["alg"].(string)

	details := &TokenDetails{
		Algorithm:    alg,
		ClaimNames:   make([]string, 0, len(claims)),
		Observations: []core.Observation{},
	}
	for name := range claims {
		details.ClaimNames = append(details.ClaimNames, name)
	}
	sort.Strings(details.ClaimNames)

	if strings.EqualFold(alg, "none") {
		details.Observations = append(details.Observations, core.NewObservation("jwt",
			"JWT uses the none algorithm",
			core.SeverityCritical, "CWE-347",
			"The token declares 'alg: none', so any party can forge tokens the server might accept.",
			"alg: "+alg,
			"Reject unsigned tokens and pin the expected signing algorithm on the server.",
		))
	}

	if names := sensitiveClaims(details.ClaimNames); len(names) > 0 {
		details.Observations = append(details.Observations, core.NewObservation("jwt",
			"JWT carries sensitive-looking claims",
			core.SeverityMedium, "CWE-312",
			"JWT payloads are encoded, not encrypted; these claim names suggest secrets are exposed to the client.",
			"claims: "+strings.Join(names, ", "),
			"Move sensitive values server-side or use an encrypted token format.",
		))
	}

	if _, ok := claims["exp"]; !ok {
		details.Observations = append(details.Observations, core.NewObservation("jwt",
			"JWT has no expiration",
			core.SeverityLow, "CWE-613",
			"The token has no 'exp' claim and stays valid until the signing key rotates.",
			"",
			"Issue short-lived tokens with an 'exp' claim.",
		))
	}
	return details, nil
}

func sensitiveClaims(names []string) []string {
	var hits []string
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, keyword := range sensitiveClaimKeywords {
			if strings.Contains(lower, keyword) {
				hits = append(hits, name)
				break
			}
		}
	}
	return hits
}
