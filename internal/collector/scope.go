package collector

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope decides whether a link stays on the collected site. The boundary is
// the registrable domain (eTLD+1) of the page, subdomains included.
type Scope struct {
	rootDomain string
}

// NewScope derives the scope from the page address. IP addresses and
// single-label hosts such as localhost are their own root.
func NewScope(pageURL string) (*Scope, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("page url must have a hostname: %s", pageURL)
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return &Scope{rootDomain: host}, nil
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return nil, fmt.Errorf("could not determine effective TLD+1 for %s: %w", host, err)
	}
	return &Scope{rootDomain: domain}, nil
}

// RootDomain returns the eTLD+1 defining the scope.
func (s *Scope) RootDomain() string { return s.rootDomain }

// Contains reports whether u is on the root domain or one of its subdomains.
func (s *Scope) Contains(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == s.rootDomain || strings.HasSuffix(host, "."+s.rootDomain)
}

// LinkSummary counts links on and off the collected site.
type LinkSummary struct {
	RootDomain string `json:"root_domain"`
	Internal   int    `json:"internal"`
	External   int    `json:"external"`
}

// Summarize classifies links against the scope. Links that do not parse
// count as external.
func (s *Scope) Summarize(links []string) LinkSummary {
	sum := LinkSummary{RootDomain: s.rootDomain}
	for _, l := range links {
		u, err := url.Parse(l)
		if err == nil && s.Contains(u) {
			sum.Internal++
			continue
		}
		sum.External++
	}
	return sum
}
