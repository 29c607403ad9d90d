// File: internal/scope/scope.go
package scope

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Static assets never advance exploration; following them wastes budget.
var ignoredExtensions = map[string]struct{}{
	".css": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {},
	".woff": {}, ".woff2": {}, ".ico": {}, ".svg": {}, ".ttf": {}, ".eot": {},
	".pdf": {}, ".zip": {}, ".mp4": {}, ".webm": {},
}

// Manager defines the boundary the explorer must not cross. Leaving the
// target's organizational domain is treated as a dead end, not an error.
type Manager struct {
	rootDomain        string
	includeSubdomains bool
}

// NewManager derives the scope from the initial target URL.
func NewManager(initialURL string, includeSubdomains bool) (*Manager, error) {
	u, err := url.Parse(initialURL)
	if err != nil {
		return nil, err
	}

	hostname := u.Hostname()
	if hostname == "" {
		return nil, fmt.Errorf("initial URL must have a hostname: %s", initialURL)
	}

	// Use the Public Suffix List to extract the eTLD+1 (the organizational
	// domain). This correctly handles domains like 'example.co.uk' and
	// 'sub.example.com'; don't roll your own domain parser.
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return nil, fmt.Errorf("could not determine effective TLD+1 for %s: %w", hostname, err)
	}

	return &Manager{
		rootDomain:        domain,
		includeSubdomains: includeSubdomains,
	}, nil
}

// IsInScope checks whether the URL belongs to the target domain or its
// subdomains (if configured).
func (m *Manager) IsInScope(u *url.URL) bool {
	host := u.Hostname()

	if host == m.rootDomain {
		return true
	}

	// Require a dot before the root domain so "notexample.com" never matches
	// "example.com".
	if m.includeSubdomains && strings.HasSuffix(host, "."+m.rootDomain) {
		return true
	}

	return false
}

// RootDomain returns the eTLD+1 defining the scope.
func (m *Manager) RootDomain() string {
	return m.rootDomain
}

// Normalize cleans a discovered URL: resolves it against the base, strips the
// fragment, canonicalizes host/port/path/query, enforces scope, and rejects
// static assets. Two links that normalize identically are the same page for
// coverage purposes.
func (m *Manager) Normalize(rawURL, baseURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	if !u.IsAbs() {
		if baseURL == "" {
			if u.Host != "" && u.Scheme == "" {
				u.Scheme = "https"
			} else if u.Host == "" {
				return nil, fmt.Errorf("relative URL without base: %s", rawURL)
			}
		} else {
			base, err := url.Parse(baseURL)
			if err != nil {
				return nil, fmt.Errorf("invalid base URL provided: %w", err)
			}
			u = base.ResolveReference(u)
		}
	}

	u.Fragment = ""

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	if !m.IsInScope(u) {
		return nil, fmt.Errorf("out of scope: %s", u.String())
	}

	host := u.Host
	if (u.Scheme == "http" && strings.HasSuffix(host, ":80")) || (u.Scheme == "https" && strings.HasSuffix(host, ":443")) {
		u.Host = u.Hostname()
	}

	if u.Path == "" {
		u.Path = "/"
	}

	// Re-encode the query so parameter ordering cannot split one page into
	// several coverage entries.
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	ext := strings.ToLower(filepath.Ext(u.Path))
	if _, ignore := ignoredExtensions[ext]; ignore {
		return nil, fmt.Errorf("static asset ignored")
	}

	return u, nil
}
