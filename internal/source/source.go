// Package source translates heterogeneous remote repository formats into
// a canonical package list. Each provider knows one remote format; the
// Registry picks the first provider whose URL predicate matches, trying
// the hosting-platform adapters before the generic JSON adapter.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/packsmith/packsmith/internal/version"
)

// Fetcher is the transport seam. Satisfied by download.Manager; tests
// substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Release is a single downloadable version of a package. Providers order
// releases newest-first; the first platform-compatible release is
// authoritative.
type Release struct {
	Version     string
	URL         string
	Platforms   []string
	HostVersion string // host-version constraint, e.g. ">=4000"
	Date        string
}

// Package is the canonical summary of one installable package. Immutable
// once fetched; a fresh fetch supersedes it entirely.
type Package struct {
	Name        string
	Description string
	Author      string
	Homepage    string
	Releases    []Release
	Signing     *SigningKey
}

// SigningKey carries a repository's archive signing key, when published.
type SigningKey struct {
	KeyURL string
}

// Channel is a remote document listing repositories plus overrides.
type Channel struct {
	Repositories    []string
	NameMap         map[string]string
	RenamedPackages map[string]string
	TrustAnchors    map[string]TrustAnchor
}

// TrustAnchor is a channel-published CA certificate reference.
type TrustAnchor struct {
	Hash string
	URL  string
}

// Provider adapts one remote repository format.
type Provider interface {
	// Matches reports whether this provider handles the URL.
	Matches(url string) bool

	// FetchPackages returns the canonical package list for url. Errors
	// are returned, never panicked across this boundary; the caller
	// decides whether to skip the source.
	FetchPackages(ctx context.Context, url string) ([]Package, error)
}

// ChannelProvider fetches channel documents.
type ChannelProvider interface {
	FetchChannel(ctx context.Context, url string) (*Channel, error)
}

// Registry holds providers in priority order.
type Registry struct {
	providers []Provider
}

// NewRegistry builds the default provider ordering: hosting-platform
// adapters first, the generic JSON adapter last as the catch-all.
func NewRegistry(fetcher Fetcher) *Registry {
	return &Registry{
		providers: []Provider{
			NewGitHubProvider(fetcher),
			NewGitLabProvider(fetcher),
			NewBitbucketProvider(fetcher),
			NewJSONProvider(fetcher),
		},
	}
}

// ForURL returns the first provider whose predicate matches url, or nil.
func (r *Registry) ForURL(url string) Provider {
	for _, p := range r.providers {
		if p.Matches(url) {
			return p
		}
	}
	return nil
}

// SelectRelease returns the first release applicable to the platform
// selector and host version, or nil when none applies. Releases with
// unparseable versions are excluded rather than failing resolution.
func SelectRelease(pkg *Package, platform, hostVersion string) *Release {
	for i := range pkg.Releases {
		rel := &pkg.Releases[i]
		if !version.Valid(rel.Version) {
			continue
		}
		if !rel.AppliesTo(platform) {
			continue
		}
		if !hostVersionSatisfied(rel.HostVersion, hostVersion) {
			continue
		}
		return rel
	}
	return nil
}

// AppliesTo reports whether the release supports the platform selector,
// matching "<os>-<arch>", bare "<os>" and the wildcard "*".
func (r *Release) AppliesTo(platform string) bool {
	if len(r.Platforms) == 0 {
		return true
	}
	osOnly := platform
	if i := strings.Index(platform, "-"); i > 0 {
		osOnly = platform[:i]
	}
	for _, p := range r.Platforms {
		if p == "*" || p == platform || p == osOnly {
			return true
		}
	}
	return false
}

// hostVersionSatisfied evaluates constraints of the forms "*", ">=N",
// ">N", "<=N", "<N", "A - B" and exact "N" against the running host
// version. Malformed constraints fail closed.
func hostVersionSatisfied(constraint, host string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" || host == "" {
		return true
	}

	if lo, hi, ok := strings.Cut(constraint, " - "); ok {
		return version.Compare(host, strings.TrimSpace(lo)) >= 0 &&
			version.Compare(host, strings.TrimSpace(hi)) <= 0
	}

	for _, op := range []string{">=", "<=", ">", "<"} {
		if rest, found := strings.CutPrefix(constraint, op); found {
			cmp := version.Compare(host, strings.TrimSpace(rest))
			switch op {
			case ">=":
				return cmp >= 0
			case "<=":
				return cmp <= 0
			case ">":
				return cmp > 0
			case "<":
				return cmp < 0
			}
		}
	}

	return version.Compare(host, constraint) == 0
}

// dateVersion renders a commit or push timestamp as an orderable
// YYYY.MM.DD.HH.MM.SS version string.
func dateVersion(t time.Time) string {
	return t.UTC().Format("2006.01.02.15.04.05")
}

// parseTimestamp accepts the RFC 3339 variants the hosting platforms
// emit, with or without fractional seconds and zone offsets.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
