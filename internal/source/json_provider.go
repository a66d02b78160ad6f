package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/packsmith/packsmith/internal/download"
	"github.com/packsmith/packsmith/internal/version"
)

// JSONProvider reads an explicit package/version JSON document: the
// generic repository format. It is the catch-all at the end of the
// provider ordering.
type JSONProvider struct {
	fetcher Fetcher
}

func NewJSONProvider(fetcher Fetcher) *JSONProvider {
	return &JSONProvider{fetcher: fetcher}
}

// Matches accepts any remaining http(s) or file URL. Hosting-platform
// adapters run first, so by the time this is asked the URL is expected
// to point at a repository document.
func (p *JSONProvider) Matches(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "file://")
}

type repositoryDocument struct {
	Packages []struct {
		Name          string                          `json:"name"`
		Description   string                          `json:"description"`
		Author        string                          `json:"author"`
		Homepage      string                          `json:"homepage"`
		SigningKeyURL string                          `json:"signing_key_url"`
		Platforms     map[string][]repositoryRelease `json:"platforms"`
	} `json:"packages"`
}

type repositoryRelease struct {
	Version     string `json:"version"`
	URL         string `json:"url"`
	HostVersion string `json:"host_version"`
	// Legacy key for the host-version constraint, still published by
	// older repositories.
	SublimeText string `json:"sublime_text"`
	Date        string `json:"date"`
}

func (p *JSONProvider) FetchPackages(ctx context.Context, url string) ([]Package, error) {
	data, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := validateDocument(compiledRepositorySchema, data, "repository", url); err != nil {
		return nil, &download.SourceError{URL: url, Err: err}
	}

	var doc repositoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &download.SourceError{URL: url, Err: fmt.Errorf("decoding repository document: %w", err)}
	}

	packages := make([]Package, 0, len(doc.Packages))
	for _, raw := range doc.Packages {
		pkg := Package{
			Name:        raw.Name,
			Description: raw.Description,
			Author:      raw.Author,
			Homepage:    raw.Homepage,
		}
		if raw.SigningKeyURL != "" {
			pkg.Signing = &SigningKey{KeyURL: raw.SigningKeyURL}
		}

		for selector, releases := range raw.Platforms {
			for _, rel := range releases {
				constraint := rel.HostVersion
				if constraint == "" {
					constraint = rel.SublimeText
				}
				pkg.Releases = append(pkg.Releases, Release{
					Version:     rel.Version,
					URL:         rel.URL,
					Platforms:   []string{selector},
					HostVersion: constraint,
					Date:        rel.Date,
				})
			}
		}

		// Newest-first, so the first compatible release is authoritative.
		sort.SliceStable(pkg.Releases, func(i, j int) bool {
			return version.Compare(pkg.Releases[i].Version, pkg.Releases[j].Version) > 0
		})

		packages = append(packages, pkg)
	}

	return packages, nil
}
