package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"

	"github.com/packsmith/packsmith/internal/download"
)

// GitLabProvider synthesizes a single latest release for a public GitLab
// project from its default branch archive and last activity timestamp.
type GitLabProvider struct {
	fetcher Fetcher
	apiBase string
}

var gitlabRepoRe = regexp.MustCompile(`^https?://gitlab\.com/([^/#?]+)/([^/#?]+?)(?:\.git)?/?$`)

func NewGitLabProvider(fetcher Fetcher) *GitLabProvider {
	return &GitLabProvider{fetcher: fetcher, apiBase: "https://gitlab.com/api/v4"}
}

func (p *GitLabProvider) Matches(url string) bool {
	return gitlabRepoRe.MatchString(url)
}

type gitlabProjectInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	WebURL         string `json:"web_url"`
	DefaultBranch  string `json:"default_branch"`
	LastActivityAt string `json:"last_activity_at"`
	Namespace      struct {
		Name string `json:"name"`
	} `json:"namespace"`
}

func (p *GitLabProvider) FetchPackages(ctx context.Context, rawURL string) ([]Package, error) {
	m := gitlabRepoRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, &download.SourceError{URL: rawURL, Err: fmt.Errorf("not a GitLab project URL")}
	}
	user, repo := m[1], m[2]

	projectID := url.PathEscape(user + "/" + repo)
	data, err := p.fetcher.Fetch(ctx, fmt.Sprintf("%s/projects/%s", p.apiBase, projectID))
	if err != nil {
		return nil, err
	}

	var info gitlabProjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &download.SourceError{URL: rawURL, Err: fmt.Errorf("decoding GitLab project info: %w", err)}
	}
	if info.Name == "" || info.DefaultBranch == "" {
		return nil, &download.SourceError{URL: rawURL, Err: fmt.Errorf("incomplete GitLab project info")}
	}

	active, err := parseTimestamp(info.LastActivityAt)
	if err != nil {
		return nil, &download.SourceError{URL: rawURL, Err: err}
	}

	homepage := info.WebURL
	if homepage == "" {
		homepage = rawURL
	}

	return []Package{{
		Name:        info.Name,
		Description: info.Description,
		Author:      info.Namespace.Name,
		Homepage:    homepage,
		Releases: []Release{{
			Version:   dateVersion(active),
			URL:       fmt.Sprintf("https://gitlab.com/%s/%s/-/archive/%s/%s-%s.zip", user, repo, info.DefaultBranch, repo, info.DefaultBranch),
			Platforms: []string{"*"},
			Date:      info.LastActivityAt,
		}},
	}}, nil
}
