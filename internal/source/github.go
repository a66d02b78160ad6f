package source

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/packsmith/packsmith/internal/download"
)

// GitHubProvider treats a public GitHub repository as the source for a
// single package, synthesizing one "latest" release from the default
// branch archive link and the push timestamp.
type GitHubProvider struct {
	fetcher Fetcher
	apiBase string
}

var githubRepoRe = regexp.MustCompile(`^https?://github\.com/([^/#?]+)/([^/#?]+?)(?:\.git)?/?$`)

func NewGitHubProvider(fetcher Fetcher) *GitHubProvider {
	return &GitHubProvider{fetcher: fetcher, apiBase: "https://api.github.com"}
}

func (p *GitHubProvider) Matches(url string) bool {
	return githubRepoRe.MatchString(url)
}

type githubRepoInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	Homepage      string `json:"homepage"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	PushedAt      string `json:"pushed_at"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (p *GitHubProvider) FetchPackages(ctx context.Context, url string) ([]Package, error) {
	m := githubRepoRe.FindStringSubmatch(url)
	if m == nil {
		return nil, &download.SourceError{URL: url, Err: fmt.Errorf("not a GitHub repository URL")}
	}
	user, repo := m[1], m[2]

	data, err := p.fetcher.Fetch(ctx, fmt.Sprintf("%s/repos/%s/%s", p.apiBase, user, repo))
	if err != nil {
		return nil, err
	}

	var info githubRepoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &download.SourceError{URL: url, Err: fmt.Errorf("decoding GitHub repository info: %w", err)}
	}
	if info.Name == "" || info.DefaultBranch == "" {
		return nil, &download.SourceError{URL: url, Err: fmt.Errorf("incomplete GitHub repository info")}
	}

	pushed, err := parseTimestamp(info.PushedAt)
	if err != nil {
		return nil, &download.SourceError{URL: url, Err: err}
	}

	homepage := info.Homepage
	if homepage == "" {
		homepage = info.HTMLURL
	}
	if homepage == "" {
		homepage = url
	}

	return []Package{{
		Name:        info.Name,
		Description: info.Description,
		Author:      info.Owner.Login,
		Homepage:    homepage,
		Releases: []Release{{
			Version:   dateVersion(pushed),
			URL:       fmt.Sprintf("https://codeload.github.com/%s/%s/zip/refs/heads/%s", user, repo, info.DefaultBranch),
			Platforms: []string{"*"},
			Date:      info.PushedAt,
		}},
	}}, nil
}
