package source

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/packsmith/packsmith/internal/download"
)

// BitbucketProvider synthesizes a single latest release for a public
// Bitbucket repository from its main branch archive and update timestamp.
type BitbucketProvider struct {
	fetcher Fetcher
	apiBase string
}

var bitbucketRepoRe = regexp.MustCompile(`^https?://bitbucket\.org/([^/#?]+)/([^/#?]+?)(?:\.git)?/?$`)

func NewBitbucketProvider(fetcher Fetcher) *BitbucketProvider {
	return &BitbucketProvider{fetcher: fetcher, apiBase: "https://api.bitbucket.org/2.0"}
}

func (p *BitbucketProvider) Matches(url string) bool {
	return bitbucketRepoRe.MatchString(url)
}

type bitbucketRepoInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UpdatedOn   string `json:"updated_on"`
	MainBranch  struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Owner struct {
		DisplayName string `json:"display_name"`
	} `json:"owner"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

func (p *BitbucketProvider) FetchPackages(ctx context.Context, rawURL string) ([]Package, error) {
	m := bitbucketRepoRe.FindStringSubmatch(rawURL)
	if m == nil {
		return nil, &download.SourceError{URL: rawURL, Err: fmt.Errorf("not a Bitbucket repository URL")}
	}
	user, repo := m[1], m[2]

	data, err := p.fetcher.Fetch(ctx, fmt.Sprintf("%s/repositories/%s/%s", p.apiBase, user, repo))
	if err != nil {
		return nil, err
	}

	var info bitbucketRepoInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &download.SourceError{URL: rawURL, Err: fmt.Errorf("decoding Bitbucket repository info: %w", err)}
	}
	if info.Name == "" || info.MainBranch.Name == "" {
		return nil, &download.SourceError{URL: rawURL, Err: fmt.Errorf("incomplete Bitbucket repository info")}
	}

	updated, err := parseTimestamp(info.UpdatedOn)
	if err != nil {
		return nil, &download.SourceError{URL: rawURL, Err: err}
	}

	homepage := info.Links.HTML.Href
	if homepage == "" {
		homepage = rawURL
	}

	return []Package{{
		Name:        info.Name,
		Description: info.Description,
		Author:      info.Owner.DisplayName,
		Homepage:    homepage,
		Releases: []Release{{
			Version:   dateVersion(updated),
			URL:       fmt.Sprintf("https://bitbucket.org/%s/%s/get/%s.zip", user, repo, info.MainBranch.Name),
			Platforms: []string{"*"},
			Date:      info.UpdatedOn,
		}},
	}}, nil
}
