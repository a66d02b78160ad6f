package source

import (
	"context"
	"fmt"
	"testing"
)

// fakeFetcher serves canned bodies keyed by URL.
type fakeFetcher struct {
	responses map[string][]byte
	calls     []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	body, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("unexpected fetch of %s", url)
	}
	return body, nil
}

func TestRegistryDispatchOrder(t *testing.T) {
	reg := NewRegistry(&fakeFetcher{})

	cases := []struct {
		url  string
		want string
	}{
		{"https://github.com/user/pkg", "*source.GitHubProvider"},
		{"https://gitlab.com/user/pkg", "*source.GitLabProvider"},
		{"https://bitbucket.org/user/pkg", "*source.BitbucketProvider"},
		{"https://example.com/repository.json", "*source.JSONProvider"},
		{"https://github.com/user/pkg/releases/download/x.zip", "*source.JSONProvider"},
	}
	for _, tc := range cases {
		p := reg.ForURL(tc.url)
		if p == nil {
			t.Fatalf("no provider matched %s", tc.url)
		}
		if got := fmt.Sprintf("%T", p); got != tc.want {
			t.Errorf("URL %s dispatched to %s, expected %s", tc.url, got, tc.want)
		}
	}

	if p := reg.ForURL("ftp://example.com/repo"); p != nil {
		t.Errorf("unsupported scheme should match no provider, got %T", p)
	}
}

func TestJSONProviderParsesRepositoryDocument(t *testing.T) {
	doc := `{
		"packages": [
			{
				"name": "Foo",
				"description": "A package",
				"author": "jane",
				"homepage": "https://example.com/foo",
				"platforms": {
					"*": [
						{"version": "1.0.1", "url": "https://example.com/foo-1.0.1.zip"},
						{"version": "1.2.0", "url": "https://example.com/foo-1.2.0.zip"}
					],
					"linux-x64": [
						{"version": "1.1.0", "url": "https://example.com/foo-linux.zip", "host_version": ">=4000"}
					]
				}
			}
		]
	}`
	fetcher := &fakeFetcher{responses: map[string][]byte{
		"https://example.com/repo.json": []byte(doc),
	}}

	pkgs, err := NewJSONProvider(fetcher).FetchPackages(context.Background(), "https://example.com/repo.json")
	if err != nil {
		t.Fatalf("FetchPackages failed: %v", err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("Expected 1 package, got %d", len(pkgs))
	}

	pkg := pkgs[0]
	if pkg.Name != "Foo" || pkg.Author != "jane" {
		t.Errorf("unexpected package metadata: %+v", pkg)
	}
	if len(pkg.Releases) != 3 {
		t.Fatalf("Expected 3 releases, got %d", len(pkg.Releases))
	}
	// Newest first.
	if pkg.Releases[0].Version != "1.2.0" {
		t.Errorf("Expected newest release first, got %s", pkg.Releases[0].Version)
	}
	if pkg.Releases[2].Version != "1.0.1" {
		t.Errorf("Expected oldest release last, got %s", pkg.Releases[2].Version)
	}
}

func TestJSONProviderLegacyHostVersionKey(t *testing.T) {
	doc := `{
		"packages": [
			{
				"name": "Legacy",
				"platforms": {
					"*": [{"version": "2.0", "url": "https://example.com/l.zip", "sublime_text": ">=3000"}]
				}
			}
		]
	}`
	fetcher := &fakeFetcher{responses: map[string][]byte{"u": []byte(doc)}}
	pkgs, err := NewJSONProvider(fetcher).FetchPackages(context.Background(), "u")
	if err != nil {
		t.Fatalf("FetchPackages failed: %v", err)
	}
	if pkgs[0].Releases[0].HostVersion != ">=3000" {
		t.Fatalf("legacy host constraint key should be honored, got %q", pkgs[0].Releases[0].HostVersion)
	}
}

func TestJSONProviderRejectsMalformedDocument(t *testing.T) {
	cases := map[string]string{
		"not json":        `{]`,
		"missing name":    `{"packages": [{"platforms": {}}]}`,
		"missing version": `{"packages": [{"name": "X", "platforms": {"*": [{"url": "u"}]}}]}`,
	}
	for label, doc := range cases {
		fetcher := &fakeFetcher{responses: map[string][]byte{"u": []byte(doc)}}
		if _, err := NewJSONProvider(fetcher).FetchPackages(context.Background(), "u"); err == nil {
			t.Errorf("%s: expected an error", label)
		}
	}
}

func TestGitHubProviderSynthesizesDateRelease(t *testing.T) {
	info := `{
		"name": "pkg",
		"description": "desc",
		"html_url": "https://github.com/user/pkg",
		"default_branch": "main",
		"pushed_at": "2024-01-02T03:04:05Z",
		"owner": {"login": "user"}
	}`
	p := NewGitHubProvider(&fakeFetcher{responses: map[string][]byte{
		"https://api.github.com/repos/user/pkg": []byte(info),
	}})

	pkgs, err := p.FetchPackages(context.Background(), "https://github.com/user/pkg")
	if err != nil {
		t.Fatalf("FetchPackages failed: %v", err)
	}
	if len(pkgs) != 1 || len(pkgs[0].Releases) != 1 {
		t.Fatalf("Expected a single package with one release, got %+v", pkgs)
	}
	rel := pkgs[0].Releases[0]
	if rel.Version != "2024.01.02.03.04.05" {
		t.Errorf("Expected date-derived version, got %s", rel.Version)
	}
	if rel.URL != "https://codeload.github.com/user/pkg/zip/refs/heads/main" {
		t.Errorf("unexpected download URL %s", rel.URL)
	}
}

func TestGitHubProviderMatchesRepoURLsOnly(t *testing.T) {
	p := NewGitHubProvider(&fakeFetcher{})
	if !p.Matches("https://github.com/user/pkg") || !p.Matches("https://github.com/user/pkg.git") {
		t.Errorf("repository URLs should match")
	}
	if p.Matches("https://github.com/user/pkg/issues") || p.Matches("https://example.com/") {
		t.Errorf("non-repository URLs should not match")
	}
}

func TestChannelProviderParsesOverrides(t *testing.T) {
	doc := `{
		"repositories": ["https://example.com/repo.json", "https://github.com/user/pkg"],
		"package_name_map": {"old": "new"},
		"renamed_packages": {"Before": "After"},
		"certs": {"example.com": ["abc123", "https://example.com/ca.pem"]}
	}`
	p := NewJSONChannelProvider(&fakeFetcher{responses: map[string][]byte{"c": []byte(doc)}})

	ch, err := p.FetchChannel(context.Background(), "c")
	if err != nil {
		t.Fatalf("FetchChannel failed: %v", err)
	}
	if len(ch.Repositories) != 2 {
		t.Errorf("Expected 2 repositories, got %d", len(ch.Repositories))
	}
	if ch.NameMap["old"] != "new" || ch.RenamedPackages["Before"] != "After" {
		t.Errorf("override maps not decoded: %+v", ch)
	}
	anchor := ch.TrustAnchors["example.com"]
	if anchor.Hash != "abc123" || anchor.URL != "https://example.com/ca.pem" {
		t.Errorf("trust anchor not decoded: %+v", anchor)
	}
}

func TestChannelProviderRequiresRepositories(t *testing.T) {
	p := NewJSONChannelProvider(&fakeFetcher{responses: map[string][]byte{"c": []byte(`{}`)}})
	if _, err := p.FetchChannel(context.Background(), "c"); err == nil {
		t.Fatalf("channel without repositories should be rejected")
	}
}

func TestSelectRelease(t *testing.T) {
	pkg := &Package{
		Name: "X",
		Releases: []Release{
			{Version: "3.0", URL: "u3", Platforms: []string{"windows"}},
			{Version: "2.5", URL: "u25", Platforms: []string{"*"}, HostVersion: ">=5000"},
			{Version: "2.0", URL: "u2", Platforms: []string{"linux-x64"}},
			{Version: "bogus", URL: "ub"},
			{Version: "1.0", URL: "u1", Platforms: []string{"*"}},
		},
	}

	rel := SelectRelease(pkg, "linux-x64", "4085")
	if rel == nil || rel.Version != "2.0" {
		t.Fatalf("Expected first compatible release 2.0, got %+v", rel)
	}

	rel = SelectRelease(pkg, "osx-arm64", "4085")
	if rel == nil || rel.Version != "1.0" {
		t.Fatalf("Expected wildcard fallback 1.0, got %+v", rel)
	}

	rel = SelectRelease(pkg, "osx-arm64", "5001")
	if rel == nil || rel.Version != "2.5" {
		t.Fatalf("Expected host-gated 2.5 for newer host, got %+v", rel)
	}

	none := &Package{Releases: []Release{{Version: "1.0", Platforms: []string{"windows"}}}}
	if rel := SelectRelease(none, "linux-x64", "4085"); rel != nil {
		t.Fatalf("Expected no compatible release, got %+v", rel)
	}
}

func TestReleaseAppliesTo(t *testing.T) {
	rel := Release{Platforms: []string{"linux"}}
	if !rel.AppliesTo("linux-x64") {
		t.Errorf("bare OS selector should cover any arch")
	}
	if rel.AppliesTo("osx-arm64") {
		t.Errorf("other OS should not match")
	}
}

func TestHostVersionSatisfied(t *testing.T) {
	cases := []struct {
		constraint, host string
		want             bool
	}{
		{"", "4000", true},
		{"*", "4000", true},
		{">=4000", "4000", true},
		{">=4000", "3999", false},
		{"<3000", "2999", true},
		{"<3000", "3000", false},
		{"3000 - 3999", "3500", true},
		{"3000 - 3999", "4000", false},
		{"4085", "4085", true},
		{"4085", "4086", false},
	}
	for _, tc := range cases {
		if got := hostVersionSatisfied(tc.constraint, tc.host); got != tc.want {
			t.Errorf("constraint %q host %q: expected %v, got %v", tc.constraint, tc.host, tc.want, got)
		}
	}
}
