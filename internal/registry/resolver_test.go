package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/packsmith/packsmith/internal/metacache"
	"github.com/packsmith/packsmith/internal/source"
)

type countingFetcher struct {
	mu        sync.Mutex
	responses map[string][]byte
	counts    map[string]int
}

func newCountingFetcher(responses map[string]string) *countingFetcher {
	bodies := make(map[string][]byte, len(responses))
	for k, v := range responses {
		bodies[k] = []byte(v)
	}
	return &countingFetcher{responses: bodies, counts: map[string]int{}}
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[url]++
	body, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("no canned response for %s", url)
	}
	return body, nil
}

func (f *countingFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

func repoDoc(name, version string) string {
	return fmt.Sprintf(`{
		"packages": [{
			"name": %q,
			"description": "d",
			"platforms": {"*": [{"version": %q, "url": "https://dl.example.com/%s-%s.zip"}]}
		}]
	}`, name, version, name, version)
}

func newTestResolver(opts Options, fetcher *countingFetcher, clock func() time.Time) (*Resolver, *metacache.Cache) {
	var cache *metacache.Cache
	if clock != nil {
		cache = metacache.New(metacache.WithClock(clock))
	} else {
		cache = metacache.New()
	}
	opts.Stagger = time.Millisecond
	opts.Platform = "linux-x64"
	opts.HostVersion = "4085"
	r := NewResolver(opts, cache, source.NewRegistry(fetcher), source.NewJSONChannelProvider(fetcher))
	return r, cache
}

func TestEarlierRepositoryWinsMerge(t *testing.T) {
	fetcher := newCountingFetcher(map[string]string{
		"https://one.example.com/repo.json": repoDoc("P", "1.0"),
		"https://two.example.com/repo.json": repoDoc("P", "2.0"),
	})
	r, _ := newTestResolver(Options{
		Repositories: []string{
			"https://one.example.com/repo.json",
			"https://two.example.com/repo.json",
		},
	}, fetcher, nil)

	merged := r.ListAvailablePackages(context.Background())
	pkg, ok := merged["P"]
	if !ok {
		t.Fatalf("package P missing from merged map")
	}
	if pkg.Releases[0].Version != "1.0" {
		t.Fatalf("earlier-priority repository must win, got version %s", pkg.Releases[0].Version)
	}
}

func TestUserRepositoryBeatsChannelRepository(t *testing.T) {
	channel := `{"repositories": ["https://chan.example.com/repo.json"]}`
	fetcher := newCountingFetcher(map[string]string{
		"https://user.example.com/repo.json": repoDoc("P", "1.0"),
		"https://chan.example.com/repo.json": repoDoc("P", "9.0"),
		"https://channel.example.com/channel.json": channel,
	})
	r, _ := newTestResolver(Options{
		Channels:     []string{"https://channel.example.com/channel.json"},
		Repositories: []string{"https://user.example.com/repo.json"},
	}, fetcher, nil)

	merged := r.ListAvailablePackages(context.Background())
	if got := merged["P"].Releases[0].Version; got != "1.0" {
		t.Fatalf("user-declared repository must beat channel-discovered one, got %s", got)
	}
}

func TestCacheAvoidsRefetchWithinTTL(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	repoURL := "https://one.example.com/repo.json"
	channelURL := "https://channel.example.com/channel.json"
	fetcher := newCountingFetcher(map[string]string{
		repoURL:    repoDoc("P", "1.0"),
		channelURL: fmt.Sprintf(`{"repositories": [%q]}`, repoURL),
	})
	r, _ := newTestResolver(Options{
		Channels: []string{channelURL},
		CacheTTL: 5 * time.Minute,
	}, fetcher, clock)

	ctx := context.Background()
	r.ListAvailablePackages(ctx)
	r.ListAvailablePackages(ctx)

	if got := fetcher.count(repoURL); got != 1 {
		t.Fatalf("repository should be fetched once within the TTL, got %d", got)
	}
	if got := fetcher.count(channelURL); got != 1 {
		t.Fatalf("channel should be fetched once within the TTL, got %d", got)
	}

	now = now.Add(6 * time.Minute)
	r.ListAvailablePackages(ctx)

	if got := fetcher.count(repoURL); got != 2 {
		t.Fatalf("expected exactly one refetch after TTL expiry, got %d total", got)
	}
	if got := fetcher.count(channelURL); got != 2 {
		t.Fatalf("expected exactly one channel refetch after TTL expiry, got %d total", got)
	}
}

func TestNameMapUnifiesAliases(t *testing.T) {
	channel := `{
		"repositories": ["https://chan.example.com/repo.json"],
		"package_name_map": {"OldName": "NewName"}
	}`
	fetcher := newCountingFetcher(map[string]string{
		"https://chan.example.com/repo.json": repoDoc("OldName", "1.0"),
		"https://channel.example.com/channel.json": channel,
	})
	r, _ := newTestResolver(Options{
		Channels: []string{"https://channel.example.com/channel.json"},
	}, fetcher, nil)

	merged := r.ListAvailablePackages(context.Background())
	if _, ok := merged["OldName"]; ok {
		t.Fatalf("aliased name should have been translated away")
	}
	pkg, ok := merged["NewName"]
	if !ok {
		t.Fatalf("expected package under mapped name")
	}
	if pkg.Name != "NewName" {
		t.Fatalf("package Name should be rewritten to the mapped name, got %s", pkg.Name)
	}
}

func TestLocalOverridesWinOverChannel(t *testing.T) {
	channel := `{
		"repositories": [],
		"renamed_packages": {"Foo": "ChannelChoice"}
	}`
	fetcher := newCountingFetcher(map[string]string{
		"https://channel.example.com/channel.json": channel,
	})
	r, _ := newTestResolver(Options{
		Channels:        []string{"https://channel.example.com/channel.json"},
		RenamedPackages: map[string]string{"Foo": "LocalChoice"},
	}, fetcher, nil)

	r.ListRepositories(context.Background())
	if got := r.RenamedPackages()["Foo"]; got != "LocalChoice" {
		t.Fatalf("local override must win over channel value, got %s", got)
	}
}

func TestBrokenChannelIsSkipped(t *testing.T) {
	fetcher := newCountingFetcher(map[string]string{
		"https://user.example.com/repo.json": repoDoc("P", "1.0"),
		// No response for the channel URL: the fetch fails.
	})
	r, _ := newTestResolver(Options{
		Channels:     []string{"https://broken.example.com/channel.json"},
		Repositories: []string{"https://user.example.com/repo.json"},
	}, fetcher, nil)

	merged := r.ListAvailablePackages(context.Background())
	if _, ok := merged["P"]; !ok {
		t.Fatalf("aggregation should continue past a broken channel")
	}
}

func TestIncompatiblePackagesExcluded(t *testing.T) {
	doc := `{
		"packages": [
			{"name": "WinOnly", "platforms": {"windows": [{"version": "1.0", "url": "u"}]}},
			{"name": "Ours", "platforms": {"*": [{"version": "1.0", "url": "u"}]}}
		]
	}`
	fetcher := newCountingFetcher(map[string]string{
		"https://one.example.com/repo.json": doc,
	})
	r, _ := newTestResolver(Options{
		Repositories: []string{"https://one.example.com/repo.json"},
	}, fetcher, nil)

	merged := r.ListAvailablePackages(context.Background())
	if _, ok := merged["WinOnly"]; ok {
		t.Fatalf("platform-incompatible package should be excluded")
	}
	if _, ok := merged["Ours"]; !ok {
		t.Fatalf("compatible package should be present")
	}
}

func TestFixupURL(t *testing.T) {
	cases := map[string]string{
		"https://raw.github.com/u/r/main/repo.json":      "https://raw.githubusercontent.com/u/r/main/repo.json",
		"https://codeload.github.com/u/r/zipball/main":   "https://codeload.github.com/u/r/zip/main",
		"https://example.com/repo.json":                  "https://example.com/repo.json",
	}
	for in, want := range cases {
		if got := fixupURL(in); got != want {
			t.Errorf("fixupURL(%s) = %s, expected %s", in, got, want)
		}
	}
}
