package main

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/packsmith/packsmith/internal/config"
	"github.com/packsmith/packsmith/internal/disabler"
	"github.com/packsmith/packsmith/internal/download"
	"github.com/packsmith/packsmith/internal/engine"
	"github.com/packsmith/packsmith/internal/hostenv"
	"github.com/packsmith/packsmith/internal/library"
	"github.com/packsmith/packsmith/internal/metacache"
	"github.com/packsmith/packsmith/internal/registry"
	"github.com/packsmith/packsmith/internal/source"
)

// app wires the configured components together for one command run.
type app struct {
	cfg       *config.Config
	host      *hostenv.FSHost
	resolver  *registry.Resolver
	engine    *engine.Engine
	libraries *library.Manager
}

func newApp() (*app, error) {
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(dataDir, "packsmith.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	host, err := hostenv.NewFSHost(
		filepath.Join(dataDir, "Packages"),
		filepath.Join(dataDir, "settings.json"),
		cfg.HostVersion,
	)
	if err != nil {
		return nil, err
	}

	platform := cfg.Platform
	if platform == "" {
		platform = host.PlatformSelector()
	}

	cache := metacache.New()
	manager := download.NewManager(download.Options{
		UserAgent:   cfg.HTTP.UserAgent,
		Precedence:  cfg.HTTP.Precedence,
		Timeout:     cfg.HTTPTimeout(),
		MaxAttempts: cfg.HTTP.MaxAttempts,
	}, cache)

	resolver := registry.NewResolver(registry.Options{
		Channels:        cfg.Channels,
		Repositories:    cfg.Repositories,
		NameMap:         cfg.PackageNameMap,
		RenamedPackages: cfg.Renamed,
		CacheTTL:        cfg.CacheTTLDuration(),
		Platform:        platform,
		HostVersion:     cfg.HostVersion,
	}, cache, source.NewRegistry(manager), source.NewJSONChannelProvider(manager))

	dis := disabler.New(host)

	// Archive downloads honor channel-published trust anchors once the
	// resolver has seen them.
	fetcher := &anchoredFetcher{
		base:     manager,
		baseOpts: download.Options{
			UserAgent:   cfg.HTTP.UserAgent,
			Precedence:  cfg.HTTP.Precedence,
			Timeout:     cfg.HTTPTimeout(),
			MaxAttempts: cfg.HTTP.MaxAttempts,
		},
		cache:    cache,
		anchors:  download.NewAnchorStore(filepath.Join(dataDir, "Certs"), manager),
		resolver: resolver,
	}

	eng, err := engine.New(engine.Config{
		Host:         host,
		Catalog:      resolver,
		Fetcher:      fetcher,
		Disabler:     dis,
		BackupDir:    filepath.Join(dataDir, "Backup"),
		WorkDir:      filepath.Join(dataDir, "Cache"),
		BackupMaxAge: cfg.BackupMaxAgeDuration(),
		VCSWorkers:   cfg.Workers,
	})
	if err != nil {
		return nil, err
	}

	libs := library.NewManager(
		filepath.Join(dataDir, "Lib"),
		runtime.Version(),
		platform,
		cfg.HostVersion,
		resolver,
		fetcher,
	)

	return &app{
		cfg:       cfg,
		host:      host,
		resolver:  resolver,
		engine:    eng,
		libraries: libs,
	}, nil
}

// close flushes the host's scheduled work.
func (a *app) close() {
	a.host.Close()
}

// anchoredFetcher downloads through a manager whose trust pool includes
// the channel-published anchors the resolver has collected. The anchor
// set only changes when channel metadata is refetched, so the derived
// manager is cached against it.
type anchoredFetcher struct {
	base     *download.Manager
	baseOpts download.Options
	cache    *metacache.Cache
	anchors  *download.AnchorStore
	resolver *registry.Resolver

	mu      sync.Mutex
	seen    string
	derived *download.Manager
}

func (f *anchoredFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	refs := f.resolver.TrustAnchors()
	if len(refs) == 0 {
		return f.base.Fetch(ctx, url)
	}
	fingerprint := anchorFingerprint(refs)

	f.mu.Lock()
	if f.derived == nil || f.seen != fingerprint {
		anchorRefs := make(map[string]download.AnchorRef, len(refs))
		for domain, anchor := range refs {
			anchorRefs[domain] = download.AnchorRef{Hash: anchor.Hash, URL: anchor.URL}
		}
		pool, err := f.anchors.Pool(ctx, anchorRefs)
		if err != nil {
			f.mu.Unlock()
			return nil, err
		}
		opts := f.baseOpts
		opts.Roots = pool
		f.derived = download.NewManager(opts, f.cache)
		f.seen = fingerprint
	}
	manager := f.derived
	f.mu.Unlock()

	return manager.Fetch(ctx, url)
}

// anchorFingerprint renders a trust-anchor map into a stable string
// covering every domain, hash and URL in the set.
func anchorFingerprint(refs map[string]source.TrustAnchor) string {
	domains := make([]string, 0, len(refs))
	for domain := range refs {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	var b strings.Builder
	for _, domain := range domains {
		b.WriteString(domain)
		b.WriteByte(' ')
		b.WriteString(refs[domain].Hash)
		b.WriteByte(' ')
		b.WriteString(refs[domain].URL)
		b.WriteByte('\n')
	}
	return b.String()
}
