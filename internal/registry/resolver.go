// Package registry aggregates channels into repositories and
// repositories into a single name-to-package map, applying override
// ordering, name remapping and rename tracking on the way.
package registry

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/packsmith/packsmith/internal/metacache"
	"github.com/packsmith/packsmith/internal/source"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

const (
	repositoriesSuffix = ".repositories"
	packagesSuffix     = ".packages"
)

// Options configures a Resolver.
type Options struct {
	// Channels in priority order.
	Channels []string
	// Repositories configured locally. They take precedence over
	// channel-discovered repositories.
	Repositories []string
	// NameMap and RenamedPackages are local overrides; they always win
	// over channel-provided values.
	NameMap         map[string]string
	RenamedPackages map[string]string

	CacheTTL time.Duration
	// Stagger is the fixed delay between fetches to the same host.
	Stagger time.Duration

	Platform    string
	HostVersion string
}

// Resolver resolves the configured channels and repositories into an
// aggregated package map. Fetches go through the metadata cache; within
// its TTL a second resolution performs no network requests.
type Resolver struct {
	opts     Options
	cache    *metacache.Cache
	registry *source.Registry
	channels source.ChannelProvider

	mu           sync.Mutex
	nameMap      map[string]string
	renames      map[string]string
	trustAnchors map[string]source.TrustAnchor
}

func NewResolver(opts Options, cache *metacache.Cache, registry *source.Registry, channels source.ChannelProvider) *Resolver {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.Stagger <= 0 {
		opts.Stagger = 500 * time.Millisecond
	}
	return &Resolver{
		opts:         opts,
		cache:        cache,
		registry:     registry,
		channels:     channels,
		nameMap:      map[string]string{},
		renames:      map[string]string{},
		trustAnchors: map[string]source.TrustAnchor{},
	}
}

// ListRepositories returns the full repository list: locally configured
// repositories first, then each channel's repositories in channel
// priority order. Channel failures are logged and skipped. Merged
// name-map, rename and trust-anchor data is refreshed as a side effect,
// with local overrides winning over channel values.
func (r *Resolver) ListRepositories(ctx context.Context) []string {
	log := logger.Logger()

	repositories := make([]string, 0, len(r.opts.Repositories))
	for _, repo := range r.opts.Repositories {
		repositories = append(repositories, fixupURL(strings.TrimSpace(repo)))
	}

	nameMap := map[string]string{}
	renames := map[string]string{}
	anchors := map[string]source.TrustAnchor{}

	for _, channelURL := range r.opts.Channels {
		channelURL = strings.TrimSpace(channelURL)

		var ch *source.Channel
		if cached, ok := r.cache.Get(channelURL + repositoriesSuffix); ok {
			ch = cached.(*source.Channel)
		} else {
			fetched, err := r.channels.FetchChannel(ctx, channelURL)
			if err != nil {
				log.Warnf("skipping channel %s: %v", channelURL, err)
				continue
			}
			ch = fetched
			r.cache.Set(channelURL+repositoriesSuffix, ch, r.opts.CacheTTL)
		}

		for _, repo := range ch.Repositories {
			repositories = append(repositories, fixupURL(strings.TrimSpace(repo)))
		}
		for old, new := range ch.NameMap {
			nameMap[old] = new
		}
		for old, new := range ch.RenamedPackages {
			renames[old] = new
		}
		for domain, anchor := range ch.TrustAnchors {
			anchors[domain] = anchor
		}
	}

	// Locally configured overrides always win over channel values.
	for old, new := range r.opts.NameMap {
		nameMap[old] = new
	}
	for old, new := range r.opts.RenamedPackages {
		renames[old] = new
	}

	r.mu.Lock()
	r.nameMap = nameMap
	r.renames = renames
	r.trustAnchors = anchors
	r.mu.Unlock()

	return repositories
}

// ListAvailablePackages aggregates every repository's packages into one
// name-to-package map. Repositories are merged in reverse priority order
// so that earlier-configured repositories overwrite later ones: a
// user-declared repository beats a channel-discovered one for the same
// package name. The call blocks until every spawned fetch completes.
func (r *Resolver) ListAvailablePackages(ctx context.Context) map[string]source.Package {
	log := logger.Logger()

	repositories := r.ListRepositories(ctx)

	// Collect the repositories that need a network fetch.
	var missing []string
	seen := map[string]bool{}
	for _, repo := range repositories {
		if seen[repo] {
			continue
		}
		seen[repo] = true
		if _, ok := r.cache.Get(repo + packagesSuffix); !ok {
			missing = append(missing, repo)
		}
	}

	if len(missing) > 0 {
		r.fetchRepositories(ctx, missing)
	}

	// Merge strictly in reverse configuration order, regardless of the
	// order fetches completed in.
	merged := make(map[string]source.Package)
	nameMap := r.NameMap()
	for i := len(repositories) - 1; i >= 0; i-- {
		cached, ok := r.cache.Get(repositories[i] + packagesSuffix)
		if !ok {
			continue
		}
		for _, pkg := range cached.(map[string]source.Package) {
			name := pkg.Name
			if mapped, ok := nameMap[name]; ok {
				name = mapped
				pkg.Name = mapped
			}
			merged[name] = pkg
		}
	}

	log.Debugf("aggregated %d packages from %d repositories", len(merged), len(repositories))
	return merged
}

// fetchRepositories downloads package lists for the given repository
// URLs. Fetches are grouped by host; within a group requests run
// sequentially with a fixed stagger delay to avoid same-host rate
// limiting, while groups run in parallel.
func (r *Resolver) fetchRepositories(ctx context.Context, repositories []string) {
	log := logger.Logger()

	groups := map[string][]string{}
	for _, repo := range repositories {
		host := hostKey(repo)
		groups[host] = append(groups[host], repo)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, urls := range groups {
		urls := urls
		g.Go(func() error {
			for i, repo := range urls {
				if i > 0 {
					select {
					case <-time.After(r.opts.Stagger):
					case <-ctx.Done():
						return nil
					}
				}

				provider := r.registry.ForURL(repo)
				if provider == nil {
					log.Warnf("no provider understands repository %s, skipping", repo)
					continue
				}

				packages, err := provider.FetchPackages(ctx, repo)
				if err != nil {
					log.Warnf("skipping repository %s: %v", repo, err)
					continue
				}

				byName := make(map[string]source.Package, len(packages))
				for _, pkg := range packages {
					if rel := source.SelectRelease(&pkg, r.opts.Platform, r.opts.HostVersion); rel == nil {
						continue
					}
					byName[pkg.Name] = pkg
				}
				r.cache.Set(repo+packagesSuffix, byName, r.opts.CacheTTL)
			}
			return nil
		})
	}
	g.Wait()
}

// NameMap returns the merged package name map.
func (r *Resolver) NameMap() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.nameMap))
	for k, v := range r.nameMap {
		out[k] = v
	}
	return out
}

// RenamedPackages returns the merged rename map (old name to new name).
func (r *Resolver) RenamedPackages() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.renames))
	for k, v := range r.renames {
		out[k] = v
	}
	return out
}

// TrustAnchors returns the merged channel trust-anchor map.
func (r *Resolver) TrustAnchors() map[string]source.TrustAnchor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]source.TrustAnchor, len(r.trustAnchors))
	for k, v := range r.trustAnchors {
		out[k] = v
	}
	return out
}

var zipballRe = regexp.MustCompile(`^(https://codeload\.github\.com/[^/#?]+/[^/#?]+/)zipball(/.*)$`)

// fixupURL rewrites URLs pointing at moved hosting infrastructure.
func fixupURL(raw string) string {
	fixed := strings.Replace(raw, "://raw.github.com/", "://raw.githubusercontent.com/", 1)
	fixed = strings.Replace(fixed, "://nodeload.github.com/", "://codeload.github.com/", 1)
	fixed = zipballRe.ReplaceAllString(fixed, "${1}zip${2}")
	return fixed
}

func hostKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return strings.ToLower(u.Hostname())
}
