// Package download is the transport layer for remote metadata and
// package archives. A Manager picks the best available transport for a
// URL, retries rate-limit and timeout failures, and remembers hosts that
// keep rate limiting so later requests skip them entirely.
package download

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/packsmith/packsmith/internal/metacache"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Transport downloads a single URL. Implementations: the native secure
// HTTP client and the curl/wget command-line fallbacks.
type Transport interface {
	Name() string
	Available() bool
	SupportsSecure() bool
	Get(ctx context.Context, url string, timeout time.Duration) ([]byte, error)
}

const rateLimitKeyPrefix = "rate_limited."

// Options configures a Manager.
type Options struct {
	UserAgent string
	// Precedence lists transport names in probe order. Empty means
	// "http", "curl", "wget".
	Precedence []string
	// Timeout is the per-attempt timeout.
	Timeout time.Duration
	// MaxAttempts bounds retries for 503 and timeout failures.
	MaxAttempts int
	// RateLimitTTL is how long a rate-limited host is skipped.
	RateLimitTTL time.Duration
	// Roots replaces the system trust store for the native client.
	Roots *x509.CertPool
	// DisableNative forces the CLI fallbacks, used when the secure
	// transport capability is unavailable.
	DisableNative bool
}

// Manager selects transports and applies the shared retry policy.
type Manager struct {
	opts       Options
	cache      *metacache.Cache
	transports []Transport
}

func NewManager(opts Options, cache *metacache.Cache) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RateLimitTTL <= 0 {
		opts.RateLimitTTL = time.Hour
	}
	if len(opts.Precedence) == 0 {
		opts.Precedence = []string{"http", "curl", "wget"}
	}
	if cache == nil {
		cache = metacache.New()
	}

	available := map[string]Transport{
		"curl": newCurlTransport(opts.UserAgent),
		"wget": newWgetTransport(opts.UserAgent),
	}
	if !opts.DisableNative {
		available["http"] = newHTTPTransport(opts.UserAgent, opts.Roots)
	}

	var transports []Transport
	for _, name := range opts.Precedence {
		if t, ok := available[name]; ok {
			transports = append(transports, t)
		}
	}

	return &Manager{opts: opts, cache: cache, transports: transports}
}

// Fetch downloads url with the Manager's configured timeout and attempt
// budget.
func (m *Manager) Fetch(ctx context.Context, url string) ([]byte, error) {
	return m.FetchWith(ctx, url, m.opts.Timeout, m.opts.MaxAttempts)
}

// FetchWith downloads url, retrying HTTP 503 and connection timeouts up
// to maxAttempts with no added backoff. Certificate failures and any
// other HTTP or connection error are terminal.
func (m *Manager) FetchWith(ctx context.Context, rawURL string, timeout time.Duration, maxAttempts int) ([]byte, error) {
	log := logger.Logger()

	if strings.HasPrefix(strings.ToLower(rawURL), "file://") {
		return readFileURL(rawURL)
	}

	host := hostOf(rawURL)
	if _, limited := m.cache.Get(rateLimitKeyPrefix + host); limited {
		return nil, &SourceError{URL: rawURL, Err: fmt.Errorf("host %s is rate limited, skipping", host)}
	}

	transport, err := m.selectTransport(rawURL)
	if err != nil {
		return nil, err
	}

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		data, err := transport.Get(ctx, rawURL, timeout)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if attempt < maxAttempts {
			log.Warnf("download of %s failed (attempt %d/%d): %v", rawURL, attempt, maxAttempts, err)
		}
	}

	var rl *RateLimitError
	if errors.As(lastErr, &rl) {
		// Remember the host so unrelated requests in the same run do
		// not burn their attempt budgets against it too.
		m.cache.Set(rateLimitKeyPrefix+rl.Host, true, m.opts.RateLimitTTL)
		log.Warnf("%s exceeded the retry budget, skipping further requests to %s", rawURL, rl.Host)
		return nil, &SourceError{URL: rawURL, Err: lastErr}
	}
	return nil, &SourceError{URL: rawURL, Err: lastErr}
}

// selectTransport returns the first configured transport that can serve
// the URL: the native client for https when enabled, otherwise the first
// fallback whose binary exists on PATH.
func (m *Manager) selectTransport(rawURL string) (Transport, error) {
	secure := strings.HasPrefix(strings.ToLower(rawURL), "https://")
	for _, t := range m.transports {
		if secure && !t.SupportsSecure() {
			continue
		}
		if !t.Available() {
			continue
		}
		return t, nil
	}
	return nil, &TransportUnavailableError{URL: rawURL}
}

func readFileURL(rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &SourceError{URL: rawURL, Err: err}
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return nil, &SourceError{URL: rawURL, Err: err}
	}
	return data, nil
}
