package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/packsmith/packsmith/internal/metacache"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(Options{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
	}, metacache.New())
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	data, err := newTestManager(t).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("Expected payload, got %q", data)
	}
}

func TestFetchRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	data, err := newTestManager(t).FetchWith(context.Background(), srv.URL, 5*time.Second, 3)
	if err != nil {
		t.Fatalf("Fetch should succeed on the final attempt: %v", err)
	}
	if string(data) != "eventually" {
		t.Fatalf("Expected body from final attempt, got %q", data)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("Expected exactly 3 requests, got %d", got)
	}
}

func TestFetchExhaustsAttemptsOnPersistent503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestManager(t).FetchWith(context.Background(), srv.URL, 5*time.Second, 3)
	if err == nil {
		t.Fatalf("Fetch should fail when every attempt is rate limited")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("Expected exactly maxAttempts (3) requests, got %d", got)
	}

	// After the budget the rate limit is demoted to a SourceError.
	var srcErr *SourceError
	if !errors.As(err, &srcErr) {
		t.Fatalf("Expected SourceError after retry budget, got %T: %v", err, err)
	}
}

func TestFetchDoesNotRetryOtherStatusErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestManager(t).FetchWith(context.Background(), srv.URL, 5*time.Second, 3)
	if err == nil {
		t.Fatalf("Fetch should fail on 404")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("404 must be terminal, expected 1 request, got %d", got)
	}
}

func TestRateLimitedHostIsRemembered(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.FetchWith(ctx, srv.URL, 5*time.Second, 2); err == nil {
		t.Fatalf("first fetch should fail")
	}
	requestsSoFar := atomic.LoadInt32(&calls)

	if _, err := m.FetchWith(ctx, srv.URL+"/other", 5*time.Second, 2); err == nil {
		t.Fatalf("second fetch should be skipped")
	}
	if atomic.LoadInt32(&calls) != requestsSoFar {
		t.Fatalf("requests to a remembered rate-limited host must be skipped")
	}
}

func TestNoTransportAvailable(t *testing.T) {
	m := NewManager(Options{
		DisableNative: true,
		Precedence:    []string{"http"}, // native disabled, nothing else allowed
	}, metacache.New())

	_, err := m.Fetch(context.Background(), "https://example.com/archive.zip")
	var unavail *TransportUnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("Expected TransportUnavailableError, got %T: %v", err, err)
	}
}

func TestFetchFileURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channel.json")
	if err := os.WriteFile(path, []byte(`{"repositories": []}`), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := newTestManager(t).Fetch(context.Background(), "file://"+path)
	if err != nil {
		t.Fatalf("file URL fetch failed: %v", err)
	}
	if string(data) != `{"repositories": []}` {
		t.Fatalf("unexpected file contents: %q", data)
	}
}

func TestAnchorStoreVerifiesHash(t *testing.T) {
	pem := []byte("-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pem)
	}))
	defer srv.Close()

	sum := sha256.Sum256(pem)
	goodHash := hex.EncodeToString(sum[:])

	dir := t.TempDir()
	store := NewAnchorStore(dir, newTestManager(t))
	ctx := context.Background()

	anchors := map[string]AnchorRef{
		"example.com": {Hash: goodHash, URL: srv.URL},
	}
	path, err := store.Ensure(ctx, "example.com", anchors)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if filepath.Base(path) != goodHash+".pem" {
		t.Fatalf("anchor should be cached under its content hash, got %s", path)
	}

	bad := map[string]AnchorRef{
		"example.com": {Hash: "deadbeef", URL: srv.URL},
	}
	_, err = store.Ensure(ctx, "example.com", bad)
	var certErr *CertificateError
	if !errors.As(err, &certErr) {
		t.Fatalf("Expected CertificateError on hash mismatch, got %T: %v", err, err)
	}
}

func TestAnchorStoreWildcard(t *testing.T) {
	pem := []byte("wildcard-cert")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pem)
	}))
	defer srv.Close()

	sum := sha256.Sum256(pem)
	store := NewAnchorStore(t.TempDir(), newTestManager(t))

	anchors := map[string]AnchorRef{
		"*": {Hash: hex.EncodeToString(sum[:]), URL: srv.URL},
	}
	path, err := store.Ensure(context.Background(), "anything.example.net", anchors)
	if err != nil {
		t.Fatalf("wildcard anchor should apply to any domain: %v", err)
	}
	if path == "" {
		t.Fatalf("Expected a cached anchor path")
	}
}

func TestAnchorStoreNoAnchorConfigured(t *testing.T) {
	store := NewAnchorStore(t.TempDir(), newTestManager(t))
	path, err := store.Ensure(context.Background(), "plain.example.org", nil)
	if err != nil {
		t.Fatalf("missing anchor must not be an error: %v", err)
	}
	if path != "" {
		t.Fatalf("Expected empty path when no anchor is configured")
	}
}
