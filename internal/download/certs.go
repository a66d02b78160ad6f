package download

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/packsmith/packsmith/internal/utils/logger"
)

// AnchorRef points at a CA certificate published by a channel: the URL to
// fetch it from plus the expected SHA-256 of its contents.
type AnchorRef struct {
	Hash string
	URL  string
}

// AnchorStore lazily fetches missing trust anchors and caches them on
// disk keyed by content hash, so a stale or tampered anchor is detected
// instead of silently reused for the wrong host.
type AnchorStore struct {
	dir     string
	manager *Manager
}

func NewAnchorStore(dir string, manager *Manager) *AnchorStore {
	return &AnchorStore{dir: dir, manager: manager}
}

// Ensure makes the anchor for domain locally available and returns its
// path. Anchors under the wildcard key "*" apply to every domain. A
// domain with no anchor configured is not an error; the system trust
// store applies.
func (s *AnchorStore) Ensure(ctx context.Context, domain string, anchors map[string]AnchorRef) (string, error) {
	ref, ok := anchors[strings.ToLower(domain)]
	if !ok {
		ref, ok = anchors["*"]
	}
	if !ok {
		return "", nil
	}
	return s.materialize(ctx, ref)
}

// Pool builds a certificate pool from the system roots plus every anchor
// in the map, fetching the ones not yet cached.
func (s *AnchorStore) Pool(ctx context.Context, anchors map[string]AnchorRef) (*x509.CertPool, error) {
	log := logger.Logger()

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	for domain, ref := range anchors {
		path, err := s.materialize(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("trust anchor for %s: %w", domain, err)
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading trust anchor for %s: %w", domain, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &CertificateError{URL: ref.URL, Err: fmt.Errorf("anchor for %s contains no usable certificates", domain)}
		}
		log.Debugf("trust anchor for %s loaded from %s", domain, path)
	}
	return pool, nil
}

// materialize returns the on-disk path of the anchor, downloading and
// hash-verifying it first if needed. The filename is the content hash, so
// a cached file that exists under the expected name is trusted as-is.
func (s *AnchorStore) materialize(ctx context.Context, ref AnchorRef) (string, error) {
	if ref.Hash == "" || ref.URL == "" {
		return "", &CertificateError{URL: ref.URL, Err: fmt.Errorf("incomplete trust anchor reference")}
	}

	path := filepath.Join(s.dir, ref.Hash+".pem")
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}

	data, err := s.manager.Fetch(ctx, ref.URL)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != strings.ToLower(ref.Hash) {
		return "", &CertificateError{URL: ref.URL, Err: fmt.Errorf("anchor content hash mismatch")}
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("creating anchor directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing anchor: %w", err)
	}
	return path, nil
}
