package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/packsmith/packsmith/internal/source"
)

// verifyArchive checks a detached armored OpenPGP signature for an
// archive whose package declares a signing key. The signature is
// expected alongside the archive with an ".asc" suffix.
func (e *Engine) verifyArchive(ctx context.Context, name string, data []byte, archiveURL string, signing *source.SigningKey) error {
	keyData, err := e.fetcher.Fetch(ctx, signing.KeyURL)
	if err != nil {
		return fmt.Errorf("fetching signing key for %s: %w", name, err)
	}
	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(keyData))
	if err != nil {
		return fmt.Errorf("parsing signing key for %s: %w", name, err)
	}

	sigData, err := e.fetcher.Fetch(ctx, archiveURL+".asc")
	if err != nil {
		return fmt.Errorf("fetching signature for %s: %w", name, err)
	}
	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sigData), nil); err != nil {
		return fmt.Errorf("signature verification failed for %s: %w", name, err)
	}
	return nil
}
