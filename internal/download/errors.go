package download

import (
	"errors"
	"fmt"
)

// SourceError covers recoverable fetch failures: network errors, HTTP
// status errors and malformed payloads. Callers aggregating multiple
// sources skip the offending source and continue.
type SourceError struct {
	URL string
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// RateLimitError is an HTTP 503 from a known rate-limited host. It is
// retried up to the configured attempt budget, then demoted to a
// SourceError.
type RateLimitError struct {
	URL  string
	Host string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s while fetching %s", e.Host, e.URL)
}

// TransportUnavailableError means no transport can serve the URL: the
// native secure client is unusable and no fallback binary was found on
// PATH. Fatal for the specific download.
type TransportUnavailableError struct {
	URL string
}

func (e *TransportUnavailableError) Error() string {
	return fmt.Sprintf("no transport available to download %s", e.URL)
}

// CertificateError is a hostname mismatch or an invalid trust anchor.
// Never retried; retrying would defeat the point of verification.
type CertificateError struct {
	URL string
	Err error
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate verification failed for %s: %v", e.URL, e.Err)
}

func (e *CertificateError) Unwrap() error { return e.Err }

// errTimeout marks a connection timeout, retryable like a 503.
var errTimeout = errors.New("connection timed out")

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	return errors.Is(err, errTimeout)
}
