package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// httpTransport is the native secure HTTP client. It is preferred for
// https URLs whenever the TLS stack is usable.
type httpTransport struct {
	userAgent string
	roots     *x509.CertPool
	client    *http.Client
}

func newHTTPTransport(userAgent string, roots *x509.CertPool) *httpTransport {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
		RootCAs:    roots,

		// CipherSuites applies only to TLS 1.0-1.2
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
	}

	transport := &http.Transport{
		TLSClientConfig:   tlsConfig,
		ForceAttemptHTTP2: true,
	}

	return &httpTransport{
		userAgent: userAgent,
		roots:     roots,
		client:    &http.Client{Transport: transport},
	}
}

func (t *httpTransport) Name() string { return "http" }

func (t *httpTransport) Available() bool { return true }

func (t *httpTransport) SupportsSecure() bool { return true }

func (t *httpTransport) Get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &SourceError{URL: rawURL, Err: err}
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyNetError(rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusServiceUnavailable:
		// Hosting platforms return 503 under load a decent amount.
		io.Copy(io.Discard, resp.Body)
		return nil, &RateLimitError{URL: rawURL, Host: hostOf(rawURL)}
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, &SourceError{URL: rawURL, Err: fmt.Errorf("bad status: %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetError(rawURL, err)
	}
	return body, nil
}

// classifyNetError sorts a transport-level failure into the error
// taxonomy: certificate problems are terminal, timeouts are retryable,
// everything else is a plain source error.
func classifyNetError(rawURL string, err error) error {
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return &CertificateError{URL: rawURL, Err: err}
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return &CertificateError{URL: rawURL, Err: err}
	}
	var authErr x509.UnknownAuthorityError
	if errors.As(err, &authErr) {
		return &CertificateError{URL: rawURL, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", errTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", errTimeout, err)
	}

	return &SourceError{URL: rawURL, Err: err}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}
