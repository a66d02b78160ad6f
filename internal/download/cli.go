package download

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// cliTransport shells out to an external download binary. Used as a
// fallback when the native TLS client is not usable.
type cliTransport struct {
	name      string
	userAgent string
}

func newCurlTransport(userAgent string) *cliTransport {
	return &cliTransport{name: "curl", userAgent: userAgent}
}

func newWgetTransport(userAgent string) *cliTransport {
	return &cliTransport{name: "wget", userAgent: userAgent}
}

func (t *cliTransport) Name() string { return t.name }

func (t *cliTransport) Available() bool {
	_, err := exec.LookPath(t.name)
	return err == nil
}

func (t *cliTransport) SupportsSecure() bool { return true }

func (t *cliTransport) Get(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	switch t.name {
	case "curl":
		return t.curlGet(ctx, rawURL, timeout)
	case "wget":
		return t.wgetGet(ctx, rawURL, timeout)
	}
	return nil, &TransportUnavailableError{URL: rawURL}
}

func (t *cliTransport) curlGet(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	bin, err := exec.LookPath("curl")
	if err != nil {
		return nil, &TransportUnavailableError{URL: rawURL}
	}

	headerFile, err := os.CreateTemp("", "packsmith-curl-*.headers")
	if err != nil {
		return nil, &SourceError{URL: rawURL, Err: err}
	}
	headerPath := headerFile.Name()
	headerFile.Close()
	defer os.Remove(headerPath)

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	args := []string{
		"-sSL",
		"--connect-timeout", strconv.Itoa(secs),
		"--max-time", strconv.Itoa(secs * 2),
		"-D", headerPath,
	}
	if t.userAgent != "" {
		args = append(args, "-A", t.userAgent)
	}
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	status := lastStatusFromHeaders(headerPath)
	if status == 503 {
		return nil, &RateLimitError{URL: rawURL, Host: hostOf(rawURL)}
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			switch exitErr.ExitCode() {
			case 28: // operation timeout
				return nil, fmt.Errorf("%w: curl exit 28", errTimeout)
			case 51, 60: // peer certificate or CA verification failure
				return nil, &CertificateError{URL: rawURL, Err: fmt.Errorf("curl: %s", strings.TrimSpace(stderr.String()))}
			}
		}
		return nil, &SourceError{URL: rawURL, Err: fmt.Errorf("curl: %v: %s", runErr, strings.TrimSpace(stderr.String()))}
	}

	if status != 0 && status != 200 {
		return nil, &SourceError{URL: rawURL, Err: fmt.Errorf("bad status: %d", status)}
	}
	return stdout.Bytes(), nil
}

func (t *cliTransport) wgetGet(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	bin, err := exec.LookPath("wget")
	if err != nil {
		return nil, &TransportUnavailableError{URL: rawURL}
	}

	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	args := []string{
		"-q", "-O", "-",
		"--server-response",
		"--timeout", strconv.Itoa(secs),
		"--tries", "1",
	}
	if t.userAgent != "" {
		args = append(args, "--user-agent", t.userAgent)
	}
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	status := lastStatusFromResponseDump(&stderr)
	if status == 503 {
		return nil, &RateLimitError{URL: rawURL, Host: hostOf(rawURL)}
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			switch exitErr.ExitCode() {
			case 4: // network failure, includes timeouts
				return nil, fmt.Errorf("%w: wget exit 4", errTimeout)
			case 5: // SSL verification failure
				return nil, &CertificateError{URL: rawURL, Err: fmt.Errorf("wget: %s", strings.TrimSpace(stderr.String()))}
			}
		}
		return nil, &SourceError{URL: rawURL, Err: fmt.Errorf("wget: %v", runErr)}
	}

	if status != 0 && status != 200 {
		return nil, &SourceError{URL: rawURL, Err: fmt.Errorf("bad status: %d", status)}
	}
	return stdout.Bytes(), nil
}

// lastStatusFromHeaders reads a curl -D header dump and returns the status
// of the final response, following any redirects recorded in the file.
func lastStatusFromHeaders(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	status := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "HTTP/") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if code, err := strconv.Atoi(fields[1]); err == nil {
			status = code
		}
	}
	return status
}

// lastStatusFromResponseDump parses wget --server-response output, which
// writes indented header blocks to stderr.
func lastStatusFromResponseDump(buf *bytes.Buffer) int {
	status := 0
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "HTTP/") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if code, err := strconv.Atoi(fields[1]); err == nil {
			status = code
		}
	}
	return status
}
