// Package httpx provides the HTTPS session for a camera on the home
// network: TLS against the camera's self-signed certificate, basic auth,
// and a readiness probe that rides out the camera's slow web server boot.
package httpx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/goprolink/goprolink/internal/cohn"
	"github.com/goprolink/goprolink/internal/config"
)

var (
	// ErrUnreachableHost is returned when the camera's address times out
	// so consistently that it is almost certainly wrong or gone.
	ErrUnreachableHost = errors.New("httpx: host unreachable")
	// ErrReadinessTimeout is returned when the retry budget runs out while
	// the camera's web server is still not answering.
	ErrReadinessTimeout = errors.New("httpx: camera web server never became ready")
)

// versionPath is the cheapest endpoint the camera serves; it answers as
// soon as the web server is up.
const versionPath = "/gopro/version"

// Session is an authenticated HTTPS client for one camera.
type Session struct {
	creds    cohn.Credentials
	timeouts config.TimeoutConfig
	client   *http.Client
	baseURL  string

	mu    sync.Mutex
	ready bool
}

// NewSession builds a session from COHN credentials. The camera's
// certificate is self-signed for its own name rather than its DHCP
// address, so verification is disabled; the cert still pins the TLS
// handshake to the camera's key material.
func NewSession(creds cohn.Credentials, timeouts config.TimeoutConfig) *Session {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM([]byte(creds.Certificate)) {
		slog.Warn("[HTTP] camera certificate did not parse, proceeding without it")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:            pool,
			InsecureSkipVerify: true,
		},
	}
	return &Session{
		creds:    creds,
		timeouts: timeouts,
		baseURL:  "https://" + creds.IP,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeouts.HTTPRequestTimeout,
		},
	}
}

// BaseURL returns the session's camera address.
func (s *Session) BaseURL() string { return s.baseURL }

// Ready reports whether the readiness probe has succeeded.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Connect probes the camera until its web server answers. The camera can
// take many seconds to bring HTTPS up after joining the network, so
// timeouts and connection refusals are retried; anything else is fatal.
// Six consecutive timeouts mean the address itself is wrong
// (ErrUnreachableHost); exhausting the retry budget means the server
// never came up (ErrReadinessTimeout).
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	t := s.timeouts
	consecutiveTimeouts := 0
	for attempt := 1; attempt <= t.HTTPReadyMaxRetries; attempt++ {
		err := s.probe(ctx)
		if err == nil {
			s.mu.Lock()
			s.ready = true
			s.mu.Unlock()
			slog.Info("[HTTP] camera ready", "url", s.baseURL, "attempts", attempt)
			return nil
		}
		if !retryable(err) {
			return fmt.Errorf("httpx: readiness probe: %w", err)
		}

		if isTimeout(err) {
			consecutiveTimeouts++
		} else {
			consecutiveTimeouts = 0
		}
		if consecutiveTimeouts >= t.HTTPReadyFatalThreshold {
			slog.Error("[HTTP] address is not answering at all", "url", s.baseURL)
			return ErrUnreachableHost
		}
		if consecutiveTimeouts == t.HTTPReadyTimeoutThreshold {
			slog.Warn("[HTTP] repeated timeouts, address may be stale", "url", s.baseURL)
		}

		// Fixed interval for the first attempts, then linear backoff.
		delay := t.HTTPReadyRetryInterval
		if attempt > 3 {
			delay = t.HTTPReadyRetryInterval * time.Duration(attempt-2)
		}
		slog.Debug("[HTTP] camera not ready", "attempt", attempt, "delay", delay, "error", err)
		if err := sleepCtx(ctx, delay); err != nil {
			return fmt.Errorf("httpx: readiness probe: %w", err)
		}
	}
	return ErrReadinessTimeout
}

// probe issues one short version request.
func (s *Session) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeouts.HTTPInitialCheckTimeout)
	defer cancel()

	req, err := s.newRequest(probeCtx, versionPath)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

// Liveness issues a single version request without the retry loop. Used
// by health checks where retrying would hide the problem being probed.
func (s *Session) Liveness(ctx context.Context) error {
	return s.probe(ctx)
}

// Get performs an authenticated GET, connecting lazily on first use. The
// caller owns the response body.
func (s *Session) Get(ctx context.Context, path string) (*http.Response, error) {
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	req, err := s.newRequest(ctx, path)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpx: GET %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("httpx: GET %s: %w", path, &statusError{code: resp.StatusCode})
	}
	return resp, nil
}

// GetJSON performs an authenticated GET and decodes the JSON body into out.
func (s *Session) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("httpx: GET %s: decode: %w", path, err)
	}
	return nil
}

// Download streams path into dest. progress, if non-nil, is called with
// the running byte count and the total (-1 when unknown).
func (s *Session) Download(ctx context.Context, path, dest string, progress func(written, total int64)) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}

	dlCtx, cancel := context.WithTimeout(ctx, s.timeouts.HTTPDownloadTimeout)
	defer cancel()

	req, err := s.newRequest(dlCtx, path)
	if err != nil {
		return err
	}
	// A fresh client without the request timeout: large transfers outlive
	// it, and dlCtx already bounds the whole download.
	client := &http.Client{Transport: s.client.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("httpx: download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httpx: download %s: %w", path, &statusError{code: resp.StatusCode})
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("httpx: download %s: %w", path, err)
	}
	defer f.Close()

	var src io.Reader = resp.Body
	if progress != nil {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
	}
	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("httpx: download %s: %w", path, err)
	}
	return nil
}

func (s *Session) newRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("httpx: build request: %w", err)
	}
	req.SetBasicAuth(s.creds.Username, s.creds.Password)
	return req, nil
}

type progressReader struct {
	r       io.Reader
	total   int64
	written int64
	fn      func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		p.fn(p.written, p.total)
	}
	return n, err
}

// statusError is a non-200 response during a probe or request.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// retryable classifies probe failures. Network-level trouble is worth
// retrying while the camera boots its server; anything else (TLS, auth,
// client-side 4xx) will not fix itself.
func retryable(err error) bool {
	if isTimeout(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
