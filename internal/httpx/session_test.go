package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/goprolink/goprolink/internal/cohn"
	"github.com/goprolink/goprolink/internal/config"
)

func fastTimeouts() config.TimeoutConfig {
	ts := config.DefaultTimeouts()
	ts.HTTPInitialCheckTimeout = time.Second
	ts.HTTPReadyRetryInterval = time.Millisecond
	ts.HTTPReadyMaxRetries = 12
	ts.HTTPReadyTimeoutThreshold = 4
	ts.HTTPReadyFatalThreshold = 6
	return ts
}

func testCreds() cohn.Credentials {
	return cohn.Credentials{IP: "203.0.113.1", Username: "gopro", Password: "secret", Certificate: "not a pem"}
}

// sessionFor points a session at an httptest server.
func sessionFor(server *httptest.Server, ts config.TimeoutConfig) *Session {
	s := NewSession(testCreds(), ts)
	s.baseURL = server.URL
	s.client = server.Client()
	s.client.Timeout = ts.HTTPRequestTimeout
	return s
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// sessionWithTransport builds a session whose every request hits rt.
func sessionWithTransport(rt http.RoundTripper, ts config.TimeoutConfig) *Session {
	s := NewSession(testCreds(), ts)
	s.client = &http.Client{Transport: rt}
	return s
}

func TestConnectRetriesUntilReady(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"version":"2.0"}`))
	}))
	defer server.Close()

	s := sessionFor(server, fastTimeouts())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !s.Ready() {
		t.Error("session should be ready")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("probe count = %d, want 3", got)
	}

	// A second Connect is a no-op.
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("ready session must not re-probe, count = %d", got)
	}
}

func TestConnectFatalOnClientError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := sessionFor(server, fastTimeouts())
	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrReadinessTimeout) || errors.Is(err, ErrUnreachableHost) {
		t.Errorf("a 401 is fatal, not a readiness condition: %v", err)
	}
}

func TestConnectUnreachableAfterConsecutiveTimeouts(t *testing.T) {
	var calls atomic.Int32
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, timeoutError{}
	})

	s := sessionWithTransport(rt, fastTimeouts())
	err := s.Connect(context.Background())
	if !errors.Is(err, ErrUnreachableHost) {
		t.Fatalf("err = %v, want ErrUnreachableHost", err)
	}
	if got := calls.Load(); got != 6 {
		t.Errorf("probe count = %d, want exactly the fatal threshold (6)", got)
	}
}

func TestConnectReadinessTimeout(t *testing.T) {
	var calls atomic.Int32
	rt := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, syscall.ECONNREFUSED
	})

	ts := fastTimeouts()
	ts.HTTPReadyMaxRetries = 5
	s := sessionWithTransport(rt, ts)
	err := s.Connect(context.Background())
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("err = %v, want ErrReadinessTimeout", err)
	}
	if got := calls.Load(); got != 5 {
		t.Errorf("probe count = %d, want 5", got)
	}
}

func TestGetSendsBasicAuth(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "gopro" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	s := sessionFor(server, fastTimeouts())
	var out struct {
		Status string `json:"status"`
	}
	if err := s.GetJSON(context.Background(), "/gopro/camera/state", &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("status = %q", out.Status)
	}
	if !s.Ready() {
		t.Error("first request must connect lazily")
	}
}

func TestDownload(t *testing.T) {
	body := make([]byte, 64*1024)
	for i := range body {
		body[i] = byte(i)
	}
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	s := sessionFor(server, fastTimeouts())
	dest := filepath.Join(t.TempDir(), "clip.mp4")

	var lastWritten, lastTotal int64
	err := s.Download(context.Background(), "/videos/DCIM/100GOPRO/GX010001.MP4", dest,
		func(written, total int64) { lastWritten, lastTotal = written, total })
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(body) {
		t.Errorf("downloaded %d bytes, want %d", len(got), len(body))
	}
	if lastWritten != int64(len(body)) {
		t.Errorf("progress reported %d/%d", lastWritten, lastTotal)
	}
}

func TestRetryPolicyDo(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return !errors.Is(err, os.ErrPermission) },
	}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err=%v calls=%d, want success on third attempt", err, calls)
	}

	calls = 0
	err = policy.Do(context.Background(), func() error {
		calls++
		return os.ErrPermission
	})
	if !errors.Is(err, os.ErrPermission) || calls != 1 {
		t.Errorf("non-retryable must stop immediately: err=%v calls=%d", err, calls)
	}

	calls = 0
	err = policy.Do(context.Background(), func() error {
		calls++
		return errors.New("always failing")
	})
	if err == nil || calls != 3 {
		t.Errorf("budget exhaustion: err=%v calls=%d", err, calls)
	}
}
