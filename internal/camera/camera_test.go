package camera

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goprolink/goprolink/internal/ble"
	"github.com/goprolink/goprolink/internal/cohn"
	"github.com/goprolink/goprolink/internal/config"
	"github.com/goprolink/goprolink/internal/gopro/proto"
)

func fastTimeouts() config.TimeoutConfig {
	ts := config.DefaultTimeouts()
	ts.BleResponseTimeout = 100 * time.Millisecond
	ts.MaxReconnectAttempts = 1
	return ts
}

// fakeLink simulates the BLE transport. With autoAck set, every TLV
// command write is answered with a success ack.
type fakeLink struct {
	mu              sync.Mutex
	connected       bool
	connectErr      error
	connectCalls    int
	disconnectCalls int
	queue           []ble.Notification
	writes          []ble.Notification // reusing the struct as (char, payload)
	autoAck         bool
	ackStatus       byte
}

func (l *fakeLink) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connectCalls++
	if l.connectErr != nil {
		return l.connectErr
	}
	l.connected = true
	return nil
}

func (l *fakeLink) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectCalls++
	l.connected = false
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Write(charUUID string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	l.writes = append(l.writes, ble.Notification{CharUUID: charUUID, Data: cp})
	if l.autoAck && charUUID == ble.CharCommand {
		l.queue = append(l.queue, ble.Notification{
			CharUUID: ble.CharCommandResponse,
			Data:     []byte{payload[0], l.ackStatus},
		})
	}
	return nil
}

func (l *fakeLink) WaitForResponse(_ context.Context, _ time.Duration) (ble.Notification, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return ble.Notification{}, ble.ErrLinkTimeout
	}
	n := l.queue[0]
	l.queue = l.queue[1:]
	return n, nil
}

func (l *fakeLink) ClearQueue() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queue = nil
}

func (l *fakeLink) Device() ble.Device {
	return ble.Device{Name: "GoPro 1234", Address: "aa"}
}

func (l *fakeLink) DisconnectCount() int { return 0 }

func (l *fakeLink) commandWrites() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out [][]byte
	for _, w := range l.writes {
		if w.CharUUID == ble.CharCommand {
			out = append(out, w.Data)
		}
	}
	return out
}

// fakeProv records provisioning calls.
type fakeProv struct {
	mu              sync.Mutex
	calls           []string
	lastPreferKnown bool
	configureCreds  cohn.Credentials
	configureErr    error
	refreshCreds    cohn.Credentials
	refreshErr      error
	wifiErr         error
}

func (p *fakeProv) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
}

func (p *fakeProv) called(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (p *fakeProv) Configure(_ context.Context) (cohn.Credentials, error) {
	p.record("configure")
	return p.configureCreds, p.configureErr
}

func (p *fakeProv) ConnectWiFi(_ context.Context, _, _ string, preferKnown bool) error {
	p.record("wifi")
	p.mu.Lock()
	p.lastPreferKnown = preferKnown
	p.mu.Unlock()
	return p.wifiErr
}

func (p *fakeProv) Status(_ context.Context) (*proto.NotifyCOHNStatus, error) {
	p.record("status")
	return &proto.NotifyCOHNStatus{}, nil
}

func (p *fakeProv) RefreshIP(_ context.Context, current cohn.Credentials) (cohn.Credentials, error) {
	p.record("refresh")
	if p.refreshErr != nil {
		return current, p.refreshErr
	}
	return p.refreshCreds, nil
}

func (p *fakeProv) ReleaseNetwork(_ context.Context) error { p.record("release"); return nil }

func (p *fakeProv) ScanNetworks(_ context.Context) ([]proto.ScanEntry, bool) {
	p.record("scan")
	return nil, false
}

// fakeSession records HTTP activity.
type fakeSession struct {
	mu          sync.Mutex
	livenessErr error
	paths       []string
	hadDeadline bool
}

func (s *fakeSession) Connect(_ context.Context) error  { return nil }
func (s *fakeSession) Liveness(_ context.Context) error { return s.livenessErr }

func (s *fakeSession) Get(ctx context.Context, path string) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	_, s.hadDeadline = ctx.Deadline()
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func (s *fakeSession) GetJSON(_ context.Context, path string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return nil
}

func (s *fakeSession) Download(_ context.Context, path, _ string, _ func(int64, int64)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return nil
}

// fakeStore is an in-memory credential store.
type fakeStore struct {
	mu    sync.Mutex
	creds map[string]cohn.Credentials
	saves int
}

func newFakeStore() *fakeStore {
	return &fakeStore{creds: make(map[string]cohn.Credentials)}
}

func (s *fakeStore) Load(id string) (cohn.Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	return c, ok, nil
}

func (s *fakeStore) Save(id string, c cohn.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[id] = c
	s.saves++
	return nil
}

func (s *fakeStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, id)
	return nil
}

func (s *fakeStore) List() ([]cohn.Record, error) { return nil, nil }

// newTestCamera wires a camera from fakes. sessionCreds receives the
// credentials the session factory was called with.
func newTestCamera(l *fakeLink, p *fakeProv, opts Options) (*Camera, *fakeSession, *cohn.Credentials) {
	fs := &fakeSession{}
	sessionCreds := &cohn.Credentials{}
	c := &Camera{
		opts:     opts,
		timeouts: fastTimeouts(),
		link:     l,
		prov:     p,
		newSession: func(creds cohn.Credentials, _ config.TimeoutConfig) session {
			*sessionCreds = creds
			return fs
		},
	}
	return c, fs, sessionCreds
}

func validCreds() cohn.Credentials {
	return cohn.Credentials{IP: "10.0.0.5", Username: "gopro", Password: "secret", Certificate: "PEM"}
}

func TestOfflineEndToEnd(t *testing.T) {
	l := &fakeLink{autoAck: true}
	p := &fakeProv{}
	c, _, _ := newTestCamera(l, p, Options{Identifier: "1234"})
	ctx := context.Background()

	if err := c.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := c.SetShutter(ctx, true); err != nil {
		t.Fatalf("SetShutter(true) failed: %v", err)
	}
	if err := c.SetShutter(ctx, false); err != nil {
		t.Fatalf("SetShutter(false) failed: %v", err)
	}

	writes := l.commandWrites()
	if len(writes) != 2 {
		t.Fatalf("command writes = %d, want 2", len(writes))
	}
	if !bytes.Equal(writes[0], []byte{0x01, 0x01, 0x01}) {
		t.Errorf("shutter on = %x", writes[0])
	}
	if !bytes.Equal(writes[1], []byte{0x01, 0x01, 0x00}) {
		t.Errorf("shutter off = %x", writes[1])
	}

	// Offline cameras never touch provisioning or HTTP.
	if len(p.calls) != 0 {
		t.Errorf("provisioning calls in offline mode: %v", p.calls)
	}
	if _, err := c.State(ctx); !errors.Is(err, ErrOfflineMode) {
		t.Errorf("State err = %v, want ErrOfflineMode", err)
	}

	c.Close()
	if l.disconnectCalls != 1 {
		t.Errorf("disconnects = %d, want 1", l.disconnectCalls)
	}
	if c.IsHealthy(ctx) {
		t.Error("closed camera cannot be healthy")
	}
}

func TestCommandRejected(t *testing.T) {
	l := &fakeLink{autoAck: true, ackStatus: 0x02}
	c, _, _ := newTestCamera(l, &fakeProv{}, Options{})
	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	err := c.SetShutter(ctx, true)
	if err == nil || !strings.Contains(err.Error(), "status") {
		t.Errorf("err = %v, want status rejection", err)
	}
}

func TestOpenOnlineProvisionsFresh(t *testing.T) {
	l := &fakeLink{}
	p := &fakeProv{configureCreds: validCreds()}
	store := newFakeStore()
	c, _, sessionCreds := newTestCamera(l, p, Options{
		Identifier: "1234", Online: true, SSID: "HomeNet", Password: "pw", Store: store,
	})

	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !p.called("wifi") || !p.called("configure") {
		t.Errorf("calls = %v, want wifi association and provisioning", p.calls)
	}
	if p.lastPreferKnown {
		t.Error("no stored credentials means no known-network preference")
	}
	if p.called("refresh") {
		t.Error("fresh provisioning must not go through address refresh")
	}
	if saved, ok, _ := store.Load("1234"); !ok || saved != validCreds() {
		t.Errorf("credentials not persisted: %+v", saved)
	}
	if *sessionCreds != validCreds() {
		t.Errorf("session built with %+v", *sessionCreds)
	}
}

func TestOpenOnlineRefreshesStored(t *testing.T) {
	stored := validCreds()
	refreshed := stored
	refreshed.IP = "10.0.0.99"

	l := &fakeLink{}
	p := &fakeProv{refreshCreds: refreshed}
	store := newFakeStore()
	store.Save("1234", stored)
	store.saves = 0

	c, _, sessionCreds := newTestCamera(l, p, Options{
		Identifier: "1234", Online: true, SSID: "HomeNet", Password: "pw", Store: store,
	})
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !p.lastPreferKnown {
		t.Error("stored credentials must prefer the known-network path")
	}
	if p.called("configure") {
		t.Error("valid stored credentials must not re-provision")
	}
	if sessionCreds.IP != "10.0.0.99" {
		t.Errorf("session ip = %q, want refreshed address", sessionCreds.IP)
	}
	if sessionCreds.Certificate != stored.Certificate {
		t.Error("certificate must survive the refresh")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want refreshed credentials persisted once", store.saves)
	}
}

func TestOpenOnlineRefreshFailureUsesStored(t *testing.T) {
	stored := validCreds()
	l := &fakeLink{}
	p := &fakeProv{refreshErr: errors.New("camera left BLE")}
	store := newFakeStore()
	store.Save("1234", stored)

	c, _, sessionCreds := newTestCamera(l, p, Options{Identifier: "1234", Online: true, Store: store})
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if p.called("configure") {
		t.Error("refresh failure with valid stored credentials must not re-provision")
	}
	if *sessionCreds != stored {
		t.Errorf("session built with %+v, want stored credentials", *sessionCreds)
	}
}

func TestSwitchToOnline(t *testing.T) {
	l := &fakeLink{}
	p := &fakeProv{configureCreds: validCreds()}
	c, fs, _ := newTestCamera(l, p, Options{Identifier: "1234"})
	ctx := context.Background()

	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.State(ctx); !errors.Is(err, ErrOfflineMode) {
		t.Fatalf("pre-switch err = %v, want ErrOfflineMode", err)
	}

	if err := c.SwitchToOnline(ctx, "HomeNet", "pw"); err != nil {
		t.Fatalf("SwitchToOnline failed: %v", err)
	}
	if _, err := c.State(ctx); err != nil {
		t.Fatalf("State after switch failed: %v", err)
	}
	if len(fs.paths) == 0 || fs.paths[0] != "/gopro/camera/state" {
		t.Errorf("paths = %v", fs.paths)
	}

	// Switching again is a no-op.
	before := len(p.calls)
	if err := c.SwitchToOnline(ctx, "HomeNet", "pw"); err != nil {
		t.Fatal(err)
	}
	if got := len(p.calls); got != before {
		t.Errorf("provisioning calls = %d (%v), want %d", got, p.calls, before)
	}
}

func TestModeGating(t *testing.T) {
	c, _, _ := newTestCamera(&fakeLink{}, &fakeProv{}, Options{})

	if _, err := c.State(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("unopened err = %v, want ErrNotConnected", err)
	}
	if err := c.SwitchToOnline(context.Background(), "x", "y"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SwitchToOnline err = %v, want ErrNotConnected", err)
	}
}

func TestIsHealthy(t *testing.T) {
	l := &fakeLink{}
	p := &fakeProv{configureCreds: validCreds()}
	c, fs, _ := newTestCamera(l, p, Options{Online: true, SSID: "Net"})
	ctx := context.Background()

	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if !c.IsHealthy(ctx) {
		t.Error("healthy camera reported unhealthy")
	}

	fs.livenessErr = errors.New("connection refused")
	if c.IsHealthy(ctx) {
		t.Error("failing liveness must make the camera unhealthy")
	}

	fs.livenessErr = nil
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	if c.IsHealthy(ctx) {
		t.Error("dropped BLE link must make the camera unhealthy")
	}
}

func TestReconnect(t *testing.T) {
	l := &fakeLink{connectErr: errors.New("camera off")}
	c, _, _ := newTestCamera(l, &fakeProv{}, Options{})

	if c.Reconnect(context.Background()) {
		t.Error("reconnect against a dead camera must report failure")
	}

	l.mu.Lock()
	l.connectErr = nil
	l.mu.Unlock()
	if !c.Reconnect(context.Background()) {
		t.Error("reconnect should succeed once the camera answers")
	}
}

func TestReconnectRequiresHealthyHTTP(t *testing.T) {
	l := &fakeLink{}
	p := &fakeProv{configureCreds: validCreds(), refreshCreds: validCreds()}
	c, fs, _ := newTestCamera(l, p, Options{Online: true, SSID: "Net"})
	ctx := context.Background()

	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}

	// The link drops and the HTTP side stays dead: a BLE-only recovery
	// is not a recovered connection.
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	fs.livenessErr = errors.New("connection refused")

	if c.Reconnect(ctx) {
		t.Error("reconnect reported success with the HTTP side down")
	}

	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	fs.livenessErr = nil
	if !c.Reconnect(ctx) {
		t.Error("reconnect should succeed once both halves answer")
	}
}

func TestKeepAliveRunsUnderDeadline(t *testing.T) {
	l := &fakeLink{}
	p := &fakeProv{configureCreds: validCreds()}
	c, fs, _ := newTestCamera(l, p, Options{Online: true, SSID: "Net"})
	ctx := context.Background()

	if err := c.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.KeepAlive(ctx); err != nil {
		t.Fatalf("KeepAlive failed: %v", err)
	}

	if len(fs.paths) != 1 || fs.paths[0] != "/gopro/camera/keep_alive" {
		t.Errorf("paths = %v", fs.paths)
	}
	if !fs.hadDeadline {
		t.Error("keep-alive request ran without its own deadline")
	}
}

func TestGroupExecuteIsolatesFailures(t *testing.T) {
	g := NewGroup(2)
	var goodLink, badLink fakeLink
	badLink.connectErr = errors.New("battery dead")

	good, _, _ := newTestCamera(&goodLink, &fakeProv{}, Options{Identifier: "0001"})
	bad, _, _ := newTestCamera(&badLink, &fakeProv{}, Options{Identifier: "0002"})
	g.Add("good", good)
	g.Add("bad", bad)

	errs := g.OpenAll(context.Background())
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want only the bad camera", errs)
	}
	if _, ok := errs["bad"]; !ok {
		t.Errorf("errs = %v, want failure keyed by camera name", errs)
	}
	if !good.IsHealthy(context.Background()) {
		t.Error("failure of one camera must not affect the others")
	}

	g.CloseAll()
}

func TestGroupBoundsConcurrency(t *testing.T) {
	g := NewGroup(2)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		cam, _, _ := newTestCamera(&fakeLink{}, &fakeProv{}, Options{Identifier: name})
		g.Add(name, cam)
	}

	var mu sync.Mutex
	active, peak := 0, 0
	g.Execute(context.Background(), func(_ context.Context, _ string, _ *Camera) error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	})

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}
