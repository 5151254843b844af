// Package camera ties the layers together: one Camera owns the BLE link,
// COHN provisioning and the HTTPS session, and exposes the control-plane
// operations callers actually use.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goprolink/goprolink/internal/ble"
	"github.com/goprolink/goprolink/internal/cohn"
	"github.com/goprolink/goprolink/internal/config"
	"github.com/goprolink/goprolink/internal/gopro/proto"
	"github.com/goprolink/goprolink/internal/httpx"
)

var (
	// ErrOfflineMode is returned by HTTP operations on a BLE-only camera.
	ErrOfflineMode = errors.New("camera: operation requires online mode")
	// ErrNotConnected is returned when the camera has not been opened.
	ErrNotConnected = errors.New("camera: not connected")
)

// link is the slice of the BLE transport the camera uses.
type link interface {
	Connect(ctx context.Context) error
	Disconnect()
	Connected() bool
	Write(charUUID string, payload []byte) error
	WaitForResponse(ctx context.Context, timeout time.Duration) (ble.Notification, error)
	ClearQueue()
	Device() ble.Device
	DisconnectCount() int
}

// provisioner is the slice of the COHN engine the camera uses.
type provisioner interface {
	Configure(ctx context.Context) (cohn.Credentials, error)
	ConnectWiFi(ctx context.Context, ssid, password string, preferKnown bool) error
	Status(ctx context.Context) (*proto.NotifyCOHNStatus, error)
	RefreshIP(ctx context.Context, current cohn.Credentials) (cohn.Credentials, error)
	ReleaseNetwork(ctx context.Context) error
	ScanNetworks(ctx context.Context) ([]proto.ScanEntry, bool)
}

// session is the slice of the HTTPS session the camera uses.
type session interface {
	Connect(ctx context.Context) error
	Liveness(ctx context.Context) error
	Get(ctx context.Context, path string) (*http.Response, error)
	GetJSON(ctx context.Context, path string, out any) error
	Download(ctx context.Context, path, dest string, progress func(written, total int64)) error
}

// Options configures one camera.
type Options struct {
	// Identifier is the last digits of the camera serial, as shown in its
	// advertised name "GoPro XXXX". Empty matches the first camera found.
	Identifier string
	// Online enables WiFi/COHN on Open. Offline cameras are BLE-only.
	Online bool
	// SSID and Password name the home network to associate the camera
	// with. Leave SSID empty when the camera is already on the network.
	SSID     string
	Password string
	// Store persists COHN credentials across runs. Optional.
	Store cohn.Store
}

// Camera coordinates the connection layers for a single camera.
type Camera struct {
	opts     Options
	timeouts config.TimeoutConfig
	link     link
	prov     provisioner

	// newSession builds the HTTPS session once credentials exist.
	// Overridable for tests.
	newSession func(cohn.Credentials, config.TimeoutConfig) session

	mu     sync.Mutex
	opened bool
	online bool
	creds  cohn.Credentials
	sess   session
}

// New creates a camera using the given BLE adapter.
func New(adapter ble.Adapter, opts Options, timeouts config.TimeoutConfig) *Camera {
	transport := ble.NewTransport(adapter, opts.Identifier, timeouts, ble.DefaultTransportOptions())
	return &Camera{
		opts:     opts,
		timeouts: timeouts,
		link:     transport,
		prov:     cohn.NewProvisioner(transport, timeouts),
		newSession: func(c cohn.Credentials, t config.TimeoutConfig) session {
			return httpx.NewSession(c, t)
		},
	}
}

// Identifier returns the configured camera identifier, falling back to
// the discovered device name.
func (c *Camera) Identifier() string {
	if c.opts.Identifier != "" {
		return c.opts.Identifier
	}
	return c.link.Device().Name
}

// Open connects the camera. BLE always comes first; it is the control
// channel provisioning depends on. In online mode the camera is then
// associated with WiFi and HTTPS credentials are resolved, but the HTTP
// connection itself stays lazy until the first request needs it.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.link.Connect(ctx); err != nil {
		return fmt.Errorf("camera: open: %w", err)
	}

	if c.opts.Online {
		if err := c.goOnline(ctx, c.opts.SSID, c.opts.Password); err != nil {
			c.link.Disconnect()
			return err
		}
	}

	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()
	slog.Info("[CAMERA] open", "id", c.Identifier(), "online", c.opts.Online)
	return nil
}

// SwitchToOnline upgrades an offline camera to online mode without
// reopening the BLE link.
func (c *Camera) SwitchToOnline(ctx context.Context, ssid, password string) error {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.online {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.goOnline(ctx, ssid, password); err != nil {
		return err
	}
	slog.Info("[CAMERA] switched to online mode", "id", c.Identifier())
	return nil
}

// goOnline associates WiFi if requested and resolves HTTPS credentials:
// stored credentials get an address refresh, everything else goes through
// full provisioning. The certificate is only replaced by provisioning.
func (c *Camera) goOnline(ctx context.Context, ssid, password string) error {
	stored, found := c.loadStored()

	if ssid != "" {
		if err := c.prov.ConnectWiFi(ctx, ssid, password, found); err != nil {
			return fmt.Errorf("camera: wifi association: %w", err)
		}
	}

	var creds cohn.Credentials
	if found && stored.Valid() {
		refreshed, err := c.prov.RefreshIP(ctx, stored)
		if err != nil {
			// The camera may already have left BLE for WiFi. The stored
			// address is the best guess; the liveness check will judge it.
			slog.Warn("[CAMERA] address refresh failed, using stored credentials", "error", err)
			refreshed = stored
		}
		creds = refreshed
	} else {
		var err error
		creds, err = c.prov.Configure(ctx)
		if err != nil {
			return fmt.Errorf("camera: provisioning: %w", err)
		}
	}

	c.saveStored(creds)

	c.mu.Lock()
	c.creds = creds
	c.sess = c.newSession(creds, c.timeouts)
	c.online = true
	c.mu.Unlock()
	return nil
}

func (c *Camera) loadStored() (cohn.Credentials, bool) {
	if c.opts.Store == nil {
		return cohn.Credentials{}, false
	}
	creds, found, err := c.opts.Store.Load(c.Identifier())
	if err != nil {
		slog.Warn("[CAMERA] credential load failed", "error", err)
		return cohn.Credentials{}, false
	}
	return creds, found
}

func (c *Camera) saveStored(creds cohn.Credentials) {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.Save(c.Identifier(), creds); err != nil {
		slog.Warn("[CAMERA] credential save failed", "error", err)
	}
}

// Close tears everything down, HTTP side first, then BLE. It never
// fails: teardown runs in defer chains where an error could mask the
// real one.
func (c *Camera) Close() {
	c.mu.Lock()
	c.sess = nil
	c.online = false
	c.opened = false
	c.mu.Unlock()

	c.link.Disconnect()
	slog.Info("[CAMERA] closed", "id", c.Identifier())
}

// IsHealthy checks both halves of the connection: the BLE link state and,
// in online mode, an actual HTTP round trip.
func (c *Camera) IsHealthy(ctx context.Context) bool {
	if !c.link.Connected() {
		return false
	}
	c.mu.Lock()
	sess, online := c.sess, c.online
	c.mu.Unlock()
	if online && sess != nil {
		if err := sess.Liveness(ctx); err != nil {
			slog.Debug("[CAMERA] http liveness failed", "error", err)
			return false
		}
	}
	return true
}

// Reconnect re-establishes a dropped connection with bounded exponential
// backoff. An attempt only counts once IsHealthy passes, so in online
// mode the HTTP side has to answer too, not just the BLE link. It reports
// success rather than failing: callers poll it from supervision loops
// where an error return would just be re-wrapped.
func (c *Camera) Reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < c.timeouts.MaxReconnectAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoffDelay(attempt-1, 10)); err != nil {
				return false
			}
		}

		if err := c.link.Connect(ctx); err != nil {
			slog.Warn("[CAMERA] reconnect failed", "attempt", attempt+1, "error", err)
			continue
		}

		c.mu.Lock()
		online, creds := c.online, c.creds
		c.mu.Unlock()
		if online && creds.Valid() {
			refreshed, err := c.prov.RefreshIP(ctx, creds)
			if err == nil {
				c.mu.Lock()
				c.creds = refreshed
				c.sess = c.newSession(refreshed, c.timeouts)
				c.mu.Unlock()
			} else {
				slog.Warn("[CAMERA] address refresh after reconnect failed", "error", err)
			}
		}

		// Both halves have to come back; a live BLE link over a dead HTTP
		// side is not a recovered connection.
		if !c.IsHealthy(ctx) {
			slog.Warn("[CAMERA] reconnect attempt left connection unhealthy", "attempt", attempt+1)
			continue
		}

		slog.Info("[CAMERA] reconnected", "id", c.Identifier(), "attempt", attempt+1)
		return true
	}
	return false
}

// onlineSession gates HTTP operations: offline cameras fail fast instead
// of timing out against an address that was never provisioned.
func (c *Camera) onlineSession() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil, ErrNotConnected
	}
	if !c.online {
		return nil, ErrOfflineMode
	}
	if c.sess == nil {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

// CohnStatus queries the camera's COHN state over BLE.
func (c *Camera) CohnStatus(ctx context.Context) (*proto.NotifyCOHNStatus, error) {
	return c.prov.Status(ctx)
}

// ScanWiFiNetworks runs a BLE-initiated WiFi scan. ok is false when the
// camera cannot scan right now (for example while encoding).
func (c *Camera) ScanWiFiNetworks(ctx context.Context) (entries []proto.ScanEntry, ok bool) {
	return c.prov.ScanNetworks(ctx)
}

// ReleaseNetwork drops the camera's current station link.
func (c *Camera) ReleaseNetwork(ctx context.Context) error {
	return c.prov.ReleaseNetwork(ctx)
}

// backoffDelay returns the reconnection delay for attempt n, capped at
// maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
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
