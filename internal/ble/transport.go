package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goprolink/goprolink/internal/ble/frame"
	"github.com/goprolink/goprolink/internal/config"
)

var (
	// ErrNotConnected is returned for operations that need a live link.
	ErrNotConnected = errors.New("ble: not connected")
	// ErrLinkTimeout is returned when no notification arrives in time.
	ErrLinkTimeout = errors.New("ble: response timeout")
	// ErrDeviceNotFound is returned when discovery finds no matching camera.
	ErrDeviceNotFound = errors.New("ble: no matching camera found")
	// ErrPairingUnsupported is returned by adapters that cannot initiate
	// bonding explicitly. The transport treats it as non-fatal.
	ErrPairingUnsupported = errors.New("ble: pairing not supported by adapter")
)

// Notification is one reassembled message from a response characteristic.
type Notification struct {
	CharUUID string
	Data     []byte
}

// TransportOptions configures transport behavior.
type TransportOptions struct {
	QueueSize        int           // max buffered inbound messages
	InterPacketDelay time.Duration // pacing between fragment writes
	MTU              int           // attribute payload size
}

// DefaultTransportOptions returns sensible defaults.
func DefaultTransportOptions() TransportOptions {
	return TransportOptions{
		QueueSize:        32,
		InterPacketDelay: 20 * time.Millisecond,
		MTU:              frame.DefaultMTU,
	}
}

// Transport manages the BLE link to one camera: discovery by advertised
// name, connection with retry, notification reassembly into an inbound
// queue, and fragmented writes.
type Transport struct {
	adapter  Adapter
	target   string // camera serial suffix; empty matches any GoPro
	timeouts config.TimeoutConfig
	opts     TransportOptions

	mu        sync.Mutex
	conn      Connection
	chars     map[string]Characteristic
	connected bool
	device    Device

	// queue is the single inbound path for reassembled notifications.
	// Notification callbacks send into it; WaitForResponse receives.
	queue chan Notification

	disconnects  atomic.Uint32
	onDisconnect func()
}

// NewTransport creates a transport for the camera whose advertised name is
// "GoPro <target>". An empty target matches the first GoPro found.
func NewTransport(adapter Adapter, target string, timeouts config.TimeoutConfig, opts TransportOptions) *Transport {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.MTU <= 0 {
		opts.MTU = frame.DefaultMTU
	}
	return &Transport{
		adapter:  adapter,
		target:   target,
		timeouts: timeouts,
		opts:     opts,
		queue:    make(chan Notification, opts.QueueSize),
	}
}

// OnDisconnect registers a callback invoked whenever the link drops.
// Must be called before Connect.
func (t *Transport) OnDisconnect(cb func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = cb
}

// Connected reports whether the link is up.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// DisconnectCount returns how many times the link has dropped. Useful for
// telling an expected drop (camera joining WiFi) from link instability.
func (t *Transport) DisconnectCount() int {
	return int(t.disconnects.Load())
}

// Device returns the discovered peripheral. Zero value before Connect.
func (t *Transport) Device() Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device
}

// Connect discovers the camera and establishes the full link: connection,
// pairing, characteristic discovery and notification subscriptions. It is
// idempotent; calling it on a live link is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	retries := t.timeouts.BleConnectRetries
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if err := t.connectOnce(ctx); err != nil {
			lastErr = err
			slog.Warn("[BLE] connect attempt failed", "attempt", attempt, "error", err)
			if attempt < retries {
				// 3s, then 4s, then 5s between attempts.
				delay := time.Duration(2+attempt) * time.Second
				slog.Info("[BLE] retrying", "delay", delay)
				if err := sleepCtx(ctx, delay); err != nil {
					return fmt.Errorf("ble: connect: %w", err)
				}
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("ble: connect failed after %d attempts: %w", retries, lastErr)
}

// connectOnce performs a single discovery + connection + setup pass.
func (t *Transport) connectOnce(ctx context.Context) error {
	device, err := t.discover(ctx)
	if err != nil {
		return err
	}
	slog.Info("[BLE] camera found", "name", device.Name, "address", device.Address, "rssi", device.RSSI)

	connectCtx, cancel := context.WithTimeout(ctx, t.timeouts.BleConnectTimeout)
	defer cancel()
	conn, err := t.adapter.Connect(connectCtx, device.Address)
	if err != nil {
		return err
	}

	// Pairing triggers first-boot bonding. Backends without an explicit
	// pair call bond lazily on characteristic access; either way a
	// failure here is not fatal.
	if err := t.adapter.Pair(device.Address); err != nil {
		if errors.Is(err, ErrPairingUnsupported) {
			slog.Debug("[BLE] explicit pairing unsupported, relying on implicit bonding")
		} else {
			slog.Warn("[BLE] pairing failed, continuing", "error", err)
		}
	}

	chars, err := conn.DiscoverCharacteristics([]string{ServiceControlQuery, ServiceCameraManagement})
	if err != nil {
		conn.Disconnect()
		return err
	}

	charMap := make(map[string]Characteristic, len(chars))
	for _, ch := range chars {
		charMap[strings.ToLower(ch.UUID())] = ch
		t.subscribe(ch)
	}

	conn.OnDisconnect(func() {
		t.disconnects.Add(1)
		t.mu.Lock()
		t.connected = false
		t.conn = nil
		t.chars = nil
		cb := t.onDisconnect
		t.mu.Unlock()
		slog.Info("[BLE] link dropped")
		if cb != nil {
			cb()
		}
	})

	t.mu.Lock()
	t.conn = conn
	t.chars = charMap
	t.device = device
	t.connected = true
	t.mu.Unlock()

	slog.Info("[BLE] connected", "name", device.Name, "characteristics", len(charMap))
	return nil
}

// subscribe enables notifications on a characteristic, feeding packets
// through a per-characteristic reassembler into the inbound queue.
// Write-only characteristics reject the subscription; that is expected.
func (t *Transport) subscribe(ch Characteristic) {
	uuid := strings.ToLower(ch.UUID())
	var r frame.Reassembler
	err := ch.Subscribe(func(packet []byte) {
		msg, done := r.Feed(packet)
		if !done {
			return
		}
		t.enqueue(Notification{CharUUID: uuid, Data: msg})
	})
	if err != nil {
		slog.Debug("[BLE] characteristic not notifiable", "uuid", uuid)
	}
}

// enqueue delivers a notification without ever blocking the BLE callback.
// When the queue is full the oldest message is dropped.
func (t *Transport) enqueue(n Notification) {
	for {
		select {
		case t.queue <- n:
			return
		default:
		}
		select {
		case old := <-t.queue:
			slog.Warn("[BLE] inbound queue full, dropping oldest", "uuid", old.CharUUID)
		default:
		}
	}
}

// discover scans for a camera advertising the control service whose name
// matches "GoPro <target>".
func (t *Transport) discover(ctx context.Context) (Device, error) {
	scanCtx, cancel := context.WithTimeout(ctx, t.timeouts.BleDiscoveryTimeout)
	defer cancel()

	devices, err := t.adapter.Scan(scanCtx, ServiceControlQuery)
	if err != nil {
		return Device{}, fmt.Errorf("ble: discovery: %w", err)
	}
	for _, d := range devices {
		if t.matches(d.Name) {
			return d, nil
		}
	}
	if t.target != "" {
		return Device{}, fmt.Errorf("%w: GoPro %s", ErrDeviceNotFound, t.target)
	}
	return Device{}, ErrDeviceNotFound
}

func (t *Transport) matches(name string) bool {
	if !strings.HasPrefix(name, "GoPro") {
		return false
	}
	if t.target == "" {
		return true
	}
	return strings.HasSuffix(name, t.target)
}

// Write fragments payload and writes the packets in order to the given
// characteristic. Pacing between packets keeps slower camera firmware from
// dropping fragments. The whole sequence, pacing included, must finish
// within BleWriteTimeout.
func (t *Transport) Write(charUUID string, payload []byte) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return ErrNotConnected
	}
	ch, ok := t.chars[strings.ToLower(charUUID)]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not discovered", charUUID)
	}

	packets, err := frame.Fragment(payload, t.opts.MTU)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(t.timeouts.BleWriteTimeout)
	for i, pkt := range packets {
		if t.timeouts.BleWriteTimeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("ble: write packet %d/%d: %w", i+1, len(packets), ErrLinkTimeout)
		}
		if err := ch.Write(pkt); err != nil {
			return fmt.Errorf("ble: write packet %d/%d: %w", i+1, len(packets), err)
		}
		if i < len(packets)-1 && t.opts.InterPacketDelay > 0 {
			time.Sleep(t.opts.InterPacketDelay)
		}
	}
	return nil
}

// WaitForResponse blocks until a reassembled notification arrives, the
// timeout elapses (ErrLinkTimeout), or ctx is cancelled. A timeout of
// zero or less means the configured BleReadTimeout.
func (t *Transport) WaitForResponse(ctx context.Context, timeout time.Duration) (Notification, error) {
	if timeout <= 0 {
		timeout = t.timeouts.BleReadTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-t.queue:
		return n, nil
	case <-timer.C:
		return Notification{}, ErrLinkTimeout
	case <-ctx.Done():
		return Notification{}, fmt.Errorf("ble: wait for response: %w", ctx.Err())
	}
}

// ClearQueue drops any buffered notifications. Called before a
// request/response exchange so stale unsolicited messages do not get
// matched to the new request.
func (t *Transport) ClearQueue() {
	for {
		select {
		case <-t.queue:
		default:
			return
		}
	}
}

// Disconnect tears the link down. It never fails; errors from the
// underlying stack are logged and swallowed so teardown paths can always
// proceed.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.chars = nil
	t.connected = false
	t.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Disconnect(); err != nil {
		slog.Warn("[BLE] disconnect error", "error", err)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
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
