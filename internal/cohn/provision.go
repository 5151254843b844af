package cohn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goprolink/goprolink/internal/ble"
	"github.com/goprolink/goprolink/internal/config"
	"github.com/goprolink/goprolink/internal/gopro/proto"
)

// Link is the slice of the BLE transport the provisioner needs.
type Link interface {
	Write(charUUID string, payload []byte) error
	WaitForResponse(ctx context.Context, timeout time.Duration) (ble.Notification, error)
	ClearQueue()
}

// Provisioner drives COHN setup over an established BLE link: certificate
// lifecycle, WiFi association and status queries.
type Provisioner struct {
	link     Link
	timeouts config.TimeoutConfig
}

func NewProvisioner(link Link, timeouts config.TimeoutConfig) *Provisioner {
	return &Provisioner{link: link, timeouts: timeouts}
}

// Configure provisions COHN from scratch: any existing certificate is
// cleared, a new one is created, and once the camera reports itself
// provisioned the full credential set is assembled. The camera must
// already be associated with the home network (see ConnectWiFi).
func (p *Provisioner) Configure(ctx context.Context) (Credentials, error) {
	// Clearing is best-effort; an unprovisioned camera rejects it.
	if err := p.clearCert(ctx); err != nil {
		slog.Debug("[COHN] clear certificate skipped", "error", err)
	}

	if err := p.createCert(ctx); err != nil {
		return Credentials{}, err
	}

	if _, err := p.waitProvisioned(ctx); err != nil {
		return Credentials{}, err
	}

	cert, err := p.fetchCert(ctx)
	if err != nil {
		return Credentials{}, err
	}

	status, err := p.Status(ctx)
	if err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		IP:          status.IPAddress,
		Username:    status.Username,
		Password:    status.Password,
		Certificate: cert,
	}
	if !creds.Valid() {
		return Credentials{}, ErrIncompleteCredentials
	}
	slog.Info("[COHN] provisioned", "ip", creds.IP, "username", creds.Username)
	return creds, nil
}

// Status queries the camera's current COHN status.
func (p *Provisioner) Status(ctx context.Context) (*proto.NotifyCOHNStatus, error) {
	req := proto.RequestGetCOHNStatus{}
	payload, err := p.roundTrip(ctx, ble.CharQuery, proto.FeatureQuery, proto.ActionGetCOHNStatus,
		req.Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("cohn: query status: %w", err)
	}
	var status proto.NotifyCOHNStatus
	if err := status.Unmarshal(payload); err != nil {
		return nil, fmt.Errorf("cohn: decode status: %w", err)
	}
	return &status, nil
}

// RefreshIP re-queries the camera for its current address after a network
// change. Any reported address is adopted immediately, whatever the
// network state says: some firmware lingers in ConnectingToNetwork long
// after the address works. Polling is only for the address-not-yet-assigned
// case. The certificate always carries over from the current credentials;
// it only changes when the camera is re-provisioned.
func (p *Provisioner) RefreshIP(ctx context.Context, current Credentials) (Credentials, error) {
	for attempt := 1; ; attempt++ {
		status, err := p.Status(ctx)
		if err != nil {
			slog.Warn("[COHN] status query failed while waiting for IP", "attempt", attempt, "error", err)
		} else if status.IPAddress != "" {
			updated := current
			updated.IP = status.IPAddress
			if status.Username != "" {
				updated.Username = status.Username
			}
			if status.Password != "" {
				updated.Password = status.Password
			}
			return updated, nil
		}

		if attempt >= p.timeouts.IPWaitMaxAttempts {
			return current, fmt.Errorf("cohn: camera never reported a usable IP address")
		}
		if err := sleepCtx(ctx, p.timeouts.IPWaitInterval); err != nil {
			return current, fmt.Errorf("cohn: refresh IP: %w", err)
		}
	}
}

// ConnectWiFi associates the camera with the given network, trying the
// cheapest path first: a known-network connect when stored credentials
// suggest the camera has joined before, then a scan to see whether the
// SSID is already configured on the camera, and finally a fresh connect
// with the password.
//
// A missing provisioning notification is treated as success: the camera
// drops BLE the moment it associates, so the notification is often lost.
// The HTTP liveness check is the real confirmation.
func (p *Provisioner) ConnectWiFi(ctx context.Context, ssid, password string, preferKnown bool) error {
	if preferKnown {
		out := p.connectKnown(ctx, ssid, p.timeouts.WifiConnectKnownTimeout)
		if out.success() {
			p.logOutcome(out, ssid)
			return nil
		}
		slog.Info("[COHN] known-network connect failed, trying full path", "ssid", ssid, "state", out.state)
	}

	scan := p.scan(ctx)
	if scan.ok {
		if entry := findSSID(scan.entries, ssid); entry != nil && entry.Configured() {
			out := p.connectKnown(ctx, ssid, p.timeouts.WifiProvisionTimeout)
			if out.success() {
				p.logOutcome(out, ssid)
				return nil
			}
			if out.linkErr != nil {
				return fmt.Errorf("cohn: connect to %s: %w", ssid, out.linkErr)
			}
			if out.state != proto.ProvisioningErrorPasswordAuth {
				return &ProvisioningError{State: out.state}
			}
			// Stale camera-side credentials; fall through and re-provision
			// the SSID with the supplied password.
			slog.Info("[COHN] stored network credentials rejected, reconnecting with password", "ssid", ssid)
		}
	} else {
		slog.Warn("[COHN] wifi scan failed, connecting with password directly", "ssid", ssid)
	}

	return p.connectNew(ctx, ssid, password)
}

func (p *Provisioner) clearCert(ctx context.Context) error {
	payload, err := p.roundTrip(ctx, ble.CharCommand, proto.FeatureCommand, proto.ActionClearCOHNCert,
		(&proto.RequestClearCOHNCert{}).Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return err
	}
	return expectGenericSuccess(payload, "clear certificate")
}

func (p *Provisioner) createCert(ctx context.Context) error {
	req := proto.RequestCreateCOHNCert{Override: true}
	payload, err := p.roundTrip(ctx, ble.CharCommand, proto.FeatureCommand, proto.ActionCreateCOHNCert,
		req.Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return fmt.Errorf("cohn: create certificate: %w", err)
	}
	return expectGenericSuccess(payload, "create certificate")
}

func (p *Provisioner) fetchCert(ctx context.Context) (string, error) {
	payload, err := p.roundTrip(ctx, ble.CharQuery, proto.FeatureQuery, proto.ActionGetCOHNCert,
		(&proto.RequestCOHNCert{}).Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return "", fmt.Errorf("cohn: fetch certificate: %w", err)
	}
	var resp proto.ResponseCOHNCert
	if err := resp.Unmarshal(payload); err != nil {
		return "", fmt.Errorf("cohn: decode certificate: %w", err)
	}
	if resp.Result != proto.ResultSuccess {
		return "", fmt.Errorf("cohn: fetch certificate: result %d", resp.Result)
	}
	return resp.Cert, nil
}

// waitProvisioned polls the COHN status until the camera is provisioned
// and usably on the network. ConnectingToNetwork with an assigned IP
// counts: some firmware lingers in that state even though HTTPS is
// already reachable.
func (p *Provisioner) waitProvisioned(ctx context.Context) (*proto.NotifyCOHNStatus, error) {
	deadline := time.Now().Add(p.timeouts.CohnWaitProvisionedTimeout)
	for {
		status, err := p.Status(ctx)
		if err != nil {
			slog.Warn("[COHN] status poll failed", "error", err)
		} else if usable(status) {
			return status, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrProvisionTimeout
		}
		if err := sleepCtx(ctx, p.timeouts.CohnStatusPollInterval); err != nil {
			return nil, fmt.Errorf("cohn: wait provisioned: %w", err)
		}
	}
}

func usable(s *proto.NotifyCOHNStatus) bool {
	if s.Status != proto.COHNProvisioned {
		return false
	}
	return s.State == proto.COHNStateNetworkConnected ||
		(s.State == proto.COHNStateConnectingToNetwork && s.IPAddress != "")
}

// connectOutcome is the result of one association attempt. Expected
// failures are carried as the terminal provisioning state, not errors.
type connectOutcome struct {
	state    proto.ProvisioningState
	timedOut bool
	linkErr  error
}

func (o connectOutcome) success() bool {
	return o.linkErr == nil && (o.timedOut || o.state.Success())
}

func (p *Provisioner) logOutcome(o connectOutcome, ssid string) {
	if o.timedOut {
		slog.Warn("[COHN] no provisioning notification; camera likely joined the network and dropped BLE", "ssid", ssid)
		return
	}
	slog.Info("[COHN] wifi associated", "ssid", ssid, "state", o.state)
}

// connectKnown asks the camera to join an SSID it already has credentials
// for.
func (p *Provisioner) connectKnown(ctx context.Context, ssid string, timeout time.Duration) connectOutcome {
	req := proto.RequestConnect{SSID: ssid}
	payload, err := p.roundTrip(ctx, ble.CharNetworkManagement, proto.FeatureNetworkManagement,
		proto.ActionRequestWiFiConnect, req.Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return connectOutcome{linkErr: err}
	}
	return p.followConnect(ctx, payload, timeout)
}

// connectNew provisions the SSID with the supplied password. This is the
// terminal rung of the ladder: its failures surface as errors.
func (p *Provisioner) connectNew(ctx context.Context, ssid, password string) error {
	req := proto.RequestConnectNew{SSID: ssid, Password: password}
	payload, err := p.roundTrip(ctx, ble.CharNetworkManagement, proto.FeatureNetworkManagement,
		proto.ActionRequestWiFiConnectNew, req.Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return fmt.Errorf("cohn: connect to %s: %w", ssid, err)
	}

	out := p.followConnect(ctx, payload, p.timeouts.WifiProvisionTimeout)
	if out.linkErr != nil {
		return fmt.Errorf("cohn: connect to %s: %w", ssid, out.linkErr)
	}
	if out.success() {
		p.logOutcome(out, ssid)
		return nil
	}
	return &ProvisioningError{State: out.state}
}

// followConnect interprets the connect acknowledgment and then waits for
// the asynchronous provisioning result.
func (p *Provisioner) followConnect(ctx context.Context, ack []byte, timeout time.Duration) connectOutcome {
	var resp proto.ResponseConnect
	if err := resp.Unmarshal(ack); err != nil {
		return connectOutcome{linkErr: err}
	}
	if resp.Result != proto.ResultSuccess {
		if resp.ProvisioningState.Terminal() {
			return connectOutcome{state: resp.ProvisioningState}
		}
		return connectOutcome{linkErr: fmt.Errorf("cohn: connect request rejected: result %d", resp.Result)}
	}
	return p.awaitProvisioningResult(ctx, timeout)
}

// awaitProvisioningResult consumes notifications until a terminal
// provisioning state arrives or the window closes.
func (p *Provisioner) awaitProvisioningResult(ctx context.Context, timeout time.Duration) connectOutcome {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return connectOutcome{timedOut: true}
		}
		n, err := p.link.WaitForResponse(ctx, remaining)
		if err != nil {
			if errors.Is(err, ble.ErrLinkTimeout) {
				return connectOutcome{timedOut: true}
			}
			return connectOutcome{linkErr: err}
		}

		feature, action, payload, err := proto.SplitMessage(n.Data)
		if err != nil || feature != proto.FeatureNetworkManagement || action != proto.ActionNotifProvisioning {
			continue
		}
		var notif proto.NotifProvisioningState
		if err := notif.Unmarshal(payload); err != nil {
			continue
		}
		if notif.ProvisioningState.Terminal() {
			return connectOutcome{state: notif.ProvisioningState}
		}
		slog.Debug("[COHN] provisioning progress", "state", notif.ProvisioningState)
	}
}

// ScanNetworks runs a WiFi scan and returns the discovered access
// points. ok is false when the camera cannot scan right now; callers
// decide whether that matters.
func (p *Provisioner) ScanNetworks(ctx context.Context) ([]proto.ScanEntry, bool) {
	out := p.scan(ctx)
	return out.entries, out.ok
}

// scanOutcome carries scan results; ok=false means scanning was not
// possible, which callers treat as "skip the scan rung", not an error.
type scanOutcome struct {
	ok      bool
	entries []proto.ScanEntry
}

func (p *Provisioner) scan(ctx context.Context) scanOutcome {
	payload, err := p.roundTrip(ctx, ble.CharNetworkManagement, proto.FeatureNetworkManagement,
		proto.ActionScanWiFiNetworks, (&proto.RequestStartScan{}).Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		slog.Warn("[COHN] scan request failed", "error", err)
		return scanOutcome{}
	}
	var ack proto.ResponseStartScanning
	if err := ack.Unmarshal(payload); err != nil || ack.Result != proto.ResultSuccess {
		slog.Warn("[COHN] scan rejected", "result", ack.Result, "error", err)
		return scanOutcome{}
	}

	scanID, total, ok := p.awaitScanComplete(ctx)
	if !ok {
		return scanOutcome{}
	}

	req := proto.RequestGetApEntries{StartIndex: 0, MaxEntries: total, ScanID: scanID}
	payload, err = p.roundTrip(ctx, ble.CharNetworkManagement, proto.FeatureNetworkManagement,
		proto.ActionGetAPEntries, req.Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		slog.Warn("[COHN] fetching scan entries failed", "error", err)
		return scanOutcome{}
	}
	var entries proto.ResponseGetApEntries
	if err := entries.Unmarshal(payload); err != nil || entries.Result != proto.ResultSuccess {
		slog.Warn("[COHN] scan entries rejected", "result", entries.Result, "error", err)
		return scanOutcome{}
	}
	return scanOutcome{ok: true, entries: entries.Entries}
}

// awaitScanComplete waits for the scan-finished notification.
func (p *Provisioner) awaitScanComplete(ctx context.Context) (scanID, total int32, ok bool) {
	deadline := time.Now().Add(p.timeouts.WifiScanTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			slog.Warn("[COHN] scan never completed")
			return 0, 0, false
		}
		n, err := p.link.WaitForResponse(ctx, remaining)
		if err != nil {
			slog.Warn("[COHN] waiting for scan result failed", "error", err)
			return 0, 0, false
		}

		feature, action, payload, err := proto.SplitMessage(n.Data)
		if err != nil || feature != proto.FeatureNetworkManagement || action != proto.ActionNotifStartScanning {
			continue
		}
		var notif proto.NotifStartScanning
		if err := notif.Unmarshal(payload); err != nil {
			continue
		}
		switch notif.ScanningState {
		case proto.ScanningSuccess:
			return notif.ScanID, notif.TotalEntries, true
		case proto.ScanningAbortedBySystem, proto.ScanningCancelledByUser:
			slog.Warn("[COHN] scan aborted", "state", notif.ScanningState)
			return 0, 0, false
		}
	}
}

// ReleaseNetwork asks the camera to drop its current station link so a
// different network can be provisioned.
func (p *Provisioner) ReleaseNetwork(ctx context.Context) error {
	payload, err := p.roundTrip(ctx, ble.CharNetworkManagement, proto.FeatureNetworkManagement,
		proto.ActionReleaseNetwork, (&proto.RequestReleaseNetwork{}).Marshal(), p.timeouts.BleResponseTimeout)
	if err != nil {
		return fmt.Errorf("cohn: release network: %w", err)
	}
	return expectGenericSuccess(payload, "release network")
}

// roundTrip clears stale notifications, writes one request and waits for
// the matching response payload. Unrelated messages arriving in between
// are skipped.
func (p *Provisioner) roundTrip(ctx context.Context, charUUID string, feature proto.FeatureID,
	action proto.ActionID, payload []byte, timeout time.Duration) ([]byte, error) {

	p.link.ClearQueue()
	if err := p.link.Write(charUUID, proto.BuildMessage(feature, action, payload)); err != nil {
		return nil, err
	}

	want := proto.ResponseAction(action)
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ble.ErrLinkTimeout
		}
		n, err := p.link.WaitForResponse(ctx, remaining)
		if err != nil {
			return nil, err
		}
		f, a, body, err := proto.SplitMessage(n.Data)
		if err != nil {
			continue
		}
		if f == feature && a == want {
			return body, nil
		}
		slog.Debug("[COHN] skipping unrelated message", "feature", f, "action", a)
	}
}

func findSSID(entries []proto.ScanEntry, ssid string) *proto.ScanEntry {
	for i := range entries {
		if entries[i].SSID == ssid {
			return &entries[i]
		}
	}
	return nil
}

func expectGenericSuccess(payload []byte, op string) error {
	var resp proto.ResponseGeneric
	if err := resp.Unmarshal(payload); err != nil {
		return fmt.Errorf("cohn: %s: decode response: %w", op, err)
	}
	if resp.Result != proto.ResultSuccess {
		return fmt.Errorf("cohn: %s: result %d", op, resp.Result)
	}
	return nil
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
