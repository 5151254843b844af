package camera

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goprolink/goprolink/internal/httpx"
)

// CameraState is the camera's full status/settings dump. Keys are the
// numeric status and setting IDs as strings.
type CameraState struct {
	Status   map[string]json.Number `json:"status"`
	Settings map[string]json.Number `json:"settings"`
}

// CameraInfo is the camera's hardware identity.
type CameraInfo struct {
	ModelNumber     json.Number `json:"model_number"`
	ModelName       string      `json:"model_name"`
	FirmwareVersion string      `json:"firmware_version"`
	SerialNumber    string      `json:"serial_number"`
	APSSID          string      `json:"ap_ssid"`
	APMACAddress    string      `json:"ap_mac_addr"`
}

// DateTimeInfo is the camera's clock readout.
type DateTimeInfo struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	TZOffset int    `json:"tzone"`
	DST      int    `json:"dst"`
}

// State fetches the camera's current status and settings.
func (c *Camera) State(ctx context.Context) (*CameraState, error) {
	var state CameraState
	if err := c.getJSON(ctx, "/gopro/camera/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Info fetches the camera's hardware identity.
func (c *Camera) Info(ctx context.Context) (*CameraInfo, error) {
	var info CameraInfo
	if err := c.getJSON(ctx, "/gopro/camera/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// KeepAlive pings the camera so it does not power its WiFi down. Call it
// at least every ten seconds while idle. The ping runs under its own
// short deadline so a stalled request cannot eat the next interval.
func (c *Camera) KeepAlive(ctx context.Context) error {
	if c.timeouts.HTTPKeepAliveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeouts.HTTPKeepAliveTimeout)
		defer cancel()
	}
	return c.getOK(ctx, "/gopro/camera/keep_alive")
}

// SetSetting sets a numeric camera setting to one of its options.
func (c *Camera) SetSetting(ctx context.Context, setting, option int) error {
	return c.getOK(ctx, fmt.Sprintf("/gopro/camera/setting?setting=%d&option=%d", setting, option))
}

// PresetStatus returns the raw preset tree; its layout varies by model
// and firmware, so it is left undecoded.
func (c *Camera) PresetStatus(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/gopro/camera/presets/get", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// StartPreviewStream starts the low-resolution preview stream. The
// stream itself is UDP on port 8554; this only flips it on.
func (c *Camera) StartPreviewStream(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/camera/stream/start")
}

// StopPreviewStream stops the preview stream.
func (c *Camera) StopPreviewStream(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/camera/stream/stop")
}

// SetDigitalZoom sets the digital zoom level as a percentage.
func (c *Camera) SetDigitalZoom(ctx context.Context, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("camera: zoom percent %d out of range", percent)
	}
	return c.getOK(ctx, fmt.Sprintf("/gopro/camera/digital_zoom?percent=%d", percent))
}

// GetDateTime reads the camera clock.
func (c *Camera) GetDateTime(ctx context.Context) (*DateTimeInfo, error) {
	var dt DateTimeInfo
	if err := c.getJSON(ctx, "/gopro/camera/get_date_time", &dt); err != nil {
		return nil, err
	}
	return &dt, nil
}

// getJSON performs a gated, retried GET with a JSON body.
func (c *Camera) getJSON(ctx context.Context, path string, out any) error {
	sess, err := c.onlineSession()
	if err != nil {
		return err
	}
	return httpx.DefaultRetryPolicy().Do(ctx, func() error {
		return sess.GetJSON(ctx, path, out)
	})
}

// getOK performs a gated, retried GET where only the status matters.
func (c *Camera) getOK(ctx context.Context, path string) error {
	sess, err := c.onlineSession()
	if err != nil {
		return err
	}
	return httpx.DefaultRetryPolicy().Do(ctx, func() error {
		resp, err := sess.Get(ctx, path)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}
