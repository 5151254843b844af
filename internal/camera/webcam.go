package camera

import "context"

// WebcamState is the camera's webcam status readout.
type WebcamState struct {
	Error  int `json:"error"`
	Status int `json:"status"`
}

// WebcamVersion is the webcam API version readout.
type WebcamVersion struct {
	Version int `json:"version"`
}

// WebcamStart begins webcam streaming at the camera's current settings.
func (c *Camera) WebcamStart(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/webcam/start")
}

// WebcamStop stops streaming but keeps the camera in webcam mode.
func (c *Camera) WebcamStop(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/webcam/stop")
}

// WebcamExit leaves webcam mode entirely.
func (c *Camera) WebcamExit(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/webcam/exit")
}

// WebcamPreview starts the low-resolution webcam preview.
func (c *Camera) WebcamPreview(ctx context.Context) error {
	return c.getOK(ctx, "/gopro/webcam/preview")
}

// WebcamStatus reads the current webcam state.
func (c *Camera) WebcamStatus(ctx context.Context) (*WebcamState, error) {
	var s WebcamState
	if err := c.getJSON(ctx, "/gopro/webcam/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// WebcamAPIVersion reads the webcam API version.
func (c *Camera) WebcamAPIVersion(ctx context.Context) (*WebcamVersion, error) {
	var v WebcamVersion
	if err := c.getJSON(ctx, "/gopro/webcam/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}
