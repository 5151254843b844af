package camera

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goprolink/goprolink/internal/ble"
	"github.com/goprolink/goprolink/internal/gopro/proto"
)

// SetShutter starts (true) or stops (false) the shutter.
func (c *Camera) SetShutter(ctx context.Context, on bool) error {
	param := []byte{0x00}
	if on {
		param[0] = 0x01
	}
	return c.sendCommand(ctx, proto.CmdSetShutter, param)
}

// Sleep puts the camera into standby. The BLE link survives; the camera
// wakes on the next command.
func (c *Camera) Sleep(ctx context.Context) error {
	return c.sendCommand(ctx, proto.CmdSleep)
}

// SetDateTime sets the camera clock to local time t.
func (c *Camera) SetDateTime(ctx context.Context, t time.Time) error {
	return c.sendCommand(ctx, proto.CmdSetDateTime, dateTimeBytes(t))
}

// SetDateTimeWithOffset sets the camera clock along with the UTC offset
// and DST flag, for firmware that tracks time zones.
func (c *Camera) SetDateTimeWithOffset(ctx context.Context, t time.Time, utcOffsetMinutes int16, dst bool) error {
	param := dateTimeBytes(t)
	param = append(param, byte(uint16(utcOffsetMinutes)>>8), byte(uint16(utcOffsetMinutes)))
	if dst {
		param = append(param, 0x01)
	} else {
		param = append(param, 0x00)
	}
	return c.sendCommand(ctx, proto.CmdSetDateTimeDST, param)
}

// TagHilight drops a hilight marker in the current clip, or tags a moment
// when idle.
func (c *Camera) TagHilight(ctx context.Context) error {
	return c.sendCommand(ctx, proto.CmdTagHilight)
}

// LoadPreset activates a preset by its camera-assigned ID.
func (c *Camera) LoadPreset(ctx context.Context, presetID uint32) error {
	param := []byte{byte(presetID >> 24), byte(presetID >> 16), byte(presetID >> 8), byte(presetID)}
	return c.sendCommand(ctx, proto.CmdLoadPreset, param)
}

// LoadPresetGroup activates a preset group (video, photo, timelapse).
func (c *Camera) LoadPresetGroup(ctx context.Context, groupID uint16) error {
	param := []byte{byte(groupID >> 8), byte(groupID)}
	return c.sendCommand(ctx, proto.CmdLoadPresetGroup, param)
}

// sendCommand writes one TLV command and waits for its ack. Messages from
// other characteristics arriving in between are skipped, not consumed as
// the ack.
func (c *Camera) sendCommand(ctx context.Context, cmd proto.CmdID, params ...[]byte) error {
	if !c.link.Connected() {
		return ErrNotConnected
	}

	c.link.ClearQueue()
	if err := c.link.Write(ble.CharCommand, proto.BuildCommand(cmd, params...)); err != nil {
		return fmt.Errorf("camera: command %#x: %w", byte(cmd), err)
	}

	deadline := time.Now().Add(c.timeouts.BleResponseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("camera: command %#x: %w", byte(cmd), ble.ErrLinkTimeout)
		}
		n, err := c.link.WaitForResponse(ctx, remaining)
		if err != nil {
			return fmt.Errorf("camera: command %#x: %w", byte(cmd), err)
		}
		if n.CharUUID != ble.CharCommandResponse {
			continue
		}
		id, status, _, err := proto.ParseCommandResponse(n.Data)
		if err != nil || id != cmd {
			slog.Debug("[CAMERA] skipping unrelated command response", "error", err)
			continue
		}
		if status != proto.CommandStatusOK {
			return fmt.Errorf("camera: command %#x rejected: status %#x", byte(cmd), status)
		}
		return nil
	}
}

// dateTimeBytes encodes t in the camera's wire layout.
func dateTimeBytes(t time.Time) []byte {
	year := t.Year()
	return []byte{
		byte(year >> 8), byte(year),
		byte(t.Month()), byte(t.Day()),
		byte(t.Hour()), byte(t.Minute()), byte(t.Second()),
	}
}
