// Package proto implements the camera's protobuf wire messages and the
// identifier constants for BLE commands. Messages are encoded and decoded
// field by field with protowire; there is no generated code.
package proto

import "fmt"

// FeatureID selects the feature a protobuf message belongs to. It is the
// first byte of a logical message on the protobuf characteristics.
type FeatureID byte

const (
	FeatureNetworkManagement FeatureID = 0x02
	FeatureCommand           FeatureID = 0xF1
	FeatureQuery             FeatureID = 0xF5
)

// ActionID selects the operation within a feature. It is the second byte
// of a logical message.
type ActionID byte

const (
	ActionScanWiFiNetworks      ActionID = 0x02
	ActionGetAPEntries          ActionID = 0x03
	ActionRequestWiFiConnect    ActionID = 0x04
	ActionRequestWiFiConnectNew ActionID = 0x05
	ActionNotifStartScanning    ActionID = 0x0B
	ActionNotifProvisioning     ActionID = 0x0C
	ActionReleaseNetwork        ActionID = 0x18
	ActionClearCOHNCert         ActionID = 0x66
	ActionCreateCOHNCert        ActionID = 0x67
	ActionGetCOHNCert           ActionID = 0x6E
	ActionGetCOHNStatus         ActionID = 0x6F
)

// ResponseAction returns the action ID the camera uses when answering the
// given request action.
func ResponseAction(a ActionID) ActionID {
	return a | 0x80
}

// CmdID identifies a TLV command on the command characteristic.
type CmdID byte

const (
	CmdSetShutter      CmdID = 0x01
	CmdSleep           CmdID = 0x05
	CmdSetDateTime     CmdID = 0x0D
	CmdSetDateTimeDST  CmdID = 0x0F
	CmdTagHilight      CmdID = 0x18
	CmdLoadPresetGroup CmdID = 0x3E
	CmdLoadPreset      CmdID = 0x40
)

// CommandStatusOK is the success status byte in a TLV command ack.
const CommandStatusOK = 0x00

// BuildMessage prepends the feature/action header to a protobuf payload.
func BuildMessage(feature FeatureID, action ActionID, payload []byte) []byte {
	msg := make([]byte, 0, 2+len(payload))
	msg = append(msg, byte(feature), byte(action))
	return append(msg, payload...)
}

// SplitMessage separates the feature/action header from the payload.
func SplitMessage(data []byte) (FeatureID, ActionID, []byte, error) {
	if len(data) < 2 {
		return 0, 0, nil, fmt.Errorf("proto: message too short: %d bytes", len(data))
	}
	return FeatureID(data[0]), ActionID(data[1]), data[2:], nil
}

// BuildCommand assembles a TLV command: the command ID followed by each
// parameter as a length byte plus value.
func BuildCommand(cmd CmdID, params ...[]byte) []byte {
	size := 1
	for _, p := range params {
		size += 1 + len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, byte(cmd))
	for _, p := range params {
		out = append(out, byte(len(p)))
		out = append(out, p...)
	}
	return out
}

// ParseCommandResponse splits a TLV command ack into its command ID,
// status byte and any trailing payload.
func ParseCommandResponse(data []byte) (CmdID, byte, []byte, error) {
	if len(data) < 2 {
		return 0, 0, nil, fmt.Errorf("proto: command response too short: %d bytes", len(data))
	}
	return CmdID(data[0]), data[1], data[2:], nil
}
