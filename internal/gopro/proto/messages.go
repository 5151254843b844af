package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RequestGetCOHNStatus asks for the COHN status, optionally registering
// for unsolicited status updates.
type RequestGetCOHNStatus struct {
	RegisterCOHNStatus bool
}

func (m *RequestGetCOHNStatus) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(m.RegisterCOHNStatus))
	return b
}

// NotifyCOHNStatus is the camera's COHN status report, sent both as a
// query response and as unsolicited updates while registered.
type NotifyCOHNStatus struct {
	Status     COHNStatus
	State      COHNNetworkState
	Username   string
	Password   string
	IPAddress  string
	Enabled    bool
	SSID       string
	MACAddress string
}

func (m *NotifyCOHNStatus) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			v, err := fieldVarint(typ, b)
			m.Status = COHNStatus(v)
			return err
		case 2:
			v, err := fieldVarint(typ, b)
			m.State = COHNNetworkState(v)
			return err
		case 3:
			s, err := fieldString(typ, b)
			m.Username = s
			return err
		case 4:
			s, err := fieldString(typ, b)
			m.Password = s
			return err
		case 5:
			s, err := fieldString(typ, b)
			m.IPAddress = s
			return err
		case 6:
			v, err := fieldVarint(typ, b)
			m.Enabled = v != 0
			return err
		case 7:
			s, err := fieldString(typ, b)
			m.SSID = s
			return err
		case 8:
			s, err := fieldString(typ, b)
			m.MACAddress = s
			return err
		}
		return nil
	})
}

// RequestCreateCOHNCert asks the camera to generate COHN credentials.
type RequestCreateCOHNCert struct {
	Override bool
}

func (m *RequestCreateCOHNCert) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(m.Override))
	return b
}

// RequestClearCOHNCert asks the camera to drop its COHN credentials.
type RequestClearCOHNCert struct{}

func (m *RequestClearCOHNCert) Marshal() []byte { return nil }

// RequestCOHNCert asks for the camera's self-signed TLS certificate.
type RequestCOHNCert struct{}

func (m *RequestCOHNCert) Marshal() []byte { return nil }

// ResponseCOHNCert carries the camera's PEM certificate.
type ResponseCOHNCert struct {
	Result ResultGeneric
	Cert   string
}

func (m *ResponseCOHNCert) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			v, err := fieldVarint(typ, b)
			m.Result = ResultGeneric(v)
			return err
		case 2:
			s, err := fieldString(typ, b)
			m.Cert = s
			return err
		}
		return nil
	})
}

// ResponseGeneric is the camera's bare result acknowledgment.
type ResponseGeneric struct {
	Result ResultGeneric
}

func (m *ResponseGeneric) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		if num == 1 {
			v, err := fieldVarint(typ, b)
			m.Result = ResultGeneric(v)
			return err
		}
		return nil
	})
}

// RequestConnect asks the camera to join a previously configured SSID.
type RequestConnect struct {
	SSID string
}

func (m *RequestConnect) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SSID)
	return b
}

// RequestConnectNew asks the camera to join a new SSID with a password.
type RequestConnectNew struct {
	SSID     string
	Password string
}

func (m *RequestConnectNew) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.SSID)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, m.Password)
	return b
}

// ResponseConnect acknowledges a connect request. The camera reports the
// association result asynchronously via NotifProvisioningState.
type ResponseConnect struct {
	Result            ResultGeneric
	ProvisioningState ProvisioningState
	TimeoutSeconds    int32
}

func (m *ResponseConnect) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			v, err := fieldVarint(typ, b)
			m.Result = ResultGeneric(v)
			return err
		case 2:
			v, err := fieldVarint(typ, b)
			m.ProvisioningState = ProvisioningState(v)
			return err
		case 3:
			v, err := fieldVarint(typ, b)
			m.TimeoutSeconds = int32(v)
			return err
		}
		return nil
	})
}

// NotifProvisioningState is the asynchronous association progress report.
type NotifProvisioningState struct {
	ProvisioningState ProvisioningState
}

func (m *NotifProvisioningState) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		if num == 1 {
			v, err := fieldVarint(typ, b)
			m.ProvisioningState = ProvisioningState(v)
			return err
		}
		return nil
	})
}

// RequestStartScan kicks off a WiFi scan.
type RequestStartScan struct{}

func (m *RequestStartScan) Marshal() []byte { return nil }

// ResponseStartScanning acknowledges a scan request.
type ResponseStartScanning struct {
	Result        ResultGeneric
	ScanningState ScanningState
}

func (m *ResponseStartScanning) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			v, err := fieldVarint(typ, b)
			m.Result = ResultGeneric(v)
			return err
		case 2:
			v, err := fieldVarint(typ, b)
			m.ScanningState = ScanningState(v)
			return err
		}
		return nil
	})
}

// NotifStartScanning reports scan progress and, on success, the scan ID
// used to page through results.
type NotifStartScanning struct {
	ScanningState       ScanningState
	ScanID              int32
	TotalEntries        int32
	TotalConfiguredSSID int32
}

func (m *NotifStartScanning) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			v, err := fieldVarint(typ, b)
			m.ScanningState = ScanningState(v)
			return err
		case 2:
			v, err := fieldVarint(typ, b)
			m.ScanID = int32(v)
			return err
		case 3:
			v, err := fieldVarint(typ, b)
			m.TotalEntries = int32(v)
			return err
		case 4:
			v, err := fieldVarint(typ, b)
			m.TotalConfiguredSSID = int32(v)
			return err
		}
		return nil
	})
}

// RequestGetApEntries pages through scan results.
type RequestGetApEntries struct {
	StartIndex int32
	MaxEntries int32
	ScanID     int32
}

func (m *RequestGetApEntries) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.StartIndex))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.MaxEntries))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ScanID))
	return b
}

// ScanEntry is one scanned access point.
type ScanEntry struct {
	SSID               string
	SignalStrengthBars int32
	SignalFrequencyMHz int32
	Flags              ScanEntryFlag
}

// Configured reports whether the camera already holds credentials for
// this SSID.
func (e *ScanEntry) Configured() bool {
	return e.Flags&ScanFlagConfigured != 0
}

func (e *ScanEntry) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			s, err := fieldString(typ, b)
			e.SSID = s
			return err
		case 2:
			v, err := fieldVarint(typ, b)
			e.SignalStrengthBars = int32(v)
			return err
		case 4:
			v, err := fieldVarint(typ, b)
			e.SignalFrequencyMHz = int32(v)
			return err
		case 5:
			v, err := fieldVarint(typ, b)
			e.Flags = ScanEntryFlag(v)
			return err
		}
		return nil
	})
}

// ResponseGetApEntries is one page of scan results.
type ResponseGetApEntries struct {
	Result  ResultGeneric
	ScanID  int32
	Entries []ScanEntry
}

func (m *ResponseGetApEntries) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) error {
		switch num {
		case 1:
			v, err := fieldVarint(typ, b)
			m.Result = ResultGeneric(v)
			return err
		case 2:
			v, err := fieldVarint(typ, b)
			m.ScanID = int32(v)
			return err
		case 3:
			if typ != protowire.BytesType {
				return fmt.Errorf("proto: field 3: unexpected wire type %d", typ)
			}
			var entry ScanEntry
			if err := entry.unmarshal(b); err != nil {
				return err
			}
			m.Entries = append(m.Entries, entry)
			return nil
		}
		return nil
	})
}

// RequestReleaseNetwork asks the camera to drop its AP/station link.
type RequestReleaseNetwork struct{}

func (m *RequestReleaseNetwork) Marshal() []byte { return nil }

// walkFields iterates a protobuf buffer, handing each field's value bytes
// to fn. For varint/fixed fields the value slice spans exactly the field;
// for bytes fields it is the unwrapped payload. Unknown fields are
// skipped by fn returning nil.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("proto: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		var value []byte
		switch typ {
		case protowire.VarintType:
			_, n = protowire.ConsumeVarint(data)
		case protowire.Fixed32Type:
			_, n = protowire.ConsumeFixed32(data)
		case protowire.Fixed64Type:
			_, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			value, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("proto: field %d: %w", num, protowire.ParseError(n))
		}
		if typ != protowire.BytesType {
			value = data[:n]
		}
		data = data[n:]

		if err := fn(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}

// fieldVarint decodes a varint field value.
func fieldVarint(typ protowire.Type, b []byte) (uint64, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("proto: unexpected wire type %d for varint field", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

// fieldString decodes a length-delimited string field value.
func fieldString(typ protowire.Type, b []byte) (string, error) {
	if typ != protowire.BytesType {
		return "", fmt.Errorf("proto: unexpected wire type %d for string field", typ)
	}
	return string(b), nil
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
