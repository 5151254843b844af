// Package ble provides the BLE transport for talking to a GoPro camera.
// It handles discovery, connection management, notification reassembly,
// and fragmented writes over the camera's GATT characteristics.
package ble

import "context"

// GoPro GATT UUIDs. The control/query service advertises under the 16-bit
// FEA6 alias; everything else lives under the vendor base
// b5f9xxxx-aa8d-11e3-9046-0002a5d5c51b.
const (
	ServiceControlQuery     = "0000fea6-0000-1000-8000-00805f9b34fb"
	ServiceCameraManagement = "b5f90090-aa8d-11e3-9046-0002a5d5c51b"

	CharCommand                   = "b5f90072-aa8d-11e3-9046-0002a5d5c51b"
	CharCommandResponse           = "b5f90073-aa8d-11e3-9046-0002a5d5c51b"
	CharQuery                     = "b5f90076-aa8d-11e3-9046-0002a5d5c51b"
	CharQueryResponse             = "b5f90077-aa8d-11e3-9046-0002a5d5c51b"
	CharNetworkManagement         = "b5f90091-aa8d-11e3-9046-0002a5d5c51b"
	CharNetworkManagementResponse = "b5f90092-aa8d-11e3-9046-0002a5d5c51b"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// UUID returns the characteristic UUID in canonical string form.
	UUID() string
	// Write sends data to the characteristic. Implementations may use the
	// unacknowledged GATT write, which gives no per-packet ordering
	// guarantee from the stack; callers preserve fragment order by pacing
	// between writes.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this
	// characteristic. Returns an error if the characteristic does not
	// support notifications.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristics returns every characteristic of the given
	// services.
	DiscoverCharacteristics(serviceUUIDs []string) ([]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or times out.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device at the given address.
	Connect(ctx context.Context, address string) (Connection, error)
	// Pair initiates OS-level bonding with the device. Backends that bond
	// implicitly on encrypted-characteristic access return
	// ErrPairingUnsupported.
	Pair(address string) error
}
