// Package cohn implements Camera On Home Network provisioning: certificate
// creation over BLE, WiFi association, and persistence of the resulting
// HTTPS credentials.
package cohn

import (
	"errors"
	"fmt"
	"time"

	"github.com/goprolink/goprolink/internal/gopro/proto"
)

var (
	// ErrProvisionTimeout is returned when the camera never reaches a
	// provisioned state within the configured window.
	ErrProvisionTimeout = errors.New("cohn: provisioning timed out")
	// ErrIncompleteCredentials is returned when the camera reports
	// provisioned but one of the credential fields is missing.
	ErrIncompleteCredentials = errors.New("cohn: camera returned incomplete credentials")
)

// ProvisioningError is a terminal WiFi association failure reported by the
// camera.
type ProvisioningError struct {
	State proto.ProvisioningState
}

func (e *ProvisioningError) Error() string {
	switch e.State {
	case proto.ProvisioningErrorPasswordAuth:
		return "cohn: wifi association failed: wrong password"
	case proto.ProvisioningErrorFailedToAssociate:
		return "cohn: wifi association failed: could not associate with access point"
	case proto.ProvisioningErrorEulaBlocking:
		return "cohn: wifi association blocked: EULA not accepted on camera"
	case proto.ProvisioningErrorNoInternet:
		return "cohn: wifi association failed: network has no internet access"
	case proto.ProvisioningErrorUnsupportedType:
		return "cohn: wifi association failed: unsupported network type"
	case proto.ProvisioningAbortedBySystem:
		return "cohn: wifi association aborted by camera"
	case proto.ProvisioningCancelledByUser:
		return "cohn: wifi association cancelled on camera"
	default:
		return fmt.Sprintf("cohn: wifi association failed: provisioning state %d", e.State)
	}
}

// Credentials is everything needed to reach a camera over HTTPS on the
// home network.
type Credentials struct {
	IP          string
	Username    string
	Password    string
	Certificate string // PEM, self-signed by the camera
}

// Valid reports whether every field is populated.
func (c Credentials) Valid() bool {
	return c.IP != "" && c.Username != "" && c.Password != "" && c.Certificate != ""
}

// Record is one stored credential set.
type Record struct {
	CameraID  string
	Creds     Credentials
	UpdatedAt time.Time
}

// Store persists per-camera COHN credentials.
type Store interface {
	// Load returns the credentials for a camera. The bool reports whether
	// a record exists.
	Load(cameraID string) (Credentials, bool, error)
	// Save inserts or replaces the credentials for a camera.
	Save(cameraID string, creds Credentials) error
	// Delete removes a camera's credentials. Deleting a missing record is
	// not an error.
	Delete(cameraID string) error
	// List returns all stored records.
	List() ([]Record, error)
}
