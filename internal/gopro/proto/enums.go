package proto

// ResultGeneric is the camera's generic protobuf result code.
type ResultGeneric int32

const (
	ResultUnknown              ResultGeneric = 0
	ResultSuccess              ResultGeneric = 1
	ResultIllFormed            ResultGeneric = 2
	ResultNotSupported         ResultGeneric = 3
	ResultArgumentOutOfBounds  ResultGeneric = 4
	ResultArgumentInvalid      ResultGeneric = 5
	ResultResourceNotAvailable ResultGeneric = 6
)

// COHNStatus reports whether the camera holds COHN credentials.
type COHNStatus int32

const (
	COHNUnprovisioned COHNStatus = 0
	COHNProvisioned   COHNStatus = 1
)

// COHNNetworkState is the camera's home-network association state.
type COHNNetworkState int32

const (
	COHNStateInit                COHNNetworkState = 0
	COHNStateError               COHNNetworkState = 1
	COHNStateExit                COHNNetworkState = 2
	COHNStateIdle                COHNNetworkState = 5
	COHNStateNetworkConnected    COHNNetworkState = 27
	COHNStateNetworkDisconnected COHNNetworkState = 28
	COHNStateConnectingToNetwork COHNNetworkState = 29
	COHNStateInvalid             COHNNetworkState = 30
)

// ProvisioningState tracks a WiFi association attempt.
type ProvisioningState int32

const (
	ProvisioningUnknown                ProvisioningState = 0
	ProvisioningNeverStarted           ProvisioningState = 1
	ProvisioningStarted                ProvisioningState = 2
	ProvisioningAbortedBySystem        ProvisioningState = 3
	ProvisioningCancelledByUser        ProvisioningState = 4
	ProvisioningSuccessNewAP           ProvisioningState = 5
	ProvisioningSuccessOldAP           ProvisioningState = 6
	ProvisioningErrorFailedToAssociate ProvisioningState = 7
	ProvisioningErrorPasswordAuth      ProvisioningState = 8
	ProvisioningErrorEulaBlocking      ProvisioningState = 9
	ProvisioningErrorNoInternet        ProvisioningState = 10
	ProvisioningErrorUnsupportedType   ProvisioningState = 11
)

// Terminal reports whether the state ends an association attempt.
func (p ProvisioningState) Terminal() bool {
	switch p {
	case ProvisioningSuccessNewAP, ProvisioningSuccessOldAP,
		ProvisioningAbortedBySystem, ProvisioningCancelledByUser,
		ProvisioningErrorFailedToAssociate, ProvisioningErrorPasswordAuth,
		ProvisioningErrorEulaBlocking, ProvisioningErrorNoInternet,
		ProvisioningErrorUnsupportedType:
		return true
	}
	return false
}

// Success reports whether the state is a successful association.
func (p ProvisioningState) Success() bool {
	return p == ProvisioningSuccessNewAP || p == ProvisioningSuccessOldAP
}

// ScanningState tracks a WiFi scan.
type ScanningState int32

const (
	ScanningUnknown         ScanningState = 0
	ScanningNeverStarted    ScanningState = 1
	ScanningStarted         ScanningState = 2
	ScanningAbortedBySystem ScanningState = 3
	ScanningCancelledByUser ScanningState = 4
	ScanningSuccess         ScanningState = 5
)

// ScanEntryFlag is a bitmask describing a scanned access point.
type ScanEntryFlag int32

const (
	ScanFlagOpen          ScanEntryFlag = 0x00
	ScanFlagAuthenticated ScanEntryFlag = 0x01
	ScanFlagConfigured    ScanEntryFlag = 0x02
	ScanFlagBestSSID      ScanEntryFlag = 0x04
	ScanFlagAssociated    ScanEntryFlag = 0x08
	ScanFlagUnsupported   ScanEntryFlag = 0x10
)
