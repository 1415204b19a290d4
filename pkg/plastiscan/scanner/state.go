package scanner

import (
	"fmt"
	"time"
)

// PermissionState is the last known answer of the environment to a device access request.
type PermissionState string

const (
	PermissionUnknown PermissionState = "unknown"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// ScanningState is the lifecycle state of the device owned by a Controller.
type ScanningState string

const (
	StateIdle     ScanningState = "idle"
	StateStarting ScanningState = "starting"
	StateActive   ScanningState = "active"
	StateStopping ScanningState = "stopping"
)

// Busy reports whether a start request must be ignored in this state.
func (s ScanningState) Busy() bool {
	return s != StateIdle
}

// DecodedResult is a single decode event handed to the consumer.
type DecodedResult struct {
	Text string
	At   time.Time
}

func (r DecodedResult) String() string {
	return fmt.Sprintf("<decoded: %q at %s>", r.Text, r.At.Format(time.RFC3339))
}

// Snapshot is a consistent view of a Controller's session state.
type Snapshot struct {
	SessionID  string
	Permission PermissionState
	Scanning   ScanningState
	LastError  *ScannerError
}
