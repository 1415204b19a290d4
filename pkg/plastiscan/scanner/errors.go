package scanner

import (
	"errors"
	"fmt"
	"os"
)

// Category classifies scanner failures.
type Category string

const (
	CategoryPermissionDenied    Category = "permission_denied"
	CategoryNoDevice            Category = "no_device"
	CategoryUnsupported         Category = "unsupported"
	CategoryTransientDecodeMiss Category = "transient_decode_miss"
	CategoryUnknown             Category = "unknown"
)

// Capabilities wrap these to report hard failures.
var (
	ErrPermissionDenied = errors.New("scanner: permission denied")
	ErrNoDevice         = errors.New("scanner: no device")
	ErrUnsupported      = errors.New("scanner: unsupported device")
)

// UserFacing reports whether failures of this category block scanning until
// the user acts on them.
func (c Category) UserFacing() bool {
	switch c {
	case CategoryPermissionDenied, CategoryNoDevice, CategoryUnsupported:
		return true
	}
	return false
}

// Message returns the human readable cause shown to the user.
func (c Category) Message() string {
	switch c {
	case CategoryPermissionDenied:
		return "Camera permission denied. Please allow camera access."
	case CategoryNoDevice:
		return "No camera found on this device."
	case CategoryUnsupported:
		return "Camera not supported on this device."
	case CategoryTransientDecodeMiss:
		return "No QR code in frame."
	default:
		return "Failed to start camera."
	}
}

// ScannerError is a categorized hard failure recorded as a session's last error.
type ScannerError struct {
	Category Category
	Message  string
	Err      error
}

func newScannerError(category Category, message string, err error) *ScannerError {
	if message == "" {
		message = category.Message()
	}
	return &ScannerError{Category: category, Message: message, Err: err}
}

func (e *ScannerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *ScannerError) Unwrap() error {
	return e.Err
}

// Is matches a ScannerError against the category sentinels.
func (e *ScannerError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Category == CategoryPermissionDenied
	case ErrNoDevice:
		return e.Category == CategoryNoDevice
	case ErrUnsupported:
		return e.Category == CategoryUnsupported
	}
	return false
}

// Classify maps an acquisition error onto a Category.
func Classify(err error) Category {
	var scanErr *ScannerError
	switch {
	case err == nil:
		return CategoryUnknown
	case errors.As(err, &scanErr):
		return scanErr.Category
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		return CategoryPermissionDenied
	case errors.Is(err, ErrNoDevice), errors.Is(err, os.ErrNotExist):
		return CategoryNoDevice
	case errors.Is(err, ErrUnsupported), errors.Is(err, errors.ErrUnsupported):
		return CategoryUnsupported
	default:
		return CategoryUnknown
	}
}

// AsScannerError wraps err in a ScannerError unless it already is one.
func AsScannerError(err error) *ScannerError {
	var scanErr *ScannerError
	if errors.As(err, &scanErr) {
		return scanErr
	}
	return newScannerError(Classify(err), "", err)
}
