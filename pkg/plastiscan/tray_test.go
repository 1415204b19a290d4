package plastiscan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/catalog"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
)

func TestTrackedItemLabel(t *testing.T) {
	labels := []string{}
	for _, item := range catalog.SampleItems() {
		labels = append(labels, trackedItemLabel(item))
	}

	assert.Equal(t, []string{
		"PLASTIC-QR-2025-0042 - Bottle (collected)",
		"PLASTIC-QR-2025-0041 - Container (sorted)",
		"PLASTIC-QR-2025-0040 - Bag (recycled)",
	}, labels)
}

func TestTrayViewFor(t *testing.T) {
	denied := &scanner.ScannerError{
		Category: scanner.CategoryPermissionDenied,
		Message:  scanner.CategoryPermissionDenied.Message(),
	}

	tests := []struct {
		name     string
		snapshot scanner.Snapshot
		expected trayView
	}{
		{
			name:     "probing",
			snapshot: scanner.Snapshot{Permission: scanner.PermissionUnknown, Scanning: scanner.StateIdle},
			expected: trayView{
				canStart:  true,
				showRetry: true,
				tooltip:   "plastiscan - checking scanner permissions...",
			},
		},
		{
			name:     "denied",
			snapshot: scanner.Snapshot{Permission: scanner.PermissionDenied, Scanning: scanner.StateIdle, LastError: denied},
			expected: trayView{
				showRetry: true,
				tooltip:   "plastiscan - scanner access required (Camera permission denied. Please allow camera access.)",
			},
		},
		{
			name:     "idle",
			snapshot: scanner.Snapshot{Permission: scanner.PermissionGranted, Scanning: scanner.StateIdle},
			expected: trayView{
				canStart: true,
				tooltip:  "plastiscan - click start to begin scanning",
			},
		},
		{
			name:     "starting",
			snapshot: scanner.Snapshot{Permission: scanner.PermissionGranted, Scanning: scanner.StateStarting},
			expected: trayView{
				canStop: true,
				tooltip: "plastiscan - starting",
			},
		},
		{
			name:     "active",
			snapshot: scanner.Snapshot{Permission: scanner.PermissionGranted, Scanning: scanner.StateActive},
			expected: trayView{
				canStop: true,
				tooltip: "plastiscan - point the scanner at a QR code",
			},
		},
		{
			name:     "stopping",
			snapshot: scanner.Snapshot{Permission: scanner.PermissionGranted, Scanning: scanner.StateStopping},
			expected: trayView{
				tooltip: "plastiscan - stopping",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, trayViewFor(tt.snapshot))
		})
	}
}
