package plastiscan

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/icon"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/util"
)

const toastIconFilename = "plastiscan.ico"

// Notifier shows short messages to whoever is sitting at the scanner
type Notifier interface {
	Notify(title string, message string)
}

type ToastNotifier struct {
	logger   *zap.SugaredLogger
	iconPath string

	iconOnce sync.Once
	iconErr  error
}

func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	tn := &ToastNotifier{
		logger:   logger.Named("notifier"),
		iconPath: filepath.Join(os.TempDir(), toastIconFilename),
	}

	tn.logger.Debugw("Created toast notifier instance", "iconPath", tn.iconPath)
	return tn, nil
}

// Notify pops a desktop toast. Failures only end up in the log.
func (tn *ToastNotifier) Notify(title, message string) {
	tn.iconOnce.Do(func() { tn.iconErr = writeToastIcon(tn.iconPath) })

	if tn.iconErr != nil {
		tn.logger.Errorw("Toast icon unavailable, not notifying", "title", title, "error", tn.iconErr)
		return
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, tn.iconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}

func writeToastIcon(path string) error {
	if util.FileExists(path) {
		return nil
	}

	if err := os.WriteFile(path, icon.Logo, 0644); err != nil {
		return fmt.Errorf("write toast icon: %w", err)
	}
	return nil
}
