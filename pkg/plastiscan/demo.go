package plastiscan

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
)

const demoCodeFormat = "PLASTIC-QR-2025-%04d"

// DemoDevice stands in for a reader when none is attached. Access is always
// granted and its engine never decodes anything on its own, scans come from
// the demo scan action instead.
type DemoDevice struct {
	logger *zap.SugaredLogger
}

// NewDemoDevice creates a new demo device
func NewDemoDevice(logger *zap.SugaredLogger) *DemoDevice {
	logger = logger.Named("demo_device")
	logger.Debug("Created demo device instance")

	return &DemoDevice{logger: logger}
}

// Request always succeeds
func (dd *DemoDevice) Request(ctx context.Context) (scanner.Stream, error) {
	return demoStream{}, ctx.Err()
}

// NewEngine returns an idle engine for the given region
func (dd *DemoDevice) NewEngine(regionID string) (scanner.Engine, error) {
	return &demoEngine{logger: dd.logger.With("region", regionID)}, nil
}

type demoStream struct{}

func (demoStream) Close() error { return nil }

type demoEngine struct {
	logger *zap.SugaredLogger

	lock     sync.Mutex
	scanning bool
}

func (de *demoEngine) Start(ctx context.Context, opts scanner.Options,
	onSuccess func(string), onFailure func(string), onError func(error)) error {

	de.lock.Lock()
	defer de.lock.Unlock()

	de.scanning = true
	de.logger.Debugw("Demo engine started", "options", opts)
	return nil
}

func (de *demoEngine) Stop(ctx context.Context) error {
	de.lock.Lock()
	defer de.lock.Unlock()

	de.scanning = false
	de.logger.Debug("Demo engine stopped")
	return nil
}

func (de *demoEngine) Scanning() bool {
	de.lock.Lock()
	defer de.lock.Unlock()

	return de.scanning
}

// demoCode makes up a code in the same format as the printed labels
func demoCode() string {
	return fmt.Sprintf(demoCodeFormat, rand.Intn(9999))
}
