// Package plastiscan provides a desktop client that reads QR codes off plastic
// waste items with a scanning device and resolves them against the items
// tracked by the collection program.
package plastiscan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/catalog"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/util"
)

const (
	// EnvNoTray runs plastiscan without a tray icon, scanning continuously
	EnvNoTray = "PLASTISCAN_NO_TRAY_ICON"

	probeTimeout    = 5 * time.Second
	startTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second

	defaultRetryInterval    = time.Second
	defaultMaxRetryInterval = 30 * time.Second
)

// Plastiscan is the main entity managing access to all sub-components
type Plastiscan struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	config   *CanonicalConfig
	catalog  *catalog.Catalog
	events   *scanEvents
	scanner  *scanner.Controller

	deviceKind   string
	stateSignals chan struct{}
	stopChannel  chan int
	version      string
	verbose      bool
	headless     bool

	retryInterval    time.Duration
	maxRetryInterval time.Duration
}

// NewPlastiscan creates a Plastiscan instance
func NewPlastiscan(logger *zap.SugaredLogger, verbose bool) (*Plastiscan, error) {
	logger = logger.Named("plastiscan")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	items, err := catalog.New(logger, catalog.SampleItems())
	if err != nil {
		logger.Errorw("Failed to create Catalog", "error", err)
		return nil, fmt.Errorf("create new Catalog: %w", err)
	}

	p := &Plastiscan{
		logger:       logger,
		notifier:     notifier,
		config:       config,
		catalog:      items,
		events:       newScanEvents(logger, items, notifier),
		stateSignals: make(chan struct{}, 1),
		stopChannel:  make(chan int),
		verbose:      verbose,

		retryInterval:    defaultRetryInterval,
		maxRetryInterval: defaultMaxRetryInterval,
	}

	logger.Debug("Created plastiscan instance")

	return p, nil
}

// Initialize sets up components and starts to run in the background
func (p *Plastiscan) Initialize() error {
	p.logger.Debug("Initializing")

	// load the config for the first time
	if err := p.config.Load(); err != nil {
		p.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	if err := p.setupScanner(); err != nil {
		p.logger.Errorw("Failed to set up scanner during initialization", "error", err)
		return fmt.Errorf("set up scanner during init: %w", err)
	}

	if err := p.events.consume(context.Background()); err != nil {
		p.logger.Errorw("Failed to start scan consumer during initialization", "error", err)
		return fmt.Errorf("start scan consumer during init: %w", err)
	}

	// the scanner probes for permission once, when it's mounted
	p.retryPermission()

	p.headless = os.Getenv(EnvNoTray) != ""
	p.setupInterruptHandler()

	if p.headless {
		p.logger.Debugw("Running without tray icon", "reason", "envvar set")
		p.run()
	} else {
		p.initializeTray(p.run)
	}

	return nil
}

// SetVersion causes plastiscan to add a version string to its tray menu if called before Initialize
func (p *Plastiscan) SetVersion(version string) {
	p.version = version
}

// Verbose returns a boolean indicating whether plastiscan is running in verbose mode
func (p *Plastiscan) Verbose() bool {
	return p.verbose
}

func (p *Plastiscan) setupScanner() error {
	device := p.config.DeviceInfo()

	var (
		access  scanner.DeviceAccess
		engines scanner.EngineFactory
	)

	switch device.Kind {
	case deviceKindDemo:
		demo := NewDemoDevice(p.logger)
		access, engines = demo, demo
	default:
		serialDevice := NewSerialDevice(p.logger, p.config.DeviceInfo)
		access, engines = serialDevice, serialDevice
	}

	return p.attachScanner(device.Kind, access, engines)
}

// attachScanner creates the controller for the given device capabilities
func (p *Plastiscan) attachScanner(kind string, access scanner.DeviceAccess, engines scanner.EngineFactory) error {
	settings := p.config.ScanSettings()

	controller, err := scanner.NewController(p.logger, access, engines,
		scanner.WithConsumer(p.events.publish),
		scanner.WithOptions(settings.Options),
		scanner.WithSettleDelay(settings.SettleDelay),
		scanner.WithMissPatterns(settings.IgnoreErrors...),
		scanner.WithStateListener(p.onScannerStateChange),
	)
	if err != nil {
		return fmt.Errorf("create scanner controller: %w", err)
	}

	p.scanner = controller
	p.deviceKind = kind
	return nil
}

// onScannerStateChange runs under the controller's lock, so it only leaves a signal
func (p *Plastiscan) onScannerStateChange(scanner.Snapshot) {
	select {
	case p.stateSignals <- struct{}{}:
	default:
	}
}

func (p *Plastiscan) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		p.logger.Debugw("Interrupted", "signal", signal)
		p.signalStop(0)
	}()
}

func (p *Plastiscan) setupOnConfigReload() {
	configReloadedChannel := p.config.SubscribeToChanges()

	go func() {
		for range configReloadedChannel {
			settings := p.config.ScanSettings()

			if err := p.scanner.Reconfigure(settings.Options, settings.SettleDelay, settings.IgnoreErrors); err != nil {
				p.logger.Warnw("Failed to apply reloaded scan settings", "error", err)
			}

			if kind := p.config.DeviceInfo().Kind; kind != p.deviceKind {
				p.logger.Infow("Device kind changed, restart to apply", "current", p.deviceKind, "configured", kind)
			}
		}
	}()
}

func (p *Plastiscan) run() {
	os.Exit(p.runUntilStopped())
}

// runUntilStopped runs the background components until signalStop and returns the exit code
func (p *Plastiscan) runUntilStopped() int {
	p.logger.Info("Run loop starting")

	p.setupOnConfigReload()

	// watch the config file for changes
	go p.config.WatchConfigFileChanges()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if p.headless {
		go p.scanContinuously(ctx)
	}

	// wait until stopped (gracefully)
	exitCode := <-p.stopChannel
	p.logger.Debugw("Stop channel signaled, terminating", "exitCode", exitCode)

	cancel()

	if err := p.stop(); err != nil {
		p.logger.Warnw("Failed to stop plastiscan", "error", err)
		return 1
	}

	return exitCode
}

// scanContinuously re-arms the single-shot scanner after every clean session.
// Sessions that end on a retryable failure are re-armed with exponential backoff;
// denied access waits for the user.
func (p *Plastiscan) scanContinuously(ctx context.Context) {
	defer p.recoverFromPanic()

	retries := p.newRetryBackOff()
	var retry <-chan time.Time

	p.startScanner()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("Continuous scanning stopped")
			return

		case <-retry:
			retry = nil
			p.logger.Debug("Retrying scanner start")
			p.startScanner()
			continue

		case <-p.stateSignals:
		}

		snapshot := p.scanner.Snapshot()
		if snapshot.Scanning != scanner.StateIdle || snapshot.Permission == scanner.PermissionDenied {
			continue
		}

		switch {
		case snapshot.LastError == nil:
			retries.Reset()
			p.startScanner()

		case retryable(snapshot.LastError.Category) && retry == nil:
			delay := retries.NextBackOff()
			p.logger.Infow("Scanner stopped on a failure, retrying later",
				"category", snapshot.LastError.Category,
				"delay", delay)
			retry = time.After(delay)
		}
	}
}

func (p *Plastiscan) newRetryBackOff() *backoff.ExponentialBackOff {
	retries := backoff.NewExponentialBackOff()
	retries.InitialInterval = p.retryInterval
	retries.MaxInterval = p.maxRetryInterval
	retries.MaxElapsedTime = 0
	retries.Reset()

	return retries
}

// retryable failures may clear up on their own, e.g. a reader being plugged back in
func retryable(category scanner.Category) bool {
	return category == scanner.CategoryUnknown || category == scanner.CategoryNoDevice
}

func (p *Plastiscan) startScanner() {
	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	if err := p.scanner.Start(ctx, nil); err != nil {
		p.handleStartError(err)
	}
}

func (p *Plastiscan) stopScanner() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	p.scanner.Stop(ctx)
}

func (p *Plastiscan) retryPermission() scanner.PermissionState {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	permission := p.scanner.ProbePermission(ctx)
	if permission == scanner.PermissionDenied {
		message := scanner.CategoryPermissionDenied.Message()
		if lastErr := p.scanner.Snapshot().LastError; lastErr != nil {
			message = lastErr.Message
		}
		p.notifier.Notify("Camera access required", message)
	}

	return permission
}

func (p *Plastiscan) demoScan() {
	result := p.scanner.SimulateDecode(demoCode())
	p.logger.Infow("Demo scan", "text", result.Text)
}

func (p *Plastiscan) handleStartError(err error) {
	if errors.Is(err, scanner.ErrClosed) {
		return
	}

	var scanErr *scanner.ScannerError
	if !errors.As(err, &scanErr) {
		p.logger.Warnw("Failed to start scanner", "error", err)
		return
	}

	switch scanErr.Category {
	case scanner.CategoryPermissionDenied:
		p.logger.Warnw("Scanner access denied", "error", err)
		p.notifier.Notify("Camera access required", scanErr.Message)

	case scanner.CategoryNoDevice:
		p.logger.Warnw("Scanner not found", "port", p.config.DeviceInfo().Port, "error", err)
		p.notifier.Notify("No scanner found!",
			scanErr.Message+" Please make sure it's plugged in and the port in your configuration is correct.")

	case scanner.CategoryUnsupported:
		p.logger.Warnw("Scanner not supported", "error", err)
		p.notifier.Notify("Scanner not supported!", scanErr.Message)

	default:
		p.logger.Warnw("Unknown error while starting scanner", "error", err)
		p.notifier.Notify("Failed to start scanner", "Please check plastiscan's logs for more details.")
	}
}

func (p *Plastiscan) signalStop(exitCode int) {
	p.logger.Debugw("Signalling stop channel", "exitCode", exitCode)
	p.stopChannel <- exitCode
}

func (p *Plastiscan) stop() error {
	p.logger.Info("Stopping")

	p.config.StopWatchingConfigFile()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// unmount: release the device before anything else goes away
	p.scanner.Close(ctx)

	if err := p.events.close(); err != nil {
		p.logger.Warnw("Failed to close scan events", "error", err)
		return fmt.Errorf("close scan events: %w", err)
	}

	if !p.headless {
		p.stopTray()
	}

	// attempt to sync on exit - this will sometimes error due to stdout/err not being syncable
	p.logger.Sync()

	return nil
}
