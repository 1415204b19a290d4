// Package scanner owns the lifecycle of a code-scanning capture device: it
// probes for permission, acquires the device for single-shot scan sessions
// and guarantees that teardown runs once, however many callers ask for it.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultSettleDelay gives hardware that releases asynchronously time to let go before re-acquisition.
	DefaultSettleDelay = 100 * time.Millisecond

	regionIDPrefix = "qr-reader-"
)

// ErrClosed is returned by Start once the controller has been closed.
var ErrClosed = errors.New("scanner: controller closed")

// Option customizes a Controller.
type Option func(*Controller)

// WithConsumer sets the callback that receives decoded results when Start is
// given none, and the results of SimulateDecode.
func WithConsumer(consumer func(DecodedResult)) Option {
	return func(c *Controller) {
		c.consumer = consumer
	}
}

// WithOptions overrides the decoding options used for new sessions.
func WithOptions(opts Options) Option {
	return func(c *Controller) {
		c.opts = opts
	}
}

// WithSettleDelay overrides the pause between stale-state cleanup and acquisition.
func WithSettleDelay(delay time.Duration) Option {
	return func(c *Controller) {
		c.settleDelay = delay
	}
}

// WithMissPatterns adds engine messages that mean "nothing in frame".
func WithMissPatterns(patterns ...string) Option {
	return func(c *Controller) {
		c.missPatterns = MergeMissPatterns(patterns)
	}
}

// WithClock sets the time source for decode timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithStateListener registers a callback invoked on every state change. It
// runs with the controller's lock held and must not call back into it.
func WithStateListener(listener func(Snapshot)) Option {
	return func(c *Controller) {
		c.listeners = append(c.listeners, listener)
	}
}

// Controller mediates between a host and the capture device capabilities.
type Controller struct {
	logger  *zap.SugaredLogger
	access  DeviceAccess
	engines EngineFactory

	now       func() time.Time
	consumer  func(DecodedResult)
	listeners []func(Snapshot)

	mu           sync.Mutex
	opts         Options
	settleDelay  time.Duration
	missPatterns []string

	closed     bool
	sessionID  string
	permission PermissionState
	state      ScanningState
	lastErr    *ScannerError

	engine       Engine
	sessionSink  func(DecodedResult)
	delivered    bool
	acquisition  chan struct{} // closed once the in-flight acquisition settles
	teardownDone chan struct{} // closed once the in-flight teardown completes
	probeDone    chan struct{} // closed once the in-flight permission probe returns
}

// NewController creates a controller in the Idle state with unknown permission.
func NewController(logger *zap.SugaredLogger, access DeviceAccess, engines EngineFactory, options ...Option) (*Controller, error) {
	if access == nil || engines == nil {
		return nil, errors.New("scanner: device access and engine factory are required")
	}

	c := &Controller{
		logger:       logger.Named("scanner"),
		access:       access,
		engines:      engines,
		now:          time.Now,
		opts:         DefaultOptions(),
		settleDelay:  DefaultSettleDelay,
		missPatterns: MergeMissPatterns(nil),
		permission:   PermissionUnknown,
		state:        StateIdle,
	}

	for _, option := range options {
		option(c)
	}

	if err := c.opts.Validate(); err != nil {
		return nil, fmt.Errorf("validate scan options: %w", err)
	}

	c.logger.Debugw("Created scanner controller", "options", c.opts, "settleDelay", c.settleDelay)
	return c, nil
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.snapshotLocked()
}

// Reconfigure replaces the decoding options, settle delay and extra miss
// patterns. Running sessions keep the values they started with.
func (c *Controller) Reconfigure(opts Options, settleDelay time.Duration, missPatterns []string) error {
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("validate scan options: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.opts = opts
	c.settleDelay = settleDelay
	c.missPatterns = MergeMissPatterns(missPatterns)

	c.logger.Debugw("Scanner reconfigured", "options", opts, "settleDelay", settleDelay)
	return nil
}

// ProbePermission asks the environment for device access and releases the
// handle straight away. While a session holds the device the last known
// permission is returned without probing. Concurrent probes share one request,
// and Start waits for a running probe before acquiring the device.
func (c *Controller) ProbePermission(ctx context.Context) PermissionState {
	c.mu.Lock()
	if c.state.Busy() {
		permission := c.permission
		c.mu.Unlock()

		c.logger.Debugw("Skipping permission probe, device in use", "permission", permission)
		return permission
	}
	if done := c.probeDone; done != nil {
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		return c.permission
	}

	done := make(chan struct{})
	c.probeDone = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.probeDone = nil
		c.mu.Unlock()
		close(done)
	}()

	stream, err := c.access.Request(ctx)
	if err != nil {
		scanErr := AsScannerError(err)
		c.logger.Warnw("Device access refused", "category", scanErr.Category, "error", err)

		c.mu.Lock()
		defer c.mu.Unlock()

		c.permission = PermissionDenied
		c.lastErr = scanErr
		c.notifyLocked()
		return PermissionDenied
	}

	if err := stream.Close(); err != nil {
		c.logger.Warnw("Failed to release permission probe stream", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.permission = PermissionGranted
	if c.lastErr != nil && c.lastErr.Category.UserFacing() {
		c.lastErr = nil
	}
	c.notifyLocked()

	c.logger.Debug("Device access granted")
	return PermissionGranted
}

// Start acquires the device and begins a single-shot scan session. It is a
// no-op unless the controller is Idle. Hard failures are returned as a
// *ScannerError and leave the controller Idle with the error recorded.
func (c *Controller) Start(ctx context.Context, onDecoded func(DecodedResult)) error {
	c.mu.Lock()
	for c.probeDone != nil {
		probeDone := c.probeDone
		c.mu.Unlock()

		c.logger.Debug("Permission probe in progress, waiting before start")
		select {
		case <-probeDone:
		case <-ctx.Done():
			return fmt.Errorf("wait for permission probe: %w", ctx.Err())
		}

		c.mu.Lock()
	}
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Busy() {
		state := c.state
		c.mu.Unlock()

		c.logger.Debugw("Scanner busy, ignoring start", "state", state)
		return nil
	}
	if c.permission == PermissionDenied {
		scanErr := c.lastErr
		if scanErr == nil {
			scanErr = newScannerError(CategoryPermissionDenied, "", nil)
			c.lastErr = scanErr
			c.notifyLocked()
		}
		c.mu.Unlock()

		c.logger.Debug("Permission denied, not starting")
		return scanErr
	}

	if onDecoded == nil {
		onDecoded = c.consumer
	}

	sessionID := uuid.NewString()
	acquisition := make(chan struct{})

	c.sessionID = sessionID
	c.state = StateStarting
	c.lastErr = nil
	c.sessionSink = onDecoded
	c.delivered = false
	c.acquisition = acquisition
	opts, settleDelay, patterns := c.opts, c.settleDelay, c.missPatterns
	c.notifyLocked()
	c.mu.Unlock()

	logger := c.logger.With("session", sessionID)
	logger.Debug("Starting scan session")

	c.releaseEngine(ctx, logger)

	if err := settle(ctx, settleDelay); err != nil {
		c.finishAcquisition(sessionID, acquisition, nil, nil)
		logger.Debugw("Start cancelled before acquisition", "error", err)
		return fmt.Errorf("start scanner: %w", err)
	}

	if !c.stillStarting(sessionID) {
		c.finishAcquisition(sessionID, acquisition, nil, nil)
		logger.Debug("Session stopped before acquisition")
		return nil
	}

	engine, err := c.engines.NewEngine(regionIDPrefix + sessionID)
	if err == nil {
		err = engine.Start(ctx, opts, c.successHandler(sessionID), failureHandler(logger, patterns), c.errorHandler(sessionID))
	}

	if err != nil {
		scanErr := AsScannerError(err)
		if engine != nil {
			discard(ctx, logger, engine)
		}

		c.finishAcquisition(sessionID, acquisition, nil, scanErr)
		logger.Warnw("Failed to start scanner", "category", scanErr.Category, "error", err)
		return scanErr
	}

	c.finishAcquisition(sessionID, acquisition, engine, nil)
	logger.Infow("Scanner active", "fps", opts.FPS, "box", opts.Box, "facing", opts.Facing)
	return nil
}

// Stop tears the running session down. It is a no-op when Idle; callers that
// arrive while a teardown is in progress wait for that teardown instead of
// starting another one. Teardown errors are logged and the controller always
// ends Idle.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	done, owner := c.beginTeardownLocked()
	c.mu.Unlock()

	if done == nil {
		c.logger.Debug("No active session to stop")
		return
	}

	if !owner {
		c.logger.Debug("Teardown already in progress, waiting")
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	c.runTeardown(ctx, done)
}

// Close stops any running session and refuses further starts.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop(ctx)
	c.logger.Debug("Scanner controller closed")
}

// SimulateDecode delivers a synthesized decode event without touching the
// device or the scanning state. It goes to the running session's callback,
// or to the default consumer when no session is running.
func (c *Controller) SimulateDecode(payload string) DecodedResult {
	c.mu.Lock()
	sink := c.consumer
	if (c.state == StateStarting || c.state == StateActive) && c.sessionSink != nil {
		sink = c.sessionSink
	}
	result := DecodedResult{Text: payload, At: c.now()}
	c.mu.Unlock()

	c.logger.Debugw("Simulated decode", "text", payload)
	if sink != nil {
		sink(result)
	}

	return result
}

func (c *Controller) stillStarting(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID == sessionID && c.state == StateStarting
}

// finishAcquisition records the outcome of an acquisition attempt. An acquired
// engine is always stored, so a stop that arrived meanwhile releases it.
func (c *Controller) finishAcquisition(sessionID string, acquisition chan struct{}, engine Engine, scanErr *ScannerError) {
	c.mu.Lock()
	defer close(acquisition)
	defer c.mu.Unlock()

	if c.sessionID == sessionID {
		c.acquisition = nil
	}
	if engine != nil {
		c.engine = engine
	}

	if scanErr != nil {
		c.lastErr = scanErr
		if scanErr.Category == CategoryPermissionDenied {
			c.permission = PermissionDenied
		}
	}

	if c.sessionID != sessionID || c.state != StateStarting {
		// a pending teardown owns the transition to Idle
		c.notifyLocked()
		return
	}

	if engine != nil {
		c.state = StateActive
	} else {
		c.state = StateIdle
	}
	c.notifyLocked()
}

// beginTeardownLocked moves a running session to Stopping. It returns the
// channel closed on teardown completion and whether the caller owns the teardown.
func (c *Controller) beginTeardownLocked() (chan struct{}, bool) {
	switch c.state {
	case StateIdle:
		return nil, false
	case StateStopping:
		return c.teardownDone, false
	}

	c.state = StateStopping
	c.teardownDone = make(chan struct{})
	c.notifyLocked()
	return c.teardownDone, true
}

func (c *Controller) runTeardown(ctx context.Context, done chan struct{}) {
	c.mu.Lock()
	acquisition := c.acquisition
	logger := c.logger.With("session", c.sessionID)
	c.mu.Unlock()

	if acquisition != nil {
		logger.Debug("Waiting for in-flight acquisition before teardown")
		<-acquisition
	}

	c.releaseEngine(ctx, logger)

	c.mu.Lock()
	c.state = StateIdle
	c.teardownDone = nil
	c.sessionSink = nil
	c.notifyLocked()
	c.mu.Unlock()

	close(done)
	logger.Debug("Scan session torn down")
}

func (c *Controller) releaseEngine(ctx context.Context, logger *zap.SugaredLogger) {
	c.mu.Lock()
	engine := c.engine
	c.engine = nil
	c.mu.Unlock()

	if engine == nil {
		return
	}

	discard(ctx, logger, engine)
}

// successHandler delivers the first decode of a session and stops it.
func (c *Controller) successHandler(sessionID string) func(string) {
	return func(text string) {
		c.mu.Lock()
		if c.sessionID != sessionID || c.delivered ||
			(c.state != StateStarting && c.state != StateActive) {
			c.mu.Unlock()
			return
		}

		c.delivered = true
		sink := c.sessionSink
		result := DecodedResult{Text: text, At: c.now()}
		done, owner := c.beginTeardownLocked()
		c.mu.Unlock()

		c.logger.Infow("Code decoded", "session", sessionID, "text", text)
		if sink != nil {
			sink(result)
		}

		// the engine may be calling from its own read loop, so stopping it here would deadlock
		if owner {
			go c.runTeardown(context.Background(), done)
		}
	}
}

// errorHandler ends a session whose engine lost the device mid-scan.
func (c *Controller) errorHandler(sessionID string) func(error) {
	return func(err error) {
		scanErr := AsScannerError(err)

		c.mu.Lock()
		if c.sessionID != sessionID || (c.state != StateStarting && c.state != StateActive) {
			c.mu.Unlock()
			return
		}

		c.lastErr = scanErr
		if scanErr.Category == CategoryPermissionDenied {
			c.permission = PermissionDenied
		}
		done, owner := c.beginTeardownLocked()
		c.mu.Unlock()

		c.logger.Warnw("Scanner lost the device", "session", sessionID, "category", scanErr.Category, "error", err)

		if owner {
			go c.runTeardown(context.Background(), done)
		}
	}
}

func failureHandler(logger *zap.SugaredLogger, patterns []string) func(string) {
	return func(message string) {
		if classifyFailure(message, patterns) == CategoryTransientDecodeMiss {
			return
		}
		logger.Debugw("Decode attempt failed", "message", message)
	}
}

// discard stops an engine on a best-effort basis.
func discard(ctx context.Context, logger *zap.SugaredLogger, engine Engine) {
	if !engine.Scanning() {
		return
	}
	if err := engine.Stop(ctx); err != nil {
		logger.Warnw("Scanner cleanup failed", "error", err)
	}
}

func settle(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) notifyLocked() {
	if len(c.listeners) == 0 {
		return
	}

	snapshot := c.snapshotLocked()
	for _, listener := range c.listeners {
		listener(snapshot)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID:  c.sessionID,
		Permission: c.permission,
		Scanning:   c.state,
		LastError:  c.lastErr,
	}
}
