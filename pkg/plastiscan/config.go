package plastiscan

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/util"
)

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for plastiscan's configuration file
type CanonicalConfig struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	dir        string
	userConfig *viper.Viper

	lock   sync.RWMutex
	device DeviceInfo
	scan   ScanSettings
}

// DeviceInfo selects and addresses the scanning device
type DeviceInfo struct {
	Kind     string
	Port     string
	BaudRate int
}

// ScanSettings tune every scan session started after they are loaded
type ScanSettings struct {
	Options      scanner.Options
	SettleDelay  time.Duration
	IgnoreErrors []string
}

const (
	userConfigFilename = "config.yaml"
	userConfigName     = "config"
	userConfigPath     = "."

	configType = "yaml"

	configKeyDeviceKind   = "device.kind"
	configKeyDevicePort   = "device.port"
	configKeyBaudRate     = "device.baud_rate"
	configKeyFPS          = "scan.fps"
	configKeyBoxSize      = "scan.box_size"
	configKeyAspectRatio  = "scan.aspect_ratio"
	configKeyFacingMode   = "scan.facing_mode"
	configKeySettleDelay  = "scan.settle_delay"
	configKeyIgnoreErrors = "scan.ignore_errors"

	deviceKindSerial = "serial"
	deviceKindDemo   = "demo"

	defaultBaudRate = 9600
)

// NewConfig creates a config instance for the plastiscan object and sets up viper instances for plastiscan's config files
func NewConfig(logger *zap.SugaredLogger, notifier Notifier) (*CanonicalConfig, error) {
	return newConfigAt(logger, notifier, userConfigPath)
}

func newConfigAt(logger *zap.SugaredLogger, notifier Notifier, dir string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	defaults := scanner.DefaultOptions()

	userConfig := viper.New()
	userConfig.SetConfigName(userConfigName)
	userConfig.SetConfigType(configType)
	userConfig.AddConfigPath(dir)

	userConfig.SetDefault(configKeyDeviceKind, deviceKindSerial)
	userConfig.SetDefault(configKeyDevicePort, util.DefaultSerialPort())
	userConfig.SetDefault(configKeyBaudRate, defaultBaudRate)
	userConfig.SetDefault(configKeyFPS, defaults.FPS)
	userConfig.SetDefault(configKeyBoxSize, defaults.Box.Width)
	userConfig.SetDefault(configKeyAspectRatio, defaults.AspectRatio)
	userConfig.SetDefault(configKeyFacingMode, string(defaults.Facing))
	userConfig.SetDefault(configKeySettleDelay, scanner.DefaultSettleDelay)
	userConfig.SetDefault(configKeyIgnoreErrors, []string{})

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
		dir:                dir,
		userConfig:         userConfig,
	}

	logger.Debug("Created config instance")

	return cc, nil
}

// Load reads plastiscan's config file from disk and tries to parse it
func (cc *CanonicalConfig) Load() error {
	path := cc.filepath()
	cc.logger.Debugw("Loading config", "path", path)

	if !util.FileExists(path) {
		cc.logger.Warnw("Config file not found", "path", path)
		cc.notifier.Notify("Can't find configuration!",
			fmt.Sprintf("%s must be in the same directory as plastiscan. Please re-launch", userConfigFilename))

		return fmt.Errorf("config file doesn't exist: %s", path)
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", userConfigFilename))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check plastiscan's logs for more details.")
		}

		return fmt.Errorf("read user config: %w", err)
	}

	cc.populateFromVipers()

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values", "device", cc.DeviceInfo(), "scan", cc.ScanSettings())

	return nil
}

// DeviceInfo returns the currently loaded device settings
func (cc *CanonicalConfig) DeviceInfo() DeviceInfo {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	return cc.device
}

// ScanSettings returns the currently loaded scan settings
func (cc *CanonicalConfig) ScanSettings() ScanSettings {
	cc.lock.RLock()
	defer cc.lock.RUnlock()

	settings := cc.scan
	settings.IgnoreErrors = append([]string(nil), cc.scan.IgnoreErrors...)
	return settings
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.filepath())

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {

		// when we get a write event...
		if event.Op&fsnotify.Write == fsnotify.Write {

			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {

				// and attempt reload if appropriate
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

					cc.onConfigReloaded()
				}

				// don't forget to update the time
				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *CanonicalConfig) populateFromVipers() {
	defaults := scanner.DefaultOptions()

	device := DeviceInfo{
		Kind:     strings.ToLower(cc.userConfig.GetString(configKeyDeviceKind)),
		Port:     cc.userConfig.GetString(configKeyDevicePort),
		BaudRate: cc.userConfig.GetInt(configKeyBaudRate),
	}

	if device.Kind != deviceKindSerial && device.Kind != deviceKindDemo {
		cc.logger.Warnw("Invalid device kind specified, using default value",
			"key", configKeyDeviceKind,
			"invalidValue", device.Kind,
			"defaultValue", deviceKindSerial)

		device.Kind = deviceKindSerial
	}

	if device.BaudRate <= 0 {
		cc.logger.Warnw("Invalid baud rate specified, using default value",
			"key", configKeyBaudRate,
			"invalidValue", device.BaudRate,
			"defaultValue", defaultBaudRate)

		device.BaudRate = defaultBaudRate
	}

	opts := scanner.Options{
		Facing:      scanner.FacingMode(strings.ToLower(cc.userConfig.GetString(configKeyFacingMode))),
		FPS:         cc.userConfig.GetInt(configKeyFPS),
		AspectRatio: cc.userConfig.GetFloat64(configKeyAspectRatio),
	}
	boxSize := cc.userConfig.GetInt(configKeyBoxSize)
	opts.Box = scanner.Box{Width: boxSize, Height: boxSize}

	if opts.Facing != scanner.FacingEnvironment && opts.Facing != scanner.FacingUser {
		cc.logger.Warnw("Invalid facing mode specified, using default value",
			"key", configKeyFacingMode, "invalidValue", opts.Facing, "defaultValue", defaults.Facing)
		opts.Facing = defaults.Facing
	}
	if opts.FPS <= 0 {
		cc.logger.Warnw("Invalid fps specified, using default value",
			"key", configKeyFPS, "invalidValue", opts.FPS, "defaultValue", defaults.FPS)
		opts.FPS = defaults.FPS
	}
	if boxSize <= 0 {
		cc.logger.Warnw("Invalid box size specified, using default value",
			"key", configKeyBoxSize, "invalidValue", boxSize, "defaultValue", defaults.Box.Width)
		opts.Box = defaults.Box
	}
	if opts.AspectRatio <= 0 {
		cc.logger.Warnw("Invalid aspect ratio specified, using default value",
			"key", configKeyAspectRatio, "invalidValue", opts.AspectRatio, "defaultValue", defaults.AspectRatio)
		opts.AspectRatio = defaults.AspectRatio
	}

	settleDelay := cc.userConfig.GetDuration(configKeySettleDelay)
	if settleDelay < 0 {
		cc.logger.Warnw("Invalid settle delay specified, using default value",
			"key", configKeySettleDelay, "invalidValue", settleDelay, "defaultValue", scanner.DefaultSettleDelay)
		settleDelay = scanner.DefaultSettleDelay
	}

	cc.lock.Lock()
	defer cc.lock.Unlock()

	cc.device = device
	cc.scan = ScanSettings{
		Options:      opts,
		SettleDelay:  settleDelay,
		IgnoreErrors: cc.userConfig.GetStringSlice(configKeyIgnoreErrors),
	}

	cc.logger.Debug("Populated config fields from vipers")
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}

func (cc *CanonicalConfig) filepath() string {
	return filepath.Join(cc.dir, userConfigFilename)
}
