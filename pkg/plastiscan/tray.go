package plastiscan

import (
	"fmt"

	"github.com/getlantern/systray"
	"go.uber.org/zap"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/catalog"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/icon"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/scanner"
	"github.com/ecocollect/plastiscan/pkg/plastiscan/util"
)

type trayMenu struct {
	start           *systray.MenuItem
	stop            *systray.MenuItem
	retryPermission *systray.MenuItem
	demoScan        *systray.MenuItem
	editConfig      *systray.MenuItem
	quit            *systray.MenuItem
}

func (p *Plastiscan) initializeTray(onDone func()) {
	logger := p.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.Logo, icon.Logo)
		systray.SetTitle("plastiscan")
		systray.SetTooltip("plastiscan")

		menu := &trayMenu{}

		menu.start = systray.AddMenuItem("Start scanner", "Point the scanner at a QR code")
		menu.stop = systray.AddMenuItem("Stop scanner", "Release the scanner")
		menu.retryPermission = systray.AddMenuItem("Retry permission", "Ask for scanner access again")
		menu.demoScan = systray.AddMenuItem("Demo scan (for testing)", "Pretend a code was scanned")

		systray.AddSeparator()
		p.addTrackedItems()

		systray.AddSeparator()
		menu.editConfig = systray.AddMenuItem("Edit configuration", "Open config file with the default editor")

		if p.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(p.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		menu.quit = systray.AddMenuItem("Quit", "Stop plastiscan and quit")

		p.refreshTray(menu)

		go p.handleTrayActions(logger, menu)

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (p *Plastiscan) handleTrayActions(logger *zap.SugaredLogger, menu *trayMenu) {
	defer p.recoverFromPanic()

	for {
		select {

		case <-menu.start.ClickedCh:
			logger.Info("Start scanner menu item clicked")
			go p.startScanner()

		case <-menu.stop.ClickedCh:
			logger.Info("Stop scanner menu item clicked")
			go p.stopScanner()

		case <-menu.retryPermission.ClickedCh:
			logger.Info("Retry permission menu item clicked")
			go p.retryPermission()

		case <-menu.demoScan.ClickedCh:
			logger.Info("Demo scan menu item clicked")
			p.demoScan()

		case <-menu.editConfig.ClickedCh:
			logger.Info("Edit config menu item clicked, opening config for editing")

			if err := util.OpenExternal(logger, util.DefaultEditor(), p.config.filepath()); err != nil {
				logger.Warnw("Failed to open config file for editing", "error", err)
			}

		case <-menu.quit.ClickedCh:
			logger.Info("Quit menu item clicked, stopping")
			p.signalStop(0)

		case <-p.stateSignals:
			p.refreshTray(menu)
		}
	}
}

// addTrackedItems lists the catalog in a read-only submenu
func (p *Plastiscan) addTrackedItems() {
	tracked := systray.AddMenuItem("Tracked items", "Items known to the collection program")

	for _, item := range p.catalog.All() {
		entry := tracked.AddSubMenuItem(trackedItemLabel(item), item.Location.Address)
		entry.Disable()
	}
}

func trackedItemLabel(item catalog.Item) string {
	return fmt.Sprintf("%s - %s (%s)", item.QRCode, item.Type, item.Status)
}

// refreshTray renders the scanner's current state into the menu
func (p *Plastiscan) refreshTray(menu *trayMenu) {
	snapshot := p.scanner.Snapshot()
	view := trayViewFor(snapshot)

	setEnabled(menu.start, view.canStart)
	setEnabled(menu.stop, view.canStop)

	if view.showRetry {
		menu.retryPermission.Show()
	} else {
		menu.retryPermission.Hide()
	}

	systray.SetTooltip(view.tooltip)
}

type trayView struct {
	canStart  bool
	canStop   bool
	showRetry bool
	tooltip   string
}

func trayViewFor(snapshot scanner.Snapshot) trayView {
	view := trayView{
		canStart:  snapshot.Scanning == scanner.StateIdle && snapshot.Permission != scanner.PermissionDenied,
		canStop:   snapshot.Scanning == scanner.StateStarting || snapshot.Scanning == scanner.StateActive,
		showRetry: snapshot.Permission != scanner.PermissionGranted,
	}

	switch {
	case snapshot.Permission == scanner.PermissionUnknown:
		view.tooltip = "plastiscan - checking scanner permissions..."
	case snapshot.Permission == scanner.PermissionDenied:
		view.tooltip = "plastiscan - scanner access required"
	case snapshot.Scanning == scanner.StateActive:
		view.tooltip = "plastiscan - point the scanner at a QR code"
	case snapshot.Scanning == scanner.StateIdle:
		view.tooltip = "plastiscan - click start to begin scanning"
	default:
		view.tooltip = fmt.Sprintf("plastiscan - %s", snapshot.Scanning)
	}

	if snapshot.LastError != nil {
		view.tooltip = fmt.Sprintf("%s (%s)", view.tooltip, snapshot.LastError.Message)
	}

	return view
}

func setEnabled(item *systray.MenuItem, enabled bool) {
	if enabled {
		item.Enable()
	} else {
		item.Disable()
	}
}

func (p *Plastiscan) stopTray() {
	p.logger.Debug("Quitting tray")
	systray.Quit()
}
