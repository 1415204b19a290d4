package plastiscan

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/ecocollect/plastiscan/pkg/plastiscan/util"
)

const (
	crashlogFilename        = "plastiscan-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"
	crashExitCode           = 1

	crashMessage = `-----------------------------------------------------------------
                        plastiscan crashlog
-----------------------------------------------------------------
Unfortunately, plastiscan has crashed. This really shouldn't happen!
Please attach this log when reporting the problem to the collection program's support team.
-----------------------------------------------------------------
Time: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

func (p *Plastiscan) recoverFromPanic() {
	r := recover()

	if r == nil {
		return
	}

	// if we got here, we're recovering from a panic!
	now := time.Now()

	// that would suck
	if err := util.EnsureDirExists(logDirectory); err != nil {
		panic(fmt.Errorf("ensure crashlog dir exists: %w", err))
	}

	crashlogPath := filepath.Join(logDirectory, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))
	crashlogBytes := crashlogContent(now, r, debug.Stack())

	if err := os.WriteFile(crashlogPath, crashlogBytes, 0644); err != nil {
		// that would suck even more
		panic(fmt.Errorf("write crashlog file: %w", err))
	}

	p.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"error", r)

	p.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	// the run loop exits with the same code once it has released the scanner
	p.signalStop(crashExitCode)
	p.logger.Errorw("Quitting", "exitCode", crashExitCode)
	os.Exit(crashExitCode)
}

func crashlogContent(at time.Time, recovered interface{}, stack []byte) []byte {
	return []byte(fmt.Sprintf(crashMessage, at.Format(crashlogTimestampFormat), recovered, stack))
}
