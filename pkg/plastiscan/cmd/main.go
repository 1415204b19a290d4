package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ecocollect/plastiscan/pkg/plastiscan"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs (useful for debugging the scanner)")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.Parse()
}

func main() {

	// first we need a logger
	logger, err := plastiscan.NewLogger(buildType, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	// provide a fair warning if the user's running in verbose mode
	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	// create the plastiscan instance
	p, err := plastiscan.NewPlastiscan(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create plastiscan object", "error", err)
	}

	// if injected by build process, set version info to show up in the tray
	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		versionString := fmt.Sprintf("Version %s-%s", buildType, identifier)
		p.SetVersion(versionString)
	}

	// onwards, to glory
	if err = p.Initialize(); err != nil {
		named.Fatalw("Failed to initialize plastiscan", "error", err)
	}
}
