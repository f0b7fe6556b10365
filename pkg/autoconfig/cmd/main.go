package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bluealsa/autoconfig/pkg/autoconfig"
)

var (
	gitCommit  string
	versionTag string
	buildType  string
)

func main() {
	flags := pflag.NewFlagSet("bluealsa-autoconfig", pflag.ContinueOnError)
	flags.StringArrayP(autoconfig.FlagDBus, "B", nil, "also watch BlueALSA service org.bluealsa.NAME (repeatable)")
	flags.BoolP(autoconfig.FlagDefault, "d", false, "manage default devices and the default control device")
	flags.BoolP(autoconfig.FlagUdev, "u", false, "simulate a udev change event after each commit")
	flags.StringP(autoconfig.FlagConfig, "c", "", "path to config.yaml")
	verbose := flags.BoolP("verbose", "v", false, "show verbose logs")
	showVersion := flags.BoolP("version", "V", false, "print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(versionString())
		os.Exit(0)
	}

	// First we need a logger
	logger, err := autoconfig.NewLogger(buildType, *verbose)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	if versionTag != "" || gitCommit != "" {
		named.Infow("Version info", "gitCommit", gitCommit, "versionTag", versionTag, "buildType", buildType)
	}

	if *verbose {
		named.Debug("Verbose mode enabled, all log messages will be shown")
	}

	a, err := autoconfig.NewAutoconfig(logger, flags)
	if err != nil {
		named.Fatalw("Failed to create autoconfig instance", "error", err)
	}

	a.SetVersion(versionString())

	if err := a.Initialize(); err != nil {
		named.Fatalw("Autoconfig stopped with errors", "error", err)
	}

	named.Info("Autoconfig stopped")
}

func versionString() string {
	versionIdentifier := versionTag
	if versionIdentifier == "" {
		versionIdentifier = gitCommit
	}
	if versionIdentifier == "" {
		versionIdentifier = "unknown"
	}

	if buildType == autoconfig.BuildTypeNone {
		return "bluealsa-autoconfig " + versionIdentifier
	}
	return fmt.Sprintf("bluealsa-autoconfig %s-%s", buildType, versionIdentifier)
}
