// Package autoconfig runs the daemon that keeps ALSA name hints in step with
// the Bluetooth audio devices BlueALSA exposes.
package autoconfig

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/alsaconf"
	"github.com/bluealsa/autoconfig/pkg/autoconfig/bluealsa"
	"github.com/bluealsa/autoconfig/pkg/autoconfig/namehint"
	"github.com/bluealsa/autoconfig/pkg/autoconfig/util"
)

// EventSource is where PCM events and device details come from.
type EventSource interface {
	namehint.DeviceRegistry

	WatchService(service string) error
	PCMs(service string) ([]namehint.PcmInfo, error)
	Events() <-chan bluealsa.Event
	Start()
	Close() error
}

var errEventSourceClosed = errors.New("event source closed")

// Autoconfig manages the main application components.
type Autoconfig struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	config    *CanonicalConfig
	source    EventSource
	committer Committer
	lock      *util.Lock

	graph     *namehint.Graph
	renderer  *namehint.Renderer
	debouncer *debouncer
	probe     alsaconf.Probe

	// taken from the config once in setup; only ReloadableSettings change
	// while the loop runs
	services       []string
	defaults       bool
	alsaLibVersion alsaconf.Version

	reloads            <-chan ReloadableSettings
	commitCodecChanges bool

	stopChannel chan struct{}
	version     string
}

// NewAutoconfig creates a new Autoconfig instance.
func NewAutoconfig(logger *zap.SugaredLogger, flags *pflag.FlagSet) (*Autoconfig, error) {
	logger = logger.Named("autoconfig")

	config, err := NewConfig(logger, flags)
	if err != nil {
		logger.Errorw("Failed to create configuration", "error", err)
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}

	a := &Autoconfig{
		logger:      logger,
		notifier:    newNotifier(logger, false),
		config:      config,
		stopChannel: make(chan struct{}),
	}

	logger.Debug("Autoconfig instance created successfully")
	return a, nil
}

// Initialize prepares components and runs until interrupted.
func (a *Autoconfig) Initialize() error {
	a.logger.Debugw("Initializing autoconfig", "version", a.version)

	if err := a.config.Load(); err != nil {
		a.logger.Errorw("Failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a.notifier = newNotifier(a.logger, a.config.Notify)

	if err := a.prepareFiles(); err != nil {
		if errors.Is(err, util.ErrLocked) {
			a.notifier.Notify("Already running!", "Another instance of bluealsa-autoconfig owns the ALSA configuration.")
		}
		return err
	}

	source, err := bluealsa.Connect(a.logger)
	if err != nil {
		a.logger.Errorw("Failed to connect to D-Bus", "error", err)
		a.notifier.Notify("Cannot reach the system bus!", "Check logs for more details.")
		return multierr.Append(fmt.Errorf("failed to connect to D-Bus: %w", err), a.lock.Release())
	}

	a.setup(source, newFileCommitter(a.logger, a.config.ConfigDir, a.config.RunDir, a.config.Defaults, a.config.UdevEvents))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.setupInterruptHandler(cancel)

	go a.config.WatchConfigFileChanges()
	a.reloads = a.config.SubscribeToChanges()

	runErr := func() error {
		defer a.recoverFromPanic()

		if err := a.start(); err != nil {
			return err
		}
		return a.run(ctx)
	}()

	a.signalStop()
	a.config.StopWatchingConfigFile()

	return multierr.Append(runErr, a.stop())
}

// SetVersion sets the application version.
func (a *Autoconfig) SetVersion(version string) {
	a.version = version
}

// prepareFiles creates the working directories, takes the instance lock and
// empties the files a previous run may have left behind.
func (a *Autoconfig) prepareFiles() error {
	for _, dir := range []string{a.config.ConfigDir, a.config.RunDir} {
		if err := util.EnsureDirExists(dir, 0o755); err != nil {
			a.logger.Errorw("Failed to create directory", "error", err)
			return err
		}
	}

	lock, err := util.AcquireLock(filepath.Join(a.config.RunDir, lockFilename))
	if err != nil {
		a.logger.Errorw("Failed to take instance lock", "error", err)
		return fmt.Errorf("failed to take instance lock: %w", err)
	}
	a.lock = lock

	stale := []string{filepath.Join(a.config.ConfigDir, configFilename)}
	if a.config.Defaults {
		stale = append(stale, filepath.Join(a.config.RunDir, defaultsFilename))
	}

	for _, path := range stale {
		if err := util.TruncateFile(path, configFileMode); err != nil {
			a.logger.Errorw("Failed to reset file from a previous run", "error", err)
			return multierr.Append(err, a.lock.Release())
		}
	}

	probe, err := alsaconf.ProbeFiles(a.config.ALSAConfigFiles)
	if err != nil {
		a.logger.Warnw("Failed to probe ALSA configuration, assuming no plugin capabilities", "error", err)
	}
	a.probe = probe

	a.logger.Debugw("Probed ALSA configuration",
		"capabilities", probe.Capabilities,
		"pattern", probe.Pattern,
		"alsaLibVersion", a.config.ALSALibVersion.String())

	return nil
}

// setup wires the graph to its event source and the renderer to the
// loaded configuration. It must run before the config watcher starts.
func (a *Autoconfig) setup(source EventSource, committer Committer) {
	a.source = source
	a.committer = committer
	a.graph = namehint.NewGraph(source, a.logger)
	a.debouncer = newDebouncer(a.config.Debounce)

	a.services = append([]string(nil), a.config.Services...)
	a.defaults = a.config.Defaults
	a.alsaLibVersion = a.config.ALSALibVersion

	settings := a.config.Reloadable()
	a.commitCodecChanges = settings.CommitCodecChanges
	a.renderer = namehint.NewRenderer(a.renderConfig(settings.NamehintPattern))
}

func (a *Autoconfig) renderConfig(pattern string) namehint.RenderConfig {
	if pattern == "" {
		pattern = a.probe.Pattern
	}

	return namehint.RenderConfig{
		Pattern:           pattern,
		WithService:       len(a.services) > 1,
		LegacyDescription: !a.alsaLibVersion.AtLeast(1, 2, 3),
		DefaultControl:    a.defaults && a.alsaLibVersion.AtLeast(1, 2, 5),
		Capabilities:      a.probe.Capabilities,
	}
}

// start subscribes to every configured service, adds the PCMs that already
// exist and commits the result.
func (a *Autoconfig) start() error {
	a.source.Start()

	for _, service := range a.services {
		if err := a.source.WatchService(service); err != nil {
			a.logger.Errorw("Failed to watch service", "service", service, "error", err)
			return fmt.Errorf("failed to watch service: %w", err)
		}

		pcms, err := a.source.PCMs(service)
		if err != nil {
			// the service may start later; its PCMs then arrive as events
			a.logger.Infow("Service has no PCMs yet", "service", service, "error", err)
			continue
		}

		for _, info := range pcms {
			if _, err := a.graph.AddPcm(info); err != nil {
				a.logger.Warnw("Skipping PCM", "path", info.Path, "error", err)
			}
		}
	}

	a.logger.Infow("Initial PCM scan complete", "graph", a.graph.String())

	if err := a.commit(); err != nil {
		a.logger.Warnw("Initial commit failed", "error", err)
	}

	return nil
}

func (a *Autoconfig) setupInterruptHandler(cancel context.CancelFunc) {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		select {
		case signal := <-interruptChannel:
			a.logger.Debugw("Interrupt received", "signal", signal)
		case <-a.stopChannel:
		}
		cancel()
	}()
}

// run is the event loop. It owns the graph: events, config reloads and the
// debounce deadline are all handled here, one at a time.
func (a *Autoconfig) run(ctx context.Context) error {
	a.logger.Info("Run loop starting")

	events := a.source.Events()

	for {
		var timeout <-chan time.Time
		if remaining, armed := a.debouncer.remaining(time.Now()); armed {
			timeout = time.After(remaining)
		}

		select {
		case <-ctx.Done():
			a.logger.Debug("Stop signal received")
			return nil

		case event, ok := <-events:
			if !ok {
				a.logger.Error("Lost connection to the event source")
				return errEventSourceClosed
			}
			a.handleEvent(event, time.Now())

		case settings := <-a.reloads:
			a.applySettings(settings, time.Now())

		case <-timeout:
			a.debouncer.disarm()
			if err := a.commit(); err != nil {
				a.logger.Warnw("Commit abandoned until the next change", "error", err)
			}
		}
	}
}

// handleEvent applies one event to the graph and arms the debounce window
// when the change is significant.
func (a *Autoconfig) handleEvent(event bluealsa.Event, now time.Time) {
	significant := false

	switch ev := event.(type) {
	case bluealsa.PcmAdded:
		created, err := a.graph.AddPcm(ev.Pcm)
		if err != nil {
			a.logger.Warnw("Abandoning PCM", "path", ev.Pcm.Path, "error", err)
			return
		}
		significant = created

	case bluealsa.PcmRemoved:
		significant = a.graph.RemovePcm(ev.Path)

	case bluealsa.PcmUpdated:
		if !ev.CodecChanged {
			return
		}
		significant = a.graph.UpdateCodec(ev.Path, ev.Codec) && a.commitCodecChanges

	case bluealsa.ServiceStopped:
		significant = a.graph.RemoveService(ev.Service)

	default:
		a.logger.Debugw("Ignoring unknown event", "event", event)
		return
	}

	a.logger.Debugw("Applied event", "event", event, "significant", significant, "graph", a.graph.String())

	if significant {
		a.debouncer.arm(now)
	}
}

func (a *Autoconfig) applySettings(settings ReloadableSettings, now time.Time) {
	a.renderer = namehint.NewRenderer(a.renderConfig(settings.NamehintPattern))
	a.commitCodecChanges = settings.CommitCodecChanges

	a.logger.Infow("Applied reloaded settings",
		"pattern", a.renderer.Config().Pattern,
		"commitCodecChanges", a.commitCodecChanges)

	a.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

	a.debouncer.arm(now)
}

// commit renders the graph and hands the text to the committer. Identifiers
// restart from zero once the graph holds nothing.
func (a *Autoconfig) commit() error {
	hints, err := a.renderer.NameHints(a.graph)
	if err != nil {
		a.logger.Errorw("Failed to render name hints", "error", err)
		return fmt.Errorf("render name hints: %w", err)
	}

	var defaults []byte
	if a.defaults {
		defaults = a.renderer.Defaults(a.graph)
	}

	if err := a.committer.Commit(hints, defaults); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if a.graph.ResetIDs() {
		a.logger.Debug("Graph empty, identifiers reset")
	}

	a.logger.Infow("Committed name hints", "graph", a.graph.String())
	return nil
}

// signalStop releases the interrupt handler once the run loop is done.
func (a *Autoconfig) signalStop() {
	a.logger.Debug("Sending stop signal")
	close(a.stopChannel)
}

// stop clears the graph, commits the empty state and releases resources.
func (a *Autoconfig) stop() error {
	a.logger.Info("Shutting down autoconfig")

	a.graph.RemoveAll()

	err := a.commit()
	if err != nil {
		a.logger.Warnw("Final commit failed", "error", err)
	}

	err = multierr.Append(err, a.source.Close())
	err = multierr.Append(err, a.lock.Release())

	_ = a.logger.Sync()

	return err
}
