package autoconfig

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/bluealsa/autoconfig/pkg/autoconfig/alsaconf"
	"github.com/bluealsa/autoconfig/pkg/autoconfig/bluealsa"
)

// CanonicalConfig provides centralized access to configuration fields
type CanonicalConfig struct {
	Services           []string
	Defaults           bool
	UdevEvents         bool
	NamehintPattern    string
	Debounce           time.Duration
	ConfigDir          string
	RunDir             string
	ALSAConfigFiles    []string
	ALSALibVersion     alsaconf.Version
	CommitCodecChanges bool
	Notify             bool

	logger             *zap.SugaredLogger
	stopWatcherChannel chan struct{}

	reloadConsumers  []chan ReloadableSettings
	reloadConsumersL sync.Mutex

	// service suffixes given with --dbus
	extraServices []string

	userConfig *viper.Viper
}

// ReloadableSettings are the settings a running daemon picks up when the
// config file changes. Everything else, defaults and udev included, needs a
// restart.
type ReloadableSettings struct {
	NamehintPattern    string
	CommitCodecChanges bool
}

const (
	userConfigName = "config"
	configType     = "yaml"

	// DefaultConfigPath is searched for config.yaml before the working directory.
	DefaultConfigPath = "/etc/bluealsa-autoconfig"

	configKeyServices           = "services"
	configKeyDefaults           = "defaults"
	configKeyUdev               = "udev"
	configKeyNamehintPattern    = "namehint_pattern"
	configKeyDebounce           = "debounce"
	configKeyConfigDir          = "config_dir"
	configKeyRunDir             = "run_dir"
	configKeyALSAConfigFiles    = "alsa_config_files"
	configKeyALSALibVersion     = "alsa_lib_version"
	configKeyCommitCodecChanges = "commit_codec_changes"
	configKeyNotify             = "notify"

	// Flag names as registered by the command
	FlagDBus    = "dbus"
	FlagDefault = "default"
	FlagUdev    = "udev"
	FlagConfig  = "config"

	defaultDebounce       = 100 * time.Millisecond
	defaultConfigDir      = "/var/lib/alsa/conf.d"
	defaultRunDir         = "/run/bluealsa-autoconfig"
	defaultALSALibVersion = "1.2.10"
)

// NewConfig initializes the configuration manager. Command line flags, when
// given, take precedence over the config file.
func NewConfig(logger *zap.SugaredLogger, flags *pflag.FlagSet) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	cc := &CanonicalConfig{
		logger:             logger,
		reloadConsumers:    make([]chan ReloadableSettings, 0),
		stopWatcherChannel: make(chan struct{}),
	}

	cc.userConfig = initializeViper(map[string]interface{}{
		configKeyServices:           []string{},
		configKeyDefaults:           false,
		configKeyUdev:               false,
		configKeyNamehintPattern:    "",
		configKeyDebounce:           defaultDebounce,
		configKeyConfigDir:          defaultConfigDir,
		configKeyRunDir:             defaultRunDir,
		configKeyALSAConfigFiles:    alsaconf.DefaultFiles,
		configKeyALSALibVersion:     defaultALSALibVersion,
		configKeyCommitCodecChanges: false,
		configKeyNotify:             false,
	})

	if flags != nil {
		if err := cc.bindFlags(flags); err != nil {
			logger.Errorw("Failed to bind command line flags", "error", err)
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	logger.Debug("Created configuration instance")

	return cc, nil
}

// initializeViper creates and configures a Viper instance
func initializeViper(defaults map[string]interface{}) *viper.Viper {
	config := viper.New()
	config.SetConfigName(userConfigName)
	config.SetConfigType(configType)
	config.AddConfigPath(DefaultConfigPath)
	config.AddConfigPath(".")

	for key, value := range defaults {
		config.SetDefault(key, value)
	}

	return config
}

func (cc *CanonicalConfig) bindFlags(flags *pflag.FlagSet) error {
	for key, name := range map[string]string{
		configKeyDefaults: FlagDefault,
		configKeyUdev:     FlagUdev,
	} {
		if flag := flags.Lookup(name); flag != nil {
			if err := cc.userConfig.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("bind --%s: %w", name, err)
			}
		}
	}

	if flag := flags.Lookup(FlagConfig); flag != nil && flag.Value.String() != "" {
		cc.userConfig.SetConfigFile(flag.Value.String())
	}

	if flags.Lookup(FlagDBus) != nil {
		suffixes, err := flags.GetStringArray(FlagDBus)
		if err != nil {
			return fmt.Errorf("read --%s: %w", FlagDBus, err)
		}
		cc.extraServices = suffixes
	}

	return nil
}

// Load reads the config file, if any, and populates the canonical fields
func (cc *CanonicalConfig) Load() error {
	if err := cc.userConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cc.logger.Warnw("Failed to load configuration", "error", err)
			return fmt.Errorf("read user config: %w", err)
		}
		cc.logger.Debug("No config file found, using defaults")
	} else {
		cc.logger.Debugw("Loaded user configuration", "path", cc.userConfig.ConfigFileUsed())
	}

	return cc.populateFromVipers()
}

// populateFromVipers reads configuration fields into structured fields
func (cc *CanonicalConfig) populateFromVipers() error {
	cc.Services = cc.resolveServices()
	cc.Defaults = cc.userConfig.GetBool(configKeyDefaults)
	cc.UdevEvents = cc.userConfig.GetBool(configKeyUdev)
	cc.NamehintPattern = cc.userConfig.GetString(configKeyNamehintPattern)
	cc.Debounce = cc.validateDebounce(cc.userConfig.GetDuration(configKeyDebounce))
	cc.ConfigDir = cc.userConfig.GetString(configKeyConfigDir)
	cc.RunDir = cc.userConfig.GetString(configKeyRunDir)
	cc.ALSAConfigFiles = cc.userConfig.GetStringSlice(configKeyALSAConfigFiles)
	cc.ALSALibVersion = cc.validateALSALibVersion(cc.userConfig.GetString(configKeyALSALibVersion))
	cc.CommitCodecChanges = cc.userConfig.GetBool(configKeyCommitCodecChanges)
	cc.Notify = cc.userConfig.GetBool(configKeyNotify)

	if cc.ConfigDir == "" || cc.RunDir == "" {
		return fmt.Errorf("%s and %s must not be empty", configKeyConfigDir, configKeyRunDir)
	}

	cc.logger.Debugw("Configuration populated successfully", "config", cc)
	return nil
}

// resolveServices merges configured service names with --dbus suffixes.
// Without either, the default service is watched.
func (cc *CanonicalConfig) resolveServices() []string {
	var services []string

	for _, service := range cc.userConfig.GetStringSlice(configKeyServices) {
		if !strings.HasPrefix(service, bluealsa.DefaultService) {
			cc.logger.Warnw("Ignoring service outside the BlueALSA namespace", "service", service)
			continue
		}
		services = append(services, service)
	}

	for _, suffix := range cc.extraServices {
		services = append(services, bluealsa.DefaultService+"."+suffix)
	}

	if len(services) == 0 {
		return []string{bluealsa.DefaultService}
	}

	return funk.UniqString(services)
}

// validateDebounce checks for a usable window, returning the default if invalid
func (cc *CanonicalConfig) validateDebounce(window time.Duration) time.Duration {
	if window > 0 {
		return window
	}
	cc.logger.Warnw("Invalid debounce window specified, using default", "invalidValue", window, "defaultValue", defaultDebounce)
	return defaultDebounce
}

func (cc *CanonicalConfig) validateALSALibVersion(raw string) alsaconf.Version {
	version, err := alsaconf.ParseVersion(raw)
	if err == nil {
		return version
	}

	cc.logger.Warnw("Invalid alsa-lib version specified, using default", "invalidValue", raw, "error", err)
	version, _ = alsaconf.ParseVersion(defaultALSALibVersion)
	return version
}

// Reloadable returns the current reloadable settings
func (cc *CanonicalConfig) Reloadable() ReloadableSettings {
	return ReloadableSettings{
		NamehintPattern:    cc.NamehintPattern,
		CommitCodecChanges: cc.CommitCodecChanges,
	}
}

// SubscribeToChanges returns a channel that receives the reloadable settings
// after every successful reload. Slow consumers only see the latest value.
func (cc *CanonicalConfig) SubscribeToChanges() <-chan ReloadableSettings {
	c := make(chan ReloadableSettings, 1)

	cc.reloadConsumersL.Lock()
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	cc.reloadConsumersL.Unlock()

	return c
}

// WatchConfigFileChanges reloads the config file whenever it is written and
// blocks until StopWatchingConfigFile is called.
func (cc *CanonicalConfig) WatchConfigFileChanges() {
	path := cc.userConfig.ConfigFileUsed()
	if path == "" {
		cc.logger.Debug("No config file in use, not watching for changes")
		<-cc.stopWatcherChannel
		return
	}

	cc.logger.Debugw("Starting to watch user config file for changes", "path", path)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}

		// editors commonly write a file twice in a row
		now := time.Now()
		if !lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
			return
		}
		lastAttemptedReload = now

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// let the editor finish flushing the file
		<-time.After(delayBetweenEventAndReload)

		settings, err := cc.reloadSettings()
		if err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
			return
		}

		cc.logger.Infow("Reloaded config successfully", "settings", settings)
		cc.onConfigReloaded(settings)
	})
	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile stops WatchConfigFileChanges. It must be called at
// most once.
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	close(cc.stopWatcherChannel)
}

// reloadSettings re-reads the config file and returns the reloadable
// settings. The canonical fields keep their startup values; they belong to
// whoever read them after Load.
func (cc *CanonicalConfig) reloadSettings() (ReloadableSettings, error) {
	if err := cc.userConfig.ReadInConfig(); err != nil {
		return ReloadableSettings{}, fmt.Errorf("read user config: %w", err)
	}

	return ReloadableSettings{
		NamehintPattern:    cc.userConfig.GetString(configKeyNamehintPattern),
		CommitCodecChanges: cc.userConfig.GetBool(configKeyCommitCodecChanges),
	}, nil
}

func (cc *CanonicalConfig) onConfigReloaded(settings ReloadableSettings) {
	cc.reloadConsumersL.Lock()
	defer cc.reloadConsumersL.Unlock()

	cc.logger.Debugw("Notifying consumers about configuration reload", "consumers", len(cc.reloadConsumers))

	for _, consumer := range cc.reloadConsumers {
		// replace an unread value with the newer one
		select {
		case <-consumer:
		default:
		}
		consumer <- settings
	}
}
