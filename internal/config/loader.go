package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/moltools/dockscreen/internal/infrastructure/logging"
	"github.com/moltools/dockscreen/pkg/errors"
)

// envPrefix namespaces environment overrides: DOCKSCREEN_BATCH_SIZE,
// DOCKSCREEN_MODEL_ENDPOINT and so on.
const envPrefix = "DOCKSCREEN"

// Loader reads configuration from an optional file plus the environment and
// can watch the file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader builds a loader for path. An empty path means environment and
// defaults only.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// BindFlag maps the configuration key onto a command-line flag. A changed
// flag outranks both file and environment.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if err := l.v.BindPFlag(key, f); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "binding flag "+f.Name)
	}
	return nil
}

// Load reads, defaults and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidInput, "reading config file")
		}
	}
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "decoding configuration")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch re-reads the configuration whenever the file changes and hands the
// result to onChange. A change that no longer validates is logged and
// dropped; the previous configuration stays in effect.
func (l *Loader) Watch(log logging.Logger, onChange func(*Config)) {
	if l.path == "" {
		return
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			log.Warn("ignoring invalid configuration change",
				logging.String("file", e.Name),
				logging.Err(err),
			)
			return
		}
		log.Info("configuration reloaded", logging.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Load is the package-level convenience for the common path: build a loader
// for path and read it once.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}
