// Package config loads bridge settings from TOML with environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/loader"
	"github.com/wippyai/isolator/vm"
)

// EnvDebug turns on reference table debug checks and debug logging.
const EnvDebug = "ISOLATOR_DEBUG"

var validate = validator.New()

// Config holds the bridge settings.
type Config struct {
	// Debug makes reference misuse panic instead of failing quietly.
	Debug bool `toml:"debug"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" validate:"oneof=debug info warn error"`
	// ExceptionHandles exposes thrown exception objects to the host as references.
	ExceptionHandles bool `toml:"exception_handles"`

	Serializer Serializer `toml:"serializer"`
	Assemblies Assemblies `toml:"assemblies"`
	Memory     Memory     `toml:"memory"`

	// Dir is the directory holding the loaded file.
	Dir string `toml:"-"`
}

// Serializer locates the guest-resident serializer.
type Serializer struct {
	Assembly    string `toml:"assembly" validate:"required"`
	Namespace   string `toml:"namespace"`
	Type        string `toml:"type" validate:"required"`
	Serialize   string `toml:"serialize" validate:"required"`
	Deserialize string `toml:"deserialize" validate:"required"`
}

// Assemblies configures where assembly images come from.
type Assemblies struct {
	// Dirs are searched in order for <name>.dll. Relative paths are resolved against the
	// config file's directory.
	Dirs []string `toml:"dirs" validate:"dive,required"`
	// SearchHook enables the resolution hook. DISABLE_ASSEMBLY_SEARCH_HOOK overrides it.
	SearchHook bool `toml:"search_hook"`
}

// Memory sizes the in-process linear memory, in 64 KiB pages.
type Memory struct {
	InitialPages uint32 `toml:"initial_pages" validate:"min=1"`
	MaxPages     uint32 `toml:"max_pages" validate:"gtefield=InitialPages,max=65536"`
}

// Default returns the built-in settings.
func Default() *Config {
	s := vm.DefaultSerializer
	return &Config{
		LogLevel:         "info",
		ExceptionHandles: true,
		Serializer: Serializer{
			Assembly:    s.Assembly,
			Namespace:   s.Namespace,
			Type:        s.Type,
			Serialize:   s.Serialize,
			Deserialize: s.Deserialize,
		},
		Assemblies: Assemblies{SearchHook: true},
		Memory:     Memory{InitialPages: 16, MaxPages: 1024},
	}
}

// Load reads a TOML file over the defaults, applies the environment and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	c, err := parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
	}
	if c.Dir, err = filepath.Abs(filepath.Dir(path)); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "resolve "+path)
	}
	return c.finish(os.LookupEnv)
}

// Parse decodes TOML over the defaults, applies the environment and validates.
func Parse(data []byte) (*Config, error) {
	c, err := parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse config")
	}
	return c.finish(os.LookupEnv)
}

func parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(undecoded[0].String()).
			Detail("unknown key %q", undecoded[0].String()).
			Build()
	}
	return c, nil
}

func (c *Config) finish(lookup func(string) (string, bool)) (*Config, error) {
	c.ApplyEnv(lookup)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDebug); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Debug = b
			if b {
				c.LogLevel = "debug"
			}
		}
	}
	if v, ok := lookup(loader.EnvDisable); ok && v != "" {
		if b, err := strconv.ParseBool(v); err != nil || b {
			c.Assemblies.SearchHook = false
		}
	}
}

// Validate checks the settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate config")
	}
	return nil
}

// SerializerCoordinates returns the serializer location for the resolver.
func (c *Config) SerializerCoordinates() vm.SerializerCoordinates {
	return vm.SerializerCoordinates{
		Assembly:    c.Serializer.Assembly,
		Namespace:   c.Serializer.Namespace,
		Type:        c.Serializer.Type,
		Serialize:   c.Serializer.Serialize,
		Deserialize: c.Serializer.Deserialize,
	}
}

// AssemblyDirs returns the search directories with relative entries resolved.
func (c *Config) AssemblyDirs() []string {
	out := make([]string, len(c.Assemblies.Dirs))
	for i, d := range c.Assemblies.Dirs {
		if !filepath.IsAbs(d) && c.Dir != "" {
			d = filepath.Join(c.Dir, d)
		}
		out[i] = d
	}
	return out
}

// Sources returns one loader.DirSource per search directory, chained in order.
func (c *Config) Sources() loader.Chain {
	var chain loader.Chain
	for _, d := range c.AssemblyDirs() {
		chain = append(chain, loader.DirSource(d))
	}
	return chain
}

// Logger builds a console logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	zc := zap.NewProductionConfig()
	if c.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = "console"
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
