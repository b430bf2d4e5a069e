package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/isolator/errors"
	"github.com/wippyai/isolator/loader"
	"github.com/wippyai/isolator/vm"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.True(t, c.ExceptionHandles)
	assert.True(t, c.Assemblies.SearchHook)
	assert.Equal(t, vm.DefaultSerializer, c.SerializerCoordinates())
}

func TestParse(t *testing.T) {
	t.Setenv(EnvDebug, "")
	t.Setenv(loader.EnvDisable, "")

	c, err := Parse([]byte(`
log_level = "warn"
exception_handles = false

[serializer]
assembly = "App.Json"
namespace = "App.Json"
type = "Codec"

[assemblies]
dirs = ["lib", "/opt/asm"]

[memory]
initial_pages = 2
max_pages = 8
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", c.LogLevel)
	assert.False(t, c.ExceptionHandles)
	assert.True(t, c.Assemblies.SearchHook, "unset keys keep their defaults")

	s := c.SerializerCoordinates()
	assert.Equal(t, "App.Json", s.Assembly)
	assert.Equal(t, "Codec", s.Type)
	assert.Equal(t, vm.DefaultSerializer.Serialize, s.Serialize)
	assert.Equal(t, uint32(2), c.Memory.InitialPages)
	assert.Equal(t, []string{"lib", "/opt/asm"}, c.AssemblyDirs(), "no file directory to resolve against")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind errors.Kind
	}{
		{"syntax", `log_level = `, errors.KindInvalidData},
		{"unknown key", `colour = "red"`, errors.KindInvalidData},
		{"level", `log_level = "loud"`, errors.KindInvalidInput},
		{"pages", "[memory]\ninitial_pages = 0", errors.KindInvalidInput},
		{"max below initial", "[memory]\ninitial_pages = 8\nmax_pages = 4", errors.KindInvalidInput},
		{"empty dir", "[assemblies]\ndirs = [\"\"]", errors.KindInvalidInput},
		{"no serializer type", "[serializer]\ntype = \"\"", errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: tt.kind}), err.Error())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name      string
		vars      map[string]string
		debug     bool
		level     string
		searching bool
	}{
		{"none", nil, false, "info", true},
		{"debug", map[string]string{EnvDebug: "1"}, true, "debug", true},
		{"debug off", map[string]string{EnvDebug: "false"}, false, "info", true},
		{"debug garbage", map[string]string{EnvDebug: "maybe"}, false, "info", true},
		{"hook off", map[string]string{loader.EnvDisable: "true"}, false, "info", false},
		{"hook any value", map[string]string{loader.EnvDisable: "yes"}, false, "info", false},
		{"hook zero", map[string]string{loader.EnvDisable: "0"}, false, "info", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.ApplyEnv(env(tt.vars))
			assert.Equal(t, tt.debug, c.Debug)
			assert.Equal(t, tt.level, c.LogLevel)
			assert.Equal(t, tt.searching, c.Assemblies.SearchHook)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvDebug, "")
	t.Setenv(loader.EnvDisable, "")

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "Disk.dll"), []byte("disk"), 0o600))
	path := filepath.Join(dir, "isolator.toml")
	require.NoError(t, os.WriteFile(path, []byte("[assemblies]\ndirs = [\"lib\"]\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "lib")}, c.AssemblyDirs())

	data, ok := c.Sources().RequestAssembly(context.Background(), "Disk")
	assert.True(t, ok)
	assert.Equal(t, []byte("disk"), data)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.True(t, stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: errors.KindNotFound}))
}

func TestLoad_EnvWins(t *testing.T) {
	t.Setenv(EnvDebug, "true")
	t.Setenv(loader.EnvDisable, "1")

	c, err := Parse([]byte("log_level = \"error\"\n[assemblies]\nsearch_hook = true\n"))
	require.NoError(t, err)
	assert.True(t, c.Debug)
	assert.Equal(t, "debug", c.LogLevel)
	assert.False(t, c.Assemblies.SearchHook)
}

func TestLogger(t *testing.T) {
	c := Default()
	l, err := c.Logger()
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1), "debug is off at info")

	c.Debug = true
	c.LogLevel = "debug"
	l, err = c.Logger()
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))
}
