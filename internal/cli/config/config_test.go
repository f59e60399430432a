package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, DirName, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("target-dir", "", "")
	flags.IntP("jobs", "j", 0, "")
	flags.String("log-level", "", "")
	flags.BoolP("verbose", "v", false, "")
	flags.String("message-format", "", "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	cfg, err := LoadConfig(t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultJobs, cfg.Jobs)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat)
	assert.Equal(t, DefaultMessageFormat, cfg.MessageFormat)
	assert.Equal(t, DefaultColor, cfg.Color)
	assert.Equal(t, DefaultBackend, cfg.State.Backend)
	assert.Equal(t, DefaultShell, cfg.Script.Shell)
	assert.Empty(t, cfg.TargetDir)
	assert.Empty(t, cfg.Paths)
	assert.Empty(t, cfg.Compiler.Command)
}

func TestLoadConfig_UpwardMerge(t *testing.T) {
	ResetConfig()
	outer := t.TempDir()
	inner := filepath.Join(outer, "ws", "pkg")
	require.NoError(t, os.MkdirAll(inner, 0o755))

	writeConfig(t, outer, `
jobs: 2
log_level: info
paths: [vendor]
target_dir: shared-target
state:
  backend: file
`)
	writeConfig(t, filepath.Join(outer, "ws"), `
jobs: 4
paths: [overrides, /abs/other]
compiler:
  command: [cc, "{src}"]
`)

	cfg, err := LoadConfig(inner, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Jobs, "nearer file wins")
	assert.Equal(t, "info", cfg.LogLevel, "farther file still contributes")
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, []string{"cc", "{src}"}, cfg.Compiler.Command)
	assert.Equal(t, filepath.Join(outer, "shared-target"), cfg.TargetDir)
	assert.Equal(t, []string{
		filepath.Join(outer, "ws", "overrides"),
		"/abs/other",
		filepath.Join(outer, "vendor"),
	}, cfg.Paths)
	assert.Equal(t, []string{
		filepath.Join(outer, "ws", DirName, FileName),
		filepath.Join(outer, DirName, FileName),
	}, cfg.Files)
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "jobs: 2\nlog_level: info\n")

	tests := []struct {
		name     string
		env      map[string]string
		flags    map[string]string
		wantJobs int
		wantLvl  string
	}{
		{name: "file", wantJobs: 2, wantLvl: "info"},
		{name: "env over file", env: map[string]string{"LEAPBUILD_JOBS": "3"}, wantJobs: 3, wantLvl: "info"},
		{
			name:     "flag over env",
			env:      map[string]string{"LEAPBUILD_JOBS": "3", "LEAPBUILD_LOG_LEVEL": "error"},
			flags:    map[string]string{"jobs": "5"},
			wantJobs: 5,
			wantLvl:  "error",
		},
		{name: "verbose raises level", flags: map[string]string{"verbose": "true"}, wantJobs: 2, wantLvl: "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags := testFlags()
			for k, v := range tt.flags {
				require.NoError(t, flags.Set(k, v))
			}

			cfg, err := LoadConfig(dir, flags)
			require.NoError(t, err)
			assert.Equal(t, tt.wantJobs, cfg.Jobs)
			assert.Equal(t, tt.wantLvl, cfg.LogLevel)
		})
	}
}

func TestLoadConfig_UnsetFlagUsesEnv(t *testing.T) {
	ResetConfig()
	t.Setenv("LEAPBUILD_MESSAGE_FORMAT", "json")
	flags := testFlags()

	cfg, err := LoadConfig(t.TempDir(), flags)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.MessageFormat)
}

func TestLoadConfig_NestedEnv(t *testing.T) {
	ResetConfig()
	t.Setenv("LEAPBUILD_STATE_BACKEND", "file")
	t.Setenv("LEAPBUILD_SCRIPT_SHELL", "bash")
	t.Setenv("LEAPBUILD_COMPILER_COMMAND", "cc  -o {out} {src}")

	cfg, err := LoadConfig(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "bash", cfg.Script.Shell)
	assert.Equal(t, []string{"cc", "-o", "{out}", "{src}"}, cfg.Compiler.Command)
}

func TestLoadConfig_EnvPaths(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	writeConfig(t, dir, "paths: [from-file]\n")
	t.Setenv("LEAPBUILD_PATHS", "/one"+string(filepath.ListSeparator)+"/two")

	cfg, err := LoadConfig(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/one", "/two", filepath.Join(dir, "from-file")}, cfg.Paths)
}

func TestLoadConfig_FlagTargetDirIsAbsolute(t *testing.T) {
	ResetConfig()
	flags := testFlags()
	require.NoError(t, flags.Set("target-dir", "out"))

	cfg, err := LoadConfig(t.TempDir(), flags)
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "out"), cfg.TargetDir)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "log level", content: "log_level: loud\n", wantErr: "`log_level`"},
		{name: "color", content: "color: sometimes\n", wantErr: "`color`"},
		{name: "backend", content: "state:\n  backend: redis\n", wantErr: "`state.backend`"},
		{name: "jobs", content: "jobs: 0\n", wantErr: "`jobs`"},
		{name: "yaml", content: "jobs: [\n", wantErr: "error reading config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			_, err := LoadConfig(dir, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "info", "json")
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	var buf bytes.Buffer
	logger, err := NewLogger(&buf, "debug", "text")
	require.NoError(t, err)
	ctx := WithLogger(context.Background(), logger)
	GetLogger(ctx).Debug("via context")
	assert.Contains(t, buf.String(), "via context")
}
