package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.NoError(t, err)
	assert.Equal(t, cfg.Addr, "localhost:4433")
	assert.Equal(t, cfg.OutDir, ".")
	assert.True(t, cfg.Jobs >= 1)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nembind.json")
	want := &Config{Device: "file.json", TagWidth: 8, Jobs: 2, Addr: "0.0.0.0:9000"}
	assert.NoError(t, want.SaveConfig(path))

	t.Setenv(EnvDevice, "env.json")
	t.Setenv(EnvVerbose, "true")

	cfg, err := LoadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Device, "env.json")
	assert.Equal(t, cfg.TagWidth, 8)
	assert.Equal(t, cfg.Jobs, 2)
	assert.Equal(t, cfg.Addr, "0.0.0.0:9000")
	assert.True(t, cfg.Verbose)
}

func TestEnvIntegers(t *testing.T) {
	t.Setenv(EnvTagWidth, "12")
	t.Setenv(EnvJobs, "0")

	cfg, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, cfg.TagWidth, 12)
	assert.Equal(t, cfg.Jobs, 1)
}

func TestLoadConfigRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	assert.NoError(t, os.WriteFile(path, []byte("{"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestPrintVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	PrintVersion(&buf, "nembind", true)

	var out struct {
		Tool string      `json:"tool"`
		Info VersionInfo `json:"version_info"`
	}
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, out.Tool, "nembind")
	assert.Equal(t, out.Info.Version, Version)
}

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf, "nembind", []CommandInfo{{Name: "bind", Description: "Bind programs"}})

	assert.Contains(t, buf.String(), "bind         Bind programs")
	assert.Contains(t, buf.String(), EnvTagWidth)
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, false, true)

	l.Info("hidden")
	l.Debug("shown %d", 1)
	l.Warn("careful")

	out := buf.String()
	assert.False(t, bytes.Contains(buf.Bytes(), []byte("hidden")))
	assert.Contains(t, out, "[DEBUG]")
	assert.Contains(t, out, "shown 1")
	assert.Contains(t, out, "[WARN]")

	l.Std().Printf("stage trace")
	assert.False(t, bytes.Contains(buf.Bytes(), []byte("stage trace")))
}

func TestValidateArgs(t *testing.T) {
	assert.Error(t, ValidateArgs(nil, 1, "nembind decode <file>"))
	assert.NoError(t, ValidateArgs([]string{"a"}, 1, ""))
}
