package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

var (
	deviceFile  = filepath.Join("..", "..", "examples", "devices", "nem-small.json")
	programFile = filepath.Join("..", "..", "examples", "programs", "tile_pipeline.json")
)

func TestBindThenDecode(t *testing.T) {
	out := filepath.Join(t.TempDir(), "tiles.tcb")

	var stdout, stderr bytes.Buffer
	code := run([]string{"bind", "--device", deviceFile, "-o", out, "--stats", programFile}, &stdout, &stderr)
	assert.Equal(t, code, 0, stderr.String())
	assert.Contains(t, stdout.String(), "(20 blocks,")
	assert.Contains(t, stdout.String(), `"implicit_edges": 8`)

	info, err := os.Stat(out)
	assert.NoError(t, err)
	assert.True(t, info.Size() > 0)

	stdout.Reset()
	code = run([]string{"decode", out}, &stdout, &stderr)
	assert.Equal(t, code, 0, stderr.String())
	assert.Contains(t, stdout.String(), "RESET")
	assert.Equal(t, strings.Count(stdout.String(), "wait="), 20)
}

func TestBindManyProgramsInParallel(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(programFile)
	assert.NoError(t, err)

	var progs []string
	for _, name := range []string{"a.json", "b.json", "c.json"} {
		p := filepath.Join(dir, name)
		assert.NoError(t, os.WriteFile(p, data, 0o644))
		progs = append(progs, p)
	}

	var stdout, stderr bytes.Buffer
	args := append([]string{"bind", "-d", deviceFile, "--out-dir", dir, "-j", "2"}, progs...)
	assert.Equal(t, run(args, &stdout, &stderr), 0, stderr.String())

	for _, name := range []string{"a.tcb", "b.tcb", "c.tcb"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestBindFailurePrintsDiagnostic(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bind", "-d", deviceFile, "--tag-width", "2", "-o", filepath.Join(t.TempDir(), "x.tcb"), programFile}, &stdout, &stderr)

	assert.Equal(t, code, 1)
	assert.Contains(t, stdout.String(), "NB4001")
	assert.Contains(t, stderr.String(), "stage syncalloc")
}

func TestDeviceFromEnvironment(t *testing.T) {
	t.Setenv("NEMBIND_DEVICE", deviceFile)
	t.Setenv("NEMBIND_OUT_DIR", t.TempDir())

	var stdout, stderr bytes.Buffer
	assert.Equal(t, run([]string{"bind", programFile}, &stdout, &stderr), 0, stderr.String())
	assert.Contains(t, stdout.String(), "tile_pipeline.tcb")
}

func TestRemoteBindLoadsCABundle(t *testing.T) {
	var stdout, stderr bytes.Buffer
	ca := filepath.Join(t.TempDir(), "missing.pem")

	code := run([]string{"bind", "-d", deviceFile, "--remote", "https://localhost:1", "--ca", ca, programFile}, &stdout, &stderr)
	assert.Equal(t, code, 1)
	assert.Contains(t, stderr.String(), "remote tls")
}

func TestUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, run([]string{"frobnicate"}, &stdout, &stderr), 2)
	assert.Equal(t, run([]string{"bind", programFile}, &stdout, &stderr), 1)
	assert.Contains(t, stderr.String(), "NEMBIND_DEVICE")
	assert.Equal(t, run([]string{"decode"}, &stdout, &stderr), 1)
	assert.Equal(t, run([]string{"bind", "--help"}, &stdout, &stderr), 0)
}

func TestVersionAndHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, run([]string{"version"}, &stdout, &stderr), 0)
	assert.Contains(t, stdout.String(), "nembind v")

	stdout.Reset()
	assert.Equal(t, run(nil, &stdout, &stderr), 0)
	assert.Contains(t, stdout.String(), "watch")
	assert.Contains(t, stdout.String(), "serve")
}
