// Package golden compares test output against checked-in files under
// testdata/golden. Set NEMBIND_UPDATE_GOLDEN=1 to rewrite them.
package golden

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xyproto/env/v2"
)

// UpdateEnv enables rewriting of golden files.
const UpdateEnv = "NEMBIND_UPDATE_GOLDEN"

// Options controls where golden files live and whether they are rewritten.
type Options struct {
	BaseDir string
	Update  bool
}

// DefaultOptions reads the update switch from the environment.
func DefaultOptions() Options {
	return Options{
		BaseDir: filepath.Join("testdata", "golden"),
		Update:  env.Bool(UpdateEnv),
	}
}

// Manager verifies output against golden files.
type Manager struct {
	options Options
}

// NewManager creates a Manager.
func NewManager(options Options) *Manager {
	return &Manager{options: options}
}

// Path returns the golden file used for name.
func (m *Manager) Path(name string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(name)
	return filepath.Join(m.options.BaseDir, safe+".golden")
}

// Verify compares actual with the golden file for name. In update mode a
// missing or different file is rewritten and Verify succeeds.
func (m *Manager) Verify(name, actual string) error {
	path := m.Path(name)

	expected, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if m.options.Update {
			return m.write(path, actual)
		}

		return fmt.Errorf("golden file %s does not exist (set %s=1 to create it)", path, UpdateEnv)
	case err != nil:
		return fmt.Errorf("failed to read golden file %s: %w", path, err)
	}

	if string(expected) == actual {
		return nil
	}

	if m.options.Update {
		return m.write(path, actual)
	}

	return fmt.Errorf("golden file mismatch for %s:\n%s", path, Diff(string(expected), actual))
}

func (m *Manager) write(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}

	return os.WriteFile(path, []byte(content), 0o644)
}

// Diff renders the differing lines of expected and actual.
func Diff(expected, actual string) string {
	want := strings.Split(expected, "\n")
	got := strings.Split(actual, "\n")

	var b strings.Builder

	for i := 0; i < max(len(want), len(got)); i++ {
		var w, g string
		if i < len(want) {
			w = want[i]
		}
		if i < len(got) {
			g = got[i]
		}

		if w != g {
			fmt.Fprintf(&b, "line %d:\n- %s\n+ %s\n", i+1, w, g)
		}
	}

	return b.String()
}

// Check fails t when actual differs from the golden file for t.Name().
func Check(t testing.TB, actual string) {
	t.Helper()

	if err := NewManager(DefaultOptions()).Verify(t.Name(), actual); err != nil {
		t.Fatal(err)
	}
}
