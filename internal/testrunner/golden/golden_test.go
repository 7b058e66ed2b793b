package golden

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nem-lang/nembind/internal/testrunner/assert"
)

func TestVerifyMissingWithoutUpdate(t *testing.T) {
	m := NewManager(Options{BaseDir: t.TempDir()})
	err := m.Verify("order", "a\n")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), UpdateEnv)
}

func TestVerifyUpdateThenMatch(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(Options{BaseDir: dir, Update: true})
	assert.NoError(t, m.Verify("pkg/Test:case", "x\ny\n"))

	data, err := os.ReadFile(filepath.Join(dir, "pkg_Test_case.golden"))
	assert.NoError(t, err)
	assert.Equal(t, string(data), "x\ny\n")

	strict := NewManager(Options{BaseDir: dir})
	assert.NoError(t, strict.Verify("pkg/Test:case", "x\ny\n"))

	err = strict.Verify("pkg/Test:case", "x\nz\n")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "- y\n+ z")
}

func TestDiffReportsLengthChange(t *testing.T) {
	d := Diff("a\nb", "a")
	assert.Contains(t, d, "line 2:")
	assert.Equal(t, Diff("same", "same"), "")
}
