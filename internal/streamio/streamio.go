// Package streamio persists assembled block streams. Writers replace the
// destination atomically while holding an advisory lock on a sibling
// ".lock" file, so a concurrent `nembind watch` and `nembind decode` never
// observe a half-written stream.
package streamio

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

func lockPath(path string) string { return path + ".lock" }

func openLock(path string) (*os.File, error) {
	f, err := os.OpenFile(lockPath(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open lock")
	}

	return f, nil
}

// WriteFile atomically replaces path with the bytes produced by src.
func WriteFile(path string, src io.WriterTo) (int64, error) {
	lf, err := openLock(path)
	if err != nil {
		return 0, err
	}
	defer lf.Close()

	if err := lockExclusive(lf); err != nil {
		return 0, errors.Wrapf(err, "lock %s", path)
	}
	defer unlock(lf)

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, errors.Wrap(err, "create temp")
	}

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	n, err := src.WriteTo(tmp)
	if err != nil {
		cleanup()
		return n, errors.Wrapf(err, "write %s", tmp.Name())
	}

	if err := syncFile(tmp); err != nil {
		cleanup()
		return n, errors.Wrapf(err, "sync %s", tmp.Name())
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return n, errors.Wrap(err, "close temp")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return n, errors.Wrapf(err, "rename to %s", path)
	}

	return n, nil
}

// ReadFile reads path under a shared lock. Readers never create the lock
// file: a stream that no writer has locked, or whose lock file cannot be
// opened, is read without one.
func ReadFile(path string) ([]byte, error) {
	lf, err := os.Open(lockPath(path))
	switch {
	case err == nil:
		defer lf.Close()

		if err := lockShared(lf); err != nil {
			return nil, errors.Wrapf(err, "lock %s", path)
		}
		defer unlock(lf)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
	default:
		return nil, errors.Wrap(err, "open lock")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	return data, nil
}
