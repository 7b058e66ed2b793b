//go:build !unix

package streamio

import "os"

// Advisory locking is unavailable; writers still replace the file by rename.

func lockExclusive(*os.File) error { return nil }
func lockShared(*os.File) error    { return nil }
func unlock(*os.File) error        { return nil }

func syncFile(f *os.File) error { return f.Sync() }
