//go:build windows

package export

import (
	stderrors "errors"
	"os"
)

// classify maps a filesystem error onto an ErrorKind. Windows errors carry
// less detail, so only permission and missing-volume cases are recognized.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnclassified
	case stderrors.Is(err, os.ErrPermission):
		return KindPermissionDenied
	case stderrors.Is(err, os.ErrNotExist):
		return KindVolumeUnavailable
	}
	return KindUnclassified
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".capture-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
