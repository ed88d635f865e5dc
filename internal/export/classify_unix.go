//go:build !windows

package export

import (
	stderrors "errors"
	"os"

	"golang.org/x/sys/unix"
)

var volumeUnavailableErrors = []error{
	unix.ENODEV,
	unix.ENOTCONN,
	unix.EHOSTDOWN,
	unix.EHOSTUNREACH,
	unix.ETIMEDOUT,
	unix.EIO,
	unix.ESTALE,
	unix.ENXIO,
}

// classify maps a filesystem error onto an ErrorKind.
func classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnclassified
	case stderrors.Is(err, unix.EACCES), stderrors.Is(err, unix.EPERM):
		return KindPermissionDenied
	case stderrors.Is(err, unix.ENOSPC), stderrors.Is(err, unix.EDQUOT):
		return KindStorageExhausted
	case stderrors.Is(err, unix.EROFS):
		return KindReadOnlyFilesystem
	case stderrors.Is(err, os.ErrNotExist):
		return KindVolumeUnavailable
	}
	for _, target := range volumeUnavailableErrors {
		if stderrors.Is(err, target) {
			return KindVolumeUnavailable
		}
	}
	return KindUnclassified
}

// checkWritable reports whether dir can be written by this process.
func checkWritable(dir string) error {
	return unix.Access(dir, unix.W_OK|unix.X_OK)
}
