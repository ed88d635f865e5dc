package export

import (
	stderrors "errors"
	"os"
)

// checkedRename refuses to rename over an existing entry. A file appearing
// between the check and the rename is still replaced; callers must hold the
// export gate so no other writer of ours can race.
func checkedRename(oldpath, newpath string) error {
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: os.ErrExist}
	} else if !stderrors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}
