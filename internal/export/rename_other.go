//go:build !linux

package export

func renameNoReplace(oldpath, newpath string) error {
	return checkedRename(oldpath, newpath)
}
