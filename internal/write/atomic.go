package write

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// atomicWriteFile writes data to path by first writing to a sibling temp
// file and renaming it into place, so a crash mid-write never leaves a
// truncated manifest on disk.
func atomicWriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp")

	if err := afero.WriteFile(fs, tmp, data, perm); err != nil {
		return fmt.Errorf("write: writing temp file %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("write: renaming %s into place: %w", tmp, err)
	}
	return nil
}
