package groupstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// LayoutFile persists layouts as JSON files on a billy filesystem.
type LayoutFile struct {
	FS   billy.Filesystem
	Path string
}

// Save writes the snapshot of store to the file, replacing it atomically
// through a temp file in the same directory.
func (f LayoutFile) Save(store *Store) error {
	data, err := Marshal(store.CreateSnapshot())
	if err != nil {
		return fmt.Errorf("encode layout: %w", err)
	}
	if dir := filepath.Dir(f.Path); dir != "." && dir != "" {
		if err := f.FS.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp := f.Path + ".tmp"
	if err := util.WriteFile(f.FS, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.FS.Rename(tmp, f.Path); err != nil {
		_ = f.FS.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads the file and restores it into store. A missing file leaves the
// store untouched and reports found=false.
func (f LayoutFile) Load(store *Store) (found bool, err error) {
	data, err := util.ReadFile(f.FS, f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", f.Path, err)
	}
	snap, err := Unmarshal(data)
	if err != nil {
		return false, fmt.Errorf("%s: %w", f.Path, err)
	}
	store.RestoreSnapshot(snap)
	return true, nil
}
