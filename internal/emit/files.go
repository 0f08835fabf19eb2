package emit

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// fileWriter writes build files below root and remembers what it created or
// overwrote so a failed run can be rolled back.
type fileWriter struct {
	root    string
	created []string
	dirs    []string
	// previous contents of files this run overwrote
	saved map[string][]byte
}

func (w *fileWriter) mkdir(rel string) (string, error) {
	dir := filepath.Join(w.root, rel)
	// record every missing ancestor so cleanup can remove it again
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		missing = append(missing, d)
		if d == filepath.Dir(d) {
			break
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	slices.Reverse(missing)
	w.dirs = append(w.dirs, missing...)
	return dir, nil
}

// save keeps the current contents of root/rel, if any, for cleanup.
func (w *fileWriter) save(rel string) error {
	if _, ok := w.saved[rel]; ok {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(w.root, rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if w.saved == nil {
		w.saved = make(map[string][]byte)
	}
	w.saved[rel] = data
	return nil
}

// discard removes root/rel left by an earlier run. Cleanup does not bring it
// back.
func (w *fileWriter) discard(rel string) error {
	if err := os.Remove(filepath.Join(w.root, rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	return nil
}

// write stores data at root/rel.
func (w *fileWriter) write(rel string, data []byte) error {
	if _, err := w.mkdir(filepath.Dir(rel)); err != nil {
		return err
	}
	if err := w.save(rel); err != nil {
		return err
	}
	path := filepath.Join(w.root, rel)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	w.created = append(w.created, rel)
	return nil
}

// writeAtomic stores data at root/rel through a temporary file and a rename,
// so readers see either the old file or the complete new one.
func (w *fileWriter) writeAtomic(rel string, data []byte) (err error) {
	dir, err := w.mkdir(filepath.Dir(rel))
	if err != nil {
		return err
	}
	if err := w.save(rel); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(rel)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), filepath.Join(w.root, rel)); err != nil {
		return fmt.Errorf("renaming %s: %w", rel, err)
	}
	w.created = append(w.created, rel)
	return nil
}

// cleanup removes the files written so far, restores the ones they
// replaced and removes the directories created for them, newest first.
// Directories that are no longer empty stay.
func (w *fileWriter) cleanup() error {
	var errs []error
	for i := len(w.created) - 1; i >= 0; i-- {
		rel := w.created[i]
		path := filepath.Join(w.root, rel)
		if old, ok := w.saved[rel]; ok {
			if err := os.WriteFile(path, old, 0o644); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for i := len(w.dirs) - 1; i >= 0; i-- {
		os.Remove(w.dirs[i])
	}
	w.created, w.dirs, w.saved = nil, nil, nil
	return errors.Join(errs...)
}

// files returns the written paths relative to root.
func (w *fileWriter) files() []string { return slices.Clone(w.created) }
