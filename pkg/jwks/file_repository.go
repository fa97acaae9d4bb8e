package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tendant/authcore/pkg/errors"
)

const backupPrefix = "old_"

// FileRepository stores a set as a JSON file. Writes go to a staging file
// in the same directory which is then renamed over the target, so readers
// never see a partial file. Readers take a shared advisory lock and writers
// an exclusive one on a sibling ".lock" file.
type FileRepository struct {
	path       string
	numBackups int
}

// NewFileRepository creates a repository for path keeping numBackups
// previous versions next to it.
func NewFileRepository(path string, numBackups int) *FileRepository {
	return &FileRepository{path: path, numBackups: numBackups}
}

// Path returns the file the repository writes
func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) lockPath() string {
	return filepath.Join(filepath.Dir(r.path), "."+filepath.Base(r.path)+".lock")
}

// Load reads the set under a shared lock. A missing or empty file yields an
// empty set.
func (r *FileRepository) Load(ctx context.Context) (*Set, error) {
	empty := &Set{Keys: []JWK{}}
	if _, err := os.Stat(filepath.Dir(r.path)); os.IsNotExist(err) {
		return empty, nil
	}

	unlock, err := lockFile(ctx, r.lockPath(), false)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPersistRead, "failed to lock %s", r.path)
	}
	defer unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return empty, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPersistRead, "failed to read %s", r.path)
	}
	if len(data) == 0 {
		return empty, nil
	}

	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrapf(err, errors.KindCorruptJWK, "failed to parse %s", r.path)
	}
	if set.Keys == nil {
		set.Keys = []JWK{}
	}
	return &set, nil
}

// Save writes the set under an exclusive lock, keeping the replaced file as
// a backup.
func (r *FileRepository) Save(ctx context.Context, set *Set) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrapf(err, errors.KindPersistWrite, "failed to create directory %s", dir)
	}

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to marshal key set")
	}

	unlock, err := lockFile(ctx, r.lockPath(), true)
	if err != nil {
		return errors.Wrapf(err, errors.KindPersistWrite, "failed to lock %s", r.path)
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(r.path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to create staging file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.KindPersistWrite, "failed to write staging file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.KindPersistWrite, "failed to sync staging file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.KindPersistWrite, "failed to close staging file")
	}

	if r.numBackups > 0 {
		r.backup()
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return errors.Wrapf(err, errors.KindPersistWrite, "failed to rename staging file to %s", r.path)
	}
	if r.numBackups > 0 {
		r.cleanBackups()
	}
	return nil
}

// backup hard-links the current file under a timestamped name so the rename
// that follows leaves the previous version in place.
func (r *FileRepository) backup() {
	if _, err := os.Stat(r.path); err != nil {
		return
	}
	name := fmt.Sprintf("%s%s_%s", backupPrefix, time.Now().UTC().Format("20060102T150405.000000000Z"), filepath.Base(r.path))
	if err := os.Link(r.path, filepath.Join(filepath.Dir(r.path), name)); err != nil {
		slog.Warn("Failed to back up key set file", "path", r.path, "err", err)
	}
}

// Backups lists existing backup files, newest first.
func (r *FileRepository) Backups() ([]string, error) {
	dir := filepath.Dir(r.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type backupFile struct {
		path  string
		mtime time.Time
	}
	var files []backupFile
	suffix := "_" + filepath.Base(r.path)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile{path: filepath.Join(dir, e.Name()), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mtime.Equal(files[j].mtime) {
			return files[i].path > files[j].path
		}
		return files[i].mtime.After(files[j].mtime)
	})
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

func (r *FileRepository) cleanBackups() {
	backups, err := r.Backups()
	if err != nil {
		slog.Warn("Failed to list key set backups", "path", r.path, "err", err)
		return
	}
	if len(backups) <= r.numBackups {
		return
	}
	for _, old := range backups[r.numBackups:] {
		if err := os.Remove(old); err != nil {
			slog.Warn("Failed to remove key set backup", "path", old, "err", err)
		}
	}
}
