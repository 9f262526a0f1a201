// Package backup copies files and directories aside before they are mutated, and provides
// idempotent write helpers that honor the backup-before-write order.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// stampLayout is the timestamp embedded in backup names, sortable and unique per nanosecond.
const stampLayout = "20060102-150405.000000000"

// Logger receives structured backup events.
type Logger interface {
	Event(event string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Event(string, ...any) {}

// BackupError reports a failed copy of a path the caller was about to mutate.
type BackupError struct {
	Path string
	Err  error
}

func (e *BackupError) Error() string { return fmt.Sprintf("backup %s: %v", e.Path, e.Err) }

func (e *BackupError) Unwrap() error { return e.Err }

// Store makes timestamp-suffixed sibling copies. backups are never removed by the store.
type Store struct {
	log Logger
	now func() time.Time
}

// NewStore makes a Store logging to log, nil discards events.
func NewStore(log Logger) *Store {
	if log == nil {
		log = nopLogger{}
	}
	return &Store{log: log, now: time.Now}
}

// Backup copies path to "<path>.<timestamp>.bak" and returns the copy's location.
// a nonexistent path returns "" and nil without touching the filesystem.
// a failed copy is removed and reported as *BackupError.
func (s *Store) Backup(path string) (string, error) {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", s.fail(path, err)
	}

	dst, err := s.target(path)
	if err != nil {
		return "", s.fail(path, err)
	}

	switch {
	case info.IsDir():
		err = copyDir(path, dst)
	case info.Mode()&fs.ModeSymlink != 0:
		err = copySymlink(path, dst)
	default:
		err = copyFile(path, dst, info.Mode().Perm())
	}
	if err != nil {
		_ = os.RemoveAll(dst)
		return "", s.fail(path, err)
	}

	s.log.Event("backup_created", "path", path, "backup", dst)
	return dst, nil
}

// Guard backs up path before a mutation and applies the failure policy:
// sensitive paths return *BackupError so the caller aborts, others log a warning and proceed.
func (s *Store) Guard(path string, sensitive bool) (string, error) {
	dst, err := s.Backup(path)
	if err == nil {
		return dst, nil
	}
	if sensitive {
		return "", err
	}
	s.log.Event("backup_skipped", "path", path, "err", err, "reason", "not sensitive, proceeding")
	return "", nil
}

func (s *Store) fail(path string, err error) error {
	s.log.Event("backup_failed", "path", path, "err", err)
	return &BackupError{Path: path, Err: err}
}

// target picks a backup name not taken yet.
func (s *Store) target(path string) (string, error) {
	base := path + "." + s.now().Format(stampLayout)
	for i := 0; i < 100; i++ {
		name := base + ".bak"
		if i > 0 {
			name = base + "-" + strconv.Itoa(i) + ".bak"
		}
		if _, err := os.Lstat(name); errors.Is(err, fs.ErrNotExist) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no free backup name for %s", path)
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src) //nolint:gosec // path chosen by phase definitions
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm) //nolint:gosec // dst derived from src
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close backup: %w", err)
	}
	// umask may have narrowed perm on create
	return os.Chmod(dst, perm)
}

func copySymlink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return fmt.Errorf("readlink: %w", err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return fmt.Errorf("symlink: %w", err)
	}
	return nil
}

// copyDir recreates the tree under src at dst, files, dirs and symlinks only.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			if err := os.Mkdir(target, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("mkdir %s: %w", target, err)
			}
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			return copySymlink(path, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil // sockets, devices and fifos are not configuration
		}
	})
}
