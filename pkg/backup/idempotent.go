package backup

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Contains reports whether the file at path contains needle. a missing file contains nothing.
func Contains(path, needle string) (bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path chosen by phase definitions
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	return bytes.Contains(data, []byte(needle)), nil
}

// WriteFile replaces path with data unless it already holds exactly data.
// the old content is backed up first under the Guard policy, and the write is atomic.
// returns true when the file changed.
func (s *Store) WriteFile(path string, data []byte, perm fs.FileMode, sensitive bool) (bool, error) {
	cur, err := os.ReadFile(path) //nolint:gosec // path chosen by phase definitions
	switch {
	case err == nil && bytes.Equal(cur, data):
		s.log.Event("write_skipped", "path", path, "reason", "unchanged")
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	if _, err := s.Guard(path, sensitive); err != nil {
		return false, err
	}
	if err := atomicWrite(path, data, perm); err != nil {
		return false, err
	}
	s.log.Event("file_written", "path", path, "bytes", len(data))
	return true, nil
}

// EnsureLine appends line to path when no line of the file equals it. returns true when appended.
func (s *Store) EnsureLine(path, line string, sensitive bool) (bool, error) {
	line = strings.TrimRight(line, "\n")
	cur, err := os.ReadFile(path) //nolint:gosec // path chosen by phase definitions
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	for l := range strings.SplitSeq(string(cur), "\n") {
		if strings.TrimRight(l, "\r") == line {
			return false, nil
		}
	}

	var buf bytes.Buffer
	buf.Write(cur)
	if len(cur) > 0 && !bytes.HasSuffix(cur, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
	buf.WriteByte('\n')

	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return s.WriteFile(path, buf.Bytes(), perm, sensitive)
}

// atomicWrite writes data to a temp file in path's directory and renames it over path.
// an existing file keeps its permissions.
func atomicWrite(path string, data []byte, perm fs.FileMode) error {
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	committed = true
	return nil
}
