package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/pgzip"
)

// Snapshot archives the given configuration paths into dir/snapshot-<timestamp>.tar.gz.
// paths that don't exist are skipped. entry names are the absolute paths without the leading slash,
// so the archive can be unpacked relative to / for a manual restore.
func (s *Store) Snapshot(paths []string, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	name := filepath.Join(dir, "snapshot-"+s.now().Format(stampLayout)+".tar.gz")

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec // name built from config dir
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}

	var included, skipped int
	err = func() error {
		zw := pgzip.NewWriter(f)
		tw := tar.NewWriter(zw)
		for _, p := range paths {
			ok, err := addTree(tw, p)
			if err != nil {
				return fmt.Errorf("add %s: %w", p, err)
			}
			if ok {
				included++
			} else {
				skipped++
			}
		}
		if err := tw.Close(); err != nil {
			return fmt.Errorf("close tar: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close gzip: %w", err)
		}
		return f.Sync()
	}()
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close snapshot: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(name)
		s.log.Event("snapshot_failed", "path", name, "err", err)
		return "", err
	}

	var size uint64
	if info, err := os.Stat(name); err == nil {
		size = uint64(info.Size()) //nolint:gosec // file size is non-negative
	}
	s.log.Event("snapshot_created", "path", name, "included", included, "skipped", skipped,
		"size", humanize.Bytes(size))
	return name, nil
}

// addTree writes root and everything below it to tw. returns false when root doesn't exist.
func addTree(tw *tar.Writer, root string) (bool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(abs); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		var link string
		if d.Type()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}
		if !d.IsDir() && !d.Type().IsRegular() && link == "" {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = strings.TrimPrefix(filepath.ToSlash(path), "/")
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := os.Open(path) //nolint:gosec // walking configured snapshot paths
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(tw, in)
		return err
	})
	return err == nil, err
}
