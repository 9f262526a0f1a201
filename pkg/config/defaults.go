package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const defaultsConfig = "defaults/config"

// installDefaults drops a fully commented copy of the embedded config into dir
// unless dir/config already exists.
func installDefaults(fsys fs.FS, dir string) error {
	target := filepath.Join(dir, "config")
	switch _, err := os.Stat(target); {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat %s: %w", target, err)
	}

	data, err := fs.ReadFile(fsys, defaultsConfig)
	if err != nil {
		return fmt.Errorf("read embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(target, commentOut(data), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// commentOut disables every setting line, keeping the file as documentation.
func commentOut(data []byte) []byte {
	var b strings.Builder
	for _, line := range splitLines(string(data)) {
		if line != "" && !strings.HasPrefix(line, "#") && !strings.HasPrefix(line, ";") {
			b.WriteString("# ")
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}
