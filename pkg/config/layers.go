package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// source is one level of the config chain. sources are applied lowest precedence first.
type source struct {
	name string
	data []byte
}

// readSources returns the embedded defaults, then the global and the local file.
// a missing file or one with only comments contributes nothing.
func readSources(fsys embed.FS, localPath, globalPath string) ([]source, error) {
	data, err := fsys.ReadFile("defaults/config")
	if err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}
	res := []source{{name: "embedded defaults", data: data}}

	for _, f := range []struct{ name, path string }{{"global config", globalPath}, {"local config", localPath}} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path) //nolint:gosec // path from the config dir or the operator
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s %s: %w", f.name, f.path, err)
		}
		if strings.TrimSpace(stripComments(string(data))) == "" {
			continue
		}
		res = append(res, source{name: f.name, data: data})
	}
	return res, nil
}

// section parses ini data and returns its default section. '#' is not an inline comment
// marker, so hex colors survive.
func section(data []byte) (*ini.Section, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg.Section(""), nil
}
