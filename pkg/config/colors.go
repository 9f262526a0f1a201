package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ColorConfig holds console colors as "r,g,b" strings. config files set them as "#rrggbb".
type ColorConfig struct {
	Info      string
	Phase     string
	Section   string
	Warn      string
	Error     string
	Timestamp string
}

func (c *ColorConfig) keys() []struct {
	key string
	val *string
} {
	return []struct {
		key string
		val *string
	}{
		{"color_info", &c.Info},
		{"color_phase", &c.Phase},
		{"color_section", &c.Section},
		{"color_warn", &c.Warn},
		{"color_error", &c.Error},
		{"color_timestamp", &c.Timestamp},
	}
}

// loadColors applies color keys from every source in order, a later source wins per key.
func loadColors(sources []source) (ColorConfig, error) {
	var res ColorConfig
	for _, src := range sources {
		sec, err := section(src.data)
		if err != nil {
			return ColorConfig{}, fmt.Errorf("%s: %w", src.name, err)
		}
		for _, k := range res.keys() {
			key, err := sec.GetKey(k.key)
			if err != nil {
				continue
			}
			hex := strings.TrimSpace(key.String())
			if hex == "" {
				continue
			}
			rgb, err := hexToRGB(hex)
			if err != nil {
				return ColorConfig{}, fmt.Errorf("%s: invalid %s: %w", src.name, k.key, err)
			}
			*k.val = rgb
		}
	}
	return res, nil
}

// hexToRGB converts "#rrggbb" to "r,g,b".
func hexToRGB(hex string) (string, error) {
	if len(hex) != 7 || hex[0] != '#' {
		return "", fmt.Errorf("%q is not in #rrggbb form", hex)
	}
	var rgb [3]uint64
	for i := range rgb {
		v, err := strconv.ParseUint(hex[1+2*i:3+2*i], 16, 8)
		if err != nil {
			return "", errors.New("bad hex digits in " + hex)
		}
		rgb[i] = v
	}
	return fmt.Sprintf("%d,%d,%d", rgb[0], rgb[1], rgb[2]), nil
}
