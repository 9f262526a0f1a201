package progress

import (
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/serverprep/hardn/pkg/config"
)

// Colors holds the console color set.
type Colors struct {
	info      *color.Color
	phase     *color.Color
	section   *color.Color
	warn      *color.Color
	err       *color.Color
	timestamp *color.Color
}

// DefaultColors returns the basic ANSI palette, used when no config is given.
func DefaultColors() *Colors {
	return &Colors{
		info:      color.New(color.FgGreen),
		phase:     color.New(color.FgCyan, color.Bold),
		section:   color.New(color.FgMagenta, color.Bold),
		warn:      color.New(color.FgYellow),
		err:       color.New(color.FgRed),
		timestamp: color.New(color.FgWhite),
	}
}

// NewColors builds truecolor console colors from config. unset or malformed entries keep the default.
func NewColors(cfg config.ColorConfig) *Colors {
	c := DefaultColors()
	for _, pick := range []struct {
		rgb  string
		dst  **color.Color
		bold bool
	}{
		{cfg.Info, &c.info, false},
		{cfg.Phase, &c.phase, true},
		{cfg.Section, &c.section, true},
		{cfg.Warn, &c.warn, false},
		{cfg.Error, &c.err, false},
		{cfg.Timestamp, &c.timestamp, false},
	} {
		if col, ok := parseRGB(pick.rgb); ok {
			if pick.bold {
				col.Add(color.Bold)
			}
			*pick.dst = col
		}
	}
	return c
}

// Info returns the color for informational console lines.
func (c *Colors) Info() *color.Color { return c.info }

// Warn returns the warning color.
func (c *Colors) Warn() *color.Color { return c.warn }

// parseRGB turns "r,g,b" into a 24-bit foreground color.
func parseRGB(s string) (*color.Color, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return nil, false
	}
	attrs := []color.Attribute{38, 2} // truecolor foreground
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || v < 0 || v > 255 {
			return nil, false
		}
		attrs = append(attrs, color.Attribute(v))
	}
	return color.New(attrs...), true
}
