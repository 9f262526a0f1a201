package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadColorChain(t *testing.T, local, global string) (ColorConfig, error) {
	t.Helper()
	sources, err := readSources(defaultsFS, local, global)
	require.NoError(t, err)
	return loadColors(sources)
}

func TestLoadColors_Defaults(t *testing.T) {
	colors, err := loadColorChain(t, "", "")
	require.NoError(t, err)
	assert.Equal(t, ColorConfig{
		Info:      "180,180,180",
		Phase:     "0,255,255",
		Section:   "208,150,217",
		Warn:      "255,197,109",
		Error:     "255,0,0",
		Timestamp: "138,138,138",
	}, colors)
}

func TestLoadColors_Precedence(t *testing.T) {
	dir := t.TempDir()
	global, local := filepath.Join(dir, "global"), filepath.Join(dir, "local")
	require.NoError(t, os.WriteFile(global, []byte("color_phase = #102030\ncolor_error = #00ff00\n"), 0o600))
	require.NoError(t, os.WriteFile(local, []byte("color_phase = #0000FF\ncolor_warn =\n"), 0o600))

	colors, err := loadColorChain(t, local, global)
	require.NoError(t, err)
	assert.Equal(t, "0,0,255", colors.Phase)
	assert.Equal(t, "0,255,0", colors.Error)
	assert.Equal(t, "255,197,109", colors.Warn, "empty value keeps the lower level")
}

func TestLoadColors_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("color_section = 00ff00\n"), 0o600))
	_, err := loadColorChain(t, "", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global config: invalid color_section")
}

func TestHexToRGB(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "#ff0000", want: "255,0,0"},
		{in: "#00Ff80", want: "0,255,128"},
		{in: "#000000", want: "0,0,0"},
		{in: "", wantErr: true},
		{in: "ff0000", wantErr: true},
		{in: "#fff", wantErr: true},
		{in: "#gg0000", wantErr: true},
		{in: "#ff00001", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := hexToRGB(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
