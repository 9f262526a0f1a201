// Package config loads hardn configuration from an ini file chain:
// embedded defaults, then /etc/hardn/config, then an operator-supplied file.
package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/serverprep/hardn/pkg/notify"
)

//go:embed defaults
var defaultsFS embed.FS

// DefaultConfigDir is where the global config lives.
const DefaultConfigDir = "/etc/hardn"

// Config is the merged configuration.
type Config struct {
	Values
	Colors ColorConfig

	configDir string
	localPath string
}

// Load reads configuration. configDir empty uses DefaultConfigDir, and a commented default
// config is installed there when missing; a read-only or foreign config dir is not an error.
// localPath, when set, must exist and overrides the global values.
func Load(configDir, localPath string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir
	}
	if err := installDefaults(defaultsFS, configDir); err != nil && !errors.Is(err, fs.ErrPermission) {
		return nil, fmt.Errorf("install defaults: %w", err)
	}

	if localPath != "" {
		if _, err := os.Stat(localPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	globalPath := filepath.Join(configDir, "config")

	sources, err := readSources(defaultsFS, localPath, globalPath)
	if err != nil {
		return nil, err
	}
	values, err := loadValues(sources)
	if err != nil {
		return nil, fmt.Errorf("load values: %w", err)
	}
	colors, err := loadColors(sources)
	if err != nil {
		return nil, fmt.Errorf("load colors: %w", err)
	}

	return &Config{Values: values, Colors: colors, configDir: configDir, localPath: localPath}, nil
}

// ConfigDir returns the global config directory used by Load.
func (c *Config) ConfigDir() string { return c.configDir }

// LocalPath returns the operator-supplied config path, empty if none.
func (c *Config) LocalPath() string { return c.localPath }

// CommandTimeout is the per-attempt command timeout.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSec) * time.Second
}

// RetryBaseDelay is the first backoff pause.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay caps the backoff.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

// ProbeTimeout bounds a single tool availability probe.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// Tick is the progress animation cadence.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// NotifyParams maps notification settings to notify.Params.
func (c *Config) NotifyParams() notify.Params {
	return notify.Params{
		Channels:      c.NotifyChannels,
		OnError:       c.NotifyOnError,
		OnComplete:    c.NotifyOnComplete,
		TimeoutMs:     c.NotifyTimeoutMs,
		TelegramToken: c.NotifyTelegramToken,
		TelegramChat:  c.NotifyTelegramChat,
		SlackToken:    c.NotifySlackToken,
		SlackChannel:  c.NotifySlackChannel,
		SMTPHost:      c.NotifySMTPHost,
		SMTPPort:      c.NotifySMTPPort,
		SMTPUsername:  c.NotifySMTPUsername,
		SMTPPassword:  c.NotifySMTPPassword,
		SMTPStartTLS:  c.NotifySMTPStartTLS,
		EmailFrom:     c.NotifyEmailFrom,
		EmailTo:       c.NotifyEmailTo,
		WebhookURLs:   c.NotifyWebhookURLs,
		CustomScript:  c.NotifyCustomScript,
	}
}

// stripComments removes comment lines (# or ;) so a fully commented file reads as empty.
func stripComments(s string) string {
	var b strings.Builder
	for _, line := range splitLines(s) {
		t := strings.TrimSpace(line)
		if t == "" || strings.HasPrefix(t, "#") || strings.HasPrefix(t, ";") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func splitLines(s string) []string {
	return strings.Split(strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n"), "\n")
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
