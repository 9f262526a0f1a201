package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"
)

// Values holds scalar configuration values.
// Fields ending in *Set (e.g., MaxAttemptsSet) track whether that field was explicitly
// set in config. This allows distinguishing explicit false/0 from "not set", enabling
// proper merge behavior where local config can override global config with zero values.
type Values struct {
	LogDir        string
	BackupDir     string
	LockFile      string
	SnapshotPaths []string
	SnapshotSet   bool // tracks if snapshot_paths was explicitly set, empty disables the snapshot

	MaxAttempts       int
	MaxAttemptsSet    bool
	CommandTimeoutSec int
	RetryBaseDelayMs  int
	RetryMaxDelayMs   int

	Substitutions    map[string]string // baseline tool -> faster alternative
	SubstitutionsSet bool              // tracks if substitutions was explicitly set, empty disables substitution
	ProbeTimeoutSec  int
	ProbeWorkers     int
	TickMs           int

	AdminUser        string
	SSHPort          int
	NetworkCheckHost string
	Packages         []string
	PackagesSet      bool
	FirewallAllow    []string
	FirewallAllowSet bool

	NotifyChannels        []string
	NotifyChannelsSet     bool
	NotifyOnError         bool
	NotifyOnErrorSet      bool
	NotifyOnComplete      bool
	NotifyOnCompleteSet   bool
	NotifyTimeoutMs       int
	NotifyTelegramToken   string
	NotifyTelegramChat    string
	NotifySlackToken      string
	NotifySlackChannel    string
	NotifySMTPHost        string
	NotifySMTPPort        int
	NotifySMTPUsername    string
	NotifySMTPPassword    string
	NotifySMTPStartTLS    bool
	NotifySMTPStartTLSSet bool
	NotifyEmailFrom       string
	NotifyEmailTo         []string
	NotifyWebhookURLs     []string
	NotifyCustomScript    string
}

// loadValues parses every source and merges them in order.
func loadValues(sources []source) (Values, error) {
	var res Values
	for _, src := range sources {
		v, err := parseValuesFromBytes(src.data)
		if err != nil {
			return Values{}, fmt.Errorf("%s: %w", src.name, err)
		}
		res.mergeFrom(&v)
	}
	return res, nil
}

// parseValuesFromBytes parses configuration from a byte slice into Values.
//
//nolint:gocyclo,funlen // flat list of keys, splitting would hurt readability
func parseValuesFromBytes(data []byte) (Values, error) {
	sec, err := section(data)
	if err != nil {
		return Values{}, err
	}

	var values Values

	// paths
	if key, err := sec.GetKey("log_dir"); err == nil {
		values.LogDir = expandTilde(strings.TrimSpace(key.String()))
	}
	if key, err := sec.GetKey("backup_dir"); err == nil {
		values.BackupDir = expandTilde(strings.TrimSpace(key.String()))
	}
	if key, err := sec.GetKey("lock_file"); err == nil {
		values.LockFile = expandTilde(strings.TrimSpace(key.String()))
	}
	if key, err := sec.GetKey("snapshot_paths"); err == nil {
		values.SnapshotPaths = splitList(key.String())
		values.SnapshotSet = true
	}

	// command execution
	if key, err := sec.GetKey("max_attempts"); err == nil {
		val, err := positiveInt(key)
		if err != nil {
			return Values{}, err
		}
		values.MaxAttempts = val
		values.MaxAttemptsSet = true
	}
	intKeys := []struct {
		key   string
		field *int
	}{
		{"command_timeout_sec", &values.CommandTimeoutSec},
		{"retry_base_delay_ms", &values.RetryBaseDelayMs},
		{"retry_max_delay_ms", &values.RetryMaxDelayMs},
		{"probe_timeout_sec", &values.ProbeTimeoutSec},
		{"probe_workers", &values.ProbeWorkers},
		{"tick_ms", &values.TickMs},
		{"ssh_port", &values.SSHPort},
		{"notify_timeout_ms", &values.NotifyTimeoutMs},
		{"notify_smtp_port", &values.NotifySMTPPort},
	}
	for _, ik := range intKeys {
		key, err := sec.GetKey(ik.key)
		if err != nil {
			continue
		}
		val, err := positiveInt(key)
		if err != nil {
			return Values{}, err
		}
		*ik.field = val
	}
	if values.SSHPort > 65535 {
		return Values{}, fmt.Errorf("invalid ssh_port: must be at most 65535, got %d", values.SSHPort)
	}

	if key, err := sec.GetKey("substitutions"); err == nil {
		subs, err := parseSubstitutions(key.String())
		if err != nil {
			return Values{}, err
		}
		values.Substitutions = subs
		values.SubstitutionsSet = true
	}

	// host setup
	if key, err := sec.GetKey("admin_user"); err == nil {
		values.AdminUser = strings.TrimSpace(key.String())
	}
	if key, err := sec.GetKey("network_check_host"); err == nil {
		values.NetworkCheckHost = strings.TrimSpace(key.String())
	}
	if key, err := sec.GetKey("packages"); err == nil {
		values.Packages = splitList(key.String())
		values.PackagesSet = true
	}
	if key, err := sec.GetKey("firewall_allow"); err == nil {
		values.FirewallAllow = splitList(key.String())
		values.FirewallAllowSet = true
	}

	// notifications
	if key, err := sec.GetKey("notify_channels"); err == nil {
		values.NotifyChannels = splitList(key.String())
		values.NotifyChannelsSet = true
	}
	boolKeys := []struct {
		key   string
		field *bool
		set   *bool
	}{
		{"notify_on_error", &values.NotifyOnError, &values.NotifyOnErrorSet},
		{"notify_on_complete", &values.NotifyOnComplete, &values.NotifyOnCompleteSet},
		{"notify_smtp_starttls", &values.NotifySMTPStartTLS, &values.NotifySMTPStartTLSSet},
	}
	for _, bk := range boolKeys {
		key, err := sec.GetKey(bk.key)
		if err != nil {
			continue
		}
		val, boolErr := key.Bool()
		if boolErr != nil {
			return Values{}, fmt.Errorf("invalid %s: %w", bk.key, boolErr)
		}
		*bk.field = val
		*bk.set = true
	}
	strKeys := []struct {
		key   string
		field *string
	}{
		{"notify_telegram_token", &values.NotifyTelegramToken},
		{"notify_telegram_chat", &values.NotifyTelegramChat},
		{"notify_slack_token", &values.NotifySlackToken},
		{"notify_slack_channel", &values.NotifySlackChannel},
		{"notify_smtp_host", &values.NotifySMTPHost},
		{"notify_smtp_username", &values.NotifySMTPUsername},
		{"notify_smtp_password", &values.NotifySMTPPassword},
		{"notify_email_from", &values.NotifyEmailFrom},
	}
	for _, sk := range strKeys {
		if key, err := sec.GetKey(sk.key); err == nil {
			*sk.field = strings.TrimSpace(key.String())
		}
	}
	if key, err := sec.GetKey("notify_email_to"); err == nil {
		values.NotifyEmailTo = splitList(key.String())
	}
	if key, err := sec.GetKey("notify_webhook_urls"); err == nil {
		values.NotifyWebhookURLs = splitList(key.String())
	}
	if key, err := sec.GetKey("notify_custom_script"); err == nil {
		values.NotifyCustomScript = expandTilde(strings.TrimSpace(key.String()))
	}

	return values, nil
}

// positiveInt parses key as an int > 0.
func positiveInt(key *ini.Key) (int, error) {
	val, err := key.Int()
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key.Name(), err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key.Name(), val)
	}
	return val, nil
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var res []string
	for p := range strings.SplitSeq(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			res = append(res, t)
		}
	}
	return res
}

// parseSubstitutions parses "baseline=alternative, ..." pairs.
func parseSubstitutions(s string) (map[string]string, error) {
	res := map[string]string{}
	for _, pair := range splitList(s) {
		base, alt, ok := strings.Cut(pair, "=")
		base, alt = strings.TrimSpace(base), strings.TrimSpace(alt)
		if !ok || base == "" || alt == "" {
			return nil, fmt.Errorf("invalid substitutions: %q is not baseline=alternative", pair)
		}
		res[base] = alt
	}
	return res, nil
}

// mergeFrom merges non-empty values from src into dst.
//
//nolint:gocyclo // flat list of fields
func (dst *Values) mergeFrom(src *Values) {
	strs := []struct{ dst, src *string }{
		{&dst.LogDir, &src.LogDir},
		{&dst.BackupDir, &src.BackupDir},
		{&dst.LockFile, &src.LockFile},
		{&dst.AdminUser, &src.AdminUser},
		{&dst.NetworkCheckHost, &src.NetworkCheckHost},
		{&dst.NotifyTelegramToken, &src.NotifyTelegramToken},
		{&dst.NotifyTelegramChat, &src.NotifyTelegramChat},
		{&dst.NotifySlackToken, &src.NotifySlackToken},
		{&dst.NotifySlackChannel, &src.NotifySlackChannel},
		{&dst.NotifySMTPHost, &src.NotifySMTPHost},
		{&dst.NotifySMTPUsername, &src.NotifySMTPUsername},
		{&dst.NotifySMTPPassword, &src.NotifySMTPPassword},
		{&dst.NotifyEmailFrom, &src.NotifyEmailFrom},
		{&dst.NotifyCustomScript, &src.NotifyCustomScript},
	}
	for _, s := range strs {
		if *s.src != "" {
			*s.dst = *s.src
		}
	}
	ints := []struct{ dst, src *int }{
		{&dst.CommandTimeoutSec, &src.CommandTimeoutSec},
		{&dst.RetryBaseDelayMs, &src.RetryBaseDelayMs},
		{&dst.RetryMaxDelayMs, &src.RetryMaxDelayMs},
		{&dst.ProbeTimeoutSec, &src.ProbeTimeoutSec},
		{&dst.ProbeWorkers, &src.ProbeWorkers},
		{&dst.TickMs, &src.TickMs},
		{&dst.SSHPort, &src.SSHPort},
		{&dst.NotifyTimeoutMs, &src.NotifyTimeoutMs},
		{&dst.NotifySMTPPort, &src.NotifySMTPPort},
	}
	for _, i := range ints {
		if *i.src != 0 {
			*i.dst = *i.src
		}
	}

	if src.MaxAttemptsSet {
		dst.MaxAttempts = src.MaxAttempts
		dst.MaxAttemptsSet = true
	}
	if src.SnapshotSet {
		dst.SnapshotPaths = src.SnapshotPaths
		dst.SnapshotSet = true
	}
	if src.SubstitutionsSet {
		dst.Substitutions = src.Substitutions
		dst.SubstitutionsSet = true
	}
	if src.PackagesSet {
		dst.Packages = src.Packages
		dst.PackagesSet = true
	}
	if src.FirewallAllowSet {
		dst.FirewallAllow = src.FirewallAllow
		dst.FirewallAllowSet = true
	}
	if src.NotifyChannelsSet {
		dst.NotifyChannels = src.NotifyChannels
		dst.NotifyChannelsSet = true
	}
	if src.NotifyOnErrorSet {
		dst.NotifyOnError = src.NotifyOnError
		dst.NotifyOnErrorSet = true
	}
	if src.NotifyOnCompleteSet {
		dst.NotifyOnComplete = src.NotifyOnComplete
		dst.NotifyOnCompleteSet = true
	}
	if src.NotifySMTPStartTLSSet {
		dst.NotifySMTPStartTLS = src.NotifySMTPStartTLS
		dst.NotifySMTPStartTLSSet = true
	}
	if len(src.NotifyEmailTo) > 0 {
		dst.NotifyEmailTo = src.NotifyEmailTo
	}
	if len(src.NotifyWebhookURLs) > 0 {
		dst.NotifyWebhookURLs = src.NotifyWebhookURLs
	}
}
