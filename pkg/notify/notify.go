// Package notify sends the run summary to configured channels when a hardn run ends.
// delivery is best-effort, failures are logged and never change the run outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"os"
	"strings"
	"time"

	ntfy "github.com/go-pkgz/notify"
	"golang.org/x/sync/errgroup"
)

// Params holds notification settings as read from config.
type Params struct {
	Channels      []string
	OnError       bool
	OnComplete    bool
	TimeoutMs     int
	TelegramToken string
	TelegramChat  string
	SlackToken    string
	SlackChannel  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPStartTLS  bool
	EmailFrom     string
	EmailTo       []string
	WebhookURLs   []string
	CustomScript  string
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const defaultTimeout = 10 * time.Second

// Result is the run summary delivered to every channel. the custom script gets it as JSON.
type Result struct {
	Status       string   `json:"status"`
	RunID        string   `json:"run_id"`
	Duration     string   `json:"duration"`
	Phases       int      `json:"phases"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	Pending      int      `json:"pending"`
	FailedPhases []string `json:"failed_phases,omitempty"`
	LogFile      string   `json:"log_file,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Logger receives delivery warnings.
type Logger interface {
	Warn(format string, args ...any)
}

// target is one destination on one notifier.
type target struct {
	notifier ntfy.Notifier
	dest     func(host string, r Result) string
	html     bool // message goes out in HTML parse mode
}

// Service delivers results. a nil *Service is valid and sends nothing.
type Service struct {
	targets    []target
	script     *scriptChannel
	onError    bool
	onComplete bool
	timeout    time.Duration
	host       string
	log        Logger
}

// builder validates and creates the targets of one channel kind.
type builder struct {
	check func(p Params) error
	build func(p Params) ([]target, error)
	soft  bool // build talks to a remote API, a failure disables the channel instead of failing New
}

var builders = map[string]builder{
	"telegram": {
		check: func(p Params) error {
			return required("notify_telegram_token", p.TelegramToken, "notify_telegram_chat", p.TelegramChat)
		},
		build: telegramTargets,
		soft:  true,
	},
	"email": {
		check: func(p Params) error {
			if err := required("notify_smtp_host", p.SMTPHost, "notify_email_from", p.EmailFrom); err != nil {
				return err
			}
			if len(p.EmailTo) == 0 {
				return errors.New("notify_email_to is required")
			}
			return nil
		},
		build: emailTargets,
	},
	"slack": {
		check: func(p Params) error {
			return required("notify_slack_token", p.SlackToken, "notify_slack_channel", p.SlackChannel)
		},
		build: slackTargets,
	},
	"webhook": {
		check: func(p Params) error {
			if len(p.WebhookURLs) == 0 {
				return errors.New("notify_webhook_urls is required")
			}
			return nil
		},
		build: webhookTargets,
	},
}

// New creates a Service. it returns nil, nil when no channel is configured, Send on nil is a no-op.
// a misconfigured channel is an error; a telegram bot that can't be reached only disables telegram.
func New(p Params, log Logger) (*Service, error) {
	if len(p.Channels) == 0 {
		return nil, nil //nolint:nilnil // nil service means notifications are off
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	s := &Service{
		onError:    p.OnError,
		onComplete: p.OnComplete,
		timeout:    time.Duration(p.TimeoutMs) * time.Millisecond,
		host:       host,
		log:        log,
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}

	for _, ch := range p.Channels {
		name := strings.ToLower(strings.TrimSpace(ch))
		if name == "custom" {
			if p.CustomScript == "" {
				return nil, errors.New("custom channel: notify_custom_script is required")
			}
			s.script = newScriptChannel(p.CustomScript)
			continue
		}

		b, ok := builders[name]
		if !ok {
			return nil, fmt.Errorf("unknown notification channel: %q", ch)
		}
		if err := b.check(p); err != nil {
			return nil, fmt.Errorf("%s channel: %w", name, err)
		}
		ts, err := b.build(p)
		if err != nil {
			if !b.soft {
				return nil, fmt.Errorf("%s channel: %w", name, err)
			}
			log.Warn("%s notifications disabled: %s", name, redact(err.Error(), p.TelegramToken, p.SlackToken, p.SMTPPassword))
			continue
		}
		s.targets = append(s.targets, ts...)
	}

	if len(s.targets) == 0 && s.script == nil {
		log.Warn("no notification channel could be initialized")
	}
	return s, nil
}

// Send delivers r to every channel in parallel unless the status is filtered out by
// notify_on_error / notify_on_complete. it returns after all deliveries finished or timed out.
func (s *Service) Send(ctx context.Context, r Result) {
	if s == nil {
		return
	}
	if (r.Status == StatusSuccess && !s.onComplete) || (r.Status != StatusSuccess && !s.onError) {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := s.Message(r)
	var g errgroup.Group
	for _, t := range s.targets {
		g.Go(func() error {
			text := msg
			if t.html {
				text = html.EscapeString(msg)
			}
			if err := t.notifier.Send(ctx, t.dest(s.host, r), text); err != nil {
				s.log.Warn("notification via %s failed: %v", t.notifier, err)
			}
			return nil
		})
	}
	if s.script != nil {
		g.Go(func() error {
			if err := s.script.send(ctx, r, s.timeout); err != nil {
				s.log.Warn("custom notification failed: %v", err)
			}
			return nil
		})
	}
	_ = g.Wait() // failures are logged per channel
}

// Message renders the plain text body.
func (s *Service) Message(r Result) string {
	var b strings.Builder
	if r.Status == StatusSuccess {
		fmt.Fprintf(&b, "hardn completed on %s\n\n", s.host)
	} else {
		fmt.Fprintf(&b, "hardn failed on %s\n\n", s.host)
	}

	field := func(name, val string) {
		if val != "" {
			fmt.Fprintf(&b, "%-9s %s\n", name+":", val)
		}
	}
	field("run", r.RunID)
	field("duration", r.Duration)
	field("phases", fmt.Sprintf("%d total, %d ok, %d failed, %d pending", r.Phases, r.Succeeded, r.Failed, r.Pending))
	field("failed", strings.Join(r.FailedPhases, ", "))
	field("error", r.Error)
	field("log", r.LogFile)
	return b.String()
}

// subject is the email subject line.
func subject(host string, r Result) string {
	if r.Status == StatusSuccess {
		return "hardn completed on " + host
	}
	return fmt.Sprintf("hardn failed on %s (%d failed)", host, r.Failed)
}

// newTelegram creates the telegram notifier. it verifies the token with a live call, tests replace it.
var newTelegram = func(token string) (ntfy.Notifier, error) {
	return ntfy.NewTelegram(ntfy.TelegramParams{Token: token})
}

func telegramTargets(p Params) ([]target, error) {
	tg, err := newTelegram(p.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram notifier: %w", err)
	}
	dest := fmt.Sprintf("telegram:%s?parseMode=HTML", p.TelegramChat)
	return []target{{notifier: tg, dest: fixed(dest), html: true}}, nil
}

func emailTargets(p Params) ([]target, error) {
	em := ntfy.NewEmail(ntfy.SMTPParams{
		Host:     p.SMTPHost,
		Port:     p.SMTPPort,
		Username: p.SMTPUsername,
		Password: p.SMTPPassword,
		StartTLS: p.SMTPStartTLS,
	})
	to := strings.Join(p.EmailTo, ",")
	from := url.QueryEscape(p.EmailFrom)
	dest := func(host string, r Result) string {
		return fmt.Sprintf("mailto:%s?from=%s&subject=%s", to, from, url.QueryEscape(subject(host, r)))
	}
	return []target{{notifier: em, dest: dest}}, nil
}

func slackTargets(p Params) ([]target, error) {
	return []target{{notifier: ntfy.NewSlack(p.SlackToken), dest: fixed("slack:" + p.SlackChannel)}}, nil
}

func webhookTargets(p Params) ([]target, error) {
	wh := ntfy.NewWebhook(ntfy.WebhookParams{})
	res := make([]target, 0, len(p.WebhookURLs))
	for _, u := range p.WebhookURLs {
		res = append(res, target{notifier: wh, dest: fixed(u)})
	}
	return res, nil
}

func fixed(dest string) func(string, Result) string {
	return func(string, Result) string { return dest }
}

// required returns an error for the first empty value of name/value pairs.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%s is required", pairs[i])
		}
	}
	return nil
}

// redact removes secrets from text.
func redact(text string, secrets ...string) string {
	for _, s := range secrets {
		if s != "" {
			text = strings.ReplaceAll(text, s, "[REDACTED]")
		}
	}
	return text
}
