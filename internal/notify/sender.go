// Package notify renders and delivers the account verification and password
// recovery emails.
package notify

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	texttemplate "text/template"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/tenantauth/internal/auth/token"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/pkg/logger"
	"github.com/charlesng35/tenantauth/pkg/mail"
	"github.com/charlesng35/tenantauth/pkg/metrics"
)

//go:embed templates/*
var embeddedTemplates embed.FS

const defaultSendTimeout = 30 * time.Second

// PurposeConfig describes the email sent for one token purpose. Subject is an
// inline template; PlainTemplate and HTMLTemplate name template files.
type PurposeConfig struct {
	Subject       string
	PlainTemplate string
	HTMLTemplate  string
	URL           string
	Lifetime      time.Duration
}

// Config bundles sender identity, branding and per-purpose templates.
type Config struct {
	From        string
	LogoURL     string
	Signature   string
	TemplateDir string
	SendTimeout time.Duration
	Purposes    map[token.Purpose]PurposeConfig
}

// DefaultPurposes returns the built-in subjects and template names.
func DefaultPurposes() map[token.Purpose]PurposeConfig {
	return map[token.Purpose]PurposeConfig{
		token.PurposeAccountVerification: {
			Subject:       "Verify your account {{ .Username }}",
			PlainTemplate: "account_verification.txt",
			HTMLTemplate:  "account_verification.html",
			Lifetime:      token.DefaultLifetime(token.PurposeAccountVerification),
		},
		token.PurposePasswordRecovery: {
			Subject:       "Recovery your password {{ .Username }}",
			PlainTemplate: "password_recovery.txt",
			HTMLTemplate:  "password_recovery.html",
			Lifetime:      token.DefaultLifetime(token.PurposePasswordRecovery),
		},
	}
}

// RenderContext is the data every template is executed with.
type RenderContext struct {
	Link      string
	Username  string
	Email     string
	LogoURL   string
	Signature string
	ExpiresIn string
}

type compiledPurpose struct {
	subject  *texttemplate.Template
	plain    *texttemplate.Template
	html     *htmltemplate.Template
	url      string
	lifetime time.Duration
}

// Option customises a Sender.
type Option func(*Sender)

// WithSynchronousDelivery makes Send deliver inline instead of on a
// background goroutine.
func WithSynchronousDelivery() Option {
	return func(s *Sender) {
		s.synchronous = true
	}
}

// Sender delivers purpose specific emails carrying account tokens.
type Sender struct {
	mailer      mail.Mailer
	from        string
	logoURL     string
	signature   string
	timeout     time.Duration
	purposes    map[token.Purpose]compiledPurpose
	synchronous bool
	inflight    sync.WaitGroup
	log         *zap.Logger
}

// NewSender parses every configured template up front so that broken
// templates fail at startup rather than on first delivery.
func NewSender(mailer mail.Mailer, cfg Config, opts ...Option) (*Sender, error) {
	if mailer == nil {
		return nil, errors.New("notify: mailer is required")
	}

	purposes := cfg.Purposes
	if len(purposes) == 0 {
		purposes = DefaultPurposes()
	}

	sources := templateSources(cfg.TemplateDir)
	compiled := make(map[token.Purpose]compiledPurpose, len(purposes))
	for purpose, pc := range purposes {
		cp, err := compilePurpose(sources, purpose, pc)
		if err != nil {
			return nil, err
		}
		compiled[purpose] = cp
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}

	s := &Sender{
		mailer:    mailer,
		from:      strings.TrimSpace(cfg.From),
		logoURL:   strings.TrimSpace(cfg.LogoURL),
		signature: strings.TrimSpace(cfg.Signature),
		timeout:   timeout,
		purposes:  compiled,
		log:       logger.WithModule("notify"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send renders the email for purpose and dispatches it. Delivery runs
// detached from ctx's cancellation; failures are logged and counted, never
// returned.
func (s *Sender) Send(ctx context.Context, user *models.User, purpose token.Purpose, raw string) {
	if ctx == nil {
		ctx = context.Background()
	}

	msg, err := s.Render(user, purpose, raw)
	if err != nil {
		metrics.EmailDeliveries.WithLabelValues(string(purpose), "failed").Inc()
		s.log.Warn("render notification", zap.String("purpose", string(purpose)), zap.Error(err))
		return
	}

	detached := context.WithoutCancel(ctx)
	if s.synchronous {
		s.deliver(detached, purpose, msg)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(detached, purpose, msg)
	}()
}

// Wait blocks until background deliveries started so far have finished.
// Send must not be called concurrently with Wait: stop whatever calls Send
// (the HTTP server) before waiting, as runtimeStack.Shutdown does after
// server.Shutdown.
func (s *Sender) Wait() {
	s.inflight.Wait()
}

// Render builds the message for purpose without sending it.
func (s *Sender) Render(user *models.User, purpose token.Purpose, raw string) (mail.Message, error) {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return mail.Message{}, errors.New("notify: recipient email is required")
	}
	cp, ok := s.purposes[purpose]
	if !ok {
		return mail.Message{}, fmt.Errorf("notify: no templates configured for purpose %q", purpose)
	}

	data := RenderContext{
		Link:      joinLink(cp.url, raw),
		Username:  user.Username,
		Email:     user.Email,
		LogoURL:   s.logoURL,
		Signature: s.signature,
		ExpiresIn: formatLifetime(cp.lifetime),
	}

	var subject, plain, html bytes.Buffer
	if err := cp.subject.Execute(&subject, data); err != nil {
		return mail.Message{}, fmt.Errorf("notify: render %s subject: %w", purpose, err)
	}
	if err := cp.plain.Execute(&plain, data); err != nil {
		return mail.Message{}, fmt.Errorf("notify: render %s plain body: %w", purpose, err)
	}
	if err := cp.html.Execute(&html, data); err != nil {
		return mail.Message{}, fmt.Errorf("notify: render %s html body: %w", purpose, err)
	}

	return mail.Message{
		From:    s.from,
		To:      []string{user.Email},
		Subject: strings.TrimSpace(subject.String()),
		Text:    plain.String(),
		HTML:    html.String(),
	}, nil
}

func (s *Sender) deliver(ctx context.Context, purpose token.Purpose, msg mail.Message) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.mailer.Send(ctx, msg)
	switch {
	case err == nil:
		metrics.EmailDeliveries.WithLabelValues(string(purpose), "sent").Inc()
	case errors.Is(err, mail.ErrSMTPDisabled):
		metrics.EmailDeliveries.WithLabelValues(string(purpose), "disabled").Inc()
		s.log.Debug("smtp disabled; notification dropped",
			zap.String("purpose", string(purpose)),
			zap.Strings("to", msg.To))
	default:
		metrics.EmailDeliveries.WithLabelValues(string(purpose), "failed").Inc()
		s.log.Warn("notification delivery failed",
			zap.String("purpose", string(purpose)),
			zap.Strings("to", msg.To),
			zap.Error(err))
	}
}

func compilePurpose(sources []fs.FS, purpose token.Purpose, pc PurposeConfig) (compiledPurpose, error) {
	defaults := DefaultPurposes()[purpose]
	if pc.Subject == "" {
		pc.Subject = defaults.Subject
	}
	if pc.PlainTemplate == "" {
		pc.PlainTemplate = defaults.PlainTemplate
	}
	if pc.HTMLTemplate == "" {
		pc.HTMLTemplate = defaults.HTMLTemplate
	}
	if pc.Lifetime <= 0 {
		pc.Lifetime = token.DefaultLifetime(purpose)
	}
	if pc.PlainTemplate == "" || pc.HTMLTemplate == "" {
		return compiledPurpose{}, fmt.Errorf("notify: purpose %q needs plain and html templates", purpose)
	}

	subject, err := texttemplate.New(string(purpose) + ".subject").Parse(pc.Subject)
	if err != nil {
		return compiledPurpose{}, fmt.Errorf("notify: parse %s subject: %w", purpose, err)
	}

	plainSrc, err := readTemplate(sources, pc.PlainTemplate)
	if err != nil {
		return compiledPurpose{}, err
	}
	plain, err := texttemplate.New(pc.PlainTemplate).Parse(plainSrc)
	if err != nil {
		return compiledPurpose{}, fmt.Errorf("notify: parse %s: %w", pc.PlainTemplate, err)
	}

	htmlSrc, err := readTemplate(sources, pc.HTMLTemplate)
	if err != nil {
		return compiledPurpose{}, err
	}
	html, err := htmltemplate.New(pc.HTMLTemplate).Parse(htmlSrc)
	if err != nil {
		return compiledPurpose{}, fmt.Errorf("notify: parse %s: %w", pc.HTMLTemplate, err)
	}

	return compiledPurpose{
		subject:  subject,
		plain:    plain,
		html:     html,
		url:      strings.TrimSpace(pc.URL),
		lifetime: pc.Lifetime,
	}, nil
}

// templateSources lists the filesystems searched for template files, the
// override directory first.
func templateSources(dir string) []fs.FS {
	embedded, _ := fs.Sub(embeddedTemplates, "templates")
	if dir = strings.TrimSpace(dir); dir == "" {
		return []fs.FS{embedded}
	}
	return []fs.FS{os.DirFS(dir), embedded}
}

func readTemplate(sources []fs.FS, name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "/"))
	for _, source := range sources {
		data, err := fs.ReadFile(source, clean)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("notify: read template %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("notify: template %s not found", name)
}

func joinLink(base, raw string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return raw
	}
	return base + "/" + raw
}

func formatLifetime(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d%(24*time.Hour) == 0:
		return plural(int(d/(24*time.Hour)), "day")
	case d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
