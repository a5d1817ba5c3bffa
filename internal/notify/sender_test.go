package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tenantauth/internal/auth/token"
	"github.com/charlesng35/tenantauth/internal/models"
	"github.com/charlesng35/tenantauth/pkg/mail"
)

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	ctxErrs  []error
	err      error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.err
}

func (m *recordingMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

func testConfig() Config {
	purposes := DefaultPurposes()
	verification := purposes[token.PurposeAccountVerification]
	verification.URL = "https://app.example.com/activate/"
	purposes[token.PurposeAccountVerification] = verification

	recovery := purposes[token.PurposePasswordRecovery]
	recovery.URL = "https://app.example.com/recover"
	purposes[token.PurposePasswordRecovery] = recovery

	return Config{
		From:      "no-reply@example.com",
		LogoURL:   "https://cdn.example.com/logo.png",
		Signature: "The Example Team",
		Purposes:  purposes,
	}
}

func TestRenderVerificationEmail(t *testing.T) {
	sender, err := NewSender(&recordingMailer{}, testConfig())
	require.NoError(t, err)

	user := &models.User{Username: "alice", Email: "alice@example.com"}
	msg, err := sender.Render(user, token.PurposeAccountVerification, "tok.en.value")
	require.NoError(t, err)

	require.Equal(t, "no-reply@example.com", msg.From)
	require.Equal(t, []string{"alice@example.com"}, msg.To)
	require.Equal(t, "Verify your account alice", msg.Subject)
	require.Contains(t, msg.Text, "https://app.example.com/activate/tok.en.value")
	require.Contains(t, msg.Text, "1 day")
	require.Contains(t, msg.Text, "The Example Team")
	require.Contains(t, msg.HTML, `href="https://app.example.com/activate/tok.en.value"`)
	require.Contains(t, msg.HTML, "https://cdn.example.com/logo.png")
}

func TestRenderRecoveryEscapesHTML(t *testing.T) {
	sender, err := NewSender(&recordingMailer{}, testConfig())
	require.NoError(t, err)

	user := &models.User{Username: "<b>bob</b>", Email: "bob@example.com"}
	msg, err := sender.Render(user, token.PurposePasswordRecovery, "abc")
	require.NoError(t, err)

	require.Equal(t, "Recovery your password <b>bob</b>", msg.Subject)
	require.Contains(t, msg.Text, "15 minutes")
	require.Contains(t, msg.Text, "https://app.example.com/recover/abc")
	require.NotContains(t, msg.HTML, "<b>bob</b>")
	require.Contains(t, msg.HTML, "&lt;b&gt;bob&lt;/b&gt;")
}

func TestRenderRejectsUnknownPurposeAndRecipient(t *testing.T) {
	sender, err := NewSender(&recordingMailer{}, testConfig())
	require.NoError(t, err)

	_, err = sender.Render(&models.User{Email: "a@example.com"}, token.Purpose("other"), "x")
	require.Error(t, err)

	_, err = sender.Render(&models.User{}, token.PurposeAccountVerification, "x")
	require.Error(t, err)
}

func TestSendSynchronous(t *testing.T) {
	mailer := &recordingMailer{}
	sender, err := NewSender(mailer, testConfig(), WithSynchronousDelivery())
	require.NoError(t, err)

	sender.Send(context.Background(), &models.User{Username: "alice", Email: "alice@example.com"}, token.PurposeAccountVerification, "t")
	require.Len(t, mailer.sent(), 1)
}

func TestSendOutlivesRequestContext(t *testing.T) {
	mailer := &recordingMailer{}
	sender, err := NewSender(mailer, testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender.Send(ctx, &models.User{Username: "alice", Email: "alice@example.com"}, token.PurposePasswordRecovery, "t")
	sender.Wait()

	require.Len(t, mailer.sent(), 1)
	require.NoError(t, mailer.ctxErrs[0])
}

func TestSendSwallowsDeliveryErrors(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	sender, err := NewSender(mailer, testConfig(), WithSynchronousDelivery())
	require.NoError(t, err)

	require.NotPanics(t, func() {
		sender.Send(context.Background(), &models.User{Username: "a", Email: "a@example.com"}, token.PurposeAccountVerification, "t")
	})

	mailer.err = mail.ErrSMTPDisabled
	sender.Send(context.Background(), &models.User{Username: "a", Email: "a@example.com"}, token.PurposeAccountVerification, "t")
	require.Len(t, mailer.sent(), 2)
}

func TestTemplateDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "account_verification.txt"), []byte("custom {{ .Link }}"), 0o600))

	cfg := testConfig()
	cfg.TemplateDir = dir
	sender, err := NewSender(&recordingMailer{}, cfg)
	require.NoError(t, err)

	msg, err := sender.Render(&models.User{Username: "a", Email: "a@example.com"}, token.PurposeAccountVerification, "xyz")
	require.NoError(t, err)
	require.Equal(t, "custom https://app.example.com/activate/xyz", msg.Text)
	require.Contains(t, msg.HTML, "Verify my account")
}

func TestNewSenderFailsOnBrokenTemplates(t *testing.T) {
	cfg := testConfig()
	verification := cfg.Purposes[token.PurposeAccountVerification]
	verification.Subject = "{{ .Username"
	cfg.Purposes[token.PurposeAccountVerification] = verification
	_, err := NewSender(&recordingMailer{}, cfg)
	require.Error(t, err)

	cfg = testConfig()
	recovery := cfg.Purposes[token.PurposePasswordRecovery]
	recovery.PlainTemplate = "missing.txt"
	cfg.Purposes[token.PurposePasswordRecovery] = recovery
	_, err = NewSender(&recordingMailer{}, cfg)
	require.Error(t, err)

	_, err = NewSender(nil, testConfig())
	require.Error(t, err)
}

func TestFormatLifetime(t *testing.T) {
	require.Equal(t, "1 day", formatLifetime(24*time.Hour))
	require.Equal(t, "2 days", formatLifetime(48*time.Hour))
	require.Equal(t, "3 hours", formatLifetime(3*time.Hour))
	require.Equal(t, "1 minute", formatLifetime(time.Minute))
	require.Equal(t, "1m30s", formatLifetime(90*time.Second))
}
