package app

import (
	"time"

	"github.com/charlesng35/tenantauth/internal/auth/token"
	"github.com/charlesng35/tenantauth/internal/notify"
	"github.com/charlesng35/tenantauth/pkg/mail"
)

// SMTPSettings converts EmailConfig to the mail package representation.
func (c EmailConfig) SMTPSettings() mail.SMTPSettings {
	return mail.SMTPSettings{
		Enabled:  c.SMTP.Enabled,
		Host:     c.SMTP.Host,
		Port:     c.SMTP.Port,
		Username: c.SMTP.Username,
		Password: c.SMTP.Password,
		From:     c.SMTP.From,
		UseTLS:   c.SMTP.UseTLS,
		Timeout:  c.SMTP.Timeout,
	}
}

// NotifyConfig builds the account email configuration. Lifetimes are passed
// in so the emails quote the same expiry the tokens carry.
func (c EmailConfig) NotifyConfig(verificationTTL, recoveryTTL time.Duration) notify.Config {
	purposes := notify.DefaultPurposes()
	purposes[token.PurposeAccountVerification] = mergePurpose(purposes[token.PurposeAccountVerification], c.AccountVerification, verificationTTL)
	purposes[token.PurposePasswordRecovery] = mergePurpose(purposes[token.PurposePasswordRecovery], c.PasswordRecovery, recoveryTTL)

	return notify.Config{
		From:        c.SMTP.From,
		LogoURL:     c.Branding.LogoURL,
		Signature:   c.Branding.Signature,
		TemplateDir: c.TemplateDir,
		Purposes:    purposes,
	}
}

func mergePurpose(base notify.PurposeConfig, override EmailPurposeConfig, lifetime time.Duration) notify.PurposeConfig {
	if override.Subject != "" {
		base.Subject = override.Subject
	}
	if override.PlainTemplate != "" {
		base.PlainTemplate = override.PlainTemplate
	}
	if override.HTMLTemplate != "" {
		base.HTMLTemplate = override.HTMLTemplate
	}
	base.URL = override.URL
	if lifetime > 0 {
		base.Lifetime = lifetime
	}
	return base
}
