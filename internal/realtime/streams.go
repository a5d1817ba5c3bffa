package realtime

// StreamAccount carries account lifecycle events to the account owner.
const StreamAccount = "account"

// Account events published on StreamAccount.
const (
	EventAccountSignup   = "account.signup"
	EventActivationSent  = "account.activation_sent"
	EventAccountVerified = "account.verified"
	EventRecoverySent    = "account.recovery_sent"
	EventPasswordChanged = "account.password_changed"
)

const (
	defaultRelayChannel        = "realtime:events"
	relayEnvelopeSchemaVersion = 1
)
