package app

import "strings"

// minSecretBytes is the shortest signing secret accepted for HMAC tokens.
const minSecretBytes = 32

// SecretByteLength returns the number of key bytes a secret contributes to
// HMAC signing. Secrets are used verbatim, so hex or base64 text counts at
// its encoded length.
func SecretByteLength(value string) int {
	return len(strings.TrimSpace(value))
}
