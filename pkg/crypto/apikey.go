package crypto

import (
	"errors"
	"fmt"
	"strings"
)

const (
	apiKeyPrefixBytes = 6
	apiKeySecretBytes = 32
)

// ErrMalformedAPIKey is returned when a presented key is not "<prefix>.<secret>".
var ErrMalformedAPIKey = errors.New("api key: malformed")

// GeneratedAPIKey holds a freshly minted key. Key is shown once; only Prefix
// and Hash are stored.
type GeneratedAPIKey struct {
	Key    string
	Prefix string
	Hash   string
}

// GenerateAPIKey creates a new organization API key of the form
// "<prefix>.<secret>".
func GenerateAPIKey() (GeneratedAPIKey, error) {
	prefix, err := GenerateToken(apiKeyPrefixBytes)
	if err != nil {
		return GeneratedAPIKey{}, fmt.Errorf("api key: generate prefix: %w", err)
	}
	secret, err := GenerateToken(apiKeySecretBytes)
	if err != nil {
		return GeneratedAPIKey{}, fmt.Errorf("api key: generate secret: %w", err)
	}

	key := prefix + "." + secret
	return GeneratedAPIKey{Key: key, Prefix: prefix, Hash: HashToken(key)}, nil
}

// SplitAPIKey returns the lookup prefix of a presented key.
func SplitAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	prefix, secret, ok := strings.Cut(key, ".")
	if !ok || prefix == "" || secret == "" {
		return "", ErrMalformedAPIKey
	}
	return prefix, nil
}
