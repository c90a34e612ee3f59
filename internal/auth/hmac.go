// Package auth implements the channel authorization scheme of the Pusher Channels protocol: HMAC-SHA256 signatures
// keyed by an app's secret and identified by its public key.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Signature verification failures. Verify deliberately collapses all of them into an authorization failure at the
// protocol level; the distinct values exist for logging.
var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrKeyMismatch        = errors.New("signature key does not match app key")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// Sign computes the auth token for the given message parts: "<key>:<hex(HMAC-SHA256(secret, join(parts, ":")))>".
// For private channels the parts are (socket_id, channel); presence channels append the channel_data document.
func Sign(key, secret string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, ":")))
	return key + ":" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an auth token against the message parts. The token must have exactly two colon-separated components,
// the first equal to the app key and the second a hex digest that matches in constant time.
func Verify(key, secret, signature string, parts ...string) error {
	components := strings.Split(signature, ":")
	if len(components) != 2 {
		return ErrMalformedSignature
	}
	if components[0] != key {
		return ErrKeyMismatch
	}

	provided, err := hex.DecodeString(components[1])
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, ":")))
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}
