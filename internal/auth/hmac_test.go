package auth

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

// Literal vector from the Pusher Channels documentation.
const (
	vectorKey       = "278d425bdf160c739803"
	vectorSecret    = "7ad3773142a6692b25b8"
	vectorSignature = "278d425bdf160c739803:58df8b0c36d6982b82c3ecf6b4662e34fe8c25bba48f5369f135bf843651c3a4"
)

func TestVerifyKnownVector(t *testing.T) {
	t.Parallel()

	if err := Verify(vectorKey, vectorSecret, vectorSignature, "1234.1234", "private-foobar"); err != nil {
		t.Fatalf("Verify() error = %v, want nil", err)
	}
}

func TestSignMatchesKnownVector(t *testing.T) {
	t.Parallel()

	got := Sign(vectorKey, vectorSecret, "1234.1234", "private-foobar")
	if got != vectorSignature {
		t.Errorf("Sign() = %q, want %q", got, vectorSignature)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		parts []string
	}{
		{name: "private channel", parts: []string{"9876.54321", "private-chat"}},
		{name: "presence channel", parts: []string{"9876.54321", "presence-room", `{"user_id":"u1","user_info":{"name":"A"}}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig := Sign("somekey", "somesecret", tt.parts...)
			if err := Verify("somekey", "somesecret", sig, tt.parts...); err != nil {
				t.Errorf("Verify() error = %v, want nil", err)
			}
		})
	}
}

func TestVerifyRejectsMutatedDigest(t *testing.T) {
	t.Parallel()

	sig := Sign("key", "secret", "1234.5678", "private-x")
	digest := strings.SplitN(sig, ":", 2)[1]
	raw, err := hex.DecodeString(digest)
	if err != nil {
		t.Fatalf("decode digest: %v", err)
	}

	// Flip one bit per byte position; every mutation must fail verification.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		bad := "key:" + hex.EncodeToString(mutated)
		if err := Verify("key", "secret", bad, "1234.5678", "private-x"); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("Verify(mutated byte %d) error = %v, want ErrInvalidSignature", i, err)
		}
	}
}

func TestVerifyMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		signature string
		wantErr   error
	}{
		{name: "no colon", signature: "deadbeef", wantErr: ErrMalformedSignature},
		{name: "too many parts", signature: "a:b:c", wantErr: ErrMalformedSignature},
		{name: "wrong key", signature: "otherkey:58df8b0c", wantErr: ErrKeyMismatch},
		{name: "bad hex", signature: "key:zzzz", wantErr: ErrMalformedSignature},
		{name: "wrong digest", signature: "key:deadbeef", wantErr: ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Verify("key", "secret", tt.signature, "1234.5678", "private-x")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
