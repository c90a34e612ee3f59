// Package app holds the application tenant model: every channel, session, and event is partitioned by an App, which
// carries the key/secret pair clients authenticate channel subscriptions against.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors for the app package.
var (
	ErrNotFound   = errors.New("app not found")
	ErrNameLength = errors.New("app name must be between 1 and 100 characters")
)

// App is a logical tenant. Key is the public 24-character identifier embedded in auth signatures; Secret is the
// 32-hex-char HMAC key and must never leave the server except through the admin API.
type App struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository defines the data-access contract for apps.
type Repository interface {
	FindByID(ctx context.Context, id int64) (*App, error)
	FindByKey(ctx context.Context, key string) (*App, error)
	List(ctx context.Context) ([]App, error)
	Insert(ctx context.Context, name string) (*App, error)
	Delete(ctx context.Context, id int64) error
}

// ValidateName trims and length-checks an app name.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateKey returns a random 24-character alphanumeric public key.
func GenerateKey() string {
	var b strings.Builder
	b.Grow(24)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := 0; i < 24; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("app: crypto/rand unavailable: " + err.Error())
		}
		b.WriteByte(keyAlphabet[n.Int64()])
	}
	return b.String()
}

// GenerateSecret returns 16 random bytes hex-encoded (32 characters).
func GenerateSecret() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("app: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}
