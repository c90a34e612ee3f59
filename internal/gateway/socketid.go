package gateway

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidSocketID is returned when a wire-format socket id cannot be parsed.
var ErrInvalidSocketID = errors.New("invalid socket id")

// SocketID identifies a single connected session within the process. On the wire it is rendered as the decimal
// integer with a dot inserted after the fourth digit ("1234.5678"), the form Pusher client libraries expect.
type SocketID uint64

// minSocketID keeps generated ids at five decimal digits minimum so the dotted rendering is always well formed.
const minSocketID = 10000

// NewSocketID returns a random socket id. Ids below five decimal digits are re-drawn; collision handling is the
// caller's responsibility.
func NewSocketID() SocketID {
	var buf [8]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			panic("gateway: crypto/rand unavailable: " + err.Error())
		}
		id := binary.BigEndian.Uint64(buf[:])
		if id >= minSocketID {
			return SocketID(id)
		}
	}
}

// String renders the id in its dotted wire form.
func (id SocketID) String() string {
	s := strconv.FormatUint(uint64(id), 10)
	return s[:4] + "." + s[4:]
}

// ParseSocketID reads a socket id from either the dotted wire form or a plain decimal integer.
func ParseSocketID(s string) (SocketID, error) {
	id, err := strconv.ParseUint(strings.ReplaceAll(s, ".", ""), 10, 64)
	if err != nil || id < minSocketID {
		return 0, ErrInvalidSocketID
	}
	return SocketID(id), nil
}
