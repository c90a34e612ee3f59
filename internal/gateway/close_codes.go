package gateway

import "errors"

// Close codes defined by the Pusher Channels protocol. 4000–4099 mean the client should not reconnect with the same
// parameters, 4100–4199 mean reconnect after backoff, 4200–4299 mean reconnect immediately.
const (
	CloseAppRequiresSSL             = 4000
	CloseAppNotFound                = 4001
	CloseAppDisabled                = 4003
	CloseOverQuota                  = 4004
	ClosePathNotFound               = 4005
	CloseInvalidVersion             = 4006
	CloseUnsupportedProtocolVersion = 4007
	CloseNoProtocolVersion          = 4008
	CloseUnauthorized               = 4009
	CloseOverCapacity               = 4100
	CloseGenericReconnect           = 4200
	ClosePongNotReceived            = 4201
	CloseClosedAfterInactivity      = 4202
	CloseExceededRateLimit          = 4301
)

// Sentinel errors for gateway failure modes. Each maps to a close code above.
var (
	ErrAppNotFound    = errors.New("app key does not exist")
	ErrOverCapacity   = errors.New("connection limit reached")
	ErrNotAuthorized  = errors.New("not authorized")
	ErrUnknownChannel = errors.New("unknown channel")
)

// closeMessage is the human-readable text paired with a close code in pusher:error frames.
func closeMessage(code int) string {
	switch code {
	case CloseAppRequiresSSL:
		return "Application only accepts SSL connections"
	case CloseAppNotFound:
		return "App key does not exist"
	case CloseAppDisabled:
		return "Application disabled"
	case CloseOverQuota:
		return "Application is over connection quota"
	case ClosePathNotFound:
		return "Path not found"
	case CloseInvalidVersion:
		return "Invalid version string format"
	case CloseUnsupportedProtocolVersion:
		return "Unsupported protocol version"
	case CloseNoProtocolVersion:
		return "No protocol version supplied"
	case CloseUnauthorized:
		return "Connection is unauthorized"
	case CloseOverCapacity:
		return "Over capacity"
	case CloseGenericReconnect:
		return "Generic reconnect immediately"
	case ClosePongNotReceived:
		return "Pong reply not received"
	case CloseClosedAfterInactivity:
		return "Closed after inactivity"
	case CloseExceededRateLimit:
		return "Client event rejected due to rate limit"
	default:
		return "Unknown error"
	}
}
