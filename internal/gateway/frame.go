package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Protocol event names. The pusher: and pusher_internal: prefixes are fixed by the Pusher Channels wire protocol.
const (
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventSubscriptionError     = "pusher:subscription_error"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	EventMemberAdded           = "pusher_internal:member_added"
	EventMemberRemoved         = "pusher_internal:member_removed"
)

// ClientEventPrefix marks events originated by clients and fanned out verbatim to channel members.
const ClientEventPrefix = "client-"

// ClientFrame is the envelope of every inbound text frame.
type ClientFrame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Channel string          `json:"channel"`
}

// ParseClientFrame decodes an inbound text frame.
func ParseClientFrame(raw []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode client frame: %w", err)
	}
	return &f, nil
}

// DecodeData unmarshals a frame's data field into v. Pusher client libraries send data either as an inline JSON
// object or as a JSON-encoded string containing the object; both forms are accepted.
func DecodeData(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty data field")
	}
	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return fmt.Errorf("decode nested data string: %w", err)
		}
		trimmed = []byte(inner)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("decode data payload: %w", err)
	}
	return nil
}

// NestedJSON holds a JSON document that may arrive either inline or wrapped in a JSON string. The decoded bytes are
// preserved exactly as received: for presence channels these bytes are what the auth signature covers, so they must
// not be re-serialized.
type NestedJSON []byte

// UnmarshalJSON keeps the inner bytes when the value is a JSON string, or the raw bytes otherwise.
func (n *NestedJSON) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return err
		}
		*n = NestedJSON(inner)
		return nil
	}
	*n = NestedJSON(trimmed)
	return nil
}

// SubscribePayload is the data of a pusher:subscribe frame.
type SubscribePayload struct {
	Channel     string     `json:"channel"`
	Auth        string     `json:"auth"`
	ChannelData NestedJSON `json:"channel_data"`
}

// UnsubscribePayload is the data of a pusher:unsubscribe frame.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// FlexibleID is a presence user_id that clients may send as a JSON string or number; it is canonicalized to a string.
type FlexibleID string

// UnmarshalJSON accepts both string and numeric forms.
func (f *FlexibleID) UnmarshalJSON(raw []byte) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return err
	}
	*f = FlexibleID(num.String())
	return nil
}

// PresenceRecord is the member identity carried in a presence channel's channel_data.
type PresenceRecord struct {
	UserID   FlexibleID      `json:"user_id"`
	UserInfo json.RawMessage `json:"user_info"`
}

// ParsePresenceRecord decodes the channel_data document of a presence subscribe.
func ParsePresenceRecord(data []byte) (*PresenceRecord, error) {
	var rec PresenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode channel_data: %w", err)
	}
	if rec.UserID == "" {
		return nil, fmt.Errorf("channel_data missing user_id")
	}
	return &rec, nil
}

// serverFrame is the envelope of every outbound text frame.
type serverFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data"`
}

// stringify marshals v and wraps the result in a JSON string, the double-encoded form Pusher clients expect for
// event payloads.
func stringify(v any) (json.RawMessage, error) {
	inner, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

// stringifyRaw wraps an already-encoded JSON document in a JSON string. Documents that are themselves strings pass
// through untouched so publisher-supplied string data is not double-wrapped.
func stringifyRaw(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return trimmed, nil
	}
	return json.Marshal(string(trimmed))
}

// NewConnectionEstablishedFrame builds the first frame of every accepted connection.
func NewConnectionEstablishedFrame(id SocketID, activityTimeout int) ([]byte, error) {
	data, err := stringify(struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}{SocketID: id.String(), ActivityTimeout: activityTimeout})
	if err != nil {
		return nil, fmt.Errorf("marshal connection_established data: %w", err)
	}
	return json.Marshal(serverFrame{Event: EventConnectionEstablished, Data: data})
}

// NewPongFrame builds the reply to a pusher:ping.
func NewPongFrame() ([]byte, error) {
	return json.Marshal(serverFrame{Event: EventPong, Data: json.RawMessage("{}")})
}

// PresenceData is the roster embedded in a presence channel's subscription_succeeded frame.
type PresenceData struct {
	IDs   []string                   `json:"ids"`
	Hash  map[string]json.RawMessage `json:"hash"`
	Count int                        `json:"count"`
}

// NewSubscriptionSucceededFrame builds the acknowledgement sent to a subscriber. presence is nil for public and
// private channels, yielding the literal "{}" data payload.
func NewSubscriptionSucceededFrame(channel string, presence *PresenceData) ([]byte, error) {
	var (
		data json.RawMessage
		err  error
	)
	if presence == nil {
		data, err = stringify(struct{}{})
	} else {
		data, err = stringify(struct {
			Presence *PresenceData `json:"presence"`
		}{Presence: presence})
	}
	if err != nil {
		return nil, fmt.Errorf("marshal subscription_succeeded data: %w", err)
	}
	return json.Marshal(serverFrame{Event: EventSubscriptionSucceeded, Channel: channel, Data: data})
}

// NewMemberAddedFrame builds the join notification for a presence channel. channelData carries the exact bytes the
// joiner's signature was verified against.
func NewMemberAddedFrame(channel string, channelData []byte) ([]byte, error) {
	data, err := json.Marshal(string(channelData))
	if err != nil {
		return nil, fmt.Errorf("marshal member_added data: %w", err)
	}
	return json.Marshal(serverFrame{Event: EventMemberAdded, Channel: channel, Data: data})
}

// NewMemberRemovedFrame builds the leave notification for a presence channel.
func NewMemberRemovedFrame(channel, userID string) ([]byte, error) {
	data, err := json.Marshal(struct {
		UserID string `json:"user_id"`
	}{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("marshal member_removed data: %w", err)
	}
	return json.Marshal(serverFrame{Event: EventMemberRemoved, Channel: channel, Data: data})
}

// NewBroadcastFrame builds a fan-out frame for a published or client-originated event.
func NewBroadcastFrame(channel, event string, data json.RawMessage) ([]byte, error) {
	wrapped, err := stringifyRaw(data)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast data: %w", err)
	}
	return json.Marshal(serverFrame{Event: event, Channel: channel, Data: wrapped})
}

// NewErrorFrame builds a pusher:error frame. A zero code omits the code field, matching errors that have no
// associated close code.
func NewErrorFrame(code int, message string) ([]byte, error) {
	data, err := json.Marshal(struct {
		Message string `json:"message"`
		Code    int    `json:"code,omitempty"`
	}{Message: message, Code: code})
	if err != nil {
		return nil, fmt.Errorf("marshal error data: %w", err)
	}
	return json.Marshal(serverFrame{Event: EventError, Data: data})
}

// NewSubscriptionErrorFrame builds the per-subscription auth failure frame. The connection survives; only the
// subscribe attempt is rejected.
func NewSubscriptionErrorFrame() ([]byte, error) {
	data, err := json.Marshal(struct {
		Type   string `json:"type"`
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{Type: "AuthError", Error: "Not authorized", Status: 403})
	if err != nil {
		return nil, fmt.Errorf("marshal subscription_error data: %w", err)
	}
	return json.Marshal(serverFrame{Event: EventSubscriptionError, Data: data})
}
