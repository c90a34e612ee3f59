package gateway

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/ripple-rt/ripple-server/internal/auth"
)

// ChannelKind classifies a channel by its name prefix. The set is closed by the protocol.
type ChannelKind int

const (
	ChannelPublic ChannelKind = iota
	ChannelPrivate
	ChannelPresence
)

// KindOf derives the channel kind from its name.
func KindOf(name string) ChannelKind {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return ChannelPresence
	case strings.HasPrefix(name, "private-"):
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

func (k ChannelKind) String() string {
	switch k {
	case ChannelPresence:
		return "presence"
	case ChannelPrivate:
		return "private"
	default:
		return "public"
	}
}

// RequiresAuth reports whether a subscribe to this kind of channel must carry a valid auth token.
func (k ChannelKind) RequiresAuth() bool {
	return k == ChannelPrivate || k == ChannelPresence
}

// verifySubscribeAuth checks a subscribe's auth token against the app credentials. The signed message is
// "<socket_id>:<channel>" for private channels, with the raw channel_data bytes appended as a third part for
// presence channels. The socket id is signed in its dotted wire form.
func verifySubscribeAuth(key, secret string, sid SocketID, p SubscribePayload) error {
	parts := []string{sid.String(), p.Channel}
	if KindOf(p.Channel) == ChannelPresence {
		parts = append(parts, string(p.ChannelData))
	}
	return auth.Verify(key, secret, p.Auth, parts...)
}

// buildPresenceData assembles the roster for a subscription_succeeded frame from the channel's current presence
// state. Ids are sorted for deterministic output.
func buildPresenceData(ns *Namespace, channel string) *PresenceData {
	members := ns.Members(channel)

	data := &PresenceData{
		IDs:   make([]string, 0, len(members)),
		Hash:  make(map[string]json.RawMessage, len(members)),
		Count: len(members),
	}
	for _, rec := range members {
		id := string(rec.UserID)
		if _, seen := data.Hash[id]; !seen {
			data.IDs = append(data.IDs, id)
		}
		data.Hash[id] = rec.UserInfo
	}
	sort.Strings(data.IDs)
	data.Count = len(data.IDs)
	return data
}
