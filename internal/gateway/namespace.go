package gateway

import "sync"

// Outbox is a per-session sink of pre-encoded outbound frames. Send must never block: it reports false when the
// frame was dropped because the session's buffer is full, which marks the session as too slow to keep.
type Outbox interface {
	Send(frame []byte) bool
}

// Namespace is the authoritative in-memory state for one application: the socket registry, channel membership, and
// presence rosters. All mutation happens inside the Hub's serial loop, but each map carries its own RWMutex so HTTP
// introspection and broadcast snapshots read without entering the Hub.
type Namespace struct {
	socketsMu sync.RWMutex
	sockets   map[SocketID]Outbox

	channelsMu sync.RWMutex
	channels   map[string]map[SocketID]struct{}

	presenceMu sync.RWMutex
	presence   map[string]map[SocketID]*PresenceRecord
}

// NewNamespace creates an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{
		sockets:  make(map[SocketID]Outbox),
		channels: make(map[string]map[SocketID]struct{}),
		presence: make(map[string]map[SocketID]*PresenceRecord),
	}
}

// AddSocket registers a connected session's outbox.
func (ns *Namespace) AddSocket(id SocketID, out Outbox) {
	ns.socketsMu.Lock()
	defer ns.socketsMu.Unlock()
	ns.sockets[id] = out
}

// RemoveSocket removes a session from the registry. Channel membership must already be cleaned up.
func (ns *Namespace) RemoveSocket(id SocketID) {
	ns.socketsMu.Lock()
	defer ns.socketsMu.Unlock()
	delete(ns.sockets, id)
}

// Socket returns the outbox for a connected session.
func (ns *Namespace) Socket(id SocketID) (Outbox, bool) {
	ns.socketsMu.RLock()
	defer ns.socketsMu.RUnlock()
	out, ok := ns.sockets[id]
	return out, ok
}

// HasSocket reports whether the session is registered.
func (ns *Namespace) HasSocket(id SocketID) bool {
	_, ok := ns.Socket(id)
	return ok
}

// SocketCount returns the number of connected sessions.
func (ns *Namespace) SocketCount() int {
	ns.socketsMu.RLock()
	defer ns.socketsMu.RUnlock()
	return len(ns.sockets)
}

// ChannelsFor returns every channel the session is a member of.
func (ns *Namespace) ChannelsFor(id SocketID) []string {
	ns.channelsMu.RLock()
	defer ns.channelsMu.RUnlock()

	var channels []string
	for name, members := range ns.channels {
		if _, ok := members[id]; ok {
			channels = append(channels, name)
		}
	}
	return channels
}

// IsMember reports whether the session is subscribed to the channel.
func (ns *Namespace) IsMember(id SocketID, channel string) bool {
	ns.channelsMu.RLock()
	defer ns.channelsMu.RUnlock()
	_, ok := ns.channels[channel][id]
	return ok
}

// AddToChannel inserts the session into the channel, creating the channel entry on first subscribe. For presence
// channels rec carries the member's identity. Re-subscribing an existing member is a no-op; added reports whether
// the membership is new and count is the post-insert cardinality.
func (ns *Namespace) AddToChannel(id SocketID, channel string, rec *PresenceRecord) (count int, added bool) {
	ns.channelsMu.Lock()
	members, ok := ns.channels[channel]
	if !ok {
		members = make(map[SocketID]struct{})
		ns.channels[channel] = members
	}
	if _, exists := members[id]; exists {
		count = len(members)
		ns.channelsMu.Unlock()
		return count, false
	}
	members[id] = struct{}{}
	count = len(members)
	ns.channelsMu.Unlock()

	if rec != nil {
		ns.presenceMu.Lock()
		roster, ok := ns.presence[channel]
		if !ok {
			roster = make(map[SocketID]*PresenceRecord)
			ns.presence[channel] = roster
		}
		roster[id] = rec
		ns.presenceMu.Unlock()
	}
	return count, true
}

// RemoveFromChannel removes the session from the channel, deleting the channel entry (and any presence roster) when
// the last member leaves. It reports whether the session was a member.
func (ns *Namespace) RemoveFromChannel(id SocketID, channel string) bool {
	ns.channelsMu.Lock()
	members, ok := ns.channels[channel]
	removed := false
	if ok {
		if _, removed = members[id]; removed {
			delete(members, id)
		}
		if len(members) == 0 {
			delete(ns.channels, channel)
		}
	}
	ns.channelsMu.Unlock()

	if removed {
		ns.removePresence(id, channel)
	}
	return removed
}

func (ns *Namespace) removePresence(id SocketID, channel string) {
	ns.presenceMu.Lock()
	defer ns.presenceMu.Unlock()
	roster, ok := ns.presence[channel]
	if !ok {
		return
	}
	delete(roster, id)
	if len(roster) == 0 {
		delete(ns.presence, channel)
	}
}

// PresenceFor returns the presence record the session joined the channel with, or nil for non-members and
// non-presence channels.
func (ns *Namespace) PresenceFor(id SocketID, channel string) *PresenceRecord {
	ns.presenceMu.RLock()
	defer ns.presenceMu.RUnlock()
	return ns.presence[channel][id]
}

// Members returns a copy of the presence roster. Non-presence channels yield an empty map.
func (ns *Namespace) Members(channel string) map[SocketID]*PresenceRecord {
	ns.presenceMu.RLock()
	defer ns.presenceMu.RUnlock()

	roster := make(map[SocketID]*PresenceRecord, len(ns.presence[channel]))
	for id, rec := range ns.presence[channel] {
		roster[id] = rec
	}
	return roster
}

// MemberCount returns the number of sessions subscribed to the channel.
func (ns *Namespace) MemberCount(channel string) int {
	ns.channelsMu.RLock()
	defer ns.channelsMu.RUnlock()
	return len(ns.channels[channel])
}

// ChannelSockets snapshots the outboxes of every channel member. The snapshot is taken under read locks and released
// before any sends, so slow consumers never stall the namespace.
func (ns *Namespace) ChannelSockets(channel string) map[SocketID]Outbox {
	ns.channelsMu.RLock()
	members := make([]SocketID, 0, len(ns.channels[channel]))
	for id := range ns.channels[channel] {
		members = append(members, id)
	}
	ns.channelsMu.RUnlock()

	ns.socketsMu.RLock()
	defer ns.socketsMu.RUnlock()

	snapshot := make(map[SocketID]Outbox, len(members))
	for _, id := range members {
		if out, ok := ns.sockets[id]; ok {
			snapshot[id] = out
		}
	}
	return snapshot
}

// ChannelNames returns every channel that currently has at least one member.
func (ns *Namespace) ChannelNames() []string {
	ns.channelsMu.RLock()
	defer ns.channelsMu.RUnlock()

	names := make([]string, 0, len(ns.channels))
	for name := range ns.channels {
		names = append(names, name)
	}
	return names
}
