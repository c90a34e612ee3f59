package gateway

import (
	"sort"
	"testing"
)

func TestNamespaceSocketLifecycle(t *testing.T) {
	t.Parallel()
	ns := NewNamespace()

	out := newFakeOutbox()
	ns.AddSocket(10001, out)

	if !ns.HasSocket(10001) {
		t.Error("HasSocket(10001) = false, want true")
	}
	if got, ok := ns.Socket(10001); !ok || got != out {
		t.Errorf("Socket(10001) = %v, %v, want registered outbox", got, ok)
	}
	if got := ns.SocketCount(); got != 1 {
		t.Errorf("SocketCount() = %d, want 1", got)
	}

	ns.RemoveSocket(10001)
	if ns.HasSocket(10001) {
		t.Error("HasSocket(10001) = true after removal, want false")
	}
	if got := ns.SocketCount(); got != 0 {
		t.Errorf("SocketCount() = %d, want 0", got)
	}
}

func TestNamespaceChannelMembership(t *testing.T) {
	t.Parallel()
	ns := NewNamespace()
	ns.AddSocket(10001, newFakeOutbox())
	ns.AddSocket(10002, newFakeOutbox())

	if count, added := ns.AddToChannel(10001, "orders", nil); count != 1 || !added {
		t.Errorf("AddToChannel() = (%d, %v), want (1, true)", count, added)
	}
	// Joining twice is idempotent.
	if count, added := ns.AddToChannel(10001, "orders", nil); count != 1 || added {
		t.Errorf("repeat AddToChannel() = (%d, %v), want (1, false)", count, added)
	}
	if count, added := ns.AddToChannel(10002, "orders", nil); count != 2 || !added {
		t.Errorf("AddToChannel() = (%d, %v), want (2, true)", count, added)
	}

	if !ns.IsMember(10001, "orders") {
		t.Error("IsMember(10001) = false, want true")
	}
	if got := ns.ChannelsFor(10001); len(got) != 1 || got[0] != "orders" {
		t.Errorf("ChannelsFor(10001) = %v, want [orders]", got)
	}

	if !ns.RemoveFromChannel(10001, "orders") {
		t.Error("RemoveFromChannel(10001) = false, want true")
	}
	if ns.RemoveFromChannel(10001, "orders") {
		t.Error("repeat RemoveFromChannel(10001) = true, want false")
	}
	if ns.IsMember(10001, "orders") {
		t.Error("IsMember(10001) = true after removal, want false")
	}

	// The channel disappears when its last member leaves.
	if !ns.RemoveFromChannel(10002, "orders") {
		t.Error("RemoveFromChannel(10002) = false, want true")
	}
	if got := ns.ChannelNames(); len(got) != 0 {
		t.Errorf("ChannelNames() = %v, want empty", got)
	}
}

func TestNamespacePresence(t *testing.T) {
	t.Parallel()
	ns := NewNamespace()
	ns.AddSocket(10001, newFakeOutbox())
	ns.AddSocket(10002, newFakeOutbox())

	alice := &PresenceRecord{UserID: "alice"}
	bob := &PresenceRecord{UserID: "bob"}
	ns.AddToChannel(10001, "presence-room", alice)
	ns.AddToChannel(10002, "presence-room", bob)

	if got := ns.PresenceFor(10001, "presence-room"); got == nil || got.UserID != "alice" {
		t.Errorf("PresenceFor(10001) = %v, want alice", got)
	}
	if got := ns.MemberCount("presence-room"); got != 2 {
		t.Errorf("MemberCount() = %d, want 2", got)
	}

	members := ns.Members("presence-room")
	if len(members) != 2 {
		t.Fatalf("len(Members()) = %d, want 2", len(members))
	}

	ns.RemoveFromChannel(10001, "presence-room")
	if got := ns.PresenceFor(10001, "presence-room"); got != nil {
		t.Errorf("PresenceFor(10001) = %v after leave, want nil", got)
	}
	if got := ns.MemberCount("presence-room"); got != 1 {
		t.Errorf("MemberCount() = %d, want 1", got)
	}

	// Presence state for the channel goes away with the last member.
	ns.RemoveFromChannel(10002, "presence-room")
	if got := ns.MemberCount("presence-room"); got != 0 {
		t.Errorf("MemberCount() = %d, want 0", got)
	}
}

func TestNamespaceRemoveSocketKeepsChannels(t *testing.T) {
	t.Parallel()
	ns := NewNamespace()
	ns.AddSocket(10001, newFakeOutbox())
	ns.AddToChannel(10001, "a", nil)
	ns.AddToChannel(10001, "b", nil)

	channels := ns.ChannelsFor(10001)
	sort.Strings(channels)
	if len(channels) != 2 || channels[0] != "a" || channels[1] != "b" {
		t.Errorf("ChannelsFor(10001) = %v, want [a b]", channels)
	}
}

func TestNamespaceChannelSocketsSnapshot(t *testing.T) {
	t.Parallel()
	ns := NewNamespace()
	out1 := newFakeOutbox()
	out2 := newFakeOutbox()
	ns.AddSocket(10001, out1)
	ns.AddSocket(10002, out2)
	ns.AddToChannel(10001, "orders", nil)
	ns.AddToChannel(10002, "orders", nil)

	snapshot := ns.ChannelSockets("orders")
	if len(snapshot) != 2 {
		t.Fatalf("len(ChannelSockets()) = %d, want 2", len(snapshot))
	}
	if snapshot[10001] != out1 || snapshot[10002] != out2 {
		t.Error("ChannelSockets() returned wrong outboxes")
	}

	// Mutating the namespace afterwards must not affect the snapshot.
	ns.RemoveFromChannel(10002, "orders")
	if len(snapshot) != 2 {
		t.Errorf("snapshot len = %d after mutation, want 2", len(snapshot))
	}
}
