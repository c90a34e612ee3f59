// Package gateway implements the realtime core: the per-connection protocol machine, the Hub dispatcher, the per-app
// Namespace state, and the channel subscribe policy of the Pusher Channels wire protocol.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ripple-rt/ripple-server/internal/app"
	"github.com/ripple-rt/ripple-server/internal/config"
)

// commandBuffer bounds the Hub's input queue. Sessions posting into a full queue block briefly rather than drop.
const commandBuffer = 256

// Hub is the process-wide dispatcher. All state mutation (connect, disconnect, subscribe, unsubscribe, fan-out) is
// serialized through a single command loop, which makes per-channel membership transitions linearizable without
// per-channel locking. App lookups happen in the calling goroutine so the loop only ever touches in-memory state.
type Hub struct {
	apps app.Repository
	cfg  *config.Config
	log  zerolog.Logger

	commands chan command

	nsMu       sync.RWMutex
	namespaces map[int64]*Namespace
}

// NewHub creates a new hub. Run must be started before any session connects.
func NewHub(apps app.Repository, cfg *config.Config, logger zerolog.Logger) *Hub {
	return &Hub{
		apps:       apps,
		cfg:        cfg,
		log:        logger.With().Str("component", "gateway").Logger(),
		commands:   make(chan command, commandBuffer),
		namespaces: make(map[int64]*Namespace),
	}
}

// Run consumes and executes hub commands until the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.log.Info().Msg("Gateway hub running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-h.commands:
			cmd.execute(h)
		}
	}
}

// Namespace returns the state aggregate for an app, creating it lazily on first reference. Namespaces live for the
// process lifetime.
func (h *Hub) Namespace(appID int64) *Namespace {
	h.nsMu.RLock()
	ns, ok := h.namespaces[appID]
	h.nsMu.RUnlock()
	if ok {
		return ns
	}

	h.nsMu.Lock()
	defer h.nsMu.Unlock()
	if ns, ok = h.namespaces[appID]; !ok {
		ns = NewNamespace()
		h.namespaces[appID] = ns
	}
	return ns
}

// ConnectionCount returns the number of connected sessions across all apps.
func (h *Hub) ConnectionCount() int {
	h.nsMu.RLock()
	defer h.nsMu.RUnlock()

	total := 0
	for _, ns := range h.namespaces {
		total += ns.SocketCount()
	}
	return total
}

// command is a unit of work executed inside the hub's serial loop.
type command interface {
	execute(h *Hub)
}

type connectResult struct {
	sid SocketID
	err error
}

type connectCmd struct {
	appID int64
	out   Outbox
	reply chan connectResult
}

type disconnectCmd struct {
	appID int64
	sid   SocketID
}

type subscribeCmd struct {
	app     *app.App
	sid     SocketID
	payload SubscribePayload
}

type unsubscribeCmd struct {
	appID   int64
	sid     SocketID
	channel string
}

type clientEventCmd struct {
	appID   int64
	sid     SocketID
	channel string
	event   string
	data    json.RawMessage
}

type publishCmd struct {
	appID    int64
	channels []string
	event    string
	data     json.RawMessage
	except   SocketID // 0 means no exclusion
}

// Connect registers a session's outbox under a fresh socket id. It resolves the app in the calling goroutine and
// fails with ErrAppNotFound (close code 4001) for unknown apps or ErrOverCapacity (4100) at the connection limit.
func (h *Hub) Connect(ctx context.Context, appID int64, out Outbox) (SocketID, error) {
	if _, err := h.resolveApp(ctx, appID); err != nil {
		return 0, err
	}

	reply := make(chan connectResult, 1)
	h.commands <- &connectCmd{appID: appID, out: out, reply: reply}
	res := <-reply
	return res.sid, res.err
}

// Disconnect removes the session from every channel it joined, notifies remaining presence members, and drops the
// socket. Safe to call more than once.
func (h *Hub) Disconnect(appID int64, sid SocketID) {
	h.commands <- &disconnectCmd{appID: appID, sid: sid}
}

// Subscribe processes a pusher:subscribe. The app is resolved here so the credentials travel with the command.
func (h *Hub) Subscribe(ctx context.Context, appID int64, sid SocketID, p SubscribePayload) error {
	a, err := h.resolveApp(ctx, appID)
	if err != nil {
		return err
	}
	h.commands <- &subscribeCmd{app: a, sid: sid, payload: p}
	return nil
}

// Unsubscribe processes a pusher:unsubscribe. Like Subscribe, it resolves the app first so events for an app deleted
// mid-session are refused instead of executed.
func (h *Hub) Unsubscribe(ctx context.Context, appID int64, sid SocketID, channel string) error {
	if _, err := h.resolveApp(ctx, appID); err != nil {
		return err
	}
	h.commands <- &unsubscribeCmd{appID: appID, sid: sid, channel: channel}
	return nil
}

// ClientEvent fans a client-* event out to every other member of the channel. There is no persistence and no ack.
// The app is resolved first; events for an app deleted mid-session are refused.
func (h *Hub) ClientEvent(ctx context.Context, appID int64, sid SocketID, channel, event string, data json.RawMessage) error {
	if _, err := h.resolveApp(ctx, appID); err != nil {
		return err
	}
	h.commands <- &clientEventCmd{appID: appID, sid: sid, channel: channel, event: event, data: data}
	return nil
}

// Publish fans an HTTP-published event out to the given channels, skipping the excluded socket id if non-zero.
// Unknown channels are silently skipped.
func (h *Hub) Publish(appID int64, channels []string, event string, data json.RawMessage, except SocketID) {
	h.commands <- &publishCmd{appID: appID, channels: channels, event: event, data: data, except: except}
}

func (h *Hub) resolveApp(ctx context.Context, appID int64) (*app.App, error) {
	a, err := h.apps.FindByID(ctx, appID)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			return nil, ErrAppNotFound
		}
		return nil, err
	}
	return a, nil
}

func (c *connectCmd) execute(h *Hub) {
	if max := h.cfg.GatewayMaxConnections; max > 0 && h.ConnectionCount() >= max {
		c.reply <- connectResult{err: ErrOverCapacity}
		return
	}

	ns := h.Namespace(c.appID)
	sid := NewSocketID()
	for ns.HasSocket(sid) {
		sid = NewSocketID()
	}
	ns.AddSocket(sid, c.out)

	h.log.Debug().Int64("app_id", c.appID).Stringer("socket_id", sid).Msg("Session connected")
	c.reply <- connectResult{sid: sid}
}

func (c *disconnectCmd) execute(h *Hub) {
	ns := h.Namespace(c.appID)
	if !ns.HasSocket(c.sid) {
		return
	}

	// Remove membership before notifying, so the leaver never receives its own member_removed.
	for _, channel := range ns.ChannelsFor(c.sid) {
		h.leaveChannel(ns, c.sid, channel)
	}
	ns.RemoveSocket(c.sid)

	h.log.Debug().Int64("app_id", c.appID).Stringer("socket_id", c.sid).Msg("Session disconnected")
}

// leaveChannel removes one membership and emits member_removed to the remaining presence members.
func (h *Hub) leaveChannel(ns *Namespace, sid SocketID, channel string) {
	rec := ns.PresenceFor(sid, channel)
	if !ns.RemoveFromChannel(sid, channel) {
		return
	}
	if KindOf(channel) != ChannelPresence || rec == nil {
		return
	}

	frame, err := NewMemberRemovedFrame(channel, string(rec.UserID))
	if err != nil {
		h.log.Error().Err(err).Str("channel", channel).Msg("Failed to build member_removed frame")
		return
	}
	h.fanOut(ns, channel, frame, sid)
}

func (c *subscribeCmd) execute(h *Hub) {
	ns := h.Namespace(c.app.ID)
	sid := c.sid
	p := c.payload
	kind := KindOf(p.Channel)

	out, ok := ns.Socket(sid)
	if !ok {
		return
	}

	// A re-subscribe from the subscribed state is a silent no-op; subscription_succeeded is not re-emitted.
	if ns.IsMember(sid, p.Channel) {
		return
	}

	if kind.RequiresAuth() {
		if err := verifySubscribeAuth(c.app.Key, c.app.Secret, sid, p); err != nil {
			h.log.Debug().Err(err).
				Stringer("socket_id", sid).
				Str("channel", p.Channel).
				Msg("Subscription auth rejected")
			h.sendSubscriptionError(out)
			return
		}
	}

	var rec *PresenceRecord
	if kind == ChannelPresence {
		var err error
		rec, err = ParsePresenceRecord(p.ChannelData)
		if err != nil {
			h.log.Debug().Err(err).Stringer("socket_id", sid).Str("channel", p.Channel).
				Msg("Invalid presence channel_data")
			h.sendSubscriptionError(out)
			return
		}
	}

	ns.AddToChannel(sid, p.Channel, rec)

	if kind == ChannelPresence {
		// member_added targets the existing members; the joiner only sees its subscription_succeeded.
		if frame, err := NewMemberAddedFrame(p.Channel, p.ChannelData); err != nil {
			h.log.Error().Err(err).Str("channel", p.Channel).Msg("Failed to build member_added frame")
		} else {
			h.fanOut(ns, p.Channel, frame, sid)
		}
	}

	var presence *PresenceData
	if kind == ChannelPresence {
		presence = buildPresenceData(ns, p.Channel)
	}
	frame, err := NewSubscriptionSucceededFrame(p.Channel, presence)
	if err != nil {
		h.log.Error().Err(err).Str("channel", p.Channel).Msg("Failed to build subscription_succeeded frame")
		return
	}
	out.Send(frame)
}

// sendSubscriptionError delivers the fixed 403 AuthError frame to a single session.
func (h *Hub) sendSubscriptionError(out Outbox) {
	frame, err := NewSubscriptionErrorFrame()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build subscription_error frame")
		return
	}
	out.Send(frame)
}

func (c *unsubscribeCmd) execute(h *Hub) {
	ns := h.Namespace(c.appID)
	h.leaveChannel(ns, c.sid, c.channel)
}

func (c *clientEventCmd) execute(h *Hub) {
	ns := h.Namespace(c.appID)

	frame, err := NewBroadcastFrame(c.channel, c.event, c.data)
	if err != nil {
		h.log.Warn().Err(err).Str("event", c.event).Msg("Failed to build client event frame")
		return
	}
	h.fanOut(ns, c.channel, frame, c.sid)
}

func (c *publishCmd) execute(h *Hub) {
	ns := h.Namespace(c.appID)

	for _, channel := range c.channels {
		frame, err := NewBroadcastFrame(channel, c.event, c.data)
		if err != nil {
			h.log.Warn().Err(err).Str("event", c.event).Msg("Failed to build broadcast frame")
			continue
		}
		h.fanOut(ns, channel, frame, c.except)
	}
}

// fanOut delivers a pre-encoded frame to every member of the channel except the given socket id (0 excludes nobody).
// The member snapshot is taken before any send so slow consumers cannot stall the namespace.
func (h *Hub) fanOut(ns *Namespace, channel string, frame []byte, except SocketID) {
	for sid, out := range ns.ChannelSockets(channel) {
		if except != 0 && sid == except {
			continue
		}
		if !out.Send(frame) {
			h.log.Warn().Stringer("socket_id", sid).Str("channel", channel).
				Msg("Outbox full, dropping session")
		}
	}
}
