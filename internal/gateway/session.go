package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// heartbeatInterval is how often the session checks activity and pings the peer.
	heartbeatInterval = 5 * time.Second

	// clientTimeout is the inactivity window after which the peer is considered gone.
	clientTimeout = 10 * time.Second

	// connectTimeout bounds the app lookup and hub registration on connect.
	connectTimeout = 5 * time.Second
)

// Conn is the subset of the WebSocket connection a session drives. *websocket.Conn implements it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetPingHandler(h func(appData string) error)
	Close() error
}

// Session is the protocol machine for a single WebSocket connection. Each session runs two goroutines (readPump and
// writePump) and implements Outbox so the Hub can enqueue pre-encoded frames without blocking.
type Session struct {
	hub   *Hub
	conn  Conn
	appID int64
	sid   SocketID
	send  chan []byte
	done  chan struct{}
	log   zerolog.Logger

	// lastActivity is the unix-nano timestamp of the most recent inbound frame, including WS ping/pong.
	lastActivity atomic.Int64

	closeOnce      sync.Once
	disconnectOnce sync.Once
}

// ServeWebSocket runs the session lifecycle for an upgraded connection: register with the Hub, emit
// pusher:connection_established as the first frame, then pump frames until the connection dies. It blocks until the
// session ends.
func (h *Hub) ServeWebSocket(conn Conn, appID int64) {
	s := &Session{
		hub:   h,
		conn:  conn,
		appID: appID,
		send:  make(chan []byte, h.cfg.GatewaySendBuffer),
		done:  make(chan struct{}),
		log: h.log.With().
			Int64("app_id", appID).
			Str("conn_id", uuid.NewString()).
			Logger(),
	}
	s.touch()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	sid, err := h.Connect(ctx, appID, s)
	if err != nil {
		s.rejectConnect(err)
		return
	}
	s.sid = sid
	s.log = s.log.With().Stringer("socket_id", sid).Logger()

	established, err := NewConnectionEstablishedFrame(sid, h.cfg.GatewayActivityTimeout)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to build connection_established frame")
		s.close()
		return
	}
	// Queued before writePump starts, so it is guaranteed to be the first frame on the wire.
	s.send <- established

	go s.writePump()
	s.readPump()
}

// rejectConnect reports a fatal connect error to the peer and closes without ever registering with the Hub.
func (s *Session) rejectConnect(err error) {
	code := CloseAppNotFound
	if errors.Is(err, ErrOverCapacity) {
		code = CloseOverCapacity
	}

	if frame, fErr := NewErrorFrame(code, closeMessage(code)); fErr == nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.TextMessage, frame)
	}
	s.closeWithCode(code, closeMessage(code))
	s.close()
	s.log.Debug().Err(err).Msg("Connection rejected")
}

// touch records peer activity for the heartbeat check.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// readPump reads frames from the peer and dispatches them. It owns connection teardown: when it returns the session
// is deregistered from the Hub and the connection is closed.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	s.conn.SetPingHandler(func(data string) error {
		s.touch()
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		msgType, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		s.touch()

		if msgType != websocket.TextMessage {
			continue
		}
		s.dispatch(raw)
	}
}

// dispatch routes one inbound text frame. Malformed frames are logged and dropped; they never kill the connection.
func (s *Session) dispatch(raw []byte) {
	frame, err := ParseClientFrame(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("Dropping undecodable frame")
		return
	}

	switch {
	case frame.Event == EventPing:
		if pong, err := NewPongFrame(); err == nil {
			s.Send(pong)
		}

	case frame.Event == EventSubscribe:
		var p SubscribePayload
		if err := DecodeData(frame.Data, &p); err != nil {
			s.log.Debug().Err(err).Msg("Dropping malformed subscribe")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.hub.Subscribe(ctx, s.appID, s.sid, p); err != nil {
			s.sendError(err)
		}

	case frame.Event == EventUnsubscribe:
		var p UnsubscribePayload
		if err := DecodeData(frame.Data, &p); err != nil {
			s.log.Debug().Err(err).Msg("Dropping malformed unsubscribe")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.hub.Unsubscribe(ctx, s.appID, s.sid, p.Channel); err != nil {
			s.sendError(err)
		}

	case strings.HasPrefix(frame.Event, ClientEventPrefix):
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		if err := s.hub.ClientEvent(ctx, s.appID, s.sid, frame.Channel, frame.Event, frame.Data); err != nil {
			s.sendError(err)
		}

	default:
		s.log.Debug().Str("event", frame.Event).Msg("Dropping unknown event")
	}
}

// sendError queues a pusher:error frame for a failed hub operation.
func (s *Session) sendError(err error) {
	if frame, fErr := NewErrorFrame(0, err.Error()); fErr == nil {
		s.Send(frame)
	}
}

// writePump writes queued frames to the peer and drives the heartbeat. Every heartbeatInterval it either severs an
// inactive connection or sends an empty WS ping.
func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				s.close()
				return
			}

		case <-ticker.C:
			if s.idleFor() > clientTimeout {
				s.log.Debug().Dur("idle", s.idleFor()).Msg("Heartbeat timed out")
				s.closeWithCode(CloseClosedAfterInactivity, closeMessage(CloseClosedAfterInactivity))
				s.close()
				return
			}
			_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))

		case <-s.done:
			return
		}
	}
}

// Send implements Outbox. It never blocks: when the buffer is full the session is too slow to keep and is torn down
// from its own goroutine so the Hub loop is never stalled.
func (s *Session) Send(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		go s.close()
		return false
	}
}

// close tears the session down exactly once: deregister from the Hub, stop the write pump, close the socket.
func (s *Session) close() {
	s.disconnectOnce.Do(func() {
		if s.sid != 0 {
			s.hub.Disconnect(s.appID, s.sid)
		}
	})
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// closeWithCode sends a WebSocket close frame with the given code and reason before the connection drops.
func (s *Session) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
