package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/objwatch/internal/assets"
	"github.com/Faultbox/objwatch/internal/network/packets"
)

const (
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

// eventHandler handles one client request. Handlers must not block the
// read loop; long work runs in its own goroutine.
type eventHandler func(sess *session, req packets.AssetRequest)

func defaultEvents() map[string]eventHandler {
	return map[string]eventHandler{
		packets.EventFetch:       handleFetch,
		packets.EventFetchAndSub: handleFetchAndSub,
		packets.EventUnsub:       handleUnsub,
	}
}

// session is one websocket connection.
type session struct {
	id     string
	conn   *websocket.Conn
	server *Server
	log    *zap.Logger

	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	closed bool
	subs   map[string]*assets.Subscription // Asset name -> subscription
}

func newSession(id string, conn *websocket.Conn, srv *Server) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:     id,
		conn:   conn,
		server: srv,
		log:    srv.log.With(zap.String("session", id)),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]*assets.Subscription),
	}
}

// readPump dispatches client messages until the connection fails.
func (s *session) readPump() {
	defer s.close()

	pongWait := 2 * s.server.cfg.PingInterval
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(frame)
	}
}

func (s *session) dispatch(frame []byte) {
	msg, err := packets.Decode(frame)
	if err != nil {
		s.log.Warn("malformed message", zap.Error(err))
		s.emitError("", err)
		return
	}

	handler, ok := s.server.events[msg.Event]
	if !ok {
		s.log.Warn("unknown event", zap.String("event", msg.Event))
		return
	}

	req, err := msg.Request()
	if err != nil {
		s.log.Warn("bad request", zap.String("event", msg.Event), zap.Error(err))
		s.emitError(req.AssetName, err)
		return
	}

	s.log.Debug("request", zap.String("event", msg.Event), zap.String("asset", req.AssetName))
	handler(s, req)
}

// writePump owns all writes to the connection and closes it on exit.
func (s *session) writePump() {
	cfg := s.server.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Warn("websocket ping failed", zap.Error(err))
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// emit queues one event. After close the event is dropped.
func (s *session) emit(event string, data any) error {
	frame, err := packets.Encode(event, data)
	if err != nil {
		s.log.Error("encoding event", zap.String("event", event), zap.Error(err))
		return err
	}
	select {
	case s.send <- frame:
	case <-s.done:
	}
	return nil
}

// emitAsset queues an asset_data or asset_update event. An asset that
// cannot be encoded is reported to the client as asset_error.
func (s *session) emitAsset(event, name string, asset *assets.Asset) {
	if err := s.emit(event, asset); err != nil {
		s.emitError(name, err)
	}
}

func (s *session) emitError(asset string, err error) {
	s.emit(packets.EventError, packets.AssetError{AssetName: asset, Message: err.Error()})
}

// track stores sub as the subscription for asset, replacing an older one.
// It reports false if the session has already closed.
func (s *session) track(asset string, sub *assets.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	if old, ok := s.subs[asset]; ok {
		old.Close()
	}
	s.subs[asset] = sub
	return true
}

func (s *session) untrack(asset string) (*assets.Subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[asset]
	if ok {
		delete(s.subs, asset)
	}
	return sub, ok
}

// close ends the session. The write pump closes the connection.
func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()

		s.mu.Lock()
		s.closed = true
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}
		s.server.unregister(s)
	})
}

func handleFetch(sess *session, req packets.AssetRequest) {
	go func() {
		asset, err := sess.server.source.Fetch(sess.ctx, req.AssetName)
		if err != nil {
			sess.emitError(req.AssetName, err)
			return
		}
		sess.emitAsset(packets.EventData, req.AssetName, asset)
	}()
}

// handleFetchAndSub subscribes before fetching so no change between the
// two is lost. A failed initial fetch keeps the subscription.
func handleFetchAndSub(sess *session, req packets.AssetRequest) {
	name := req.AssetName

	sub, err := sess.server.source.Subscribe(name)
	if err != nil {
		sess.emitError(name, err)
		return
	}
	if !sess.track(name, sub) {
		sub.Close()
		return
	}

	go func() {
		asset, err := sess.server.source.Fetch(sess.ctx, name)
		if err != nil {
			sess.emitError(name, err)
		} else {
			sess.emitAsset(packets.EventData, name, asset)
		}

		for u := range sub.Updates() {
			if u.Err != nil {
				sess.emitError(name, u.Err)
				continue
			}
			sess.emitAsset(packets.EventUpdate, name, u.Asset)
		}
	}()
}

func handleUnsub(sess *session, req packets.AssetRequest) {
	sub, ok := sess.untrack(req.AssetName)
	if !ok {
		sess.log.Debug("unsubscribe without subscription", zap.String("asset", req.AssetName))
		return
	}
	sub.Close()
}
