package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/flo-mic/spidergroup/internal/api"
	"github.com/flo-mic/spidergroup/internal/cascade"
)

// streamBuffer is how many frames a slow client may lag behind before its
// stream is closed. Clients reconnect and start from a fresh snapshot.
const streamBuffer = 256

// handleEvents streams a session's changes over a websocket: one snapshot
// frame, then one frame per store change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Access is already gated by the bearer token.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error("ws accept", "session", sess.id, "err", err)
		return
	}
	defer conn.CloseNow()

	sess.attachStream(s.sessions.now())
	defer sess.detachStream(s.sessions.now())

	send := make(chan []byte, streamBuffer)
	lagged := make(chan struct{})
	var lagOnce sync.Once

	// Subscribe before taking the snapshot so no change falls in between.
	// A change may then appear both in the snapshot and as a frame; applying
	// it twice is harmless.
	unsubscribe := sess.machine.Store().Subscribe(func(c cascade.Change) {
		data, err := json.Marshal(api.Event{Type: api.EventChange, Change: &c})
		if err != nil {
			s.log.Error("marshal change", "err", err)
			return
		}
		select {
		case send <- data:
		default:
			lagOnce.Do(func() { close(lagged) })
		}
	})
	defer unsubscribe()

	sel := api.NewSelection(sess.id, sess.machine.Snapshot())
	first, err := json.Marshal(api.Event{Type: api.EventSnapshot, Selection: &sel})
	if err != nil {
		s.log.Error("marshal snapshot", "err", err)
		return
	}

	// Nothing is read from the client; CloseRead handles its close frame.
	ctx := conn.CloseRead(r.Context())
	s.log.Debug("event stream opened", "session", sess.id)

	if err := conn.Write(ctx, websocket.MessageText, first); err != nil {
		return
	}
	s.pump(ctx, conn, sess, send, lagged)
}

func (s *Server) pump(ctx context.Context, conn *websocket.Conn, sess *session, send <-chan []byte, lagged <-chan struct{}) {
	for {
		select {
		case msg := <-send:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				s.log.Debug("event stream write", "session", sess.id, "err", err)
				return
			}
		case <-lagged:
			gatewayStreamsDropped.Inc()
			s.log.Warn("event stream client too slow", "session", sess.id)
			conn.Close(websocket.StatusTryAgainLater, "client too slow")
			return
		case <-sess.done:
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		case <-ctx.Done():
			s.log.Debug("event stream closed", "session", sess.id)
			return
		}
	}
}
