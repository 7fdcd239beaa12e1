package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// streamBuffer is the number of events held for a slow stream client before
// new events are dropped.
const streamBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StreamMessage is one inbound worker event sent to a stream client.
type StreamMessage struct {
	Event string            `json:"event"`
	Data  []json.RawMessage `json:"data"`
}

// handleStream upgrades to a websocket and forwards every inbound event of
// the worker until the worker exits or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	wk, ok := s.bridge.Worker(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "worker not found")

		return
	}

	log := s.logger.With("worker_id", wk.ID())

	// Subscribe before the upgrade so no event after the 101 response is missed.
	events := make(chan StreamMessage, streamBuffer)
	unsubscribe := wk.On("*", func(event string, data []json.RawMessage) {
		if data == nil {
			data = []json.RawMessage{}
		}

		select {
		case events <- StreamMessage{Event: event, Data: data}:
		default:
			log.Warn("Stream client too slow, dropping event", "event", event)
		}
	})
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("Stream upgrade failed", "error", err)

		return
	}
	defer conn.Close()

	log.Debug("Stream client connected", "remote", conn.RemoteAddr().String())

	// The read loop only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-events:
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-wk.Done():
			if err := drain(conn, events); err != nil {
				return
			}

			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "worker exited"))

			return
		case <-gone:
			return
		}
	}
}

// drain writes the events already buffered.
func drain(conn *websocket.Conn, events <-chan StreamMessage) error {
	for {
		select {
		case msg := <-events:
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
