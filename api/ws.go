package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS handled upstream
}

// wsSink adapts a websocket connection to the stream EventSink. Writes are
// serialized; a failed write marks the client gone.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *Server) handleWSPrices(w http.ResponseWriter, r *http.Request) {
	syms := splitSymbols(r.URL.Query().Get("symbols"))
	if len(syms) == 0 {
		http.Error(w, "symbols is required", http.StatusBadRequest)
		return
	}

	conn, ctx, cancel, err := s.upgrade(w, r)
	if err != nil {
		return
	}
	defer cancel()
	defer conn.Close()

	s.streams.RunPrices(ctx, &wsSink{conn: conn}, syms)
}

func (s *Server) handleWSPnL(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.UserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, ctx, cancel, err := s.upgrade(w, r)
	if err != nil {
		return
	}
	defer cancel()
	defer conn.Close()

	s.streams.RunPnL(ctx, &wsSink{conn: conn}, userID)
}

// upgrade performs the websocket handshake and returns a context that is
// cancelled as soon as the peer closes the connection. The read pump exists
// only to observe close frames; inbound payloads are ignored.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, context.CancelFunc, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return conn, ctx, cancel, nil
}
