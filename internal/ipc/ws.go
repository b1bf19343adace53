package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// WebSocketPath is where the bridge is mounted.
const WebSocketPath = "/jukebox"

// maxMessageBytes leaves room for large queue requests.
const maxMessageBytes = 1 << 20

// allowedOrigins limits browser clients to pages served from this machine.
var allowedOrigins = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"}

// WebSocketHandler serves the request protocol over WebSocket text frames,
// one JSON request per frame. Connections start subscribed to jukebox
// status pushes and receive the current status on connect.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(s.serveWebSocket)
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: allowedOrigins,
	})
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	ctx := r.Context()
	c := &client{
		name: "ws:" + r.RemoteAddr,
		write: func(msg []byte) error {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			return conn.Write(wctx, websocket.MessageText, msg)
		},
	}
	c.subscribed.Store(true)
	s.addClient(c)
	defer s.removeClient(c)

	greeting, err := NewPushMessage(PushJukebox, s.jukebox.Status())
	if err == nil {
		if err := c.send(greeting); err != nil {
			return
		}
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Debug().Err(err).Str("client", c.name).Msg("websocket read error")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := s.serveMessage(ctx, c, data); err != nil {
			s.log.Debug().Err(err).Str("client", c.name).Msg("websocket send error")
			return
		}
	}
}

// ServeWeb runs the WebSocket bridge on addr until ctx is done.
func (s *Server) ServeWeb(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle(WebSocketPath, s.WebSocketHandler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Str("path", WebSocketPath).Msg("websocket bridge listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
