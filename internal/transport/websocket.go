// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livefx/internal/log"
	"livefx/internal/param"
)

const (
	clientQueue  = 256
	writeTimeout = 5 * time.Second
	maxRequest   = 4096
)

// errNotBuilt is reported for parameter requests before the engine is built.
var errNotBuilt = errors.New("engine not built")

// client is one WebSocket connection. gorilla allows a single concurrent
// writer, so all writes go through send and the client's write loop.
type client struct {
	conn *websocket.Conn
	send chan any
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// WebSocketServer implements the Transport interface for WebSocket
// connections and serves the control protocol.
type WebSocketServer struct {
	addr     string
	path     string
	ctrl     Controller
	upgrader websocket.Upgrader

	clients   map[*client]struct{}
	clientsMu sync.Mutex
	closed    bool

	server *http.Server
}

// NewWebSocketServer creates a control server for ctrl. Nothing listens
// until Run; Handler can be mounted elsewhere instead.
func NewWebSocketServer(addr, path string, ctrl Controller) *WebSocketServer {
	return &WebSocketServer{
		addr: addr,
		path: path,
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local control surface, any origin
			},
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	return mux
}

// Run listens on the configured address until ctx is done.
func (s *WebSocketServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", s.addr, err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Infof("Transport: WebSocket control on ws://%s%s", ln.Addr(), s.path)

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.Close()
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("transport: serve: %w", err)
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("Transport: upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxRequest)

	c := &client{conn: conn, send: make(chan any, clientQueue)}
	s.clientsMu.Lock()
	if s.closed {
		s.clientsMu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()
	log.Infof("Transport: client connected, total: %d", total)

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)
}

func (s *WebSocketServer) writeLoop(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			log.Debugf("Transport: write error: %v", err)
			s.drop(c)
			return
		}
	}
}

func (s *WebSocketServer) readLoop(ctx context.Context, c *client) {
	defer s.drop(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(c, ErrorMessage{Type: TypeError, Error: "malformed request: " + err.Error()})
			continue
		}
		s.handle(ctx, c, req)
	}
}

func (s *WebSocketServer) handle(ctx context.Context, c *client, req Request) {
	fail := func(err error) {
		s.reply(c, ErrorMessage{Type: TypeError, Request: req.Type, Error: err.Error()})
	}

	switch req.Type {
	case TypeSet:
		reg := s.ctrl.Registry()
		if reg == nil {
			fail(errNotBuilt)
			return
		}
		if req.Value == nil {
			fail(fmt.Errorf("%w: value is required", param.ErrInvalidValue))
			return
		}
		if _, err := reg.Set(req.Stage, req.Param, *req.Value); err != nil {
			fail(err)
			return
		}
		info, err := reg.Info(req.Stage, req.Param)
		if err != nil {
			fail(err)
			return
		}
		log.Debugf("Transport: %s.%s = %g", info.Stage, info.Param, info.Value)
		s.broadcast(ParamMessage{Type: TypeParam, Info: info})

	case TypeGet:
		reg := s.ctrl.Registry()
		if reg == nil {
			fail(errNotBuilt)
			return
		}
		info, err := reg.Info(req.Stage, req.Param)
		if err != nil {
			fail(err)
			return
		}
		s.reply(c, ParamMessage{Type: TypeParam, Info: info})

	case TypeSnapshot:
		reg := s.ctrl.Registry()
		if reg == nil {
			fail(errNotBuilt)
			return
		}
		s.reply(c, SnapshotMessage{Type: TypeSnapshot, Params: reg.Snapshot()})

	case TypeReset:
		reg := s.ctrl.Registry()
		if reg == nil {
			fail(errNotBuilt)
			return
		}
		reg.Reset()
		s.broadcast(SnapshotMessage{Type: TypeSnapshot, Params: reg.Snapshot()})

	case TypeStart:
		if err := s.ctrl.Start(ctx); err != nil {
			fail(err)
			return
		}
		s.broadcast(s.state())

	case TypeStop:
		if err := s.ctrl.Stop(); err != nil {
			fail(err)
			return
		}
		s.broadcast(s.state())

	case TypeStatus:
		s.reply(c, s.state())

	default:
		fail(fmt.Errorf("unknown request type %q", req.Type))
	}
}

func (s *WebSocketServer) state() StateMessage {
	stats := s.ctrl.Stats()
	return StateMessage{Type: TypeState, State: stats.State, Stats: stats}
}

// reply queues msg for one client, dropping it if the client is too slow.
func (s *WebSocketServer) reply(c *client, msg any) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// broadcast queues msg for every client. Slow clients miss messages
// rather than stall the others.
func (s *WebSocketServer) broadcast(msg any) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (s *WebSocketServer) drop(c *client) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	total := len(s.clients)
	s.clientsMu.Unlock()
	c.close()
	if ok {
		log.Infof("Transport: client disconnected, total: %d", total)
	}
}

// Clients returns the number of connected clients.
func (s *WebSocketServer) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// Send broadcasts data to all connected WebSocket clients
func (s *WebSocketServer) Send(data any) error {
	s.broadcast(data)
	return nil
}

// Close disconnects every client and shuts down the server.
func (s *WebSocketServer) Close() error {
	log.Infof("Transport: closing WebSocket server")

	s.clientsMu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*client]struct{})
	s.clientsMu.Unlock()
	for _, c := range clients {
		c.close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Ensure WebSocketServer satisfies the interface
var _ Transport = (*WebSocketServer)(nil)
