package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSOptions tunes the websocket transport.
type WSOptions struct {
	SendQueueSize   int
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageBytes int64
	// AllowedOrigins lists accepted Origin headers. Empty or "*" accepts any.
	AllowedOrigins []string
}

func (o WSOptions) withDefaults() WSOptions {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	return o
}

// WSServer upgrades HTTP requests and runs one relay connection per socket.
type WSServer struct {
	relay    *Relay
	opts     WSOptions
	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// NewWSServer creates a websocket front end for the relay.
func NewWSServer(r *Relay, opts WSOptions) *WSServer {
	opts = opts.withDefaults()
	s := &WSServer{relay: r, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *WSServer) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and blocks until the socket closes.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.relay.log.Warn().
			Err(err).
			Str("remote_addr", req.RemoteAddr).
			Str("origin", req.Header.Get("Origin")).
			Msg("failed to upgrade to websocket")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	peer := newWSPeer(conn, s.opts)
	c := s.relay.Connect(peer)
	s.relay.log.Info().Str("conn_id", c.ID).Str("remote_addr", req.RemoteAddr).Msg("websocket connection established")

	go peer.writePump()
	reason := s.readPump(c, peer)

	peer.Close()
	// Handlers run with a background context so a closing socket does not
	// abort the disconnect bookkeeping.
	s.relay.Disconnect(context.Background(), c, reason)
}

// Wait blocks until every served connection has been torn down.
func (s *WSServer) Wait() {
	s.wg.Wait()
}

func (s *WSServer) readPump(c *Connection, p *wsPeer) string {
	p.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.relay.log.Debug().Err(err).Str("conn_id", c.ID).Msg("websocket read failed")
				return "transport error"
			}
			return "client disconnect"
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			s.relay.send(c, Message{Event: EventError, Data: map[string]string{"error": "malformed frame"}})
			continue
		}
		s.relay.Handle(context.Background(), c, f)
	}
}

// wsPeer queues outbound messages for a single writer goroutine.
type wsPeer struct {
	conn *websocket.Conn
	opts WSOptions

	mu     sync.Mutex
	send   chan Message
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn, opts WSOptions) *wsPeer {
	return &wsPeer{
		conn: conn,
		opts: opts,
		send: make(chan Message, opts.SendQueueSize),
		done: make(chan struct{}),
	}
}

// Enqueue never blocks. A full queue means the client cannot keep up, and
// the peer is closed rather than dropping a message out of order.
func (p *wsPeer) Enqueue(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	select {
	case p.send <- msg:
		return nil
	default:
		p.closeLocked()
		return ErrPeerClosed
	}
}

func (p *wsPeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
}

func (p *wsPeer) closeLocked() {
	p.closeOnce.Do(func() {
		p.closed = true
		close(p.done)
	})
}

func (p *wsPeer) writePump() {
	pingEvery := p.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if err := p.conn.WriteJSON(msg); err != nil {
				p.Close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			p.flush()
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(p.opts.WriteTimeout))
			return
		}
	}
}

// flush writes whatever is still queued when the peer closes.
func (p *wsPeer) flush() {
	for {
		select {
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if err := p.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
