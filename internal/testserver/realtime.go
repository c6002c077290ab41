package testserver

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/protocol"
)

// conn is one realtime client connection with a write mutex serializing
// outbound frames.
type conn struct {
	id      string
	token   string
	netConn net.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	userID string // set by join
}

func (c *conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.netConn, ws.OpText, data)
}

func (c *conn) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// hub tracks realtime connections, relays pushes to joined users and
// records handshake activity.
type hub struct {
	mu        sync.Mutex
	conns     map[string]*conn
	connects  int
	pings     int
	lastToken string
	reject    int // status to answer upgrades with, 0 = accept
	silent    bool

	joins chan string
}

func newHub() *hub {
	return &hub{
		conns: make(map[string]*conn),
		joins: make(chan string, 64),
	}
}

func (h *hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.connects++
	h.lastToken = c.token
	h.mu.Unlock()
}

func (h *hub) remove(c *conn) {
	h.mu.Lock()
	_, ok := h.conns[c.id]
	delete(h.conns, c.id)
	h.mu.Unlock()
	if ok {
		c.netConn.Close()
	}
}

func (h *hub) all() []*conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

func (h *hub) closeAll() {
	for _, c := range h.all() {
		h.remove(c)
	}
}

// serve reads client frames until the connection fails.
func (h *hub) serve(c *conn) {
	defer h.remove(c)
	for {
		data, op, err := wsutil.ReadClientData(c.netConn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		env, err := protocol.Decode(data)
		if err != nil {
			frame, _ := protocol.Encode(protocol.EventError, protocol.ErrorPayload{Code: "parse_error", Message: "invalid frame"})
			_ = c.write(frame)
			continue
		}

		switch env.Event {
		case protocol.EventJoin:
			id, err := protocol.DecodeJoin(env)
			if err != nil {
				continue
			}
			c.mu.Lock()
			c.userID = id
			c.mu.Unlock()
			select {
			case h.joins <- id:
			default:
			}
		case protocol.EventPing:
			h.mu.Lock()
			h.pings++
			silent := h.silent
			h.mu.Unlock()
			if silent {
				continue
			}
			frame, _ := protocol.Encode(protocol.EventPong, nil)
			_ = c.write(frame)
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.hub.mu.Lock()
	reject := s.hub.reject
	s.hub.mu.Unlock()
	if reject != 0 {
		http.Error(w, "rejected", reject)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	s.mu.Lock()
	accept := s.acceptToken
	s.mu.Unlock()
	if accept != "" && token != accept {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	nc, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	c := &conn{id: uuid.NewString(), token: token, netConn: nc}
	s.hub.add(c)
	go s.hub.serve(c)
}

// ---------------------------------------------------------------------------
// Realtime controls
// ---------------------------------------------------------------------------

// RejectRealtime makes realtime upgrades fail with status; 0 accepts again.
func (s *Server) RejectRealtime(status int) {
	s.hub.mu.Lock()
	s.hub.reject = status
	s.hub.mu.Unlock()
}

// SilencePongs stops the server from answering pings, simulating a
// half-open connection.
func (s *Server) SilencePongs(silent bool) {
	s.hub.mu.Lock()
	s.hub.silent = silent
	s.hub.mu.Unlock()
}

// WaitJoin waits for the next join frame and returns its user id.
func (s *Server) WaitJoin(timeout time.Duration) (string, bool) {
	select {
	case id := <-s.hub.joins:
		return id, true
	case <-time.After(timeout):
		return "", false
	}
}

// Push delivers msg as a private_message to every connection joined as
// userID and reports how many received it.
func (s *Server) Push(userID string, msg model.Message) int {
	frame, err := protocol.Encode(protocol.EventPrivateMessage, msg)
	if err != nil {
		return 0
	}
	n := 0
	for _, c := range s.hub.all() {
		if c.joined() != userID {
			continue
		}
		if err := c.write(frame); err == nil {
			n++
		}
	}
	return n
}

// PushRaw writes frame verbatim to every connection.
func (s *Server) PushRaw(frame []byte) {
	for _, c := range s.hub.all() {
		_ = c.write(frame)
	}
}

// DropRealtime closes every realtime connection, as a network blip would.
func (s *Server) DropRealtime() {
	s.hub.closeAll()
}

// RealtimeConnects returns how many realtime connections were accepted.
func (s *Server) RealtimeConnects() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.connects
}

// RealtimeOpen returns how many realtime connections are currently open.
func (s *Server) RealtimeOpen() int {
	return len(s.hub.all())
}

// RealtimeToken returns the credential presented by the latest connection.
func (s *Server) RealtimeToken() string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.lastToken
}

// Pings returns how many ping frames were received.
func (s *Server) Pings() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.hub.pings
}
