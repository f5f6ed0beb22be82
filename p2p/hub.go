package p2p

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stitchbot/stitchbot/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

var (
	// ErrNoPeers is returned by Broadcast when no peer is connected.
	ErrNoPeers = errors.New("no connected peers")
	// ErrEmptyEnvelope is returned when a frame carries no type byte.
	ErrEmptyEnvelope = errors.New("empty envelope")
)

// Envelope is one transport frame: a message-type byte followed by the payload.
type Envelope struct {
	Type    byte
	Payload []byte
}

// Marshal returns the frame bytes.
func (e Envelope) Marshal() []byte {
	buf := make([]byte, 0, 1+len(e.Payload))
	buf = append(buf, e.Type)
	return append(buf, e.Payload...)
}

// ParseEnvelope splits a frame into its type byte and payload.
func ParseEnvelope(frame []byte) (Envelope, error) {
	if len(frame) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	return Envelope{Type: frame[0], Payload: frame[1:]}, nil
}

// Handler receives the payload of every inbound frame of its message type.
type Handler func(peer string, payload []byte)

type peer struct {
	addr    string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *peer) write(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Hub is a websocket gossip transport. Peers are either dialed with Connect
// or accepted through ServeHTTP; both directions are treated alike.
type Hub struct {
	mu       sync.RWMutex
	peers    map[string]*peer
	handlers map[byte]Handler
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	wg       sync.WaitGroup
	closed   bool
}

// NewHub creates a hub with no peers.
func NewHub() *Hub {
	return &Hub{
		peers:    make(map[string]*peer),
		handlers: make(map[byte]Handler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
	}
}

// Register installs the handler for msgType, replacing any previous one.
func (h *Hub) Register(msgType byte, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// Connect dials a peer's websocket endpoint, e.g. ws://host:port/p2p.
func (h *Hub) Connect(ctx context.Context, addr string) error {
	conn, resp, err := h.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		if resp != nil {
			return errors.Wrapf(err, "connect %s (status %d)", addr, resp.StatusCode)
		}
		return errors.Wrapf(err, "connect %s", addr)
	}
	h.add(addr, conn)
	return nil
}

// ServeHTTP upgrades an inbound request into a peer connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn("Peer upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	h.add(r.RemoteAddr, conn)
}

func (h *Hub) add(addr string, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	p := &peer{addr: addr, conn: conn}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if old, ok := h.peers[addr]; ok {
		old.conn.Close()
	}
	h.peers[addr] = p
	h.wg.Add(1)
	h.mu.Unlock()

	logger.Logger.Info("Peer connected", zap.String("peer", addr))
	go h.readLoop(p)
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	if cur, ok := h.peers[p.addr]; ok && cur == p {
		delete(h.peers, p.addr)
	}
	h.mu.Unlock()
	p.conn.Close()
}

func (h *Hub) readLoop(p *peer) {
	defer h.wg.Done()
	defer h.remove(p)

	for {
		kind, frame, err := p.conn.ReadMessage()
		if err != nil {
			logger.Logger.Info("Peer disconnected", zap.String("peer", p.addr), zap.Error(err))
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		env, err := ParseEnvelope(frame)
		if err != nil {
			continue
		}

		h.mu.RLock()
		handler := h.handlers[env.Type]
		h.mu.RUnlock()
		if handler != nil {
			handler(p.addr, env.Payload)
		}
	}
}

// Broadcast writes the envelope to every connected peer. Per-peer failures
// drop that peer and are otherwise ignored; nothing is retried.
func (h *Hub) Broadcast(env Envelope) error {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	if len(peers) == 0 {
		return ErrNoPeers
	}

	frame := env.Marshal()
	for _, p := range peers {
		if err := p.write(frame); err != nil {
			logger.Logger.Warn("Broadcast to peer failed", zap.String("peer", p.addr), zap.Error(err))
			h.remove(p)
		}
	}
	return nil
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every peer and waits for their read loops to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	for _, p := range h.peers {
		p.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}
