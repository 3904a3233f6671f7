package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mochi_backend/notify"
)

// Broadcaster manages WebSocket clients and fans messages out to all of
// them. Each client has its own buffered send channel drained by a write
// pump; a client whose buffer fills is disconnected.
type Broadcaster struct {
	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	broadcast  chan WSMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
	doneOnce   sync.Once

	upgrader websocket.Upgrader
	config   BroadcasterConfig

	// initial builds the first message for a new client; nil sends nothing.
	initial func() WSMessage

	logger *zap.Logger
}

type client struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time
	send        chan []byte
}

// BroadcasterConfig holds configuration for the Broadcaster.
type BroadcasterConfig struct {
	// PingInterval is how often to ping each client (default: 30s)
	PingInterval time.Duration

	// PongWait is how long to wait for a pong (default: 60s)
	PongWait time.Duration

	// WriteWait is the time allowed to write a message (default: 10s)
	WriteWait time.Duration

	// MaxMessageSize is the largest message accepted from a client (default: 512 bytes)
	MaxMessageSize int64

	// BroadcastBufferSize is the broadcast channel buffer (default: 256)
	BroadcastBufferSize int

	// ClientSendBufferSize is the per-client send buffer (default: 64)
	ClientSendBufferSize int
}

// DefaultBroadcasterConfig returns the default configuration.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		BroadcastBufferSize:  256,
		ClientSendBufferSize: 64,
	}
}

func (c BroadcasterConfig) withDefaults() BroadcasterConfig {
	def := DefaultBroadcasterConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.BroadcastBufferSize <= 0 {
		c.BroadcastBufferSize = def.BroadcastBufferSize
	}
	if c.ClientSendBufferSize <= 0 {
		c.ClientSendBufferSize = def.ClientSendBufferSize
	}
	return c
}

// NewBroadcaster creates a Broadcaster. Call Start before accepting
// connections.
func NewBroadcaster(config BroadcasterConfig, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()
	return &Broadcaster{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan WSMessage, config.BroadcastBufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		config:     config,
		logger:     logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The controller is served same-origin or behind auth.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetInitial installs the builder for each client's first message.
func (b *Broadcaster) SetInitial(fn func() WSMessage) {
	b.initial = fn
}

// Start runs the registration and broadcast loop until ctx is cancelled,
// then disconnects every client.
func (b *Broadcaster) Start(ctx context.Context) {
	b.logger.Debug("Broadcaster started")
	defer b.doneOnce.Do(func() { close(b.done) })

	for {
		select {
		case <-ctx.Done():
			b.closeAllClients()
			b.logger.Debug("Broadcaster stopped")
			return

		case c := <-b.register:
			b.addClient(c)

		case c := <-b.unregister:
			b.removeClient(c)

		case msg := <-b.broadcast:
			b.broadcastToAll(msg)
		}
	}
}

// HandleConnection upgrades the request and registers the client.
func (b *Broadcaster) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		remoteAddr:  r.RemoteAddr,
		connectedAt: time.Now(),
		send:        make(chan []byte, b.config.ClientSendBufferSize),
	}
	if b.initial != nil {
		if data, err := json.Marshal(b.initial()); err == nil {
			c.send <- data
		} else {
			b.logger.Error("Failed to marshal initial message", zap.Error(err))
		}
	}

	select {
	case b.register <- c:
	case <-b.done:
		conn.Close()
		return
	}

	conn.SetReadLimit(b.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.config.PongWait))
	})

	go b.writePump(c)
	go b.readPump(c)
}

// BroadcastMessage queues msg for every client. It never blocks; when the
// buffer is full the message is dropped.
func (b *Broadcaster) BroadcastMessage(msg WSMessage) {
	select {
	case b.broadcast <- msg:
	default:
		b.logger.Warn("Broadcast buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// Notify implements notify.Sink.
func (b *Broadcaster) Notify(n notify.Notification) {
	b.BroadcastMessage(NewNotificationMessage(n))
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) addClient(c *client) {
	b.clientsMu.Lock()
	b.clients[c] = struct{}{}
	total := len(b.clients)
	b.clientsMu.Unlock()

	b.logger.Info("Client connected",
		zap.String("client_id", c.id),
		zap.String("remote_addr", c.remoteAddr),
		zap.Int("total", total),
	)
}

// removeClient closes the client's send channel; the write pump then closes
// the connection.
func (b *Broadcaster) removeClient(c *client) {
	b.clientsMu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.send)
	}
	total := len(b.clients)
	b.clientsMu.Unlock()

	if ok {
		b.logger.Info("Client disconnected",
			zap.String("client_id", c.id),
			zap.Duration("connected_for", time.Since(c.connectedAt)),
			zap.Int("total", total),
		)
	}
}

func (b *Broadcaster) broadcastToAll(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("Failed to marshal broadcast message",
			zap.String("type", msg.Type),
			zap.Error(err),
		)
		return
	}

	var slow []*client
	b.clientsMu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.clientsMu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("Client send buffer full, disconnecting", zap.String("client_id", c.id))
		b.removeClient(c)
	}
}

func (b *Broadcaster) closeAllClients() {
	b.clientsMu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.clientsMu.Unlock()
}

// leave hands the client to the loop for removal, or gives up once the
// loop has stopped.
func (b *Broadcaster) leave(c *client) {
	select {
	case b.unregister <- c:
	case <-b.done:
	}
}

// readPump discards client messages and keeps the read deadline fresh.
func (b *Broadcaster) readPump(c *client) {
	defer b.leave(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Debug("Unexpected close", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection.
func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.logger.Debug("Write failed", zap.String("client_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(b.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
