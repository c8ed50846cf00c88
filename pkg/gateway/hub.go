// Package gateway serves coaching clients over WebSocket.
//
// Each connection owns a motion engine and a coach. Inbound events are
// dispatched in arrival order on the connection's read loop; the coach runs
// enrichment on its own goroutines and writes results back through the
// connection's serialized writer.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-cprcoach/pkg/coach"
	"github.com/teslashibe/go-cprcoach/pkg/motion"
	"github.com/teslashibe/go-cprcoach/pkg/protocol"
	"github.com/teslashibe/go-cprcoach/pkg/trigger"
)

// DefaultSummaryTimeout bounds persistence and enrichment at session end.
const DefaultSummaryTimeout = 20 * time.Second

// Config configures a Hub.
type Config struct {
	// Coach is the template for every connection's coach.
	Coach coach.Config

	SummaryTimeout time.Duration
	Logger         *slog.Logger
}

// Connection is one connected coaching client.
type Connection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	engine *motion.Engine
	coach  *coach.Coach

	mu      sync.Mutex // guards LastSeen
	writeMu sync.Mutex
}

// Send writes a message to the client. Writes are serialized.
func (c *Connection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// Session returns the connection's coach state.
func (c *Connection) Session() coach.State {
	return c.coach.State()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastSeen = time.Now()
	c.mu.Unlock()
}

// Hub manages coaching connections.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	// Stats
	messagesReceived  atomic.Uint64
	messagesSent      atomic.Uint64
	framesProcessed   atomic.Uint64
	sessionsStarted   atomic.Uint64
	sessionsCompleted atomic.Uint64
	parseErrors       atomic.Uint64
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = DefaultSummaryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "gateway"),
		conns:  make(map[string]*Connection),
	}
}

// RegisterRoutes registers WebSocket routes on a Fiber app
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws", websocket.New(h.handleClient))
	app.Get("/ws/:id", websocket.New(h.handleClient))
}

// RegisterAPIRoutes registers connection introspection routes.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	conns := api.Group("/connections")

	conns.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"connections": h.ConnectionInfos(),
			"count":       h.ConnectionCount(),
		})
	})

	conns.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}

// handleClient owns a connection for its lifetime.
func (h *Hub) handleClient(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now()
	conn := &Connection{
		ID:        id,
		Conn:      c,
		Connected: now,
		LastSeen:  now,
		engine:    motion.NewEngine(),
	}

	logger := h.logger.With("conn_id", id)
	coachCfg := h.cfg.Coach
	coachCfg.Logger = logger
	conn.coach = coach.New(coach.EmitterFunc(func(msg *protocol.Message) error {
		return h.send(conn, msg)
	}), coachCfg)

	h.mu.Lock()
	if old, ok := h.conns[id]; ok {
		// A reconnect with the same id replaces the stale connection.
		old.coach.Close()
		_ = old.Conn.Close()
	}
	h.conns[id] = conn
	total := len(h.conns)
	h.mu.Unlock()

	logger.Info("client connected", "total", total)

	defer func() {
		conn.coach.Close()

		h.mu.Lock()
		if h.conns[id] == conn {
			delete(h.conns, id)
		}
		total := len(h.conns)
		h.mu.Unlock()

		logger.Info("client disconnected", "total", total)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("read loop ended", "error", err)
			return
		}

		conn.touch()
		h.messagesReceived.Add(1)
		h.handleMessage(conn, logger, data)
	}
}

// handleMessage dispatches one inbound event.
func (h *Hub) handleMessage(conn *Connection, logger *slog.Logger, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.parseErrors.Add(1)
		logger.Warn("dropping malformed message", "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeStartSession:
		d, err := msg.GetStartSessionData()
		if err != nil {
			logger.Warn("invalid startSession", "error", err)
			return
		}
		conn.engine.Reset()
		if err := conn.coach.StartSession(trigger.Mode(d.Mode), d.Song); err != nil {
			logger.Warn("rejected startSession", "error", err)
			return
		}
		h.sessionsStarted.Add(1)

	case protocol.TypeMetrics:
		d, err := msg.GetMetricsData()
		if err != nil {
			logger.Warn("invalid metrics", "error", err)
			return
		}
		h.framesProcessed.Add(1)
		conn.coach.OnFrame(d.Metrics, d.Ready)

	case protocol.TypeLandmarks:
		d, err := msg.GetLandmarksData()
		if err != nil {
			logger.Warn("invalid landmarks", "error", err)
			return
		}
		at := time.Now()
		if d.Timestamp > 0 {
			at = time.UnixMilli(d.Timestamp)
		}
		sample := conn.engine.ProcessFrameAt(d.Landmarks, at)
		if sample == nil {
			logger.Debug("short landmark frame", "count", len(d.Landmarks))
			return
		}
		h.framesProcessed.Add(1)

		ready := conn.engine.Started()
		if echo, err := protocol.NewMetricsMessage(sample, ready); err == nil {
			if err := h.send(conn, echo); err != nil {
				logger.Warn("failed to echo metrics", "error", err)
			}
		}
		conn.coach.OnFrame(sample, ready)

	case protocol.TypeStopSession:
		active := conn.coach.State().Active
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SummaryTimeout)
		conn.coach.EndSession(ctx)
		cancel()
		if active {
			h.sessionsCompleted.Add(1)
		}

	case protocol.TypeVoice:
		d, err := msg.GetVoiceCommandData()
		if err != nil {
			logger.Warn("invalid voiceCommand", "error", err)
			return
		}
		conn.coach.OnVoiceCommand(d.Text)

	case protocol.TypePing:
		d, err := msg.GetPingData()
		if err != nil {
			logger.Warn("invalid ping", "error", err)
			return
		}
		pingTS := d.Timestamp
		if pingTS == 0 {
			pingTS = msg.Timestamp
		}
		pong, err := protocol.NewPongMessage(d.ID, pingTS, time.Now().UnixMilli())
		if err == nil {
			_ = h.send(conn, pong)
		}

	default:
		logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (h *Hub) send(conn *Connection, msg *protocol.Message) error {
	h.messagesSent.Add(1)
	return conn.Send(msg)
}

// SendTo sends a message to a connected client.
func (h *Hub) SendTo(id string, msg *protocol.Message) error {
	h.mu.RLock()
	conn, ok := h.conns[id]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "client not connected")
	}
	return h.send(conn, msg)
}

// Get returns a connection by ID, or nil.
func (h *Hub) Get(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll disconnects every client. Their read loops clean up.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.coach.Close()
		_ = c.Conn.Close()
	}
}

// ConnectionInfo describes a connected client.
type ConnectionInfo struct {
	ID        string      `json:"id"`
	Connected time.Time   `json:"connected"`
	LastSeen  time.Time   `json:"last_seen"`
	Session   coach.State `json:"session"`
}

// ConnectionInfos returns info about all connected clients.
func (h *Hub) ConnectionInfos() []ConnectionInfo {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		info := ConnectionInfo{ID: c.ID, Connected: c.Connected, LastSeen: c.LastSeen}
		c.mu.Unlock()
		info.Session = c.Session()
		infos = append(infos, info)
	}
	return infos
}
