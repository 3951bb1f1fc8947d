// Package stream pushes per-tick frames to websocket subscribers at
// GET /api/v1/stream.
//
// Each tick the sim loop builds one Frame and calls Hub.Broadcast. The frame
// is encoded once and queued to every client; a client whose queue is full
// misses that frame rather than slowing the loop. Subscribers may send
// {"type":"track","norad_id":N} to select the satellite whose trail is kept.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/star/orrery/internal/metrics"
)

// Config holds streaming configuration loaded from environment variables.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10)
	MaxConcurrent      int           // Max concurrent streams overall (default: 1000)
	ConnectRate        float64       // New connections per second per IP (default: 1)
	ConnectBurst       int           // Connection burst per IP (default: 5)
	FrameRate          float64       // Max frames per second per client (default: 10)
	PingInterval       time.Duration // Websocket ping interval (default: 30s)
	SendBuffer         int           // Queued frames per client (default: 8)
	TrustProxy         bool          // Honour X-Forwarded-For / X-Real-IP
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentPerIP <= 0 {
		c.MaxConcurrentPerIP = 10
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1000
	}
	if c.ConnectRate <= 0 {
		c.ConnectRate = 1
	}
	if c.ConnectBurst <= 0 {
		c.ConnectBurst = 5
	}
	if c.FrameRate <= 0 {
		c.FrameRate = 10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 8
	}
}

// Tracker is the part of the satellite tracker subscribers can steer.
type Tracker interface {
	SetTracked(noradID int) error
}

// Hub owns the subscriber set.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	upgrader websocket.Upgrader
	limiter  *connLimiter
	tracker  Tracker
	config   Config
	logger   *slog.Logger
}

// NewHub creates a hub. tracker may be nil, in which case track commands are rejected.
func NewHub(config Config, tracker Tracker, logger *slog.Logger) *Hub {
	config.applyDefaults()
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   16 * 1024,
			EnableCompression: true,
			// Browser clients are served from other origins during development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter: newConnLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent,
			rate.Limit(config.ConnectRate), config.ConnectBurst),
		tracker: tracker,
		config:  config,
		logger:  logger,
	}
}

// ServeHTTP upgrades the request and serves the subscriber until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.config.TrustProxy)
	if ok, reason := h.limiter.acquire(ip); !ok {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded", "component", "stream",
			"remote_ip", ip, "reason", reason, "current_count", h.limiter.count(ip))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many streams"})
		return
	}
	defer h.limiter.release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		metrics.IncStreamErrors("upgrade")
		return
	}

	c := &client{
		conn:    conn,
		send:    make(chan []byte, h.config.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.config.FrameRate), 1),
		ip:      ip,
		logger:  h.logger,
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	start := time.Now()
	metrics.IncStreamConnections("connect")
	metrics.IncStreamClients()
	h.logger.Info("stream connected", "component", "stream",
		"remote_ip", ip, "user_agent", r.Header.Get("User-Agent"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(h.config.PingInterval)
	}()
	c.readPump(2*h.config.PingInterval, h.handleCommand, h.reply)

	h.unregister(c)
	<-done

	metrics.IncStreamConnections("disconnect")
	metrics.DecStreamClients()
	h.logger.Info("stream disconnected", "component", "stream",
		"remote_ip", ip,
		"duration_seconds", int(time.Since(start).Seconds()),
		"messages", c.messagesSent,
		"bytes", c.bytesSent,
	)
}

func (h *Hub) handleCommand(cmd Command) error {
	switch cmd.Type {
	case "track":
		if h.tracker == nil {
			return errors.New("tracking not available")
		}
		return h.tracker.SetTracked(cmd.NORADID)
	case "untrack":
		if h.tracker == nil {
			return errors.New("tracking not available")
		}
		return h.tracker.SetTracked(0)
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister closes c.send, which stops its writePump.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast encodes f once and queues it to every subscriber whose frame
// rate allows it. It never blocks on a slow subscriber.
func (h *Hub) Broadcast(f Frame) error {
	if f.Type == "" {
		f.Type = "frame"
	}
	data, err := json.Marshal(f)
	if err != nil {
		metrics.IncStreamErrors("marshal_error")
		return fmt.Errorf("encoding frame: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.limiter.Allow() {
			continue
		}
		select {
		case c.send <- data:
		default:
			metrics.IncStreamErrors("slow_client")
		}
	}
	return nil
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// reply queues a message for one subscriber, dropping it if the queue is full.
func (h *Hub) reply(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
