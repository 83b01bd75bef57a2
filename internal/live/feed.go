// Package live pushes order lifecycle events to connected admin dashboards
// over WebSocket. Order mutations publish to a queue (in-memory or Redis
// Streams); the feed pumps the queue into every attached socket so a
// dashboard shows activity across all API replicas without polling.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"brightcart/internal/models"
)

// Config configures a Feed.
type Config struct {
	Queue  Queue
	Logger *slog.Logger
	// HeartbeatInterval controls how often ping frames are sent to
	// connected clients. A zero value disables heartbeats.
	HeartbeatInterval time.Duration
}

// Feed coordinates order-event fan-out, managing WebSocket clients and
// publishing events to the configured queue.
type Feed struct {
	queue  Queue
	logger *slog.Logger

	heartbeatInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewFeed initialises a feed using the provided configuration. A nil queue
// falls back to an in-memory queue suitable for a single replica.
func NewFeed(cfg Config) *Feed {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := cfg.Queue
	if queue == nil {
		queue = NewMemoryQueue(128)
	}
	return &Feed{
		queue:             queue,
		logger:            logger,
		heartbeatInterval: cfg.HeartbeatInterval,
		clients:           make(map[*client]struct{}),
	}
}

// Publish forwards an order event to the queue. Failures are logged, never
// surfaced: a broken feed must not fail the order mutation that produced
// the event.
func (f *Feed) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	if err := f.queue.Publish(ctx, event); err != nil {
		f.logger.Warn("order event publish failed", "type", event.Type, "error", err)
	}
}

// Run subscribes to the queue and pumps events to connected clients until
// ctx is cancelled. It is intended to run in its own goroutine.
func (f *Feed) Run(ctx context.Context) {
	sub := f.queue.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			f.broadcast(event)
		}
	}
}

// HandleSocket upgrades the HTTP request to a WebSocket connection for the
// authenticated user and streams feed events until the peer disconnects.
func (f *Feed) HandleSocket(w http.ResponseWriter, r *http.Request, user models.User) {
	conn, err := Accept(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-r.Context().Done()
		cancel()
	}()

	c := &client{
		feed:   f,
		conn:   conn,
		user:   user,
		send:   make(chan []byte, 16),
		cancel: cancel,
	}
	f.register(c)

	go c.writeLoop()
	if f.heartbeatInterval > 0 {
		go c.heartbeatLoop(ctx, f.heartbeatInterval)
	}
	c.readLoop(ctx)
}

func (f *Feed) register(c *client) {
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
}

func (f *Feed) unregister(c *client) {
	f.mu.Lock()
	delete(f.clients, c)
	f.mu.Unlock()
}

// ClientCount reports the number of currently attached sockets.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("order event encode failed", "type", event.Type, "error", err)
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop the event rather than stalling the pump.
			f.logger.Debug("dropped feed event for slow client", "user_id", c.user.ID)
		}
	}
}

type client struct {
	feed   *Feed
	conn   *Conn
	user   models.User
	send   chan []byte
	closed sync.Once
	cancel context.CancelFunc
}

func (c *client) writeLoop() {
	defer c.close()
	for payload := range c.send {
		if err := c.conn.WriteText(payload); err != nil {
			return
		}
	}
}

func (c *client) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.Ping(nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// readLoop drains inbound frames. The feed is push-only, so anything the
// peer sends besides control frames is ignored; the loop exists to answer
// pings and to notice the close handshake.
func (c *client) readLoop(ctx context.Context) {
	defer c.close()
	for {
		if _, err := c.conn.ReadMessage(ctx); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.closed.Do(func() {
		c.feed.unregister(c)
		if c.cancel != nil {
			c.cancel()
		}
		close(c.send)
		_ = c.conn.Close()
	})
}
