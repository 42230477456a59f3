package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/logging"
)

// Hub owns the set of live clients and serializes all relay work. Register,
// unregister and every inbound frame are handled on the Run goroutine.
type Hub struct {
	clients  map[*Client]bool
	register chan *Client
	inbound  chan inboundFrame
	router   *Router
	metrics  *Metrics
	log      *logging.Logger

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub dispatching frames to router.
func NewHub(router *Router, metrics *Metrics, log *logging.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		inbound:  make(chan inboundFrame, sendBufferSize),
		router:   router,
		metrics:  metrics,
		log:      log.Sub("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Register hands a freshly upgraded client to the hub. It reports false once
// the hub is shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// unregisterClient queues the end of c's stream behind the frames it has
// already dispatched.
func (h *Hub) unregisterClient(c *Client) {
	h.dispatch(inboundFrame{client: c, closed: true})
}

// dispatch queues an inbound frame. It reports false once the hub is
// shutting down.
func (h *Hub) dispatch(f inboundFrame) bool {
	select {
	case h.inbound <- f:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case frame := <-h.inbound:
			h.handleInbound(frame)
		}

		h.evictSlowClients()
	}
}

// handleInbound routes one mailbox entry. Frames from a client that is no
// longer registered are dropped.
func (h *Hub) handleInbound(frame inboundFrame) {
	if frame.closed {
		if h.removeClient(frame.client) {
			h.router.Disconnect(frame.client)
		}
		return
	}

	h.mutex.RLock()
	_, ok := h.clients[frame.client]
	h.mutex.RUnlock()
	if ok {
		h.router.Handle(frame.client, frame)
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()
	h.setConnections(clientCount)

	if client.conn != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			client.writePump()
		}()
		go func() {
			defer h.wg.Done()
			client.readPump()
		}()
	}

	if err := h.router.Connect(client); err != nil {
		h.log.Warn().Err(err).Str("remote", client.addr).Msg("connection refused")
		h.removeClient(client)
		return
	}
	h.log.Info().Str("remote", client.addr).Str("session", client.sessionID).Int("clients", clientCount).Msg("client registered")
}

// removeClient forgets c and closes its send channel. It reports whether c
// was registered.
func (h *Hub) removeClient(c *Client) bool {
	h.mutex.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return false
	}
	c.closeSend()
	h.setConnections(clientCount)
	h.log.Info().Str("remote", c.addr).Str("session", c.sessionID).Int("clients", clientCount).Msg("client unregistered")
	return true
}

// evictSlowClients drops every client whose buffer overflowed during the
// last event. Each disconnect broadcasts a roster, which may overflow more.
func (h *Hub) evictSlowClients() {
	for {
		failed := h.router.takeFailed()
		if len(failed) == 0 {
			return
		}
		for _, c := range failed {
			if !h.removeClient(c) {
				continue
			}
			h.log.Warn().Str("remote", c.addr).Str("session", c.sessionID).Msg("client removed due to full send buffer")
			if h.metrics != nil {
				h.metrics.slowClients.Inc()
			}
			h.router.Disconnect(c)
		}
	}
}

func (h *Hub) setConnections(n int) {
	if h.metrics != nil {
		h.metrics.connections.Set(float64(n))
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.closeSend()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn().Err(err).Str("remote", client.addr).Msg("closing client connection")
			}
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the event loop and waits for all client goroutines to
// finish, or for timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info().Msg("initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
