// Package hub streams service events to browsers over Server-Sent Events.
//
// Every frame carries an increasing id. Values implementing Named are sent
// as events of that name, so an EventSource can listen for "delta" alone;
// a client may also ask for a subset with ?types=delta,refreshed.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// KeepAlive is the interval between keep-alive comments
const KeepAlive = 30 * time.Second

// Named values are framed as SSE events of that name
type Named interface {
	EventName() string
}

// Client represents a connected SSE client
type Client struct {
	id     string
	events chan []byte
	// types limits the named events sent; nil means all
	types map[string]bool
}

func (c *Client) wants(name string) bool {
	return c.types == nil || c.types[name]
}

// Hub manages SSE client connections
type Hub struct {
	log        logr.Logger
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan interface{}
	done       chan struct{}

	// seq numbers frames; touched only by Run
	seq uint64
}

// New creates a new Hub
func New(log logr.Logger) *Hub {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Hub{
		log:        log.WithName("hub"),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan interface{}, 256),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop and returns when ctx is done. Connected
// clients are dropped on return.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.events)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.V(1).Info("SSE client connected", "client", client.id, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.V(1).Info("SSE client disconnected", "client", client.id, "total", n)

		case event := <-h.broadcast:
			name, msg, err := h.frame(event)
			if err != nil {
				h.log.Error(err, "failed to marshal event")
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(name) {
					continue
				}
				select {
				case client.events <- msg:
				default:
					// Client is slow, skip this message
					h.log.Info("SSE client is slow, skipping message", "client", client.id)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) frame(event interface{}) (string, []byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", nil, err
	}
	h.seq++

	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", h.seq)
	var name string
	if n, ok := event.(Named); ok {
		name = n.EventName()
		fmt.Fprintf(&b, "event: %s\n", name)
	}
	fmt.Fprintf(&b, "data: %s\n\n", data)
	return name, []byte(b.String()), nil
}

// Broadcast sends an event to all connected clients
func (h *Hub) Broadcast(event interface{}) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Info("broadcast channel full, dropping event")
	}
}

// Forward broadcasts everything received on events until it is closed or
// ctx is done
func Forward[T any](ctx context.Context, h *Hub, events <-chan T) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP handles SSE connections
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &Client{
		id:     uuid.NewString(),
		events: make(chan []byte, 64),
		types:  parseTypes(r.URL.Query().Get("types")),
	}

	select {
	case h.register <- client:
	case <-h.done:
		http.Error(w, "hub stopped", http.StatusServiceUnavailable)
		return
	case <-r.Context().Done():
		return
	}

	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	fmt.Fprintf(w, ": connected %s\n\n", client.id)
	flusher.Flush()

	ticker := time.NewTicker(KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.events:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func parseTypes(q string) map[string]bool {
	if q == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}
