// Package sse streams emergency snapshots to tracking-link viewers.
// Each emergency id is a group; a viewer joins the group for the
// emergency it watches. SSE is the latency optimization on top of the
// tracking link's poll loop, never a replacement for it.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Client struct {
	id     string
	groups map[string]bool
	ch     chan string
	done   chan struct{}
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	groups   map[string]map[string]bool // emergencyID -> clientID set
	interval time.Duration
	retryMs  int
}

func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*Client),
		groups:   make(map[string]map[string]bool),
		interval: interval,
		retryMs:  5000,
	}
}

func (h *Hub) AddClient(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := &Client{id: id, groups: make(map[string]bool), ch: make(chan string, 64), done: make(chan struct{})}
	h.clients[id] = c
	return c
}

func (h *Hub) RemoveClient(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		close(c.done)
		for g := range c.groups {
			delete(h.groups[g], id)
		}
		delete(h.clients, id)
	}
	h.mu.Unlock()
}

func (h *Hub) Join(id, emergencyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.groups[emergencyID] = true
	if h.groups[emergencyID] == nil {
		h.groups[emergencyID] = make(map[string]bool)
	}
	h.groups[emergencyID][id] = true
}

// SendToGroupJSON pushes an event to every viewer of one emergency.
// Slow consumers are skipped, the poll path covers them.
func (h *Hub) SendToGroupJSON(emergencyID string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	msg := formatData(string(b))
	h.mu.RLock()
	for id := range h.groups[emergencyID] {
		if c := h.clients[id]; c != nil {
			select {
			case c.ch <- msg:
			default:
			}
		}
	}
	h.mu.RUnlock()
}

func formatData(s string) string { return fmt.Sprintf("data: %s\n\n", s) }

// Serve attaches one viewer to the event stream until it disconnects.
// A non-nil initial payload is written before any group events so a
// fresh tab sees the current state without waiting for a change.
func (h *Hub) Serve(c *gin.Context, clientID, emergencyID string, initial interface{}) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)

	client := h.AddClient(clientID)
	defer h.RemoveClient(clientID)
	h.Join(clientID, emergencyID)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	if initial != nil {
		if b, err := json.Marshal(initial); err == nil {
			c.Writer.Write([]byte(formatData(string(b))))
		}
	}
	ping := time.NewTicker(h.interval)
	defer ping.Stop()
	flusher.Flush()

	for {
		select {
		case <-client.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-client.ch:
			c.Writer.Write([]byte(msg))
			flusher.Flush()
		}
	}
}
