// Package websocket carries the fleet feed for trusted-contact
// consoles: every emergency trigger, resolve and location update is
// broadcast to all connected consoles as a typed message.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Connection 表示一个WebSocket连接
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	hub  *Hub
	once sync.Once
}

// Hub 管理所有WebSocket连接
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	broadcast   chan []byte
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		connections: make(map[string]*Connection),
		broadcast:   make(chan []byte, 256),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case data := <-h.broadcast:
			h.mu.RLock()
			for _, conn := range h.connections {
				select {
				case conn.Send <- data:
				default:
					// 慢消费者直接丢弃,不阻塞广播
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) Stop() { h.cancel() }

// Broadcast sends a typed message to every connected console.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	b, err := json.Marshal(&Message{Type: msgType, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logrus.WithError(err).Warn("websocket: marshal broadcast")
		return
	}
	select {
	case h.broadcast <- b:
	default:
		logrus.Warn("websocket: broadcast queue full, message dropped")
	}
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.ID] = c
	h.mu.Unlock()
	logrus.WithField("conn_id", c.ID).Info("websocket: console connected")
}

func (h *Hub) unregister(c *Connection) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.connections, c.ID)
		h.mu.Unlock()
		close(c.Send)
		logrus.WithField("conn_id", c.ID).Info("websocket: console disconnected")
	})
}

// ConnectionCount 返回当前连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ServeWS upgrades the request and pumps the fleet feed until the
// console disconnects.
func (h *Hub) ServeWS(c *gin.Context, connID string) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket: upgrade failed")
		return
	}
	conn := &Connection{ID: connID, Conn: ws, Send: make(chan []byte, 64), hub: h}
	h.register(conn)
	go conn.writePump()
	conn.readPump()
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		// 控制台只读,入站消息丢弃
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
