package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/evremote/evremote/internal/capture"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to a trusted interface; origin checks add nothing.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait    = 10 * time.Second
	pingInterval = 50 * time.Second
	// sendBacklog bounds per-client buffering; a client that falls this far
	// behind is dropped rather than allowed to stall the hub.
	sendBacklog = 64
)

// hub tracks connected WebSocket clients and fans notifications out to
// them. Client set mutation and broadcast all happen on the run goroutine.
type hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	notify     chan capture.Notification
	shutdown   chan struct{}
}

type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		notify:     make(chan capture.Notification),
		shutdown:   make(chan struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			klog.V(2).Infof("ws client connected (%d total)", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				klog.V(2).Infof("ws client disconnected (%d total)", len(h.clients))
			}
		case n := <-h.notify:
			h.deliver(n)
		case <-h.shutdown:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func (h *hub) stop() {
	close(h.shutdown)
}

// broadcast queues a notification for delivery to every connected client.
func (h *hub) broadcast(n capture.Notification) {
	select {
	case h.notify <- n:
	case <-h.shutdown:
	}
}

func (h *hub) deliver(n capture.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		klog.Errorf("ws: marshal notification: %v", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			delete(h.clients, c)
			close(c.send)
			klog.V(2).Info("ws: dropped slow client")
		}
	}
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.Errorf("ws: upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBacklog),
	}

	select {
	case h.register <- c:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; the stream is one-way. It exists to
// notice the peer going away and to answer control frames.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
