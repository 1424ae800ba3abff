package simulator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"procodus.dev/irrigation-dashboard/pkg/generator"
	"procodus.dev/irrigation-dashboard/pkg/irrigation"
	"procodus.dev/irrigation-dashboard/pkg/metrics"
)

// requestMessage is the text a client sends to ask for the current values.
const requestMessage = "Request data"

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one socket. Writes are serialised by mu.
type client struct {
	mu         sync.Mutex
	conn       *websocket.Conn
	subscribed bool
}

func (c *client) send(frames []irrigation.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range frames {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// hub tracks connected sockets. Clients that have asked for data receive
// every generated reading until they disconnect.
type hub struct {
	logger  *slog.Logger
	metrics *metrics.SimulatorMetrics

	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub(logger *slog.Logger, m *metrics.SimulatorMetrics) *hub {
	return &hub{logger: logger, metrics: m, clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SocketClients.Inc()
	}
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.SocketClients.Dec()
	}
}

func (h *hub) subscribe(c *client) {
	h.mu.Lock()
	c.subscribed = true
	h.mu.Unlock()
}

func (h *hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed {
			out = append(out, c)
		}
	}
	return out
}

func (h *hub) push(c *client, frames []irrigation.Snapshot) {
	if len(frames) == 0 {
		return
	}
	if err := c.send(frames); err != nil {
		h.logger.Debug("failed to push frames", "error", err)
		_ = c.conn.Close()
		return
	}
	if h.metrics != nil {
		h.metrics.FramesSent.Add(float64(len(frames)))
	}
}

func (h *hub) broadcast(frames []irrigation.Snapshot) {
	for _, c := range h.snapshot() {
		h.push(c, frames)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
	}
}

// handleSocket answers every "Request data" with the latest value of each
// sensor, one frame per sensor, and keeps the client subscribed to new
// readings afterwards.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}
	s.hub.add(c)
	defer func() {
		s.hub.remove(c)
		_ = conn.Close()
	}()

	s.logger.Debug("socket connected", "remote", r.RemoteAddr)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("socket closed", "remote", r.RemoteAddr, "reason", err)
			return
		}
		if strings.TrimSpace(string(data)) != requestMessage {
			s.logger.Debug("ignoring socket message", "message", string(data))
			continue
		}
		s.hub.subscribe(c)
		s.hub.push(c, generator.Split(s.state.Latest()))
	}
}
