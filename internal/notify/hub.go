// Package notify pushes analysis and comparison completion events to
// connected clients over WebSocket. Delivery is best effort: the diagnostic
// pipeline never blocks on a slow or absent subscriber.
package notify

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Event is one notification pushed to a client.
type Event struct {
	Type       string                   `json:"type"` // analysis_completed | comparison_completed
	CaseID     string                   `json:"case_id,omitempty"`
	LesionID   string                   `json:"lesion_id,omitempty"`
	Urgent     bool                     `json:"urgent,omitempty"`
	RiskLevel  domain.RiskLevel         `json:"risk_level,omitempty"`
	Diagnoses  []domain.FinalDiagnosis  `json:"diagnoses,omitempty"`
	Comparison *domain.LesionComparison `json:"comparison,omitempty"`
	Timestamp  time.Time                `json:"timestamp"`
}

// client is one connected subscriber. Events for its owner are queued on
// send; the queue overflowing drops the client rather than the pipeline.
type client struct {
	ownerID string
	conn    *websocket.Conn
	send    chan Event
}

// Hub fans events out to subscribers grouped by owner.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	log      *logrus.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Subscribe upgrades the request to a WebSocket and registers the connection
// for the given owner until it closes.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, ownerID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		ownerID: ownerID,
		conn:    conn,
		send:    make(chan Event, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.WithField("owner_id", ownerID).Debug("Notification subscriber connected")

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// AnalysisCompleted implements domain.Notifier.
func (h *Hub) AnalysisCompleted(ownerID string, c *domain.Case, urgent bool) {
	h.broadcast(ownerID, Event{
		Type:      "analysis_completed",
		CaseID:    c.ID,
		Urgent:    urgent,
		Diagnoses: c.FinalDiagnoses,
		Timestamp: time.Now().UTC(),
	})
}

// ComparisonCompleted implements domain.Notifier.
func (h *Hub) ComparisonCompleted(ownerID string, cmp *domain.LesionComparison) {
	h.broadcast(ownerID, Event{
		Type:       "comparison_completed",
		LesionID:   cmp.LesionID,
		RiskLevel:  cmp.RiskLevel,
		Comparison: cmp,
		Timestamp:  time.Now().UTC(),
	})
}

// broadcast queues the event for every subscriber of the owner. A full queue
// drops the subscriber.
func (h *Hub) broadcast(ownerID string, event Event) {
	h.mu.RLock()
	var stale []*client
	for c := range h.clients {
		if c.ownerID != ownerID {
			continue
		}
		select {
		case c.send <- event:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.log.WithField("owner_id", c.ownerID).Warn("Dropping slow notification subscriber")
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards inbound messages; the socket is push-only. It exists to
// process pongs and to notice the peer closing.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
