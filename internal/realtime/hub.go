package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xuanthe1908/E-Learning-Full/internal/models"
)

// StatusEvent is one payment status transition pushed to subscribers.
type StatusEvent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	At      int64  `json:"at"`
}

// Publisher broadcasts an event to the other server instances.
type Publisher interface {
	PublishStatus(ev StatusEvent) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens in the JWT middleware before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans payment status transitions out to websocket subscribers, keyed by
// order reference. Delivery is best effort: reconciliation correctness never
// depends on a client seeing the push.
type Hub struct {
	logger *zap.Logger
	bridge Publisher

	mu   sync.RWMutex
	subs map[string]map[chan StatusEvent]struct{}
}

// NewHub creates a status hub. bridge may be nil for single-instance setups.
func NewHub(logger *zap.Logger, bridge Publisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		bridge: bridge,
		subs:   make(map[string]map[chan StatusEvent]struct{}),
	}
}

// NotifyStatus publishes a transition locally and across instances.
// Satisfies the reconciler's notifier contract.
func (h *Hub) NotifyStatus(orderID, status, code string) {
	ev := StatusEvent{OrderID: orderID, Status: status, Code: code, At: time.Now().Unix()}
	h.Deliver(ev)
	if h.bridge != nil {
		if err := h.bridge.PublishStatus(ev); err != nil {
			h.logger.Warn("status broadcast failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
}

// Deliver fans an event out to local subscribers only. The Redis bridge calls
// this for events that originated on other instances.
func (h *Hub) Deliver(ev StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.OrderID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it will resync from the authoritative store.
		}
	}
}

func (h *Hub) subscribe(orderID string) (chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 4)
	h.mu.Lock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[chan StatusEvent]struct{})
	}
	h.subs[orderID][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs[orderID], ch)
		if len(h.subs[orderID]) == 0 {
			delete(h.subs, orderID)
		}
		h.mu.Unlock()
	}
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ServeStatus upgrades the request and streams status transitions for one
// order. The current status is sent immediately; the connection closes after
// a terminal status is delivered.
func (h *Hub) ServeStatus(w http.ResponseWriter, r *http.Request, orderID, currentStatus, currentCode string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.subscribe(orderID)
	defer cancel()

	// Read pump exists only to detect the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev StatusEvent) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return false
		}
		return !models.IsTerminalStatus(ev.Status)
	}

	if !send(StatusEvent{OrderID: orderID, Status: currentStatus, Code: currentCode, At: time.Now().Unix()}) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev := <-ch:
			if !send(ev) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
