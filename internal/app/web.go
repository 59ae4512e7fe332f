package app

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Monitor serves the latest actuated camera pose and the listener counters
// over HTTP, and streams new poses to websocket clients.
type Monitor struct {
	logger logging.Logger

	mu       sync.RWMutex
	lastPose geometry.Pose
	havePose bool
	stats    func() Stats
	clients  map[chan geometry.Pose]struct{}
}

// NewMonitor returns a monitor with no pose yet.
func NewMonitor(logger logging.Logger) *Monitor {
	return &Monitor{
		logger:  logger,
		clients: make(map[chan geometry.Pose]struct{}),
	}
}

// SetStats sets the source of /api/stats.
func (m *Monitor) SetStats(fn func() Stats) {
	m.mu.Lock()
	m.stats = fn
	m.mu.Unlock()
}

// Update records p and pushes it to every websocket client. Slow clients
// miss poses rather than blocking the caller.
func (m *Monitor) Update(p geometry.Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPose = p
	m.havePose = true
	for ch := range m.clients {
		select {
		case ch <- p:
		default:
		}
	}
}

// Handler routes the monitor endpoints.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/pose", m.handlePose)
	mux.HandleFunc("/api/stats", m.handleStats)
	mux.HandleFunc("/ws", m.handleWS)
	return mux
}

func (m *Monitor) handlePose(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	p, ok := m.lastPose, m.havePose
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	m.writeJSON(w, p)
}

func (m *Monitor) handleStats(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	fn := m.stats
	m.mu.RUnlock()

	var s Stats
	if fn != nil {
		s = fn()
	}
	m.writeJSON(w, s)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.logger.Warnf("monitor: json encode error: %v", err)
	}
}

func (m *Monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warnf("monitor: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan geometry.Pose, 8)
	m.mu.Lock()
	m.clients[ch] = struct{}{}
	if m.havePose {
		ch <- m.lastPose
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.clients, ch)
		m.mu.Unlock()
	}()

	// The reader only notices when the peer goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case p := <-ch:
			if err := conn.WriteJSON(p); err != nil {
				m.logger.Debugf("monitor: websocket write error: %v", err)
				return
			}
		}
	}
}
