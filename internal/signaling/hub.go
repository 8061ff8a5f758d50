package signaling

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/rojcall/internal/config"
	"github.com/1ureka/rojcall/internal/metrics"
	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

// Drop reasons reported to the metrics collector.
const (
	dropRateLimited    = "rate-limited"
	dropSenderMismatch = "sender-mismatch"
	dropMalformed      = "malformed"
	dropSlowConsumer   = "slow-consumer"
	dropInboxFull      = "offline-inbox-full"
)

// Hub routes frames between connected users. Each user id has at most one
// connection; a newer connection replaces the older one. Frames to one
// recipient keep their arrival order.
type Hub struct {
	cfg      config.ServerConfig
	metrics  metrics.HubCollector
	upgrader websocket.Upgrader

	mu      sync.Mutex
	routes  map[string]*peer
	offline map[string][][]byte
	seq     sequencer
	closed  bool
}

// NewHub creates a hub. A nil collector disables metrics.
func NewHub(cfg config.ServerConfig, m metrics.HubCollector) *Hub {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Hub{
		cfg:     cfg,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		routes:  make(map[string]*peer),
		offline: make(map[string][][]byte),
		seq:     newSequencer(),
	}
}

// Handler returns the hub's HTTP routes: the WebSocket endpoint at cfg.Path
// and a liveness probe at /healthz.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.cfg.Path, h.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("upgrade %s: %v", user, err)
		return
	}

	p := newPeer(h, user, conn)
	if !h.register(p) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go p.writePump()
	go p.readPump()
}

// register installs p as the route for its user and flushes the offline
// inbox to it. The replaced connection, if any, is closed.
func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	old := h.routes[p.user]
	h.routes[p.user] = p

	pending := h.offline[p.user]
	delete(h.offline, p.user)
	for _, data := range pending {
		p.enqueue(data)
	}
	h.mu.Unlock()

	if len(pending) > 0 {
		h.metrics.OfflineDepth(-len(pending))
		util.LogInfo("flushed %d queued signal(s) to %s", len(pending), p.user)
	}
	if old != nil {
		util.LogInfo("%s reconnected, replacing previous connection", p.user)
		old.close()
	} else {
		h.metrics.ClientConnected()
	}

	util.Stats.AddConnect()
	util.LogSuccess("%s connected", p.user)
	return true
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	current := h.routes[p.user] == p
	if current {
		delete(h.routes, p.user)
	}
	h.mu.Unlock()

	util.Stats.AddDisconnect()
	if current {
		h.metrics.ClientDisconnected()
		util.LogInfo("%s disconnected", p.user)
	}
}

// route forwards a signal from p to its recipient.
func (h *Hub) route(from *peer, msg protocol.Message) {
	if msg.SenderID != from.user {
		h.drop(dropSenderMismatch)
		from.sendFrame(protocol.ErrorFrame("senderId does not match connection user"))
		return
	}

	h.mu.Lock()
	msg = msg.WithSequence(h.seq.next(msg.ReceiverID))
	data, err := protocol.Encode(protocol.SignalFrame(msg))
	if err != nil {
		h.mu.Unlock()
		h.drop(dropMalformed)
		return
	}
	h.deliverLocked(msg.ReceiverID, string(msg.Kind), data)
	h.mu.Unlock()
}

// notify forwards a notification to its target user.
func (h *Hub) notify(n protocol.Notification) {
	data, err := protocol.Encode(protocol.NotificationFrame(n))
	if err != nil {
		h.drop(dropMalformed)
		return
	}
	h.mu.Lock()
	h.deliverLocked(n.UserID, "notification", data)
	h.mu.Unlock()
}

// deliverLocked must be called with h.mu held.
func (h *Hub) deliverLocked(to, kind string, data []byte) {
	if p, ok := h.routes[to]; ok {
		if !p.enqueue(data) {
			h.drop(dropSlowConsumer)
			return
		}
		h.metrics.FrameRouted(kind)
		util.Stats.AddRouted()
		return
	}

	inbox := h.offline[to]
	if len(inbox) >= h.cfg.OfflineInbox {
		if h.cfg.OfflineInbox <= 0 {
			h.drop(dropInboxFull)
			return
		}
		// Keep the newest signals.
		inbox = inbox[1:]
		h.drop(dropInboxFull)
		h.metrics.OfflineDepth(-1)
	}
	h.offline[to] = append(inbox, data)
	h.metrics.OfflineDepth(1)
	h.metrics.FrameRouted(kind)
	util.LogDebug("%s offline, queued %s", to, kind)
}

func (h *Hub) drop(reason string) {
	h.metrics.FrameDropped(reason)
	util.Stats.AddDropped()
}

// Online reports whether user currently has a connection.
func (h *Hub) Online(user string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.routes[user]
	return ok
}

// Close disconnects every user and refuses new connections.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.routes))
	for _, p := range h.routes {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}
