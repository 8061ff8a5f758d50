package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/rojcall/internal/protocol"
	"github.com/1ureka/rojcall/internal/util"
)

// peer is the hub side of one user's WebSocket connection. readPump and
// writePump each own one direction of the socket.
type peer struct {
	hub     *Hub
	user    string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(h *Hub, user string, conn *websocket.Conn) *peer {
	limit := rate.Inf
	if h.cfg.RatePerSecond > 0 {
		limit = rate.Limit(h.cfg.RatePerSecond)
	}
	burst := h.cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	queue := h.cfg.SendQueue
	if queue <= 0 {
		queue = 64
	}
	return &peer{
		hub:     h,
		user:    user,
		conn:    conn,
		send:    make(chan []byte, queue),
		limiter: rate.NewLimiter(limit, burst),
		done:    make(chan struct{}),
	}
}

// enqueue queues data for the write pump without blocking.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

func (p *peer) sendFrame(f *protocol.Frame) {
	data, err := protocol.Encode(f)
	if err != nil {
		return
	}
	p.enqueue(data)
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

func (p *peer) readPump() {
	defer func() {
		p.close()
		p.hub.unregister(p)
		p.conn.Close()
	}()

	cfg := p.hub.cfg
	if cfg.ReadLimit > 0 {
		p.conn.SetReadLimit(cfg.ReadLimit)
	}
	extend := func() {
		if cfg.PongTimeout > 0 {
			_ = p.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		}
	}
	extend()
	p.conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogWarning("read from %s: %v", p.user, err)
			}
			return
		}
		extend()
		util.Stats.AddIn(len(data))

		if !p.limiter.Allow() {
			p.hub.drop(dropRateLimited)
			p.sendFrame(protocol.ErrorFrame("rate limit exceeded"))
			continue
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			util.LogDebug("malformed frame from %s: %v", p.user, err)
			p.hub.drop(dropMalformed)
			p.sendFrame(protocol.ErrorFrame(err.Error()))
			continue
		}

		switch frame.Type {
		case protocol.FrameSignal:
			p.hub.route(p, *frame.Signal)
		case protocol.FrameNotification:
			p.hub.notify(*frame.Notification)
		case protocol.FramePing:
			p.sendFrame(&protocol.Frame{Type: protocol.FramePong})
		}
	}
}

func (p *peer) writePump() {
	cfg := p.hub.cfg
	interval := cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	deadline := func() {
		if cfg.WriteTimeout > 0 {
			_ = p.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		}
	}

	for {
		select {
		case data := <-p.send:
			deadline()
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				util.LogWarning("write to %s: %v", p.user, err)
				return
			}
			util.Stats.AddOut(len(data))

		case <-ticker.C:
			deadline()
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			// Flush what is already queued, then say goodbye.
			for {
				select {
				case data := <-p.send:
					deadline()
					if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					deadline()
					_ = p.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
