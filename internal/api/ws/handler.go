package ws

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagepilot/internal/events"
	"github.com/GriffinCanCode/pagepilot/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagepilot/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// sendBuffer is how many frames may queue per client before events
	// are dropped.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is one message on the event stream.
type Frame struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Args      []string `json:"args,omitempty"`
	Message   string   `json:"message,omitempty"`
	Dropped   int      `json:"dropped,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// Frame types.
const (
	TypeSystem = "system"
	TypeEvent  = "event"
	TypePong   = "pong"
	TypeClosed = "closed"
	TypeError  = "error"
)

// Handler streams session events over WebSocket connections.
type Handler struct {
	manager *session.Manager
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(manager *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, metrics: metrics, log: logger.Named("ws")}
}

// HandleEvents upgrades the request and forwards every event of the :id
// session until the client leaves or the session closes.
func (h *Handler) HandleEvents(c *gin.Context) {
	id := c.Param("id")
	s, ok := h.manager.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found: " + id, "code": "session_not_found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	st := newStream(s.ID())
	untap := s.Events().Tap(st.event)
	defer untap()

	left := make(chan struct{})
	go h.readLoop(conn, st, left)

	st.push(Frame{Type: TypeSystem, SessionID: s.ID(), Message: "streaming events"})
	h.writeLoop(conn, st, s.Done(), left)
}

// readLoop answers client pings and notices when the client goes away.
func (h *Handler) readLoop(conn *websocket.Conn, st *stream, left chan<- struct{}) {
	defer close(left)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			st.push(Frame{Type: TypeError, Message: "invalid message"})
			continue
		}
		h.record("in", msg.Type)
		switch msg.Type {
		case "ping":
			st.push(Frame{Type: TypePong})
		default:
			st.push(Frame{Type: TypeError, Message: "unknown message type"})
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, st *stream, closed <-chan struct{}, left <-chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case f := <-st.out:
			if n := st.takeDropped(); n > 0 {
				if err := h.send(conn, Frame{Type: TypeError, Message: "events dropped", Dropped: n}); err != nil {
					return
				}
			}
			if err := h.send(conn, f); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			st.drain(func(f Frame) { _ = h.send(conn, f) })
			_ = h.send(conn, Frame{Type: TypeClosed, SessionID: st.sessionID})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeWait))
			return
		case <-left:
			return
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, f Frame) error {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixMilli()
	}
	raw, err := sonic.Marshal(f)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}
	h.record("out", f.Type)
	return nil
}

func (h *Handler) record(direction, msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction, msgType)
	}
}

// stream buffers frames for one connection. Event delivery never blocks the
// session: frames beyond the buffer are counted and dropped.
type stream struct {
	sessionID string
	out       chan Frame
	dropped   chan int
}

func newStream(sessionID string) *stream {
	st := &stream{
		sessionID: sessionID,
		out:       make(chan Frame, sendBuffer),
		dropped:   make(chan int, 1),
	}
	st.dropped <- 0
	return st
}

func (st *stream) event(ev events.Event) {
	st.push(Frame{
		Type:      TypeEvent,
		SessionID: st.sessionID,
		Name:      ev.Name,
		Args:      ev.Args,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (st *stream) push(f Frame) {
	select {
	case st.out <- f:
	default:
		n := <-st.dropped
		st.dropped <- n + 1
	}
}

func (st *stream) takeDropped() int {
	n := <-st.dropped
	st.dropped <- 0
	return n
}

func (st *stream) drain(fn func(Frame)) {
	for {
		select {
		case f := <-st.out:
			fn(f)
		default:
			return
		}
	}
}
