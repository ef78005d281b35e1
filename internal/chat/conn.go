package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-chat-go/pkg/utilities"
)

const (
	writeWait           = 10 * time.Second
	defaultSendQueue    = 32
	defaultMaxMessage   = 64 << 10
	defaultPingInterval = 30 * time.Second
)

// wsConn adapts one websocket to Handle. Frames are written only by the
// writer goroutine; Send never blocks and reports false once the bounded
// queue is full or the connection is closing.
type wsConn struct {
	id       string
	identity string
	ws       *websocket.Conn
	logger   *zap.SugaredLogger

	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	closeReason  string
	pingInterval time.Duration
}

func newWSConn(ws *websocket.Conn, identity string, queue int, ping time.Duration, logger *zap.SugaredLogger) *wsConn {
	if queue <= 0 {
		queue = defaultSendQueue
	}
	if ping <= 0 {
		ping = defaultPingInterval
	}
	id := utilities.NewKSUID()
	return &wsConn{
		id:           id,
		identity:     identity,
		ws:           ws,
		logger:       logger.With("conn_id", id, "identity", identity),
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		pingInterval: ping,
	}
}

func (c *wsConn) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.logger.Warnw("send queue full")
		return false
	}
}

func (c *wsConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		close(c.done)
	})
}

// writeLoop drains the send queue and keeps the peer alive with pings. It owns
// the underlying connection and closes it on exit, which also unblocks the
// reader.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debugw("write failed", "err", err)
				c.Close("")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debugw("ping failed", "err", err)
				c.Close("")
				return
			}
		case <-c.done:
			frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			return
		}
	}
}

// readLoop hands every text frame to onMessage until the peer goes away or the
// connection is closed locally.
func (c *wsConn) readLoop(maxMessage int64, onMessage func([]byte)) {
	if maxMessage <= 0 {
		maxMessage = defaultMaxMessage
	}
	pongWait := 2 * c.pingInterval
	c.ws.SetReadLimit(maxMessage)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debugw("read ended", "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		onMessage(msg)
	}
}
