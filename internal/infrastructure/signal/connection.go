package signal

import (
	"sync"
	"time"

	"meetsignal/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// action tells the write pump what to do with an intercepted event.
type action int

const (
	deliver action = iota
	skip
	deliverThenClose
)

// Close reasons sent with server-initiated closes.
const (
	reasonKicked       = "kicked"
	reasonSlowConsumer = "send buffer full"
	reasonShutdown     = "server shutting down"
)

// Connection is one websocket. It is a bus subscriber: Deliver queues the
// event and the write pump sends it, so a slow client never blocks the bus.
type Connection struct {
	id     domain.ConnectionID
	ws     *websocket.Conn
	events chan domain.Event
	done   chan struct{}
	logger *zap.SugaredLogger

	writeTimeout time.Duration
	pingInterval time.Duration

	// intercept runs in the write pump before an event is written.
	intercept func(ev domain.Event) (action, int, string)
	onDrop    func(reason string)

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConnection(id domain.ConnectionID, ws *websocket.Conn, cfg Config, logger *zap.SugaredLogger) *Connection {
	return &Connection{
		id:           id,
		ws:           ws,
		events:       make(chan domain.Event, cfg.SendBufferSize),
		done:         make(chan struct{}),
		logger:       logger,
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		closeCode:    websocket.CloseNormalClosure,
	}
}

func (c *Connection) ID() domain.ConnectionID {
	return c.id
}

// Deliver queues ev without blocking. A client that cannot keep up is closed.
func (c *Connection) Deliver(ev domain.Event) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.events <- ev:
	default:
		if c.onDrop != nil {
			c.onDrop("send_buffer_full")
		}
		c.logger.Warnw("Send buffer full, closing connection", "event", ev.Type)
		c.Close(websocket.CloseTryAgainLater, reasonSlowConsumer)
	}
}

// Close asks the write pump to send a close frame and shut the socket. Only
// the first call takes effect.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// writePump owns all writes to the socket.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.events:
			act, code, reason := deliver, 0, ""
			if c.intercept != nil {
				act, code, reason = c.intercept(ev)
			}
			if act == skip {
				continue
			}
			select {
			case <-c.done:
				c.writeClose()
				return
			default:
			}
			if err := c.write(websocket.TextMessage, ev.Frame); err != nil {
				c.logger.Debugw("Write failed", "error", err)
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
			if act == deliverThenClose {
				c.Close(code, reason)
				c.writeClose()
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-c.done:
			c.writeClose()
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) writeClose() {
	if c.closeCode == websocket.CloseAbnormalClosure {
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
}

// reject closes a freshly upgraded socket that was refused entry.
func reject(ws *websocket.Conn, code int, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	ws.Close()
}
