package wsserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/grouptalk/internal/model"
	"github.com/and161185/grouptalk/internal/protocol"
	"github.com/and161185/grouptalk/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Conn is one websocket client. Dispatch runs on the read goroutine, so the
// session fields below are only touched from there.
type Conn struct {
	ws   *websocket.Conn
	id   string
	addr string
	log  *zap.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rateLimiter

	account     *model.Account
	reactivated bool
}

var _ session.Conn = (*Conn)(nil)

func newConn(ws *websocket.Conn, addr string, limiter *rateLimiter, log *zap.Logger) *Conn {
	id := uuid.Must(uuid.NewV4()).String()
	return &Conn{
		ws:      ws,
		id:      id,
		addr:    addr,
		log:     log.With(zap.String("conn", id), zap.String("peer", addr)),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		limiter: limiter,
	}
}

// ID is unique per connection.
func (c *Conn) ID() string { return c.id }

// RemoteAddr is the peer address.
func (c *Conn) RemoteAddr() string { return c.addr }

// Account returns the logged-in account or nil.
func (c *Conn) Account() *model.Account { return c.account }

// Send encodes e and queues it without blocking.
func (c *Conn) Send(e protocol.Envelope) error {
	raw, err := protocol.Encode(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Close stops both pumps. Frames already queued are flushed first.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readPump delivers text frames to handle until the peer goes away or Close is called.
func (c *Conn) readPump(maxSize int64, handle func(raw []byte)) {
	defer func() {
		_ = c.Close()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close in readPump", zap.Error(err))
		}
	}()

	c.ws.SetReadLimit(maxSize)
	c.setupReadConnection()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err, maxSize)
			return
		}
		if c.closed() {
			return
		}
		if c.limiter != nil && !c.limiter.allow() {
			c.log.Warn("rate limit exceeded, discarding frame")
			_ = c.Send(protocol.New(protocol.TypeError, "Rate limit exceeded"))
			continue
		}
		handle(raw)
	}
}

func (c *Conn) setupReadConnection() {
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("set read deadline", zap.Error(err))
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Conn) handleReadError(err error, maxSize int64) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", zap.Int64("max", maxSize))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	default:
		c.log.Info("websocket read error", zap.Error(err))
	}
}

// writePump owns all writes to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("close in writePump", zap.Error(err))
		}
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.writeFrame(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.flush()
			c.writeFrame(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.writeFrame(websocket.TextMessage, msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) writeFrame(kind int, data []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("set write deadline", zap.Error(err))
		return false
	}
	if err := c.ws.WriteMessage(kind, data); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Info("websocket write error", zap.Error(err))
		}
		return false
	}
	return true
}

func isExpectedCloseError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
