package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/signaling"
	"pulsechat-backend/pkg/constants"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/response"
)

var (
	// ErrClientClosed is returned by Emit after the socket has closed
	ErrClientClosed = errors.New("signaling client closed")
	// ErrSendBufferFull is returned by Emit when the peer is not reading
	ErrSendBufferFull = errors.New("signaling client send buffer full")
)

// HubConfig holds the socket limits
type HubConfig struct {
	AllowedOrigins  []string
	MaxConnections  int
	EventsPerSecond float64
	EventBurst      int
}

// SignalingHub accepts signaling sockets and feeds their events to the dispatcher
type SignalingHub struct {
	dispatcher *signaling.Dispatcher
	upgrader   websocket.Upgrader

	eventRate  rate.Limit
	eventBurst int

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}

	mu      sync.Mutex
	clients map[*SignalingClient]struct{}
	wg      sync.WaitGroup
}

// SignalingClient is one signaling socket. It implements presence.Conn.
type SignalingClient struct {
	hub     *SignalingHub
	conn    *websocket.Conn
	id      string
	userID  uuid.UUID
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSignalingHub creates a new signaling hub
func NewSignalingHub(dispatcher *signaling.Dispatcher, cfg HubConfig) *SignalingHub {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 1000
	}

	h := &SignalingHub{
		dispatcher:     dispatcher,
		eventRate:      rate.Limit(cfg.EventsPerSecond),
		eventBurst:     cfg.EventBurst,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
		clients:        make(map[*SignalingClient]struct{}),
	}
	if cfg.EventsPerSecond <= 0 {
		h.eventRate = rate.Inf
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Reject empty origins - require explicit origin
				return false
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
	return h
}

// ServeWS upgrades GET /ws?userId=<uuid>
func (h *SignalingHub) ServeWS(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("userId"))
	if err != nil || userID == uuid.Nil {
		response.ValidationError(c, "userId query parameter must be a valid UUID")
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalingClient{
		hub:     h,
		conn:    conn,
		id:      uuid.NewString(),
		userID:  userID,
		send:    make(chan []byte, constants.WebSocketSendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(h.eventRate, h.eventBurst),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	go client.writePump()
	h.dispatcher.Connect(client, userID)
	go client.readPump()
}

// Shutdown closes every socket and waits for their disconnect handling
func (h *SignalingHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*SignalingClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of open sockets
func (h *SignalingHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *SignalingHub) remove(c *SignalingClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	<-h.semaphore
	h.wg.Done()
}

// ConnID identifies this socket among the user's connections
func (c *SignalingClient) ConnID() string { return c.id }

// Emit queues one {event, data} frame without blocking. A client whose
// buffer is full is closed.
func (c *SignalingClient) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(protocol.Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		logger.Warn("Closing slow signaling client",
			zap.String("user_id", c.userID.String()),
			zap.String("conn_id", c.id))
		c.close()
		return ErrSendBufferFull
	}
}

// close stops the write pump, which sends a close frame and closes the socket
func (c *SignalingClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// readPump reads events and handles them one at a time, in order
func (c *SignalingClient) readPump() {
	defer func() {
		c.close()
		c.hub.dispatcher.Disconnect(context.Background(), c, c.userID)
		c.hub.remove(c)
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			logger.Debug("Dropping signaling event over per-socket rate",
				zap.String("user_id", c.userID.String()))
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			logger.Debug("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}

		if env.Event == protocol.EventHeartbeat {
			c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		}

		c.hub.dispatcher.Handle(c.ctx, c, c.userID, env)
	}
}

// writePump writes queued frames and pings
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
