// Package socket serves live snippet lists over WebSocket.
//
// Protocol (JSON text frames):
//
//	client → {"type":"subscribe","id":"q1","criteria":{"language":"Go"},"sort":"titleAZ"}
//	server → {"type":"snapshot","id":"q1","snippets":[...]}   (initial, then after every relevant write)
//	client → {"type":"unsubscribe"}
//	server → {"type":"error","id":"q1","message":"..."}
//
// A connection holds at most one live list; a new subscribe replaces it.
// The id is echoed so a client can drop snapshots of a list it replaced.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/live"
	"github.com/sakif/codeshelf/internal/model"
	"github.com/sakif/codeshelf/internal/query"
	"github.com/sakif/codeshelf/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 16
)

const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeSnapshot    = "snapshot"
	TypeError       = "error"
)

// Inbound is a client request.
type Inbound struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	Criteria query.Criteria `json:"criteria"`
	Sort     string         `json:"sort,omitempty"`
}

// Snapshot carries the full, sorted result set of a live list.
type Snapshot struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Snippets []model.Snippet `json:"snippets"`
}

// Error reports a rejected request or a failed refresh. The live list, if
// any, stays subscribed.
type Error struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Handler upgrades GET /ws/snippets and runs one connection per request.
type Handler struct {
	svc      *service.SnippetService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a Handler. With no allowedOrigins every origin may
// connect, which is what local development with a separate UI server needs.
func NewHandler(svc *service.SnippetService, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		conn:   conn,
		svc:    h.svc,
		send:   make(chan any, sendBuffer),
		logger: h.logger,
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		c.writePump(ctx)
	}()

	c.readPump(ctx)

	cancel()
	<-writerDone
	_ = conn.Close()
}

// client is one connection. readPump runs on the request goroutine and owns
// the subscription; writePump is the only writer to conn.
type client struct {
	conn   *websocket.Conn
	svc    *service.SnippetService
	send   chan any
	sub    *live.Subscription
	logger *slog.Logger
}

// enqueue hands msg to the writer, or gives up when the connection is gone.
func (c *client) enqueue(ctx context.Context, msg any) {
	select {
	case c.send <- msg:
	case <-ctx.Done():
	}
}

func (c *client) readPump(ctx context.Context) {
	defer c.unsubscribe()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				// The frame was consumed; the connection is still usable.
				c.enqueue(ctx, Error{Type: TypeError, Message: "message is not valid JSON"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch msg.Type {
		case TypeSubscribe:
			c.subscribe(ctx, msg)
		case TypeUnsubscribe:
			c.unsubscribe()
		default:
			c.enqueue(ctx, Error{Type: TypeError, ID: msg.ID, Message: "unknown message type " + msg.Type})
		}
	}
}

func (c *client) subscribe(ctx context.Context, msg Inbound) {
	c.unsubscribe()

	d := query.Compose(msg.Criteria)
	key := query.ParseSortKey(msg.Sort)
	id := msg.ID

	sub, err := c.svc.List(ctx, d,
		func(snippets []model.Snippet) {
			sorted := query.Sorted(snippets, key)
			if sorted == nil {
				sorted = []model.Snippet{}
			}
			c.enqueue(ctx, Snapshot{Type: TypeSnapshot, ID: id, Snippets: sorted})
		},
		service.OnError(func(err error) {
			c.logger.Warn("websocket live list refresh failed", slog.String("error", err.Error()))
			c.enqueue(ctx, Error{Type: TypeError, ID: id, Message: clientMessage(err)})
		}),
	)
	if err != nil {
		c.enqueue(ctx, Error{Type: TypeError, ID: id, Message: clientMessage(err)})
		return
	}
	c.sub = sub
}

func (c *client) unsubscribe() {
	if c.sub != nil {
		c.sub.Cancel()
		c.sub = nil
	}
}

// writePump closes conn when it exits, which also unblocks readPump.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// clientMessage hides store internals behind the AppError message.
func clientMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "request failed"
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
