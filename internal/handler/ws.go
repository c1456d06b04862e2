package handler

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/notify"
)

// EventSubscribed is the first frame on every socket. It lists the channels
// the connection joined.
const EventSubscribed = "subscribed"

var errSlowConsumer = errors.New("subscriber send buffer full")

// wsConn adapts a websocket to notify.Conn. Frames are queued and written by
// a single goroutine.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

var _ notify.Conn = (*wsConn)(nil)

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

func (c *wsConn) close() {
	c.once.Do(func() { close(c.done) })
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(h.cfg.AllowedOrigins) == 0 || origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return slices.ContainsFunc(h.cfg.AllowedOrigins, func(o string) bool {
				return o == "*" || strings.EqualFold(o, u.Scheme+"://"+u.Host)
			})
		},
	}
}

// channelsFor returns the channels the caller may join: its own user channel
// when a user id is given, plus the staff channel for a valid staff key.
// Browsers cannot set headers on upgrade requests, so query parameters are
// accepted too.
func (h *Handler) channelsFor(r *http.Request) ([]notify.Channel, error) {
	var chans []notify.Channel
	userID := r.Header.Get(HeaderUserID)
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if userID != "" {
		chans = append(chans, notify.User(userID))
	}

	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		key = r.URL.Query().Get("apiKey")
	}
	if key != "" {
		_, err := h.keys.Verify(r.Context(), key, auth.ScopeStaff)
		switch {
		case err == nil:
			chans = append(chans, notify.Staff())
		case !errors.Is(err, auth.ErrUnauthorized):
			return nil, err
		}
	}
	return chans, nil
}

func subscribedEvent(chans []notify.Channel) notify.Event {
	return notify.NewEvent(EventSubscribed, func(e *jx.Encoder) {
		e.Field("channels", func(e *jx.Encoder) {
			e.ArrStart()
			for _, ch := range chans {
				e.Str(ch.String())
			}
			e.ArrEnd()
		})
	})
}

// subscribe upgrades to a websocket and streams notifications until the peer
// disconnects. Inbound messages are ignored.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	chans, err := h.channelsFor(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if len(chans) == 0 {
		writeError(w, http.StatusUnauthorized, "user id or staff key required")
		return
	}

	ws, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		zctx.From(r.Context()).Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	conn := &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
	lg := zctx.From(r.Context()).With(zap.String("conn_id", conn.id))

	conn.send <- subscribedEvent(chans).Frame()
	for _, ch := range chans {
		h.hub.Subscribe(conn, ch)
	}
	lg.Debug("Subscriber connected", zap.Int("channels", len(chans)))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, lg)
	}()
	h.readLoop(conn)

	h.hub.Remove(conn)
	conn.close()
	<-writerDone
	_ = ws.Close()
	lg.Debug("Subscriber disconnected")
}

func (h *Handler) readLoop(c *wsConn) {
	readWait := 2 * h.cfg.PingInterval
	c.ws.SetReadLimit(4096)
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(c *wsConn, lg *zap.Logger) {
	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				lg.Debug("Websocket write failed", zap.Error(err))
				c.close()
				_ = c.ws.Close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				c.close()
				_ = c.ws.Close()
				return
			}
		}
	}
}
