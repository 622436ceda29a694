package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/stepwise/internal/engine"
	"github.com/kode4food/stepwise/pkg/api"
	"github.com/kode4food/stepwise/pkg/log"
)

type (
	// Client represents a WebSocket client connection for event streaming
	Client struct {
		conn     *websocket.Conn
		consumer topic.Consumer[engine.Event]
		filter   EventFilter
	}

	// EventFilter selects the events sent to a client
	EventFilter func(engine.Event) bool
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	wsBufferSize = 1024

	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and streams the
// events accepted by filter
func HandleWebSocket(
	hub *EventHub, w http.ResponseWriter, r *http.Request, filter EventFilter,
) {
	consumer := hub.topic.NewConsumer()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		consumer.Close()
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		conn:     conn,
		consumer: consumer,
		filter:   filter,
	}
	go client.run()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	ids := c.QueryArray("schedule_id")
	types := c.QueryArray("type")
	HandleWebSocket(s.hub, c.Writer, c.Request, BuildFilter(ids, types))
}

func (c *Client) run() {
	defer func() {
		c.consumer.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	closed := make(chan struct{})
	go c.drainReads(closed)

	for {
		select {
		case <-closed:
			return

		case ev, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(ev) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

// drainReads consumes control frames until the peer goes away
func (c *Client) drainReads(closed chan<- struct{}) {
	defer close(closed)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) sendEventIfMatched(ev engine.Event) bool {
	if !c.filter(ev) {
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

// BuildFilter accepts events of the listed schedules and event types. An
// empty list places no restriction
func BuildFilter(ids, types []string) EventFilter {
	idSet := make(map[api.ScheduleID]bool, len(ids))
	for _, id := range ids {
		idSet[api.ScheduleID(id)] = true
	}
	typeSet := make(map[api.EventType]bool, len(types))
	for _, t := range types {
		typeSet[api.EventType(t)] = true
	}

	return func(ev engine.Event) bool {
		if len(idSet) > 0 && !idSet[ev.ScheduleID] {
			return false
		}
		return len(typeSet) == 0 || typeSet[ev.Type]
	}
}
