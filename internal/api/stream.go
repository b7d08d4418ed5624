package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/resistance-prediction-engine/internal/events"
)

const (
	streamSendBuffer = 64
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// streamMessage is the JSON frame pushed to websocket subscribers.
type streamMessage struct {
	Type       events.EventType `json:"type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    any              `json:"payload"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventStream fans dispatcher events out to websocket clients. Slow clients are dropped rather
// than blocking the dispatcher.
type EventStream struct {
	upgrader   websocket.Upgrader
	dispatcher *events.Dispatcher
	handlerIDs []events.HandlerID
	logger     *logrus.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

// NewEventStream subscribes to every event type on the dispatcher.
func NewEventStream(dispatcher *events.Dispatcher, logger *logrus.Logger) *EventStream {
	s := &EventStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dispatcher: dispatcher,
		logger:     logger,
		clients:    make(map[*streamClient]struct{}),
	}
	for _, et := range events.AllEventTypes() {
		s.handlerIDs = append(s.handlerIDs, dispatcher.Register(et, "websocket_stream", s.broadcast))
	}
	return s
}

// ClientCount returns the number of connected subscribers.
func (s *EventStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *EventStream) broadcast(ctx context.Context, evt events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}

	msg, err := json.Marshal(streamMessage{Type: evt.Type, OccurredAt: evt.OccurredAt, Payload: evt.Payload})
	if err != nil {
		return err
	}

	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
			s.logger.Warn("Event stream client too slow, disconnecting")
			s.removeLocked(client)
		}
	}
	return nil
}

// Serve upgrades the request and streams events until the client goes away.
func (s *EventStream) Serve(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	s.logger.WithField("clients", s.ClientCount()).Debug("Event stream client connected")

	go s.writePump(client)
	s.readPump(client)
}

// readPump discards inbound frames and detects disconnects.
func (s *EventStream) readPump(client *streamClient) {
	defer s.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *EventStream) writePump(client *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *EventStream) remove(client *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(client)
}

func (s *EventStream) removeLocked(client *streamClient) {
	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.send)
}

// Close unsubscribes from the dispatcher and disconnects every client.
func (s *EventStream) Close() {
	for _, id := range s.handlerIDs {
		s.dispatcher.Unregister(id)
	}
	s.handlerIDs = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		s.removeLocked(client)
	}
}
