package datalogger

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	EventSession = "session"
	EventHeader  = "header"
	EventRecord  = "record"
	EventStatus  = "status"
	EventAmbient = "ambient"
)

// Event is what the logger tells live listeners about.
type Event struct {
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	Device      string    `json:"device,omitempty"`
	State       string    `json:"state,omitempty"`
	Text        string    `json:"text,omitempty"`
	Records     int       `json:"records,omitempty"`
	Path        string    `json:"path,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Humidity    float64   `json:"humidity,omitempty"`
}

// Publisher receives events from the ingestion loop. Publish must not block.
type Publisher interface {
	Publish(Event)
}

type WebSocketServer struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	upgrader   websocket.Upgrader
	clientsMux sync.Mutex
	dropped    atomic.Int64

	// OnEvent sees every event that reaches the broadcaster.
	OnEvent func(Event)
}

func NewWebSocketServer(buffer int) *WebSocketServer {
	if buffer <= 0 {
		buffer = 256
	}
	return &WebSocketServer{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, buffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Publish queues ev for broadcast and drops it when the queue is full. It
// never takes clientsMux, which send holds while writing to slow clients.
func (s *WebSocketServer) Publish(ev Event) {
	select {
	case s.broadcast <- ev:
	default:
		s.dropped.Add(1)
	}
}

func (s *WebSocketServer) Dropped() int {
	return int(s.dropped.Load())
}

func (s *WebSocketServer) ClientCount() int {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	return len(s.clients)
}

func (s *WebSocketServer) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer ws.Close()

	s.clientsMux.Lock()
	s.clients[ws] = true
	s.clientsMux.Unlock()

	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")
	defer func() {
		s.clientsMux.Lock()
		delete(s.clients, ws)
		s.clientsMux.Unlock()
		log.Debug().Str("remote", r.RemoteAddr).Msg("websocket client disconnected")
	}()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// Run broadcasts queued events until done is closed.
func (s *WebSocketServer) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			s.closeAll()
			return
		case ev := <-s.broadcast:
			if s.OnEvent != nil {
				s.OnEvent(ev)
			}
			s.send(ev)
		}
	}
}

func (s *WebSocketServer) send(ev Event) {
	message, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("marshal event")
		return
	}

	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for client := range s.clients {
		client.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Debug().Err(err).Msg("websocket write failed, dropping client")
			client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *WebSocketServer) closeAll() {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}
