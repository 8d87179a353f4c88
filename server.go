package datalogger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusSnapshot is the latest known state of the running session.
type StatusSnapshot struct {
	State       string    `json:"state"`
	Device      string    `json:"device,omitempty"`
	Path        string    `json:"path,omitempty"`
	Records     int       `json:"records"`
	LastRecord  string    `json:"last_record,omitempty"`
	LastStatus  string    `json:"last_status,omitempty"`
	Temperature float64   `json:"ambient_temperature,omitempty"`
	Humidity    float64   `json:"ambient_humidity,omitempty"`
	Clients     int       `json:"clients"`
	Updated     time.Time `json:"updated"`
}

type portListing struct {
	PortDescriptor
	Likely bool `json:"likely"`
}

// Server exposes the live view of a session over HTTP.
type Server struct {
	hub       *WebSocketServer
	gatherer  prometheus.Gatherer
	listPorts func() ([]PortDescriptor, error)

	statusMux sync.Mutex
	status    StatusSnapshot
}

func NewServer(hub *WebSocketServer, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		hub:       hub,
		gatherer:  gatherer,
		listPorts: ListPorts,
		status:    StatusSnapshot{State: StateDisconnected.String()},
	}
	hub.OnEvent = s.observe
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/serial_ports", s.handleListSerialPorts)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.hub.HandleConnections)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start serves on addr until ctx is done. The hub broadcaster runs alongside.
func (s *Server) Start(ctx context.Context, addr string) {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go s.hub.Run(ctx.Done())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("starting web server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()
}

func (s *Server) observe(ev Event) {
	s.statusMux.Lock()
	defer s.statusMux.Unlock()

	s.status.Updated = ev.Time
	switch ev.Type {
	case EventSession:
		s.status.State = ev.State
		s.status.Device = ev.Device
		s.status.Path = ev.Path
		s.status.Records = ev.Records
	case EventRecord:
		s.status.Records = ev.Records
		s.status.LastRecord = ev.Text
	case EventStatus:
		s.status.LastStatus = ev.Text
	case EventAmbient:
		s.status.Temperature = ev.Temperature
		s.status.Humidity = ev.Humidity
	}
}

// Snapshot returns a copy of the current status.
func (s *Server) Snapshot() StatusSnapshot {
	s.statusMux.Lock()
	snap := s.status
	s.statusMux.Unlock()
	snap.Clients = s.hub.ClientCount()
	return snap
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Snapshot())
}

func (s *Server) handleListSerialPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		http.Error(w, "Failed to list serial ports", http.StatusInternalServerError)
		return
	}

	out := make([]portListing, 0, len(ports))
	for _, p := range ports {
		out = append(out, portListing{PortDescriptor: p, Likely: LooksLikeTarget(p.Description)})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
