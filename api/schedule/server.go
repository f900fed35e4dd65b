// Package schedule serves the control panel: schedule requests, the live
// network state and the decision log.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/infra/logger"
)

// Config configures the control panel API.
type Config struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	// Token, when set, is required as a bearer token (or a token query
	// parameter for websockets).
	Token string `json:"token"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
}

// Scheduler is the part of the network the panel may change.
type Scheduler interface {
	Schedules() map[string]*network.Schedule
	Enqueue(cmd network.ScheduleCommand) error
}

// StateSource exposes the control loop to the panel.
type StateSource interface {
	Latest() *network.Snapshot
	Wake()
}

// Server is the control panel HTTP server.
type Server struct {
	cfg       Config
	sched     Scheduler
	state     StateSource
	decisions decisionlog.Store
	hub       *Hub
	log       logger.Logger
	router    chi.Router
	upgrader  websocket.Upgrader
}

// New builds the router. decisions and hub may be nil.
func New(cfg Config, sched Scheduler, state StateSource, decisions decisionlog.Store, hub *Hub) *Server {
	cfg.SetDefaults()
	if decisions == nil {
		decisions = decisionlog.NopStore{}
	}
	if hub == nil {
		hub = NewHub()
	}
	s := &Server{
		cfg:       cfg,
		sched:     sched,
		state:     state,
		decisions: decisions,
		hub:       hub,
		log:       logger.New("api"),
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/schedules", s.listSchedules)
		r.Post("/schedules/{id}", s.setSchedule)
		r.Get("/network", s.network)
		r.Get("/decisions", s.listDecisions)
		r.Get("/ws", s.stream)
	})
	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub fed by the caller.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			ok := r.Header.Get("Authorization") == "Bearer "+s.cfg.Token ||
				(websocket.IsWebSocketUpgrade(r) && r.URL.Query().Get("token") == s.cfg.Token)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode response: %v", err)
	}
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	out := map[string]network.ScheduleState{}
	for id, sched := range s.sched.Schedules() {
		out[id] = sched.State()
	}
	s.writeJSON(w, http.StatusOK, out)
}

// scheduleRequest is the body of POST /api/schedules/{id}. Duration is in
// seconds; an empty timeout means none.
type scheduleRequest struct {
	Duration int       `json:"duration"`
	Timeout  time.Time `json:"timeout"`
}

func (s *Server) setSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Duration < 0 {
		http.Error(w, "duration must not be negative", http.StatusBadRequest)
		return
	}
	cmd := network.ScheduleCommand{NodeID: id, Duration: time.Duration(req.Duration) * time.Second, Timeout: req.Timeout}
	if err := s.sched.Enqueue(cmd); err != nil {
		switch {
		case errors.Is(err, network.ErrUnknownNode):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, network.ErrNotSwitchable):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	s.log.Infof("schedule %s: %ds until %v", id, req.Duration, req.Timeout)
	if s.state != nil {
		s.state.Wake()
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "duration": req.Duration, "timeout": req.Timeout})
}

func (s *Server) network(w http.ResponseWriter, _ *http.Request) {
	var snap *network.Snapshot
	if s.state != nil {
		snap = s.state.Latest()
	}
	if snap == nil {
		http.Error(w, "no cycle ran yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listDecisions(w http.ResponseWriter, r *http.Request) {
	q := decisionlog.Query{
		Node:     r.URL.Query().Get("node"),
		Strategy: r.URL.Query().Get("strategy"),
	}
	var err error
	if v := r.URL.Query().Get("start"); v != "" {
		if q.Start, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "bad start", http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if q.End, err = time.Parse(time.RFC3339, v); err != nil {
			http.Error(w, "bad end", http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
	}
	records, err := s.decisions.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []decisionlog.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("websocket upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	s.hub.register(c)
	go c.writePump()
	defer s.hub.unregister(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugf("websocket read: %v", err)
			}
			return
		}
	}
}

// Start serves until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown api: %v", err)
		}
	}()
	s.log.Infof("control panel API listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
