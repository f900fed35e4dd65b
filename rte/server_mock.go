package rte

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/hems/config"
	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/infra/logger"
	"github.com/kilianp07/hems/rte/generator"
)

// ServerMock serves Tempo colours locally with the public API and the RTE
// calendar formats. Days without a pinned colour come from a generated
// calendar.
type ServerMock struct {
	addr  string
	log   logger.Logger
	srv   *http.Server
	gen   *generator.Generator
	clock func() time.Time

	mu     sync.RWMutex
	pinned map[string]contract.Color

	total  *prometheus.CounterVec
	failed prometheus.Counter
}

// NewServerMock creates a mock server using the default Prometheus
// registerer.
func NewServerMock(cfg config.RTEMockConfig) (*ServerMock, error) {
	return NewServerMockWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewServerMockWithRegistry creates a mock server and registers its metrics
// on reg. If reg is nil the default registerer is used.
func NewServerMockWithRegistry(cfg config.RTEMockConfig, reg prometheus.Registerer) (*ServerMock, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	log := logger.New("rte-server-mock")

	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rte_mock_requests_total",
		Help: "Colour requests served by the Tempo mock",
	}, []string{"endpoint"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rte_mock_requests_failed",
		Help: "Colour requests rejected by the Tempo mock",
	})
	if err := reg.Register(total); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				total = exist
			} else {
				log.Errorf("existing collector for rte_mock_requests_total has wrong type %T", are.ExistingCollector)
			}
		}
	}
	if err := reg.Register(failed); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if exist, ok := are.ExistingCollector.(prometheus.Counter); ok {
				failed = exist
			} else {
				log.Errorf("existing collector for rte_mock_requests_failed has wrong type %T", are.ExistingCollector)
			}
		}
	}

	s := &ServerMock{
		addr:   cfg.Address,
		log:    log,
		gen:    generator.New(cfg.Seed),
		clock:  time.Now,
		pinned: map[string]contract.Color{},
		total:  total,
		failed: failed,
	}
	for day, name := range cfg.Colors {
		if _, err := time.Parse(dayLayout, day); err != nil {
			return nil, err
		}
		c, err := contract.ParseColor(name)
		if err != nil {
			return nil, err
		}
		s.pinned[day] = c
	}
	return s, nil
}

// Pin forces the colour of day.
func (s *ServerMock) Pin(day time.Time, c contract.Color) {
	s.mu.Lock()
	s.pinned[day.Format(dayLayout)] = c
	s.mu.Unlock()
}

// Color implements contract.ColorProvider so the mock can also be used in
// process.
func (s *ServerMock) Color(_ context.Context, day time.Time) (contract.Color, error) {
	return s.colorOf(day), nil
}

func (s *ServerMock) colorOf(day time.Time) contract.Color {
	s.mu.RLock()
	c, ok := s.pinned[day.Format(dayLayout)]
	s.mu.RUnlock()
	if ok {
		return c
	}
	return s.gen.Color(day)
}

func (s *ServerMock) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rte/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("pong")); err != nil {
			s.log.Errorf("write pong: %v", err)
		}
	})
	mux.HandleFunc("GET /api/jourTempo/{day}", s.handlePublic)
	mux.HandleFunc("PUT /api/jourTempo/{day}", s.handlePin)
	mux.HandleFunc("GET /open_api/tempo_like_supply_contract/v1/tempo_like_calendars", s.handleCalendar)
	return mux
}

func (s *ServerMock) dayOf(raw string) (time.Time, error) {
	now := s.clock()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(raw) {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}
	return time.ParseInLocation(dayLayout, raw, now.Location())
}

func (s *ServerMock) handlePublic(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayOf(r.PathValue("day"))
	if err != nil {
		s.failed.Inc()
		http.Error(w, "bad day", http.StatusBadRequest)
		return
	}
	s.total.WithLabelValues("jourTempo").Inc()
	c := s.colorOf(day)
	s.writeJSON(w, PublicDay{DateJour: day.Format(dayLayout), CodeJour: codeOf(c), Periode: periodOf(day)})
}

func (s *ServerMock) handlePin(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayOf(r.PathValue("day"))
	if err != nil {
		s.failed.Inc()
		http.Error(w, "bad day", http.StatusBadRequest)
		return
	}
	var body struct {
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.failed.Inc()
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	c, err := contract.ParseColor(body.Color)
	if err != nil {
		s.failed.Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.total.WithLabelValues("pin").Inc()
	s.Pin(day, c)
	s.log.Infof("pinned %s to %s", day.Format(dayLayout), c)
	w.WriteHeader(http.StatusNoContent)
}

func (s *ServerMock) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		s.failed.Inc()
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	start, err1 := time.Parse(rteTimeLayout, r.URL.Query().Get("start_date"))
	end, err2 := time.Parse(rteTimeLayout, r.URL.Query().Get("end_date"))
	if err1 != nil || err2 != nil || !end.After(start) {
		s.failed.Inc()
		http.Error(w, "bad date range", http.StatusBadRequest)
		return
	}
	s.total.WithLabelValues("tempo_like_calendars").Inc()
	var resp CalendarResponse
	resp.Calendars.StartDate = start.Format(rteTimeLayout)
	resp.Calendars.EndDate = end.Format(rteTimeLayout)
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		resp.Calendars.Values = append(resp.Calendars.Values, CalendarValue{
			StartDate: d.Format(rteTimeLayout),
			EndDate:   d.AddDate(0, 0, 1).Format(rteTimeLayout),
			Value:     rteValue(s.colorOf(d)),
		})
	}
	s.writeJSON(w, resp)
}

func (s *ServerMock) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("encode: %v", err)
	}
}

// Addr returns the listening address once Start has been called.
func (s *ServerMock) Addr() string { return s.addr }

// Start runs the HTTP server until the context is canceled.
func (s *ServerMock) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.srv = &http.Server{Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("shutdown server: %v", err)
		}
		cancel()
	}()
	s.log.Infof("Tempo mock server listening on %s", s.addr)
	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
