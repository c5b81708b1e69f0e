package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rustyeddy/trailguard/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Health reports when the driver last completed a tick.
type Health interface {
	LastSuccess() time.Time
}

// ServerConfig wires the status server. MaxTickAge is how stale the last
// successful tick may be before /healthz fails.
type ServerConfig struct {
	Addr       string
	MaxTickAge time.Duration
	Metrics    *Metrics
	Health     Health
	Store      state.Store
	Logger     *slog.Logger
	Now        func() time.Time
}

type Server struct {
	cfg  ServerConfig
	srv  *http.Server
	log  *slog.Logger
	now  func() time.Time
	boot time.Time
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg, log: cfg.Logger, now: cfg.Now}
	s.boot = s.now()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Router returns the routes without starting a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/state", s.listState).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("status server: %w", err)
			return
		}
		errc <- nil
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.log.Info("status server shutting down")
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return <-errc
}

type healthResponse struct {
	Status      string    `json:"status"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	AgeSeconds  float64   `json:"age_seconds"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK

	if s.cfg.Health != nil {
		last := s.cfg.Health.LastSuccess()
		since := last
		if last.IsZero() {
			since = s.boot
		} else {
			resp.LastSuccess = last.UTC()
		}
		age := s.now().Sub(since)
		resp.AgeSeconds = age.Seconds()
		if s.cfg.MaxTickAge > 0 && age > s.cfg.MaxTickAge {
			resp.Status = "stale"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

type stateRow struct {
	Key                  string    `json:"key"`
	Symbol               string    `json:"symbol"`
	Side                 string    `json:"side"`
	Threshold            float64   `json:"threshold"`
	ProfitTargetDistance float64   `json:"profit_target_distance"`
	PendingStopOrderID   string    `json:"pending_stop_order_id,omitempty"`
	StopPrice            float64   `json:"stop_price,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (s *Server) listState(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeJSON(w, http.StatusOK, []stateRow{})
		return
	}
	recs, err := s.cfg.Store.List(r.Context())
	if err != nil {
		s.log.Error("state listing failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	rows := make([]stateRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, stateRow{
			Key:                  rec.Key.Name(),
			Symbol:               rec.Key.Symbol,
			Side:                 string(rec.Key.Side),
			Threshold:            rec.Trailing.Threshold,
			ProfitTargetDistance: rec.Trailing.ProfitTargetDistance,
			PendingStopOrderID:   rec.Trailing.PendingStopOrderID,
			StopPrice:            rec.Trailing.StopPrice,
			UpdatedAt:            rec.Trailing.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
