// Package admin serves the HTTP command channel and status page.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"time"

	"atmcs-sim/internal/config"
	"atmcs-sim/internal/logging"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/sim"
)

// Commander executes mount commands and exposes the published state.
// *sim.Simulator implements it.
type Commander interface {
	Do(ctx context.Context, cmd mount.Command) error
	Snapshot() *mount.State
	SessionID() string
	Dropped() uint64
}

type Server struct {
	sim     Commander
	cfg     *config.MountConfig
	metrics http.Handler
	tpl     *template.Template
	mux     *http.ServeMux
	timeout time.Duration
}

//go:embed templates/index.html
var content embed.FS

const defaultCommandTimeout = 5 * time.Second

// NewServer builds the admin server. A nil metrics handler disables
// /metrics.
func NewServer(s Commander, cfg *config.MountConfig, metrics http.Handler) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	srv := &Server{sim: s, cfg: cfg, metrics: metrics, tpl: tpl, mux: http.NewServeMux(), timeout: defaultCommandTimeout}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /state", s.handleState)
	s.mux.HandleFunc("POST /enable", s.simple(mount.Enable))
	s.mux.HandleFunc("POST /disable", s.simple(mount.Disable))
	s.mux.HandleFunc("POST /reset", s.simple(mount.ResetFault))
	s.mux.HandleFunc("POST /stop", s.simple(mount.StopTracking))
	s.mux.HandleFunc("POST /track", s.handleTrack)
	s.mux.HandleFunc("POST /m3", s.handleM3)
	s.mux.HandleFunc("POST /fault", s.handleFault)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	log := logging.FromContext(ctx)
	hs := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	log.Info("admin server listening", "addr", addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type commandResponse struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	State   string `json:"operational_state"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, cmd mount.Command) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	err := s.sim.Do(ctx, cmd)
	resp := commandResponse{ID: cmd.ID.String(), Command: cmd.Kind.String()}
	if st := s.sim.Snapshot(); st != nil {
		resp.State = st.Operational.String()
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		resp.Error = err.Error()
		logging.FromContext(r.Context()).Debug("admin command rejected", "command", resp.Command, "error", err)
	}
	writeJSON(w, status, resp)
}

// statusFor maps a command error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mount.ErrInvalidState), errors.Is(err, mount.ErrBusy), errors.Is(err, sim.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, mount.ErrLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mount.ErrInvalidArgument), errors.Is(err, m3.ErrInvalidPort):
		return http.StatusBadRequest
	case errors.Is(err, sim.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) simple(build func() mount.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.execute(w, r, build())
	}
}

// trackRequest is the body of POST /track. A missing time refers to the
// current simulation time.
type trackRequest struct {
	Elevation  mount.AxisTarget `json:"elevation"`
	Azimuth    mount.AxisTarget `json:"azimuth"`
	Rotator1   mount.AxisTarget `json:"rotator1"`
	Rotator2   mount.AxisTarget `json:"rotator2"`
	Rotator3   mount.AxisTarget `json:"rotator3"`
	Time       *float64         `json:"time"`
	ValidUntil float64          `json:"valid_until"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t := mount.TrackTarget{
		Elevation:  req.Elevation,
		Azimuth:    req.Azimuth,
		Rotator1:   req.Rotator1,
		Rotator2:   req.Rotator2,
		Rotator3:   req.Rotator3,
		ValidUntil: req.ValidUntil,
	}
	if req.Time != nil {
		t.Time = *req.Time
	} else if st := s.sim.Snapshot(); st != nil {
		t.Time = st.Time
	}
	s.execute(w, r, mount.Track(t))
}

func (s *Server) handleM3(w http.ResponseWriter, r *http.Request) {
	var port m3.Port
	if q := r.URL.Query().Get("port"); q != "" {
		p, err := m3.ParsePort(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		port = p
	} else {
		var req struct {
			Port any `json:"port"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := portValue(req.Port)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		port = p
	}
	s.execute(w, r, mount.MoveM3(port))
}

// portValue accepts a JSON number or a port name.
func portValue(v any) (m3.Port, error) {
	switch v := v.(type) {
	case float64:
		if v == math.Trunc(v) && m3.Port(v).Valid() {
			return m3.Port(v), nil
		}
	case string:
		return m3.ParsePort(v)
	}
	return 0, fmt.Errorf("%w: %v", m3.ErrInvalidPort, v)
}

func (s *Server) handleFault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}
	s.execute(w, r, mount.InjectFault(req.Reason))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.sim.Snapshot()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no state published yet"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		SessionID string
		State     *mount.State
		Dropped   uint64
		Config    *config.MountConfig
		Metrics   bool
	}{
		SessionID: s.sim.SessionID(),
		State:     s.sim.Snapshot(),
		Dropped:   s.sim.Dropped(),
		Config:    s.cfg,
		Metrics:   s.metrics != nil,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		logging.FromContext(r.Context()).Error("render status page", "error", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
