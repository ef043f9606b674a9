package hotpath

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/hotpath/pkg/hotpath/report"
)

// Server exposes the live query interface over HTTP:
//
//	GET /metrics              current aggregate snapshot
//	GET /samples?function=F   recent raw samples for one function
//
// Both degrade to an empty "no data" document when no session is
// active or the worker does not answer in time; a live endpoint must
// never fail its caller because profiling has nothing to say.
type Server struct {
	logger   zerolog.Logger
	port     int
	listener net.Listener
	server   *http.Server
	addr     string
}

// NewServer creates a metrics server for the given port.
func NewServer(logger zerolog.Logger, port int) *Server {
	return &Server{
		logger: logger.With().Str("component", "metrics-server").Logger(),
		port:   port,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/samples", s.handleSamples)
	s.server = &http.Server{Handler: mux}

	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("metrics server started")
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	return nil
}

// Stop closes the server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("stopping metrics server")
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rep, ok := Snapshot()
	if !ok {
		rep = &report.Report{
			Mode:        report.ModeTiming,
			CallerName:  "hotpath",
			Percentiles: []int{},
			Functions:   map[string]report.Row{},
		}
	}
	s.respondJSON(w, rep)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	function := r.URL.Query().Get("function")
	if function == "" {
		http.Error(w, "missing function parameter", http.StatusBadRequest)
		return
	}
	samples, ok := RecentSamples(function)
	if !ok {
		samples = []uint64{}
	}
	s.respondJSON(w, map[string]any{
		"function": function,
		"samples":  samples,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
