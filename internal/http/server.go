package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// FeedStatus is an interface for checking the Kafka feed join state.
type FeedStatus interface {
	IsJoined() bool
}

type Server struct {
	srv    *http.Server
	feed   FeedStatus
	logger *zap.Logger

	mu         sync.RWMutex
	forwarding []byte // latest converged forwarding state, JSON
}

func NewServer(addr string, feed FeedStatus, logger *zap.Logger) *Server {
	s := &Server{
		feed:   feed,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/forwarding", s.handleForwarding)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

// SetForwarding publishes the latest converged forwarding state.
func (s *Server) SetForwarding(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshaling forwarding state", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.forwarding = data
	s.mu.Unlock()
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", s.srv.Addr))
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.feed != nil && !s.feed.IsJoined() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "feed not joined"})
		return
	}
	s.mu.RLock()
	ready := s.forwarding != nil
	s.mu.RUnlock()
	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no converged state yet"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleForwarding(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	data := s.forwarding
	s.mu.RUnlock()
	if data == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no converged state"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
