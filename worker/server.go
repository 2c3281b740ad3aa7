package worker

import (
	"context"
	"encoding/json"
	"net/http"
)

// queueDepther is the slice of broker.Broker the status endpoint needs.
type queueDepther interface {
	QueueDepth(ctx context.Context) (int, error)
}

// Server exposes the Worker's informational status surface (spec.md §6
// "Status endpoints (informational, out of core)").
type Server struct {
	pool   *Pool
	broker queueDepther
}

// NewServer wraps a Pool for HTTP serving. b supplies queue depth; pass
// the same broker.Broker given to New.
func NewServer(pool *Pool, b queueDepther) *Server {
	return &Server{pool: pool, broker: b}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.pool.Status()
	if depth, err := s.broker.QueueDepth(r.Context()); err == nil {
		status.Queued = depth
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
