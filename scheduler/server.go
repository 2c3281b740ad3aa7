package scheduler

import (
	"encoding/json"
	"net/http"

	"github.com/fenwicklabs/reservoir/logger"
)

// Server exposes the Scheduler's sole post-startup admission surface:
// GET /function/schedulerserver/remoteaddtoheap?uuid=<hex32>&type=<function_name>
// (spec.md §4.3 "Live additions").
type Server struct {
	scheduler *Scheduler
}

// NewServer wraps a Scheduler for HTTP serving.
func NewServer(s *Scheduler) *Server {
	return &Server{scheduler: s}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/function/schedulerserver/remoteaddtoheap", s.handleRemoteAddToHeap)
	return mux
}

func (s *Server) handleRemoteAddToHeap(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	uuid := r.URL.Query().Get("uuid")
	functionName := r.URL.Query().Get("type")
	if uuid == "" || functionName == "" {
		writeError(w, http.StatusBadRequest, "uuid and type are required")
		return
	}

	if err := s.scheduler.AddToHeap(uuid, functionName); err != nil {
		// Invalid uuid and unknown function_name are both "rejected
		// silently (logged)" per spec.md §4.3: respond 200 regardless so
		// a caller never retries a request that will never succeed.
		logger.SchedulerWarnw("remoteaddtoheap rejected", "uuid", uuid, "type", functionName, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}
