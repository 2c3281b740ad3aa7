// Package reservation implements the Interface: the createReservation
// HTTP surface that validates a plugin invocation, fires it synchronously
// through the shared invoker, and — for recurring plugins — registers the
// new reservation with the Scheduler, spec.md §4.5/§6.
package reservation

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fenwicklabs/reservoir/catalog"
	"github.com/fenwicklabs/reservoir/errors"
	"github.com/fenwicklabs/reservoir/invoker"
	"github.com/fenwicklabs/reservoir/logger"
	"github.com/fenwicklabs/reservoir/plugin"
)

// Config tunes the Interface's outbound call to the Scheduler.
type Config struct {
	SchedulerURL string // base URL, e.g. "http://scheduler:8080"
	HTTPTimeout  time.Duration
}

// Server is the Interface HTTP handler.
type Server struct {
	cfg      Config
	registry *plugin.Registry
	invoker  *invoker.Invoker
	catalog  catalog.Store
	client   *http.Client
}

// NewServer builds an Interface server.
func NewServer(cfg Config, registry *plugin.Registry, inv *invoker.Invoker, store catalog.Store) *Server {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		invoker:  inv,
		catalog:  store,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/function/", s.handleCreateReservation)
	return mux
}

const functionPathPrefix = "/function/"

// handleCreateReservation implements spec.md §6's
// "POST /function/<path>?<kwargs>" contract.
func (s *Server) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	functionName := strings.TrimPrefix(r.URL.Path, functionPathPrefix)
	if functionName == "" {
		writeError(w, http.StatusBadRequest, "function_name is required")
		return
	}

	reg, ok := s.registry.Get(functionName)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown function_name: "+functionName)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	args, err := validateArgs(reg, r.Form)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if reg.IntervalSeconds <= 0 {
		result := s.invoker.Invoke(r.Context(), functionName, "", args)
		if result.Kind == invoker.Failed {
			writeError(w, http.StatusInternalServerError, "plugin invocation failed")
			return
		}
		writeJSON(w, http.StatusOK, result.Value)
		return
	}

	id := uuid.New()
	reservationUUID := strings.ReplaceAll(id.String(), "-", "")

	result := s.invoker.Invoke(r.Context(), functionName, reservationUUID, args)
	if result.Kind == invoker.Failed {
		writeError(w, http.StatusInternalServerError, "plugin invocation failed")
		return
	}

	if err := s.catalog.InsertReservation(r.Context(), catalog.Reservation{
		UUID:      reservationUUID,
		Type:      functionName,
		AccountID: parseAccountID(r.Form.Get("account_id")),
	}); err != nil {
		logger.InterfaceInfow("failed to persist reservation", "reservation_id", reservationUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist reservation")
		return
	}

	if err := s.notifyScheduler(r.Context(), reservationUUID, functionName); err != nil {
		logger.InterfaceInfow("failed to notify scheduler", "reservation_id", reservationUUID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to register reservation with scheduler")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{reservationUUID: result.Value})
}

// validateArgs enforces spec.md §4.5's argument contract: required
// arguments must be present, optional arguments are copied if present,
// unrecognized arguments are dropped, and values are coerced to valid
// UTF-8.
func validateArgs(reg plugin.Registration, form url.Values) (map[string]string, error) {
	args := make(map[string]string)
	for _, name := range reg.RequiredArgs {
		v := form.Get(name)
		if v == "" {
			return nil, errors.Newf("missing required argument: %s", name)
		}
		args[name] = coerceUTF8(v)
	}
	for _, name := range reg.OptionalArgs {
		if v := form.Get(name); v != "" {
			args[name] = coerceUTF8(v)
		}
	}
	return args, nil
}

// parseAccountID reads the caller-supplied account_id kwarg used to bind
// the new reservation to a content_<service>account row; callers that
// omit it get a reservation with no account backing (one-shot-shaped
// plugins typically don't need one).
func parseAccountID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func coerceUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}

// notifyScheduler registers the reservation with the Scheduler via its
// live-add endpoint (spec.md §6: a GET with query parameters).
func (s *Server) notifyScheduler(ctx context.Context, reservationUUID, functionName string) error {
	u, err := url.Parse(s.cfg.SchedulerURL + "/function/schedulerserver/remoteaddtoheap")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("uuid", reservationUUID)
	q.Set("type", functionName)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
