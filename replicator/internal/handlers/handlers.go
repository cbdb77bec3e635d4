package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowlake/flowlake/common/httputil"
	"github.com/flowlake/flowlake/common/logging"
	"github.com/flowlake/flowlake/common/messaging"
	"github.com/flowlake/flowlake/replicator/internal/lease"
	"github.com/flowlake/flowlake/replicator/internal/scheduler"
	"github.com/flowlake/flowlake/replicator/internal/service"
)

const statusResourceType = "replicator-status"

// SchedulerStatus exposes the scheduler state.
type SchedulerStatus interface {
	Status() scheduler.Status
}

// WatermarkReader returns the published watermark.
type WatermarkReader interface {
	Watermark() time.Time
}

// ReadyChecker reports whether the destination schema exists.
type ReadyChecker interface {
	Ready() bool
}

// Deps groups the handler dependencies. Lease and Messaging are optional.
type Deps struct {
	Table     string
	Scheduler SchedulerStatus
	Watermark WatermarkReader
	Schema    ReadyChecker
	Lease     lease.Lease
	Messaging messaging.Client
	Logger    *logging.Logger
}

// Handler serves the replicator admin API.
type Handler struct {
	deps   Deps
	logger *logging.Logger
}

// StatusAttributes is the body of the status resource.
type StatusAttributes struct {
	State        string               `json:"state"`
	Running      bool                 `json:"running"`
	SchemaReady  bool                 `json:"schema_ready"`
	Watermark    time.Time            `json:"watermark"`
	LastRun      *time.Time           `json:"last_run,omitempty"`
	LastError    string               `json:"last_error,omitempty"`
	LastCycle    *service.CycleResult `json:"last_cycle,omitempty"`
	SkippedTicks int64                `json:"skipped_ticks"`
	LeaseHolder  string               `json:"lease_holder,omitempty"`
	LeaseError   string               `json:"lease_error,omitempty"`
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{deps: deps, logger: logger.With(logging.Component("admin"))}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONAPIMethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports readiness: the schema exists and the scheduler is running.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONAPIMethodNotAllowed(w, http.MethodGet)
		return
	}

	body := map[string]interface{}{}
	if h.deps.Messaging != nil {
		body["nats"] = messaging.CheckClientHealth(h.deps.Messaging)
	}

	switch {
	case h.deps.Schema == nil || !h.deps.Schema.Ready():
		body["status"] = "not ready"
		body["reason"] = "schema not ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
	case h.deps.Scheduler == nil || !h.deps.Scheduler.Status().Running:
		body["status"] = "not ready"
		body["reason"] = "scheduler not running"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
	default:
		body["status"] = "ready"
		httputil.WriteJSON(w, http.StatusOK, body)
	}
}

// Status returns the replicator status resource.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONAPIMethodNotAllowed(w, http.MethodGet)
		return
	}

	if h.deps.Scheduler == nil || h.deps.Watermark == nil {
		h.logger.ErrorContext(r.Context(), "status requested before the replicator was wired")
		httputil.WriteJSONAPIInternalError(w, "replicator status unavailable")
		return
	}

	st := h.deps.Scheduler.Status()
	attrs := StatusAttributes{
		State:        st.State.String(),
		Running:      st.Running,
		LastError:    st.LastError,
		LastCycle:    st.LastResult,
		SkippedTicks: st.SkippedTicks,
		Watermark:    h.deps.Watermark.Watermark(),
	}
	if !st.LastRun.IsZero() {
		lastRun := st.LastRun.UTC()
		attrs.LastRun = &lastRun
	}
	if h.deps.Schema != nil {
		attrs.SchemaReady = h.deps.Schema.Ready()
	}
	if h.deps.Lease != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		holder, err := h.deps.Lease.Holder(ctx)
		cancel()
		if err != nil {
			h.logger.WarnContext(r.Context(), "failed to read lease holder", logging.Error(err))
			attrs.LeaseError = err.Error()
		}
		attrs.LeaseHolder = holder
	}

	h.logger.DebugContext(r.Context(), "status requested", slog.String("state", attrs.State))
	httputil.WriteJSONAPIResource(w, http.StatusOK, statusResourceType, h.deps.Table, attrs)
}

// NotFound answers requests for unknown admin routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONAPIError(w, http.StatusNotFound, "not_found", "Not Found",
		"No admin route for "+r.URL.Path)
}
