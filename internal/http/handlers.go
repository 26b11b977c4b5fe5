package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"livespese/internal/core"
	applog "livespese/internal/log"
	"livespese/internal/view"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.startedAt).Round(time.Second).String(),
	})
}

// handleReady checks templates and the backend connection.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.templatesLoaded() {
		checks["templates"] = "ok"
	} else {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	}

	switch {
	case s.ping == nil:
		checks["backend"] = "in_process"
	default:
		if err := s.ping(ctx); err != nil {
			checks["backend"] = fmt.Sprintf("failed: %v", err)
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
		} else {
			checks["backend"] = "ok"
		}
	}

	checks["collection"] = s.collection
	checks["sessions"] = map[string]any{
		"active":       s.sessions.size(),
		"open_streams": s.metrics.openStreams.Load(),
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	traceMetrics := s.tracer.GetMetrics()
	rl := s.rateLimiter.GetMetrics()
	sec := s.detector.GetMetrics()

	metric := func(name, kind, help string, value int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_requests_in_flight", "gauge", "Requests currently being served", traceMetrics.InFlight)
	metric("http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	metric("items_added_total", "counter", "Items added through this process", s.metrics.itemsAdded.Load())
	metric("items_deleted_total", "counter", "Items deleted through this process", s.metrics.itemsDeleted.Load())
	metric("item_add_failures_total", "counter", "Store writes that failed on add", s.metrics.addFailures.Load())
	metric("item_delete_failures_total", "counter", "Store writes that failed on delete", s.metrics.deleteFailure.Load())
	metric("sessions_active", "gauge", "Live view sessions", int64(s.sessions.size()))
	metric("event_streams_open", "gauge", "Open server-sent event streams", s.metrics.openStreams.Load())
	metric("rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", rl.TotalHits)
	metric("rate_limit_clients", "gauge", "Clients tracked by the rate limiter", rl.ClientCount)
	metric("security_suspicious_requests_total", "counter", "Requests flagged as probes", sec.SuspiciousRequests)
	metric("security_invalid_ip_total", "counter", "Malformed forwarding headers", sec.InvalidIPAttempts)
	metric("uptime_seconds", "gauge", "Seconds since start", int64(time.Since(s.metrics.startedAt).Seconds()))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	st := awaitLoaded(r.Context(), c, s.loadWait)

	body, err := s.templates.render(pageIndex, newPageData(st))
	if err != nil {
		s.renderFailed(w, r, err, pageIndex)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleDraft records a keystroke in the add form.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	draft, _, err := ParseDraft(w, r)
	if err != nil {
		BadRequestError("Invalid request.").Write(w)
		return
	}
	c.EditDraft(draft)
	NoContent().Write(w)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	draft, present, err := ParseDraft(w, r)
	if err != nil {
		BadRequestError("Invalid request.").Write(w)
		return
	}
	if present {
		c.EditDraft(draft)
	}
	name := strings.TrimSpace(c.State().Draft.Name)

	err = c.Add(r.Context())
	switch {
	case err == nil:
		s.metrics.itemsAdded.Add(1)
	case isValidationError(err):
		applog.FromContext(r.Context()).DebugContext(r.Context(), "Draft rejected",
			applog.FieldOperation, applog.OpValidate,
			applog.FieldError, err)
	case errors.Is(err, view.ErrStopped):
		s.sessionGone(w, r)
		return
	default:
		s.metrics.addFailures.Add(1)
	}

	if !IsHTMX(r) {
		SeeOther("/").Write(w)
		return
	}

	st := c.State()
	body, rerr := s.templates.renderWithOOB(fragmentForm, newPageData(st), fragmentError)
	if rerr != nil {
		s.renderFailed(w, r, rerr, fragmentForm)
		return
	}
	resp := NewHTMXResponse().BodyHTML(body)
	if err == nil {
		resp.TriggerItemAdded(name).TriggerFormReset()
	}
	resp.Write(w)
}

func (s *Server) handleRequestDelete(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	id := mux.Vars(r)["id"]

	if err := c.RequestDelete(id); err != nil {
		NotFoundError("That item is no longer in the list.").Write(w)
		return
	}
	s.writeFragment(w, r, c, fragmentConfirm)
}

func (s *Server) handleConfirmDelete(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	id := mux.Vars(r)["id"]

	err := c.ConfirmDelete(r.Context(), id)
	switch {
	case err == nil:
		s.metrics.itemsDeleted.Add(1)
	case errors.Is(err, view.ErrNotConfirmed):
		ConflictError("Delete was not confirmed.").Write(w)
		return
	case errors.Is(err, view.ErrStopped):
		s.sessionGone(w, r)
		return
	default:
		s.metrics.deleteFailure.Add(1)
	}

	if !IsHTMX(r) {
		SeeOther("/").Write(w)
		return
	}
	body, rerr := s.templates.renderWithOOB(fragmentConfirm, newPageData(c.State()), fragmentError)
	if rerr != nil {
		s.renderFailed(w, r, rerr, fragmentConfirm)
		return
	}
	resp := NewHTMXResponse().BodyHTML(body)
	if err == nil {
		resp.TriggerItemDeleted(id).TriggerSuccessNotification("Item deleted.")
	}
	resp.Write(w)
}

func (s *Server) handleCancelDelete(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	c.CancelDelete()
	s.writeFragment(w, r, c, fragmentConfirm)
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	c.DismissAlert()
	s.writeFragment(w, r, c, fragmentAlert)
}

type apiItem struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     json.Number `json:"price"`
	CreatedAt *time.Time  `json:"createdAt,omitempty"`
}

type apiSnapshot struct {
	Items []apiItem `json:"items"`
	Total string    `json:"total"`
	Alert string    `json:"alert,omitempty"`
}

// handleAPIItems returns the session's current list as JSON.
func (s *Server) handleAPIItems(w http.ResponseWriter, r *http.Request) {
	_, c := s.sessions.session(w, r)
	st := awaitLoaded(r.Context(), c, s.loadWait)

	out := apiSnapshot{Items: make([]apiItem, 0, len(st.Items)), Total: st.TotalText(), Alert: st.Alert}
	for _, it := range st.Items {
		item := apiItem{ID: it.ID, Name: it.Name, Price: json.Number(it.Price.String())}
		if !it.CreatedAt.IsZero() {
			t := it.CreatedAt.UTC()
			item.CreatedAt = &t
		}
		out.Items = append(out.Items, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// writeFragment answers an htmx intent with one re-rendered region, or
// redirects a plain form post back to the page.
func (s *Server) writeFragment(w http.ResponseWriter, r *http.Request, c *view.Controller, name string) {
	if !IsHTMX(r) {
		SeeOther("/").Write(w)
		return
	}
	body, err := s.templates.render(name, newPageData(c.State()))
	if err != nil {
		s.renderFailed(w, r, err, name)
		return
	}
	NewHTMXResponse().BodyHTML(body).Write(w)
}

// sessionGone handles a controller stopped between lookup and use, which
// happens when the session is evicted or the server is shutting down.
func (s *Server) sessionGone(w http.ResponseWriter, r *http.Request) {
	if IsHTMX(r) {
		NewHTMXResponse().Header("HX-Refresh", "true").Write(w)
		return
	}
	SeeOther("/").Write(w)
}

func (s *Server) renderFailed(w http.ResponseWriter, r *http.Request, err error, name string) {
	applog.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
		applog.FieldOperation, applog.OpRender,
		"template", name,
		applog.FieldError, err)
	InternalServerError("Something went wrong. Please reload the page.").Write(w)
}

func isValidationError(err error) bool {
	return errors.Is(err, core.ErrEmptyName) ||
		errors.Is(err, core.ErrEmptyPrice) ||
		errors.Is(err, core.ErrInvalidPrice)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
