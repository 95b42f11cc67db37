package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/copperwatch/copperwatch/pkg/types"
	"github.com/copperwatch/copperwatch/server/internal/alerts"
	"github.com/copperwatch/copperwatch/server/internal/history"
	"github.com/copperwatch/copperwatch/server/internal/monitor"
	"github.com/copperwatch/copperwatch/server/internal/rules"
)

const (
	defaultAlertLimit = 100
	maxAlertLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	engine  *alerts.Engine
	history history.Store
	loop    *monitor.Loop
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes. loop may be nil, in which
// case snapshots cannot be pushed and health reports the monitor as stopped.
func New(eng *alerts.Engine, hist history.Store, loop *monitor.Loop) http.Handler {
	h := &Handler{engine: eng, history: hist, loop: loop, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/rules", h.rules)
	h.mux.HandleFunc("/api/v1/rules/", h.rule) // subtree: export, import, {id}
	h.mux.HandleFunc("/api/v1/templates", h.templates)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/snapshots", h.snapshots)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := HealthResponse{Status: "ok", Notifiers: h.engine.Notifiers()}
	if resp.Notifiers == nil {
		resp.Notifiers = []string{}
	}
	for _, s := range h.engine.Rules() {
		resp.RuleCount++
		if s.Enabled {
			resp.EnabledCount++
		}
	}
	if h.loop != nil {
		resp.MonitorRunning = h.loop.Running()
	}
	jsonResp(w, http.StatusOK, resp)
}

// rules serves GET (list) and POST (create) on /api/v1/rules.
func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		statuses := h.engine.Rules()
		out := make([]RuleResponse, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, toRuleResponse(s))
		}
		jsonResp(w, http.StatusOK, out)

	case http.MethodPost:
		var rec rules.Record
		if !decodeBody(w, r, &rec) {
			return
		}
		rule, err := rec.Rule()
		if err != nil {
			ruleErr(w, err)
			return
		}
		id, err := h.engine.AddRule(rule)
		if err != nil {
			ruleErr(w, err)
			return
		}
		s, _ := h.engine.Rule(id)
		jsonResp(w, http.StatusCreated, toRuleResponse(s))

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// rule dispatches /api/v1/rules/export, /api/v1/rules/import and
// /api/v1/rules/{id}.
func (h *Handler) rule(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	switch id {
	case "":
		h.rules(w, r)
		return
	case "export":
		h.exportRules(w, r)
		return
	case "import":
		h.importRules(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s, err := h.engine.Rule(id)
		if err != nil {
			ruleErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, toRuleResponse(s))

	case http.MethodPut:
		var rec rules.Record
		if !decodeBody(w, r, &rec) {
			return
		}
		if rec.ID != "" && rec.ID != id {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("body id %q does not match path id %q", rec.ID, id))
			return
		}
		rec.ID = id
		rule, err := rec.Rule()
		if err != nil {
			ruleErr(w, err)
			return
		}
		if err := h.engine.UpdateRule(rule); err != nil {
			ruleErr(w, err)
			return
		}
		s, _ := h.engine.Rule(id)
		jsonResp(w, http.StatusOK, toRuleResponse(s))

	case http.MethodPatch:
		var req EnabledRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Enabled == nil {
			jsonErr(w, http.StatusBadRequest, "enabled is required")
			return
		}
		if err := h.engine.SetEnabled(id, *req.Enabled); err != nil {
			ruleErr(w, err)
			return
		}
		s, _ := h.engine.Rule(id)
		jsonResp(w, http.StatusOK, toRuleResponse(s))

	case http.MethodDelete:
		if err := h.engine.RemoveRule(id); err != nil {
			ruleErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// exportRules returns GET /api/v1/rules/export?format=json|yaml.
func (h *Handler) exportRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	f, ok := format(w, r)
	if !ok {
		return
	}
	if f == rules.FormatYAML {
		w.Header().Set("Content-Type", "application/yaml")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := h.engine.ExportRules(w, f); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
}

// importRules handles POST /api/v1/rules/import?format=json|yaml. Valid
// records are registered even when others fail.
func (h *Handler) importRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	f, ok := format(w, r)
	if !ok {
		return
	}
	n, errs := h.engine.ImportRules(io.LimitReader(r.Body, maxBodyBytes), f)
	resp := ImportResponse{Imported: n, Errors: make([]string, 0, len(errs))}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}
	code := http.StatusOK
	if n == 0 && len(errs) > 0 {
		code = http.StatusBadRequest
	}
	jsonResp(w, code, resp)
}

// templates returns GET /api/v1/templates: the stock rule set as records.
func (h *Handler) templates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tpl := rules.Templates()
	out := make([]rules.Record, 0, len(tpl))
	for _, t := range tpl {
		out = append(out, rules.ToRecord(t))
	}
	jsonResp(w, http.StatusOK, out)
}

// alerts returns GET /api/v1/alerts, filtered by rule_id, since, until,
// min_severity or hours, and paginated with offset and limit.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	f, err := parseFilter(r, time.Now())
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.history.Query(r.Context(), f)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, AlertsResponse{
		Alerts: page.Events,
		Total:  page.Total,
		Offset: f.Offset,
		Limit:  f.Limit,
	})
}

// snapshots handles POST /api/v1/snapshots: a caller-supplied snapshot is
// evaluated immediately.
func (h *Handler) snapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.loop == nil {
		jsonErr(w, http.StatusServiceUnavailable, "snapshot ingestion is disabled")
		return
	}
	var req SnapshotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Fields) == 0 {
		jsonErr(w, http.StatusBadRequest, "fields are required")
		return
	}
	sum, err := h.loop.Submit(r.Context(), types.Snapshot{Timestamp: req.Timestamp, Fields: req.Fields})
	if err != nil {
		jsonErr(w, http.StatusConflict, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, toSummaryResponse(sum))
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// ruleErr maps engine and codec errors to HTTP statuses.
func ruleErr(w http.ResponseWriter, err error) {
	switch {
	case rules.IsNotFound(err):
		jsonErr(w, http.StatusNotFound, err.Error())
	case rules.IsDuplicate(err):
		jsonErr(w, http.StatusConflict, err.Error())
	case rules.IsValidation(err):
		jsonErr(w, http.StatusBadRequest, err.Error())
	default:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func format(w http.ResponseWriter, r *http.Request) (rules.Format, bool) {
	f, err := rules.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return f, true
}

func parseFilter(r *http.Request, now time.Time) (history.Filter, error) {
	q := r.URL.Query()
	f := history.Filter{RuleID: q.Get("rule_id"), Limit: defaultAlertLimit}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return f, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return f, fmt.Errorf("until: %w", err)
	}
	if v := q.Get("hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours <= 0 {
			return f, errors.New("hours must be a positive integer")
		}
		f.Since = now.Add(-time.Duration(hours) * time.Hour)
	}
	if v := q.Get("min_severity"); v != "" {
		sev, err := rules.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.MinSeverity = sev
	}
	if v := q.Get("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		if f.Limit > maxAlertLimit {
			f.Limit = maxAlertLimit
		}
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
