package httpapi

import (
	"net/http"
	"strconv"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/session"
	"github.com/gorilla/mux"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func listLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.engine.ActiveSessions(r.Context(), r.URL.Query().Get("q"), listLimit(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"sessions": sessions})
}

func (h *Handler) sessionStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.SessionStatistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, stats)
}

func (h *Handler) terminateSession(w http.ResponseWriter, r *http.Request) {
	ended, err := h.engine.TerminateSession(r.Context(), mux.Vars(r)["sid"], session.ReasonForced, principal(r).User.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"terminated": ended})
}

func (h *Handler) terminateUserSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.TerminateUserSessions(r.Context(), mux.Vars(r)["uid"], principal(r).User.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]int{"terminated": n})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := goAccess.AuditFilter{
		UserName:   q.Get("user"),
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Limit:      listLimit(r),
	}
	for key, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.writeError(w, r, errBadRequest)
			return
		}
		*dst = t
	}

	entries, err := h.engine.ListAuditLog(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"entries": entries})
}

func (h *Handler) securityReport(w http.ResponseWriter, _ *http.Request) {
	writeData(w, h.engine.SecurityReport())
}

type templateRequest struct {
	Template string `json:"template"`
	Name     string `json:"name"`
}

func (h *Handler) roleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]any{"templates": h.engine.RoleTemplates()})
}

func (h *Handler) createRoleFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	role, err := h.engine.CreateRoleFromTemplate(r.Context(), req.Template, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"role": role})
}

// compareRoles takes the role ids as repeated ?roles= parameters.
func (h *Handler) compareRoles(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.engine.CompareRoles(r.Context(), r.URL.Query()["roles"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, cmp)
}
