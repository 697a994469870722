package httpapi

import (
	"net/http"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/MrEthical07/goAccess/session"
	"github.com/gorilla/mux"
)

type enrollRequest struct {
	DeviceName string `json:"device_name"`
}

type enrollResponse struct {
	Token           *goAccess.MfaToken `json:"token"`
	Secret          string             `json:"secret"`
	ProvisioningURI string             `json:"provisioning_uri"`
	BackupCodes     []string           `json:"backup_codes"`
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) listMfa(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	tokens, err := h.engine.ListMfaTokens(r.Context(), p.User.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	remaining, err := h.engine.BackupCodesRemaining(r.Context(), p.User.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"tokens": tokens, "backup_codes_remaining": remaining})
}

func (h *Handler) enrollTOTP(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	enrollment, err := h.engine.EnrollTOTP(r.Context(), principal(r).User, req.DeviceName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, enrollResponse{
		Token:           enrollment.Token,
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		BackupCodes:     enrollment.BackupCodes,
	})
}

// ownedToken loads the token named in the path and checks attribute on it.
func (h *Handler) ownedToken(w http.ResponseWriter, r *http.Request, attribute string) (*goAccess.MfaToken, bool) {
	p := principal(r)
	token, err := h.engine.MfaToken(r.Context(), p.User.ID, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if err := h.engine.DenyAccessUnlessGranted(r.Context(), p, attribute, token); err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return token, true
}

func (h *Handler) activateTOTP(w http.ResponseWriter, r *http.Request) {
	token, ok := h.ownedToken(w, r, permission.MfaSetup)
	if !ok {
		return
	}
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.engine.ActivateTOTP(r.Context(), token.UserID, token.ID, req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"activated": true})
}

func (h *Handler) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	token, ok := h.ownedToken(w, r, permission.MfaManage)
	if !ok {
		return
	}
	codes, err := h.engine.RegenerateBackupCodes(r.Context(), token.UserID, token.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string][]string{"backup_codes": codes})
}

func (h *Handler) disableMfa(w http.ResponseWriter, r *http.Request) {
	token, ok := h.ownedToken(w, r, permission.MfaManage)
	if !ok {
		return
	}
	if err := h.engine.DisableMfaToken(r.Context(), token.UserID, token.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"disabled": true})
}

func (h *Handler) deleteMfa(w http.ResponseWriter, r *http.Request) {
	token, ok := h.ownedToken(w, r, permission.MfaDelete)
	if !ok {
		return
	}
	if err := h.engine.DeleteMfaToken(r.Context(), token.UserID, token.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]bool{"deleted": true})
}

func (h *Handler) ownSessions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	sessions, err := h.engine.UserActiveSessions(r.Context(), p.User.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeData(w, map[string]any{"sessions": sessions, "current": p.SessionID})
}

func (h *Handler) terminateOwnSession(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	sid := mux.Vars(r)["sid"]
	rec, found, err := h.engine.Session(r.Context(), sid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Unknown ids answer exactly like foreign ones.
	if !found {
		h.writeError(w, r, goAccess.ErrAccessDenied)
		return
	}
	if err := h.engine.DenyAccessUnlessGranted(r.Context(), p, permission.SessionTerminate, rec); err != nil {
		h.writeError(w, r, err)
		return
	}
	ended, err := h.engine.TerminateSession(r.Context(), sid, session.ReasonLogout, p.User.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sid == p.SessionID {
		h.clearCookie(w, h.cfg.Token.CookieName)
	}
	writeData(w, map[string]bool{"terminated": ended})
}
