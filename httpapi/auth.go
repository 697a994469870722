package httpapi

import (
	"encoding/xml"
	"errors"
	"net/http"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/middleware"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Target   string `json:"target"`
}

type loginResponse struct {
	MFARequired  bool   `json:"mfa_required"`
	RedirectTo   string `json:"redirect_to"`
	AutoResolved bool   `json:"auto_resolved,omitempty"`
	Fallback     bool   `json:"fallback,omitempty"`
	Evicted      int    `json:"evicted_sessions,omitempty"`
}

type challengeToken struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	DeviceName string `json:"device_name"`
}

type submitCodeRequest struct {
	TokenID string `json:"token_id"`
	Code    string `json:"code"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	target := safeTarget(req.Target)
	if target == "" {
		target = safeTarget(r.URL.Query().Get("next"))
	}

	res, err := h.engine.Login(r.Context(), req.Email, req.Password, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.MFARequired {
		h.setChallengeCookie(w, res.ChallengeToken)
		writeData(w, loginResponse{MFARequired: true, RedirectTo: h.challengePath})
		return
	}
	h.setSessionCookie(w, res.SessionToken)
	writeData(w, loginResponse{RedirectTo: res.RedirectTo, Evicted: len(res.Evicted)})
}

func (h *Handler) challengeID(r *http.Request) (string, error) {
	c, err := r.Cookie(h.cfg.Token.ChallengeCookieName)
	if err != nil || c.Value == "" {
		return "", goAccess.ErrMFANotPending
	}
	return h.engine.ParseChallengeToken(c.Value)
}

func (h *Handler) challenge(w http.ResponseWriter, r *http.Request) {
	id, err := h.challengeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, tokens, err := h.engine.ResumeChallenge(r.Context(), id)
	if err != nil {
		h.challengeFailed(w, r, err)
		return
	}
	if res != nil {
		h.finishChallenge(w, res)
		return
	}

	views := make([]challengeToken, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, challengeToken{ID: t.ID, Type: t.Type, DeviceName: t.DeviceName})
	}
	writeData(w, map[string]any{"mfa_required": true, "tokens": views})
}

func (h *Handler) submitCode(w http.ResponseWriter, r *http.Request) {
	id, err := h.challengeID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req submitCodeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.engine.SubmitCode(r.Context(), id, req.TokenID, req.Code)
	if err != nil {
		h.challengeFailed(w, r, err)
		return
	}
	h.finishChallenge(w, res)
}

func (h *Handler) finishChallenge(w http.ResponseWriter, res *goAccess.MFAResult) {
	h.clearCookie(w, h.cfg.Token.ChallengeCookieName)
	h.setSessionCookie(w, res.SessionToken)
	writeData(w, loginResponse{
		RedirectTo:   res.RedirectTo,
		AutoResolved: res.AutoResolved,
		Fallback:     res.Fallback,
		Evicted:      len(res.Evicted),
	})
}

// challengeFailed drops the challenge cookie once the challenge can no
// longer succeed.
func (h *Handler) challengeFailed(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, goAccess.ErrAccessDenied) || errors.Is(err, goAccess.ErrMFANotPending) {
		h.clearCookie(w, h.cfg.Token.ChallengeCookieName)
	}
	h.writeError(w, r, err)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ended := false
	if token, ok := middleware.SessionToken(r, h.cfg.Token.CookieName); ok {
		if p, err := h.engine.Authenticate(r.Context(), token); err == nil {
			ended, err = h.engine.Logout(r.Context(), p.SessionID)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
		}
	}
	h.clearCookie(w, h.cfg.Token.CookieName)
	h.clearCookie(w, h.cfg.Token.ChallengeCookieName)
	writeData(w, map[string]bool{"ended": ended})
}

func (h *Handler) oidcStart(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.oidc.Start(safeTarget(r.URL.Query().Get("next")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) oidcCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if idpErr := q.Get("error"); idpErr != "" {
		h.log.Info("identity provider refused login", zap.String("provider", goAccess.ProviderOAuth), zap.String("error", idpErr))
		h.writeError(w, r, goAccess.ErrInvalidCredentials)
		return
	}
	profile, target, err := h.oidc.Callback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		h.log.Info("oidc callback rejected", zap.Error(err))
		h.writeError(w, r, err)
		return
	}
	h.loginExternal(w, r, goAccess.ProviderOAuth, profile, target)
}

func (h *Handler) samlStart(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.saml.Start(safeTarget(r.URL.Query().Get("next")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

func (h *Handler) samlACS(w http.ResponseWriter, r *http.Request) {
	profile, target, err := h.saml.ACS(r)
	if err != nil {
		h.log.Info("saml response rejected", zap.Error(err))
		h.writeError(w, r, err)
		return
	}
	h.loginExternal(w, r, goAccess.ProviderSAML, profile, target)
}

func (h *Handler) samlMetadata(w http.ResponseWriter, r *http.Request) {
	body, err := xml.MarshalIndent(h.saml.Metadata(), "", "  ")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	_, _ = w.Write(body)
}

func (h *Handler) loginExternal(w http.ResponseWriter, r *http.Request, provider string, profile goAccess.User, target string) {
	res, err := h.engine.LoginExternal(r.Context(), provider, profile, safeTarget(target))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.MFARequired {
		h.setChallengeCookie(w, res.ChallengeToken)
		http.Redirect(w, r, h.challengePath, http.StatusFound)
		return
	}
	h.setSessionCookie(w, res.SessionToken)
	http.Redirect(w, r, res.RedirectTo, http.StatusFound)
}
