package httpapi

import (
	"net/http"
	"time"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/middleware"
	"github.com/MrEthical07/goAccess/permission"
	"github.com/MrEthical07/goAccess/sso"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// DefaultChallengePath is where browser flows continue when a second factor
// is required.
const DefaultChallengePath = "/mfa/challenge"

// Options configures a Handler. Nil SSO providers leave their routes
// unregistered.
type Options struct {
	OIDC *sso.OIDC
	SAML *sso.SAML
	// TrustProxy honours X-Forwarded-For when recording the client IP.
	TrustProxy    bool
	ChallengePath string
	Logger        *zap.Logger
}

// Handler serves the goAccess HTTP API.
type Handler struct {
	engine        *goAccess.Engine
	cfg           goAccess.Config
	oidc          *sso.OIDC
	saml          *sso.SAML
	challengePath string
	trustProxy    bool
	log           *zap.Logger
	router        *mux.Router
}

// New builds the router for engine.
func New(engine *goAccess.Engine, opts Options) *Handler {
	h := &Handler{
		engine:        engine,
		cfg:           engine.Config(),
		oidc:          opts.OIDC,
		saml:          opts.SAML,
		challengePath: opts.ChallengePath,
		trustProxy:    opts.TrustProxy,
		log:           opts.Logger,
	}
	if h.challengePath == "" {
		h.challengePath = DefaultChallengePath
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.router = h.routes()
	return h
}

// Router returns the underlying router so callers can mount more routes,
// for example a metrics endpoint.
func (h *Handler) Router() *mux.Router {
	return h.router
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.ClientInfo(h.trustProxy))
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		h.writeError(w, req, goAccess.ErrNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: goAccess.CodeInvalidInput, Message: "Method not allowed."})
	})

	r.HandleFunc("/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/mfa/challenge", h.challenge).Methods(http.MethodGet)
	r.HandleFunc("/mfa/challenge", h.submitCode).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.logout).Methods(http.MethodPost)

	if h.oidc != nil {
		r.HandleFunc("/sso/oidc/start", h.oidcStart).Methods(http.MethodGet)
		r.HandleFunc("/sso/oidc/callback", h.oidcCallback).Methods(http.MethodGet)
	}
	if h.saml != nil {
		r.HandleFunc("/sso/saml/start", h.samlStart).Methods(http.MethodGet)
		r.HandleFunc(sso.ACSPath, h.samlACS).Methods(http.MethodPost)
		r.HandleFunc(sso.MetadataPath, h.samlMetadata).Methods(http.MethodGet)
	}

	guard := middleware.Guard(h.engine, middleware.WithFailureHandler(h.writeErrorStatus))

	profile := r.PathPrefix("/profile").Subrouter()
	profile.Use(guard)
	profile.HandleFunc("/mfa", h.listMfa).Methods(http.MethodGet)
	profile.HandleFunc("/mfa/totp", h.enrollTOTP).Methods(http.MethodPost)
	profile.HandleFunc("/mfa/{id}/verify", h.activateTOTP).Methods(http.MethodPost)
	profile.HandleFunc("/mfa/{id}/backup-codes", h.regenerateBackupCodes).Methods(http.MethodPost)
	profile.HandleFunc("/mfa/{id}/disable", h.disableMfa).Methods(http.MethodPost)
	profile.HandleFunc("/mfa/{id}", h.deleteMfa).Methods(http.MethodDelete)
	profile.HandleFunc("/sessions", h.ownSessions).Methods(http.MethodGet)
	profile.HandleFunc("/sessions/{sid}/terminate", h.terminateOwnSession).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(guard)
	admin.Handle("/sessions", h.granted(permission.SessionView, h.listSessions)).Methods(http.MethodGet)
	admin.Handle("/sessions/statistics", h.granted(permission.SessionView, h.sessionStatistics)).Methods(http.MethodGet)
	admin.Handle("/sessions/{sid}/terminate", h.granted(permission.SessionTerminate, h.terminateSession)).Methods(http.MethodPost)
	admin.Handle("/users/{uid}/sessions/terminate", h.granted(permission.SessionTerminate, h.terminateUserSessions)).Methods(http.MethodPost)
	admin.Handle("/roles/templates", h.granted(permission.RoleView, h.roleTemplates)).Methods(http.MethodGet)
	admin.Handle("/roles/templates", h.granted(permission.RoleCreate, h.createRoleFromTemplate)).Methods(http.MethodPost)
	admin.Handle("/roles/compare", h.granted(permission.RoleView, h.compareRoles)).Methods(http.MethodGet)
	admin.Handle("/audit", h.granted(permission.AuditView, h.listAudit)).Methods(http.MethodGet)
	admin.Handle("/security-report", h.granted(permission.AdminSettings, h.securityReport)).Methods(http.MethodGet)

	return r
}

func (h *Handler) granted(attribute string, fn http.HandlerFunc) http.Handler {
	return middleware.RequireGranted(h.engine, attribute, middleware.WithFailureHandler(h.writeErrorStatus))(fn)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, h.cookie(h.cfg.Token.CookieName, token, 0))
}

func (h *Handler) setChallengeCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, h.cookie(h.cfg.Token.ChallengeCookieName, token, h.cfg.MFA.ChallengeTTL))
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	c := h.cookie(name, "", 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
}

func (h *Handler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.Token.SecureCookies,
		SameSite: h.cfg.Token.SameSite,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl / time.Second)
	}
	return c
}

func principal(r *http.Request) *goAccess.Principal {
	p, _ := goAccess.PrincipalFromContext(r.Context())
	return p
}
