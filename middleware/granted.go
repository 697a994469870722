package middleware

import (
	"net/http"

	goAccess "github.com/MrEthical07/goAccess"
)

// RequireGranted rejects requests whose principal is not granted attribute.
// It must run after [Guard]. Denials are audited by the engine.
func RequireGranted(engine *goAccess.Engine, attribute string, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := goAccess.PrincipalFromContext(r.Context())
			if !ok {
				o.fail(w, r, http.StatusUnauthorized, goAccess.ErrSessionInvalid)
				return
			}
			if err := engine.DenyAccessUnlessGranted(r.Context(), p, attribute, nil); err != nil {
				o.fail(w, r, http.StatusForbidden, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
