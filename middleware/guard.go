package middleware

import (
	"net/http"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
)

// Guard authenticates the session token from the configured cookie, or from
// an Authorization Bearer header when no cookie is present, and attaches the
// principal with [goAccess.WithPrincipal].
func Guard(engine *goAccess.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := buildOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				o.fail(w, r, http.StatusUnauthorized, goAccess.ErrEngineNotReady)
				return
			}

			token, ok := SessionToken(r, engine.Config().Token.CookieName)
			if !ok {
				o.fail(w, r, http.StatusUnauthorized, goAccess.ErrSessionInvalid)
				return
			}

			p, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				o.fail(w, r, http.StatusUnauthorized, err)
				return
			}

			ctx := goAccess.WithPrincipal(r.Context(), p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionToken extracts the session token from cookieName or the
// Authorization header.
func SessionToken(r *http.Request, cookieName string) (string, bool) {
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
