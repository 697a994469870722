package middleware

import "net/http"

// FailureHandler writes the response for a rejected request. err is a
// goAccess error suitable for [goAccess.Classify].
type FailureHandler func(w http.ResponseWriter, r *http.Request, status int, err error)

// Option configures Guard and RequireGranted.
type Option func(*options)

type options struct {
	fail FailureHandler
}

// WithFailureHandler replaces the plain text 401/403 responses.
func WithFailureHandler(f FailureHandler) Option {
	return func(o *options) {
		if f != nil {
			o.fail = f
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{fail: plainFailure}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func plainFailure(w http.ResponseWriter, _ *http.Request, status int, _ error) {
	if status == http.StatusForbidden {
		http.Error(w, "forbidden", status)
		return
	}
	http.Error(w, "unauthorized", status)
}
