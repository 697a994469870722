package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	goAccess "github.com/MrEthical07/goAccess"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

var errBadRequest = errors.New("malformed request body")

type envelope struct {
	Success bool               `json:"success"`
	Error   goAccess.ErrorCode `json:"error,omitempty"`
	Message string             `json:"message,omitempty"`
	Data    any                `json:"data,omitempty"`
}

var messages = map[goAccess.ErrorCode]string{
	goAccess.CodeInvalidCredentials: "Invalid email or password.",
	goAccess.CodeRateLimited:        "Too many attempts. Try again later.",
	goAccess.CodeUserInactive:       "This account is disabled.",
	goAccess.CodeInvalidToken:       "The selected authenticator is not available.",
	goAccess.CodeInvalidCode:        "The code is not valid.",
	goAccess.CodeCodeRequired:       "Enter a verification code.",
	goAccess.CodeMFANotPending:      "There is no verification in progress.",
	goAccess.CodeMFANotEnrolled:     "No authenticator is set up.",
	goAccess.CodeAccessDenied:       "Access denied.",
	goAccess.CodeNotFound:           "Not found.",
	goAccess.CodeProtected:          "This record is protected.",
	goAccess.CodeConflict:           "The record already exists.",
	goAccess.CodeInvalidInput:       "The request is not valid.",
	goAccess.CodeTenantCycle:        "The tenant hierarchy would contain a cycle.",
	goAccess.CodeSessionInvalid:     "Your session has ended. Sign in again.",
	goAccess.CodeUnavailable:        "The service is temporarily unavailable.",
	goAccess.CodeInternal:           "Something went wrong.",
}

var statuses = map[goAccess.ErrorCode]int{
	goAccess.CodeInvalidCredentials: http.StatusUnauthorized,
	goAccess.CodeRateLimited:        http.StatusTooManyRequests,
	goAccess.CodeUserInactive:       http.StatusForbidden,
	goAccess.CodeInvalidToken:       http.StatusBadRequest,
	goAccess.CodeInvalidCode:        http.StatusUnauthorized,
	goAccess.CodeCodeRequired:       http.StatusBadRequest,
	goAccess.CodeMFANotPending:      http.StatusConflict,
	goAccess.CodeMFANotEnrolled:     http.StatusConflict,
	goAccess.CodeAccessDenied:       http.StatusForbidden,
	goAccess.CodeNotFound:           http.StatusNotFound,
	goAccess.CodeProtected:          http.StatusConflict,
	goAccess.CodeConflict:           http.StatusConflict,
	goAccess.CodeInvalidInput:       http.StatusBadRequest,
	goAccess.CodeTenantCycle:        http.StatusConflict,
	goAccess.CodeSessionInvalid:     http.StatusUnauthorized,
	goAccess.CodeUnavailable:        http.StatusServiceUnavailable,
	goAccess.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor returns the HTTP status used for err.
func StatusFor(err error) int {
	if errors.Is(err, errBadRequest) {
		return http.StatusBadRequest
	}
	if status, ok := statuses[goAccess.Classify(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorStatus(w, r, StatusFor(err), err)
}

func (h *Handler) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	code := goAccess.Classify(err)
	if errors.Is(err, errBadRequest) {
		code = goAccess.CodeInvalidInput
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, envelope{Error: code, Message: messages[code]})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadRequest
	}
	return nil
}

// safeTarget keeps deep links on this origin.
func safeTarget(target string) string {
	target = strings.TrimSpace(target)
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return ""
	}
	return target
}
