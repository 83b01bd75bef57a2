// Package api implements the storefront REST handlers. Responses use a
// uniform envelope: successes wrap their payload under "data" and failures
// carry a message plus optional per-field validation errors.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"brightcart/internal/assets"
	"brightcart/internal/auth"
	"brightcart/internal/auth/oauth"
	"brightcart/internal/cache"
	"brightcart/internal/live"
	"brightcart/internal/observability/metrics"
	"brightcart/internal/storage"
	"brightcart/internal/validate"
)

const sessionCookieName = "brightcart_session"

type Handler struct {
	Store    storage.Repository
	Sessions *auth.SessionManager
	Cache    *cache.Cache
	Assets   *assets.Adapter
	Metrics  *metrics.Recorder
	Live     *live.Feed
	OAuth    oauth.Service
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) assetAdapter() *assets.Adapter {
	if h.Assets == nil {
		h.Assets = assets.New(assets.Config{})
	}
	return h.Assets
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics != nil {
		return h.Metrics
	}
	return metrics.Default()
}

type successEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type failureEnvelope struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Errors  []validate.FieldError `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Success: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, message string, fieldErrors ...validate.FieldError) {
	writeJSON(w, status, failureEnvelope{Success: false, Message: message, Errors: fieldErrors})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeFailure(w, status, err.Error())
}

// WriteError is an exported helper for returning enveloped API errors.
func WriteError(w http.ResponseWriter, status int, err error) {
	writeError(w, status, err)
}

// writeStorageError maps repository sentinel errors onto HTTP status codes.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrInsufficientStock):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, storage.ErrInvalidCredentials), errors.Is(err, storage.ErrPasswordLoginUnsupported):
		writeFailure(w, http.StatusUnauthorized, "invalid credentials")
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeBody reads the request body into a generic map with json.Number
// preserved so the validation layer can distinguish integers from floats.
func decodeBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	body := map[string]any{}
	if err := decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return body, nil
}

// bindBody rehydrates a validated generic body into a typed request struct.
func bindBody(body map[string]any, dest any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	if token == "" {
		return
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie removes the storefront session cookie from the response.
func ClearSessionCookie(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, r)
}

func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	if r.URL != nil && strings.EqualFold(r.URL.Scheme, "https") {
		return true
	}
	return false
}

// ExtractToken returns the bearer token from the Authorization header,
// falling back to the session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
