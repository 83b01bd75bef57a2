package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"brightcart/internal/auth/oauth"
	"brightcart/internal/storage"
)

type oauthStartRequest struct {
	ReturnTo string `json:"returnTo"`
}

// OAuthProviders lists the configured social login providers so the
// storefront can render the matching buttons.
func (h *Handler) OAuthProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	providers := []oauth.ProviderInfo{}
	if h.OAuth != nil {
		providers = h.OAuth.Providers()
	}
	writeSuccess(w, http.StatusOK, map[string]any{"providers": providers})
}

func (h *Handler) OAuthByProvider(w http.ResponseWriter, r *http.Request) {
	if h.OAuth == nil {
		writeFailure(w, http.StatusNotFound, "social login is not configured")
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/oauth/"), "/")
	provider, action, _ := strings.Cut(rest, "/")
	if provider == "" || action == "" {
		writeFailure(w, http.StatusNotFound, "invalid oauth path")
		return
	}
	switch action {
	case "start":
		h.oauthStart(w, r, provider)
	case "callback":
		h.oauthCallback(w, r, provider)
	default:
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("unknown oauth action %q", action))
	}
}

func (h *Handler) oauthStart(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req oauthStartRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	begin, err := h.OAuth.Begin(provider, sanitizeReturnPath(req.ReturnTo))
	if errors.Is(err, oauth.ErrProviderNotConfigured) {
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("oauth provider %s not configured", provider))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"url": begin.URL})
}

// oauthCallback is browser-facing: the provider redirects here, so failures
// send the shopper back into the UI with an oauth query flag instead of a
// JSON envelope.
func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request, provider string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	if errParam := query.Get("error"); errParam != "" {
		redirectTarget := "/"
		if dest, err := h.OAuth.Cancel(state); err == nil {
			redirectTarget = dest
		}
		http.Redirect(w, r, appendQueryParam(sanitizeReturnPath(redirectTarget), "oauth", "error"), http.StatusSeeOther)
		return
	}
	if state == "" {
		writeFailure(w, http.StatusBadRequest, "state parameter is required")
		return
	}
	code := query.Get("code")
	if strings.TrimSpace(code) == "" {
		writeFailure(w, http.StatusBadRequest, "authorization code is required")
		return
	}

	completion, err := h.OAuth.Complete(provider, state, code)
	returnPath := sanitizeReturnPath(completion.ReturnTo)
	if err != nil {
		if errors.Is(err, oauth.ErrProviderNotConfigured) {
			writeFailure(w, http.StatusNotFound, fmt.Sprintf("oauth provider %s not configured", provider))
			return
		}
		http.Redirect(w, r, appendQueryParam(returnPath, "oauth", "error"), http.StatusSeeOther)
		return
	}

	user, err := h.Store.AuthenticateOAuth(storage.OAuthLoginParams{
		Provider:    completion.Profile.Provider,
		Subject:     completion.Profile.Subject,
		Email:       completion.Profile.Email,
		DisplayName: completion.Profile.DisplayName,
	})
	if err != nil {
		http.Redirect(w, r, appendQueryParam(returnPath, "oauth", "error"), http.StatusSeeOther)
		return
	}

	token, expiresAt, err := h.sessionManager().Create(user.ID)
	if err != nil {
		http.Redirect(w, r, appendQueryParam(returnPath, "oauth", "error"), http.StatusSeeOther)
		return
	}
	setSessionCookie(w, r, token, expiresAt)
	http.Redirect(w, r, appendQueryParam(returnPath, "oauth", "success"), http.StatusSeeOther)
}

// sanitizeReturnPath forces provider-supplied return targets onto a local
// path so the callback can never redirect off-site.
func sanitizeReturnPath(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "/"
	}
	parsed, err := url.Parse(trimmed)
	if err == nil {
		if parsed.IsAbs() {
			trimmed = parsed.Path
			if parsed.RawQuery != "" {
				trimmed = trimmed + "?" + parsed.RawQuery
			}
		} else {
			trimmed = parsed.RequestURI()
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" || strings.HasPrefix(trimmed, "//") {
		return "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed
}

func appendQueryParam(path, key, value string) string {
	parsed, err := url.Parse(path)
	if err != nil {
		parsed = &url.URL{Path: path}
	}
	if parsed.Scheme != "" && parsed.Host != "" {
		parsed.Scheme = ""
		parsed.Host = ""
	}
	query := parsed.Query()
	query.Set(key, value)
	parsed.RawQuery = query.Encode()
	parsed.Fragment = ""
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String()
}
