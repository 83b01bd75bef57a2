package api

import (
	"context"
	"net/http"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 4)
	if h.Store != nil {
		components = append(components, recordComponent("datastore", h.Store.Ping(ctx)))
	}

	components = append(components, recordComponent("sessions", h.sessionManager().Ping(ctx)))

	// Optional subsystems report "disabled" rather than failing the check:
	// the server runs fine without a cache or a remote bucket.
	cacheStatus := "disabled"
	if h.Cache != nil && h.Cache.Enabled() {
		cacheStatus = "ok"
	}
	components = append(components, componentStatus{Component: "cache", Status: cacheStatus})

	objectStoreStatus := "disabled"
	if h.Assets != nil && h.Assets.RemoteEnabled() {
		objectStoreStatus = "ok"
	}
	components = append(components, componentStatus{Component: "object_store", Status: objectStoreStatus})

	return components, overallStatus, statusCode
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	components, status, statusCode := h.componentHealth(r.Context())
	recorder := h.recorder()
	for _, component := range components {
		recorder.SetDependencyHealth(component.Component, component.Status)
	}
	writeJSON(w, statusCode, map[string]any{
		"status":     status,
		"components": components,
	})
}
