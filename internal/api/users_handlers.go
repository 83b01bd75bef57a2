package api

import (
	"fmt"
	"net/http"
	"strings"

	"brightcart/internal/storage"
)

type createUserRequest struct {
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Password    string   `json:"password,omitempty"`
}

type updateUserRequest struct {
	DisplayName *string   `json:"displayName"`
	Email       *string   `json:"email"`
	Roles       *[]string `json:"roles"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		users := h.Store.ListUsers()
		response := make([]userResponse, 0, len(users))
		for _, user := range users {
			response = append(response, newUserResponse(user))
		}
		writeSuccess(w, http.StatusOK, response)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := h.Store.CreateUser(storage.CreateUserParams{
			DisplayName: req.DisplayName,
			Email:       req.Email,
			Roles:       req.Roles,
			Password:    req.Password,
		})
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeSuccess(w, http.StatusCreated, newUserResponse(user))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeFailure(w, http.StatusNotFound, "user id missing")
		return
	}
	id := parts[0]

	if len(parts) == 2 && parts[1] == "password" {
		h.setUserPassword(w, r, id)
		return
	}
	if len(parts) > 1 {
		writeFailure(w, http.StatusNotFound, "unknown user path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		requester, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		if requester.ID != id && !requester.HasRole(roleAdmin) {
			writeFailure(w, http.StatusForbidden, "forbidden")
			return
		}
		user, ok := h.Store.GetUser(id)
		if !ok {
			writeFailure(w, http.StatusNotFound, fmt.Sprintf("user %s not found", id))
			return
		}
		writeSuccess(w, http.StatusOK, newUserResponse(user))
	case http.MethodPatch:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.UserUpdate{DisplayName: req.DisplayName, Email: req.Email}
		if req.Roles != nil {
			rolesCopy := append([]string{}, (*req.Roles)...)
			update.Roles = &rolesCopy
		}
		user, err := h.Store.UpdateUser(id, update)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		if err := h.Store.DeleteUser(id); err != nil {
			writeStorageError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}

func (h *Handler) setUserPassword(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	requester, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	if requester.ID != id && !requester.HasRole(roleAdmin) {
		writeFailure(w, http.StatusForbidden, "forbidden")
		return
	}
	var req setPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Password) < 8 {
		writeFailure(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	user, err := h.Store.SetUserPassword(id, req.Password)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, newUserResponse(user))
}
