package api

import (
	"net/http"
	"regexp"
	"time"

	"brightcart/internal/models"
	"brightcart/internal/storage"
	"brightcart/internal/validate"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 \-()]{5,19}$`)

var profileRules = validate.NewRuleSet(
	validate.Field{Path: "phone", Trim: true, Rules: []validate.Rule{
		validate.Optional(),
		validate.IsString(),
		validate.Pattern(phonePattern, "must be a valid phone number"),
	}},
	validate.Field{Path: "defaultAddress.fullName", Trim: true, Rules: []validate.Rule{
		validate.Optional(),
		validate.Length(1, 120),
	}},
	validate.Field{Path: "defaultAddress.phone", Trim: true, Rules: []validate.Rule{
		validate.Optional(),
		validate.Pattern(phonePattern, "must be a valid phone number"),
	}},
)

type profileRequest struct {
	Phone          *string                 `json:"phone"`
	DefaultAddress *models.ShippingAddress `json:"defaultAddress"`
	ClearAddress   bool                    `json:"clearDefaultAddress"`
}

type profileResponse struct {
	UserID         string                  `json:"userId"`
	Phone          string                  `json:"phone,omitempty"`
	DefaultAddress *models.ShippingAddress `json:"defaultAddress,omitempty"`
	CreatedAt      string                  `json:"createdAt"`
	UpdatedAt      string                  `json:"updatedAt"`
}

func newProfileResponse(profile models.Profile) profileResponse {
	resp := profileResponse{
		UserID:    profile.UserID,
		Phone:     profile.Phone,
		CreatedAt: profile.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: profile.UpdatedAt.Format(time.RFC3339Nano),
	}
	if profile.DefaultAddress != nil {
		address := *profile.DefaultAddress
		resp.DefaultAddress = &address
	}
	return resp
}

// Profile serves the authenticated customer's own profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		profile, exists := h.Store.GetProfile(actor.ID)
		if !exists {
			profile = models.Profile{UserID: actor.ID}
		}
		writeSuccess(w, http.StatusOK, newProfileResponse(profile))
	case http.MethodPut:
		body, err := decodeBody(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if violations := profileRules.Evaluate(body); len(violations) > 0 {
			writeFailure(w, http.StatusBadRequest, "validation failed", violations...)
			return
		}
		var req profileRequest
		if err := bindBody(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.ProfileUpdate{
			Phone:               req.Phone,
			DefaultAddress:      req.DefaultAddress,
			ClearDefaultAddress: req.ClearAddress,
		}
		profile, err := h.Store.UpsertProfile(actor.ID, update)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		writeSuccess(w, http.StatusOK, newProfileResponse(profile))
	default:
		methodNotAllowed(w, r, "GET, PUT")
	}
}
