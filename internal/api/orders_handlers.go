package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"brightcart/internal/live"
	"brightcart/internal/models"
	"brightcart/internal/storage"
	"brightcart/internal/validate"
)

var orderRules = validate.NewRuleSet(
	validate.Field{Path: "items", Rules: []validate.Rule{
		validate.Required("at least one item is required"),
		validate.IsArray(),
	}},
	validate.Field{Path: "items.*.productId", Rules: []validate.Rule{
		validate.Required("productId is required"),
		validate.ID(),
	}},
	validate.Field{Path: "items.*.quantity", Rules: []validate.Rule{
		validate.Required("quantity is required"),
		validate.IsInt(),
		validate.Range(1, 99),
	}},
	validate.Field{Path: "shippingAddress", Rules: []validate.Rule{
		validate.Required("shippingAddress is required"),
	}},
	validate.Field{Path: "shippingAddress.fullName", Trim: true, Rules: []validate.Rule{
		validate.Required("fullName is required"),
		validate.IsString(),
	}},
	validate.Field{Path: "shippingAddress.phone", Rules: []validate.Rule{
		validate.Optional(),
		validate.IsString(),
		validate.Pattern(phonePattern, "phone must be a valid phone number"),
	}},
	validate.Field{Path: "shippingAddress.line1", Trim: true, Rules: []validate.Rule{
		validate.Required("line1 is required"),
		validate.IsString(),
	}},
	validate.Field{Path: "shippingAddress.city", Trim: true, Rules: []validate.Rule{
		validate.Required("city is required"),
		validate.IsString(),
	}},
	validate.Field{Path: "shippingAddress.postalCode", Trim: true, Rules: []validate.Rule{
		validate.Required("postalCode is required"),
		validate.IsString(),
	}},
	validate.Field{Path: "shippingAddress.country", Trim: true, Rules: []validate.Rule{
		validate.Required("country is required"),
		validate.IsString(),
	}},
	validate.Field{Path: "paymentMethod", Trim: true, Rules: []validate.Rule{
		validate.Required("paymentMethod is required"),
		validate.Enum(models.PaymentMethods()...),
	}},
	validate.Field{Path: "shippingPrice", Rules: []validate.Rule{
		validate.Optional(),
		validate.IsFloat(),
		validate.Range(0, 1_000_000),
	}},
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	Items           []orderItemRequest     `json:"items"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	ShippingPrice   models.Money           `json:"shippingPrice"`
}

type payOrderRequest struct {
	PaymentRef string `json:"paymentRef"`
}

func (h *Handler) publishOrderEvent(ctx context.Context, eventType live.EventType, order models.Order) {
	if h.Live == nil {
		return
	}
	h.Live.Publish(ctx, live.NewOrderEvent(eventType, order))
}

// LiveOrders upgrades the connection to a WebSocket and streams order
// lifecycle events. Admin only.
func (h *Handler) LiveOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.requireRole(w, r, roleAdmin)
	if !ok {
		return
	}
	if h.Live == nil {
		writeFailure(w, http.StatusServiceUnavailable, "live order feed is not enabled")
		return
	}
	h.Live.HandleSocket(w, r, user)
}

func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listOrders(w, r)
	case http.MethodPost:
		h.placeOrder(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	filter := storage.OrderFilter{Status: strings.TrimSpace(r.URL.Query().Get("status"))}
	if !user.HasRole(roleAdmin) {
		filter.UserID = user.ID
	}
	orders, err := h.Store.ListOrders(filter)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, orders)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if violations := orderRules.Evaluate(body); len(violations) > 0 {
		writeFailure(w, http.StatusBadRequest, "validation failed", violations...)
		return
	}
	var req orderRequest
	if err := bindBody(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	params := storage.CreateOrderParams{
		UserID:          user.ID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		ShippingPrice:   req.ShippingPrice,
	}
	for _, item := range req.Items {
		params.Items = append(params.Items, storage.OrderItemParams{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.Store.CreateOrder(params)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	h.recorder().ObserveOrderEvent("placed", order.TotalPrice)
	h.publishOrderEvent(r.Context(), live.EventTypeOrderPlaced, order)
	writeSuccess(w, http.StatusCreated, order)
}

func (h *Handler) OrderByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/orders/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeFailure(w, http.StatusNotFound, "order id missing")
		return
	}

	if action != "" {
		h.orderAction(w, r, id, action)
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return
	}
	order, found := h.Store.GetOrder(id)
	if !found {
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("order %s not found", id))
		return
	}
	if order.UserID != user.ID && !user.HasRole(roleAdmin) {
		writeFailure(w, http.StatusForbidden, "forbidden")
		return
	}
	writeSuccess(w, http.StatusOK, order)
}

func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request, id, action string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	switch action {
	case "pay":
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req payOrderRequest
		if r.ContentLength > 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		order, err := h.Store.MarkOrderPaid(id, req.PaymentRef)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		h.recorder().ObserveOrderEvent("paid", order.TotalPrice)
		h.publishOrderEvent(r.Context(), live.EventTypeOrderPaid, order)
		writeSuccess(w, http.StatusOK, order)
	case "deliver":
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		order, err := h.Store.MarkOrderDelivered(id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		h.recorder().ObserveOrderEvent("delivered", order.TotalPrice)
		h.publishOrderEvent(r.Context(), live.EventTypeOrderDelivered, order)
		writeSuccess(w, http.StatusOK, order)
	case "cancel":
		user, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		order, found := h.Store.GetOrder(id)
		if !found {
			writeFailure(w, http.StatusNotFound, fmt.Sprintf("order %s not found", id))
			return
		}
		if order.UserID != user.ID && !user.HasRole(roleAdmin) {
			writeFailure(w, http.StatusForbidden, "forbidden")
			return
		}
		cancelled, err := h.Store.CancelOrder(id)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		h.recorder().ObserveOrderEvent("cancelled", cancelled.TotalPrice)
		h.publishOrderEvent(r.Context(), live.EventTypeOrderCancelled, cancelled)
		writeSuccess(w, http.StatusOK, cancelled)
	default:
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("unknown order action %q", action))
	}
}
