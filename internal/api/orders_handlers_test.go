package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"brightcart/internal/models"
	"brightcart/internal/storage"
)

func TestPlaceOrderRejectsEmptyItems(t *testing.T) {
	handler, store := newTestHandler(t)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)

	req := jsonRequest(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []any{},
		"shippingAddress": map[string]any{
			"fullName":   "Alice Shopper",
			"line1":      "1 Main St",
			"city":       "Springfield",
			"postalCode": "12345",
			"country":    "US",
		},
		"paymentMethod": "CARD",
	})
	rec := httptest.NewRecorder()
	handler.Orders(rec, asUser(req, customer))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	fields := violationFields(decodeEnvelope(t, rec))
	if fields["items"] != "at least one item is required" {
		t.Fatalf("expected the empty-items violation, got %v", fields)
	}
}

func TestPlaceOrderRejectsUnknownPaymentMethod(t *testing.T) {
	handler, store := newTestHandler(t)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)
	product := createTestProduct(t, store, "Desk Lamp", "Lighting", "34.99")

	req := jsonRequest(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []any{
			map[string]any{"productId": product.ID, "quantity": 1},
		},
		"shippingAddress": map[string]any{
			"fullName":   "Alice Shopper",
			"line1":      "1 Main St",
			"city":       "Springfield",
			"postalCode": "12345",
			"country":    "US",
		},
		"paymentMethod": "BITCOIN",
	})
	rec := httptest.NewRecorder()
	handler.Orders(rec, asUser(req, customer))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	fields := violationFields(decodeEnvelope(t, rec))
	if _, ok := fields["paymentMethod"]; !ok {
		t.Fatalf("expected a paymentMethod violation, got %v", fields)
	}
}

func TestPlaceOrderReportsAllViolationsTogether(t *testing.T) {
	handler, store := newTestHandler(t)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)

	req := jsonRequest(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []any{
			map[string]any{"productId": "not-an-id", "quantity": 500},
		},
		"paymentMethod": "BITCOIN",
	})
	rec := httptest.NewRecorder()
	handler.Orders(rec, asUser(req, customer))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	fields := violationFields(decodeEnvelope(t, rec))
	for _, field := range []string{"items.0.productId", "items.0.quantity", "shippingAddress", "paymentMethod"} {
		if _, ok := fields[field]; !ok {
			t.Fatalf("expected a violation for %s, got %v", field, fields)
		}
	}
}

func TestOrderLifecycle(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)
	other := createTestUser(t, store, "other@example.com", roleCustomer)
	product := createTestProduct(t, store, "Desk Lamp", "Lighting", "34.99")

	req := jsonRequest(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []any{
			map[string]any{"productId": product.ID, "quantity": 2},
		},
		"shippingAddress": map[string]any{
			"fullName":   "Alice Shopper",
			"line1":      "1 Main St",
			"city":       "Springfield",
			"postalCode": "12345",
			"country":    "US",
		},
		"paymentMethod": "CARD",
		"shippingPrice": 4.99,
	})
	rec := httptest.NewRecorder()
	handler.Orders(rec, asUser(req, customer))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var order models.Order
	decodeData(t, rec, &order)
	if order.Status != models.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}
	if order.ItemsPrice.DecimalString() != "69.98" {
		t.Fatalf("expected items price 69.98, got %s", order.ItemsPrice.DecimalString())
	}
	if order.TotalPrice.DecimalString() != "74.97" {
		t.Fatalf("expected total 74.97, got %s", order.TotalPrice.DecimalString())
	}

	// Owners and admins see the order; strangers do not.
	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/orders/"+order.ID, nil), other))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another customer, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/orders/"+order.ID, nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}

	// Customers only list their own orders.
	rec = httptest.NewRecorder()
	handler.Orders(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/orders", nil), other))
	var mine []models.Order
	decodeData(t, rec, &mine)
	if len(mine) != 0 {
		t.Fatalf("expected no orders for the other customer, got %d", len(mine))
	}

	// Payment is an admin action.
	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(jsonRequest(t, http.MethodPost, "/api/orders/"+order.ID+"/pay", map[string]any{
		"paymentRef": "ch_123",
	}), customer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer pay, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(jsonRequest(t, http.MethodPost, "/api/orders/"+order.ID+"/pay", map[string]any{
		"paymentRef": "ch_123",
	}), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pay 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var paid models.Order
	decodeData(t, rec, &paid)
	if paid.Status != models.OrderStatusPaid || paid.PaymentRef != "ch_123" {
		t.Fatalf("expected paid order with ref, got status=%s ref=%s", paid.Status, paid.PaymentRef)
	}

	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(jsonRequest(t, http.MethodPost, "/api/orders/"+order.ID+"/deliver", nil), admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected deliver 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var delivered models.Order
	decodeData(t, rec, &delivered)
	if delivered.Status != models.OrderStatusDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("expected delivered order, got %+v", delivered)
	}

	// Delivered orders cannot be cancelled.
	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(jsonRequest(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", nil), customer))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected cancel conflict, got %d", rec.Code)
	}
}

func TestCancelPendingOrderRestoresStock(t *testing.T) {
	handler, store := newTestHandler(t)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)
	product := createTestProduct(t, store, "Desk Lamp", "Lighting", "34.99")
	stock := 5
	if _, err := store.UpdateProduct(product.ID, storage.ProductUpdate{CountInStock: &stock}); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	req := jsonRequest(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []any{
			map[string]any{"productId": product.ID, "quantity": 3},
		},
		"shippingAddress": map[string]any{
			"fullName":   "Alice Shopper",
			"line1":      "1 Main St",
			"city":       "Springfield",
			"postalCode": "12345",
			"country":    "US",
		},
		"paymentMethod": "COD",
	})
	rec := httptest.NewRecorder()
	handler.Orders(rec, asUser(req, customer))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var order models.Order
	decodeData(t, rec, &order)

	remaining, _ := store.GetProduct(product.ID)
	if remaining.CountInStock != 2 {
		t.Fatalf("expected stock 2 after placement, got %d", remaining.CountInStock)
	}

	rec = httptest.NewRecorder()
	handler.OrderByID(rec, asUser(jsonRequest(t, http.MethodPost, "/api/orders/"+order.ID+"/cancel", nil), customer))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cancel 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var cancelled models.Order
	decodeData(t, rec, &cancelled)
	if cancelled.Status != models.OrderStatusCancelled {
		t.Fatalf("expected cancelled order, got %s", cancelled.Status)
	}

	restored, _ := store.GetProduct(product.ID)
	if restored.CountInStock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", restored.CountInStock)
	}
}
