package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"brightcart/internal/models"
	"brightcart/internal/storage"
)

func createTestProduct(t *testing.T, store *storage.Storage, name, category, price string) models.Product {
	t.Helper()
	product, err := store.CreateProduct(storage.CreateProductParams{
		Name:         name,
		Category:     category,
		Price:        models.MustParseMoney(price),
		CountInStock: 10,
	})
	if err != nil {
		t.Fatalf("CreateProduct error: %v", err)
	}
	return product
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	handler, store := newTestHandler(t)
	customer := createTestUser(t, store, "shopper@example.com", roleCustomer)

	req := jsonRequest(t, http.MethodPost, "/api/products", map[string]any{
		"name":  "Desk Lamp",
		"price": 34.99,
	})
	rec := httptest.NewRecorder()
	handler.Products(rec, asUser(req, customer))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.Products(rec, jsonRequest(t, http.MethodPost, "/api/products", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without a user, got %d", rec.Code)
	}
}

func TestCreateProductReportsEveryViolation(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	req := jsonRequest(t, http.MethodPost, "/api/products", map[string]any{
		"name":         "   ",
		"price":        -5,
		"countInStock": "lots",
	})
	rec := httptest.NewRecorder()
	handler.Products(rec, asUser(req, admin))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d (%s)", rec.Code, rec.Body.String())
	}
	fields := violationFields(decodeEnvelope(t, rec))
	for _, field := range []string{"name", "price", "countInStock"} {
		if _, ok := fields[field]; !ok {
			t.Fatalf("expected a violation for %s, got %v", field, fields)
		}
	}
}

func TestProductLifecycle(t *testing.T) {
	handler, store := newTestHandler(t)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)

	req := jsonRequest(t, http.MethodPost, "/api/products", map[string]any{
		"name":         "Ergo Desk Lamp",
		"category":     "Lighting",
		"price":        34.99,
		"countInStock": 12,
	})
	rec := httptest.NewRecorder()
	handler.Products(rec, asUser(req, admin))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created models.Product
	decodeData(t, rec, &created)
	if created.Slug == "" {
		t.Fatalf("expected a derived slug")
	}
	if created.Price.DecimalString() != "34.99" {
		t.Fatalf("expected price 34.99, got %s", created.Price.DecimalString())
	}

	// Catalog listing is public.
	rec = httptest.NewRecorder()
	handler.Products(rec, httptest.NewRequest(http.MethodGet, "/api/products?category=Lighting", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var page storage.ProductPage
	decodeData(t, rec, &page)
	if page.Total != 1 || len(page.Items) != 1 {
		t.Fatalf("expected one listed product, got total=%d items=%d", page.Total, len(page.Items))
	}

	// Slug resolves on the detail route.
	rec = httptest.NewRecorder()
	handler.ProductByID(rec, httptest.NewRequest(http.MethodGet, "/api/products/"+created.Slug, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected slug lookup 200, got %d", rec.Code)
	}

	req = jsonRequest(t, http.MethodPut, "/api/products/"+created.ID, map[string]any{
		"price": "39.99",
	})
	rec = httptest.NewRecorder()
	handler.ProductByID(rec, asUser(req, admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected update 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var updated models.Product
	decodeData(t, rec, &updated)
	if updated.Price.DecimalString() != "39.99" {
		t.Fatalf("expected updated price 39.99, got %s", updated.Price.DecimalString())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/products/"+created.ID, nil)
	rec = httptest.NewRecorder()
	handler.ProductByID(rec, asUser(req, admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected delete 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ProductByID(rec, httptest.NewRequest(http.MethodGet, "/api/products/"+created.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestListProductsReadsThroughCache(t *testing.T) {
	handler, store := newTestHandler(t)
	withTestCache(t, handler)
	admin := createTestUser(t, store, "admin@example.com", roleAdmin)
	created := createTestProduct(t, store, "Walnut Shelf", "Furniture", "89.00")

	// First read misses and populates the cache.
	rec := httptest.NewRecorder()
	handler.Products(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	// A direct store mutation is invisible until the cache is invalidated.
	renamed := "Oak Shelf"
	if _, err := store.UpdateProduct(created.ID, storage.ProductUpdate{Name: &renamed}); err != nil {
		t.Fatalf("UpdateProduct error: %v", err)
	}
	rec = httptest.NewRecorder()
	handler.Products(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	var stale storage.ProductPage
	decodeData(t, rec, &stale)
	if len(stale.Items) != 1 || stale.Items[0].Name != "Walnut Shelf" {
		t.Fatalf("expected cached listing to serve the old name, got %+v", stale.Items)
	}

	// Mutating through the handler bumps the listing revision.
	price := "95.00"
	req := jsonRequest(t, http.MethodPut, "/api/products/"+created.ID, map[string]any{"price": price})
	rec = httptest.NewRecorder()
	handler.ProductByID(rec, asUser(req, admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected update 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.Products(rec, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	var fresh storage.ProductPage
	decodeData(t, rec, &fresh)
	if len(fresh.Items) != 1 || fresh.Items[0].Name != "Oak Shelf" {
		t.Fatalf("expected invalidated listing to refresh, got %+v", fresh.Items)
	}

	hits, misses := cacheHitMiss(handler)
	if hits == 0 || misses == 0 {
		t.Fatalf("expected both cache hits and misses, got hits=%d misses=%d", hits, misses)
	}
}

func cacheHitMiss(handler *Handler) (uint64, uint64) {
	counts := handler.Metrics.CacheCounts()
	return counts["hit"], counts["miss"]
}
