package storage

import (
	"errors"
	"fmt"
	"testing"

	"brightcart/internal/models"
)

func createTestProduct(t *testing.T, store *Storage, name, category, price string, stock int) models.Product {
	t.Helper()
	product, err := store.CreateProduct(CreateProductParams{
		Name:         name,
		Category:     category,
		Price:        models.MustParseMoney(price),
		CountInStock: stock,
		Images: []models.Asset{
			{Locator: "https://cdn.example.com/files/" + normalizeSlug(name) + ".png", Identifier: "uploads/" + normalizeSlug(name) + ".png"},
		},
	})
	if err != nil {
		t.Fatalf("CreateProduct(%s) returned error: %v", name, err)
	}
	return product
}

func TestCreateProductDerivesSlug(t *testing.T) {
	store := newTestStorage(t)
	product := createTestProduct(t, store, "Ergo Desk Lamp 2000", "lighting", "34.99", 5)
	if product.Slug != "ergo-desk-lamp-2000" {
		t.Fatalf("expected derived slug, got %q", product.Slug)
	}
	if product.Price.DecimalString() != "34.99" {
		t.Fatalf("price mismatch: %s", product.Price)
	}

	found, ok := store.FindProductBySlug("ergo-desk-lamp-2000")
	if !ok || found.ID != product.ID {
		t.Fatalf("expected slug lookup to find the product, got ok=%v", ok)
	}

	if _, err := store.CreateProduct(CreateProductParams{
		Name:  "Another",
		Slug:  "Ergo Desk Lamp 2000",
		Price: models.MustParseMoney("1"),
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate slug, got %v", err)
	}
}

func TestCreateProductValidation(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.CreateProduct(CreateProductParams{Name: "   ", Price: models.MustParseMoney("1")}); err == nil {
		t.Fatal("expected error for blank name")
	}
	if _, err := store.CreateProduct(CreateProductParams{Name: "Neg", Price: models.MustParseMoney("-1")}); err == nil {
		t.Fatal("expected error for negative price")
	}
	if _, err := store.CreateProduct(CreateProductParams{Name: "Stock", Price: models.MustParseMoney("1"), CountInStock: -1}); err == nil {
		t.Fatal("expected error for negative stock")
	}
}

func TestListProductsFiltersAndPages(t *testing.T) {
	store := newTestStorage(t)
	for i := 0; i < 7; i++ {
		createTestProduct(t, store, fmt.Sprintf("Lamp %d", i), "lighting", "10", 3)
	}
	createTestProduct(t, store, "Walnut Desk", "furniture", "250", 2)

	page, err := store.ListProducts(ProductFilter{Category: "Lighting", Page: 1, PageSize: 5})
	if err != nil {
		t.Fatalf("ListProducts returned error: %v", err)
	}
	if page.Total != 7 || len(page.Items) != 5 {
		t.Fatalf("expected 7 total / 5 in page, got %d/%d", page.Total, len(page.Items))
	}

	second, err := store.ListProducts(ProductFilter{Category: "lighting", Page: 2, PageSize: 5})
	if err != nil {
		t.Fatalf("ListProducts page 2 returned error: %v", err)
	}
	if len(second.Items) != 2 {
		t.Fatalf("expected 2 items on page 2, got %d", len(second.Items))
	}

	search, err := store.ListProducts(ProductFilter{Query: "walnut"})
	if err != nil {
		t.Fatalf("ListProducts search returned error: %v", err)
	}
	if search.Total != 1 || search.Items[0].Name != "Walnut Desk" {
		t.Fatalf("expected walnut desk match, got %+v", search.Items)
	}

	beyond, err := store.ListProducts(ProductFilter{Page: 9, PageSize: 5})
	if err != nil {
		t.Fatalf("ListProducts beyond range returned error: %v", err)
	}
	if len(beyond.Items) != 0 || beyond.Total != 8 {
		t.Fatalf("expected empty page with full total, got %d items / total %d", len(beyond.Items), beyond.Total)
	}
}

func TestUpdateProduct(t *testing.T) {
	store := newTestStorage(t)
	product := createTestProduct(t, store, "Plain Mug", "kitchen", "8.50", 40)

	price := models.MustParseMoney("9.99")
	stock := 15
	updated, err := store.UpdateProduct(product.ID, ProductUpdate{Price: &price, CountInStock: &stock})
	if err != nil {
		t.Fatalf("UpdateProduct returned error: %v", err)
	}
	if updated.Price.DecimalString() != "9.99" || updated.CountInStock != 15 {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Name != "Plain Mug" {
		t.Fatalf("name changed unexpectedly: %q", updated.Name)
	}
	if !updated.UpdatedAt.After(product.UpdatedAt) && !updated.UpdatedAt.Equal(product.UpdatedAt) {
		t.Fatalf("updatedAt went backwards: %v -> %v", product.UpdatedAt, updated.UpdatedAt)
	}

	other := createTestProduct(t, store, "Other Mug", "kitchen", "5", 1)
	slug := product.Slug
	if _, err := store.UpdateProduct(other.ID, ProductUpdate{Slug: &slug}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for slug collision, got %v", err)
	}
}

func TestDeleteProduct(t *testing.T) {
	store := newTestStorage(t)
	product := createTestProduct(t, store, "Doomed", "misc", "1", 1)
	if err := store.DeleteProduct(product.ID); err != nil {
		t.Fatalf("DeleteProduct returned error: %v", err)
	}
	if _, ok := store.GetProduct(product.ID); ok {
		t.Fatal("expected product to be removed")
	}
	if err := store.DeleteProduct(product.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestNormalizeSlug(t *testing.T) {
	cases := map[string]string{
		"Ergo Desk Lamp 2000":  "ergo-desk-lamp-2000",
		"  Trim Me  ":          "trim-me",
		"Multi---dash__name":   "multi-dash-name",
		"Ünïcode Štuff":        "n-code-tuff",
		"trailing punctuation": "trailing-punctuation",
		"":                     "",
	}
	for input, want := range cases {
		if got := normalizeSlug(input); got != want {
			t.Fatalf("normalizeSlug(%q) = %q, want %q", input, got, want)
		}
	}
}
