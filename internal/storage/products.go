package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"brightcart/internal/models"
)

const defaultProductPageSize = 20

func (s *Storage) CreateProduct(params CreateProductParams) (models.Product, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Product{}, errors.New("product name is required")
	}
	if len(name) > MaxProductNameLength {
		return models.Product{}, fmt.Errorf("product name exceeds %d characters", MaxProductNameLength)
	}
	if params.Price.IsNegative() {
		return models.Product{}, errors.New("product price cannot be negative")
	}
	if params.CountInStock < 0 {
		return models.Product{}, errors.New("stock count cannot be negative")
	}
	slug := normalizeSlug(params.Slug)
	if slug == "" {
		slug = normalizeSlug(name)
	}
	if slug == "" {
		return models.Product{}, errors.New("product slug is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Products {
		if existing.Slug == slug {
			return models.Product{}, fmt.Errorf("slug %s already in use: %w", slug, ErrConflict)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Product{}, err
	}
	now := s.now()
	product := models.Product{
		ID:           id,
		Name:         name,
		Slug:         slug,
		Description:  strings.TrimSpace(params.Description),
		Brand:        strings.TrimSpace(params.Brand),
		Category:     strings.TrimSpace(params.Category),
		Price:        params.Price,
		CountInStock: params.CountInStock,
		Images:       append([]models.Asset(nil), params.Images...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	updated := cloneDataset(s.data)
	updated.Products[product.ID] = product
	if err := s.persistDataset(updated); err != nil {
		return models.Product{}, err
	}
	s.data = updated
	return cloneProduct(product), nil
}

func (s *Storage) GetProduct(id string) (models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.data.Products[id]
	if !ok {
		return models.Product{}, false
	}
	return cloneProduct(product), true
}

func (s *Storage) FindProductBySlug(slug string) (models.Product, bool) {
	normalized := normalizeSlug(slug)
	if normalized == "" {
		return models.Product{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, product := range s.data.Products {
		if product.Slug == normalized {
			return cloneProduct(product), true
		}
	}
	return models.Product{}, false
}

func (s *Storage) ListProducts(filter ProductFilter) (ProductPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultProductPageSize
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	category := strings.ToLower(strings.TrimSpace(filter.Category))

	s.mu.RLock()
	matched := make([]models.Product, 0, len(s.data.Products))
	for _, product := range s.data.Products {
		if category != "" && strings.ToLower(product.Category) != category {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(product.Name), query) &&
			!strings.Contains(strings.ToLower(product.Brand), query) {
			continue
		}
		matched = append(matched, cloneProduct(product))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return ProductPage{
		Items:    matched[start:end],
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *Storage) UpdateProduct(id string, update ProductUpdate) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.data.Products[id]
	if !ok {
		return models.Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}

	if update.Name != nil {
		trimmed := strings.TrimSpace(*update.Name)
		if trimmed == "" {
			return models.Product{}, errors.New("product name cannot be empty")
		}
		if len(trimmed) > MaxProductNameLength {
			return models.Product{}, fmt.Errorf("product name exceeds %d characters", MaxProductNameLength)
		}
		product.Name = trimmed
	}
	if update.Slug != nil {
		slug := normalizeSlug(*update.Slug)
		if slug == "" {
			return models.Product{}, errors.New("product slug cannot be empty")
		}
		for otherID, existing := range s.data.Products {
			if otherID != id && existing.Slug == slug {
				return models.Product{}, fmt.Errorf("slug %s already in use: %w", slug, ErrConflict)
			}
		}
		product.Slug = slug
	}
	if update.Description != nil {
		product.Description = strings.TrimSpace(*update.Description)
	}
	if update.Brand != nil {
		product.Brand = strings.TrimSpace(*update.Brand)
	}
	if update.Category != nil {
		product.Category = strings.TrimSpace(*update.Category)
	}
	if update.Price != nil {
		if update.Price.IsNegative() {
			return models.Product{}, errors.New("product price cannot be negative")
		}
		product.Price = *update.Price
	}
	if update.CountInStock != nil {
		if *update.CountInStock < 0 {
			return models.Product{}, errors.New("stock count cannot be negative")
		}
		product.CountInStock = *update.CountInStock
	}
	if update.Images != nil {
		product.Images = append([]models.Asset(nil), (*update.Images)...)
	}
	product.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Products[id] = cloneProduct(product)
	if err := s.persistDataset(updated); err != nil {
		return models.Product{}, err
	}
	s.data = updated
	return cloneProduct(product), nil
}

func (s *Storage) DeleteProduct(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Products[id]; !ok {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}

	updated := cloneDataset(s.data)
	delete(updated.Products, id)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

// normalizeSlug lowercases and collapses a candidate slug to the characters
// allowed in a URL path segment.
func normalizeSlug(input string) string {
	lowered := strings.ToLower(strings.TrimSpace(input))
	var builder strings.Builder
	lastHyphen := true
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				builder.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(builder.String(), "-")
}
