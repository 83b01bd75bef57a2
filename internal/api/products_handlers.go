package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brightcart/internal/models"
	"brightcart/internal/storage"
	"brightcart/internal/validate"
)

var productRules = validate.NewRuleSet(
	validate.Field{Path: "name", Trim: true, Rules: []validate.Rule{
		validate.Required("name is required"),
		validate.IsString(),
		validate.Length(1, storage.MaxProductNameLength),
	}},
	validate.Field{Path: "slug", Trim: true, Rules: []validate.Rule{
		validate.Optional(),
		validate.IsString(),
	}},
	validate.Field{Path: "price", Rules: []validate.Rule{
		validate.Required("price is required"),
		validate.IsFloat(),
		validate.Range(0, 1_000_000_000),
	}},
	validate.Field{Path: "countInStock", Rules: []validate.Rule{
		validate.Optional(),
		validate.IsInt(),
		validate.Range(0, 1_000_000_000),
	}},
	validate.Field{Path: "images", Rules: []validate.Rule{
		validate.Optional(),
		validate.IsArray(),
	}},
)

type productRequest struct {
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	Description  string         `json:"description"`
	Brand        string         `json:"brand"`
	Category     string         `json:"category"`
	Price        models.Money   `json:"price"`
	CountInStock int            `json:"countInStock"`
	Images       []models.Asset `json:"images"`
}

type productUpdateRequest struct {
	Name         *string         `json:"name"`
	Slug         *string         `json:"slug"`
	Description  *string         `json:"description"`
	Brand        *string         `json:"brand"`
	Category     *string         `json:"category"`
	Price        *models.Money   `json:"price"`
	CountInStock *int            `json:"countInStock"`
	Images       *[]models.Asset `json:"images"`
}

// Cache keys: individual products live under product:<id>; listings embed a
// revision number that mutations bump so stale pages age out without
// pattern-matched deletes.
const (
	productCacheKeyPrefix  = "product:"
	productListRevisionKey = "products:rev"
	productCacheTTL        = 5 * time.Minute
)

func (h *Handler) productCacheRevision(r *http.Request) int64 {
	if h.Cache == nil {
		return 0
	}
	var rev int64
	h.Cache.Get(r.Context(), productListRevisionKey, &rev)
	return rev
}

func (h *Handler) invalidateProductCache(r *http.Request, productID string) {
	if h.Cache == nil || !h.Cache.Enabled() {
		return
	}
	if productID != "" {
		h.Cache.Delete(r.Context(), productCacheKeyPrefix+productID)
	}
	h.Cache.Set(r.Context(), productListRevisionKey, time.Now().UnixNano(), 0)
	h.recorder().ObserveCacheEvent("evict")
}

func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listProducts(w, r)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		h.createProduct(w, r)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.ProductFilter{
		Query:    strings.TrimSpace(query.Get("q")),
		Category: strings.TrimSpace(query.Get("category")),
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(query.Get("pageSize")); err == nil {
		filter.PageSize = size
	}

	cacheKey := fmt.Sprintf("products:%d:q=%s:category=%s:page=%d:size=%d",
		h.productCacheRevision(r), filter.Query, filter.Category, filter.Page, filter.PageSize)
	if h.Cache != nil {
		var cached storage.ProductPage
		if h.Cache.Get(r.Context(), cacheKey, &cached) {
			h.recorder().ObserveCacheEvent("hit")
			writeSuccess(w, http.StatusOK, cached)
			return
		}
		if h.Cache.Enabled() {
			h.recorder().ObserveCacheEvent("miss")
		}
	}

	page, err := h.Store.ListProducts(filter)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	if h.Cache != nil {
		h.Cache.Set(r.Context(), cacheKey, page, productCacheTTL)
	}
	writeSuccess(w, http.StatusOK, page)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if violations := productRules.Evaluate(body); len(violations) > 0 {
		writeFailure(w, http.StatusBadRequest, "validation failed", violations...)
		return
	}
	var req productRequest
	if err := bindBody(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := h.Store.CreateProduct(storage.CreateProductParams{
		Name:         req.Name,
		Slug:         req.Slug,
		Description:  req.Description,
		Brand:        req.Brand,
		Category:     req.Category,
		Price:        req.Price,
		CountInStock: req.CountInStock,
		Images:       req.Images,
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}
	h.invalidateProductCache(r, "")
	writeSuccess(w, http.StatusCreated, product)
}

func (h *Handler) ProductByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/products/"), "/")
	if id == "" {
		writeFailure(w, http.StatusNotFound, "product id missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		cacheKey := productCacheKeyPrefix + id
		if h.Cache != nil {
			var cached models.Product
			if h.Cache.Get(r.Context(), cacheKey, &cached) {
				h.recorder().ObserveCacheEvent("hit")
				writeSuccess(w, http.StatusOK, cached)
				return
			}
			if h.Cache.Enabled() {
				h.recorder().ObserveCacheEvent("miss")
			}
		}
		product, ok := h.Store.GetProduct(id)
		if !ok {
			// Allow slug lookups on the same route so storefront URLs stay
			// human-readable.
			product, ok = h.Store.FindProductBySlug(id)
		}
		if !ok {
			writeFailure(w, http.StatusNotFound, fmt.Sprintf("product %s not found", id))
			return
		}
		if h.Cache != nil {
			h.Cache.Set(r.Context(), productCacheKeyPrefix+product.ID, product, productCacheTTL)
		}
		writeSuccess(w, http.StatusOK, product)
	case http.MethodPut:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req productUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.ProductUpdate{
			Name:         req.Name,
			Slug:         req.Slug,
			Description:  req.Description,
			Brand:        req.Brand,
			Category:     req.Category,
			Price:        req.Price,
			CountInStock: req.CountInStock,
		}
		if req.Images != nil {
			imagesCopy := append([]models.Asset{}, (*req.Images)...)
			update.Images = &imagesCopy
		}
		product, err := h.Store.UpdateProduct(id, update)
		if err != nil {
			writeStorageError(w, err)
			return
		}
		h.invalidateProductCache(r, id)
		writeSuccess(w, http.StatusOK, product)
	case http.MethodDelete:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		if err := h.Store.DeleteProduct(id); err != nil {
			writeStorageError(w, err)
			return
		}
		h.invalidateProductCache(r, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PUT, DELETE")
	}
}
