package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"brightcart/internal/models"
	"github.com/jackc/pgx/v5"
)

const productColumns = "id, name, slug, description, brand, category, price_minor, count_in_stock, images, created_at, updated_at"

func scanProduct(row pgx.Row) (models.Product, error) {
	var product models.Product
	var priceMinor int64
	var images []byte
	if err := row.Scan(&product.ID, &product.Name, &product.Slug, &product.Description, &product.Brand,
		&product.Category, &priceMinor, &product.CountInStock, &images, &product.CreatedAt, &product.UpdatedAt); err != nil {
		return models.Product{}, err
	}
	product.Price = models.NewMoneyFromMinorUnits(priceMinor)
	if len(images) > 0 {
		if err := json.Unmarshal(images, &product.Images); err != nil {
			return models.Product{}, fmt.Errorf("decode product images: %w", err)
		}
	}
	return product, nil
}

func encodeImages(images []models.Asset) ([]byte, error) {
	if images == nil {
		images = []models.Asset{}
	}
	encoded, err := json.Marshal(images)
	if err != nil {
		return nil, fmt.Errorf("encode product images: %w", err)
	}
	return encoded, nil
}

func (r *PostgresRepository) CreateProduct(params CreateProductParams) (models.Product, error) {
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
	id, err := generateID()
	if err != nil {
		return models.Product{}, err
	}
	now := r.now()
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
	images, err := encodeImages(product.Images)
	if err != nil {
		return models.Product{}, err
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		`INSERT INTO products (id, name, slug, description, brand, category, price_minor, count_in_stock, images, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		product.ID, product.Name, product.Slug, product.Description, product.Brand, product.Category,
		product.Price.MinorUnits(), product.CountInStock, images, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Product{}, fmt.Errorf("slug %s already in use: %w", slug, ErrConflict)
		}
		return models.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return product, nil
}

func (r *PostgresRepository) GetProduct(id string) (models.Product, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	product, err := scanProduct(r.pool.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE id = $1", id))
	if err != nil {
		return models.Product{}, false
	}
	return product, true
}

func (r *PostgresRepository) FindProductBySlug(slug string) (models.Product, bool) {
	normalized := normalizeSlug(slug)
	if normalized == "" {
		return models.Product{}, false
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	product, err := scanProduct(r.pool.QueryRow(ctx, "SELECT "+productColumns+" FROM products WHERE slug = $1", normalized))
	if err != nil {
		return models.Product{}, false
	}
	return product, true
}

func (r *PostgresRepository) ListProducts(filter ProductFilter) (ProductPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultProductPageSize
	}

	where := make([]string, 0, 2)
	args := make([]any, 0, 4)
	if category := strings.TrimSpace(filter.Category); category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("LOWER(category) = LOWER($%d)", len(args)))
	}
	if query := strings.TrimSpace(filter.Query); query != "" {
		args = append(args, "%"+query+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR brand ILIKE $%d)", len(args), len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	ctx, cancel := r.opCtx()
	defer cancel()

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM products"+clause, args...).Scan(&total); err != nil {
		return ProductPage{}, fmt.Errorf("count products: %w", err)
	}

	args = append(args, pageSize, (page-1)*pageSize)
	rows, err := r.pool.Query(ctx,
		"SELECT "+productColumns+" FROM products"+clause+
			fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args)),
		args...)
	if err != nil {
		return ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	items := make([]models.Product, 0, pageSize)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return ProductPage{}, err
		}
		items = append(items, product)
	}
	if err := rows.Err(); err != nil {
		return ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	return ProductPage{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

func (r *PostgresRepository) UpdateProduct(id string, update ProductUpdate) (models.Product, error) {
	product, ok := r.GetProduct(id)
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
	product.UpdatedAt = r.now()
	images, err := encodeImages(product.Images)
	if err != nil {
		return models.Product{}, err
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET name = $2, slug = $3, description = $4, brand = $5, category = $6,
		 price_minor = $7, count_in_stock = $8, images = $9, updated_at = $10 WHERE id = $1`,
		id, product.Name, product.Slug, product.Description, product.Brand, product.Category,
		product.Price.MinorUnits(), product.CountInStock, images, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Product{}, fmt.Errorf("slug %s already in use: %w", product.Slug, ErrConflict)
		}
		return models.Product{}, fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return product, nil
}

func (r *PostgresRepository) DeleteProduct(id string) error {
	ctx, cancel := r.opCtx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

const orderColumns = "id, user_id, items, shipping_address, payment_method, items_price_minor, shipping_price_minor, total_price_minor, status, payment_ref, paid_at, delivered_at, created_at, updated_at"

func scanOrder(row pgx.Row) (models.Order, error) {
	var order models.Order
	var items, address []byte
	var itemsMinor, shippingMinor, totalMinor int64
	if err := row.Scan(&order.ID, &order.UserID, &items, &address, &order.PaymentMethod,
		&itemsMinor, &shippingMinor, &totalMinor, &order.Status, &order.PaymentRef,
		&order.PaidAt, &order.DeliveredAt, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return models.Order{}, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return models.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return models.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	order.ItemsPrice = models.NewMoneyFromMinorUnits(itemsMinor)
	order.ShippingPrice = models.NewMoneyFromMinorUnits(shippingMinor)
	order.TotalPrice = models.NewMoneyFromMinorUnits(totalMinor)
	return order, nil
}

func (r *PostgresRepository) CreateOrder(params CreateOrderParams) (models.Order, error) {
	if len(params.Items) == 0 {
		return models.Order{}, errors.New("order requires at least one item")
	}
	if len(params.Items) > MaxOrderItems {
		return models.Order{}, fmt.Errorf("order exceeds %d line items", MaxOrderItems)
	}
	method := strings.ToUpper(strings.TrimSpace(params.PaymentMethod))
	if !validPaymentMethod(method) {
		return models.Order{}, fmt.Errorf("unsupported payment method %q", params.PaymentMethod)
	}
	if params.ShippingPrice.IsNegative() {
		return models.Order{}, errors.New("shipping price cannot be negative")
	}
	id, err := generateID()
	if err != nil {
		return models.Order{}, err
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, fmt.Errorf("begin order transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	items := make([]models.OrderItem, 0, len(params.Items))
	itemsPrice := models.Money{}
	for _, item := range params.Items {
		if item.Quantity <= 0 {
			return models.Order{}, fmt.Errorf("quantity for product %s must be positive", item.ProductID)
		}
		var name, image string
		var priceMinor int64
		var stock int
		var images []models.Asset
		var encodedImages []byte
		err := tx.QueryRow(ctx,
			"SELECT name, price_minor, count_in_stock, images FROM products WHERE id = $1 FOR UPDATE",
			item.ProductID).Scan(&name, &priceMinor, &stock, &encodedImages)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, fmt.Errorf("product %s: %w", item.ProductID, ErrNotFound)
		} else if err != nil {
			return models.Order{}, fmt.Errorf("load product %s: %w", item.ProductID, err)
		}
		if stock < item.Quantity {
			return models.Order{}, fmt.Errorf("product %s has %d in stock: %w", item.ProductID, stock, ErrInsufficientStock)
		}
		if len(encodedImages) > 0 {
			if err := json.Unmarshal(encodedImages, &images); err == nil && len(images) > 0 {
				image = images[0].Locator
			}
		}
		if _, err := tx.Exec(ctx,
			"UPDATE products SET count_in_stock = count_in_stock - $2 WHERE id = $1",
			item.ProductID, item.Quantity); err != nil {
			return models.Order{}, fmt.Errorf("reserve stock for %s: %w", item.ProductID, err)
		}
		ordered := models.OrderItem{
			ProductID: item.ProductID,
			Name:      name,
			Quantity:  item.Quantity,
			UnitPrice: models.NewMoneyFromMinorUnits(priceMinor),
			Image:     image,
		}
		items = append(items, ordered)
		itemsPrice = itemsPrice.Add(ordered.LineTotal())
	}

	now := r.now()
	order := models.Order{
		ID:              id,
		UserID:          params.UserID,
		Items:           items,
		ShippingAddress: params.ShippingAddress,
		PaymentMethod:   method,
		ItemsPrice:      itemsPrice,
		ShippingPrice:   params.ShippingPrice,
		TotalPrice:      itemsPrice.Add(params.ShippingPrice),
		Status:          models.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	encodedItems, err := json.Marshal(order.Items)
	if err != nil {
		return models.Order{}, fmt.Errorf("encode order items: %w", err)
	}
	encodedAddress, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return models.Order{}, fmt.Errorf("encode shipping address: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, items, shipping_address, payment_method, items_price_minor,
		 shipping_price_minor, total_price_minor, status, payment_ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		order.ID, order.UserID, encodedItems, encodedAddress, order.PaymentMethod,
		order.ItemsPrice.MinorUnits(), order.ShippingPrice.MinorUnits(), order.TotalPrice.MinorUnits(),
		order.Status, order.PaymentRef, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return models.Order{}, fmt.Errorf("insert order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, fmt.Errorf("commit order: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) GetOrder(id string) (models.Order, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	order, err := scanOrder(r.pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if err != nil {
		return models.Order{}, false
	}
	return order, true
}

func (r *PostgresRepository) ListOrders(filter OrderFilter) ([]models.Order, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if status := strings.ToLower(strings.TrimSpace(filter.Status)); status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	rows, err := r.pool.Query(ctx, "SELECT "+orderColumns+" FROM orders"+clause+" ORDER BY created_at DESC, id", args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (r *PostgresRepository) MarkOrderPaid(id, paymentRef string) (models.Order, error) {
	ctx, cancel := r.opCtx()
	defer cancel()
	now := r.now()
	tag, err := r.pool.Exec(ctx,
		"UPDATE orders SET status = $2, payment_ref = $3, paid_at = $4, updated_at = $4 WHERE id = $1 AND status = $5",
		id, models.OrderStatusPaid, strings.TrimSpace(paymentRef), now, models.OrderStatusPending)
	if err != nil {
		return models.Order{}, fmt.Errorf("mark order paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Order{}, r.transitionError(id)
	}
	order, _ := r.GetOrder(id)
	return order, nil
}

func (r *PostgresRepository) MarkOrderDelivered(id string) (models.Order, error) {
	ctx, cancel := r.opCtx()
	defer cancel()
	now := r.now()
	tag, err := r.pool.Exec(ctx,
		"UPDATE orders SET status = $2, delivered_at = $3, updated_at = $3 WHERE id = $1 AND status = $4",
		id, models.OrderStatusDelivered, now, models.OrderStatusPaid)
	if err != nil {
		return models.Order{}, fmt.Errorf("mark order delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Order{}, r.transitionError(id)
	}
	order, _ := r.GetOrder(id)
	return order, nil
}

func (r *PostgresRepository) CancelOrder(id string) (models.Order, error) {
	ctx, cancel := r.opCtx()
	defer cancel()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Order{}, fmt.Errorf("begin cancel transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	order, err := scanOrder(tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		return models.Order{}, fmt.Errorf("load order: %w", err)
	}
	if order.Status != models.OrderStatusPending {
		return models.Order{}, fmt.Errorf("order %s is %s: %w", id, order.Status, ErrInvalidTransition)
	}
	for _, item := range order.Items {
		if _, err := tx.Exec(ctx,
			"UPDATE products SET count_in_stock = count_in_stock + $2 WHERE id = $1",
			item.ProductID, item.Quantity); err != nil {
			return models.Order{}, fmt.Errorf("restore stock for %s: %w", item.ProductID, err)
		}
	}
	now := r.now()
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = now
	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1",
		id, order.Status, now); err != nil {
		return models.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Order{}, fmt.Errorf("commit cancel: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) transitionError(id string) error {
	if order, ok := r.GetOrder(id); ok {
		return fmt.Errorf("order %s is %s: %w", id, order.Status, ErrInvalidTransition)
	}
	return fmt.Errorf("order %s: %w", id, ErrNotFound)
}
