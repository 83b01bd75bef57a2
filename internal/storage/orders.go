package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"brightcart/internal/models"
)

// CreateOrder places an order. Item name, unit price, and image are
// snapshotted from the catalog at placement time, and stock is decremented in
// the same commit so a persisted order can never exceed inventory.
func (s *Storage) CreateOrder(params CreateOrderParams) (models.Order, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[params.UserID]; !ok {
		return models.Order{}, fmt.Errorf("user %s: %w", params.UserID, ErrNotFound)
	}

	updated := cloneDataset(s.data)

	items := make([]models.OrderItem, 0, len(params.Items))
	itemsPrice := models.Money{}
	for _, item := range params.Items {
		if item.Quantity <= 0 {
			return models.Order{}, fmt.Errorf("quantity for product %s must be positive", item.ProductID)
		}
		product, ok := updated.Products[item.ProductID]
		if !ok {
			return models.Order{}, fmt.Errorf("product %s: %w", item.ProductID, ErrNotFound)
		}
		if !product.InStock(item.Quantity) {
			return models.Order{}, fmt.Errorf("product %s has %d in stock: %w", product.ID, product.CountInStock, ErrInsufficientStock)
		}
		product.CountInStock -= item.Quantity
		updated.Products[product.ID] = product

		image := ""
		if len(product.Images) > 0 {
			image = product.Images[0].Locator
		}
		ordered := models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			Image:     image,
		}
		items = append(items, ordered)
		itemsPrice = itemsPrice.Add(ordered.LineTotal())
	}

	id, err := generateID()
	if err != nil {
		return models.Order{}, err
	}
	now := s.now()
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

	updated.Orders[order.ID] = cloneOrder(order)
	if err := s.persistDataset(updated); err != nil {
		return models.Order{}, err
	}
	s.data = updated
	return cloneOrder(order), nil
}

func (s *Storage) GetOrder(id string) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.data.Orders[id]
	if !ok {
		return models.Order{}, false
	}
	return cloneOrder(order), true
}

func (s *Storage) ListOrders(filter OrderFilter) ([]models.Order, error) {
	status := strings.ToLower(strings.TrimSpace(filter.Status))

	s.mu.RLock()
	orders := make([]models.Order, 0, len(s.data.Orders))
	for _, order := range s.data.Orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	s.mu.RUnlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *Storage) MarkOrderPaid(id, paymentRef string) (models.Order, error) {
	return s.transitionOrder(id, func(order *models.Order) error {
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("order %s is %s: %w", id, order.Status, ErrInvalidTransition)
		}
		now := s.now()
		order.Status = models.OrderStatusPaid
		order.PaymentRef = strings.TrimSpace(paymentRef)
		order.PaidAt = &now
		return nil
	})
}

func (s *Storage) MarkOrderDelivered(id string) (models.Order, error) {
	return s.transitionOrder(id, func(order *models.Order) error {
		if order.Status != models.OrderStatusPaid {
			return fmt.Errorf("order %s is %s: %w", id, order.Status, ErrInvalidTransition)
		}
		now := s.now()
		order.Status = models.OrderStatusDelivered
		order.DeliveredAt = &now
		return nil
	})
}

// CancelOrder voids a pending order and restores the reserved stock.
func (s *Storage) CancelOrder(id string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.data.Orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if order.Status != models.OrderStatusPending {
		return models.Order{}, fmt.Errorf("order %s is %s: %w", id, order.Status, ErrInvalidTransition)
	}

	updated := cloneDataset(s.data)
	for _, item := range order.Items {
		if product, ok := updated.Products[item.ProductID]; ok {
			product.CountInStock += item.Quantity
			updated.Products[product.ID] = product
		}
	}
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = s.now()
	updated.Orders[id] = cloneOrder(order)

	if err := s.persistDataset(updated); err != nil {
		return models.Order{}, err
	}
	s.data = updated
	return cloneOrder(order), nil
}

func (s *Storage) transitionOrder(id string, mutate func(*models.Order) error) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.data.Orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err := mutate(&order); err != nil {
		return models.Order{}, err
	}
	order.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Orders[id] = cloneOrder(order)
	if err := s.persistDataset(updated); err != nil {
		return models.Order{}, err
	}
	s.data = updated
	return cloneOrder(order), nil
}

func validPaymentMethod(method string) bool {
	for _, allowed := range models.PaymentMethods() {
		if method == allowed {
			return true
		}
	}
	return false
}
