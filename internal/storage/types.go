package storage

import (
	"errors"

	"brightcart/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000

	// MaxProductNameLength caps product names to keep listings renderable.
	MaxProductNameLength = 200
	// MaxOrderItems caps the number of distinct line items per order.
	MaxOrderItems = 50
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrPasswordLoginUnsupported = errors.New("account does not support password login")

	// ErrNotFound reports a lookup against an identifier that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a write that collides with existing state, such as
	// a duplicate email or product slug.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientStock reports an order item quantity above the available
	// inventory at placement time.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition reports an order status change that the lifecycle
	// does not permit.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// CreateUserParams captures the attributes that can be set when creating a user.
type CreateUserParams struct {
	DisplayName string
	Email       string
	Password    string
	Roles       []string
	SelfSignup  bool
}

// OAuthLoginParams carries the identity an OAuth provider asserted, used to
// authenticate or provision a local account.
type OAuthLoginParams struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// UserUpdate describes the mutable fields of a user account. Nil pointers
// leave the current value untouched.
type UserUpdate struct {
	DisplayName *string
	Email       *string
	Roles       *[]string
}

// ProfileUpdate describes the mutable fields of a customer profile.
type ProfileUpdate struct {
	Phone               *string
	DefaultAddress      *models.ShippingAddress
	ClearDefaultAddress bool
}

// CreateProductParams captures the attributes required to add a product to
// the catalog.
type CreateProductParams struct {
	Name         string
	Slug         string
	Description  string
	Brand        string
	Category     string
	Price        models.Money
	CountInStock int
	Images       []models.Asset
}

// ProductUpdate describes the mutable fields of a product.
type ProductUpdate struct {
	Name         *string
	Slug         *string
	Description  *string
	Brand        *string
	Category     *string
	Price        *models.Money
	CountInStock *int
	Images       *[]models.Asset
}

// ProductFilter narrows and pages a catalog listing. Query matches name and
// brand case-insensitively; a zero PageSize selects the default.
type ProductFilter struct {
	Query    string
	Category string
	Page     int
	PageSize int
}

// ProductPage is one page of a catalog listing with the totals the UI needs
// to render pagination.
type ProductPage struct {
	Items    []models.Product `json:"items"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"pageSize"`
}

// OrderItemParams references a product and quantity at order placement. The
// repository snapshots name, price, and image from the product so later
// catalog edits do not rewrite order history.
type OrderItemParams struct {
	ProductID string
	Quantity  int
}

// CreateOrderParams captures the data needed to place an order.
type CreateOrderParams struct {
	UserID          string
	Items           []OrderItemParams
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
	ShippingPrice   models.Money
}

// OrderFilter narrows an order listing. Empty fields match everything.
type OrderFilter struct {
	UserID string
	Status string
}
