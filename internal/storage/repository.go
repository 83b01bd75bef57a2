package storage

import (
	"context"

	"brightcart/internal/models"
)

// Repository exposes the datastore operations required by the API handlers
// and the admin tooling. Two implementations exist: the JSON-snapshot store
// used for development and tests, and the Postgres store used in production.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	AuthenticateOAuth(params OAuthLoginParams) (models.User, error)
	ListUsers() []models.User
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	UpdateUser(id string, update UserUpdate) (models.User, error)
	SetUserPassword(id, password string) (models.User, error)
	DeleteUser(id string) error

	UpsertProfile(userID string, update ProfileUpdate) (models.Profile, error)
	GetProfile(userID string) (models.Profile, bool)

	CreateProduct(params CreateProductParams) (models.Product, error)
	GetProduct(id string) (models.Product, bool)
	FindProductBySlug(slug string) (models.Product, bool)
	ListProducts(filter ProductFilter) (ProductPage, error)
	UpdateProduct(id string, update ProductUpdate) (models.Product, error)
	DeleteProduct(id string) error

	CreateOrder(params CreateOrderParams) (models.Order, error)
	GetOrder(id string) (models.Order, bool)
	ListOrders(filter OrderFilter) ([]models.Order, error)
	MarkOrderPaid(id, paymentRef string) (models.Order, error)
	MarkOrderDelivered(id string) (models.Order, error)
	CancelOrder(id string) (models.Order, error)
}

var _ Repository = (*Storage)(nil)
