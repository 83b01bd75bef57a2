package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"brightcart/internal/models"
)

// Snapshot is a flattened copy of the JSON datastore used by the
// migrate-json-to-postgres tool. Records are ordered so foreign keys resolve
// when they are replayed into Postgres.
type Snapshot struct {
	Users         []models.User
	Profiles      []models.Profile
	Products      []models.Product
	Orders        []models.Order
	OAuthAccounts []models.OAuthAccount
}

// SnapshotCounts reports how many records a snapshot holds per table.
type SnapshotCounts struct {
	Users         int
	Profiles      int
	Products      int
	Orders        int
	OAuthAccounts int
}

// Counts summarises the snapshot for logging and post-import verification.
func (s Snapshot) Counts() SnapshotCounts {
	return SnapshotCounts{
		Users:         len(s.Users),
		Profiles:      len(s.Profiles),
		Products:      len(s.Products),
		Orders:        len(s.Orders),
		OAuthAccounts: len(s.OAuthAccounts),
	}
}

// LoadSnapshotFromJSON reads a store.json file written by the JSON repository
// and flattens it into deterministic slices.
func LoadSnapshotFromJSON(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read store file: %w", err)
	}
	var data dataset
	if err := json.Unmarshal(raw, &data); err != nil {
		return Snapshot{}, fmt.Errorf("decode store file: %w", err)
	}

	snapshot := Snapshot{}
	for _, user := range data.Users {
		snapshot.Users = append(snapshot.Users, user)
	}
	sort.Slice(snapshot.Users, func(i, j int) bool { return snapshot.Users[i].ID < snapshot.Users[j].ID })
	for _, profile := range data.Profiles {
		snapshot.Profiles = append(snapshot.Profiles, profile)
	}
	sort.Slice(snapshot.Profiles, func(i, j int) bool { return snapshot.Profiles[i].UserID < snapshot.Profiles[j].UserID })
	for _, product := range data.Products {
		snapshot.Products = append(snapshot.Products, product)
	}
	sort.Slice(snapshot.Products, func(i, j int) bool { return snapshot.Products[i].ID < snapshot.Products[j].ID })
	for _, order := range data.Orders {
		snapshot.Orders = append(snapshot.Orders, order)
	}
	sort.Slice(snapshot.Orders, func(i, j int) bool { return snapshot.Orders[i].ID < snapshot.Orders[j].ID })
	for _, account := range data.OAuthAccounts {
		snapshot.OAuthAccounts = append(snapshot.OAuthAccounts, account)
	}
	sort.Slice(snapshot.OAuthAccounts, func(i, j int) bool {
		a, b := snapshot.OAuthAccounts[i], snapshot.OAuthAccounts[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Subject < b.Subject
	})
	return snapshot, nil
}

// ImportSnapshotToPostgres replays a snapshot into a Postgres repository inside
// a single transaction. Existing rows with matching keys are left untouched so
// the migration can be re-run safely.
func ImportSnapshotToPostgres(ctx context.Context, repo Repository, snapshot Snapshot) error {
	pg, ok := repo.(*PostgresRepository)
	if !ok {
		return fmt.Errorf("snapshot import requires a postgres repository, got %T", repo)
	}
	return pg.importSnapshot(ctx, snapshot)
}

func (r *PostgresRepository) importSnapshot(ctx context.Context, snapshot Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, user := range snapshot.Users {
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, display_name, email, roles, password_hash, self_signup, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			user.ID, user.DisplayName, user.Email, user.Roles, user.PasswordHash, user.SelfSignup, user.CreatedAt)
		if err != nil {
			return fmt.Errorf("import user %s: %w", user.ID, err)
		}
	}

	for _, profile := range snapshot.Profiles {
		var address []byte
		if profile.DefaultAddress != nil {
			encoded, err := json.Marshal(profile.DefaultAddress)
			if err != nil {
				return fmt.Errorf("encode default address for %s: %w", profile.UserID, err)
			}
			address = encoded
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO profiles (user_id, phone, default_address, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id) DO NOTHING`,
			profile.UserID, profile.Phone, address, profile.CreatedAt, profile.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import profile %s: %w", profile.UserID, err)
		}
	}

	for _, product := range snapshot.Products {
		images, err := encodeImages(product.Images)
		if err != nil {
			return fmt.Errorf("encode images for %s: %w", product.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO products (id, name, slug, description, brand, category, price_minor, count_in_stock, images, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (id) DO NOTHING`,
			product.ID, product.Name, product.Slug, product.Description, product.Brand, product.Category,
			product.Price.MinorUnits(), product.CountInStock, images, product.CreatedAt, product.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import product %s: %w", product.ID, err)
		}
	}

	for _, order := range snapshot.Orders {
		encodedItems, err := json.Marshal(order.Items)
		if err != nil {
			return fmt.Errorf("encode items for %s: %w", order.ID, err)
		}
		encodedAddress, err := json.Marshal(order.ShippingAddress)
		if err != nil {
			return fmt.Errorf("encode shipping address for %s: %w", order.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO orders (id, user_id, items, shipping_address, payment_method, items_price_minor,
			 shipping_price_minor, total_price_minor, status, payment_ref, paid_at, delivered_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			 ON CONFLICT (id) DO NOTHING`,
			order.ID, order.UserID, encodedItems, encodedAddress, order.PaymentMethod,
			order.ItemsPrice.MinorUnits(), order.ShippingPrice.MinorUnits(), order.TotalPrice.MinorUnits(),
			order.Status, order.PaymentRef, order.PaidAt, order.DeliveredAt, order.CreatedAt, order.UpdatedAt)
		if err != nil {
			return fmt.Errorf("import order %s: %w", order.ID, err)
		}
	}

	for _, account := range snapshot.OAuthAccounts {
		_, err := tx.Exec(ctx,
			`INSERT INTO oauth_accounts (provider, subject, user_id, email, display_name, linked_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (provider, subject) DO NOTHING`,
			account.Provider, account.Subject, account.UserID, account.Email, account.DisplayName, account.LinkedAt)
		if err != nil {
			return fmt.Errorf("import oauth account %s/%s: %w", account.Provider, account.Subject, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}
