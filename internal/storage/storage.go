package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"brightcart/internal/models"
)

type dataset struct {
	Users         map[string]models.User         `json:"users"`
	Profiles      map[string]models.Profile      `json:"profiles"`
	Products      map[string]models.Product      `json:"products"`
	Orders        map[string]models.Order        `json:"orders"`
	OAuthAccounts map[string]models.OAuthAccount `json:"oauthAccounts"`
}

// Storage is the JSON-snapshot datastore. All state lives in memory; every
// mutation clones the dataset, applies the change, persists the clone
// atomically, and only then commits it, so a failed persist never leaves
// partially applied state behind.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

func newDataset() dataset {
	return dataset{
		Users:         make(map[string]models.User),
		Profiles:      make(map[string]models.Profile),
		Products:      make(map[string]models.Product),
		Orders:        make(map[string]models.Order),
		OAuthAccounts: make(map[string]models.OAuthAccount),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Profiles == nil {
		s.data.Profiles = make(map[string]models.Profile)
	}
	if s.data.Products == nil {
		s.data.Products = make(map[string]models.Product)
	}
	if s.data.Orders == nil {
		s.data.Orders = make(map[string]models.Order)
	}
	if s.data.OAuthAccounts == nil {
		s.data.OAuthAccounts = make(map[string]models.OAuthAccount)
	}
}

func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func cloneDataset(src dataset) dataset {
	clone := newDataset()
	for id, user := range src.Users {
		clone.Users[id] = cloneUser(user)
	}
	for id, profile := range src.Profiles {
		clone.Profiles[id] = cloneProfile(profile)
	}
	for id, product := range src.Products {
		clone.Products[id] = cloneProduct(product)
	}
	for id, order := range src.Orders {
		clone.Orders[id] = cloneOrder(order)
	}
	for key, account := range src.OAuthAccounts {
		clone.OAuthAccounts[key] = account
	}
	return clone
}

func cloneUser(user models.User) models.User {
	cloned := user
	if user.Roles != nil {
		cloned.Roles = append([]string(nil), user.Roles...)
	}
	return cloned
}

func cloneProfile(profile models.Profile) models.Profile {
	cloned := profile
	if profile.DefaultAddress != nil {
		address := *profile.DefaultAddress
		cloned.DefaultAddress = &address
	}
	return cloned
}

func cloneProduct(product models.Product) models.Product {
	cloned := product
	if product.Images != nil {
		cloned.Images = append([]models.Asset(nil), product.Images...)
	}
	return cloned
}

func cloneOrder(order models.Order) models.Order {
	cloned := order
	if order.Items != nil {
		cloned.Items = append([]models.OrderItem(nil), order.Items...)
	}
	if order.PaidAt != nil {
		paid := *order.PaidAt
		cloned.PaidAt = &paid
	}
	if order.DeliveredAt != nil {
		delivered := *order.DeliveredAt
		cloned.DeliveredAt = &delivered
	}
	return cloned
}

// Ping reports readiness. The JSON store is ready as soon as it is loaded.
func (s *Storage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close flushes nothing; every mutation already persisted synchronously.
func (s *Storage) Close(ctx context.Context) error {
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}
	roles := make([]string, 0, len(input))
	seen := make(map[string]struct{})
	for _, role := range input {
		trimmed := strings.TrimSpace(role)
		if trimmed == "" {
			continue
		}
		normalized := strings.ToLower(trimmed)
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		roles = append(roles, normalized)
	}
	if len(roles) == 0 {
		return nil
	}
	sort.Strings(roles)
	return roles
}

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	displayName := strings.TrimSpace(params.DisplayName)
	if displayName == "" {
		return models.User{}, errors.New("display name is required")
	}
	email := normalizeEmail(params.Email)
	if email == "" || !strings.Contains(email, "@") {
		return models.User{}, errors.New("a valid email is required")
	}

	hashed := ""
	if params.Password != "" {
		if len(params.Password) < 8 {
			return models.User{}, errors.New("password must be at least 8 characters")
		}
		var err error
		hashed, err = hashPassword(params.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data.Users {
		if normalizeEmail(existing.Email) == email {
			return models.User{}, fmt.Errorf("email %s already registered: %w", email, ErrConflict)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	user := models.User{
		ID:           id,
		DisplayName:  displayName,
		Email:        email,
		Roles:        normalizeRoles(params.Roles),
		PasswordHash: hashed,
		SelfSignup:   params.SelfSignup,
		CreatedAt:    s.now(),
	}

	updated := cloneDataset(s.data)
	updated.Users[user.ID] = user
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, cloneUser(user))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, false
	}
	return cloneUser(user), true
}

func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return models.User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.data.Users {
		if normalizeEmail(user.Email) == normalized {
			return cloneUser(user), true
		}
	}
	return models.User{}, false
}

func (s *Storage) UpdateUser(id string, update UserUpdate) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	if update.DisplayName != nil {
		trimmed := strings.TrimSpace(*update.DisplayName)
		if trimmed == "" {
			return models.User{}, errors.New("display name cannot be empty")
		}
		user.DisplayName = trimmed
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" || !strings.Contains(email, "@") {
			return models.User{}, errors.New("a valid email is required")
		}
		for otherID, existing := range s.data.Users {
			if otherID != id && normalizeEmail(existing.Email) == email {
				return models.User{}, fmt.Errorf("email %s already registered: %w", email, ErrConflict)
			}
		}
		user.Email = email
	}
	if update.Roles != nil {
		user.Roles = normalizeRoles(*update.Roles)
	}

	updated := cloneDataset(s.data)
	updated.Users[id] = cloneUser(user)
	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

func (s *Storage) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	updated := cloneDataset(s.data)
	delete(updated.Users, id)
	delete(updated.Profiles, id)
	if err := s.persistDataset(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) UpsertProfile(userID string, update ProfileUpdate) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[userID]; !ok {
		return models.Profile{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	profile, exists := s.data.Profiles[userID]
	if !exists {
		profile = models.Profile{UserID: userID, CreatedAt: s.now()}
	}
	if update.Phone != nil {
		profile.Phone = strings.TrimSpace(*update.Phone)
	}
	if update.ClearDefaultAddress {
		profile.DefaultAddress = nil
	} else if update.DefaultAddress != nil {
		address := *update.DefaultAddress
		profile.DefaultAddress = &address
	}
	profile.UpdatedAt = s.now()

	updated := cloneDataset(s.data)
	updated.Profiles[userID] = cloneProfile(profile)
	if err := s.persistDataset(updated); err != nil {
		return models.Profile{}, err
	}
	s.data = updated
	return cloneProfile(profile), nil
}

func (s *Storage) GetProfile(userID string) (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.data.Profiles[userID]
	if !ok {
		return models.Profile{}, false
	}
	return cloneProfile(profile), true
}
