package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"brightcart/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *Storage, email string, roles ...string) models.User {
	t.Helper()
	user, err := store.CreateUser(CreateUserParams{
		DisplayName: "Test User",
		Email:       email,
		Password:    "correct horse battery",
		Roles:       roles,
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	return user
}

func TestCreateUserNormalizesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage returned error: %v", err)
	}
	user, err := store.CreateUser(CreateUserParams{
		DisplayName: "  Ada  ",
		Email:       "  Ada@Example.COM ",
		Password:    "longenough",
		Roles:       []string{"Admin", "admin", " customer "},
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if user.DisplayName != "Ada" {
		t.Fatalf("expected trimmed display name, got %q", user.DisplayName)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", user.Email)
	}
	if len(user.Roles) != 2 || user.Roles[0] != "admin" || user.Roles[1] != "customer" {
		t.Fatalf("expected deduplicated sorted roles, got %v", user.Roles)
	}
	if len(user.ID) != 24 || strings.ToLower(user.ID) != user.ID {
		t.Fatalf("expected 24-char lowercase hex id, got %q", user.ID)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload storage: %v", err)
	}
	loaded, ok := reloaded.GetUser(user.ID)
	if !ok {
		t.Fatal("expected user to survive a reload")
	}
	if loaded.Email != user.Email {
		t.Fatalf("reloaded user mismatch: %+v", loaded)
	}
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	store := newTestStorage(t)
	createTestUser(t, store, "dup@example.com")
	_, err := store.CreateUser(CreateUserParams{
		DisplayName: "Other",
		Email:       "DUP@example.com",
		Password:    "longenough",
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAuthenticateUser(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store, "login@example.com")

	authed, err := store.AuthenticateUser("Login@Example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("AuthenticateUser returned error: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, authed.ID)
	}

	if _, err := store.AuthenticateUser("login@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := store.AuthenticateUser("nobody@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestSetUserPasswordRotatesHash(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store, "rotate@example.com")

	if _, err := store.SetUserPassword(user.ID, "short"); err == nil {
		t.Fatal("expected error for short password")
	}
	if _, err := store.SetUserPassword(user.ID, "brand new password"); err != nil {
		t.Fatalf("SetUserPassword returned error: %v", err)
	}
	if _, err := store.AuthenticateUser(user.Email, "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := store.AuthenticateUser(user.Email, "brand new password"); err != nil {
		t.Fatalf("expected new password to authenticate, got %v", err)
	}
}

func TestUpdateUserPartialFields(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store, "update@example.com", "customer")

	name := "Renamed"
	updated, err := store.UpdateUser(user.ID, UserUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}
	if updated.DisplayName != "Renamed" {
		t.Fatalf("expected renamed user, got %q", updated.DisplayName)
	}
	if updated.Email != user.Email {
		t.Fatalf("email changed unexpectedly: %q", updated.Email)
	}

	if _, err := store.UpdateUser("ffffffffffffffffffffffff", UserUpdate{DisplayName: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteUserRemovesProfile(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store, "gone@example.com")
	phone := "+15551234567"
	if _, err := store.UpsertProfile(user.ID, ProfileUpdate{Phone: &phone}); err != nil {
		t.Fatalf("UpsertProfile returned error: %v", err)
	}
	if err := store.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser returned error: %v", err)
	}
	if _, ok := store.GetUser(user.ID); ok {
		t.Fatal("expected user to be removed")
	}
	if _, ok := store.GetProfile(user.ID); ok {
		t.Fatal("expected profile to be removed alongside the user")
	}
}

func TestUpsertProfileAddressLifecycle(t *testing.T) {
	store := newTestStorage(t)
	user := createTestUser(t, store, "address@example.com")

	address := models.ShippingAddress{
		FullName:   "Ada Lovelace",
		Phone:      "+441234567890",
		Line1:      "12 Analytical Row",
		City:       "London",
		PostalCode: "N1 9GU",
		Country:    "GB",
	}
	profile, err := store.UpsertProfile(user.ID, ProfileUpdate{DefaultAddress: &address})
	if err != nil {
		t.Fatalf("UpsertProfile returned error: %v", err)
	}
	if profile.DefaultAddress == nil || profile.DefaultAddress.City != "London" {
		t.Fatalf("expected stored default address, got %+v", profile.DefaultAddress)
	}

	address.City = "Cambridge"
	stored, _ := store.GetProfile(user.ID)
	if stored.DefaultAddress.City != "London" {
		t.Fatal("profile shares memory with caller's address value")
	}

	cleared, err := store.UpsertProfile(user.ID, ProfileUpdate{ClearDefaultAddress: true})
	if err != nil {
		t.Fatalf("UpsertProfile clear returned error: %v", err)
	}
	if cleared.DefaultAddress != nil {
		t.Fatal("expected default address to be cleared")
	}
}

func TestPersistFailureLeavesStateUntouched(t *testing.T) {
	store := newTestStorage(t)
	createTestUser(t, store, "keep@example.com")

	store.persistOverride = func(dataset) error { return errors.New("disk full") }
	_, err := store.CreateUser(CreateUserParams{
		DisplayName: "Casualty",
		Email:       "lost@example.com",
		Password:    "longenough",
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected persist failure to surface, got %v", err)
	}
	store.persistOverride = nil

	if _, ok := store.FindUserByEmail("lost@example.com"); ok {
		t.Fatal("failed create must not leave the user behind")
	}
	if _, ok := store.FindUserByEmail("keep@example.com"); !ok {
		t.Fatal("existing user lost after failed persist")
	}
}
