package storage

import "testing"

func TestAuthenticateOAuthCreatesUser(t *testing.T) {
	store := newTestStorage(t)

	user, err := store.AuthenticateOAuth(OAuthLoginParams{
		Provider:    "example",
		Subject:     "subject-1",
		Email:       "shopper@example.com",
		DisplayName: "Shopper",
	})
	if err != nil {
		t.Fatalf("AuthenticateOAuth returned error: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected user id to be assigned")
	}
	if user.Email != "shopper@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if !user.SelfSignup {
		t.Fatal("expected OAuth-created user to be marked as self signup")
	}
	if len(user.Roles) != 1 || user.Roles[0] != "customer" {
		t.Fatalf("expected customer role for OAuth user, got %v", user.Roles)
	}

	fetched, ok := store.FindUserByEmail("shopper@example.com")
	if !ok || fetched.ID != user.ID {
		t.Fatalf("expected user to be persisted, got %+v", fetched)
	}

	again, err := store.AuthenticateOAuth(OAuthLoginParams{Provider: "example", Subject: "subject-1"})
	if err != nil {
		t.Fatalf("AuthenticateOAuth second call returned error: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("expected existing account to be reused, got %s", again.ID)
	}
}

func TestAuthenticateOAuthLinksExistingUser(t *testing.T) {
	store := newTestStorage(t)
	existing := createTestUser(t, store, "linked@example.com", "customer")

	linked, err := store.AuthenticateOAuth(OAuthLoginParams{
		Provider:    "example",
		Subject:     "subject-2",
		Email:       "linked@example.com",
		DisplayName: "Shopper",
	})
	if err != nil {
		t.Fatalf("AuthenticateOAuth returned error: %v", err)
	}
	if linked.ID != existing.ID {
		t.Fatalf("expected identity to attach to existing account, got %s", linked.ID)
	}
	if linked.SelfSignup != existing.SelfSignup {
		t.Fatal("expected existing account flags to be preserved")
	}
}

func TestAuthenticateOAuthGeneratesFallbackEmail(t *testing.T) {
	store := newTestStorage(t)

	user, err := store.AuthenticateOAuth(OAuthLoginParams{Provider: "acme", Subject: "Subject 9!"})
	if err != nil {
		t.Fatalf("AuthenticateOAuth returned error: %v", err)
	}
	if user.Email != "acme-subject-9-@customers.invalid" {
		t.Fatalf("unexpected fallback email %q", user.Email)
	}
	if user.DisplayName != "acme user" {
		t.Fatalf("unexpected fallback display name %q", user.DisplayName)
	}
}

func TestAuthenticateOAuthRequiresIdentity(t *testing.T) {
	store := newTestStorage(t)
	if _, err := store.AuthenticateOAuth(OAuthLoginParams{Provider: "example"}); err == nil {
		t.Fatal("expected error when subject is missing")
	}
	if _, err := store.AuthenticateOAuth(OAuthLoginParams{Subject: "s"}); err == nil {
		t.Fatal("expected error when provider is missing")
	}
}
