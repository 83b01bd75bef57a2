package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"brightcart/internal/models"
	"golang.org/x/crypto/pbkdf2"
)

// AuthenticateUser verifies credentials and returns the matching user on success.
func (s *Storage) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := s.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return models.User{}, ErrPasswordLoginUnsupported
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

// AuthenticateOAuth resolves the asserted external identity to a local user,
// provisioning a customer account on first login. Accounts are linked by
// provider and subject; when the provider reports an email that matches an
// existing user, the identity is attached to that account instead.
func (s *Storage) AuthenticateOAuth(params OAuthLoginParams) (models.User, error) {
	provider := strings.ToLower(strings.TrimSpace(params.Provider))
	subject := strings.TrimSpace(params.Subject)
	if provider == "" || subject == "" {
		return models.User{}, errors.New("provider and subject are required")
	}
	key := oauthAccountKey(provider, subject)

	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.data.OAuthAccounts[key]; ok {
		if user, exists := s.data.Users[account.UserID]; exists {
			return cloneUser(user), nil
		}
	}

	email := normalizeEmail(params.Email)
	var user models.User
	found := false
	if email != "" {
		for _, existing := range s.data.Users {
			if normalizeEmail(existing.Email) == email {
				user = existing
				found = true
				break
			}
		}
	}

	updated := cloneDataset(s.data)

	if !found {
		if email == "" {
			email = fallbackOAuthEmail(provider, subject)
		}
		displayName := strings.TrimSpace(params.DisplayName)
		if displayName == "" {
			displayName = fmt.Sprintf("%s user", provider)
		}
		id, err := generateID()
		if err != nil {
			return models.User{}, err
		}
		user = models.User{
			ID:          id,
			DisplayName: displayName,
			Email:       email,
			Roles:       []string{"customer"},
			SelfSignup:  true,
			CreatedAt:   s.now(),
		}
		updated.Users[user.ID] = user
	}

	updated.OAuthAccounts[key] = models.OAuthAccount{
		Provider:    provider,
		Subject:     subject,
		UserID:      user.ID,
		Email:       email,
		DisplayName: strings.TrimSpace(params.DisplayName),
		LinkedAt:    s.now(),
	}

	if err := s.persistDataset(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

func oauthAccountKey(provider, subject string) string {
	return provider + "|" + subject
}

// fallbackOAuthEmail synthesizes a stable placeholder address for providers
// that do not disclose one. The .invalid TLD keeps it undeliverable.
func fallbackOAuthEmail(provider, subject string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(subject) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return fmt.Sprintf("%s-%s@customers.invalid", provider, builder.String())
}

// SetUserPassword replaces the stored password hash for the provided user.
func (s *Storage) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)

	user, ok := updatedData.Users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}

	user.PasswordHash = hashed
	updatedData.Users[id] = user

	if err := s.persistDataset(updatedData); err != nil {
		return models.User{}, err
	}

	s.data = updatedData

	return cloneUser(user), nil
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, passwordHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, passwordHashIterations, passwordHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", passwordHashIterations, encodedSalt, encodedKey), nil
}

func verifyPassword(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify password: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify password: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify password: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify password: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify password: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
