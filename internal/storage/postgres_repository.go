package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"brightcart/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresOperationTimeout = 10 * time.Second

// PostgresRepository persists the storefront dataset in Postgres via a pgx
// connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
	now  func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(dsn string, opts ...Option) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{pool: pool, cfg: cfg, now: cfg.Clock}
	ctx, cancel := repo.opCtx()
	defer cancel()
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) opCtx() (context.Context, context.CancelFunc) {
	timeout := r.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultPostgresOperationTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userColumns = "id, display_name, email, roles, password_hash, self_signup, created_at"

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.Roles, &user.PasswordHash, &user.SelfSignup, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	if len(user.Roles) == 0 {
		user.Roles = nil
	}
	return user, nil
}

func (r *PostgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
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
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	roles := normalizeRoles(params.Roles)
	if roles == nil {
		roles = []string{}
	}
	user := models.User{
		ID:           id,
		DisplayName:  displayName,
		Email:        email,
		Roles:        normalizeRoles(params.Roles),
		PasswordHash: hashed,
		SelfSignup:   params.SelfSignup,
		CreatedAt:    r.now(),
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	_, err = r.pool.Exec(ctx,
		"INSERT INTO users (id, display_name, email, roles, password_hash, self_signup, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		user.ID, user.DisplayName, user.Email, roles, user.PasswordHash, user.SelfSignup, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("email %s already registered: %w", email, ErrConflict)
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, errors.New("password is required")
	}
	user, ok := r.FindUserByEmail(email)
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

func (r *PostgresRepository) AuthenticateOAuth(params OAuthLoginParams) (models.User, error) {
	provider := strings.ToLower(strings.TrimSpace(params.Provider))
	subject := strings.TrimSpace(params.Subject)
	if provider == "" || subject == "" {
		return models.User{}, errors.New("provider and subject are required")
	}

	ctx, cancel := r.opCtx()
	defer cancel()

	user, err := scanUser(r.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users u JOIN oauth_accounts a ON a.user_id = u.id WHERE a.provider = $1 AND a.subject = $2",
		provider, subject))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, fmt.Errorf("lookup oauth account: %w", err)
	}

	email := normalizeEmail(params.Email)
	linked, found := models.User{}, false
	if email != "" {
		linked, found = r.FindUserByEmail(email)
	}
	if !found {
		if email == "" {
			email = fallbackOAuthEmail(provider, subject)
		}
		displayName := strings.TrimSpace(params.DisplayName)
		if displayName == "" {
			displayName = fmt.Sprintf("%s user", provider)
		}
		created, err := r.CreateUser(CreateUserParams{
			DisplayName: displayName,
			Email:       email,
			Roles:       []string{"customer"},
			SelfSignup:  true,
		})
		if err != nil {
			return models.User{}, err
		}
		linked = created
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO oauth_accounts (provider, subject, user_id, email, display_name, linked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, subject) DO NOTHING`,
		provider, subject, linked.ID, email, strings.TrimSpace(params.DisplayName), r.now())
	if err != nil {
		return models.User{}, fmt.Errorf("link oauth account: %w", err)
	}
	return linked, nil
}

func (r *PostgresRepository) ListUsers() []models.User {
	ctx, cancel := r.opCtx()
	defer cancel()
	rows, err := r.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at, id")
	if err != nil {
		return nil
	}
	defer rows.Close()
	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil
		}
		users = append(users, user)
	}
	return users
}

func (r *PostgresRepository) GetUser(id string) (models.User, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) FindUserByEmail(email string) (models.User, bool) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return models.User{}, false
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	user, err := scanUser(r.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", normalized))
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *PostgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	current, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if update.DisplayName != nil {
		trimmed := strings.TrimSpace(*update.DisplayName)
		if trimmed == "" {
			return models.User{}, errors.New("display name cannot be empty")
		}
		current.DisplayName = trimmed
	}
	if update.Email != nil {
		email := normalizeEmail(*update.Email)
		if email == "" || !strings.Contains(email, "@") {
			return models.User{}, errors.New("a valid email is required")
		}
		current.Email = email
	}
	if update.Roles != nil {
		current.Roles = normalizeRoles(*update.Roles)
	}
	roles := current.Roles
	if roles == nil {
		roles = []string{}
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	tag, err := r.pool.Exec(ctx,
		"UPDATE users SET display_name = $2, email = $3, roles = $4 WHERE id = $1",
		id, current.DisplayName, current.Email, roles)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, fmt.Errorf("email %s already registered: %w", current.Email, ErrConflict)
		}
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return current, nil
}

func (r *PostgresRepository) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	ctx, cancel := r.opCtx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "UPDATE users SET password_hash = $2 WHERE id = $1", id, hashed)
	if err != nil {
		return models.User{}, fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	user, _ := r.GetUser(id)
	return user, nil
}

func (r *PostgresRepository) DeleteUser(id string) error {
	ctx, cancel := r.opCtx()
	defer cancel()
	tag, err := r.pool.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) UpsertProfile(userID string, update ProfileUpdate) (models.Profile, error) {
	profile, exists := r.GetProfile(userID)
	if !exists {
		if _, ok := r.GetUser(userID); !ok {
			return models.Profile{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		profile = models.Profile{UserID: userID, CreatedAt: r.now()}
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
	profile.UpdatedAt = r.now()

	var address []byte
	if profile.DefaultAddress != nil {
		encoded, err := json.Marshal(profile.DefaultAddress)
		if err != nil {
			return models.Profile{}, fmt.Errorf("encode default address: %w", err)
		}
		address = encoded
	}

	ctx, cancel := r.opCtx()
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, phone, default_address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET phone = $2, default_address = $3, updated_at = $5`,
		userID, profile.Phone, address, profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		return models.Profile{}, fmt.Errorf("upsert profile: %w", err)
	}
	return profile, nil
}

func (r *PostgresRepository) GetProfile(userID string) (models.Profile, bool) {
	ctx, cancel := r.opCtx()
	defer cancel()
	var profile models.Profile
	var address []byte
	err := r.pool.QueryRow(ctx,
		"SELECT user_id, phone, default_address, created_at, updated_at FROM profiles WHERE user_id = $1",
		userID).Scan(&profile.UserID, &profile.Phone, &address, &profile.CreatedAt, &profile.UpdatedAt)
	if err != nil {
		return models.Profile{}, false
	}
	if len(address) > 0 {
		var decoded models.ShippingAddress
		if err := json.Unmarshal(address, &decoded); err == nil {
			profile.DefaultAddress = &decoded
		}
	}
	return profile, true
}
