package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin is the only role allowed to operate the integration.
const RoleAdmin = "admin"

// ErrInvalidCredentials is returned when username/password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AdminUser is an operator account of the admin API.
type AdminUser struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// AdminUserRepository persists operator accounts.
type AdminUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*AdminUser, error)
	Create(ctx context.Context, username, passwordHash, role string) (int64, error)
	HasAdmin(ctx context.Context) (bool, error)
}

// PgAdminUserRepository implements AdminUserRepository using pgxpool.
type PgAdminUserRepository struct {
	db *pgxpool.Pool
}

func NewPgAdminUserRepository(db *pgxpool.Pool) *PgAdminUserRepository {
	return &PgAdminUserRepository{db: db}
}

func (r *PgAdminUserRepository) FindByUsername(ctx context.Context, username string) (*AdminUser, error) {
	const q = `SELECT id, username, password_hash, role, created_at FROM users WHERE username=$1`
	var u AdminUser
	if err := r.db.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgAdminUserRepository) Create(ctx context.Context, username, passwordHash, role string) (int64, error) {
	const q = `INSERT INTO users (username, password_hash, role) VALUES ($1,$2,$3) RETURNING id`
	var id int64
	if err := r.db.QueryRow(ctx, q, username, passwordHash, role).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *PgAdminUserRepository) HasAdmin(ctx context.Context) (bool, error) {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1 FROM users WHERE role=$1 LIMIT 1`, RoleAdmin).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AuthService verifies operator credentials.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*AdminUser, error)
}

// RepositoryAuthService checks bcrypt hashes stored in an AdminUserRepository.
type RepositoryAuthService struct {
	users AdminUserRepository
}

func NewRepositoryAuthService(users AdminUserRepository) *RepositoryAuthService {
	return &RepositoryAuthService{users: users}
}

func (s *RepositoryAuthService) Authenticate(ctx context.Context, username, password string) (*AdminUser, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil || u == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
