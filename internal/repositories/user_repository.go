package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the users mirror maintained by the identity service.
// This service never writes to it.
type UserRepository interface {
	GetUser(ctx context.Context, username string) (models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser fetches a user by handle.
func (r *UserRepo) GetUser(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT username, display_name, avatar_url, created_at FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SearchUsers returns handles matching the query by prefix, used to pick a
// recommendation target.
func (r *UserRepo) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	var users []models.User
	err := r.db.SelectContext(ctx, &users, `SELECT username, display_name, avatar_url, created_at FROM users
        WHERE username ILIKE $1 || '%' OR display_name ILIKE $1 || '%'
        ORDER BY username ASC LIMIT $2`, query, limit)
	return users, err
}
