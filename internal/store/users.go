package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// UserRepository reads and writes users.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a user repository on db.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user and returns it with its id. A taken username or
// email yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, username, passwordHash, email string) (*User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	now := time.Now().UTC()
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, username, passwordHash, email, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("user %s <%s>: %w", username, email, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return &User{ID: id, Username: username, PasswordHash: passwordHash, Email: email, CreatedAt: now, UpdatedAt: now}, nil
}

// GetByUsername looks a user up by name.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getOne(ctx, `SELECT id, username, password_hash, email, created_at, updated_at FROM users WHERE username = ?`, username)
}

// GetByID looks a user up by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getOne(ctx, `SELECT id, username, password_hash, email, created_at, updated_at FROM users WHERE id = ?`, id)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var u User
	err := r.db.conn.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
