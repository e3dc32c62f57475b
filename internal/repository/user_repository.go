package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/studyhall-marketplace/internal/database"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/utils"
)

const userCols = `id, email, phone, full_name, password_hash, role, is_active, created_at, updated_at`

// UserRepo persists accounts for every role.
type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// DB exposes the handle so callers can open transactions that span repos.
func (r *UserRepo) DB() *sql.DB { return r.db }

func scanUser(s scanner, u *model.User) error {
	return s.Scan(&u.ID, &u.Email, &u.Phone, &u.FullName, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
}

// Create hashes password with the given bcrypt cost and inserts u.  The
// email is normalised and u.ID is populated.
func (r *UserRepo) Create(ctx context.Context, u *model.User, password string, cost int) error {
	return r.create(ctx, r.db, u, password, cost)
}

// CreateTx is Create inside the caller's transaction.
func (r *UserRepo) CreateTx(ctx context.Context, tx *sql.Tx, u *model.User, password string, cost int) error {
	return r.create(ctx, tx, u, password, cost)
}

func (r *UserRepo) create(ctx context.Context, q querier, u *model.User, password string, cost int) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx,
		"INSERT INTO users (email, phone, full_name, password_hash, role) VALUES (?,?,?,?,?)",
		u.Email, u.Phone, u.FullName, hash, u.Role)
	if err != nil {
		if database.IsDuplicateKey(err) {
			return ErrEmailExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	u.PasswordHash = hash
	u.IsActive = true
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getByEmail(ctx, r.db, email)
}

// GetByEmailTx is GetByEmail inside a transaction.
func (r *UserRepo) GetByEmailTx(ctx context.Context, tx *sql.Tx, email string) (model.User, error) {
	return r.getByEmail(ctx, tx, email)
}

func (r *UserRepo) getByEmail(ctx context.Context, q querier, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u model.User
	err := scanUser(q.QueryRowContext(ctx, "SELECT "+userCols+" FROM users WHERE email=? LIMIT 1", email), &u)
	return u, notFound(err)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := scanUser(r.db.QueryRowContext(ctx, "SELECT "+userCols+" FROM users WHERE id=? LIMIT 1", id), &u)
	return u, notFound(err)
}

// List returns users, optionally filtered by role, newest first.
func (r *UserRepo) List(ctx context.Context, role string, p Page) ([]model.User, error) {
	q := "SELECT " + userCols + " FROM users"
	args := []any{}
	if role != "" {
		q += " WHERE role = ?"
		args = append(args, role)
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, p.Limit, p.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SetActive enables or disables an account.  Disabling also revokes the
// user's refresh tokens so open sessions end at the next refresh.
func (r *UserRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET is_active=? WHERE id=?", active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports 0 affected rows when the value is unchanged, so
		// confirm the row exists before calling it missing.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	if !active {
		_, err = r.db.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL", id)
	}
	return err
}

// CountByRole returns the number of users per role.
func (r *UserRepo) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT role, COUNT(*) FROM users GROUP BY role")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		out[role] = n
	}
	return out, rows.Err()
}
