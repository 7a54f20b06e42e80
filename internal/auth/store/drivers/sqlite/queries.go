package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so repos work the same
// inside and outside a transaction.
type dbtx interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type queries struct {
	db dbtx
}

const userColumns = `id, identifier, display_name, password_hash, role, created_at, updated_at`

const getUserByID = `SELECT ` + userColumns + ` FROM users WHERE id = ?`

const getUserByIdentifier = `SELECT ` + userColumns + ` FROM users WHERE identifier = ?`

const createUser = `
INSERT INTO users (id, identifier, display_name, password_hash, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

const updateUserRole = `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`

const deleteUser = `DELETE FROM users WHERE id = ?`

const countUsers = `SELECT COUNT(*) FROM users`

func (q *queries) getUser(ctx context.Context, query string, arg string) (domain.User, error) {
	var (
		u    domain.User
		role string
	)
	err := q.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Identifier,
		&u.DisplayName,
		&u.PasswordHash,
		&role,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	u.Role = domain.Role(role)
	return u, err
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func now() time.Time { return time.Now().UTC() }
