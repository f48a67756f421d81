package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const identityColumns = `id, email, password_hash, full_name, banned, last_sign_in_at, created_at, updated_at`

// Repository stores identities in auth_users.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	const query = `SELECT ` + identityColumns + ` FROM auth_users WHERE email = $1`
	return r.one(ctx, query, email)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	const query = `SELECT ` + identityColumns + ` FROM auth_users WHERE id = $1`
	return r.one(ctx, query, id)
}

// Create inserts an identity. A duplicate email yields ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string) (*Identity, error) {
	const query = `
        INSERT INTO auth_users (email, password_hash, full_name)
        VALUES ($1, $2, $3)
        RETURNING ` + identityColumns

	ident, err := scanIdentity(r.pool.QueryRow(ctx, query, email, passwordHash, fullName))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return ident, nil
}

func (r *Repository) UpdateFullName(ctx context.Context, id uuid.UUID, fullName string) error {
	return r.exec(ctx, `UPDATE auth_users SET full_name = $2, updated_at = now() WHERE id = $1`, id, fullName)
}

func (r *Repository) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return r.exec(ctx, `UPDATE auth_users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, passwordHash)
}

func (r *Repository) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	return r.exec(ctx, `UPDATE auth_users SET banned = $2, updated_at = now() WHERE id = $1`, id, banned)
}

func (r *Repository) TouchSignIn(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.exec(ctx, `UPDATE auth_users SET last_sign_in_at = $2 WHERE id = $1`, id, at)
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM auth_users WHERE id = $1`, id)
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*Identity, error) {
	ident, err := scanIdentity(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ident, nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIdentity(row pgx.Row) (*Identity, error) {
	var ident Identity
	if err := row.Scan(
		&ident.ID,
		&ident.Email,
		&ident.PasswordHash,
		&ident.FullName,
		&ident.Banned,
		&ident.LastSignInAt,
		&ident.CreatedAt,
		&ident.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ident, nil
}
