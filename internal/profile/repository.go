// Package profile stores user profiles and permission grants.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/db"
)

var (
	// ErrNotFound is access.ErrNoProfile so the tracker recognises it.
	ErrNotFound      = access.ErrNoProfile
	ErrGrantNotFound = errors.New("permission grant not found")
	ErrDuplicate     = errors.New("profile already exists")
)

const profileColumns = `id, email, full_name, phone, department, role, is_active, is_super_admin, deleted_at, deleted_by, created_at, updated_at`

const grantColumns = `id, user_id, permission_type, granted_by, is_active, created_at, updated_at`

// ListFilter narrows List. Nil fields do not filter.
type ListFilter struct {
	Role   *access.Role
	Active *bool
}

// Repository reads and writes user_profiles and user_permissions.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProfile returns the profile with id, active or not.
func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (access.Profile, error) {
	const query = `SELECT ` + profileColumns + ` FROM user_profiles WHERE id = $1`

	p, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Profile{}, ErrNotFound
		}
		return access.Profile{}, err
	}
	return p, nil
}

// List returns profiles ordered by name.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]access.Profile, error) {
	const query = `
        SELECT ` + profileColumns + `
        FROM user_profiles
        WHERE ($1::text IS NULL OR role = $1)
          AND ($2::boolean IS NULL OR is_active = $2)
        ORDER BY full_name, created_at
    `

	var role *string
	if f.Role != nil {
		s := string(*f.Role)
		role = &s
	}
	return r.list(ctx, query, role, f.Active)
}

// ListCounselors returns counselor profiles, optionally only the active ones.
func (r *Repository) ListCounselors(ctx context.Context, activeOnly bool) ([]access.Profile, error) {
	role := access.RoleCounselor
	f := ListFilter{Role: &role}
	if activeOnly {
		active := true
		f.Active = &active
	}
	return r.List(ctx, f)
}

// ListDeleted returns soft-deleted profiles, most recently deleted first.
func (r *Repository) ListDeleted(ctx context.Context) ([]access.Profile, error) {
	const query = `
        SELECT ` + profileColumns + `
        FROM user_profiles
        WHERE is_active = false
        ORDER BY deleted_at DESC NULLS LAST
    `
	return r.list(ctx, query)
}

// Insert stores a new profile. The profile invariants are checked first.
func (r *Repository) Insert(ctx context.Context, p access.Profile) (access.Profile, error) {
	if err := p.Validate(); err != nil {
		return access.Profile{}, err
	}
	const query = `
        INSERT INTO user_profiles (id, email, full_name, phone, department, role, is_active, is_super_admin)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING ` + profileColumns

	out, err := scanProfile(r.pool.QueryRow(ctx, query,
		p.ID, p.Email, p.FullName, p.Phone, p.Department, string(p.Role), p.IsActive, p.IsSuperAdmin))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return access.Profile{}, ErrDuplicate
		}
		return access.Profile{}, err
	}
	return out, nil
}

// UpdateDetails changes the contact fields of a profile.
func (r *Repository) UpdateDetails(ctx context.Context, id uuid.UUID, fullName string, phone, department *string) (access.Profile, error) {
	const query = `
        UPDATE user_profiles
        SET full_name = $2, phone = $3, department = $4, updated_at = now()
        WHERE id = $1
        RETURNING ` + profileColumns

	p, err := scanProfile(r.pool.QueryRow(ctx, query, id, fullName, phone, department))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Profile{}, ErrNotFound
		}
		return access.Profile{}, err
	}
	return p, nil
}

// SoftDelete deactivates an active profile.
func (r *Repository) SoftDelete(ctx context.Context, id, deletedBy uuid.UUID, at time.Time) error {
	const query = `
        UPDATE user_profiles
        SET is_active = false, deleted_at = $3, deleted_by = $2, updated_at = now()
        WHERE id = $1 AND is_active = true
    `
	return r.exec(ctx, query, id, deletedBy, at)
}

// Restore reactivates a soft-deleted profile and clears the deletion metadata.
func (r *Repository) Restore(ctx context.Context, id uuid.UUID) error {
	const query = `
        UPDATE user_profiles
        SET is_active = true, deleted_at = NULL, deleted_by = NULL, updated_at = now()
        WHERE id = $1 AND is_active = false
    `
	return r.exec(ctx, query, id)
}

// ListGrants returns every grant row of userID, revoked ones included.
func (r *Repository) ListGrants(ctx context.Context, userID uuid.UUID) ([]access.Grant, error) {
	const query = `
        SELECT ` + grantColumns + `
        FROM user_permissions
        WHERE user_id = $1
        ORDER BY permission_type
    `

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Grant activates perm for userID, reusing the existing row when present.
func (r *Repository) Grant(ctx context.Context, userID uuid.UUID, perm access.Permission, grantedBy uuid.UUID) (access.Grant, error) {
	const query = `
        INSERT INTO user_permissions (user_id, permission_type, granted_by, is_active)
        VALUES ($1, $2, $3, true)
        ON CONFLICT (user_id, permission_type)
        DO UPDATE SET is_active = true, granted_by = EXCLUDED.granted_by, updated_at = now()
        RETURNING ` + grantColumns

	return scanGrant(r.pool.QueryRow(ctx, query, userID, string(perm), grantedBy))
}

// Revoke deactivates perm for userID. The row is kept.
func (r *Repository) Revoke(ctx context.Context, userID uuid.UUID, perm access.Permission) (access.Grant, error) {
	const query = `
        UPDATE user_permissions
        SET is_active = false, updated_at = now()
        WHERE user_id = $1 AND permission_type = $2
        RETURNING ` + grantColumns

	g, err := scanGrant(r.pool.QueryRow(ctx, query, userID, string(perm)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return access.Grant{}, ErrGrantNotFound
		}
		return access.Grant{}, err
	}
	return g, nil
}

// Purge removes a profile and everything hanging off it in one transaction:
// its grants, the grants it handed out lose their granter, its lead
// assignments go and its leads become unassigned.
func (r *Repository) Purge(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		steps := []string{
			`DELETE FROM user_permissions WHERE user_id = $1`,
			`UPDATE user_permissions SET granted_by = NULL WHERE granted_by = $1`,
			`DELETE FROM lead_assignments WHERE counselor_id = $1`,
			`UPDATE leads SET counselor_id = NULL, updated_at = now() WHERE counselor_id = $1`,
		}
		for _, stmt := range steps {
			if _, err := tx.Exec(ctx, stmt, id); err != nil {
				return err
			}
		}
		cmd, err := tx.Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]access.Profile, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
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

func scanProfile(row pgx.Row) (access.Profile, error) {
	var (
		p    access.Profile
		role string
	)
	if err := row.Scan(
		&p.ID,
		&p.Email,
		&p.FullName,
		&p.Phone,
		&p.Department,
		&role,
		&p.IsActive,
		&p.IsSuperAdmin,
		&p.DeletedAt,
		&p.DeletedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return access.Profile{}, err
	}
	p.Role = access.Role(role)
	return p, nil
}

func scanGrant(row pgx.Row) (access.Grant, error) {
	var (
		g    access.Grant
		perm string
	)
	if err := row.Scan(&g.ID, &g.UserID, &perm, &g.GrantedBy, &g.IsActive, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return access.Grant{}, err
	}
	g.Permission = access.Permission(perm)
	return g, nil
}

var _ access.Loader = (*Repository)(nil)
