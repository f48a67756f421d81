package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/apperr"
	"github.com/leadcrm/crm/internal/profile"
)

type grantStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (access.Profile, error)
	ListGrants(ctx context.Context, userID uuid.UUID) ([]access.Grant, error)
	Grant(ctx context.Context, userID uuid.UUID, perm access.Permission, grantedBy uuid.UUID) (access.Grant, error)
	Revoke(ctx context.Context, userID uuid.UUID, perm access.Permission) (access.Grant, error)
}

// PermissionService manages the permission grants of admin accounts.
type PermissionService struct {
	store      grantStore
	principals invalidator
}

func NewPermissionService(store *profile.Repository, principals *access.Tracker) *PermissionService {
	return &PermissionService{store: store, principals: principals}
}

// UserPermissions is a grant listing together with the effective set.
type UserPermissions struct {
	UserID    uuid.UUID           `json:"user_id"`
	Grants    []access.Grant      `json:"grants"`
	Effective []access.Permission `json:"effective"`
}

func (s *PermissionService) List(ctx context.Context, requester *access.Principal, userID uuid.UUID) (*UserPermissions, error) {
	if !requester.IsSuperAdmin() {
		return nil, apperr.Authorization(MsgSuperAdminRequired)
	}
	target, err := s.target(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.ListGrants(ctx, userID)
	if err != nil {
		return nil, apperr.Downstream(MsgOperationFailed, err)
	}
	if grants == nil {
		grants = []access.Grant{}
	}
	return &UserPermissions{
		UserID:    userID,
		Grants:    grants,
		Effective: access.EffectivePermissions(target, grants).List(),
	}, nil
}

// Set grants or revokes perm. Granting reactivates a revoked row; revoking
// keeps the row with is_active=false.
func (s *PermissionService) Set(ctx context.Context, requester *access.Principal, userID uuid.UUID, rawPerm string, granted bool) (access.Grant, error) {
	if !requester.IsSuperAdmin() {
		return access.Grant{}, apperr.Authorization(MsgSuperAdminRequired)
	}
	perm, ok := access.ParsePermission(rawPerm)
	if !ok {
		return access.Grant{}, apperr.Validation(MsgUnknownPermission)
	}
	target, err := s.target(ctx, userID)
	if err != nil {
		return access.Grant{}, err
	}
	if target.Role != access.RoleAdmin {
		return access.Grant{}, apperr.Validation(MsgAdminOnlyGrant)
	}

	var g access.Grant
	if granted {
		g, err = s.store.Grant(ctx, userID, perm, requester.Profile.ID)
	} else {
		g, err = s.store.Revoke(ctx, userID, perm)
	}
	if err != nil {
		if errors.Is(err, profile.ErrGrantNotFound) {
			return access.Grant{}, apperr.NotFound("부여된 권한이 없습니다.")
		}
		return access.Grant{}, apperr.Downstream(MsgOperationFailed, err)
	}

	if s.principals != nil {
		s.principals.Invalidate(userID)
	}
	log.Info().
		Str("user_id", userID.String()).
		Str("permission", string(perm)).
		Bool("granted", granted).
		Str("by", requester.Profile.ID.String()).
		Msg("permission changed")
	return g, nil
}

func (s *PermissionService) target(ctx context.Context, id uuid.UUID) (access.Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return access.Profile{}, apperr.NotFound(MsgUserNotFound)
		}
		return access.Profile{}, apperr.Downstream(MsgOperationFailed, err)
	}
	return p, nil
}
