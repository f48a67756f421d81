package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/apperr"
	"github.com/leadcrm/crm/internal/auth"
	"github.com/leadcrm/crm/internal/identity"
	"github.com/leadcrm/crm/internal/notify"
	"github.com/leadcrm/crm/internal/profile"
)

// User-facing messages.
const (
	MsgAdminRequired        = "관리자 권한이 필요합니다."
	MsgCounselorsPermission = "상담원 관리 권한이 없습니다."
	MsgSuperAdminRequired   = "슈퍼 관리자 권한이 필요합니다."
	MsgAdminCreateSuper     = "관리자 계정은 슈퍼 관리자만 생성할 수 있습니다."
	MsgEmailTaken           = "이미 등록된 이메일입니다."
	MsgCreateFailed         = "사용자 생성에 실패했습니다."
	MsgUserNotFound         = "사용자를 찾을 수 없습니다."
	MsgDeletedNotFound      = "삭제된 사용자를 찾을 수 없습니다."
	MsgCannotDeleteSelf     = "자기 자신은 삭제할 수 없습니다."
	MsgConfirmationMismatch = "확인 문구가 일치하지 않습니다."
	MsgPasswordTooShort     = "비밀번호는 최소 6자 이상이어야 합니다."
	MsgCounselorOnly        = "상담원 계정의 비밀번호만 재설정할 수 있습니다."
	MsgOperationFailed      = "요청을 처리하지 못했습니다."
	MsgAdminOnlyGrant       = "관리자 계정에만 권한을 부여할 수 있습니다."
	MsgUnknownPermission    = "알 수 없는 권한입니다."
	MsgInvalidRole          = "유효하지 않은 역할입니다."
)

type profileStore interface {
	GetProfile(ctx context.Context, id uuid.UUID) (access.Profile, error)
	Insert(ctx context.Context, p access.Profile) (access.Profile, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, fullName string, phone, department *string) (access.Profile, error)
	SoftDelete(ctx context.Context, id, deletedBy uuid.UUID, at time.Time) error
	Restore(ctx context.Context, id uuid.UUID) error
	ListDeleted(ctx context.Context) ([]access.Profile, error)
	Purge(ctx context.Context, id uuid.UUID) error
}

type identityAdmin interface {
	CreateUser(ctx context.Context, p identity.CreateParams) (*identity.Identity, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, fullName string) error
	UpdatePassword(ctx context.Context, id uuid.UUID, password string) error
	SetBanned(ctx context.Context, id uuid.UUID, banned bool) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// invalidator drops cached principals after a profile or grant change.
type invalidator interface {
	Invalidate(userID uuid.UUID)
}

// CreateUserInput is the create-user request.
type CreateUserInput struct {
	Email      string
	Password   string
	FullName   string
	Phone      *string
	Department *string
	Role       string
}

// CreatedUser is the summary returned by CreateUser.
type CreatedUser struct {
	ID       uuid.UUID   `json:"id"`
	Email    string      `json:"email"`
	FullName string      `json:"full_name"`
	Role     access.Role `json:"role"`
}

// UpdateUserInput is the update-user request.
type UpdateUserInput struct {
	UserID     uuid.UUID
	FullName   string
	Phone      *string
	Department *string
}

// AdminService implements the account management operations. Each
// operation authorizes the requester itself; the HTTP layer only
// authenticates.
type AdminService struct {
	profiles   profileStore
	identities identityAdmin
	mailer     notify.Mailer
	principals invalidator
	loginURL   string
	now        func() time.Time
}

func NewAdminService(profiles *profile.Repository, identities *identity.Service, mailer notify.Mailer, principals *access.Tracker, loginURL string) *AdminService {
	return newAdminService(profiles, identities, mailer, principals, loginURL)
}

func newAdminService(profiles profileStore, identities identityAdmin, mailer notify.Mailer, principals invalidator, loginURL string) *AdminService {
	if mailer == nil {
		mailer = notify.NoopMailer{}
	}
	return &AdminService{
		profiles:   profiles,
		identities: identities,
		mailer:     mailer,
		principals: principals,
		loginURL:   loginURL,
		now:        time.Now,
	}
}

// CreateUser creates the identity and then the profile. A failed profile
// insert deletes the identity again.
func (s *AdminService) CreateUser(ctx context.Context, requester *access.Principal, in CreateUserInput) (*CreatedUser, error) {
	if !requester.IsAdmin() {
		return nil, apperr.Authorization(MsgAdminRequired)
	}
	if !requester.HasPermission(access.PermCounselors) {
		return nil, apperr.Authorization(MsgCounselorsPermission)
	}
	role, ok := access.ParseRole(in.Role)
	if !ok {
		return nil, apperr.Validation(MsgInvalidRole)
	}
	if role == access.RoleAdmin && !requester.IsSuperAdmin() {
		return nil, apperr.Authorization(MsgAdminCreateSuper)
	}
	if !auth.ValidPassword(in.Password) {
		return nil, apperr.Validation(MsgPasswordTooShort)
	}

	ident, err := s.identities.CreateUser(ctx, identity.CreateParams{
		Email:    in.Email,
		Password: in.Password,
		FullName: in.FullName,
	})
	if err != nil {
		if errors.Is(err, identity.ErrEmailTaken) {
			return nil, apperr.Conflict(MsgEmailTaken, err)
		}
		return nil, apperr.Downstream(MsgCreateFailed, err)
	}

	p, err := s.profiles.Insert(ctx, access.Profile{
		ID:         ident.ID,
		Email:      ident.Email,
		FullName:   strings.TrimSpace(in.FullName),
		Phone:      trimmed(in.Phone),
		Department: trimmed(in.Department),
		Role:       role,
		IsActive:   true,
	})
	if err != nil {
		if delErr := s.identities.DeleteUser(ctx, ident.ID); delErr != nil {
			log.Error().Err(delErr).Str("user_id", ident.ID.String()).Msg("create-user: rollback of identity failed")
		}
		return nil, apperr.Downstream(MsgCreateFailed, err)
	}

	if err := s.mailer.SendWelcome(ctx, notify.Welcome{
		Email:    p.Email,
		FullName: p.FullName,
		Role:     string(p.Role),
		LoginURL: s.loginURL,
	}); err != nil {
		log.Warn().Err(err).Str("user_id", p.ID.String()).Msg("create-user: welcome e-mail failed")
	}

	log.Info().Str("user_id", p.ID.String()).Str("role", string(p.Role)).Str("by", requester.Profile.ID.String()).Msg("user created")
	return &CreatedUser{ID: p.ID, Email: p.Email, FullName: p.FullName, Role: p.Role}, nil
}

// DeleteUser soft-deletes an active user and bans the identity.
func (s *AdminService) DeleteUser(ctx context.Context, requester *access.Principal, userID uuid.UUID) error {
	if !requester.IsSuperAdmin() {
		return apperr.Authorization(MsgSuperAdminRequired)
	}
	if userID == requester.Profile.ID {
		return apperr.Validation(MsgCannotDeleteSelf)
	}
	target, err := s.target(ctx, userID, MsgUserNotFound)
	if err != nil {
		return err
	}
	if !target.IsActive {
		return apperr.NotFound(MsgUserNotFound)
	}

	if err := s.profiles.SoftDelete(ctx, userID, requester.Profile.ID, s.now().UTC()); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return apperr.NotFound(MsgUserNotFound)
		}
		return apperr.Downstream(MsgOperationFailed, err)
	}
	if err := s.identities.SetBanned(ctx, userID, true); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("delete-user: ban failed")
	}
	s.invalidate(userID)
	return nil
}

// PermanentlyDeleteUser purges a soft-deleted user. confirmation must read
// "DELETE <full name>".
func (s *AdminService) PermanentlyDeleteUser(ctx context.Context, requester *access.Principal, userID uuid.UUID, confirmation string) error {
	if !requester.IsSuperAdmin() {
		return apperr.Authorization(MsgSuperAdminRequired)
	}
	target, err := s.target(ctx, userID, MsgDeletedNotFound)
	if err != nil {
		return err
	}
	if target.IsActive {
		return apperr.NotFound(MsgDeletedNotFound)
	}
	if confirmation != ConfirmationText(target) {
		return apperr.Validation(MsgConfirmationMismatch)
	}

	if err := s.profiles.Purge(ctx, userID); err != nil {
		return apperr.Downstream(MsgOperationFailed, err)
	}
	if err := s.identities.DeleteUser(ctx, userID); err != nil && !errors.Is(err, identity.ErrNotFound) {
		return apperr.Downstream(MsgOperationFailed, err)
	}
	s.invalidate(userID)
	log.Info().Str("user_id", userID.String()).Str("by", requester.Profile.ID.String()).Msg("user purged")
	return nil
}

// ConfirmationText is the phrase a purge of p must be confirmed with.
func ConfirmationText(p access.Profile) string {
	return "DELETE " + p.FullName
}

// ResetPassword sets a new password for a counselor.
func (s *AdminService) ResetPassword(ctx context.Context, requester *access.Principal, userID uuid.UUID, newPassword string) error {
	if !auth.ValidPassword(newPassword) {
		return apperr.Validation(MsgPasswordTooShort)
	}
	if !requester.IsAdmin() {
		return apperr.Authorization(MsgAdminRequired)
	}
	target, err := s.target(ctx, userID, MsgUserNotFound)
	if err != nil {
		return err
	}
	if target.Role != access.RoleCounselor {
		return apperr.Authorization(MsgCounselorOnly)
	}
	if err := s.identities.UpdatePassword(ctx, userID, newPassword); err != nil {
		return apperr.Downstream(MsgOperationFailed, err)
	}
	return nil
}

// RestoreUser reactivates a soft-deleted user and lifts the ban.
func (s *AdminService) RestoreUser(ctx context.Context, requester *access.Principal, userID uuid.UUID) error {
	if !requester.IsSuperAdmin() {
		return apperr.Authorization(MsgSuperAdminRequired)
	}
	target, err := s.target(ctx, userID, MsgDeletedNotFound)
	if err != nil {
		return err
	}
	if target.IsActive {
		return apperr.NotFound(MsgDeletedNotFound)
	}
	if err := s.profiles.Restore(ctx, userID); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return apperr.NotFound(MsgDeletedNotFound)
		}
		return apperr.Downstream(MsgOperationFailed, err)
	}
	if err := s.identities.SetBanned(ctx, userID, false); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("restore-user: unban failed")
	}
	s.invalidate(userID)
	return nil
}

func (s *AdminService) ListDeletedUsers(ctx context.Context, requester *access.Principal) ([]access.Profile, error) {
	if !requester.IsSuperAdmin() {
		return nil, apperr.Authorization(MsgSuperAdminRequired)
	}
	users, err := s.profiles.ListDeleted(ctx)
	if err != nil {
		return nil, apperr.Downstream(MsgOperationFailed, err)
	}
	if users == nil {
		users = []access.Profile{}
	}
	return users, nil
}

// UpdateUser changes the contact fields and mirrors the name to the identity.
func (s *AdminService) UpdateUser(ctx context.Context, requester *access.Principal, in UpdateUserInput) (access.Profile, error) {
	if !requester.IsSuperAdmin() {
		return access.Profile{}, apperr.Authorization(MsgSuperAdminRequired)
	}
	if _, err := s.target(ctx, in.UserID, MsgUserNotFound); err != nil {
		return access.Profile{}, err
	}
	fullName := strings.TrimSpace(in.FullName)
	p, err := s.profiles.UpdateDetails(ctx, in.UserID, fullName, trimmed(in.Phone), trimmed(in.Department))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return access.Profile{}, apperr.NotFound(MsgUserNotFound)
		}
		return access.Profile{}, apperr.Downstream(MsgOperationFailed, err)
	}
	if err := s.identities.UpdateMetadata(ctx, in.UserID, fullName); err != nil {
		log.Warn().Err(err).Str("user_id", in.UserID.String()).Msg("update-user: metadata mirror failed")
	}
	s.invalidate(in.UserID)
	return p, nil
}

func (s *AdminService) target(ctx context.Context, id uuid.UUID, notFound string) (access.Profile, error) {
	p, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return access.Profile{}, apperr.NotFound(notFound)
		}
		return access.Profile{}, apperr.Downstream(MsgOperationFailed, err)
	}
	return p, nil
}

func (s *AdminService) invalidate(id uuid.UUID) {
	if s.principals != nil {
		s.principals.Invalidate(id)
	}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
