package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcrm/crm/internal/access"
	"github.com/leadcrm/crm/internal/apperr"
	"github.com/leadcrm/crm/internal/identity"
	"github.com/leadcrm/crm/internal/notify"
	"github.com/leadcrm/crm/internal/profile"
)

type stubProfiles struct {
	rows      map[uuid.UUID]access.Profile
	grants    map[uuid.UUID][]access.Grant
	insertErr error
	purged    []uuid.UUID
	calls     int
}

func newStubProfiles(ps ...access.Profile) *stubProfiles {
	s := &stubProfiles{rows: map[uuid.UUID]access.Profile{}, grants: map[uuid.UUID][]access.Grant{}}
	for _, p := range ps {
		s.rows[p.ID] = p
	}
	return s
}

func (s *stubProfiles) GetProfile(ctx context.Context, id uuid.UUID) (access.Profile, error) {
	s.calls++
	p, ok := s.rows[id]
	if !ok {
		return access.Profile{}, profile.ErrNotFound
	}
	return p, nil
}

func (s *stubProfiles) Insert(ctx context.Context, p access.Profile) (access.Profile, error) {
	s.calls++
	if s.insertErr != nil {
		return access.Profile{}, s.insertErr
	}
	s.rows[p.ID] = p
	return p, nil
}

func (s *stubProfiles) UpdateDetails(ctx context.Context, id uuid.UUID, fullName string, phone, department *string) (access.Profile, error) {
	s.calls++
	p, ok := s.rows[id]
	if !ok {
		return access.Profile{}, profile.ErrNotFound
	}
	p.FullName, p.Phone, p.Department = fullName, phone, department
	s.rows[id] = p
	return p, nil
}

func (s *stubProfiles) SoftDelete(ctx context.Context, id, by uuid.UUID, at time.Time) error {
	s.calls++
	p, ok := s.rows[id]
	if !ok || !p.IsActive {
		return profile.ErrNotFound
	}
	p.IsActive, p.DeletedAt, p.DeletedBy = false, &at, &by
	s.rows[id] = p
	return nil
}

func (s *stubProfiles) Restore(ctx context.Context, id uuid.UUID) error {
	s.calls++
	p, ok := s.rows[id]
	if !ok || p.IsActive {
		return profile.ErrNotFound
	}
	p.IsActive, p.DeletedAt, p.DeletedBy = true, nil, nil
	s.rows[id] = p
	return nil
}

func (s *stubProfiles) ListDeleted(ctx context.Context) ([]access.Profile, error) {
	s.calls++
	var out []access.Profile
	for _, p := range s.rows {
		if !p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProfiles) Purge(ctx context.Context, id uuid.UUID) error {
	s.calls++
	delete(s.rows, id)
	delete(s.grants, id)
	s.purged = append(s.purged, id)
	return nil
}

func (s *stubProfiles) ListGrants(ctx context.Context, userID uuid.UUID) ([]access.Grant, error) {
	return s.grants[userID], nil
}

func (s *stubProfiles) Grant(ctx context.Context, userID uuid.UUID, perm access.Permission, by uuid.UUID) (access.Grant, error) {
	for i, g := range s.grants[userID] {
		if g.Permission == perm {
			g.IsActive = true
			g.GrantedBy = &by
			s.grants[userID][i] = g
			return g, nil
		}
	}
	g := access.Grant{ID: uuid.New(), UserID: userID, Permission: perm, GrantedBy: &by, IsActive: true}
	s.grants[userID] = append(s.grants[userID], g)
	return g, nil
}

func (s *stubProfiles) Revoke(ctx context.Context, userID uuid.UUID, perm access.Permission) (access.Grant, error) {
	for i, g := range s.grants[userID] {
		if g.Permission == perm {
			g.IsActive = false
			s.grants[userID][i] = g
			return g, nil
		}
	}
	return access.Grant{}, profile.ErrGrantNotFound
}

type stubIdentities struct {
	created   []identity.CreateParams
	deleted   []uuid.UUID
	banned    map[uuid.UUID]bool
	passwords map[uuid.UUID]string
	names     map[uuid.UUID]string
	createErr error
	metaErr   error
	banErr    error
	calls     int
	nextID    uuid.UUID
}

func newStubIdentities() *stubIdentities {
	return &stubIdentities{
		banned:    map[uuid.UUID]bool{},
		passwords: map[uuid.UUID]string{},
		names:     map[uuid.UUID]string{},
		nextID:    uuid.New(),
	}
}

func (s *stubIdentities) CreateUser(ctx context.Context, p identity.CreateParams) (*identity.Identity, error) {
	s.calls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, p)
	return &identity.Identity{ID: s.nextID, Email: p.Email, FullName: p.FullName}, nil
}

func (s *stubIdentities) UpdateMetadata(ctx context.Context, id uuid.UUID, fullName string) error {
	s.calls++
	if s.metaErr != nil {
		return s.metaErr
	}
	s.names[id] = fullName
	return nil
}

func (s *stubIdentities) UpdatePassword(ctx context.Context, id uuid.UUID, password string) error {
	s.calls++
	s.passwords[id] = password
	return nil
}

func (s *stubIdentities) SetBanned(ctx context.Context, id uuid.UUID, banned bool) error {
	s.calls++
	if s.banErr != nil {
		return s.banErr
	}
	s.banned[id] = banned
	return nil
}

func (s *stubIdentities) DeleteUser(ctx context.Context, id uuid.UUID) error {
	s.calls++
	s.deleted = append(s.deleted, id)
	return nil
}

type recordingMailer struct {
	sent []notify.Welcome
	err  error
}

func (m *recordingMailer) SendWelcome(ctx context.Context, w notify.Welcome) error {
	m.sent = append(m.sent, w)
	return m.err
}

type recordingInvalidator struct{ ids []uuid.UUID }

func (r *recordingInvalidator) Invalidate(id uuid.UUID) { r.ids = append(r.ids, id) }

func principal(role access.Role, super bool, perms ...access.Permission) *access.Principal {
	p := access.Profile{ID: uuid.New(), FullName: "Requester", Role: role, IsActive: true, IsSuperAdmin: super}
	var grants []access.Grant
	for _, perm := range perms {
		grants = append(grants, access.Grant{UserID: p.ID, Permission: perm, IsActive: true})
	}
	return access.NewPrincipal(p, grants)
}

func counselor(name string, active bool) access.Profile {
	return access.Profile{ID: uuid.New(), Email: "c@example.com", FullName: name, Role: access.RoleCounselor, IsActive: active}
}

func assertKind(t *testing.T, err error, kind apperr.Kind, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err))
	if msg != "" {
		assert.Equal(t, msg, apperr.MessageOf(err, ""))
	}
}

func newTestAdmin(profiles *stubProfiles, idents *stubIdentities) (*AdminService, *recordingMailer, *recordingInvalidator) {
	mailer := &recordingMailer{}
	inv := &recordingInvalidator{}
	return newAdminService(profiles, idents, mailer, inv, "https://crm.example.com/login"), mailer, inv
}

func TestCreateUserRequiresCounselorsPermission(t *testing.T) {
	profiles, idents := newStubProfiles(), newStubIdentities()
	svc, _, _ := newTestAdmin(profiles, idents)

	_, err := svc.CreateUser(context.Background(), principal(access.RoleAdmin, false, access.PermLeads), CreateUserInput{
		Email: "new@example.com", Password: "secret1", FullName: "New", Role: "counselor",
	})
	assertKind(t, err, apperr.KindAuthorization, "상담원 관리 권한이 없습니다.")
	assert.Zero(t, idents.calls)

	_, err = svc.CreateUser(context.Background(), principal(access.RoleCounselor, false), CreateUserInput{Role: "counselor"})
	assertKind(t, err, apperr.KindAuthorization, MsgAdminRequired)
}

func TestCreateUserAdminRoleNeedsSuperAdmin(t *testing.T) {
	svc, _, _ := newTestAdmin(newStubProfiles(), newStubIdentities())
	_, err := svc.CreateUser(context.Background(), principal(access.RoleAdmin, false, access.PermCounselors), CreateUserInput{
		Email: "a@example.com", Password: "secret1", FullName: "A", Role: "admin",
	})
	assertKind(t, err, apperr.KindAuthorization, MsgAdminCreateSuper)
}

func TestCreateUserSucceedsAndSendsWelcome(t *testing.T) {
	profiles, idents := newStubProfiles(), newStubIdentities()
	svc, mailer, _ := newTestAdmin(profiles, idents)
	phone := " 010-1234-5678 "

	out, err := svc.CreateUser(context.Background(), principal(access.RoleAdmin, false, access.PermCounselors), CreateUserInput{
		Email: "new@example.com", Password: "secret1", FullName: " New ", Phone: &phone, Role: "counselor",
	})
	require.NoError(t, err)
	assert.Equal(t, idents.nextID, out.ID)
	assert.Equal(t, access.RoleCounselor, out.Role)
	assert.Equal(t, "New", out.FullName)

	stored := profiles.rows[out.ID]
	assert.True(t, stored.IsActive)
	require.NotNil(t, stored.Phone)
	assert.Equal(t, "010-1234-5678", *stored.Phone)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "https://crm.example.com/login", mailer.sent[0].LoginURL)
}

func TestCreateUserWelcomeFailureDoesNotFail(t *testing.T) {
	profiles, idents := newStubProfiles(), newStubIdentities()
	svc, mailer, _ := newTestAdmin(profiles, idents)
	mailer.err = errors.New("smtp down")

	_, err := svc.CreateUser(context.Background(), principal(access.RoleAdmin, true), CreateUserInput{
		Email: "new@example.com", Password: "secret1", FullName: "New", Role: "admin",
	})
	assert.NoError(t, err)
}

func TestCreateUserRollsBackIdentityWhenProfileFails(t *testing.T) {
	profiles, idents := newStubProfiles(), newStubIdentities()
	profiles.insertErr = errors.New("insert failed")
	svc, mailer, _ := newTestAdmin(profiles, idents)

	_, err := svc.CreateUser(context.Background(), principal(access.RoleAdmin, true), CreateUserInput{
		Email: "new@example.com", Password: "secret1", FullName: "New", Role: "counselor",
	})
	assertKind(t, err, apperr.KindDownstream, MsgCreateFailed)
	assert.Equal(t, []uuid.UUID{idents.nextID}, idents.deleted)
	assert.Empty(t, mailer.sent)
}

func TestCreateUserDuplicateEmailIsConflict(t *testing.T) {
	idents := newStubIdentities()
	idents.createErr = identity.ErrEmailTaken
	svc, _, _ := newTestAdmin(newStubProfiles(), idents)

	_, err := svc.CreateUser(context.Background(), principal(access.RoleAdmin, true), CreateUserInput{
		Email: "dup@example.com", Password: "secret1", FullName: "Dup", Role: "counselor",
	})
	assertKind(t, err, apperr.KindConflict, MsgEmailTaken)
}

func TestDeleteUserSoftDeletesAndBans(t *testing.T) {
	target := counselor("Kim", true)
	profiles, idents := newStubProfiles(target), newStubIdentities()
	idents.banErr = errors.New("auth unavailable")
	svc, _, inv := newTestAdmin(profiles, idents)
	super := principal(access.RoleAdmin, true)

	require.NoError(t, svc.DeleteUser(context.Background(), super, target.ID))
	stored := profiles.rows[target.ID]
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.DeletedBy)
	assert.Equal(t, super.Profile.ID, *stored.DeletedBy)
	assert.Equal(t, []uuid.UUID{target.ID}, inv.ids)

	err := svc.DeleteUser(context.Background(), super, target.ID)
	assertKind(t, err, apperr.KindNotFound, "")
}

func TestDeleteUserGuards(t *testing.T) {
	svc, _, _ := newTestAdmin(newStubProfiles(), newStubIdentities())
	super := principal(access.RoleAdmin, true)

	err := svc.DeleteUser(context.Background(), principal(access.RoleAdmin, false, access.PermCounselors), uuid.New())
	assertKind(t, err, apperr.KindAuthorization, MsgSuperAdminRequired)

	err = svc.DeleteUser(context.Background(), super, super.Profile.ID)
	assertKind(t, err, apperr.KindValidation, MsgCannotDeleteSelf)

	err = svc.DeleteUser(context.Background(), super, uuid.New())
	assertKind(t, err, apperr.KindNotFound, MsgUserNotFound)
}

func TestPermanentDeleteConfirmationMismatchDeletesNothing(t *testing.T) {
	target := counselor("Kim Minji", false)
	profiles, idents := newStubProfiles(target), newStubIdentities()
	svc, _, _ := newTestAdmin(profiles, idents)

	err := svc.PermanentlyDeleteUser(context.Background(), principal(access.RoleAdmin, true), target.ID, "DELETE Kim")
	assertKind(t, err, apperr.KindValidation, MsgConfirmationMismatch)
	assert.Empty(t, profiles.purged)
	assert.Empty(t, idents.deleted)
	assert.Contains(t, profiles.rows, target.ID)
}

func TestPermanentDeleteRequiresSoftDeletedTarget(t *testing.T) {
	target := counselor("Kim", true)
	profiles := newStubProfiles(target)
	svc, _, _ := newTestAdmin(profiles, newStubIdentities())

	err := svc.PermanentlyDeleteUser(context.Background(), principal(access.RoleAdmin, true), target.ID, "DELETE Kim")
	assertKind(t, err, apperr.KindNotFound, MsgDeletedNotFound)
	assert.Empty(t, profiles.purged)
}

func TestPermanentDeletePurgesThenDeletesIdentity(t *testing.T) {
	target := counselor("Kim", false)
	profiles, idents := newStubProfiles(target), newStubIdentities()
	svc, _, _ := newTestAdmin(profiles, idents)

	require.NoError(t, svc.PermanentlyDeleteUser(context.Background(), principal(access.RoleAdmin, true), target.ID, ConfirmationText(target)))
	assert.Equal(t, []uuid.UUID{target.ID}, profiles.purged)
	assert.Equal(t, []uuid.UUID{target.ID}, idents.deleted)
}

func TestResetPasswordShortPasswordBeforeAnyBackendCall(t *testing.T) {
	profiles, idents := newStubProfiles(), newStubIdentities()
	svc, _, _ := newTestAdmin(profiles, idents)

	for _, pw := range []string{"12345", "비밀"} {
		err := svc.ResetPassword(context.Background(), principal(access.RoleAdmin, true), uuid.New(), pw)
		assertKind(t, err, apperr.KindValidation, MsgPasswordTooShort)
	}
	assert.Zero(t, profiles.calls)
	assert.Zero(t, idents.calls)
}

func TestResetPasswordTargets(t *testing.T) {
	c := counselor("Kim", true)
	admin := access.Profile{ID: uuid.New(), FullName: "Boss", Role: access.RoleAdmin, IsActive: true}
	profiles, idents := newStubProfiles(c, admin), newStubIdentities()
	svc, _, _ := newTestAdmin(profiles, idents)
	requester := principal(access.RoleAdmin, false)

	require.NoError(t, svc.ResetPassword(context.Background(), requester, c.ID, "newpass"))
	assert.Equal(t, "newpass", idents.passwords[c.ID])

	err := svc.ResetPassword(context.Background(), requester, admin.ID, "newpass")
	assertKind(t, err, apperr.KindAuthorization, MsgCounselorOnly)

	err = svc.ResetPassword(context.Background(), requester, uuid.New(), "newpass")
	assertKind(t, err, apperr.KindNotFound, "")

	err = svc.ResetPassword(context.Background(), principal(access.RoleCounselor, false), c.ID, "newpass")
	assertKind(t, err, apperr.KindAuthorization, MsgAdminRequired)
}

func TestRestoreUserRequiresSoftDeleted(t *testing.T) {
	active := counselor("Kim", true)
	deleted := counselor("Lee", false)
	profiles, idents := newStubProfiles(active, deleted), newStubIdentities()
	idents.banned[deleted.ID] = true
	svc, _, _ := newTestAdmin(profiles, idents)
	super := principal(access.RoleAdmin, true)

	err := svc.RestoreUser(context.Background(), super, active.ID)
	assertKind(t, err, apperr.KindNotFound, MsgDeletedNotFound)

	require.NoError(t, svc.RestoreUser(context.Background(), super, deleted.ID))
	assert.True(t, profiles.rows[deleted.ID].IsActive)
	assert.False(t, idents.banned[deleted.ID])

	listed, err := svc.ListDeletedUsers(context.Background(), super)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestUpdateUserMirrorsNameAndTolerateMirrorFailure(t *testing.T) {
	target := counselor("Kim", true)
	profiles, idents := newStubProfiles(target), newStubIdentities()
	idents.metaErr = errors.New("auth unavailable")
	svc, _, _ := newTestAdmin(profiles, idents)
	dept := "Sales"

	p, err := svc.UpdateUser(context.Background(), principal(access.RoleAdmin, true), UpdateUserInput{
		UserID: target.ID, FullName: " Kim Minji ", Department: &dept,
	})
	require.NoError(t, err)
	assert.Equal(t, "Kim Minji", p.FullName)
	require.NotNil(t, p.Department)
	assert.Equal(t, "Sales", *p.Department)

	_, err = svc.UpdateUser(context.Background(), principal(access.RoleAdmin, false, access.PermCounselors), UpdateUserInput{UserID: target.ID, FullName: "x"})
	assertKind(t, err, apperr.KindAuthorization, MsgSuperAdminRequired)
}
