// Package access derives what a CRM user may see and do.
//
// Every check in this package is advisory: the database row-level policies are
// the authoritative gate. The service evaluates the same rules to reject early
// and to tell the UI which pages to offer.
package access

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the coarse role stored on a profile.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleCounselor Role = "counselor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleCounselor
}

// ParseRole normalises a role string.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// Permission names a capability that gates a page or an action.
type Permission string

const (
	PermAssignments       Permission = "assignments"
	PermConsultingMonitor Permission = "consulting_monitor"
	PermCounselors        Permission = "counselors"
	PermDashboard         Permission = "dashboard"
	PermLeads             Permission = "leads"
	PermSettings          Permission = "settings"
	PermUpload            Permission = "upload"
	PermPhoneUnmask       Permission = "phone_unmask"
)

var allPermissions = []Permission{
	PermAssignments,
	PermConsultingMonitor,
	PermCounselors,
	PermDashboard,
	PermLeads,
	PermSettings,
	PermUpload,
	PermPhoneUnmask,
}

// AllPermissions returns every permission in a fixed order.
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// ParsePermission validates a permission string.
func ParsePermission(raw string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range allPermissions {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// ErrCounselorSuperAdmin is returned when a counselor profile claims super-admin.
var ErrCounselorSuperAdmin = errors.New("counselor cannot be super admin")

// Profile is the identity record of a CRM user.
type Profile struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	Phone        *string    `json:"phone,omitempty"`
	Department   *string    `json:"department,omitempty"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	IsSuperAdmin bool       `json:"is_super_admin"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    *uuid.UUID `json:"deleted_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Validate checks the profile invariants.
func (p Profile) Validate() error {
	if !p.Role.Valid() {
		return errors.New("invalid role")
	}
	if p.Role == RoleCounselor && p.IsSuperAdmin {
		return ErrCounselorSuperAdmin
	}
	return nil
}

// SoftDeleted reports whether the profile was deactivated by an admin.
func (p Profile) SoftDeleted() bool {
	return !p.IsActive
}

// Grant is a permission row. Revoked grants stay with IsActive=false.
type Grant struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Permission Permission `json:"permission_type"`
	GrantedBy  *uuid.UUID `json:"granted_by,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PermissionSet is an effective set of permissions.
type PermissionSet map[Permission]struct{}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// List returns the members in AllPermissions order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for _, p := range allPermissions {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// EffectivePermissions derives the permission set of a profile.
// Super-admins hold everything, admins hold their active grants and
// counselors hold nothing.
func EffectivePermissions(profile Profile, grants []Grant) PermissionSet {
	set := PermissionSet{}
	if profile.IsSuperAdmin {
		for _, p := range allPermissions {
			set[p] = struct{}{}
		}
		return set
	}
	if profile.Role != RoleAdmin {
		return set
	}
	for _, g := range grants {
		if !g.IsActive || g.UserID != profile.ID {
			continue
		}
		if p, ok := ParsePermission(string(g.Permission)); ok {
			set[p] = struct{}{}
		}
	}
	return set
}

// Principal is a loaded profile together with its effective permissions.
type Principal struct {
	Profile     Profile
	Permissions PermissionSet
}

// NewPrincipal builds a principal from a profile and its grant rows.
func NewPrincipal(profile Profile, grants []Grant) *Principal {
	return &Principal{Profile: profile, Permissions: EffectivePermissions(profile, grants)}
}

// IsSuperAdmin reports the super-admin flag.
func (p *Principal) IsSuperAdmin() bool {
	return p != nil && p.Profile.IsSuperAdmin
}

// HasPermission is true for super-admins and for members of the effective set.
func (p *Principal) HasPermission(perm Permission) bool {
	if p == nil {
		return false
	}
	if p.Profile.IsSuperAdmin {
		return true
	}
	return p.Permissions.Has(perm)
}

// IsRoleMatch reports whether the profile has exactly the required role.
func (p *Principal) IsRoleMatch(role Role) bool {
	return p != nil && p.Profile.Role == role
}

// IsAdmin is true for admin-role profiles and super-admins.
func (p *Principal) IsAdmin() bool {
	return p.IsRoleMatch(RoleAdmin) || p.IsSuperAdmin()
}
