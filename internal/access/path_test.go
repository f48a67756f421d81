package access

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSettingsDeniedToNonSuperAdmins(t *testing.T) {
	p, grants := adminProfile(AllPermissions()...)
	principal := NewPrincipal(p, grants)

	assert.False(t, principal.CanAccessPath("/admin/settings"))
	assert.False(t, principal.CanAccessPath("/admin/settings/"))
	assert.False(t, principal.CanAccessPath("/admin/settings/users?tab=1"))

	counselor := NewPrincipal(Profile{ID: uuid.New(), Role: RoleCounselor, IsActive: true}, nil)
	assert.False(t, counselor.CanAccessPath("/admin/settings"))

	super := NewPrincipal(Profile{ID: uuid.New(), Role: RoleAdmin, IsActive: true, IsSuperAdmin: true}, nil)
	assert.True(t, super.CanAccessPath("/admin/settings"))
}

func TestCanAccessPathUsesPageTable(t *testing.T) {
	p, grants := adminProfile(PermLeads)
	principal := NewPrincipal(p, grants)

	cases := map[string]bool{
		"/admin/leads":              true,
		"/admin/leads/123":          true,
		"/Admin/Leads/":             true,
		"/admin/upload":             false,
		"/admin/dashboard":          false,
		"/admin/consulting-monitor": false,
		"/admin/profile":            true,
		"/counselor/dashboard":      false,
		"/":                         true,
	}
	for path, want := range cases {
		assert.Equal(t, want, principal.CanAccessPath(path), path)
	}
}

func TestCounselorPaths(t *testing.T) {
	principal := NewPrincipal(Profile{ID: uuid.New(), Role: RoleCounselor, IsActive: true}, nil)

	assert.True(t, principal.CanAccessPath("/counselor/dashboard"))
	assert.True(t, principal.CanAccessPath("/counselor/leads/42"))
	assert.False(t, principal.CanAccessPath("/admin/leads"))
	assert.False(t, principal.CanAccessPath("/admin/profile"))
}

func TestInactiveProfileCannotAccessAnything(t *testing.T) {
	principal := NewPrincipal(Profile{ID: uuid.New(), Role: RoleAdmin, IsSuperAdmin: true}, nil)
	assert.False(t, principal.CanAccessPath("/"))
	assert.False(t, principal.CanAccessPath("/admin/leads"))
}

func TestAccessiblePages(t *testing.T) {
	p, grants := adminProfile(PermDashboard, PermUpload)
	principal := NewPrincipal(p, grants)
	assert.Equal(t, []string{"/admin/dashboard", "/admin/upload"}, principal.AccessiblePages())

	super := NewPrincipal(Profile{ID: uuid.New(), Role: RoleAdmin, IsActive: true, IsSuperAdmin: true}, nil)
	assert.Contains(t, super.AccessiblePages(), "/admin/settings")
	assert.Len(t, super.AccessiblePages(), 7)
}
