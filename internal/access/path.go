package access

import "strings"

const (
	settingsPath    = "/admin/settings"
	adminPrefix     = "/admin/"
	counselorPrefix = "/counselor/"
	loginRedirect   = "/login"
	deniedRedirect  = "/unauthorized"
)

// pagePermissions maps admin pages to the permission that unlocks them.
var pagePermissions = map[string]Permission{
	"/admin/dashboard":          PermDashboard,
	"/admin/leads":              PermLeads,
	"/admin/upload":             PermUpload,
	"/admin/assignments":        PermAssignments,
	"/admin/counselors":         PermCounselors,
	"/admin/consulting-monitor": PermConsultingMonitor,
}

// PagePermission returns the permission required by path, if the page is listed.
func PagePermission(path string) (Permission, bool) {
	path = normalizePath(path)
	if perm, ok := pagePermissions[path]; ok {
		return perm, true
	}
	for page, perm := range pagePermissions {
		if strings.HasPrefix(path, page+"/") {
			return perm, true
		}
	}
	return "", false
}

// CanAccessPath decides whether the principal may open a UI path.
func (p *Principal) CanAccessPath(path string) bool {
	if p == nil || !p.Profile.IsActive {
		return false
	}
	path = normalizePath(path)

	if path == settingsPath || strings.HasPrefix(path, settingsPath+"/") {
		return p.Profile.IsSuperAdmin
	}
	if p.Profile.IsSuperAdmin {
		return true
	}
	if perm, ok := PagePermission(path); ok {
		return p.HasPermission(perm)
	}
	if strings.HasPrefix(path, counselorPrefix) || path == strings.TrimSuffix(counselorPrefix, "/") {
		return p.IsRoleMatch(RoleCounselor)
	}
	if strings.HasPrefix(path, adminPrefix) || path == strings.TrimSuffix(adminPrefix, "/") {
		return p.IsRoleMatch(RoleAdmin)
	}
	return true
}

// AccessiblePages lists the permission-gated pages the principal may open.
func (p *Principal) AccessiblePages() []string {
	pages := make([]string, 0, len(pagePermissions)+1)
	for _, perm := range allPermissions {
		for page, required := range pagePermissions {
			if required == perm && p.CanAccessPath(page) {
				pages = append(pages, page)
			}
		}
	}
	if p.CanAccessPath(settingsPath) {
		pages = append(pages, settingsPath)
	}
	return pages
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if idx := strings.IndexAny(path, "?#"); idx != -1 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return strings.ToLower(path)
}
