package permissions

// Role names recognized by relationship grants.
const (
	RoleMaintainer = "maintainer"
	RoleBugowner   = "bugowner"
	RoleReviewer   = "reviewer"
	RoleDownloader = "downloader"
	RoleReader     = "reader"
)

func ValidRole(role string) bool {
	switch role {
	case RoleMaintainer, RoleBugowner, RoleReviewer, RoleDownloader, RoleReader:
		return true
	}
	return false
}
