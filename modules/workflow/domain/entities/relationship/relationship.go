package relationship

import (
	"context"
)

// Relationship grants a role on a project or package to exactly one of a
// user or a group. Package is empty for project-level grants.
type Relationship struct {
	UserLogin string
	GroupName string
	Role      string
	Project   string
	Package   string
}

func (r *Relationship) IsUser() bool  { return r.UserLogin != "" }
func (r *Relationship) IsGroup() bool { return r.GroupName != "" }

// AppliesTo reports whether the grant covers login directly or through one
// of the given group names.
func (r *Relationship) AppliesTo(login string, groups []string) bool {
	if r.UserLogin != "" {
		return r.UserLogin == login
	}
	for _, g := range groups {
		if r.GroupName == g {
			return true
		}
	}
	return false
}

type Repository interface {
	ForProject(ctx context.Context, project string) ([]*Relationship, error)
	ForPackage(ctx context.Context, project, pkg string) ([]*Relationship, error)
	Grant(ctx context.Context, rel *Relationship) error
	Revoke(ctx context.Context, rel *Relationship) error
}
