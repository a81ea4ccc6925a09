package services

import (
	"context"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/modules/workflow/permissions"
)

// PermissionService is the pure relationship/flag evaluator. It never
// mutates; callers run it multiple times inside one transition.
type PermissionService struct {
	targets       target.Repository
	relationships relationship.Repository
	users         user.Repository
}

func NewPermissionService(
	targets target.Repository,
	relationships relationship.Repository,
	users user.Repository,
) *PermissionService {
	return &PermissionService{
		targets:       targets,
		relationships: relationships,
		users:         users,
	}
}

func (s *PermissionService) groupNames(ctx context.Context, principal *user.User) ([]string, error) {
	groups, err := s.users.GroupsOf(ctx, principal.Login)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names, nil
}

// hasRole walks package relationships first, then the owning project's.
func (s *PermissionService) hasRole(ctx context.Context, principal *user.User, project, pkg string, roles ...string) (bool, error) {
	groups, err := s.groupNames(ctx, principal)
	if err != nil {
		return false, err
	}

	match := func(rels []*relationship.Relationship) bool {
		for _, rel := range rels {
			for _, role := range roles {
				if rel.Role == role && rel.AppliesTo(principal.Login, groups) {
					return true
				}
			}
		}
		return false
	}

	if pkg != "" {
		rels, err := s.relationships.ForPackage(ctx, project, pkg)
		if err != nil {
			return false, err
		}
		if match(rels) {
			return true, nil
		}
	}
	rels, err := s.relationships.ForProject(ctx, project)
	if err != nil {
		return false, err
	}
	return match(rels), nil
}

func (s *PermissionService) CanModifyProject(ctx context.Context, principal *user.User, prj *target.Project, ignoreLock bool) (bool, error) {
	if principal.Admin {
		return true, nil
	}
	if prj.Effective(target.FlagLock, "", "") && !ignoreLock {
		return false, nil
	}
	return s.hasRole(ctx, principal, prj.Name, "", permissions.RoleMaintainer)
}

func (s *PermissionService) CanModifyPackage(ctx context.Context, principal *user.User, pkg *target.Package, ignoreLock bool) (bool, error) {
	if principal.Admin {
		return true, nil
	}
	if !ignoreLock {
		if pkg.Effective(target.FlagLock, "", "") {
			return false, nil
		}
		// The lock is inherited from the owning project.
		prj, err := s.targets.GetProject(ctx, pkg.Project)
		if err != nil {
			return false, err
		}
		if prj.Effective(target.FlagLock, "", "") {
			return false, nil
		}
	}
	return s.hasRole(ctx, principal, pkg.Project, pkg.Name, permissions.RoleMaintainer)
}

func (s *PermissionService) CanCreatePackage(ctx context.Context, principal *user.User, prj *target.Project) (bool, error) {
	return s.CanModifyProject(ctx, principal, prj, false)
}

// CanRead applies the access-flag read protection. A project with access
// disabled is invisible to anyone without an explicit relationship on it;
// read paths must run this before every other check so unknown and forbidden
// stay indistinguishable.
func (s *PermissionService) CanRead(ctx context.Context, principal *user.User, prj *target.Project) (bool, error) {
	if prj.Effective(target.FlagAccess, "", "") {
		return true, nil
	}
	if principal == nil {
		return false, nil
	}
	if principal.Admin {
		return true, nil
	}
	return s.hasRole(ctx, principal, prj.Name, "",
		permissions.RoleMaintainer, permissions.RoleBugowner, permissions.RoleReviewer,
		permissions.RoleDownloader, permissions.RoleReader)
}

// CanSourceAccess gates diff visibility with the sourceaccess flag, falling
// back to the same involvement rule as CanRead.
func (s *PermissionService) CanSourceAccess(ctx context.Context, principal *user.User, prj *target.Project) (bool, error) {
	if prj.Effective(target.FlagSourceAccess, "", "") {
		return true, nil
	}
	if principal == nil {
		return false, nil
	}
	if principal.Admin {
		return true, nil
	}
	return s.hasRole(ctx, principal, prj.Name, "",
		permissions.RoleMaintainer, permissions.RoleBugowner, permissions.RoleReviewer)
}
