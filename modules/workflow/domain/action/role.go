package action

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/modules/workflow/permissions"
)

// RoleGrant covers add_role and set_bugowner; both grant a relationship on
// the target on accept. set_bugowner additionally clears previous bugowners.
type RoleGrant struct {
	base
}

func (a *RoleGrant) Kind() Kind { return a.rec.Kind }

func (a *RoleGrant) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.TargetProject == "" {
		return NewInvalidAction(string(rec.Kind) + " requires a target project")
	}
	if (rec.Person == "") == (rec.Group == "") {
		return NewInvalidAction(string(rec.Kind) + " requires exactly one of person or group")
	}

	if rec.Kind == KindSetBugowner {
		rec.Role = permissions.RoleBugowner
	}
	if !permissions.ValidRole(rec.Role) {
		return NewUnknownRole(rec.Role)
	}

	if rec.Person != "" {
		if _, err := env.Users.GetUser(ctx, rec.Person); err != nil {
			return err
		}
	} else {
		if _, err := env.Users.GetGroup(ctx, rec.Group); err != nil {
			return err
		}
	}

	if _, err := env.Targets.GetProject(ctx, rec.TargetProject); err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.TargetProject)
		}
		return err
	}
	if rec.TargetPackage != "" {
		if _, err := env.Targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage); err != nil {
			if errors.Is(err, target.ErrPackageNotFound) {
				return NewUnknownPackage(rec.TargetProject, rec.TargetPackage)
			}
			return err
		}
	}
	return nil
}

func (a *RoleGrant) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	return a.expandIdentity(a), nil
}

func (a *RoleGrant) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	return a.checkTargetWritable(ctx, env, perm, principal)
}

func (a *RoleGrant) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	rec := a.rec

	if rec.Kind == KindSetBugowner {
		if err := a.clearBugowners(ctx, env); err != nil {
			return err
		}
	}

	return env.Relationships.Grant(ctx, &relationship.Relationship{
		UserLogin: rec.Person,
		GroupName: rec.Group,
		Role:      rec.Role,
		Project:   rec.TargetProject,
		Package:   rec.TargetPackage,
	})
}

func (a *RoleGrant) clearBugowners(ctx context.Context, env *Env) error {
	rec := a.rec
	var rels []*relationship.Relationship
	var err error
	if rec.TargetPackage != "" {
		rels, err = env.Relationships.ForPackage(ctx, rec.TargetProject, rec.TargetPackage)
	} else {
		rels, err = env.Relationships.ForProject(ctx, rec.TargetProject)
	}
	if err != nil {
		return err
	}
	for _, rel := range rels {
		if rel.Role != permissions.RoleBugowner {
			continue
		}
		if err := env.Relationships.Revoke(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}
