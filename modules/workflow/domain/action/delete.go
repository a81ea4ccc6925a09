package action

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// Delete removes a package, a whole project, or a single repository of a
// project; the three forms are mutually exclusive.
type Delete struct {
	base
}

func (a *Delete) Kind() Kind { return KindDelete }

func (a *Delete) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.TargetProject == "" {
		return NewInvalidAction("delete requires a target project")
	}
	if rec.TargetPackage != "" && rec.TargetRepository != "" {
		return NewInvalidAction("delete cannot name both a package and a repository")
	}
	if rec.SourceProject != "" || rec.SourcePackage != "" {
		return NewInvalidAction("delete carries no source")
	}

	prj, err := env.Targets.GetProject(ctx, rec.TargetProject)
	if err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.TargetProject)
		}
		return err
	}

	switch {
	case rec.TargetPackage != "":
		if _, err := env.Targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage); err != nil {
			if errors.Is(err, target.ErrPackageNotFound) {
				return NewUnknownPackage(rec.TargetProject, rec.TargetPackage)
			}
			return err
		}
		return a.canBeDeleted(ctx, env)
	case rec.TargetRepository != "":
		if _, ok := prj.Repository(rec.TargetRepository); !ok {
			return target.ErrRepositoryNotFound
		}
	}
	return nil
}

// canBeDeleted refuses deletion while other packages name this one as their
// devel package.
func (a *Delete) canBeDeleted(ctx context.Context, env *Env) error {
	rec := a.rec
	refs, err := env.Targets.DevelReferences(ctx, rec.TargetProject, rec.TargetPackage)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return nil
	}
	blocking := make([]string, 0, len(refs))
	for _, ref := range refs {
		blocking = append(blocking, ref.Project+"/"+ref.Package)
	}
	return NewDeleteError(rec.TargetProject, rec.TargetPackage, blocking)
}

func (a *Delete) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	return a.expandIdentity(a), nil
}

func (a *Delete) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	return a.checkTargetWritable(ctx, env, perm, principal)
}

func (a *Delete) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	rec := a.rec
	switch {
	case rec.TargetPackage != "":
		// The pre-check may have been bypassed by a later devel change.
		if err := a.canBeDeleted(ctx, env); err != nil {
			return err
		}
		if err := env.Backend.DestroyPackage(ctx, rec.TargetProject, rec.TargetPackage); err != nil {
			return err
		}
		return env.Targets.DeletePackage(ctx, rec.TargetProject, rec.TargetPackage)
	case rec.TargetRepository != "":
		return env.Targets.DeleteRepository(ctx, rec.TargetProject, rec.TargetRepository)
	default:
		if err := env.Backend.DestroyProject(ctx, rec.TargetProject); err != nil {
			return err
		}
		return env.Targets.DeleteProject(ctx, rec.TargetProject)
	}
}
