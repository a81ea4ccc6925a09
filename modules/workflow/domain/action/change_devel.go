package action

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// ChangeDevel repoints the target package's devel reference at the source
// package on accept.
type ChangeDevel struct {
	base
}

func (a *ChangeDevel) Kind() Kind { return KindChangeDevel }

func (a *ChangeDevel) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.SourceProject == "" || rec.SourcePackage == "" {
		return NewInvalidAction("change_devel requires a source project and package")
	}
	if rec.TargetProject == "" || rec.TargetPackage == "" {
		return NewInvalidAction("change_devel requires a target project and package")
	}

	if _, err := env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.SourceProject)
		}
		if errors.Is(err, target.ErrPackageNotFound) {
			return NewUnknownPackage(rec.SourceProject, rec.SourcePackage)
		}
		return err
	}
	if _, err := env.Targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage); err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.TargetProject)
		}
		if errors.Is(err, target.ErrPackageNotFound) {
			return NewUnknownPackage(rec.TargetProject, rec.TargetPackage)
		}
		return err
	}

	return a.checkDevelCycle(ctx, env)
}

// checkDevelCycle walks the devel chain starting at the source package with an
// explicit visited set; repointing the target must not close a loop back onto
// itself.
func (a *ChangeDevel) checkDevelCycle(ctx context.Context, env *Env) error {
	rec := a.rec
	visited := map[string]bool{rec.TargetProject + "/" + rec.TargetPackage: true}
	path := []string{rec.TargetProject + "/" + rec.TargetPackage}

	prj, name := rec.SourceProject, rec.SourcePackage
	for {
		key := prj + "/" + name
		if visited[key] {
			return NewCycleDetected(append(path, key))
		}
		visited[key] = true
		path = append(path, key)

		pkg, err := env.Targets.GetPackage(ctx, prj, name)
		if err != nil {
			if errors.Is(err, target.ErrPackageNotFound) || errors.Is(err, target.ErrProjectNotFound) {
				return nil
			}
			return err
		}
		if pkg.DevelProject == "" {
			return nil
		}
		prj, name = pkg.DevelProject, pkg.DevelPackage
	}
}

func (a *ChangeDevel) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	return a.expandIdentity(a), nil
}

func (a *ChangeDevel) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	return a.checkTargetWritable(ctx, env, perm, principal)
}

func (a *ChangeDevel) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	rec := a.rec
	if err := a.checkDevelCycle(ctx, env); err != nil {
		return err
	}
	return env.Targets.SetDevel(ctx, rec.TargetProject, rec.TargetPackage, rec.SourceProject, rec.SourcePackage)
}
