package action

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// Submit copies a source snapshot onto a target package on accept.
type Submit struct {
	base
}

func (a *Submit) Kind() Kind { return KindSubmit }

func (a *Submit) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.SourceProject == "" || rec.SourcePackage == "" || rec.TargetProject == "" {
		return NewInvalidAction("submit requires source project/package and target project")
	}
	if rec.TargetPackage == "" {
		rec.TargetPackage = rec.SourcePackage
	}
	if rec.SourceProject == rec.TargetProject && rec.SourcePackage == rec.TargetPackage &&
		rec.SourceUpdate == SourceUpdateNone && !rec.UpdateLink {
		return NewInvalidAction("source and target are identical")
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

	prj, err := env.Targets.GetProject(ctx, rec.TargetProject)
	if err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.TargetProject)
		}
		return err
	}
	if attr, ok := prj.Attribute(target.AttrRejectRequests); ok {
		reason := "by attribute"
		if len(attr.Values) > 0 {
			reason = attr.Values[0]
		}
		return NewRequestRejected(prj.Name, reason)
	}
	if pkg, err := env.Targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage); err == nil {
		if attr, ok := pkg.Attribute(target.AttrRejectRequests); ok {
			reason := "by attribute"
			if len(attr.Values) > 0 {
				reason = attr.Values[0]
			}
			return NewRequestRejected(prj.Name+"/"+pkg.Name, reason)
		}
	}
	return nil
}

func (a *Submit) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	return a.expandIdentity(a), nil
}

func (a *Submit) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	return a.checkTargetWritable(ctx, env, perm, principal)
}

func (a *Submit) CheckAcceptPrecondition(ctx context.Context, env *Env) error {
	return a.checkPinnedSource(ctx, env)
}

func (a *Submit) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	rec := a.rec

	dir, err := env.Backend.GetDirectory(ctx, rec.SourceProject, rec.SourcePackage, rec.SourceRev, true)
	if err != nil {
		return err
	}

	if _, err := env.Targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage); err != nil {
		if !errors.Is(err, target.ErrPackageNotFound) {
			return err
		}
		src, err := env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage)
		if err != nil {
			return err
		}
		if err := env.Targets.SavePackage(ctx, &target.Package{
			Project: rec.TargetProject,
			Name:    rec.TargetPackage,
			Kind:    src.Kind,
		}); err != nil {
			return err
		}
	}

	if err := env.Backend.Copy(ctx, rec.SourceProject, rec.SourcePackage, rec.TargetProject, rec.TargetPackage, backend.CopyOptions{
		Rev:      rec.SourceRev,
		KeepLink: rec.UpdateLink,
		Expand:   true,
		Comment:  opts.Comment,
	}); err != nil {
		return err
	}
	rec.AcceptInfo = &AcceptInfo{Rev: dir.Rev, SrcMD5: dir.SrcMD5}

	if rec.SourceUpdate == SourceUpdateCleanup {
		if err := a.cleanupSource(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// cleanupSource removes the submitted source package; the whole source
// project goes with it when this was its last package.
func (a *Submit) cleanupSource(ctx context.Context, env *Env) error {
	rec := a.rec
	if err := env.Backend.DestroyPackage(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
		return err
	}
	if err := env.Targets.DeletePackage(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
		return err
	}
	remaining, err := env.Targets.ListPackages(ctx, rec.SourceProject)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := env.Backend.DestroyProject(ctx, rec.SourceProject); err != nil {
			return err
		}
		return env.Targets.DeleteProject(ctx, rec.SourceProject)
	}
	return nil
}
