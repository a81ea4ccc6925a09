package action

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// Release publishes a single built package along its manually triggered
// release targets. Unlike maintenance_release it carries no incident
// semantics.
type Release struct {
	base
}

func (a *Release) Kind() Kind { return KindRelease }

func (a *Release) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.SourceProject == "" || rec.SourcePackage == "" {
		return NewInvalidAction("release requires a source project and package")
	}

	prj, err := env.Targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.SourceProject)
		}
		return err
	}
	if _, err := env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
		if errors.Is(err, target.ErrPackageNotFound) {
			return NewUnknownPackage(rec.SourceProject, rec.SourcePackage)
		}
		return err
	}

	for _, repo := range prj.Repositories {
		if rec.TargetRepository != "" && repo.Name != rec.TargetRepository {
			continue
		}
		if !hasTrigger(repo, target.TriggerManual) {
			return NewRepositoryWithoutReleaseTarget(prj.Name, repo.Name)
		}
	}
	return nil
}

func hasTrigger(repo target.Repo, triggers ...target.ReleaseTargetTrigger) bool {
	for _, rt := range repo.ReleaseTargets {
		for _, t := range triggers {
			if rt.Trigger == t {
				return true
			}
		}
	}
	return false
}

func (a *Release) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	return a.expandIdentity(a), nil
}

func (a *Release) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	rec := a.rec
	prj, err := env.Targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		return err
	}
	for _, repo := range prj.Repositories {
		for _, rt := range repo.ReleaseTargets {
			tgt, err := env.Targets.GetProject(ctx, rt.Project)
			if err != nil {
				return err
			}
			ok, err := perm.CanModifyProject(ctx, principal, tgt, false)
			if err != nil {
				return err
			}
			if !ok {
				return NewLackingMaintainership(rt.Project, "")
			}
		}
	}
	return nil
}

func (a *Release) CheckAcceptPrecondition(ctx context.Context, env *Env) error {
	return checkBuildFinished(ctx, env, a.rec.SourceProject)
}

func (a *Release) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	return opts.Pipeline.ReleasePackage(ctx, a.rec, opts)
}

// checkBuildFinished requires every repository/architecture of the project to
// have completed its build, and the version-release of produced binaries to
// agree across architectures of one repository.
func checkBuildFinished(ctx context.Context, env *Env, project string) error {
	prj, err := env.Targets.GetProject(ctx, project)
	if err != nil {
		return err
	}
	for _, repo := range prj.Repositories {
		versions := map[string]string{}
		for _, arch := range repo.Architectures {
			res, err := env.Backend.GetBuildResult(ctx, project, repo.Name, arch)
			if err != nil {
				return err
			}
			if !res.Finished {
				return NewBuildNotFinished(project, repo.Name, arch)
			}
			for _, bin := range res.Binaries {
				vr := bin.Version + "-" + bin.Release
				if prev, ok := versions[bin.Name]; ok && prev != vr {
					return NewVersionReleaseDiffers(project, bin.Name)
				}
				versions[bin.Name] = vr
			}
		}
	}
	return nil
}
