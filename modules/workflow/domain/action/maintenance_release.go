package action

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// MaintenanceRelease fans an incident's built packages out into the release
// target projects declared on the incident's repositories.
type MaintenanceRelease struct {
	base
}

func (a *MaintenanceRelease) Kind() Kind { return KindMaintenanceRelease }

func (a *MaintenanceRelease) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.SourceProject == "" {
		return NewInvalidAction("maintenance_release requires a source project")
	}

	src, err := env.Targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.SourceProject)
		}
		return err
	}
	if src.Kind != target.KindMaintenanceIncident {
		return NewInvalidAction("source project " + src.Name + " is not a maintenance incident")
	}
	if rec.SourcePackage != "" {
		if _, err := env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
			if errors.Is(err, target.ErrPackageNotFound) {
				return NewUnknownPackage(rec.SourceProject, rec.SourcePackage)
			}
			return err
		}
	}

	if err := a.checkPatchinfo(ctx, env); err != nil {
		return err
	}
	return a.checkReleasePaths(ctx, env, src)
}

// checkPatchinfo requires the incident to carry its metadata package before
// anything may be released from it.
func (a *MaintenanceRelease) checkPatchinfo(ctx context.Context, env *Env) error {
	pkgs, err := env.Targets.ListPackages(ctx, a.rec.SourceProject)
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		if pkg.IsPatchinfo() {
			return nil
		}
	}
	return NewMissingPatchinfo(a.rec.SourceProject)
}

// checkReleasePaths verifies every repository of the incident has a usable
// release path and that the receiving side carries the needed architectures
// and admits this incident as a release source.
func (a *MaintenanceRelease) checkReleasePaths(ctx context.Context, env *Env, src *target.Project) error {
	for _, repo := range src.Repositories {
		if !hasTrigger(repo, target.TriggerManual, target.TriggerMaintenance) {
			return NewRepositoryWithoutReleaseTarget(src.Name, repo.Name)
		}
		for _, rt := range repo.ReleaseTargets {
			if rt.Trigger != target.TriggerManual && rt.Trigger != target.TriggerMaintenance {
				continue
			}
			tgt, err := env.Targets.GetProject(ctx, rt.Project)
			if err != nil {
				if errors.Is(err, target.ErrProjectNotFound) {
					return NewUnknownProject(rt.Project)
				}
				return err
			}
			tgtRepo, ok := tgt.Repository(rt.Repository)
			if !ok {
				return NewRepositoryWithoutReleaseTarget(tgt.Name, rt.Repository)
			}
			for _, arch := range repo.Architectures {
				if !hasArchitecture(tgtRepo, arch) {
					return NewRepositoryWithoutArchitecture(tgt.Name, tgtRepo.Name, arch)
				}
			}
			if attr, ok := tgt.Attribute(target.AttrLimitReleaseSourceProject); ok {
				if !containsString(attr.Values, src.Name) {
					return NewOutsideLimitRelease(tgt.Name, src.Name)
				}
			}
		}
	}
	return nil
}

func hasArchitecture(repo *target.Repo, arch string) bool {
	for _, a := range repo.Architectures {
		if a == arch {
			return true
		}
	}
	return false
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// Expand produces one concrete action per (package, release target project)
// pair. The shared patchinfo travels to every target exactly once.
func (a *MaintenanceRelease) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	rec := a.rec
	if rec.TargetProject != "" {
		// Already concrete.
		return a.expandIdentity(a), nil
	}

	src, err := env.Targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		return nil, err
	}
	if !opts.IgnoreBuildState {
		if err := checkBuildFinished(ctx, env, rec.SourceProject); err != nil {
			return nil, err
		}
	}

	var pkgs []*target.Package
	perPackage := rec.SourcePackage != ""
	if perPackage {
		pkg, err := env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage)
		if err != nil {
			return nil, err
		}
		pkgs = []*target.Package{pkg}
	} else {
		pkgs, err = env.Targets.ListPackages(ctx, rec.SourceProject)
		if err != nil {
			return nil, err
		}
	}

	targets := releaseTargetProjects(src)
	if len(targets) == 0 {
		return nil, NewRepositoryWithoutReleaseTarget(src.Name, "")
	}

	out := make([]Action, 0, len(pkgs)*len(targets))
	for _, tgt := range targets {
		for _, pkg := range pkgs {
			rec := *a.rec
			rec.SourcePackage = pkg.Name
			rec.TargetProject = tgt
			rec.TargetPackage = pkg.Name
			rec.PerPackageLocking = perPackage
			out = append(out, &MaintenanceRelease{base{&rec}})
		}
	}
	return out, nil
}

func releaseTargetProjects(src *target.Project) []string {
	seen := map[string]bool{}
	var out []string
	for _, repo := range src.Repositories {
		for _, rt := range repo.ReleaseTargets {
			if rt.Trigger != target.TriggerManual && rt.Trigger != target.TriggerMaintenance {
				continue
			}
			if !seen[rt.Project] {
				seen[rt.Project] = true
				out = append(out, rt.Project)
			}
		}
	}
	return out
}

// CheckAcceptPermission requires write access on every release target project;
// target-project maintainership is a hard precondition for release, not a
// review.
func (a *MaintenanceRelease) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	rec := a.rec
	if rec.TargetProject != "" {
		return a.checkTargetWritable(ctx, env, perm, principal)
	}
	src, err := env.Targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		return err
	}
	for _, name := range releaseTargetProjects(src) {
		tgt, err := env.Targets.GetProject(ctx, name)
		if err != nil {
			return err
		}
		ok, err := perm.CanModifyProject(ctx, principal, tgt, false)
		if err != nil {
			return err
		}
		if !ok {
			return NewLackingMaintainership(name, "")
		}
	}
	return nil
}

func (a *MaintenanceRelease) CheckAcceptPrecondition(ctx context.Context, env *Env) error {
	if err := a.checkPinnedSource(ctx, env); err != nil {
		return err
	}
	return checkBuildFinished(ctx, env, a.rec.SourceProject)
}

func (a *MaintenanceRelease) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	return opts.Pipeline.ReleasePackage(ctx, a.rec, opts)
}
