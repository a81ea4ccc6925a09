package action

import (
	"context"
	"errors"
	"strings"

	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// MaintenanceIncident stages source packages into a maintenance incident
// project. Expansion resolves the abstract "submit this project" form into one
// concrete action per affected package.
type MaintenanceIncident struct {
	base
}

func (a *MaintenanceIncident) Kind() Kind { return KindMaintenanceIncident }

func (a *MaintenanceIncident) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if rec.SourceProject == "" {
		return NewInvalidAction("maintenance_incident requires a source project")
	}
	if rec.TargetProject == "" {
		return NewInvalidAction("maintenance_incident requires a target maintenance project")
	}

	if _, err := env.Targets.GetProject(ctx, rec.SourceProject); err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.SourceProject)
		}
		return err
	}
	if rec.SourcePackage != "" {
		if _, err := env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
			if errors.Is(err, target.ErrPackageNotFound) {
				return NewUnknownPackage(rec.SourceProject, rec.SourcePackage)
			}
			return err
		}
	}

	tgt, err := env.Targets.GetProject(ctx, rec.TargetProject)
	if err != nil {
		if errors.Is(err, target.ErrProjectNotFound) {
			return NewUnknownProject(rec.TargetProject)
		}
		return err
	}
	if tgt.Kind != target.KindMaintenance && tgt.Kind != target.KindMaintenanceIncident {
		return NewInvalidAction("target project " + tgt.Name + " is not a maintenance project")
	}
	if attr, ok := tgt.Attribute(target.AttrRejectRequests); ok {
		reason := "by attribute"
		if len(attr.Values) > 0 {
			reason = attr.Values[0]
		}
		return NewRequestRejected(tgt.Name, reason)
	}
	return nil
}

func (a *MaintenanceIncident) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	rec := a.rec
	if rec.TargetReleaseProject != "" {
		// Already concrete.
		return a.expandIdentity(a), nil
	}

	src, err := env.Targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		return nil, err
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

	if src.Kind == target.KindMaintenanceRelease && !opts.IgnoreBuildState {
		if err := checkBuildFinished(ctx, env, rec.SourceProject); err != nil {
			return nil, err
		}
	}

	patchinfoDone := false
	out := make([]Action, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg.IsPatchinfo() {
			// One patchinfo is shared across the whole fan-out.
			if patchinfoDone {
				continue
			}
			patchinfoDone = true
			out = append(out, a.concrete(pkg.Name, rec.TargetProject))
			continue
		}

		link, err := a.resolveLinkTarget(ctx, env, pkg.Name)
		if err != nil {
			return nil, err
		}

		releaseProject := rec.SourceProject
		if link != nil {
			releaseProject = link.Project
			// Linked packages must already exist at the link target.
			if _, err := env.Targets.GetPackage(ctx, link.Project, link.Package); err != nil {
				if errors.Is(err, target.ErrPackageNotFound) || errors.Is(err, target.ErrProjectNotFound) {
					return nil, NewUnknownTargetPackage(link.Project, link.Package)
				}
				return nil, err
			}

			diff, err := env.Backend.Diff(ctx, rec.SourceProject, pkg.Name, rec.SourceRev, link.Project, link.Package)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(diff) == "" {
				// No-op submissions are silently dropped from batch fan-out.
				if perPackage {
					return nil, NewMissingAction()
				}
				continue
			}
		}

		out = append(out, a.concrete(pkg.Name, releaseProject))
	}

	if len(out) == 0 {
		return nil, NewMissingAction()
	}
	for _, act := range out {
		act.Record().PerPackageLocking = perPackage
	}
	return out, nil
}

func (a *MaintenanceIncident) concrete(pkg, releaseProject string) Action {
	rec := *a.rec
	rec.SourcePackage = pkg
	rec.TargetReleaseProject = releaseProject
	return &MaintenanceIncident{base{&rec}}
}

// resolveLinkTarget follows the package link chain to its final target,
// guarding against link loops with a visited set. A nil result means the
// package carries no link and is new with this incident.
func (a *MaintenanceIncident) resolveLinkTarget(ctx context.Context, env *Env, pkg string) (*backend.LinkInfo, error) {
	rec := a.rec
	visited := map[string]bool{}
	prj, name := rec.SourceProject, pkg
	var last *backend.LinkInfo
	path := []string{}
	for {
		key := prj + "/" + name
		if visited[key] {
			return nil, NewCycleDetected(append(path, key))
		}
		visited[key] = true
		path = append(path, key)

		dir, err := env.Backend.GetDirectory(ctx, prj, name, "", false)
		if err != nil {
			if errors.Is(err, backend.ErrSourceMissing) {
				return last, nil
			}
			return nil, err
		}
		if dir.Link == nil {
			return last, nil
		}
		last = dir.Link
		prj, name = dir.Link.Project, dir.Link.Package
	}
}

func (a *MaintenanceIncident) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	return a.checkTargetWritable(ctx, env, perm, principal)
}

func (a *MaintenanceIncident) CheckAcceptPrecondition(ctx context.Context, env *Env) error {
	return a.checkPinnedSource(ctx, env)
}

func (a *MaintenanceIncident) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	return opts.Pipeline.MergeIncident(ctx, a.rec, opts)
}
