package action_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/pkg/serrors"
)

// incidentFixture seeds an update branch with a patchinfo, a linked package
// with pending changes, a linked package without changes and one brand-new
// package.
func incidentFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	f.project(t, &target.Project{Name: "openSUSE:Maintenance", Kind: target.KindMaintenance})
	f.project(t, &target.Project{Name: "home:adrian:update"})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "patchinfo", Kind: target.PackageKindPatchinfo})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "libfoo"})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "libbar"})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "libnew"})

	f.project(t, &target.Project{Name: "openSUSE:13.1"})
	f.pkg(t, &target.Package{Project: "openSUSE:13.1", Name: "libfoo"})
	f.pkg(t, &target.Package{Project: "openSUSE:13.1", Name: "libbar"})

	f.backend.SeedDirectory("home:adrian:update", "libfoo", &backend.Directory{
		Rev: "3", Link: &backend.LinkInfo{Project: "openSUSE:13.1", Package: "libfoo"},
	})
	f.backend.SeedDirectory("home:adrian:update", "libbar", &backend.Directory{
		Rev: "1", Link: &backend.LinkInfo{Project: "openSUSE:13.1", Package: "libbar"},
	})
	f.backend.SeedDirectory("openSUSE:13.1", "libfoo", &backend.Directory{Rev: "12"})
	f.backend.SeedDirectory("openSUSE:13.1", "libbar", &backend.Directory{Rev: "9"})
	f.backend.SeedDiff("home:adrian:update", "libfoo", "openSUSE:13.1", "libfoo", "--- a/fix.patch\n+++ b/fix.patch\n")
	// libbar diff stays empty: no actual change against the link target.
	return f
}

func TestMaintenanceIncidentValidate(t *testing.T) {
	ctx := context.Background()
	f := incidentFixture(t)

	rec := &action.Record{
		Kind:          action.KindMaintenanceIncident,
		SourceProject: "home:adrian:update",
		TargetProject: "openSUSE:Maintenance",
	}
	require.NoError(t, mustAction(t, rec).Validate(ctx, f.env))

	t.Run("target must be a maintenance project", func(t *testing.T) {
		rec := &action.Record{
			Kind:          action.KindMaintenanceIncident,
			SourceProject: "home:adrian:update",
			TargetProject: "openSUSE:13.1",
		}
		err := mustAction(t, rec).Validate(ctx, f.env)
		require.True(t, serrors.IsCode(err, action.CodeInvalidAction))
	})
}

func TestMaintenanceIncidentExpandFanOut(t *testing.T) {
	ctx := context.Background()
	f := incidentFixture(t)

	rec := &action.Record{
		Kind:          action.KindMaintenanceIncident,
		SourceProject: "home:adrian:update",
		TargetProject: "openSUSE:Maintenance",
	}
	out, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.NoError(t, err)

	// libbar has no change against its link target and is dropped; the
	// unlinked libnew stays in its own source project.
	byPkg := map[string]string{}
	for _, act := range out {
		r := act.Record()
		byPkg[r.SourcePackage] = r.TargetReleaseProject
		require.False(t, r.PerPackageLocking)
	}
	require.Equal(t, map[string]string{
		"libfoo":    "openSUSE:13.1",
		"libnew":    "home:adrian:update",
		"patchinfo": "openSUSE:Maintenance",
	}, byPkg)
}

func TestMaintenanceIncidentExpandConcreteIdentity(t *testing.T) {
	ctx := context.Background()
	f := incidentFixture(t)

	rec := &action.Record{
		Kind:                 action.KindMaintenanceIncident,
		SourceProject:        "home:adrian:update",
		SourcePackage:        "libfoo",
		TargetProject:        "openSUSE:Maintenance",
		TargetReleaseProject: "openSUSE:13.1",
	}
	out, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Same(t, rec, out[0].Record())
}

func TestMaintenanceIncidentExpandSinglePackage(t *testing.T) {
	ctx := context.Background()
	f := incidentFixture(t)

	rec := &action.Record{
		Kind:          action.KindMaintenanceIncident,
		SourceProject: "home:adrian:update",
		SourcePackage: "libfoo",
		TargetProject: "openSUSE:Maintenance",
	}
	out, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.True(t, out[0].Record().PerPackageLocking)

	// A single-package submission without changes is an error, not a no-op.
	rec = &action.Record{
		Kind:          action.KindMaintenanceIncident,
		SourceProject: "home:adrian:update",
		SourcePackage: "libbar",
		TargetProject: "openSUSE:Maintenance",
	}
	_, err = mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.True(t, serrors.IsCode(err, action.CodeMissingAction))
}

func TestMaintenanceIncidentExpandUnknownLinkTarget(t *testing.T) {
	ctx := context.Background()
	f := incidentFixture(t)
	f.backend.SeedDirectory("home:adrian:update", "libghost", &backend.Directory{
		Rev: "1", Link: &backend.LinkInfo{Project: "openSUSE:13.1", Package: "libghost"},
	})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "libghost"})

	rec := &action.Record{
		Kind:          action.KindMaintenanceIncident,
		SourceProject: "home:adrian:update",
		SourcePackage: "libghost",
		TargetProject: "openSUSE:Maintenance",
	}
	_, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.True(t, serrors.IsCode(err, action.CodeUnknownTargetPackage))
}

func TestMaintenanceIncidentExpandLinkCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.project(t, &target.Project{Name: "openSUSE:Maintenance", Kind: target.KindMaintenance})
	f.project(t, &target.Project{Name: "proj:a"})
	f.pkg(t, &target.Package{Project: "proj:a", Name: "pkg"})
	f.backend.SeedDirectory("proj:a", "pkg", &backend.Directory{
		Link: &backend.LinkInfo{Project: "proj:b", Package: "pkg"},
	})
	f.backend.SeedDirectory("proj:b", "pkg", &backend.Directory{
		Link: &backend.LinkInfo{Project: "proj:a", Package: "pkg"},
	})

	rec := &action.Record{
		Kind:          action.KindMaintenanceIncident,
		SourceProject: "proj:a",
		SourcePackage: "pkg",
		TargetProject: "openSUSE:Maintenance",
	}
	_, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.True(t, serrors.IsCode(err, action.CodeCycleDetected))
}

// releaseFixture seeds an incident ready for release into one update project.
func releaseFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture()
	f.project(t, &target.Project{
		Name: "openSUSE:Maintenance:42",
		Kind: target.KindMaintenanceIncident,
		Repositories: []target.Repo{{
			Name:          "standard",
			Architectures: []string{"x86_64", "i586"},
			ReleaseTargets: []target.ReleaseTarget{{
				Project: "openSUSE:13.1:Update", Repository: "standard", Trigger: target.TriggerMaintenance,
			}},
		}},
	})
	f.pkg(t, &target.Package{Project: "openSUSE:Maintenance:42", Name: "patchinfo", Kind: target.PackageKindPatchinfo})
	f.pkg(t, &target.Package{Project: "openSUSE:Maintenance:42", Name: "libfoo.42"})
	f.project(t, &target.Project{
		Name: "openSUSE:13.1:Update",
		Repositories: []target.Repo{{
			Name: "standard", Architectures: []string{"x86_64", "i586"},
		}},
	})
	return f
}

func TestMaintenanceReleaseValidate(t *testing.T) {
	ctx := context.Background()
	f := releaseFixture(t)

	rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
	require.NoError(t, mustAction(t, rec).Validate(ctx, f.env))

	t.Run("source must be an incident", func(t *testing.T) {
		rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:13.1:Update"}
		err := mustAction(t, rec).Validate(ctx, f.env)
		require.True(t, serrors.IsCode(err, action.CodeInvalidAction))
	})

	t.Run("missing patchinfo", func(t *testing.T) {
		require.NoError(t, f.targets.DeletePackage(ctx, "openSUSE:Maintenance:42", "patchinfo"))
		rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
		err := mustAction(t, rec).Validate(ctx, f.env)
		require.True(t, serrors.IsCode(err, action.CodeMissingPatchinfo))
		f.pkg(t, &target.Package{Project: "openSUSE:Maintenance:42", Name: "patchinfo", Kind: target.PackageKindPatchinfo})
	})
}

func TestMaintenanceReleaseValidateReleasePaths(t *testing.T) {
	ctx := context.Background()

	t.Run("repository without release target", func(t *testing.T) {
		f := releaseFixture(t)
		prj, err := f.targets.GetProject(ctx, "openSUSE:Maintenance:42")
		require.NoError(t, err)
		prj.Repositories[0].ReleaseTargets = nil
		f.project(t, prj)

		rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
		err = mustAction(t, rec).Validate(ctx, f.env)
		require.True(t, serrors.IsCode(err, action.CodeRepoWithoutReleaseTarget))
	})

	t.Run("target repository misses an architecture", func(t *testing.T) {
		f := releaseFixture(t)
		prj, err := f.targets.GetProject(ctx, "openSUSE:13.1:Update")
		require.NoError(t, err)
		prj.Repositories[0].Architectures = []string{"x86_64"}
		f.project(t, prj)

		rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
		err = mustAction(t, rec).Validate(ctx, f.env)
		require.True(t, serrors.IsCode(err, action.CodeRepoWithoutArchitecture))
	})

	t.Run("release source outside the allowed set", func(t *testing.T) {
		f := releaseFixture(t)
		prj, err := f.targets.GetProject(ctx, "openSUSE:13.1:Update")
		require.NoError(t, err)
		prj.Attributes = []target.Attribute{{
			Name: target.AttrLimitReleaseSourceProject, Values: []string{"openSUSE:Maintenance:7"},
		}}
		f.project(t, prj)

		rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
		err = mustAction(t, rec).Validate(ctx, f.env)
		require.True(t, serrors.IsCode(err, action.CodeOutsideLimitRelease))
	})
}

func TestMaintenanceReleaseExpandFanOut(t *testing.T) {
	ctx := context.Background()
	f := releaseFixture(t)

	rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
	out, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, act := range out {
		r := act.Record()
		require.Equal(t, "openSUSE:13.1:Update", r.TargetProject)
		require.Equal(t, r.SourcePackage, r.TargetPackage)
	}
}

func TestMaintenanceReleaseExpandRequiresFinishedBuild(t *testing.T) {
	ctx := context.Background()
	f := releaseFixture(t)
	f.backend.SeedBuildResult("openSUSE:Maintenance:42", "standard", "i586", &backend.BuildResult{
		Repository: "standard", Architecture: "i586", Code: "building", Finished: false,
	})

	rec := &action.Record{Kind: action.KindMaintenanceRelease, SourceProject: "openSUSE:Maintenance:42"}
	_, err := mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{})
	require.True(t, serrors.IsCode(err, action.CodeBuildNotFinished))

	// Operators may override the build gate explicitly.
	_, err = mustAction(t, rec).Expand(ctx, f.env, action.ExpandOpts{IgnoreBuildState: true})
	require.NoError(t, err)
}

func TestReleaseValidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.project(t, &target.Project{
		Name: "games",
		Repositories: []target.Repo{{
			Name:          "standard",
			Architectures: []string{"x86_64"},
			ReleaseTargets: []target.ReleaseTarget{{
				Project: "games:released", Repository: "standard", Trigger: target.TriggerMaintenance,
			}},
		}},
	})
	f.pkg(t, &target.Package{Project: "games", Name: "supertux"})

	// No manual trigger on the repository refuses the release.
	rec := &action.Record{Kind: action.KindRelease, SourceProject: "games", SourcePackage: "supertux"}
	err := mustAction(t, rec).Validate(ctx, f.env)
	require.True(t, serrors.IsCode(err, action.CodeRepoWithoutReleaseTarget))

	prj, err := f.targets.GetProject(ctx, "games")
	require.NoError(t, err)
	prj.Repositories[0].ReleaseTargets[0].Trigger = target.TriggerManual
	f.project(t, prj)
	require.NoError(t, mustAction(t, rec).Validate(ctx, f.env))
}

func TestReleasePreconditionVersionReleaseConsistency(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.project(t, &target.Project{
		Name: "games",
		Repositories: []target.Repo{{
			Name:          "standard",
			Architectures: []string{"x86_64", "i586"},
			ReleaseTargets: []target.ReleaseTarget{{
				Project: "games:released", Repository: "standard", Trigger: target.TriggerManual,
			}},
		}},
	})
	f.backend.SeedBuildResult("games", "standard", "x86_64", &backend.BuildResult{
		Finished: true, Binaries: []backend.BinaryInfo{{Name: "supertux", Version: "0.6", Release: "1.1"}},
	})
	f.backend.SeedBuildResult("games", "standard", "i586", &backend.BuildResult{
		Finished: true, Binaries: []backend.BinaryInfo{{Name: "supertux", Version: "0.6", Release: "1.2"}},
	})

	rec := &action.Record{Kind: action.KindRelease, SourceProject: "games", SourcePackage: "supertux"}
	err := mustAction(t, rec).CheckAcceptPrecondition(ctx, f.env)
	require.True(t, serrors.IsCode(err, action.CodeVersionReleaseDiffers))
}
