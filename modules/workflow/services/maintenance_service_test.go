package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/services"
	"github.com/buildforge/requestd/pkg/serrors"
)

func TestMergeIncidentCreatesSubproject(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.maint.SetIncidentSuffix(func() string { return "99" })
	f.project(t, &target.Project{Name: "openSUSE:Maintenance", Kind: target.KindMaintenance})
	f.project(t, &target.Project{Name: "home:adrian:update"})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "libfoo"})
	f.project(t, &target.Project{Name: "openSUSE:13.1"})
	f.pkg(t, &target.Package{Project: "openSUSE:13.1", Name: "libfoo"})
	f.backend.SeedDirectory("home:adrian:update", "libfoo", &backend.Directory{Rev: "3"})
	f.backend.SeedDirectory("openSUSE:13.1", "libfoo", &backend.Directory{Rev: "12"})

	rec := &action.Record{
		Kind:                 action.KindMaintenanceIncident,
		SourceProject:        "home:adrian:update",
		SourcePackage:        "libfoo",
		TargetProject:        "openSUSE:Maintenance",
		TargetReleaseProject: "openSUSE:13.1",
	}
	require.NoError(t, f.maint.MergeIncident(ctx, rec, action.AcceptOpts{Time: fixedNow}))

	// The incident subproject was created under the umbrella project.
	require.Equal(t, "openSUSE:Maintenance:99", rec.TargetProject)
	incident, err := f.targets.GetProject(ctx, "openSUSE:Maintenance:99")
	require.NoError(t, err)
	require.Equal(t, target.KindMaintenanceIncident, incident.Kind)

	// The package was branched from its release project to keep history,
	// then the update source was copied on top.
	require.Equal(t, []string{"openSUSE:13.1/libfoo -> openSUSE:Maintenance:99/libfoo"}, f.backend.Branches)
	require.Equal(t, []string{"home:adrian:update/libfoo -> openSUSE:Maintenance:99/libfoo"}, f.backend.Copies)

	_, err = f.targets.GetPackage(ctx, "openSUSE:Maintenance:99", "libfoo")
	require.NoError(t, err)
}

func TestMergeIncidentReusesExistingIncident(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{Name: "openSUSE:Maintenance:7", Kind: target.KindMaintenanceIncident})
	f.project(t, &target.Project{Name: "home:adrian:update"})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "libfoo"})
	f.backend.SeedDirectory("home:adrian:update", "libfoo", &backend.Directory{Rev: "1"})

	rec := &action.Record{
		Kind:                 action.KindMaintenanceIncident,
		SourceProject:        "home:adrian:update",
		SourcePackage:        "libfoo",
		TargetProject:        "openSUSE:Maintenance:7",
		TargetReleaseProject: "home:adrian:update",
	}
	require.NoError(t, f.maint.MergeIncident(ctx, rec, action.AcceptOpts{Time: fixedNow}))
	require.Equal(t, "openSUSE:Maintenance:7", rec.TargetProject)
	require.Empty(t, f.backend.Branches)
}

func TestMergeIncidentPatchinfoCreatedOnce(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{Name: "openSUSE:Maintenance:7", Kind: target.KindMaintenanceIncident})
	f.project(t, &target.Project{Name: "home:adrian:update"})
	f.pkg(t, &target.Package{Project: "home:adrian:update", Name: "patchinfo", Kind: target.PackageKindPatchinfo})

	rec := func() *action.Record {
		return &action.Record{
			Kind:                 action.KindMaintenanceIncident,
			SourceProject:        "home:adrian:update",
			SourcePackage:        "patchinfo",
			TargetProject:        "openSUSE:Maintenance:7",
			TargetReleaseProject: "openSUSE:Maintenance:7",
		}
	}
	require.NoError(t, f.maint.MergeIncident(ctx, rec(), action.AcceptOpts{Time: fixedNow}))
	require.Len(t, f.backend.Copies, 1)

	pkg, err := f.targets.GetPackage(ctx, "openSUSE:Maintenance:7", "patchinfo")
	require.NoError(t, err)
	require.True(t, pkg.IsPatchinfo())

	// A second fan-out action of the same request reuses it.
	require.NoError(t, f.maint.MergeIncident(ctx, rec(), action.AcceptOpts{Time: fixedNow}))
	require.Len(t, f.backend.Copies, 1)
}

func releasePipelineFixture(t *testing.T) *svcFixture {
	t.Helper()
	f := newSvcFixture()
	f.project(t, &target.Project{
		Name: "openSUSE:Maintenance:42",
		Kind: target.KindMaintenanceIncident,
		Repositories: []target.Repo{{
			Name: "standard",
			ReleaseTargets: []target.ReleaseTarget{{
				Project: "openSUSE:13.1:Update", Repository: "standard", Trigger: target.TriggerMaintenance,
			}},
		}},
	})
	f.pkg(t, &target.Package{Project: "openSUSE:Maintenance:42", Name: "libfoo.42"})
	f.project(t, &target.Project{Name: "openSUSE:13.1:Update"})
	return f
}

func TestReleasePackage(t *testing.T) {
	ctx := context.Background()
	f := releasePipelineFixture(t)

	rec := &action.Record{
		Kind:          action.KindMaintenanceRelease,
		SourceProject: "openSUSE:Maintenance:42",
		SourcePackage: "libfoo.42",
		TargetProject: "openSUSE:13.1:Update",
		TargetPackage: "libfoo.42",
	}
	require.NoError(t, f.maint.ReleasePackage(ctx, rec, action.AcceptOpts{Time: fixedNow}))
	require.Equal(t, []string{"openSUSE:Maintenance:42/libfoo.42 -> openSUSE:13.1:Update/libfoo.42"}, f.backend.Copies)

	_, err := f.targets.GetPackage(ctx, "openSUSE:13.1:Update", "libfoo.42")
	require.NoError(t, err)
}

func TestReleasePackageWithoutReleasePath(t *testing.T) {
	ctx := context.Background()
	f := releasePipelineFixture(t)
	f.project(t, &target.Project{Name: "openSUSE:12.3:Update"})

	rec := &action.Record{
		Kind:          action.KindMaintenanceRelease,
		SourceProject: "openSUSE:Maintenance:42",
		SourcePackage: "libfoo.42",
		TargetProject: "openSUSE:12.3:Update",
		TargetPackage: "libfoo.42",
	}
	err := f.maint.ReleasePackage(ctx, rec, action.AcceptOpts{Time: fixedNow})
	require.True(t, serrors.IsCode(err, action.CodeRepoWithoutReleaseTarget))
}

func TestReleasePackageUnderEmbargo(t *testing.T) {
	ctx := context.Background()
	f := releasePipelineFixture(t)
	prj, err := f.targets.GetProject(ctx, "openSUSE:13.1:Update")
	require.NoError(t, err)
	prj.Attributes = []target.Attribute{{Name: target.AttrEmbargoDate, Values: []string{"2099-01-01"}}}
	f.project(t, prj)

	rec := &action.Record{
		Kind:          action.KindMaintenanceRelease,
		SourceProject: "openSUSE:Maintenance:42",
		SourcePackage: "libfoo.42",
		TargetProject: "openSUSE:13.1:Update",
		TargetPackage: "libfoo.42",
	}
	err = f.maint.ReleasePackage(ctx, rec, action.AcceptOpts{Time: fixedNow})
	require.True(t, serrors.IsCode(err, services.CodeUnderEmbargo))
	require.Empty(t, f.backend.Copies)
}
