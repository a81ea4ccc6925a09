package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/modules/workflow/permissions"
)

func TestCanModifyProject(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{Name: "devel:tools"})
	f.grant(t, &relationship.Relationship{UserLogin: "adrian", Role: permissions.RoleMaintainer, Project: "devel:tools"})
	prj, err := f.targets.GetProject(ctx, "devel:tools")
	require.NoError(t, err)

	ok, err := f.perms.CanModifyProject(ctx, adrian, prj, false)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.perms.CanModifyProject(ctx, bob, prj, false)
	require.NoError(t, err)
	require.False(t, ok)

	// Admins bypass everything.
	ok, err = f.perms.CanModifyProject(ctx, king, prj, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanModifyProjectLockVeto(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{
		Name:  "devel:tools",
		Flags: target.FlagSet{{Kind: target.FlagLock, Enabled: true}},
	})
	f.grant(t, &relationship.Relationship{UserLogin: "adrian", Role: permissions.RoleMaintainer, Project: "devel:tools"})
	prj, err := f.targets.GetProject(ctx, "devel:tools")
	require.NoError(t, err)

	ok, err := f.perms.CanModifyProject(ctx, adrian, prj, false)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.perms.CanModifyProject(ctx, adrian, prj, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanModifyPackageInheritsProjectLock(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{
		Name:  "devel:tools",
		Flags: target.FlagSet{{Kind: target.FlagLock, Enabled: true}},
	})
	f.pkg(t, &target.Package{Project: "devel:tools", Name: "osc"})
	f.grant(t, &relationship.Relationship{UserLogin: "adrian", Role: permissions.RoleMaintainer, Project: "devel:tools"})
	pkg, err := f.targets.GetPackage(ctx, "devel:tools", "osc")
	require.NoError(t, err)

	ok, err := f.perms.CanModifyPackage(ctx, adrian, pkg, false)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.perms.CanModifyPackage(ctx, adrian, pkg, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanModifyPackageViaGroupGrant(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{Name: "devel:tools"})
	f.pkg(t, &target.Package{Project: "devel:tools", Name: "osc"})
	f.users.AddGroup(&user.Group{Name: "tools-team", Members: []string{"bob"}})
	f.grant(t, &relationship.Relationship{GroupName: "tools-team", Role: permissions.RoleMaintainer, Project: "devel:tools", Package: "osc"})
	pkg, err := f.targets.GetPackage(ctx, "devel:tools", "osc")
	require.NoError(t, err)

	ok, err := f.perms.CanModifyPackage(ctx, bob, pkg, false)
	require.NoError(t, err)
	require.True(t, ok)

	// Membership, not the group's existence, is what grants.
	ok, err = f.perms.CanModifyPackage(ctx, adrian, pkg, false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPackageRoleFallsBackToProject(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{Name: "devel:tools"})
	f.pkg(t, &target.Package{Project: "devel:tools", Name: "osc"})
	f.grant(t, &relationship.Relationship{UserLogin: "adrian", Role: permissions.RoleMaintainer, Project: "devel:tools"})
	pkg, err := f.targets.GetPackage(ctx, "devel:tools", "osc")
	require.NoError(t, err)

	ok, err := f.perms.CanModifyPackage(ctx, adrian, pkg, false)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanRead(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{
		Name:  "secret:project",
		Flags: target.FlagSet{{Kind: target.FlagAccess, Enabled: false}},
	})
	f.grant(t, &relationship.Relationship{UserLogin: "adrian", Role: permissions.RoleReader, Project: "secret:project"})
	prj, err := f.targets.GetProject(ctx, "secret:project")
	require.NoError(t, err)

	ok, err := f.perms.CanRead(ctx, bob, prj)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.perms.CanRead(ctx, adrian, prj)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.perms.CanRead(ctx, nil, prj)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.perms.CanRead(ctx, king, prj)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCanSourceAccess(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{
		Name:  "secret:project",
		Flags: target.FlagSet{{Kind: target.FlagSourceAccess, Enabled: false}},
	})
	f.grant(t, &relationship.Relationship{UserLogin: "adrian", Role: permissions.RoleReviewer, Project: "secret:project"})
	// Reader involvement is enough to see, not to read sources.
	f.grant(t, &relationship.Relationship{UserLogin: "bob", Role: permissions.RoleReader, Project: "secret:project"})
	prj, err := f.targets.GetProject(ctx, "secret:project")
	require.NoError(t, err)

	ok, err := f.perms.CanSourceAccess(ctx, adrian, prj)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.perms.CanSourceAccess(ctx, bob, prj)
	require.NoError(t, err)
	require.False(t, ok)
}
