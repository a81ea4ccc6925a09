package services_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/permissions"
	"github.com/buildforge/requestd/modules/workflow/services"
)

// enableCache puts a redis-backed forbidden-project cache in front of the
// fixture's read-protection checks.
func (f *svcFixture) enableCache(t *testing.T) *services.ForbiddenProjectsCache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := services.NewForbiddenProjectsCache(rdb, f.perms, f.bus, f.log)
	f.svc = services.NewRequestService(services.RequestServiceOptions{
		Requests:    f.requests,
		Env:         f.env,
		Permissions: f.perms,
		Reviewers:   f.reviewers,
		Pipeline:    f.maint,
		Bus:         f.bus,
		Cache:       cache,
		Tx:          services.PassthroughTx,
		Now:         func() time.Time { return fixedNow },
	})
	return cache
}

func TestForbiddenCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{
		Name:  "secret:project",
		Flags: target.FlagSet{{Kind: target.FlagAccess, Enabled: false}},
	})
	cache := f.enableCache(t)

	forbidden, err := cache.Forbidden(ctx, "secret:project", "bob")
	require.NoError(t, err)
	require.True(t, forbidden)

	// A grant alone does not refresh the cached verdict.
	f.grant(t, &relationship.Relationship{UserLogin: "bob", Role: permissions.RoleReader, Project: "secret:project"})
	forbidden, err = cache.Forbidden(ctx, "secret:project", "bob")
	require.NoError(t, err)
	require.True(t, forbidden)

	// The relationship-changed event drops the entry and the next read
	// recomputes against the live relationships.
	f.bus.Publish(services.RelationshipChanged{Project: "secret:project"})
	forbidden, err = cache.Forbidden(ctx, "secret:project", "bob")
	require.NoError(t, err)
	require.False(t, forbidden)
}

func TestGetConsultsForbiddenCache(t *testing.T) {
	ctx := context.Background()
	f := submitFixture(t)
	f.enableCache(t)
	r, err := f.svc.Create(ctx, adrian, []*action.Record{submitRecord()}, "")
	require.NoError(t, err)

	prj, err := f.targets.GetProject(ctx, "openSUSE:Factory")
	require.NoError(t, err)
	prj.Flags = target.FlagSet{{Kind: target.FlagAccess, Enabled: false}}
	f.project(t, prj)

	_, err = f.svc.Get(ctx, bob, r.ID)
	requireServiceError(t, err, http.StatusNotFound, "UNKNOWN_REQUEST")

	// The forbidden verdict is served from the cache until a relationship
	// change invalidates it, so a bare grant is not yet visible.
	f.grant(t, &relationship.Relationship{UserLogin: "bob", Role: permissions.RoleReader, Project: "openSUSE:Factory"})
	_, err = f.svc.Get(ctx, bob, r.ID)
	requireServiceError(t, err, http.StatusNotFound, "UNKNOWN_REQUEST")

	f.bus.Publish(services.RelationshipChanged{Project: "openSUSE:Factory"})
	_, err = f.svc.Get(ctx, bob, r.ID)
	require.NoError(t, err)
}

func TestRoleAcceptPublishesRelationshipChanged(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture()
	f.project(t, &target.Project{Name: "home:coolo"})
	f.grant(t, &relationship.Relationship{UserLogin: "maxi", Role: permissions.RoleMaintainer, Project: "home:coolo"})

	var got []services.RelationshipChanged
	f.bus.Subscribe(func(ev services.RelationshipChanged) {
		got = append(got, ev)
	})

	r, err := f.svc.Create(ctx, maxi, []*action.Record{{
		Kind:          action.KindAddRole,
		TargetProject: "home:coolo",
		Person:        "bob",
		Role:          permissions.RoleMaintainer,
	}}, "")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, f.svc.ChangeState(ctx, maxi, r.ID, request.StateAccepted, services.StateChangeOpts{}))
	require.Equal(t, []services.RelationshipChanged{{Project: "home:coolo"}}, got)
}
