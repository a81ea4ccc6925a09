package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/buildforge/requestd/pkg/eventbus"
)

const forbiddenCacheTTL = 5 * time.Minute

// ForbiddenProjectsCache is a read-through redis cache for the access-flag
// read-protection verdict, keyed per (project, login). The underlying
// relationship data changes rarely; entries are dropped when a grant on the
// project changes.
type ForbiddenProjectsCache struct {
	rdb   *redis.Client
	perms *PermissionService
	log   *logrus.Logger
}

func NewForbiddenProjectsCache(rdb *redis.Client, perms *PermissionService, bus eventbus.EventBus, log *logrus.Logger) *ForbiddenProjectsCache {
	c := &ForbiddenProjectsCache{rdb: rdb, perms: perms, log: log}
	if bus != nil {
		bus.Subscribe(c.onRelationshipChanged)
	}
	return c
}

func (c *ForbiddenProjectsCache) key(project, login string) string {
	return "requestd:forbidden:" + project + ":" + login
}

// Forbidden reports whether project is read-protected for login, consulting
// redis first. Cache failures fall through to the evaluator.
func (c *ForbiddenProjectsCache) Forbidden(ctx context.Context, project, login string) (bool, error) {
	key := c.key(project, login)
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key).Result()
		if err == nil {
			return val == "1", nil
		}
		if err != redis.Nil && c.log != nil {
			c.log.WithError(err).Warn("forbidden cache read failed")
		}
	}

	prj, err := c.perms.targets.GetProject(ctx, project)
	if err != nil {
		return false, err
	}
	usr, err := c.perms.users.GetUser(ctx, login)
	if err != nil {
		return false, err
	}
	ok, err := c.perms.CanRead(ctx, usr, prj)
	if err != nil {
		return false, err
	}

	if c.rdb != nil {
		val := "0"
		if !ok {
			val = "1"
		}
		if err := c.rdb.Set(ctx, key, val, forbiddenCacheTTL).Err(); err != nil && c.log != nil {
			c.log.WithError(err).Warn("forbidden cache write failed")
		}
	}
	return !ok, nil
}

func (c *ForbiddenProjectsCache) onRelationshipChanged(ev RelationshipChanged) {
	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var cursor uint64
	pattern := "requestd:forbidden:" + ev.Project + ":*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).Warn("forbidden cache invalidation failed")
			}
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil && c.log != nil {
				c.log.WithError(err).Warn("forbidden cache delete failed")
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}
