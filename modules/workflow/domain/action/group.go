package action

import (
	"context"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

// Group bundles other requests so they share one review lifecycle. It has no
// backend effect of its own.
type Group struct {
	base
}

func (a *Group) Kind() Kind { return KindGroup }

func (a *Group) Validate(ctx context.Context, env *Env) error {
	rec := a.rec
	if len(rec.GroupedRequestIDs) == 0 {
		return NewInvalidAction("group requires at least one grouped request")
	}
	seen := make(map[int64]bool, len(rec.GroupedRequestIDs))
	for _, id := range rec.GroupedRequestIDs {
		if seen[id] {
			return NewInvalidAction("group lists the same request twice")
		}
		seen[id] = true
		if _, err := env.Requests.StateOf(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *Group) Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error) {
	return a.expandIdentity(a), nil
}

// Grouping carries no target of its own, so accepting needs no write grant.
func (a *Group) CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	return nil
}

func (a *Group) ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error {
	return nil
}

// PendingReviews reports whether any grouped request still waits on reviews;
// the state machine mirrors that as the group request's own review state.
func (a *Group) PendingReviews(ctx context.Context, env *Env) (bool, error) {
	for _, id := range a.rec.GroupedRequestIDs {
		open, err := env.Requests.HasOpenReviews(ctx, id)
		if err != nil {
			return false, err
		}
		if open {
			return true, nil
		}
	}
	return false, nil
}
