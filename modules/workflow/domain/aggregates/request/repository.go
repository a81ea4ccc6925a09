package request

import (
	"context"

	"github.com/buildforge/requestd/pkg/serrors"
)

var ErrNotFound = serrors.NewError("UNKNOWN_REQUEST", "request not found", "")

// TargetFilter narrows open-request queries to one (project, package) pair;
// an empty package matches project-wide actions too.
type TargetFilter struct {
	Project string
	Package string
	Kind    string
}

// Repository persists requests with their actions and reviews as one unit.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id int64) (*Request, error)
	Update(ctx context.Context, r *Request) error
	ListByState(ctx context.Context, states ...State) ([]*Request, error)

	// OpenRequestsWithTarget lists non-terminal requests carrying an action
	// against the filter target; used for the release admission check.
	OpenRequestsWithTarget(ctx context.Context, f TargetFilter) ([]*Request, error)
}
