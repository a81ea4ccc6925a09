package user

import (
	"context"

	"github.com/buildforge/requestd/pkg/serrors"
)

var (
	ErrUserNotFound  = serrors.NewError("UNKNOWN_USER", "user not found", "")
	ErrGroupNotFound = serrors.NewError("UNKNOWN_GROUP", "group not found", "")
)

// User is the acting principal threaded explicitly through every permission
// and command API.
type User struct {
	Login string
	Email string
	Admin bool
}

type Group struct {
	Name    string
	Members []string
}

func (g *Group) Contains(login string) bool {
	for _, m := range g.Members {
		if m == login {
			return true
		}
	}
	return false
}

type Repository interface {
	GetUser(ctx context.Context, login string) (*User, error)
	GetGroup(ctx context.Context, name string) (*Group, error)
	GroupsOf(ctx context.Context, login string) ([]*Group, error)
}
