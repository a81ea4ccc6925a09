package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/pkg/composables"
)

type UserRepository struct{}

func NewUserRepository() user.Repository {
	return &UserRepository{}
}

func (r *UserRepository) GetUser(ctx context.Context, login string) (*user.User, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var u user.User
	if err := tx.QueryRow(ctx, `
		SELECT login, email, admin FROM users WHERE login = $1
	`, login).Scan(&u.Login, &u.Email, &u.Admin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetGroup(ctx context.Context, name string) (*user.Group, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM groups WHERE name = $1)`, name).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, user.ErrGroupNotFound
	}

	rows, err := tx.Query(ctx, `
		SELECT user_login FROM group_members WHERE group_name = $1 ORDER BY user_login
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	g := &user.Group{Name: name}
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, member)
	}
	return g, rows.Err()
}

func (r *UserRepository) GroupsOf(ctx context.Context, login string) ([]*user.Group, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT DISTINCT group_name FROM group_members WHERE user_login = $1 ORDER BY group_name
	`, login)
	if err != nil {
		return nil, err
	}
	names, err := collectStrings(rows)
	if err != nil {
		return nil, err
	}

	out := make([]*user.Group, 0, len(names))
	for _, name := range names {
		g, err := r.GetGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
