package persistence

import (
	"context"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/infrastructure/persistence/models"
	"github.com/buildforge/requestd/pkg/composables"
)

type RelationshipRepository struct{}

func NewRelationshipRepository() relationship.Repository {
	return &RelationshipRepository{}
}

func (r *RelationshipRepository) ForProject(ctx context.Context, project string) ([]*relationship.Relationship, error) {
	return r.list(ctx, `
		SELECT user_login, group_name, role, project, package
		FROM relationships WHERE project = $1 AND package = ''
	`, project)
}

func (r *RelationshipRepository) ForPackage(ctx context.Context, project, pkg string) ([]*relationship.Relationship, error) {
	return r.list(ctx, `
		SELECT user_login, group_name, role, project, package
		FROM relationships WHERE project = $1 AND package = $2
	`, project, pkg)
}

func (r *RelationshipRepository) list(ctx context.Context, query string, args ...any) ([]*relationship.Relationship, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*relationship.Relationship
	for rows.Next() {
		var row models.Relationship
		if err := rows.Scan(&row.UserLogin, &row.GroupName, &row.Role, &row.Project, &row.Package); err != nil {
			return nil, err
		}
		out = append(out, &relationship.Relationship{
			UserLogin: row.UserLogin,
			GroupName: row.GroupName,
			Role:      row.Role,
			Project:   row.Project,
			Package:   row.Package,
		})
	}
	return out, rows.Err()
}

func (r *RelationshipRepository) Grant(ctx context.Context, rel *relationship.Relationship) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO relationships (user_login, group_name, role, project, package)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT relationships_unique_grant DO NOTHING
	`, rel.UserLogin, rel.GroupName, rel.Role, rel.Project, rel.Package)
	return err
}

func (r *RelationshipRepository) Revoke(ctx context.Context, rel *relationship.Relationship) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		DELETE FROM relationships
		WHERE user_login = $1 AND group_name = $2 AND role = $3 AND project = $4 AND package = $5
	`, rel.UserLogin, rel.GroupName, rel.Role, rel.Project, rel.Package)
	return err
}
