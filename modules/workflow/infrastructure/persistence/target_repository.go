package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/infrastructure/persistence/models"
	"github.com/buildforge/requestd/pkg/composables"
)

type TargetRepository struct{}

func NewTargetRepository() target.Repository {
	return &TargetRepository{}
}

func (r *TargetRepository) GetProject(ctx context.Context, name string) (*target.Project, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.Project
	if err := tx.QueryRow(ctx, `
		SELECT name, kind, title, flags, attributes, repositories
		FROM projects WHERE name = $1
	`, name).Scan(&row.Name, &row.Kind, &row.Title, &row.Flags, &row.Attributes, &row.Repositories); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, target.ErrProjectNotFound
		}
		return nil, err
	}
	return toDomainProject(&row)
}

func (r *TargetRepository) GetPackage(ctx context.Context, project, name string) (*target.Package, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.Package
	if err := tx.QueryRow(ctx, `
		SELECT project, name, kind, flags, attributes, devel_project, devel_package
		FROM packages WHERE project = $1 AND name = $2
	`, project, name).Scan(&row.Project, &row.Name, &row.Kind, &row.Flags, &row.Attributes,
		&row.DevelProject, &row.DevelPackage); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, perr := r.GetProject(ctx, project); perr != nil {
				return nil, perr
			}
			return nil, target.ErrPackageNotFound
		}
		return nil, err
	}
	return toDomainPackage(&row)
}

func (r *TargetRepository) ListPackages(ctx context.Context, project string) ([]*target.Package, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT project, name, kind, flags, attributes, devel_project, devel_package
		FROM packages WHERE project = $1 ORDER BY name
	`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*target.Package
	for rows.Next() {
		var row models.Package
		if err := rows.Scan(&row.Project, &row.Name, &row.Kind, &row.Flags, &row.Attributes,
			&row.DevelProject, &row.DevelPackage); err != nil {
			return nil, err
		}
		pkg, err := toDomainPackage(&row)
		if err != nil {
			return nil, err
		}
		out = append(out, pkg)
	}
	return out, rows.Err()
}

func (r *TargetRepository) SaveProject(ctx context.Context, p *target.Project) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	row, err := toProjectRow(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO projects (name, kind, title, flags, attributes, repositories)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE
		SET kind = EXCLUDED.kind, title = EXCLUDED.title, flags = EXCLUDED.flags,
			attributes = EXCLUDED.attributes, repositories = EXCLUDED.repositories
	`, row.Name, row.Kind, row.Title, row.Flags, row.Attributes, row.Repositories)
	return err
}

func (r *TargetRepository) SavePackage(ctx context.Context, p *target.Package) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	row, err := toPackageRow(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO packages (project, name, kind, flags, attributes, devel_project, devel_package)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project, name) DO UPDATE
		SET kind = EXCLUDED.kind, flags = EXCLUDED.flags, attributes = EXCLUDED.attributes,
			devel_project = EXCLUDED.devel_project, devel_package = EXCLUDED.devel_package
	`, row.Project, row.Name, row.Kind, row.Flags, row.Attributes, row.DevelProject, row.DevelPackage)
	return err
}

func (r *TargetRepository) DeletePackage(ctx context.Context, project, name string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM packages WHERE project = $1 AND name = $2`, project, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return target.ErrPackageNotFound
	}
	return nil
}

func (r *TargetRepository) DeleteProject(ctx context.Context, name string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM packages WHERE project = $1`, name); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM projects WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return target.ErrProjectNotFound
	}
	return nil
}

// DeleteRepository rewrites the project row without the named repository.
func (r *TargetRepository) DeleteRepository(ctx context.Context, project, repository string) error {
	prj, err := r.GetProject(ctx, project)
	if err != nil {
		return err
	}
	kept := prj.Repositories[:0]
	found := false
	for _, repo := range prj.Repositories {
		if repo.Name == repository {
			found = true
			continue
		}
		kept = append(kept, repo)
	}
	if !found {
		return target.ErrRepositoryNotFound
	}
	prj.Repositories = kept
	return r.SaveProject(ctx, prj)
}

func (r *TargetRepository) SetDevel(ctx context.Context, project, name, develProject, develPackage string) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE packages SET devel_project = $3, devel_package = $4
		WHERE project = $1 AND name = $2
	`, project, name, develProject, develPackage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return target.ErrPackageNotFound
	}
	return nil
}

func (r *TargetRepository) DevelReferences(ctx context.Context, project, name string) ([]target.PackageRef, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT project, name FROM packages
		WHERE devel_project = $1 AND devel_package = $2
		ORDER BY project, name
	`, project, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []target.PackageRef
	for rows.Next() {
		var ref target.PackageRef
		if err := rows.Scan(&ref.Project, &ref.Package); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}
