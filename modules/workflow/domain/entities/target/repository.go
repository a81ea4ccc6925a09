package target

import "context"

// PackageRef identifies a package by (project, name).
type PackageRef struct {
	Project string
	Package string
}

type Repository interface {
	GetProject(ctx context.Context, name string) (*Project, error)
	GetPackage(ctx context.Context, project, name string) (*Package, error)
	ListPackages(ctx context.Context, project string) ([]*Package, error)
	SaveProject(ctx context.Context, p *Project) error
	SavePackage(ctx context.Context, p *Package) error
	DeletePackage(ctx context.Context, project, name string) error
	DeleteProject(ctx context.Context, name string) error
	DeleteRepository(ctx context.Context, project, repository string) error
	SetDevel(ctx context.Context, project, name, develProject, develPackage string) error

	// DevelReferences lists packages whose devel reference points at
	// (project, name); a non-empty result blocks deletion.
	DevelReferences(ctx context.Context, project, name string) ([]PackageRef, error)
}
