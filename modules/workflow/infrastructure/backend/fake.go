package backendhttp

import (
	"context"
	"sync"

	"github.com/buildforge/requestd/modules/workflow/domain/backend"
)

// Fake is an in-memory backend for tests. Directories, diffs and build
// results are seeded by key; mutations are recorded for assertions.
type Fake struct {
	mu sync.Mutex

	Directories  map[string]*backend.Directory   // "project/package"
	Diffs        map[string]string               // "srcprj/srcpkg->tgtprj/tgtpkg"
	BuildResults map[string]*backend.BuildResult // "project/repo/arch"

	Copies    []string // "src -> dst"
	Branches  []string
	Destroyed []string
}

var _ backend.Client = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Directories:  map[string]*backend.Directory{},
		Diffs:        map[string]string{},
		BuildResults: map[string]*backend.BuildResult{},
	}
}

func (f *Fake) SeedDirectory(project, pkg string, dir *backend.Directory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Directories[project+"/"+pkg] = dir
}

func (f *Fake) SeedDiff(srcProject, srcPackage, tgtProject, tgtPackage, diff string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Diffs[srcProject+"/"+srcPackage+"->"+tgtProject+"/"+tgtPackage] = diff
}

func (f *Fake) SeedBuildResult(project, repo, arch string, res *backend.BuildResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BuildResults[project+"/"+repo+"/"+arch] = res
}

func (f *Fake) GetDirectory(ctx context.Context, project, pkg, rev string, expand bool) (*backend.Directory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, ok := f.Directories[project+"/"+pkg]
	if !ok {
		return nil, backend.ErrSourceMissing
	}
	c := *dir
	return &c, nil
}

func (f *Fake) Diff(ctx context.Context, srcProject, srcPackage, srcRev, tgtProject, tgtPackage string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	diff, ok := f.Diffs[srcProject+"/"+srcPackage+"->"+tgtProject+"/"+tgtPackage]
	if !ok {
		return "", nil
	}
	return diff, nil
}

func (f *Fake) Copy(ctx context.Context, srcProject, srcPackage, dstProject, dstPackage string, opts backend.CopyOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Copies = append(f.Copies, srcProject+"/"+srcPackage+" -> "+dstProject+"/"+dstPackage)
	if dir, ok := f.Directories[srcProject+"/"+srcPackage]; ok {
		c := *dir
		f.Directories[dstProject+"/"+dstPackage] = &c
	}
	return nil
}

func (f *Fake) Branch(ctx context.Context, srcProject, srcPackage, dstProject, dstPackage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Directories[srcProject+"/"+srcPackage]; !ok {
		return backend.ErrSourceMissing
	}
	f.Branches = append(f.Branches, srcProject+"/"+srcPackage+" -> "+dstProject+"/"+dstPackage)
	dir := *f.Directories[srcProject+"/"+srcPackage]
	dir.Link = &backend.LinkInfo{Project: srcProject, Package: srcPackage}
	f.Directories[dstProject+"/"+dstPackage] = &dir
	return nil
}

func (f *Fake) DestroyPackage(ctx context.Context, project, pkg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed = append(f.Destroyed, project+"/"+pkg)
	delete(f.Directories, project+"/"+pkg)
	return nil
}

func (f *Fake) DestroyProject(ctx context.Context, project string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destroyed = append(f.Destroyed, project)
	return nil
}

func (f *Fake) GetBuildResult(ctx context.Context, project, repository, architecture string) (*backend.BuildResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.BuildResults[project+"/"+repository+"/"+architecture]
	if !ok {
		return &backend.BuildResult{Repository: repository, Architecture: architecture, Code: "succeeded", Finished: true}, nil
	}
	c := *res
	return &c, nil
}
