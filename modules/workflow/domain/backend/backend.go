package backend

import (
	"context"

	"github.com/buildforge/requestd/pkg/serrors"
)

var (
	ErrDiff            = serrors.NewError("DIFF_ERROR", "backend diff failed", "")
	ErrSourceMissing   = serrors.NewError("SOURCE_MISSING", "source not present in backend", "")
	ErrBuildInProgress = serrors.NewError("BUILD_NOT_FINISHED", "build not finished", "")
)

type Entry struct {
	Name string
	MD5  string
	Size int64
}

// LinkInfo describes a package link; Project/Package point at the link
// target, BaseRev at the revision the link was expanded against.
type LinkInfo struct {
	Project string
	Package string
	Rev     string
	BaseRev string
}

type Directory struct {
	Rev     string
	SrcMD5  string
	Entries []Entry
	Link    *LinkInfo
}

type BinaryInfo struct {
	Name    string
	Version string
	Release string
}

type BuildResult struct {
	Repository   string
	Architecture string
	Code         string
	Finished     bool
	Binaries     []BinaryInfo
}

type CopyOptions struct {
	Rev      string
	KeepLink bool
	Expand   bool
	Comment  string
}

// Client is the source-repository backend collaborator. The workflow core
// never stores file content, only identifiers and revisions.
type Client interface {
	GetDirectory(ctx context.Context, project, pkg, rev string, expand bool) (*Directory, error)
	Diff(ctx context.Context, srcProject, srcPackage, srcRev, tgtProject, tgtPackage string) (string, error)
	Copy(ctx context.Context, srcProject, srcPackage, dstProject, dstPackage string, opts CopyOptions) error
	Branch(ctx context.Context, srcProject, srcPackage, dstProject, dstPackage string) error
	DestroyPackage(ctx context.Context, project, pkg string) error
	DestroyProject(ctx context.Context, project string) error
	GetBuildResult(ctx context.Context, project, repository, architecture string) (*BuildResult, error)
}
