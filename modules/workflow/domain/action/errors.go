package action

import (
	"fmt"

	"github.com/buildforge/requestd/pkg/serrors"
)

// Stable machine-readable kinds surfaced by action validation, expansion and
// execution. Callers must branch on the code, never on message text.
const (
	CodeUnknownProject           = "UNKNOWN_PROJECT"
	CodeUnknownPackage           = "UNKNOWN_PACKAGE"
	CodeUnknownTargetPackage     = "UNKNOWN_TARGET_PACKAGE"
	CodeUnknownRole              = "UNKNOWN_ROLE"
	CodeUnknownRequest           = "UNKNOWN_REQUEST"
	CodeRequestRejected          = "REQUEST_REJECTED"
	CodeBuildNotFinished         = "BUILD_NOT_FINISHED"
	CodeSourceChanged            = "SOURCE_CHANGED"
	CodeWrongLinkedPackageSource = "WRONG_LINKED_PACKAGE_SOURCE"
	CodeMissingPatchinfo         = "MISSING_PATCHINFO"
	CodeVersionReleaseDiffers    = "VERSION_RELEASE_DIFFERS"
	CodeRepoWithoutReleaseTarget = "REPOSITORY_WITHOUT_RELEASE_TARGET"
	CodeRepoWithoutArchitecture  = "REPOSITORY_WITHOUT_ARCHITECTURE"
	CodeLackingMaintainership    = "LACKING_MAINTAINERSHIP"
	CodeDeleteError              = "DELETE_ERROR"
	CodeOpenReleaseRequests      = "OPEN_RELEASE_REQUESTS"
	CodeCycleDetected            = "CYCLE_DETECTED"
	CodeOutsideLimitRelease      = "OUTSIDE_LIMIT_RELEASE_SOURCE_PROJECT"
	CodeInvalidAction            = "INVALID_ACTION"
	CodeMissingAction            = "MISSING_ACTION"
	CodeDiffError                = "DIFF_ERROR"
)

func NewUnknownProject(name string) error {
	return serrors.NewError(CodeUnknownProject, fmt.Sprintf("unknown project %q", name), "")
}

func NewUnknownPackage(project, pkg string) error {
	return serrors.NewError(CodeUnknownPackage, fmt.Sprintf("unknown package %q in project %q", pkg, project), "")
}

func NewUnknownTargetPackage(project, pkg string) error {
	return serrors.NewError(CodeUnknownTargetPackage, fmt.Sprintf("target package %q does not exist in project %q", pkg, project), "")
}

func NewUnknownRole(role string) error {
	return serrors.NewError(CodeUnknownRole, fmt.Sprintf("unknown role %q", role), "")
}

func NewUnknownRequest(id int64) error {
	return serrors.NewError(CodeUnknownRequest, fmt.Sprintf("unknown request %d", id), "")
}

func NewRequestRejected(project, reason string) error {
	return serrors.NewError(CodeRequestRejected, fmt.Sprintf("project %q rejects requests: %s", project, reason), "")
}

func NewBuildNotFinished(project, repository, architecture string) error {
	return serrors.NewError(CodeBuildNotFinished,
		fmt.Sprintf("build of %s/%s/%s is not finished", project, repository, architecture), "")
}

func NewSourceChanged(project, pkg, pinned, current string) error {
	return serrors.NewError(CodeSourceChanged,
		fmt.Sprintf("source of %s/%s changed since revision %s (now %s)", project, pkg, pinned, current), "")
}

func NewWrongLinkedPackageSource(project, pkg string) error {
	return serrors.NewError(CodeWrongLinkedPackageSource,
		fmt.Sprintf("package %s/%s links outside of the allowed source", project, pkg), "")
}

func NewMissingPatchinfo(project string) error {
	return serrors.NewError(CodeMissingPatchinfo, fmt.Sprintf("incident %q carries no patchinfo", project), "")
}

func NewVersionReleaseDiffers(project, pkg string) error {
	return serrors.NewError(CodeVersionReleaseDiffers,
		fmt.Sprintf("version-release of %s/%s differs between architectures", project, pkg), "")
}

func NewRepositoryWithoutReleaseTarget(project, repository string) error {
	return serrors.NewError(CodeRepoWithoutReleaseTarget,
		fmt.Sprintf("repository %s/%s has no release target", project, repository), "")
}

func NewRepositoryWithoutArchitecture(project, repository, architecture string) error {
	return serrors.NewError(CodeRepoWithoutArchitecture,
		fmt.Sprintf("release target %s/%s misses architecture %s", project, repository, architecture), "")
}

func NewLackingMaintainership(project, pkg string) error {
	target := project
	if pkg != "" {
		target = project + "/" + pkg
	}
	return serrors.NewError(CodeLackingMaintainership,
		fmt.Sprintf("source update requires maintainership on %s", target), "")
}

func NewDeleteError(project, pkg string, blocking []string) error {
	return serrors.NewError(CodeDeleteError,
		fmt.Sprintf("%s/%s is the devel package of %v and cannot be deleted", project, pkg, blocking), "")
}

func NewOpenReleaseRequests(project, pkg string, openID int64) error {
	return serrors.NewError(CodeOpenReleaseRequests,
		fmt.Sprintf("request %d already releases to %s/%s", openID, project, pkg), "")
}

func NewCycleDetected(path []string) error {
	return serrors.NewError(CodeCycleDetected, fmt.Sprintf("devel cycle detected: %v", path), "")
}

func NewOutsideLimitRelease(target, source string) error {
	return serrors.NewError(CodeOutsideLimitRelease,
		fmt.Sprintf("project %q only accepts releases from %q", target, source), "")
}

func NewInvalidAction(msg string) error {
	return serrors.NewError(CodeInvalidAction, msg, "")
}

func NewMissingAction() error {
	return serrors.NewError(CodeMissingAction, "request contains no actual changes against the target", "")
}
