package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/pkg/serrors"
)

type ServiceError struct {
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func newServiceError(status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Status: status, Code: code, Message: message, Cause: cause}
}

// mapDomainError lifts a typed domain error into a ServiceError with the
// status class its kind belongs to. Unknown errors pass through untouched so
// pg mapping can still apply.
func mapDomainError(err error) error {
	if err == nil {
		return nil
	}
	var base *serrors.BaseError
	if !errors.As(err, &base) {
		return err
	}

	status := 0
	switch base.Code {
	case action.CodeUnknownProject, action.CodeUnknownPackage, action.CodeUnknownTargetPackage,
		action.CodeUnknownRole, action.CodeUnknownRequest, "UNKNOWN_REPOSITORY",
		"UNKNOWN_USER", "UNKNOWN_GROUP":
		status = http.StatusNotFound
	case action.CodeLackingMaintainership:
		status = http.StatusForbidden
	case action.CodeRequestRejected, action.CodeSourceChanged, action.CodeOpenReleaseRequests,
		action.CodeCycleDetected, action.CodeOutsideLimitRelease, action.CodeDeleteError,
		action.CodeBuildNotFinished, action.CodeWrongLinkedPackageSource,
		request.CodeReviewCycle, CodeUnderEmbargo:
		status = http.StatusConflict
	case action.CodeInvalidAction, action.CodeMissingAction, action.CodeMissingPatchinfo,
		action.CodeVersionReleaseDiffers, action.CodeRepoWithoutReleaseTarget,
		action.CodeRepoWithoutArchitecture,
		request.CodeInvalidReview, request.CodeInvalidTransition:
		status = http.StatusUnprocessableEntity
	case action.CodeDiffError:
		status = http.StatusBadGateway
	default:
		return err
	}
	return newServiceError(status, base.Code, base.Message, err)
}
