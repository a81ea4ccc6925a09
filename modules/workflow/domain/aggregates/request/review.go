package request

import (
	"fmt"
	"time"

	"github.com/buildforge/requestd/pkg/serrors"
)

type ReviewState string

const (
	ReviewStateNew        ReviewState = "new"
	ReviewStateAccepted   ReviewState = "accepted"
	ReviewStateDeclined   ReviewState = "declined"
	ReviewStateSuperseded ReviewState = "superseded"
)

const (
	CodeInvalidReview = "INVALID_REVIEW"
	CodeReviewCycle   = "REVIEW_ASSIGNMENT_CYCLE"
)

// ReviewRef names the entity a review is requested from: exactly one of
// user, group, or project (optionally narrowed to a package).
type ReviewRef struct {
	ByUser    string
	ByGroup   string
	ByProject string
	ByPackage string
}

func (r ReviewRef) Validate() error {
	set := 0
	if r.ByUser != "" {
		set++
	}
	if r.ByGroup != "" {
		set++
	}
	if r.ByProject != "" {
		set++
	}
	if set != 1 {
		return serrors.NewError(CodeInvalidReview,
			"review must name exactly one of user, group or project", "")
	}
	if r.ByPackage != "" && r.ByProject == "" {
		return serrors.NewError(CodeInvalidReview,
			"review by package requires its project", "")
	}
	return nil
}

func (r ReviewRef) Equal(other ReviewRef) bool { return r == other }

func (r ReviewRef) String() string {
	switch {
	case r.ByUser != "":
		return "user:" + r.ByUser
	case r.ByGroup != "":
		return "group:" + r.ByGroup
	case r.ByPackage != "":
		return "package:" + r.ByProject + "/" + r.ByPackage
	default:
		return "project:" + r.ByProject
	}
}

// Review is one required sign-off on a request. A review may be reassigned;
// AssignedToID then points at the replacement review whose terminal state the
// original reports as its own resolution.
type Review struct {
	ID           int64
	Ref          ReviewRef
	State        ReviewState
	Comment      string
	CommentedBy  string
	AssignedToID int64
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func (rv *Review) Open() bool { return rv.State == ReviewStateNew }

// canTransition covers the per-review state machine: new reaches any terminal
// state, accepted/declined may reopen to new.
func (rv *Review) canTransition(to ReviewState) bool {
	switch rv.State {
	case ReviewStateNew:
		return to == ReviewStateAccepted || to == ReviewStateDeclined || to == ReviewStateSuperseded
	case ReviewStateAccepted, ReviewStateDeclined:
		return to == ReviewStateNew
	default:
		return false
	}
}

// Resolution follows the assignment chain to the review whose state counts,
// refusing assignment loops.
func (rv *Review) Resolution(lookup func(id int64) *Review) (*Review, error) {
	cur := rv
	visited := map[int64]bool{}
	for cur.AssignedToID != 0 {
		if visited[cur.ID] {
			return nil, serrors.NewError(CodeReviewCycle,
				fmt.Sprintf("review %d is part of an assignment cycle", rv.ID), "")
		}
		visited[cur.ID] = true
		next := lookup(cur.AssignedToID)
		if next == nil {
			return cur, nil
		}
		cur = next
	}
	return cur, nil
}
