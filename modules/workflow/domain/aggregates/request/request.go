package request

import (
	"fmt"
	"time"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/pkg/serrors"
)

type State string

const (
	StateNew        State = "new"
	StateReview     State = "review"
	StateAccepted   State = "accepted"
	StateDeclined   State = "declined"
	StateRevoked    State = "revoked"
	StateSuperseded State = "superseded"
	StateDeleted    State = "deleted"
)

func (s State) Valid() bool {
	switch s {
	case StateNew, StateReview, StateAccepted, StateDeclined, StateRevoked, StateSuperseded, StateDeleted:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateDeclined, StateRevoked, StateSuperseded, StateDeleted:
		return true
	}
	return false
}

const CodeInvalidTransition = "INVALID_TRANSITION"

func NewInvalidTransition(from, to State) error {
	return serrors.NewError(CodeInvalidTransition,
		fmt.Sprintf("request cannot move from %s to %s", from, to), "")
}

// Request is the aggregate root: an ordered set of declared actions plus the
// reviews gating them, moving through one shared state machine.
type Request struct {
	ID           int64
	Creator      string
	Description  string
	State        State
	SupersededBy int64
	Comment      string
	CommentedBy  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	AcceptedAt   *time.Time

	Actions []*action.Record
	Reviews []*Review
}

// New builds a fresh request in state new; the service seeds reviews and
// flips it to review afterwards.
func New(creator, description string, actions []*action.Record, now time.Time) *Request {
	return &Request{
		Creator:     creator,
		Description: description,
		State:       StateNew,
		CreatedAt:   now,
		UpdatedAt:   now,
		Actions:     actions,
	}
}

func (r *Request) review(id int64) *Review {
	for _, rv := range r.Reviews {
		if rv.ID == id {
			return rv
		}
	}
	return nil
}

// FindReview returns the first review matching ref that is not itself
// superseded by reassignment.
func (r *Request) FindReview(ref ReviewRef) *Review {
	for _, rv := range r.Reviews {
		if rv.Ref.Equal(ref) {
			return rv
		}
	}
	return nil
}

// HasOpenReviews reports whether any review still resolves to state new,
// following assignment chains.
func (r *Request) HasOpenReviews() (bool, error) {
	for _, rv := range r.Reviews {
		res, err := rv.Resolution(r.review)
		if err != nil {
			return false, err
		}
		if res.Open() {
			return true, nil
		}
	}
	return false, nil
}

// AddReview appends a review and moves the request into review state when it
// is currently new.
func (r *Request) AddReview(ref ReviewRef, commentedBy, comment string, now time.Time) (*Review, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if r.State != StateNew && r.State != StateReview {
		return nil, NewInvalidTransition(r.State, StateReview)
	}
	rv := &Review{
		ID:          r.nextReviewID(),
		Ref:         ref,
		State:       ReviewStateNew,
		Comment:     comment,
		CommentedBy: commentedBy,
		CreatedAt:   now,
	}
	r.Reviews = append(r.Reviews, rv)
	if r.State == StateNew {
		r.State = StateReview
	}
	r.UpdatedAt = now
	return rv, nil
}

// SetReviewState applies one review transition and recomputes the
// request-level aggregate immediately.
func (r *Request) SetReviewState(ref ReviewRef, to ReviewState, commentedBy, comment string, now time.Time) error {
	rv := r.FindReview(ref)
	if rv == nil {
		return serrors.NewError(CodeInvalidReview, "no review by "+ref.String(), "")
	}
	res, err := rv.Resolution(r.review)
	if err != nil {
		return err
	}
	if !res.canTransition(to) {
		return serrors.NewError(CodeInvalidReview,
			fmt.Sprintf("review by %s cannot move from %s to %s", ref.String(), res.State, to), "")
	}
	res.State = to
	res.Comment = comment
	res.CommentedBy = commentedBy
	if to == ReviewStateNew {
		res.ResolvedAt = nil
	} else {
		t := now
		res.ResolvedAt = &t
	}
	r.UpdatedAt = now
	return r.RecomputeReviewState(now)
}

// AssignReview delegates an open review to a different reviewer entity by
// appending the assignee review and linking the original to it. Assigning a
// review back onto a reviewer already in its chain is refused.
func (r *Request) AssignReview(ref ReviewRef, to ReviewRef, commentedBy string, now time.Time) error {
	if err := to.Validate(); err != nil {
		return err
	}
	rv := r.FindReview(ref)
	if rv == nil {
		return serrors.NewError(CodeInvalidReview, "no review by "+ref.String(), "")
	}
	res, err := rv.Resolution(r.review)
	if err != nil {
		return err
	}
	if !res.Open() {
		return serrors.NewError(CodeInvalidReview,
			"review by "+ref.String()+" is already resolved", "")
	}
	if rv.Ref.Equal(to) {
		return serrors.NewError(CodeReviewCycle,
			"review by "+ref.String()+" cannot be assigned to itself", "")
	}
	for cur := rv; cur != nil; cur = r.review(cur.AssignedToID) {
		if cur.Ref.Equal(to) {
			return serrors.NewError(CodeReviewCycle,
				"assignment of "+ref.String()+" to "+to.String()+" closes a loop", "")
		}
		if cur.AssignedToID == 0 {
			break
		}
	}

	assignee := &Review{
		ID:          r.nextReviewID(),
		Ref:         to,
		State:       ReviewStateNew,
		CommentedBy: commentedBy,
		CreatedAt:   now,
	}
	r.Reviews = append(r.Reviews, assignee)
	res.AssignedToID = assignee.ID
	r.UpdatedAt = now
	return nil
}

// nextReviewID hands out aggregate-local review ids for reviews created
// before the repository assigns persistent ones.
func (r *Request) nextReviewID() int64 {
	var max int64
	for _, rv := range r.Reviews {
		if rv.ID > max {
			max = rv.ID
		}
	}
	return max + 1
}

// RecomputeReviewState applies the aggregation law eagerly: in review with no
// open reviews left means new; in new with a review reopened means review.
func (r *Request) RecomputeReviewState(now time.Time) error {
	open, err := r.HasOpenReviews()
	if err != nil {
		return err
	}
	switch {
	case r.State == StateReview && !open:
		r.State = StateNew
		r.UpdatedAt = now
	case r.State == StateNew && open:
		r.State = StateReview
		r.UpdatedAt = now
	}
	return nil
}

// CanTransition checks the structural transition table; permission guards are
// the caller's concern. Force bypasses pending reviews for acceptance.
func (r *Request) CanTransition(to State, force bool) error {
	from := r.State
	if from.Terminal() && to.Terminal() {
		return NewInvalidTransition(from, to)
	}
	switch to {
	case StateAccepted:
		if from == StateNew {
			return nil
		}
		if from == StateReview && force {
			return nil
		}
	case StateDeclined:
		if from == StateNew || from == StateReview {
			return nil
		}
	case StateRevoked:
		if !from.Terminal() {
			return nil
		}
	case StateSuperseded:
		if !from.Terminal() {
			return nil
		}
	case StateDeleted:
		return nil
	case StateNew, StateReview:
		// Reopening declined/revoked, or review churn.
		if from == StateDeclined || from == StateRevoked || from == StateNew || from == StateReview {
			return nil
		}
	}
	return NewInvalidTransition(from, to)
}

// Transition moves the request after CanTransition has passed, stamping the
// audit fields.
func (r *Request) Transition(to State, commentedBy, comment string, now time.Time) {
	r.State = to
	r.Comment = comment
	r.CommentedBy = commentedBy
	r.UpdatedAt = now
	if to == StateAccepted {
		t := now
		r.AcceptedAt = &t
	}
}
