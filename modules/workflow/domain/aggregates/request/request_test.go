package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/pkg/serrors"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newRequest() *Request {
	return New("adrian", "update libfoo", nil, t0)
}

func TestStateTerminal(t *testing.T) {
	require.False(t, StateNew.Terminal())
	require.False(t, StateReview.Terminal())
	require.True(t, StateAccepted.Terminal())
	require.True(t, StateDeclined.Terminal())
	require.True(t, StateRevoked.Terminal())
	require.True(t, StateSuperseded.Terminal())
	require.True(t, StateDeleted.Terminal())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from  State
		to    State
		force bool
		ok    bool
	}{
		{StateNew, StateAccepted, false, true},
		{StateReview, StateAccepted, false, false},
		{StateReview, StateAccepted, true, true},
		{StateNew, StateDeclined, false, true},
		{StateReview, StateDeclined, false, true},
		{StateNew, StateRevoked, false, true},
		{StateReview, StateSuperseded, false, true},
		{StateDeclined, StateNew, false, true},
		{StateRevoked, StateReview, false, true},
		{StateAccepted, StateNew, false, false},
		{StateAccepted, StateRevoked, false, false},
		{StateDeclined, StateAccepted, false, false},
		{StateSuperseded, StateDeclined, false, false},
		{StateNew, StateDeleted, false, true},
		{StateAccepted, StateDeleted, false, false},
	}
	for _, tc := range cases {
		r := newRequest()
		r.State = tc.from
		err := r.CanTransition(tc.to, tc.force)
		if tc.ok {
			require.NoError(t, err, "%s -> %s force=%v", tc.from, tc.to, tc.force)
		} else {
			require.Error(t, err, "%s -> %s force=%v", tc.from, tc.to, tc.force)
			require.True(t, serrors.IsCode(err, CodeInvalidTransition))
		}
	}
}

func TestTransitionStampsAcceptedAt(t *testing.T) {
	r := newRequest()
	r.Transition(StateAccepted, "maxi", "ship it", t0.Add(time.Hour))
	require.Equal(t, StateAccepted, r.State)
	require.Equal(t, "maxi", r.CommentedBy)
	require.Equal(t, "ship it", r.Comment)
	require.NotNil(t, r.AcceptedAt)
	require.Equal(t, t0.Add(time.Hour), *r.AcceptedAt)
}

func TestReviewRefValidate(t *testing.T) {
	require.NoError(t, ReviewRef{ByUser: "adrian"}.Validate())
	require.NoError(t, ReviewRef{ByGroup: "factory-staging"}.Validate())
	require.NoError(t, ReviewRef{ByProject: "devel:tools"}.Validate())
	require.NoError(t, ReviewRef{ByProject: "devel:tools", ByPackage: "osc"}.Validate())

	require.Error(t, ReviewRef{}.Validate())
	require.Error(t, ReviewRef{ByUser: "adrian", ByGroup: "factory-staging"}.Validate())
	require.Error(t, ReviewRef{ByPackage: "osc"}.Validate())
}

func TestAddReviewFlipsToReview(t *testing.T) {
	r := newRequest()
	rv, err := r.AddReview(ReviewRef{ByGroup: "legal"}, "adrian", "", t0)
	require.NoError(t, err)
	require.Equal(t, int64(1), rv.ID)
	require.Equal(t, StateReview, r.State)

	rv2, err := r.AddReview(ReviewRef{ByUser: "maxi"}, "adrian", "", t0)
	require.NoError(t, err)
	require.Equal(t, int64(2), rv2.ID)
}

func TestAddReviewOnTerminalRequest(t *testing.T) {
	r := newRequest()
	r.State = StateAccepted
	_, err := r.AddReview(ReviewRef{ByUser: "maxi"}, "adrian", "", t0)
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeInvalidTransition))
}

func TestReviewAggregation(t *testing.T) {
	r := newRequest()
	legal := ReviewRef{ByGroup: "legal"}
	maxi := ReviewRef{ByUser: "maxi"}
	_, err := r.AddReview(legal, "adrian", "", t0)
	require.NoError(t, err)
	_, err = r.AddReview(maxi, "adrian", "", t0)
	require.NoError(t, err)
	require.Equal(t, StateReview, r.State)

	// One of two accepted keeps the request in review.
	require.NoError(t, r.SetReviewState(legal, ReviewStateAccepted, "lawyer", "ok", t0))
	require.Equal(t, StateReview, r.State)

	// The last open review resolving returns the request to new.
	require.NoError(t, r.SetReviewState(maxi, ReviewStateAccepted, "maxi", "", t0))
	require.Equal(t, StateNew, r.State)
	require.NotNil(t, r.FindReview(maxi).ResolvedAt)

	// Reopening a review pulls the request back into review.
	require.NoError(t, r.SetReviewState(maxi, ReviewStateNew, "maxi", "second look", t0))
	require.Equal(t, StateReview, r.State)
	require.Nil(t, r.FindReview(maxi).ResolvedAt)
}

func TestSetReviewStateUnknownRef(t *testing.T) {
	r := newRequest()
	err := r.SetReviewState(ReviewRef{ByUser: "nobody"}, ReviewStateAccepted, "nobody", "", t0)
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeInvalidReview))
}

func TestSetReviewStateInvalidTransition(t *testing.T) {
	r := newRequest()
	ref := ReviewRef{ByUser: "maxi"}
	_, err := r.AddReview(ref, "adrian", "", t0)
	require.NoError(t, err)
	require.NoError(t, r.SetReviewState(ref, ReviewStateSuperseded, "maxi", "", t0))

	// Superseded reviews stay superseded.
	err = r.SetReviewState(ref, ReviewStateAccepted, "maxi", "", t0)
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeInvalidReview))
}

func TestAssignReviewDelegates(t *testing.T) {
	r := newRequest()
	grp := ReviewRef{ByGroup: "factory-auto"}
	_, err := r.AddReview(grp, "adrian", "", t0)
	require.NoError(t, err)

	require.NoError(t, r.AssignReview(grp, ReviewRef{ByUser: "maxi"}, "dimstar", t0))
	require.Len(t, r.Reviews, 2)
	require.Equal(t, r.Reviews[1].ID, r.Reviews[0].AssignedToID)

	// Resolving through the original ref lands on the assignee review.
	require.NoError(t, r.SetReviewState(grp, ReviewStateAccepted, "maxi", "lgtm", t0))
	require.Equal(t, ReviewStateNew, r.Reviews[0].State)
	require.Equal(t, ReviewStateAccepted, r.Reviews[1].State)
	require.Equal(t, StateNew, r.State)
}

func TestAssignReviewRefusals(t *testing.T) {
	r := newRequest()
	grp := ReviewRef{ByGroup: "factory-auto"}
	_, err := r.AddReview(grp, "adrian", "", t0)
	require.NoError(t, err)

	// Self-assignment.
	err = r.AssignReview(grp, grp, "dimstar", t0)
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeReviewCycle))

	// Assigning to a reviewer already in the chain.
	require.NoError(t, r.AssignReview(grp, ReviewRef{ByUser: "maxi"}, "dimstar", t0))
	err = r.AssignReview(grp, ReviewRef{ByUser: "maxi"}, "dimstar", t0)
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeReviewCycle))

	// A resolved review cannot be reassigned.
	require.NoError(t, r.SetReviewState(grp, ReviewStateAccepted, "maxi", "", t0))
	err = r.AssignReview(grp, ReviewRef{ByUser: "coolo"}, "dimstar", t0)
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeInvalidReview))
}

func TestResolutionChainCycle(t *testing.T) {
	r := newRequest()
	r.State = StateReview
	r.Reviews = []*Review{
		{ID: 1, Ref: ReviewRef{ByUser: "a"}, State: ReviewStateNew, AssignedToID: 2},
		{ID: 2, Ref: ReviewRef{ByUser: "b"}, State: ReviewStateNew, AssignedToID: 1},
	}
	_, err := r.HasOpenReviews()
	require.Error(t, err)
	require.True(t, serrors.IsCode(err, CodeReviewCycle))
}

func TestRecomputeReviewState(t *testing.T) {
	r := newRequest()
	ref := ReviewRef{ByUser: "maxi"}
	_, err := r.AddReview(ref, "adrian", "", t0)
	require.NoError(t, err)
	r.Reviews[0].State = ReviewStateAccepted

	require.NoError(t, r.RecomputeReviewState(t0))
	require.Equal(t, StateNew, r.State)

	r.Reviews[0].State = ReviewStateNew
	require.NoError(t, r.RecomputeReviewState(t0))
	require.Equal(t, StateReview, r.State)
}
