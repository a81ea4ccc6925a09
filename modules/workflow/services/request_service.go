package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/pkg/composables"
	"github.com/buildforge/requestd/pkg/eventbus"
	"github.com/buildforge/requestd/pkg/metrics"
)

// TxRunner brackets one command in a transactional boundary. Production wiring
// uses composables.InTx; in-memory tests substitute a passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func PassthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type StateChangeOpts struct {
	Force        bool
	SupersededBy int64
	Comment      string
}

// RequestService owns the request lifecycle: creation, state transitions,
// review tracking and diffs. Every command runs inside exactly one
// transaction.
type RequestService struct {
	requests    request.Repository
	env         *action.Env
	perms       *PermissionService
	reviewers   *ReviewerService
	pipeline    action.MaintenancePipeline
	bus         eventbus.EventBus
	cache       *ForbiddenProjectsCache
	inTx        TxRunner
	diffTimeout time.Duration
	now         func() time.Time
}

type RequestServiceOptions struct {
	Requests    request.Repository
	Env         *action.Env
	Permissions *PermissionService
	Reviewers   *ReviewerService
	Pipeline    action.MaintenancePipeline
	Bus         eventbus.EventBus
	Cache       *ForbiddenProjectsCache
	Tx          TxRunner
	DiffTimeout time.Duration
	Now         func() time.Time
}

func NewRequestService(opts RequestServiceOptions) *RequestService {
	if opts.Tx == nil {
		opts.Tx = composables.InTx
	}
	if opts.DiffTimeout == 0 {
		opts.DiffTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &RequestService{
		requests:    opts.Requests,
		env:         opts.Env,
		perms:       opts.Permissions,
		reviewers:   opts.Reviewers,
		pipeline:    opts.Pipeline,
		bus:         opts.Bus,
		cache:       opts.Cache,
		inTx:        opts.Tx,
		diffTimeout: opts.DiffTimeout,
		now:         opts.Now,
	}
	// Actions look other requests up through the service itself.
	s.env.Requests = s
	return s
}

// StateOf implements action.RequestStateReader.
func (s *RequestService) StateOf(ctx context.Context, id int64) (string, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			return "", action.NewUnknownRequest(id)
		}
		return "", err
	}
	return string(r.State), nil
}

// HasOpenReviews implements action.RequestStateReader.
func (s *RequestService) HasOpenReviews(ctx context.Context, id int64) (bool, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			return false, action.NewUnknownRequest(id)
		}
		return false, err
	}
	return r.HasOpenReviews()
}

// Create validates and expands the declared actions, runs the release
// admission check, seeds default reviews and persists the new request.
func (s *RequestService) Create(ctx context.Context, principal *user.User, records []*action.Record, description string) (*request.Request, error) {
	if len(records) == 0 {
		return nil, mapDomainError(action.NewMissingAction())
	}
	actions, err := action.FromRecords(records)
	if err != nil {
		return nil, mapDomainError(err)
	}

	var r *request.Request
	err = s.inTx(ctx, func(ctx context.Context) error {
		for _, act := range actions {
			if err := act.Validate(ctx, s.env); err != nil {
				return mapDomainError(err)
			}
		}

		var expanded []action.Action
		for _, act := range actions {
			out, err := act.Expand(ctx, s.env, action.ExpandOpts{})
			if err != nil {
				return mapDomainError(err)
			}
			expanded = append(expanded, out...)
		}

		if err := s.checkOpenReleaseRequests(ctx, expanded); err != nil {
			return err
		}

		refs, err := s.reviewers.DefaultReviewers(ctx, principal, expanded)
		if err != nil {
			return mapDomainError(err)
		}

		now := s.now()
		recs := make([]*action.Record, 0, len(expanded))
		for _, act := range expanded {
			recs = append(recs, act.Record())
		}
		r = request.New(principal.Login, description, recs, now)
		for _, ref := range refs {
			if _, err := r.AddReview(ref, principal.Login, "", now); err != nil {
				return mapDomainError(err)
			}
		}

		// A group request mirrors the review state of its members.
		if r.State == request.StateNew {
			pending, err := s.groupedReviewsPending(ctx, expanded)
			if err != nil {
				return err
			}
			if pending {
				r.State = request.StateReview
			}
		}

		if err := s.requests.Create(ctx, r); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RequestsCreated.Inc()
	if s.bus != nil {
		s.bus.Publish(RequestCreated{Request: r})
	}
	return r, nil
}

// checkOpenReleaseRequests refuses a second open release against a target
// already claimed by another request.
func (s *RequestService) checkOpenReleaseRequests(ctx context.Context, actions []action.Action) error {
	for _, act := range actions {
		if act.Kind() != action.KindMaintenanceRelease && act.Kind() != action.KindRelease {
			continue
		}
		rec := act.Record()
		open, err := s.requests.OpenRequestsWithTarget(ctx, request.TargetFilter{
			Project: rec.TargetProject,
			Package: rec.TargetPackage,
			Kind:    string(act.Kind()),
		})
		if err != nil {
			return mapPgErrorToServiceError(err)
		}
		if len(open) > 0 {
			return mapDomainError(action.NewOpenReleaseRequests(rec.TargetProject, rec.TargetPackage, open[0].ID))
		}
	}
	return nil
}

func (s *RequestService) groupedReviewsPending(ctx context.Context, actions []action.Action) (bool, error) {
	for _, act := range actions {
		grp, ok := act.(*action.Group)
		if !ok {
			continue
		}
		pending, err := grp.PendingReviews(ctx, s.env)
		if err != nil {
			return false, mapDomainError(err)
		}
		if pending {
			return true, nil
		}
	}
	return false, nil
}

// ChangeState applies one request-level transition with all its guards; on
// acceptance every action is permission-checked and pre-checked before any
// side effect runs.
func (s *RequestService) ChangeState(ctx context.Context, principal *user.User, id int64, newstate request.State, opts StateChangeOpts) error {
	if !newstate.Valid() {
		return newServiceError(http.StatusUnprocessableEntity, request.CodeInvalidTransition,
			"unknown state "+string(newstate), nil)
	}

	var from request.State
	var relChanges []RelationshipChanged
	err := s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		from = r.State

		if newstate == request.StateAccepted && r.State == request.StateReview && !opts.Force {
			return newServiceError(http.StatusForbidden, "REVIEW_PENDING",
				"Request is in review state. Use force to ignore reviews.", nil)
		}
		if err := r.CanTransition(newstate, opts.Force); err != nil {
			return mapDomainError(err)
		}
		if err := s.checkTransitionPermission(ctx, principal, r, newstate); err != nil {
			return err
		}

		now := s.now()
		switch newstate {
		case request.StateAccepted:
			if err := s.executeAccept(ctx, principal, r, opts, now); err != nil {
				return err
			}
			for _, rec := range r.Actions {
				if rec.Kind == action.KindAddRole || rec.Kind == action.KindSetBugowner {
					relChanges = append(relChanges, RelationshipChanged{
						Project: rec.TargetProject,
						Package: rec.TargetPackage,
					})
				}
			}
		case request.StateSuperseded:
			if opts.SupersededBy == 0 {
				return newServiceError(http.StatusUnprocessableEntity, request.CodeInvalidTransition,
					"superseded requires the superseding request id", nil)
			}
			if _, err := s.get(ctx, opts.SupersededBy); err != nil {
				return err
			}
			r.SupersededBy = opts.SupersededBy
		}

		r.Transition(newstate, principal.Login, opts.Comment, now)
		if newstate == request.StateNew {
			// Reopening recomputes against still-open reviews.
			if err := r.RecomputeReviewState(now); err != nil {
				return mapDomainError(err)
			}
		}
		if err := s.requests.Update(ctx, r); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})

	metrics.RecordTransition(string(newstate), err)
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(RequestStateChanged{RequestID: id, From: from, To: newstate, By: principal.Login})
		for _, ev := range relChanges {
			s.bus.Publish(ev)
		}
	}
	return nil
}

// executeAccept runs the two-phase acceptance: first every action's
// permission and live precondition, then every action's side effect. The
// ordering keeps non-rollbackable backend calls behind all checks.
func (s *RequestService) executeAccept(ctx context.Context, principal *user.User, r *request.Request, opts StateChangeOpts, now time.Time) error {
	actions, err := action.FromRecords(r.Actions)
	if err != nil {
		return mapDomainError(err)
	}
	for _, act := range actions {
		if err := act.CheckAcceptPermission(ctx, s.env, s.perms, principal); err != nil {
			return mapDomainError(err)
		}
	}
	for _, act := range actions {
		if err := act.CheckAcceptPrecondition(ctx, s.env); err != nil {
			return mapDomainError(err)
		}
	}

	acceptOpts := action.AcceptOpts{Time: now, Comment: opts.Comment, Pipeline: s.pipeline}
	for _, act := range actions {
		err := act.ExecuteAccept(ctx, s.env, acceptOpts)
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ActionExecutions.WithLabelValues(string(act.Kind()), outcome).Inc()
		if err != nil {
			return mapDomainError(err)
		}
	}
	return nil
}

// checkTransitionPermission applies the per-target-state permission rules.
func (s *RequestService) checkTransitionPermission(ctx context.Context, principal *user.User, r *request.Request, to request.State) error {
	if principal.Admin {
		return nil
	}
	switch to {
	case request.StateAccepted, request.StateDeclined:
		return s.requireTargetWrite(ctx, principal, r)
	case request.StateRevoked:
		if principal.Login == r.Creator {
			return nil
		}
		return s.requireSourceWrite(ctx, principal, r)
	case request.StateSuperseded:
		if principal.Login == r.Creator {
			return nil
		}
		return s.requireTargetWrite(ctx, principal, r)
	case request.StateDeleted:
		return newServiceError(http.StatusForbidden, "FORBIDDEN", "only admins may delete requests", nil)
	case request.StateNew, request.StateReview:
		switch r.State {
		case request.StateRevoked:
			if principal.Login == r.Creator {
				return nil
			}
			return s.requireSourceWrite(ctx, principal, r)
		case request.StateDeclined:
			// The creator and the prior decliner may reopen.
			if principal.Login == r.Creator || principal.Login == r.CommentedBy {
				return nil
			}
			return s.requireTargetWrite(ctx, principal, r)
		}
	}
	return nil
}

func (s *RequestService) requireTargetWrite(ctx context.Context, principal *user.User, r *request.Request) error {
	actions, err := action.FromRecords(r.Actions)
	if err != nil {
		return mapDomainError(err)
	}
	for _, act := range actions {
		if err := act.CheckAcceptPermission(ctx, s.env, s.perms, principal); err != nil {
			return mapDomainError(err)
		}
	}
	return nil
}

func (s *RequestService) requireSourceWrite(ctx context.Context, principal *user.User, r *request.Request) error {
	for _, rec := range r.Actions {
		if rec.SourceProject == "" {
			continue
		}
		if rec.SourcePackage != "" {
			pkg, err := s.env.Targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage)
			if err == nil {
				ok, perr := s.perms.CanModifyPackage(ctx, principal, pkg, false)
				if perr != nil {
					return perr
				}
				if ok {
					continue
				}
			}
		} else {
			prj, err := s.env.Targets.GetProject(ctx, rec.SourceProject)
			if err == nil {
				ok, perr := s.perms.CanModifyProject(ctx, principal, prj, false)
				if perr != nil {
					return perr
				}
				if ok {
					continue
				}
			}
		}
		return mapDomainError(action.NewLackingMaintainership(rec.SourceProject, rec.SourcePackage))
	}
	return nil
}

// AddReview attaches a new required review; the reviewer reference must
// resolve at creation time.
func (s *RequestService) AddReview(ctx context.Context, principal *user.User, id int64, ref request.ReviewRef, comment string) error {
	if err := ref.Validate(); err != nil {
		return mapDomainError(err)
	}

	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.resolveReviewRef(ctx, ref); err != nil {
			return mapDomainError(err)
		}
		r, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := r.AddReview(ref, principal.Login, comment, s.now()); err != nil {
			return mapDomainError(err)
		}
		if err := s.requests.Update(ctx, r); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ReviewChanges.WithLabelValues(string(request.ReviewStateNew)).Inc()
	if s.bus != nil {
		s.bus.Publish(ReviewChanged{RequestID: id, Ref: ref, State: request.ReviewStateNew, By: principal.Login})
	}
	return nil
}

// ChangeReviewState transitions one review; the request-level aggregate is
// recomputed eagerly in the same transaction.
func (s *RequestService) ChangeReviewState(ctx context.Context, principal *user.User, id int64, ref request.ReviewRef, newstate request.ReviewState, comment string) error {
	err := s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkReviewPermission(ctx, principal, ref); err != nil {
			return err
		}
		if err := r.SetReviewState(ref, newstate, principal.Login, comment, s.now()); err != nil {
			return mapDomainError(err)
		}
		if err := s.requests.Update(ctx, r); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ReviewChanges.WithLabelValues(string(newstate)).Inc()
	if s.bus != nil {
		s.bus.Publish(ReviewChanged{RequestID: id, Ref: ref, State: newstate, By: principal.Login})
	}
	return nil
}

// AssignReview delegates an open review to another reviewer entity.
func (s *RequestService) AssignReview(ctx context.Context, principal *user.User, id int64, ref, to request.ReviewRef) error {
	return s.inTx(ctx, func(ctx context.Context) error {
		if err := s.resolveReviewRef(ctx, to); err != nil {
			return mapDomainError(err)
		}
		r, err := s.get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.checkReviewPermission(ctx, principal, ref); err != nil {
			return err
		}
		if err := r.AssignReview(ref, to, principal.Login, s.now()); err != nil {
			return mapDomainError(err)
		}
		if err := s.requests.Update(ctx, r); err != nil {
			return mapPgErrorToServiceError(err)
		}
		return nil
	})
}

// checkReviewPermission admits the principal class matching the reviewer
// reference: the named user, a group member, or anyone with modify rights on
// the named project/package.
func (s *RequestService) checkReviewPermission(ctx context.Context, principal *user.User, ref request.ReviewRef) error {
	if principal.Admin {
		return nil
	}
	forbidden := newServiceError(http.StatusForbidden, "FORBIDDEN",
		"not allowed to change the review by "+ref.String(), nil)
	switch {
	case ref.ByUser != "":
		if principal.Login != ref.ByUser {
			return forbidden
		}
	case ref.ByGroup != "":
		grp, err := s.env.Users.GetGroup(ctx, ref.ByGroup)
		if err != nil {
			return mapDomainError(err)
		}
		if !grp.Contains(principal.Login) {
			return forbidden
		}
	case ref.ByPackage != "":
		pkg, err := s.env.Targets.GetPackage(ctx, ref.ByProject, ref.ByPackage)
		if err != nil {
			return mapDomainError(err)
		}
		ok, err := s.perms.CanModifyPackage(ctx, principal, pkg, false)
		if err != nil {
			return err
		}
		if !ok {
			return forbidden
		}
	default:
		prj, err := s.env.Targets.GetProject(ctx, ref.ByProject)
		if err != nil {
			return mapDomainError(err)
		}
		ok, err := s.perms.CanModifyProject(ctx, principal, prj, false)
		if err != nil {
			return err
		}
		if !ok {
			return forbidden
		}
	}
	return nil
}

func (s *RequestService) resolveReviewRef(ctx context.Context, ref request.ReviewRef) error {
	switch {
	case ref.ByUser != "":
		_, err := s.env.Users.GetUser(ctx, ref.ByUser)
		return err
	case ref.ByGroup != "":
		_, err := s.env.Users.GetGroup(ctx, ref.ByGroup)
		return err
	case ref.ByPackage != "":
		_, err := s.env.Targets.GetPackage(ctx, ref.ByProject, ref.ByPackage)
		if errors.Is(err, target.ErrPackageNotFound) {
			return action.NewUnknownPackage(ref.ByProject, ref.ByPackage)
		}
		return err
	default:
		_, err := s.env.Targets.GetProject(ctx, ref.ByProject)
		if errors.Is(err, target.ErrProjectNotFound) {
			return action.NewUnknownProject(ref.ByProject)
		}
		return err
	}
}

// Diff concatenates the per-action source diffs with a bounded backend
// timeout; read protection runs before any backend call.
func (s *RequestService) Diff(ctx context.Context, principal *user.User, id int64) (string, error) {
	r, err := s.Get(ctx, principal, id)
	if err != nil {
		return "", err
	}

	for _, rec := range r.Actions {
		if rec.SourceProject == "" {
			continue
		}
		prj, err := s.env.Targets.GetProject(ctx, rec.SourceProject)
		if err != nil {
			continue
		}
		ok, err := s.perms.CanSourceAccess(ctx, principal, prj)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", newServiceError(http.StatusNotFound, "UNKNOWN_REQUEST", "request not found", nil)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.diffTimeout)
	defer cancel()

	var sb strings.Builder
	for _, rec := range r.Actions {
		if rec.SourceProject == "" || rec.SourcePackage == "" {
			continue
		}
		diff, err := s.env.Backend.Diff(ctx, rec.SourceProject, rec.SourcePackage, rec.SourceRev, rec.TargetProject, rec.TargetPackage)
		if err != nil {
			metrics.BackendCalls.WithLabelValues("diff", "error").Inc()
			return "", newServiceError(http.StatusBadGateway, action.CodeDiffError,
				"diff against the source backend failed", err)
		}
		metrics.BackendCalls.WithLabelValues("diff", "ok").Inc()
		sb.WriteString(diff)
	}
	return sb.String(), nil
}

// Get loads a request with the access-flag read protection applied first;
// unauthorized callers cannot tell a protected request from a missing one.
func (s *RequestService) Get(ctx context.Context, principal *user.User, id int64) (*request.Request, error) {
	r, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, rec := range r.Actions {
		for _, name := range []string{rec.TargetProject, rec.SourceProject} {
			if name == "" {
				continue
			}
			ok, err := s.canReadProject(ctx, principal, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, newServiceError(http.StatusNotFound, "UNKNOWN_REQUEST", "request not found", nil)
			}
		}
	}
	return r, nil
}

// canReadProject answers the access-flag read-protection question for one
// project, going through the redis cache when one is wired. Cache errors fall
// back to the evaluator; projects the request references but which no longer
// exist are readable.
func (s *RequestService) canReadProject(ctx context.Context, principal *user.User, name string) (bool, error) {
	if s.cache != nil && principal != nil && !principal.Admin {
		forbidden, err := s.cache.Forbidden(ctx, name, principal.Login)
		if err == nil {
			return !forbidden, nil
		}
	}
	prj, err := s.env.Targets.GetProject(ctx, name)
	if err != nil {
		return true, nil
	}
	return s.perms.CanRead(ctx, principal, prj)
}

func (s *RequestService) get(ctx context.Context, id int64) (*request.Request, error) {
	r, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, request.ErrNotFound) {
			return nil, newServiceError(http.StatusNotFound, "UNKNOWN_REQUEST", "request not found", err)
		}
		return nil, mapPgErrorToServiceError(err)
	}
	return r, nil
}
