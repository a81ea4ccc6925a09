package services

import (
	"context"
	"errors"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
	"github.com/buildforge/requestd/modules/workflow/permissions"
)

// ReviewerService computes the default review set seeded at request creation.
type ReviewerService struct {
	targets       target.Repository
	relationships relationship.Repository
	users         user.Repository
	perms         *PermissionService
}

func NewReviewerService(
	targets target.Repository,
	relationships relationship.Repository,
	users user.Repository,
	perms *PermissionService,
) *ReviewerService {
	return &ReviewerService{
		targets:       targets,
		relationships: relationships,
		users:         users,
		perms:         perms,
	}
}

// DefaultReviewers resolves the review refs for one request's actions,
// deduplicated across actions. A sourceupdate option requested without
// maintainership on the source fails hard with LackingMaintainership instead
// of escalating to a review.
func (s *ReviewerService) DefaultReviewers(ctx context.Context, creator *user.User, actions []action.Action) ([]request.ReviewRef, error) {
	seen := map[request.ReviewRef]bool{}
	var out []request.ReviewRef
	add := func(refs ...request.ReviewRef) {
		for _, ref := range refs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}

	for _, act := range actions {
		rec := act.Record()
		switch act.Kind() {
		case action.KindSubmit, action.KindMaintenanceIncident:
			refs, err := s.sourceReviewers(ctx, creator, rec)
			if err != nil {
				return nil, err
			}
			add(refs...)
		case action.KindChangeDevel:
			refs, err := s.develReviewers(ctx, creator, rec)
			if err != nil {
				return nil, err
			}
			add(refs...)
		case action.KindMaintenanceRelease:
			if err := s.checkReleaseTargetAccess(ctx, creator, rec); err != nil {
				return nil, err
			}
		}

		refs, err := s.targetReviewers(ctx, rec)
		if err != nil {
			return nil, err
		}
		add(refs...)
	}
	return out, nil
}

// sourceReviewers adds the source maintainers when the creator is not one of
// them and no ApprovedRequestSource attribute waives the review.
func (s *ReviewerService) sourceReviewers(ctx context.Context, creator *user.User, rec *action.Record) ([]request.ReviewRef, error) {
	if rec.SourceProject == "" {
		return nil, nil
	}
	isMaintainer, err := s.perms.hasRole(ctx, creator, rec.SourceProject, rec.SourcePackage, permissions.RoleMaintainer)
	if err != nil {
		return nil, err
	}
	if rec.SourceUpdate != action.SourceUpdateNone || rec.UpdateLink {
		if !isMaintainer && !creator.Admin {
			return nil, action.NewLackingMaintainership(rec.SourceProject, rec.SourcePackage)
		}
	}
	if isMaintainer || creator.Admin {
		return nil, nil
	}
	if waived, err := s.approvedRequestSource(ctx, rec.SourceProject, rec.SourcePackage); err != nil {
		return nil, err
	} else if waived {
		return nil, nil
	}
	return s.roleHolders(ctx, rec.SourceProject, rec.SourcePackage, permissions.RoleMaintainer)
}

func (s *ReviewerService) approvedRequestSource(ctx context.Context, project, pkg string) (bool, error) {
	if pkg != "" {
		p, err := s.targets.GetPackage(ctx, project, pkg)
		if err == nil {
			if _, ok := p.Attribute(target.AttrApprovedRequestSource); ok {
				return true, nil
			}
		} else if !errors.Is(err, target.ErrPackageNotFound) {
			return false, err
		}
	}
	prj, err := s.targets.GetProject(ctx, project)
	if err != nil {
		return false, err
	}
	_, ok := prj.Attribute(target.AttrApprovedRequestSource)
	return ok, nil
}

// develReviewers escalates to the devel package owners when the creator
// cannot modify it themselves.
func (s *ReviewerService) develReviewers(ctx context.Context, creator *user.User, rec *action.Record) ([]request.ReviewRef, error) {
	pkg, err := s.targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage)
	if err != nil {
		if errors.Is(err, target.ErrPackageNotFound) || errors.Is(err, target.ErrProjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if pkg.DevelProject == "" {
		return nil, nil
	}
	devel, err := s.targets.GetPackage(ctx, pkg.DevelProject, pkg.DevelPackage)
	if err != nil {
		if errors.Is(err, target.ErrPackageNotFound) || errors.Is(err, target.ErrProjectNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ok, err := s.perms.CanModifyPackage(ctx, creator, devel, false)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	return s.roleHolders(ctx, devel.Project, devel.Name, permissions.RoleMaintainer)
}

// targetReviewers adds reviewer-role holders of the target package, then the
// target project.
func (s *ReviewerService) targetReviewers(ctx context.Context, rec *action.Record) ([]request.ReviewRef, error) {
	if rec.TargetProject == "" {
		return nil, nil
	}
	var out []request.ReviewRef
	if rec.TargetPackage != "" {
		rels, err := s.relationships.ForPackage(ctx, rec.TargetProject, rec.TargetPackage)
		if err != nil {
			return nil, err
		}
		out = append(out, refsForRole(rels, permissions.RoleReviewer)...)
	}
	rels, err := s.relationships.ForProject(ctx, rec.TargetProject)
	if err != nil {
		return nil, err
	}
	return append(out, refsForRole(rels, permissions.RoleReviewer)...), nil
}

// checkReleaseTargetAccess requires the creator to hold write access on every
// maintenance-triggered release target; for releases that is a hard
// precondition, not a review.
func (s *ReviewerService) checkReleaseTargetAccess(ctx context.Context, creator *user.User, rec *action.Record) error {
	src, err := s.targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		return err
	}
	for _, repo := range src.Repositories {
		for _, rt := range repo.ReleaseTargets {
			if rt.Trigger != target.TriggerMaintenance {
				continue
			}
			tgt, err := s.targets.GetProject(ctx, rt.Project)
			if err != nil {
				return err
			}
			ok, err := s.perms.CanModifyProject(ctx, creator, tgt, false)
			if err != nil {
				return err
			}
			if !ok {
				return action.NewLackingMaintainership(rt.Project, "")
			}
		}
	}
	return nil
}

func (s *ReviewerService) roleHolders(ctx context.Context, project, pkg, role string) ([]request.ReviewRef, error) {
	var out []request.ReviewRef
	if pkg != "" {
		rels, err := s.relationships.ForPackage(ctx, project, pkg)
		if err != nil {
			return nil, err
		}
		out = refsForRole(rels, role)
		if len(out) > 0 {
			return out, nil
		}
	}
	rels, err := s.relationships.ForProject(ctx, project)
	if err != nil {
		return nil, err
	}
	return refsForRole(rels, role), nil
}

func refsForRole(rels []*relationship.Relationship, role string) []request.ReviewRef {
	var out []request.ReviewRef
	for _, rel := range rels {
		if rel.Role != role {
			continue
		}
		if rel.IsUser() {
			out = append(out, request.ReviewRef{ByUser: rel.UserLogin})
		} else if rel.IsGroup() {
			out = append(out, request.ReviewRef{ByGroup: rel.GroupName})
		}
	}
	return out
}
