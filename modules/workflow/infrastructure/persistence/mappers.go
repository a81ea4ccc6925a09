package persistence

import (
	"encoding/json"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/infrastructure/persistence/models"
)

func toRequestRow(req *request.Request) *models.Request {
	row := &models.Request{
		ID:          req.ID,
		Creator:     req.Creator,
		Description: req.Description,
		State:       string(req.State),
		Comment:     req.Comment,
		CommentedBy: req.CommentedBy,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
		AcceptedAt:  req.AcceptedAt,
	}
	if req.SupersededBy != 0 {
		id := req.SupersededBy
		row.SupersededBy = &id
	}
	return row
}

func toDomainRequest(row *models.Request) *request.Request {
	req := &request.Request{
		ID:          row.ID,
		Creator:     row.Creator,
		Description: row.Description,
		State:       request.State(row.State),
		Comment:     row.Comment,
		CommentedBy: row.CommentedBy,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		AcceptedAt:  row.AcceptedAt,
	}
	if row.SupersededBy != nil {
		req.SupersededBy = *row.SupersededBy
	}
	return req
}

func toActionRow(requestID int64, rec *action.Record) *models.Action {
	row := &models.Action{
		ID:                   rec.ID,
		RequestID:            requestID,
		Kind:                 string(rec.Kind),
		SourceProject:        rec.SourceProject,
		SourcePackage:        rec.SourcePackage,
		SourceRev:            rec.SourceRev,
		TargetProject:        rec.TargetProject,
		TargetPackage:        rec.TargetPackage,
		TargetRepository:     rec.TargetRepository,
		TargetReleaseProject: rec.TargetReleaseProject,
		Person:               rec.Person,
		GroupName:            rec.Group,
		Role:                 rec.Role,
		SourceUpdate:         string(rec.SourceUpdate),
		UpdateLink:           rec.UpdateLink,
		GroupedRequestIDs:    rec.GroupedRequestIDs,
		PerPackageLocking:    rec.PerPackageLocking,
	}
	if rec.AcceptInfo != nil {
		rev, md5 := rec.AcceptInfo.Rev, rec.AcceptInfo.SrcMD5
		row.AcceptRev = &rev
		row.AcceptSrcMD5 = &md5
	}
	return row
}

func toDomainAction(row *models.Action) *action.Record {
	rec := &action.Record{
		ID:                   row.ID,
		Kind:                 action.Kind(row.Kind),
		SourceProject:        row.SourceProject,
		SourcePackage:        row.SourcePackage,
		SourceRev:            row.SourceRev,
		TargetProject:        row.TargetProject,
		TargetPackage:        row.TargetPackage,
		TargetRepository:     row.TargetRepository,
		TargetReleaseProject: row.TargetReleaseProject,
		Person:               row.Person,
		Group:                row.GroupName,
		Role:                 row.Role,
		SourceUpdate:         action.SourceUpdate(row.SourceUpdate),
		UpdateLink:           row.UpdateLink,
		GroupedRequestIDs:    row.GroupedRequestIDs,
		PerPackageLocking:    row.PerPackageLocking,
	}
	if row.AcceptRev != nil {
		rec.AcceptInfo = &action.AcceptInfo{Rev: *row.AcceptRev}
		if row.AcceptSrcMD5 != nil {
			rec.AcceptInfo.SrcMD5 = *row.AcceptSrcMD5
		}
	}
	return rec
}

func toReviewRow(requestID int64, rv *request.Review) *models.Review {
	return &models.Review{
		ID:           rv.ID,
		RequestID:    requestID,
		ByUser:       rv.Ref.ByUser,
		ByGroup:      rv.Ref.ByGroup,
		ByProject:    rv.Ref.ByProject,
		ByPackage:    rv.Ref.ByPackage,
		State:        string(rv.State),
		Comment:      rv.Comment,
		CommentedBy:  rv.CommentedBy,
		AssignedToID: rv.AssignedToID,
		CreatedAt:    rv.CreatedAt,
		ResolvedAt:   rv.ResolvedAt,
	}
}

func toDomainReview(row *models.Review) *request.Review {
	return &request.Review{
		ID: row.ID,
		Ref: request.ReviewRef{
			ByUser:    row.ByUser,
			ByGroup:   row.ByGroup,
			ByProject: row.ByProject,
			ByPackage: row.ByPackage,
		},
		State:        request.ReviewState(row.State),
		Comment:      row.Comment,
		CommentedBy:  row.CommentedBy,
		AssignedToID: row.AssignedToID,
		CreatedAt:    row.CreatedAt,
		ResolvedAt:   row.ResolvedAt,
	}
}

func toProjectRow(p *target.Project) (*models.Project, error) {
	flags, err := json.Marshal(p.Flags)
	if err != nil {
		return nil, err
	}
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return nil, err
	}
	repos, err := json.Marshal(p.Repositories)
	if err != nil {
		return nil, err
	}
	return &models.Project{
		Name:         p.Name,
		Kind:         string(p.Kind),
		Title:        p.Title,
		Flags:        flags,
		Attributes:   attrs,
		Repositories: repos,
	}, nil
}

func toDomainProject(row *models.Project) (*target.Project, error) {
	p := &target.Project{
		Name:  row.Name,
		Kind:  target.ProjectKind(row.Kind),
		Title: row.Title,
	}
	if len(row.Flags) > 0 {
		if err := json.Unmarshal(row.Flags, &p.Flags); err != nil {
			return nil, err
		}
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &p.Attributes); err != nil {
			return nil, err
		}
	}
	if len(row.Repositories) > 0 {
		if err := json.Unmarshal(row.Repositories, &p.Repositories); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func toPackageRow(p *target.Package) (*models.Package, error) {
	flags, err := json.Marshal(p.Flags)
	if err != nil {
		return nil, err
	}
	attrs, err := json.Marshal(p.Attributes)
	if err != nil {
		return nil, err
	}
	return &models.Package{
		Project:      p.Project,
		Name:         p.Name,
		Kind:         p.Kind,
		Flags:        flags,
		Attributes:   attrs,
		DevelProject: p.DevelProject,
		DevelPackage: p.DevelPackage,
	}, nil
}

func toDomainPackage(row *models.Package) (*target.Package, error) {
	p := &target.Package{
		Project:      row.Project,
		Name:         row.Name,
		Kind:         row.Kind,
		DevelProject: row.DevelProject,
		DevelPackage: row.DevelPackage,
	}
	if len(row.Flags) > 0 {
		if err := json.Unmarshal(row.Flags, &p.Flags); err != nil {
			return nil, err
		}
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &p.Attributes); err != nil {
			return nil, err
		}
	}
	return p, nil
}
