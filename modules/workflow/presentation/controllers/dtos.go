package controllers

import (
	"time"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
)

type ActionDTO struct {
	Kind string `json:"kind" validate:"required"`

	SourceProject string `json:"source_project,omitempty"`
	SourcePackage string `json:"source_package,omitempty"`
	SourceRev     string `json:"source_rev,omitempty"`

	TargetProject    string `json:"target_project,omitempty"`
	TargetPackage    string `json:"target_package,omitempty"`
	TargetRepository string `json:"target_repository,omitempty"`

	Person string `json:"person,omitempty"`
	Group  string `json:"group,omitempty"`
	Role   string `json:"role,omitempty"`

	SourceUpdate string `json:"sourceupdate,omitempty" validate:"omitempty,oneof=cleanup update noupdate"`
	UpdateLink   bool   `json:"updatelink,omitempty"`

	GroupedRequestIDs []int64 `json:"grouped_request_ids,omitempty"`
}

func (d *ActionDTO) toRecord() *action.Record {
	return &action.Record{
		Kind:              action.Kind(d.Kind),
		SourceProject:     d.SourceProject,
		SourcePackage:     d.SourcePackage,
		SourceRev:         d.SourceRev,
		TargetProject:     d.TargetProject,
		TargetPackage:     d.TargetPackage,
		TargetRepository:  d.TargetRepository,
		Person:            d.Person,
		Group:             d.Group,
		Role:              d.Role,
		SourceUpdate:      action.SourceUpdate(d.SourceUpdate),
		UpdateLink:        d.UpdateLink,
		GroupedRequestIDs: d.GroupedRequestIDs,
	}
}

type CreateRequestDTO struct {
	Description string      `json:"description"`
	Actions     []ActionDTO `json:"actions" validate:"required,min=1,dive"`
}

type ChangeStateDTO struct {
	State        string `json:"state" validate:"required,oneof=new review accepted declined revoked superseded deleted"`
	Force        bool   `json:"force,omitempty"`
	SupersededBy int64  `json:"superseded_by,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

type ReviewRefDTO struct {
	ByUser    string `json:"by_user,omitempty"`
	ByGroup   string `json:"by_group,omitempty"`
	ByProject string `json:"by_project,omitempty"`
	ByPackage string `json:"by_package,omitempty"`
}

func (d ReviewRefDTO) toRef() request.ReviewRef {
	return request.ReviewRef{
		ByUser:    d.ByUser,
		ByGroup:   d.ByGroup,
		ByProject: d.ByProject,
		ByPackage: d.ByPackage,
	}
}

type AddReviewDTO struct {
	Ref     ReviewRefDTO `json:"ref" validate:"required"`
	Comment string       `json:"comment,omitempty"`
}

type ChangeReviewStateDTO struct {
	Ref     ReviewRefDTO `json:"ref" validate:"required"`
	State   string       `json:"state" validate:"required,oneof=new accepted declined superseded"`
	Comment string       `json:"comment,omitempty"`
}

type AssignReviewDTO struct {
	From ReviewRefDTO `json:"from" validate:"required"`
	To   ReviewRefDTO `json:"to" validate:"required"`
}

type ReviewResponse struct {
	Ref         ReviewRefDTO `json:"ref"`
	State       string       `json:"state"`
	Comment     string       `json:"comment,omitempty"`
	CommentedBy string       `json:"commented_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

type ActionResponse struct {
	Kind                 string  `json:"kind"`
	SourceProject        string  `json:"source_project,omitempty"`
	SourcePackage        string  `json:"source_package,omitempty"`
	SourceRev            string  `json:"source_rev,omitempty"`
	TargetProject        string  `json:"target_project,omitempty"`
	TargetPackage        string  `json:"target_package,omitempty"`
	TargetRepository     string  `json:"target_repository,omitempty"`
	TargetReleaseProject string  `json:"target_release_project,omitempty"`
	Person               string  `json:"person,omitempty"`
	Group                string  `json:"group,omitempty"`
	Role                 string  `json:"role,omitempty"`
	GroupedRequestIDs    []int64 `json:"grouped_request_ids,omitempty"`
}

type RequestResponse struct {
	ID           int64            `json:"id"`
	Creator      string           `json:"creator"`
	Description  string           `json:"description,omitempty"`
	State        string           `json:"state"`
	SupersededBy int64            `json:"superseded_by,omitempty"`
	Comment      string           `json:"comment,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	AcceptedAt   *time.Time       `json:"accepted_at,omitempty"`
	Actions      []ActionResponse `json:"actions"`
	Reviews      []ReviewResponse `json:"reviews,omitempty"`
}

func toRequestResponse(req *request.Request) *RequestResponse {
	out := &RequestResponse{
		ID:           req.ID,
		Creator:      req.Creator,
		Description:  req.Description,
		State:        string(req.State),
		SupersededBy: req.SupersededBy,
		Comment:      req.Comment,
		CreatedAt:    req.CreatedAt,
		UpdatedAt:    req.UpdatedAt,
		AcceptedAt:   req.AcceptedAt,
	}
	for _, rec := range req.Actions {
		out.Actions = append(out.Actions, ActionResponse{
			Kind:                 string(rec.Kind),
			SourceProject:        rec.SourceProject,
			SourcePackage:        rec.SourcePackage,
			SourceRev:            rec.SourceRev,
			TargetProject:        rec.TargetProject,
			TargetPackage:        rec.TargetPackage,
			TargetRepository:     rec.TargetRepository,
			TargetReleaseProject: rec.TargetReleaseProject,
			Person:               rec.Person,
			Group:                rec.Group,
			Role:                 rec.Role,
			GroupedRequestIDs:    rec.GroupedRequestIDs,
		})
	}
	for _, rv := range req.Reviews {
		out.Reviews = append(out.Reviews, ReviewResponse{
			Ref: ReviewRefDTO{
				ByUser:    rv.Ref.ByUser,
				ByGroup:   rv.Ref.ByGroup,
				ByProject: rv.Ref.ByProject,
				ByPackage: rv.Ref.ByPackage,
			},
			State:       string(rv.State),
			Comment:     rv.Comment,
			CommentedBy: rv.CommentedBy,
			CreatedAt:   rv.CreatedAt,
			ResolvedAt:  rv.ResolvedAt,
		})
	}
	return out
}
