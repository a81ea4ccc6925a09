package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/infrastructure/persistence/models"
	"github.com/buildforge/requestd/pkg/composables"
)

type RequestRepository struct{}

func NewRequestRepository() request.Repository {
	return &RequestRepository{}
}

func (r *RequestRepository) Create(ctx context.Context, req *request.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	row := toRequestRow(req)
	if err := tx.QueryRow(ctx, `
		INSERT INTO requests (creator, description, state, superseded_by, comment, commented_by, created_at, updated_at, accepted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, row.Creator, row.Description, row.State, row.SupersededBy, row.Comment,
		row.CommentedBy, row.CreatedAt, row.UpdatedAt, row.AcceptedAt,
	).Scan(&req.ID); err != nil {
		return err
	}

	if err := r.insertActions(ctx, req); err != nil {
		return err
	}
	return r.insertReviews(ctx, req)
}

func (r *RequestRepository) insertActions(ctx context.Context, req *request.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for _, rec := range req.Actions {
		row := toActionRow(req.ID, rec)
		if err := tx.QueryRow(ctx, `
			INSERT INTO actions (request_id, kind, source_project, source_package, source_rev,
				target_project, target_package, target_repository, target_release_project,
				person, group_name, role, sourceupdate, update_link,
				grouped_request_ids, per_package_locking, accept_rev, accept_srcmd5)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			RETURNING id
		`, row.RequestID, row.Kind, row.SourceProject, row.SourcePackage, row.SourceRev,
			row.TargetProject, row.TargetPackage, row.TargetRepository, row.TargetReleaseProject,
			row.Person, row.GroupName, row.Role, row.SourceUpdate, row.UpdateLink,
			row.GroupedRequestIDs, row.PerPackageLocking, row.AcceptRev, row.AcceptSrcMD5,
		).Scan(&rec.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *RequestRepository) insertReviews(ctx context.Context, req *request.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	for _, rv := range req.Reviews {
		row := toReviewRow(req.ID, rv)
		if _, err := tx.Exec(ctx, `
			INSERT INTO reviews (id, request_id, by_user, by_group, by_project, by_package,
				state, comment, commented_by, assigned_to_id, created_at, resolved_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, row.ID, row.RequestID, row.ByUser, row.ByGroup, row.ByProject, row.ByPackage,
			row.State, row.Comment, row.CommentedBy, row.AssignedToID, row.CreatedAt, row.ResolvedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var row models.Request
	if err := tx.QueryRow(ctx, `
		SELECT id, creator, description, state, superseded_by, comment, commented_by, created_at, updated_at, accepted_at
		FROM requests WHERE id = $1
	`, id).Scan(&row.ID, &row.Creator, &row.Description, &row.State, &row.SupersededBy,
		&row.Comment, &row.CommentedBy, &row.CreatedAt, &row.UpdatedAt, &row.AcceptedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, request.ErrNotFound
		}
		return nil, err
	}

	req := toDomainRequest(&row)
	if req.Actions, err = r.actionsFor(ctx, id); err != nil {
		return nil, err
	}
	if req.Reviews, err = r.reviewsFor(ctx, id); err != nil {
		return nil, err
	}
	return req, nil
}

func (r *RequestRepository) actionsFor(ctx context.Context, requestID int64) ([]*action.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, kind, source_project, source_package, source_rev,
			target_project, target_package, target_repository, target_release_project,
			person, group_name, role, sourceupdate, update_link,
			grouped_request_ids, per_package_locking, accept_rev, accept_srcmd5
		FROM actions WHERE request_id = $1 ORDER BY id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*action.Record
	for rows.Next() {
		var row models.Action
		if err := rows.Scan(&row.ID, &row.Kind, &row.SourceProject, &row.SourcePackage, &row.SourceRev,
			&row.TargetProject, &row.TargetPackage, &row.TargetRepository, &row.TargetReleaseProject,
			&row.Person, &row.GroupName, &row.Role, &row.SourceUpdate, &row.UpdateLink,
			&row.GroupedRequestIDs, &row.PerPackageLocking, &row.AcceptRev, &row.AcceptSrcMD5,
		); err != nil {
			return nil, err
		}
		out = append(out, toDomainAction(&row))
	}
	return out, rows.Err()
}

func (r *RequestRepository) reviewsFor(ctx context.Context, requestID int64) ([]*request.Review, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, by_user, by_group, by_project, by_package,
			state, comment, commented_by, assigned_to_id, created_at, resolved_at
		FROM reviews WHERE request_id = $1 ORDER BY id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*request.Review
	for rows.Next() {
		var row models.Review
		if err := rows.Scan(&row.ID, &row.ByUser, &row.ByGroup, &row.ByProject, &row.ByPackage,
			&row.State, &row.Comment, &row.CommentedBy, &row.AssignedToID, &row.CreatedAt, &row.ResolvedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, toDomainReview(&row))
	}
	return out, rows.Err()
}

// Update rewrites the request row and replaces its actions and reviews in
// place. Review ids are aggregate-assigned and stable across updates.
func (r *RequestRepository) Update(ctx context.Context, req *request.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	row := toRequestRow(req)
	tag, err := tx.Exec(ctx, `
		UPDATE requests
		SET description = $2, state = $3, superseded_by = $4, comment = $5,
			commented_by = $6, updated_at = $7, accepted_at = $8
		WHERE id = $1
	`, req.ID, row.Description, row.State, row.SupersededBy, row.Comment,
		row.CommentedBy, row.UpdatedAt, row.AcceptedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return request.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM actions WHERE request_id = $1`, req.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM reviews WHERE request_id = $1`, req.ID); err != nil {
		return err
	}
	if err := r.insertActions(ctx, req); err != nil {
		return err
	}
	return r.insertReviews(ctx, req)
}

func (r *RequestRepository) ListByState(ctx context.Context, states ...request.State) ([]*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}
	rows, err := tx.Query(ctx, `SELECT id FROM requests WHERE state = ANY($1) ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids)
}

func (r *RequestRepository) OpenRequestsWithTarget(ctx context.Context, f request.TargetFilter) ([]*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT DISTINCT r.id
		FROM requests r
		JOIN actions a ON a.request_id = r.id
		WHERE r.state IN ('new', 'review')
		  AND a.target_project = $1
	`
	args := []any{f.Project}
	if f.Package != "" {
		args = append(args, f.Package)
		query += ` AND (a.target_package = $2 OR a.target_package = '')`
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		if f.Package != "" {
			query += ` AND a.kind = $3`
		} else {
			query += ` AND a.kind = $2`
		}
	}
	query += ` ORDER BY r.id`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	return r.load(ctx, ids)
}

func (r *RequestRepository) load(ctx context.Context, ids []int64) ([]*request.Request, error) {
	out := make([]*request.Request, 0, len(ids))
	for _, id := range ids {
		req, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func collectIDs(rows pgx.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
