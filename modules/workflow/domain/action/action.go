package action

import (
	"context"
	"time"

	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

type Kind string

const (
	KindSubmit              Kind = "submit"
	KindDelete              Kind = "delete"
	KindAddRole             Kind = "add_role"
	KindSetBugowner         Kind = "set_bugowner"
	KindChangeDevel         Kind = "change_devel"
	KindMaintenanceIncident Kind = "maintenance_incident"
	KindMaintenanceRelease  Kind = "maintenance_release"
	KindRelease             Kind = "release"
	KindGroup               Kind = "group"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSubmit, KindDelete, KindAddRole, KindSetBugowner, KindChangeDevel,
		KindMaintenanceIncident, KindMaintenanceRelease, KindRelease, KindGroup:
		return true
	}
	return false
}

// SourceUpdate is the post-accept policy for the submit source.
type SourceUpdate string

const (
	SourceUpdateNone     SourceUpdate = ""
	SourceUpdateCleanup  SourceUpdate = "cleanup"
	SourceUpdateUpdate   SourceUpdate = "update"
	SourceUpdateNoUpdate SourceUpdate = "noupdate"
)

// AcceptInfo pins the source revision that was actually accepted.
type AcceptInfo struct {
	Rev    string
	SrcMD5 string
}

// Record is the flat persisted shape of an action; exactly the fields
// relevant to Kind are populated (enforced by Validate).
type Record struct {
	ID   int64
	Kind Kind

	SourceProject string
	SourcePackage string
	SourceRev     string

	TargetProject        string
	TargetPackage        string
	TargetRepository     string
	TargetReleaseProject string

	Person string
	Group  string
	Role   string

	SourceUpdate SourceUpdate
	UpdateLink   bool

	GroupedRequestIDs []int64

	// PerPackageLocking is set during expansion when the source package was
	// explicit, bounding incident lock scope to single packages.
	PerPackageLocking bool

	AcceptInfo *AcceptInfo
}

// RequestStateReader gives actions a narrow view on other requests without
// depending on the request aggregate.
type RequestStateReader interface {
	StateOf(ctx context.Context, id int64) (string, error)
	HasOpenReviews(ctx context.Context, id int64) (bool, error)
}

// Env bundles the collaborators action logic runs against.
type Env struct {
	Targets       target.Repository
	Relationships relationship.Repository
	Users         user.Repository
	Backend       backend.Client
	Requests      RequestStateReader
}

// PermissionChecker is the evaluator capability actions need for accept-time
// gating; implemented by the permission service.
type PermissionChecker interface {
	CanModifyProject(ctx context.Context, principal *user.User, prj *target.Project, ignoreLock bool) (bool, error)
	CanModifyPackage(ctx context.Context, principal *user.User, pkg *target.Package, ignoreLock bool) (bool, error)
	CanCreatePackage(ctx context.Context, principal *user.User, prj *target.Project) (bool, error)
}

// MaintenancePipeline executes the incident merge and release fan-out on
// accept; implemented by the maintenance service.
type MaintenancePipeline interface {
	MergeIncident(ctx context.Context, rec *Record, opts AcceptOpts) error
	ReleasePackage(ctx context.Context, rec *Record, opts AcceptOpts) error
}

type ExpandOpts struct {
	IgnoreBuildState bool
}

type AcceptOpts struct {
	// Time is the single accept timestamp stamped across every action of
	// one request.
	Time     time.Time
	Comment  string
	Pipeline MaintenancePipeline
}

// Action is one declared change inside a request. Implementations carry only
// the fields relevant to their kind and know how to validate, expand and
// execute themselves.
type Action interface {
	Kind() Kind
	Record() *Record

	// Validate performs the per-kind sanity check against current state;
	// it runs eagerly at request creation, before any mutation.
	Validate(ctx context.Context, env *Env) error

	// Expand resolves an abstract action into concrete per-package actions.
	// Actions already in terminal form return themselves unchanged.
	Expand(ctx context.Context, env *Env, opts ExpandOpts) ([]Action, error)

	// CheckAcceptPermission verifies the acting principal holds target
	// write permission; evaluated for every action before any executes.
	CheckAcceptPermission(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error

	// CheckAcceptPrecondition re-verifies live state (pinned revisions,
	// build readiness) immediately before execution.
	CheckAcceptPrecondition(ctx context.Context, env *Env) error

	// ExecuteAccept applies the side effect. Any error aborts the whole
	// request transition.
	ExecuteAccept(ctx context.Context, env *Env, opts AcceptOpts) error
}

// FromRecord constructs the variant matching rec.Kind. Unknown kinds are
// refused so the set stays closed.
func FromRecord(rec *Record) (Action, error) {
	switch rec.Kind {
	case KindSubmit:
		return &Submit{base{rec}}, nil
	case KindDelete:
		return &Delete{base{rec}}, nil
	case KindAddRole, KindSetBugowner:
		return &RoleGrant{base{rec}}, nil
	case KindChangeDevel:
		return &ChangeDevel{base{rec}}, nil
	case KindMaintenanceIncident:
		return &MaintenanceIncident{base{rec}}, nil
	case KindMaintenanceRelease:
		return &MaintenanceRelease{base{rec}}, nil
	case KindRelease:
		return &Release{base{rec}}, nil
	case KindGroup:
		return &Group{base{rec}}, nil
	default:
		return nil, NewInvalidAction("unknown action type " + string(rec.Kind))
	}
}

// FromRecords converts a batch, failing on the first invalid record.
func FromRecords(recs []*Record) ([]Action, error) {
	out := make([]Action, 0, len(recs))
	for _, rec := range recs {
		a, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

type base struct {
	rec *Record
}

func (b *base) Record() *Record { return b.rec }

// Expand defaults to identity; maintenance kinds override.
func (b *base) expandIdentity(self Action) []Action {
	return []Action{self}
}

// CheckAcceptPrecondition defaults to no live re-check.
func (b *base) CheckAcceptPrecondition(ctx context.Context, env *Env) error {
	return nil
}

// checkTargetWritable is the shared accept gate: package-level write when the
// target package exists, else create permission on the target project.
func (b *base) checkTargetWritable(ctx context.Context, env *Env, perm PermissionChecker, principal *user.User) error {
	rec := b.rec
	prj, err := env.Targets.GetProject(ctx, rec.TargetProject)
	if err != nil {
		return err
	}
	if rec.TargetPackage != "" {
		pkg, err := env.Targets.GetPackage(ctx, rec.TargetProject, rec.TargetPackage)
		if err == nil {
			ok, err := perm.CanModifyPackage(ctx, principal, pkg, false)
			if err != nil {
				return err
			}
			if !ok {
				return NewLackingMaintainership(rec.TargetProject, rec.TargetPackage)
			}
			return nil
		}
		ok, cerr := perm.CanCreatePackage(ctx, principal, prj)
		if cerr != nil {
			return cerr
		}
		if !ok {
			return NewLackingMaintainership(rec.TargetProject, rec.TargetPackage)
		}
		return nil
	}
	ok, err := perm.CanModifyProject(ctx, principal, prj, false)
	if err != nil {
		return err
	}
	if !ok {
		return NewLackingMaintainership(rec.TargetProject, "")
	}
	return nil
}

// checkPinnedSource verifies the live source still matches a pinned revision.
func (b *base) checkPinnedSource(ctx context.Context, env *Env) error {
	rec := b.rec
	if rec.SourceRev == "" {
		return nil
	}
	dir, err := env.Backend.GetDirectory(ctx, rec.SourceProject, rec.SourcePackage, "", true)
	if err != nil {
		return err
	}
	if dir.Rev != rec.SourceRev && dir.SrcMD5 != rec.SourceRev {
		return NewSourceChanged(rec.SourceProject, rec.SourcePackage, rec.SourceRev, dir.Rev)
	}
	return nil
}
