// Package memory holds in-memory repository implementations used by service
// and domain tests; they mirror the pgx repositories' observable behavior.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/aggregates/request"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/relationship"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/user"
)

type RequestRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*request.Request
}

func NewRequestRepository() *RequestRepository {
	return &RequestRepository{nextID: 1, byID: map[int64]*request.Request{}}
}

func (r *RequestRepository) Create(ctx context.Context, req *request.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.ID = r.nextID
	r.nextID++
	r.byID[req.ID] = cloneRequest(req)
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id int64) (*request.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.byID[id]
	if !ok {
		return nil, request.ErrNotFound
	}
	return cloneRequest(req), nil
}

func (r *RequestRepository) Update(ctx context.Context, req *request.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[req.ID]; !ok {
		return request.ErrNotFound
	}
	r.byID[req.ID] = cloneRequest(req)
	return nil
}

func (r *RequestRepository) ListByState(ctx context.Context, states ...request.State) ([]*request.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*request.Request
	for _, req := range r.byID {
		for _, s := range states {
			if req.State == s {
				out = append(out, cloneRequest(req))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *RequestRepository) OpenRequestsWithTarget(ctx context.Context, f request.TargetFilter) ([]*request.Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*request.Request
	for _, req := range r.byID {
		if req.State != request.StateNew && req.State != request.StateReview {
			continue
		}
		for _, rec := range req.Actions {
			if rec.TargetProject != f.Project {
				continue
			}
			if f.Package != "" && rec.TargetPackage != "" && rec.TargetPackage != f.Package {
				continue
			}
			if f.Kind != "" && string(rec.Kind) != f.Kind {
				continue
			}
			out = append(out, cloneRequest(req))
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRequest(req *request.Request) *request.Request {
	out := *req
	out.Actions = make([]*action.Record, len(req.Actions))
	for i, rec := range req.Actions {
		c := *rec
		if rec.AcceptInfo != nil {
			ai := *rec.AcceptInfo
			c.AcceptInfo = &ai
		}
		c.GroupedRequestIDs = append([]int64(nil), rec.GroupedRequestIDs...)
		out.Actions[i] = &c
	}
	out.Reviews = make([]*request.Review, len(req.Reviews))
	for i, rv := range req.Reviews {
		c := *rv
		if rv.ResolvedAt != nil {
			t := *rv.ResolvedAt
			c.ResolvedAt = &t
		}
		out.Reviews[i] = &c
	}
	if req.AcceptedAt != nil {
		t := *req.AcceptedAt
		out.AcceptedAt = &t
	}
	return &out
}

type TargetRepository struct {
	mu       sync.RWMutex
	projects map[string]*target.Project
	packages map[string]map[string]*target.Package
}

func NewTargetRepository() *TargetRepository {
	return &TargetRepository{
		projects: map[string]*target.Project{},
		packages: map[string]map[string]*target.Package{},
	}
}

func (r *TargetRepository) GetProject(ctx context.Context, name string) (*target.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prj, ok := r.projects[name]
	if !ok {
		return nil, target.ErrProjectNotFound
	}
	c := *prj
	return &c, nil
}

func (r *TargetRepository) GetPackage(ctx context.Context, project, name string) (*target.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.projects[project]; !ok {
		return nil, target.ErrProjectNotFound
	}
	pkg, ok := r.packages[project][name]
	if !ok {
		return nil, target.ErrPackageNotFound
	}
	c := *pkg
	return &c, nil
}

func (r *TargetRepository) ListPackages(ctx context.Context, project string) ([]*target.Package, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*target.Package
	for _, pkg := range r.packages[project] {
		c := *pkg
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *TargetRepository) SaveProject(ctx context.Context, p *target.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *p
	r.projects[p.Name] = &c
	if r.packages[p.Name] == nil {
		r.packages[p.Name] = map[string]*target.Package{}
	}
	return nil
}

func (r *TargetRepository) SavePackage(ctx context.Context, p *target.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.packages[p.Project] == nil {
		r.packages[p.Project] = map[string]*target.Package{}
	}
	c := *p
	r.packages[p.Project][p.Name] = &c
	return nil
}

func (r *TargetRepository) DeletePackage(ctx context.Context, project, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.packages[project][name]; !ok {
		return target.ErrPackageNotFound
	}
	delete(r.packages[project], name)
	return nil
}

func (r *TargetRepository) DeleteProject(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; !ok {
		return target.ErrProjectNotFound
	}
	delete(r.projects, name)
	delete(r.packages, name)
	return nil
}

func (r *TargetRepository) DeleteRepository(ctx context.Context, project, repository string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prj, ok := r.projects[project]
	if !ok {
		return target.ErrProjectNotFound
	}
	kept := prj.Repositories[:0]
	found := false
	for _, repo := range prj.Repositories {
		if repo.Name == repository {
			found = true
			continue
		}
		kept = append(kept, repo)
	}
	if !found {
		return target.ErrRepositoryNotFound
	}
	prj.Repositories = kept
	return nil
}

func (r *TargetRepository) SetDevel(ctx context.Context, project, name, develProject, develPackage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pkg, ok := r.packages[project][name]
	if !ok {
		return target.ErrPackageNotFound
	}
	pkg.DevelProject = develProject
	pkg.DevelPackage = develPackage
	return nil
}

func (r *TargetRepository) DevelReferences(ctx context.Context, project, name string) ([]target.PackageRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []target.PackageRef
	for prjName, pkgs := range r.packages {
		for pkgName, pkg := range pkgs {
			if pkg.DevelProject == project && pkg.DevelPackage == name {
				out = append(out, target.PackageRef{Project: prjName, Package: pkgName})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Package < out[j].Package
	})
	return out, nil
}

type RelationshipRepository struct {
	mu   sync.RWMutex
	rels []*relationship.Relationship
}

func NewRelationshipRepository() *RelationshipRepository {
	return &RelationshipRepository{}
}

func (r *RelationshipRepository) ForProject(ctx context.Context, project string) ([]*relationship.Relationship, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*relationship.Relationship
	for _, rel := range r.rels {
		if rel.Project == project && rel.Package == "" {
			c := *rel
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *RelationshipRepository) ForPackage(ctx context.Context, project, pkg string) ([]*relationship.Relationship, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*relationship.Relationship
	for _, rel := range r.rels {
		if rel.Project == project && rel.Package == pkg {
			c := *rel
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *RelationshipRepository) Grant(ctx context.Context, rel *relationship.Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rels {
		if *existing == *rel {
			return nil
		}
	}
	c := *rel
	r.rels = append(r.rels, &c)
	return nil
}

func (r *RelationshipRepository) Revoke(ctx context.Context, rel *relationship.Relationship) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.rels {
		if *existing == *rel {
			r.rels = append(r.rels[:i], r.rels[i+1:]...)
			return nil
		}
	}
	return nil
}

type UserRepository struct {
	mu     sync.RWMutex
	users  map[string]*user.User
	groups map[string]*user.Group
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: map[string]*user.User{}, groups: map[string]*user.Group{}}
}

func (r *UserRepository) AddUser(u *user.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *u
	r.users[u.Login] = &c
}

func (r *UserRepository) AddGroup(g *user.Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *g
	c.Members = append([]string(nil), g.Members...)
	r.groups[g.Name] = &c
}

func (r *UserRepository) GetUser(ctx context.Context, login string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[login]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) GetGroup(ctx context.Context, name string) (*user.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return nil, user.ErrGroupNotFound
	}
	c := *g
	c.Members = append([]string(nil), g.Members...)
	return &c, nil
}

func (r *UserRepository) GroupsOf(ctx context.Context, login string) ([]*user.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*user.Group
	for _, g := range r.groups {
		if g.Contains(login) {
			c := *g
			c.Members = append([]string(nil), g.Members...)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
