package target

import (
	"github.com/buildforge/requestd/pkg/serrors"
)

var (
	ErrProjectNotFound    = serrors.NewError("UNKNOWN_PROJECT", "project not found", "")
	ErrPackageNotFound    = serrors.NewError("UNKNOWN_PACKAGE", "package not found", "")
	ErrRepositoryNotFound = serrors.NewError("UNKNOWN_REPOSITORY", "repository not found", "")
)

type FlagKind string

const (
	FlagLock         FlagKind = "lock"
	FlagAccess       FlagKind = "access"
	FlagSourceAccess FlagKind = "sourceaccess"
	FlagBuild        FlagKind = "build"
	FlagPublish      FlagKind = "publish"
)

// flagDefaults holds the effective value when no flag row matches at all.
var flagDefaults = map[FlagKind]bool{
	FlagLock:         false,
	FlagAccess:       true,
	FlagSourceAccess: true,
	FlagBuild:        true,
	FlagPublish:      true,
}

// Flag is one switch row, possibly scoped to a repository and/or architecture.
type Flag struct {
	Kind         FlagKind
	Enabled      bool
	Repository   string
	Architecture string
}

type FlagSet []Flag

// Effective resolves the flag value for (repository, architecture) by
// specificity: exact repo+arch beats repo-only beats arch-only beats the
// unscoped default row, which beats the built-in default.
func (fs FlagSet) Effective(kind FlagKind, repository, architecture string) bool {
	value := flagDefaults[kind]
	bestRank := -1
	for _, f := range fs {
		if f.Kind != kind {
			continue
		}
		rank := -1
		switch {
		case f.Repository == repository && f.Architecture == architecture && repository != "" && architecture != "":
			rank = 3
		case f.Repository == repository && f.Architecture == "" && repository != "":
			rank = 2
		case f.Repository == "" && f.Architecture == architecture && architecture != "":
			rank = 1
		case f.Repository == "" && f.Architecture == "":
			rank = 0
		}
		if rank > bestRank {
			bestRank = rank
			value = f.Enabled
		}
	}
	return value
}

// Attribute names consulted by the workflow.
const (
	AttrApprovedRequestSource     = "ApprovedRequestSource"
	AttrRejectRequests            = "RejectRequests"
	AttrLimitReleaseSourceProject = "LimitReleaseSourceProject"
	AttrMaintenanceProject        = "MaintenanceProject"
	AttrEmbargoDate               = "EmbargoDate"
)

type Attribute struct {
	Name   string
	Values []string
}

type ReleaseTargetTrigger string

const (
	TriggerManual      ReleaseTargetTrigger = "manual"
	TriggerMaintenance ReleaseTargetTrigger = "maintenance"
)

type ReleaseTarget struct {
	Project    string
	Repository string
	Trigger    ReleaseTargetTrigger
}

type Repo struct {
	Name           string
	Architectures  []string
	ReleaseTargets []ReleaseTarget
}

type ProjectKind string

const (
	KindStandard            ProjectKind = "standard"
	KindMaintenance         ProjectKind = "maintenance"
	KindMaintenanceIncident ProjectKind = "maintenance_incident"
	KindMaintenanceRelease  ProjectKind = "maintenance_release"
)

type Project struct {
	Name         string
	Kind         ProjectKind
	Title        string
	Flags        FlagSet
	Attributes   []Attribute
	Repositories []Repo
}

func (p *Project) TargetProject() string { return p.Name }
func (p *Project) TargetPackage() string { return "" }

func (p *Project) Effective(kind FlagKind, repository, architecture string) bool {
	return p.Flags.Effective(kind, repository, architecture)
}

func (p *Project) Attribute(name string) (*Attribute, bool) {
	for i := range p.Attributes {
		if p.Attributes[i].Name == name {
			return &p.Attributes[i], true
		}
	}
	return nil, false
}

func (p *Project) Repository(name string) (*Repo, bool) {
	for i := range p.Repositories {
		if p.Repositories[i].Name == name {
			return &p.Repositories[i], true
		}
	}
	return nil, false
}

// PackageKindPatchinfo marks incident metadata packages handled specially
// during fan-out.
const PackageKindPatchinfo = "patchinfo"

type Package struct {
	Project      string
	Name         string
	Kind         string
	Flags        FlagSet
	Attributes   []Attribute
	DevelProject string
	DevelPackage string
}

func (p *Package) TargetProject() string { return p.Project }
func (p *Package) TargetPackage() string { return p.Name }

func (p *Package) Effective(kind FlagKind, repository, architecture string) bool {
	return p.Flags.Effective(kind, repository, architecture)
}

func (p *Package) Attribute(name string) (*Attribute, bool) {
	for i := range p.Attributes {
		if p.Attributes[i].Name == name {
			return &p.Attributes[i], true
		}
	}
	return nil, false
}

func (p *Package) IsPatchinfo() bool { return p.Kind == PackageKindPatchinfo }

// Reviewable is the closed capability shared by projects and packages; the
// permission evaluator and reviewer resolver dispatch on it instead of on
// concrete types.
type Reviewable interface {
	TargetProject() string
	TargetPackage() string
	Effective(kind FlagKind, repository, architecture string) bool
}

var (
	_ Reviewable = (*Project)(nil)
	_ Reviewable = (*Package)(nil)
)
