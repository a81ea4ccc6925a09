package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/requestd/modules/workflow/domain/action"
	"github.com/buildforge/requestd/modules/workflow/domain/backend"
	"github.com/buildforge/requestd/modules/workflow/domain/entities/target"
	"github.com/buildforge/requestd/pkg/metrics"
	"github.com/buildforge/requestd/pkg/serrors"
)

const CodeUnderEmbargo = "UNDER_EMBARGO"

// MaintenanceService executes the incident merge and release fan-out that
// maintenance actions delegate to on accept.
type MaintenanceService struct {
	targets target.Repository
	backend backend.Client
	log     *logrus.Logger

	// incidentSuffix names a fresh incident subproject under the umbrella
	// maintenance project; overridable for deterministic tests.
	incidentSuffix func() string
}

func NewMaintenanceService(targets target.Repository, client backend.Client, log *logrus.Logger) *MaintenanceService {
	return &MaintenanceService{
		targets: targets,
		backend: client,
		log:     log,
		incidentSuffix: func() string {
			return fmt.Sprintf("%d", time.Now().UTC().Unix())
		},
	}
}

func (s *MaintenanceService) SetIncidentSuffix(fn func() string) { s.incidentSuffix = fn }

var _ action.MaintenancePipeline = (*MaintenanceService)(nil)

// MergeIncident stages one source package into the incident project. Under an
// umbrella maintenance project a fresh incident subproject is created first;
// a pre-existing incident project is reused. Linked packages are branched
// from their link target to preserve history, then the incident source is
// copied on top.
func (s *MaintenanceService) MergeIncident(ctx context.Context, rec *action.Record, opts action.AcceptOpts) error {
	incident, err := s.resolveIncident(ctx, rec.TargetProject)
	if err != nil {
		return err
	}
	rec.TargetProject = incident.Name

	src, err := s.targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage)
	if err != nil {
		return err
	}

	if src.IsPatchinfo() {
		return s.mergePatchinfo(ctx, incident, rec)
	}

	branched := false
	if rec.TargetReleaseProject != "" && rec.TargetReleaseProject != rec.SourceProject {
		err := s.backend.Branch(ctx, rec.TargetReleaseProject, rec.SourcePackage, incident.Name, rec.SourcePackage)
		if err == nil {
			branched = true
		} else if !errors.Is(err, backend.ErrSourceMissing) {
			metrics.BackendCalls.WithLabelValues("branch", "error").Inc()
			return err
		}
		metrics.BackendCalls.WithLabelValues("branch", "ok").Inc()
	}

	if err := s.backend.Copy(ctx, rec.SourceProject, rec.SourcePackage, incident.Name, rec.SourcePackage, backend.CopyOptions{
		Rev:      rec.SourceRev,
		KeepLink: branched,
		Expand:   !branched,
		Comment:  opts.Comment,
	}); err != nil {
		metrics.BackendCalls.WithLabelValues("copy", "error").Inc()
		return err
	}
	metrics.BackendCalls.WithLabelValues("copy", "ok").Inc()

	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"incident": incident.Name,
			"package":  rec.SourcePackage,
			"branched": branched,
		}).Info("merged package into incident")
	}

	return s.targets.SavePackage(ctx, &target.Package{
		Project: incident.Name,
		Name:    rec.SourcePackage,
		Kind:    src.Kind,
	})
}

// mergePatchinfo creates the incident patchinfo once and reuses it on
// subsequent fan-out actions of the same request.
func (s *MaintenanceService) mergePatchinfo(ctx context.Context, incident *target.Project, rec *action.Record) error {
	if _, err := s.targets.GetPackage(ctx, incident.Name, rec.SourcePackage); err == nil {
		return nil
	} else if !errors.Is(err, target.ErrPackageNotFound) {
		return err
	}
	if err := s.backend.Copy(ctx, rec.SourceProject, rec.SourcePackage, incident.Name, rec.SourcePackage, backend.CopyOptions{Expand: true}); err != nil {
		metrics.BackendCalls.WithLabelValues("copy", "error").Inc()
		return err
	}
	metrics.BackendCalls.WithLabelValues("copy", "ok").Inc()
	return s.targets.SavePackage(ctx, &target.Package{
		Project: incident.Name,
		Name:    rec.SourcePackage,
		Kind:    target.PackageKindPatchinfo,
	})
}

func (s *MaintenanceService) resolveIncident(ctx context.Context, name string) (*target.Project, error) {
	prj, err := s.targets.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}
	if prj.Kind == target.KindMaintenanceIncident {
		return prj, nil
	}

	incident := &target.Project{
		Name:  prj.Name + ":" + s.incidentSuffix(),
		Kind:  target.KindMaintenanceIncident,
		Title: "Incident for " + prj.Name,
	}
	if existing, err := s.targets.GetProject(ctx, incident.Name); err == nil {
		return existing, nil
	} else if !errors.Is(err, target.ErrProjectNotFound) {
		return nil, err
	}
	if err := s.targets.SaveProject(ctx, incident); err != nil {
		return nil, err
	}
	return incident, nil
}

// ReleasePackage copies one built package from the incident into its release
// target project. All packages of one request share opts.Time as their
// release stamp.
func (s *MaintenanceService) ReleasePackage(ctx context.Context, rec *action.Record, opts action.AcceptOpts) error {
	src, err := s.targets.GetProject(ctx, rec.SourceProject)
	if err != nil {
		return err
	}
	tgt, err := s.targets.GetProject(ctx, rec.TargetProject)
	if err != nil {
		return err
	}

	if err := s.checkReleasePath(src, tgt); err != nil {
		return err
	}
	if err := s.checkEmbargo(tgt, opts.Time); err != nil {
		return err
	}

	comment := fmt.Sprintf("released by request at %s", opts.Time.Format(time.RFC3339))
	if err := s.backend.Copy(ctx, rec.SourceProject, rec.SourcePackage, rec.TargetProject, rec.TargetPackage, backend.CopyOptions{
		Expand:  true,
		Comment: comment,
	}); err != nil {
		metrics.BackendCalls.WithLabelValues("copy", "error").Inc()
		return err
	}
	metrics.BackendCalls.WithLabelValues("copy", "ok").Inc()

	srcPkg, err := s.targets.GetPackage(ctx, rec.SourceProject, rec.SourcePackage)
	if err != nil {
		return err
	}
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"source":  rec.SourceProject + "/" + rec.SourcePackage,
			"target":  rec.TargetProject + "/" + rec.TargetPackage,
			"release": opts.Time.Format(time.RFC3339),
		}).Info("released package")
	}
	return s.targets.SavePackage(ctx, &target.Package{
		Project: rec.TargetProject,
		Name:    rec.TargetPackage,
		Kind:    srcPkg.Kind,
	})
}

// checkReleasePath requires a manual or maintenance triggered release target
// from some source repository into the target project.
func (s *MaintenanceService) checkReleasePath(src, tgt *target.Project) error {
	for _, repo := range src.Repositories {
		for _, rt := range repo.ReleaseTargets {
			if rt.Project != tgt.Name {
				continue
			}
			if rt.Trigger == target.TriggerManual || rt.Trigger == target.TriggerMaintenance {
				return nil
			}
		}
	}
	return action.NewRepositoryWithoutReleaseTarget(src.Name, "")
}

// checkEmbargo refuses releasing into a target before its EmbargoDate
// attribute has passed.
func (s *MaintenanceService) checkEmbargo(tgt *target.Project, at time.Time) error {
	attr, ok := tgt.Attribute(target.AttrEmbargoDate)
	if !ok || len(attr.Values) == 0 {
		return nil
	}
	embargo, err := time.Parse(time.RFC3339, attr.Values[0])
	if err != nil {
		embargo, err = time.Parse("2006-01-02", attr.Values[0])
		if err != nil {
			return nil
		}
	}
	if at.Before(embargo) {
		return serrors.NewError(CodeUnderEmbargo,
			fmt.Sprintf("project %q is under embargo until %s", tgt.Name, attr.Values[0]), "")
	}
	return nil
}
