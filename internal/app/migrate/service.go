// Package migrate runs the datastore consolidation pipeline: discovery,
// dump, provisioning, import and verification of every service.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/discovery"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Defaults of a run.
const (
	DefaultWorkers       = 3
	DefaultImportWorkers = 1
	DefaultIndexOffset   = 1
	DefaultMaxIndex      = 15
	DefaultMinFreeSpace  = 512 << 20
	historyFile          = "history.json"
)

// Config configures a migration run.
type Config struct {
	ServicesRoot string
	Engine       migration.EngineKind
	Method       migration.RedisMethod
	Target       string
	DumpDir      string
	EnvFiles     []string
	Only         []string

	// Workers bounds concurrent dumps.
	Workers int
	// ImportWorkers bounds concurrent imports. Provisioning is always serialized.
	ImportWorkers int

	// IndexOffset and MaxIndex bound the destination indexes of key-value services.
	IndexOffset int
	MaxIndex    int

	// MinFreeSpace is the free space required in DumpDir, in bytes.
	MinFreeSpace uint64
	// ReportFile receives a YAML copy of the report when set.
	ReportFile string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ImportWorkers <= 0 {
		c.ImportWorkers = DefaultImportWorkers
	}
	if c.IndexOffset < 0 {
		c.IndexOffset = DefaultIndexOffset
	}
	if c.MaxIndex <= 0 {
		c.MaxIndex = DefaultMaxIndex
	}
}

// Discoverer finds the services of a run.
type Discoverer interface {
	Discover(ctx context.Context, opts discovery.Options) ([]discovery.Candidate, error)
}

// Archiver stores a copy of a dump artifact.
type Archiver interface {
	Upload(ctx context.Context, runID string, a *migration.DumpArtifact) error
}

// Service is the migration orchestrator.
type Service struct {
	cfg        Config
	engine     migration.Engine
	discoverer Discoverer
	archiver   Archiver
	history    *StateStore

	freeSpace func(path string) (uint64, error)
	newID     func() string
}

// NewService creates an orchestrator driving engine.
func NewService(cfg Config, engine migration.Engine, discoverer Discoverer) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg:        cfg,
		engine:     engine,
		discoverer: discoverer,
		freeSpace:  diskFree,
		newID:      uuid.NewString,
	}
}

// WithArchiver uploads every dump artifact after the dump phase.
func (s *Service) WithArchiver(a Archiver) *Service {
	s.archiver = a
	return s
}

// WithHistory persists every report to store.
func (s *Service) WithHistory(store *StateStore) *Service {
	s.history = store
	return s
}

// HistoryPath returns the default run history location for a dump directory.
func HistoryPath(dumpDir string) string {
	return filepath.Join(dumpDir, historyFile)
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// run holds the mutable state of one Run call.
type run struct {
	id      string
	log     *slog.Logger
	records []*migration.MigrationRecord

	abortOnce sync.Once
	abortErr  error
	abortMu   sync.Mutex
	cancel    context.CancelFunc
}

func (r *run) abort(err error) {
	if !migration.IsFatal(err) {
		err = fmt.Errorf("%w: %w", migration.ErrTargetUnreachable, err)
	}
	r.abortOnce.Do(func() {
		r.abortMu.Lock()
		r.abortErr = err
		r.abortMu.Unlock()
		r.log.Error("Target unreachable, aborting run", "error", err)
		r.cancel()
	})
}

func (r *run) aborted() error {
	r.abortMu.Lock()
	defer r.abortMu.Unlock()
	return r.abortErr
}

// Run executes the pipeline for every discovered service. Per-service
// failures are recorded in the report; the returned error is reserved for
// problems that prevent a run from starting.
func (s *Service) Run(ctx context.Context) (*migration.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{id: s.newID(), cancel: cancel}
	r.log = logger.WithRunID(r.id).With("engine", s.cfg.Engine)

	report := &migration.Report{
		RunID:     r.id,
		Engine:    s.cfg.Engine,
		Target:    s.cfg.Target,
		StartedAt: time.Now(),
	}
	if s.cfg.Engine == migration.EngineRedis {
		report.Method = s.cfg.Method
	}

	if err := s.preflight(); err != nil {
		return nil, err
	}

	records, err := s.discover(ctx, r)
	if err != nil {
		return nil, err
	}
	r.records = records
	r.log.Info("Discovery complete", "services", len(records))
	s.claimDestinations(r)

	if err := s.engine.Ping(ctx); err != nil {
		r.abort(err)
	} else {
		s.dumpAll(ctx, r)
		s.archive(ctx, r)
		s.allocateIndexes(r)
		s.loadAll(ctx, r)
	}

	if err := r.aborted(); err != nil {
		report.Aborted = true
		report.AbortReason = err.Error()
		for _, rec := range r.records {
			if !rec.State.IsTerminal() {
				rec.Fail(migration.NewError(rec.Service().Name, "target", err))
			}
		}
	}

	report.FinishedAt = time.Now()
	for _, rec := range r.records {
		report.Records = append(report.Records, migration.Summarize(rec))
	}
	s.persist(r, report)
	return report, nil
}

// preflight prepares the dump directory.
func (s *Service) preflight() error {
	if err := os.MkdirAll(s.cfg.DumpDir, 0o700); err != nil {
		return fmt.Errorf("failed to create dump directory: %w", err)
	}
	if s.cfg.MinFreeSpace == 0 {
		return nil
	}
	free, err := s.freeSpace(s.cfg.DumpDir)
	if err != nil {
		logger.Warn("Could not determine free space", "path", s.cfg.DumpDir, "error", err)
		return nil
	}
	if free < s.cfg.MinFreeSpace {
		return fmt.Errorf("dump directory %s has %d MiB free, %d MiB required",
			s.cfg.DumpDir, free>>20, s.cfg.MinFreeSpace>>20)
	}
	return nil
}

func (s *Service) discover(ctx context.Context, r *run) ([]*migration.MigrationRecord, error) {
	candidates, err := s.discoverer.Discover(ctx, discovery.Options{
		Root:     s.cfg.ServicesRoot,
		Engine:   s.cfg.Engine,
		EnvFiles: s.cfg.EnvFiles,
		Only:     s.cfg.Only,
	})
	if err != nil {
		return nil, err
	}

	records := make([]*migration.MigrationRecord, 0, len(candidates))
	for _, c := range candidates {
		rec := migration.NewRecord(c.Service)
		if c.Err != nil {
			r.log.Warn("Skipping service", "service", c.Service.Name, "reason", migration.Reason(c.Err), "error", c.Err)
			if err := rec.Skip(c.Err); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// claimDestinations fails every relational service whose database is
// already claimed by an earlier service, or whose user is shared with a
// different password. Records are in name order, so the first claimant wins.
func (s *Service) claimDestinations(r *run) {
	if !s.cfg.Engine.IsRelational() {
		return
	}
	type claim struct {
		service  string
		password string
	}
	databases := make(map[string]string)
	users := make(map[string]claim)
	for _, rec := range r.records {
		if rec.State.IsTerminal() {
			continue
		}
		svc := rec.Service()
		creds := svc.Credentials

		var err error
		if owner, ok := databases[creds.Database]; ok && creds.Database != "" {
			err = fmt.Errorf("%w: database %s is used by %s", migration.ErrDestinationConflict, creds.Database, owner)
		} else if c, ok := users[creds.User]; ok && creds.User != "" && c.password != creds.Password {
			err = fmt.Errorf("%w: user %s is used by %s with a different password", migration.ErrDestinationConflict, creds.User, c.service)
		}
		if err != nil {
			r.log.Error("Destination conflict", "service", svc.Name, "error", err)
			rec.Fail(migration.NewError(svc.Name, "discover", err))
			continue
		}

		databases[creds.Database] = svc.Name
		if _, ok := users[creds.User]; !ok {
			users[creds.User] = claim{service: svc.Name, password: creds.Password}
		}
	}
}

// dumpAll runs dumps under the bounded worker pool.
func (s *Service) dumpAll(ctx context.Context, r *run) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, rec := range r.records {
		if rec.State.IsTerminal() {
			continue
		}
		rec := rec
		g.Go(func() error {
			s.dump(ctx, r, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) dump(ctx context.Context, r *run, rec *migration.MigrationRecord) {
	svc := rec.Service()
	log := r.log.With("service", svc.Name)
	start := time.Now()

	artifact, err := s.engine.Dump(ctx, rec.Job, s.cfg.DumpDir)
	if err != nil {
		log.Error("Dump failed", "reason", migration.Reason(err), "error", err)
		rec.Fail(migration.NewError(svc.Name, "dump", err))
		return
	}
	rec.Job.Artifact = artifact
	for _, w := range artifact.Warnings {
		log.Warn("Dump warning", "warning", w)
	}
	if artifact.EmptyKeyspace {
		log.Info("Source is empty", "path", artifact.Path)
	}
	log.Info("Dumped", "path", artifact.Path, "bytes", artifact.Size, "expected", artifact.ExpectedCount, "duration", time.Since(start).Round(time.Millisecond))
	s.advance(log, rec, migration.StateDumped)
}

// archive uploads the valid artifacts. Failures are logged only.
func (s *Service) archive(ctx context.Context, r *run) {
	if s.archiver == nil {
		return
	}
	for _, rec := range r.records {
		if rec.State != migration.StateDumped {
			continue
		}
		if err := s.archiver.Upload(ctx, r.id, rec.Job.Artifact); err != nil {
			r.log.Warn("Archive upload failed", "service", rec.Service().Name, "error", err)
			rec.Warn("archive upload failed: %v", err)
		}
	}
}

// allocateIndexes gives every key-value service its own destination index,
// offset by its position in the sorted service list so reruns reuse the
// same index.
func (s *Service) allocateIndexes(r *run) {
	if s.cfg.Engine != migration.EngineRedis {
		return
	}
	for i, rec := range r.records {
		idx := s.cfg.IndexOffset + i
		rec.Job.TargetIndex = idx
		if rec.State.IsTerminal() {
			continue
		}
		if idx > s.cfg.MaxIndex {
			err := fmt.Errorf("%w: index %d exceeds maximum %d", migration.ErrIndexExhausted, idx, s.cfg.MaxIndex)
			r.log.Error("Cannot allocate index", "service", rec.Service().Name, "error", err)
			rec.Fail(migration.NewError(rec.Service().Name, "provision", err))
		}
	}
}

// loadAll provisions, imports and verifies every dumped service.
// Provisioning is serialized against the target; imports run on
// ImportWorkers goroutines.
func (s *Service) loadAll(ctx context.Context, r *run) {
	var provisionMu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.ImportWorkers)
	for _, rec := range r.records {
		if rec.State != migration.StateDumped {
			continue
		}
		rec := rec
		g.Go(func() error {
			s.load(ctx, r, rec, &provisionMu)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) load(ctx context.Context, r *run, rec *migration.MigrationRecord, provisionMu *sync.Mutex) {
	if r.aborted() != nil {
		return
	}
	svc := rec.Service()
	log := r.log.With("service", svc.Name)
	if s.cfg.Engine == migration.EngineRedis {
		log = log.With("index", rec.Job.TargetIndex)
	}

	provisionMu.Lock()
	err := s.engine.Provision(ctx, rec.Job)
	provisionMu.Unlock()
	if err != nil {
		if pingErr := s.engine.Ping(ctx); pingErr != nil {
			r.abort(pingErr)
			return
		}
		s.fail(r, log, rec, "provision", err)
		return
	}
	s.advance(log, rec, migration.StateProvisioned)

	var partial error
	if err := s.engine.Import(ctx, rec.Job); err != nil {
		if !errors.Is(err, migration.ErrImportPartial) {
			s.fail(r, log, rec, "import", err)
			return
		}
		partial = err
		log.Warn("Import reported errors, checking counts", "error", err)
		rec.Warn("%v", err)
	}
	s.advance(log, rec, migration.StateImported)

	res, err := s.engine.Verify(ctx, rec.Job)
	if err != nil {
		s.fail(r, log, rec, "verify", err)
		return
	}
	rec.Observed = res.Observed
	if !res.Valid {
		err := fmt.Errorf("%w: %s", migration.ErrVerificationMismatch, res)
		if partial != nil {
			err = fmt.Errorf("%w: %w", partial, err)
		}
		s.fail(r, log, rec, "verify", err)
		return
	}
	log.Info("Verified", "observed", res.Observed, "expected", res.Expected)
	s.advance(log, rec, migration.StateVerified)
}

// fail records a per-service failure unless the run is aborting, in which
// case the record is marked by the abort.
func (s *Service) fail(r *run, log *slog.Logger, rec *migration.MigrationRecord, phase string, err error) {
	if r.aborted() != nil {
		return
	}
	log.Error("Service failed", "phase", phase, "reason", migration.Reason(err), "error", err)
	rec.Fail(migration.NewError(rec.Service().Name, phase, err))
}

func (s *Service) advance(log *slog.Logger, rec *migration.MigrationRecord, to migration.State) {
	if err := rec.Advance(to); err != nil {
		log.Error("Invalid state transition", "error", err)
		rec.Fail(err)
	}
}

func (s *Service) persist(r *run, report *migration.Report) {
	if s.cfg.ReportFile != "" {
		if err := report.WriteYAML(s.cfg.ReportFile); err != nil {
			r.log.Warn("Failed to write report file", "path", s.cfg.ReportFile, "error", err)
		}
	}
	if s.history != nil {
		if _, err := s.history.Save(report); err != nil {
			r.log.Warn("Failed to save run history", "path", s.history.FilePath(), "error", err)
		}
	}
}
