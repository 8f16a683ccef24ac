package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/pkg/redact"
	"gopkg.in/yaml.v3"
)

// Exit codes of a migration run.
const (
	ExitOK       = 0
	ExitFailures = 1
	ExitFatal    = 2
)

// RecordSummary is the reportable view of a MigrationRecord.
type RecordSummary struct {
	Service     string         `json:"service" yaml:"service"`
	Engine      EngineKind     `json:"engine" yaml:"engine"`
	Container   string         `json:"container,omitempty" yaml:"container,omitempty"`
	State       State          `json:"state" yaml:"state"`
	Reason      string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail      string         `json:"detail,omitempty" yaml:"detail,omitempty"`
	Expected    int64          `json:"expected" yaml:"expected"`
	Observed    int64          `json:"observed" yaml:"observed"`
	TargetIndex *int           `json:"target_index,omitempty" yaml:"target_index,omitempty"`
	Artifact    string         `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	Format      ArtifactFormat `json:"format,omitempty" yaml:"format,omitempty"`
	AuthTier    string         `json:"auth_tier,omitempty" yaml:"auth_tier,omitempty"`
	Warnings    []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Summarize builds the reportable view of a record.
func Summarize(r *MigrationRecord) RecordSummary {
	svc := r.Service()
	s := RecordSummary{
		Service:   svc.Name,
		Engine:    svc.Engine,
		Container: svc.Container,
		State:     r.State,
		Observed:  r.Observed,
		Warnings:  r.Warnings,
	}
	if r.Err != nil {
		s.Reason = Reason(r.Err)
		s.Detail = redact.Error(r.Err)
	}
	if a := r.Job.Artifact; a != nil {
		s.Expected = a.ExpectedCount
		s.Artifact = a.Path
		s.Format = a.Format
		s.AuthTier = a.AuthTier
		s.Warnings = append(append([]string{}, a.Warnings...), s.Warnings...)
	}
	if svc.Engine == EngineRedis && r.State != StateSkipped && r.Job.Artifact != nil {
		idx := r.Job.TargetIndex
		s.TargetIndex = &idx
	}
	return s
}

// Report is the final outcome of a run.
type Report struct {
	RunID       string          `json:"run_id" yaml:"run_id"`
	Engine      EngineKind      `json:"engine" yaml:"engine"`
	Method      RedisMethod     `json:"method,omitempty" yaml:"method,omitempty"`
	Target      string          `json:"target" yaml:"target"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" yaml:"finished_at"`
	Aborted     bool            `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	AbortReason string          `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	Records     []RecordSummary `json:"records" yaml:"records"`
}

// Counts returns the number of records per terminal state.
func (r *Report) Counts() map[State]int {
	counts := make(map[State]int)
	for _, rec := range r.Records {
		counts[rec.State]++
	}
	return counts
}

// ExitCode maps the report to the process exit code: 2 when the run was
// aborted, 1 when any service failed, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Aborted {
		return ExitFatal
	}
	for _, rec := range r.Records {
		if rec.State != StateVerified && rec.State != StateSkipped {
			return ExitFailures
		}
	}
	return ExitOK
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// WriteYAML writes the report to path.
func (r *Report) WriteYAML(path string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
