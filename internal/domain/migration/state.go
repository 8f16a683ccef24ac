package migration

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a service within a run.
type State string

const (
	StateDiscovered  State = "discovered"
	StateDumped      State = "dumped"
	StateProvisioned State = "provisioned"
	StateImported    State = "imported"
	StateVerified    State = "verified"
	StateSkipped     State = "skipped"
	StateFailed      State = "failed"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if no further transition can happen.
func (s State) IsTerminal() bool {
	return s == StateVerified || s == StateSkipped || s == StateFailed
}

// Failures during a phase are recorded from the state the phase started in,
// so a dump failure leaves Discovered.
var transitions = map[State][]State{
	StateDiscovered:  {StateDumped, StateSkipped, StateFailed},
	StateDumped:      {StateProvisioned, StateFailed},
	StateProvisioned: {StateImported, StateFailed},
	StateImported:    {StateVerified, StateFailed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from" yaml:"from"`
	To   State     `json:"to" yaml:"to"`
	At   time.Time `json:"at" yaml:"at"`
}

// MigrationRecord tracks one service through a run. A record is only ever
// mutated by the goroutine currently running a phase for its service.
type MigrationRecord struct {
	Job      *Job
	State    State
	Err      error
	Observed int64
	Warnings []string
	History  []Transition
}

// NewRecord creates a record in the Discovered state.
func NewRecord(svc *ServiceInstance) *MigrationRecord {
	return &MigrationRecord{
		Job:   &Job{Service: svc},
		State: StateDiscovered,
	}
}

// Service returns the service the record tracks.
func (r *MigrationRecord) Service() *ServiceInstance {
	return r.Job.Service
}

// Advance moves the record to the given state.
func (r *MigrationRecord) Advance(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("invalid transition for %s: %s -> %s", r.Job.Service.Name, r.State, to)
	}
	r.History = append(r.History, Transition{From: r.State, To: to, At: time.Now()})
	r.State = to
	return nil
}

// Skip marks the record Skipped with the given reason.
func (r *MigrationRecord) Skip(err error) error {
	if err := r.Advance(StateSkipped); err != nil {
		return err
	}
	r.Err = err
	return nil
}

// Fail marks the record Failed with the given reason. Failing a record that
// is already terminal is a no-op and keeps the first reason.
func (r *MigrationRecord) Fail(err error) {
	if r.State.IsTerminal() {
		return
	}
	r.History = append(r.History, Transition{From: r.State, To: StateFailed, At: time.Now()})
	r.State = StateFailed
	r.Err = err
}

// Warn appends a non-fatal note to the record.
func (r *MigrationRecord) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
