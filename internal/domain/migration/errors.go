package migration

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Every per-service error recorded on a MigrationRecord
// wraps exactly one of these.
var (
	ErrCredentialMissing    = errors.New("incomplete credentials")
	ErrAuthExhausted        = errors.New("dump authentication exhausted")
	ErrDumpEmpty            = errors.New("dump produced no output")
	ErrContainerNotFound    = errors.New("container not found")
	ErrTargetUnreachable    = errors.New("target unreachable")
	ErrImportPartial        = errors.New("import finished with errors")
	ErrUnsupportedKeyType   = errors.New("unsupported key type")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrIndexExhausted       = errors.New("no free destination index")
	ErrReadinessTimeout     = errors.New("instance not ready before timeout")
	ErrPrivilegedUser       = errors.New("service user is a target administrator")
	ErrDestinationConflict  = errors.New("destination claimed by another service")
)

var reasonNames = []struct {
	err  error
	name string
}{
	{ErrTargetUnreachable, "TargetUnreachable"},
	{ErrCredentialMissing, "CredentialMissing"},
	{ErrAuthExhausted, "AuthExhausted"},
	{ErrDumpEmpty, "DumpEmpty"},
	{ErrContainerNotFound, "ContainerNotFound"},
	{ErrImportPartial, "ImportPartial"},
	{ErrUnsupportedKeyType, "UnsupportedKeyType"},
	{ErrVerificationMismatch, "VerificationMismatch"},
	{ErrIndexExhausted, "IndexExhausted"},
	{ErrReadinessTimeout, "ReadinessTimeout"},
	{ErrPrivilegedUser, "PrivilegedUser"},
	{ErrDestinationConflict, "DestinationConflict"},
}

// Reason returns the taxonomy name of err, or "Error" when err does not
// wrap a known sentinel.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasonNames {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "Error"
}

// Error is a per-service failure annotated with the phase it happened in.
type Error struct {
	Service string
	Phase   string
	Err     error
}

// NewError wraps err for the given service and phase.
func NewError(service, phase string, err error) *Error {
	return &Error{Service: service, Phase: phase, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Phase, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTargetUnreachable)
}
