package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// Credential strategy names, in the order they are attempted.
const (
	TierServiceUser         = "service-user"
	TierSuperuser           = "superuser"
	TierSuperuserNoPassword = "superuser-no-password"
	TierServicePassword     = "service-password"
	TierNoPassword          = "no-password"
)

// CredentialStrategy is one identity attempted when reading a source.
type CredentialStrategy struct {
	Name     string
	User     string
	Password string
}

// RelationalStrategies returns the fixed-priority identities for a SQL
// source: the service's own account, the superuser with the discovered
// superuser password, then the superuser without a password.
func RelationalStrategies(creds migration.CredentialSet, superuser string) []CredentialStrategy {
	strategies := []CredentialStrategy{{Name: TierServiceUser, User: creds.User, Password: creds.Password}}
	if creds.SuperuserPassword != "" {
		strategies = append(strategies, CredentialStrategy{Name: TierSuperuser, User: superuser, Password: creds.SuperuserPassword})
	}
	return append(strategies, CredentialStrategy{Name: TierSuperuserNoPassword, User: superuser})
}

// KeyspaceStrategies returns the identities for a key-value source.
func KeyspaceStrategies(creds migration.CredentialSet) []CredentialStrategy {
	var strategies []CredentialStrategy
	if creds.Password != "" {
		strategies = append(strategies, CredentialStrategy{Name: TierServicePassword, Password: creds.Password})
	}
	return append(strategies, CredentialStrategy{Name: TierNoPassword})
}

type stopError struct {
	err error
}

func (e *stopError) Error() string { return e.err.Error() }
func (e *stopError) Unwrap() error { return e.err }

// Stop marks an attempt error after which no further strategy is tried.
func Stop(err error) error {
	return &stopError{err: err}
}

// Iterate evaluates strategies in order and returns the first one whose
// attempt succeeds. When every attempt is rejected the error wraps
// migration.ErrAuthExhausted together with each rejection.
func Iterate(ctx context.Context, strategies []CredentialStrategy, attempt func(context.Context, CredentialStrategy) error) (CredentialStrategy, error) {
	var rejected *multierror.Error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return CredentialStrategy{}, err
		}
		err := attempt(ctx, s)
		if err == nil {
			return s, nil
		}
		var stop *stopError
		if errors.As(err, &stop) {
			return CredentialStrategy{}, stop.err
		}
		logger.Debug("Credential strategy rejected", "strategy", s.Name, "error", err)
		rejected = multierror.Append(rejected, fmt.Errorf("%s: %w", s.Name, err))
	}
	if rejected == nil {
		return CredentialStrategy{}, fmt.Errorf("%w: no strategies", migration.ErrAuthExhausted)
	}
	rejected.ErrorFormat = joinErrors
	return CredentialStrategy{}, fmt.Errorf("%w: %v", migration.ErrAuthExhausted, rejected)
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
