package container

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// Default readiness polling parameters.
const (
	DefaultReadyTimeout  = 30 * time.Second
	DefaultReadyInterval = 500 * time.Millisecond
)

// Instances runs helper containers under an acquire, use, release discipline.
type Instances struct {
	Executor Executor
	Timeout  time.Duration
	Interval time.Duration
}

// With creates, seeds, starts and waits for a helper container, then calls fn
// with its name. The container is removed on every exit path, including when
// fn fails or ctx is cancelled; a removal failure is combined with the
// returned error.
func (in *Instances) With(ctx context.Context, spec InstanceSpec, fn func(name string) error) (err error) {
	if err := in.Executor.Create(ctx, spec); err != nil {
		return err
	}
	log := logger.With("instance", spec.Name)
	log.Debug("Helper container created", "image", spec.Image)

	defer func() {
		// Release with a context that survives cancellation of ctx.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if rmErr := in.Executor.Remove(releaseCtx, spec.Name); rmErr != nil {
			log.Error("Failed to remove helper container", "error", rmErr)
			if err == nil {
				err = rmErr
			} else {
				err = multierror.Append(err, rmErr)
			}
			return
		}
		log.Debug("Helper container removed")
	}()

	if spec.Seed != nil {
		if err := in.Executor.CopyTo(ctx, spec.Name, spec.Seed.Dir, spec.Seed.Name, spec.Seed.HostPath); err != nil {
			return fmt.Errorf("failed to seed helper container: %w", err)
		}
	}

	if err := in.Executor.Start(ctx, spec.Name); err != nil {
		return err
	}

	if len(spec.ReadyCmd) > 0 {
		if err := in.waitReady(ctx, spec); err != nil {
			return err
		}
	}

	return fn(spec.Name)
}

// waitReady polls ReadyCmd until it prints ReadyOutput or the timeout expires.
func (in *Instances) waitReady(ctx context.Context, spec InstanceSpec) error {
	timeout := in.Timeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	interval := in.Interval
	if interval <= 0 {
		interval = DefaultReadyInterval
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		res, err := in.Executor.Exec(ctx, ExecRequest{Container: spec.Name, Cmd: spec.ReadyCmd})
		switch {
		case err != nil:
			lastErr = err
		case res.Success() && strings.Contains(string(res.Stdout), spec.ReadyOutput):
			return nil
		default:
			lastErr = res.ExitError(strings.Join(spec.ReadyCmd, " "))
		}

		select {
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s: %v", migration.ErrReadinessTimeout, spec.Name, timeout, lastErr)
		case <-ticker.C:
		}
	}
}
