package container

import (
	"context"
	"fmt"

	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/runtime"
)

// New returns an executor for the requested runtime. In auto mode the Docker
// Engine API is preferred and a docker or podman binary is the fallback.
func New(ctx context.Context, rt runtime.ContainerRuntime) (Executor, error) {
	switch rt {
	case runtime.RuntimeDocker:
		return NewDockerExecutor(ctx)
	case runtime.RuntimeDockerCLI, runtime.RuntimePodman:
		if _, err := runtime.DetectSpecific(ctx, rt); err != nil {
			return nil, err
		}
		return NewCLIExecutor(rt.Binary()), nil
	case runtime.RuntimeAuto:
		d, err := NewDockerExecutor(ctx)
		if err == nil {
			return d, nil
		}
		logger.Debug("Docker API unavailable, looking for a CLI runtime", "error", err)
		info, err := runtime.Detect(ctx)
		if err != nil {
			return nil, err
		}
		logger.Debug("Using container CLI", "runtime", info.Runtime, "version", info.Version)
		return NewCLIExecutor(info.Runtime.Binary()), nil
	default:
		return nil, fmt.Errorf("invalid runtime: %s", rt)
	}
}
