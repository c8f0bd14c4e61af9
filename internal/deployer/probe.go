package deployer

import (
	"context"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// RuntimeProbe observes the container runtime. The probe is best
// effort: callers bound it with a short deadline and treat failures as
// "skip this cycle".
type RuntimeProbe interface {
	RunningContainers(ctx context.Context) (map[string]struct{}, error)
}

// DockerProbe lists running container names via the docker CLI.
type DockerProbe struct {
	bin string
	log *zap.Logger
}

func NewDockerProbe(bin string, log *zap.Logger) *DockerProbe {
	return &DockerProbe{bin: bin, log: log.Named("deployer.probe")}
}

func (p *DockerProbe) RunningContainers(ctx context.Context) (map[string]struct{}, error) {
	cmd := exec.CommandContext(ctx, p.bin, "ps", "--format", "{{.Names}}")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	running := make(map[string]struct{})
	for _, name := range strings.Split(string(out), "\n") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		running[name] = struct{}{}
	}
	return running, nil
}
