// Package deployer wraps the external provisioning tooling. The
// executables are opaque collaborators with a fixed argument contract
// and an exit-code protocol; nothing here knows how they provision.
package deployer

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type Verb string

const (
	VerbStart   Verb = "start"
	VerbStop    Verb = "stop"
	VerbRestart Verb = "restart"
	VerbRemove  Verb = "remove"
)

// DeploySpec carries the positional arguments of the deploy script:
// name, domain, port, version, admin credential, feature list.
type DeploySpec struct {
	Name          string
	Domain        string
	Port          int
	Version       string
	AdminPassword string
	Features      []string
}

// Result captures one invocation of the external tooling.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner invokes the provisioning executables. Callers bound every
// invocation with a context deadline; a nonzero exit comes back in the
// Result, any other failure (including the deadline) as an error.
type Runner interface {
	Deploy(ctx context.Context, spec DeploySpec) (*Result, error)
	Command(ctx context.Context, verb Verb, name string) (*Result, error)
}

// ScriptRunner runs the shell tooling inherited from the deployer
// directory: deploy-instance.sh for provisioning, manage-instances.sh
// for lifecycle verbs.
type ScriptRunner struct {
	deployScript string
	manageScript string
	log          *zap.Logger
}

func NewScriptRunner(deployScript, manageScript string, log *zap.Logger) *ScriptRunner {
	return &ScriptRunner{
		deployScript: deployScript,
		manageScript: manageScript,
		log:          log.Named("deployer"),
	}
}

func (r *ScriptRunner) Deploy(ctx context.Context, spec DeploySpec) (*Result, error) {
	args := []string{
		r.deployScript,
		spec.Name,
		spec.Domain,
		strconv.Itoa(spec.Port),
		spec.Version,
		spec.AdminPassword,
		strings.Join(spec.Features, ","),
	}
	return r.run(ctx, args)
}

func (r *ScriptRunner) Command(ctx context.Context, verb Verb, name string) (*Result, error) {
	return r.run(ctx, []string{r.manageScript, string(verb), name})
}

func (r *ScriptRunner) run(ctx context.Context, args []string) (*Result, error) {
	cmd := exec.CommandContext(ctx, "bash", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			r.log.Warn("deployer exited nonzero",
				zap.Strings("args", args[:2]),
				zap.Int("exit_code", res.ExitCode),
			)
			return res, nil
		}
		return res, err
	}
	return res, nil
}
