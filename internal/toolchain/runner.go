package toolchain

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-logr/logr"

	"github.com/appkins-org/go-socbuild/internal/socerr"
)

// outputTail is how many lines of tool output are kept in errors.
const outputTail = 20

// Runner executes an external tool in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	Log logr.Logger
}

func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	r.Log.V(1).Info("running tool", "tool", name, "args", args, "dir", dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, socerr.Wrap(socerr.ExternalToolFailure, name, fmt.Errorf("%w\nOutput: %s", err, tail(output, outputTail)))
	}
	return output, nil
}

func tail(output []byte, n int) string {
	lines := strings.Split(strings.TrimRight(string(output), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
