package keyring

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Invocation is one call of the gpg binary.
type Invocation struct {
	Args  []string
	Stdin []byte
}

// Output is what the binary produced. A non-zero ExitCode is not an error
// by itself; callers read the status lines to decide.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes gpg. Run returns an error only when the process could
// not be started or was cancelled.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Output, error)
}

type execRunner struct {
	binary string
}

// NewExecRunner resolves binary on PATH.
func NewExecRunner(binary string) (Runner, error) {
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, err
	}
	return &execRunner{binary: path}, nil
}

func (r *execRunner) Run(ctx context.Context, inv Invocation) (Output, error) {
	cmd := exec.CommandContext(ctx, r.binary, inv.Args...)
	if inv.Stdin != nil {
		cmd.Stdin = bytes.NewReader(inv.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, err
	}
	return out, nil
}
