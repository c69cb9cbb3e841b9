package testutils

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
)

// Cmd is an rctl binary invocation.
type Cmd struct {
	Binary string
	// Env is appended to the process environment, entries here win.
	Env []string
	// Quiet disables the rctl logger so stderr only holds command errors.
	Quiet bool
}

// Run executes the binary with args, a whitespace separated list of arguments.
func (c Cmd) Run(ctx context.Context, args string) (stdout, stderr []byte, err error) {
	return c.RunArgs(ctx, strings.Fields(args)...)
}

// RunArgs executes the binary with already split arguments.
func (c Cmd) RunArgs(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	env := append(os.Environ(), c.Env...)
	if c.Quiet {
		env = append(env, "RCTL_NO_LOG=true")
	}

	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Env = env
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	err = cmd.Run()
	return out.Bytes(), errOut.Bytes(), err
}
