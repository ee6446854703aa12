package cli_test

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/calvinalkan/fasterkv/internal/cli"
)

// CLI runs fkv in-process with an isolated environment.
type CLI struct {
	t   *testing.T
	Dir string
	Env map[string]string
}

func NewCLI(t *testing.T) *CLI {
	t.Helper()

	dir := t.TempDir()

	return &CLI{
		t:   t,
		Dir: dir,
		Env: map[string]string{"HOME": dir, "XDG_CONFIG_HOME": dir},
	}
}

// Run executes fkv with small default sizes and returns stdout, stderr,
// and exit code. Args should not include "fkv".
func (c *CLI) Run(args ...string) (string, string, int) {
	return c.RunWithInput("", args...)
}

// RunWithInput executes fkv with stdin.
func (c *CLI) RunWithInput(stdin string, args ...string) (string, string, int) {
	return c.run(stdin, nil, args...)
}

// RunInterrupted executes fkv with an interrupt already queued on its
// signal channel.
func (c *CLI) RunInterrupted(args ...string) (string, string, int) {
	sigCh := make(chan os.Signal, 1)
	sigCh <- os.Interrupt

	return c.run("", sigCh, args...)
}

func (c *CLI) run(stdin string, sigCh <-chan os.Signal, args ...string) (string, string, int) {
	var outBuf, errBuf bytes.Buffer

	full := append([]string{"fkv", "--region-size", "1048576", "--buckets", "64"}, args...)

	var in io.Reader = strings.NewReader(stdin)

	code := cli.Run(in, &outBuf, &errBuf, full, c.Env, sigCh)

	return outBuf.String(), errBuf.String(), code
}

// MustRun fails the test if the command returns non-zero. Returns trimmed
// stdout.
func (c *CLI) MustRun(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code != 0 {
		c.t.Fatalf("command %v failed with exit code %d\nstderr: %s", args, code, stderr)
	}

	return strings.TrimSpace(stdout)
}

// MustFail fails the test if the command succeeds. Returns trimmed stderr.
func (c *CLI) MustFail(args ...string) string {
	c.t.Helper()

	stdout, stderr, code := c.Run(args...)
	if code == 0 {
		c.t.Fatalf("command %v should have failed but succeeded\nstdout: %s", args, stdout)
	}

	return strings.TrimSpace(stderr)
}
