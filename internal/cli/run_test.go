package cli_test

import (
	"testing"

	"github.com/calvinalkan/segkv/internal/cli"
)

func Test_Usage_Printed_When_No_Command_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run()

	if got, want := exitCode, 0; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stderr, ""; got != want {
		t.Errorf("stderr=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stdout, "Usage: segkv")
	cli.AssertContains(t, stdout, "Commands:")
	cli.AssertContains(t, stdout, "put <key> [<value>] [flags]")
	cli.AssertContains(t, stdout, "print-config")
}

func Test_Invalid_Global_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, exitCode := c.Run("--invalid-flag", "keys")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	if got, want := stdout, ""; got != want {
		t.Errorf("stdout=%q, want=%q", got, want)
	}

	cli.AssertContains(t, stderr, "unknown flag")
	cli.AssertContains(t, stderr, "--invalid-flag")

	// Should show valid global options
	cli.AssertContains(t, stderr, "Global flags:")
	cli.AssertContains(t, stderr, "--help")
	cli.AssertContains(t, stderr, "--cwd")
	cli.AssertContains(t, stderr, "--config")
	cli.AssertContains(t, stderr, "--segment")
}

func Test_Empty_Segment_Flag_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--segment=", "keys")

	cli.AssertContains(t, stderr, "segment path cannot be empty")
	cli.AssertContains(t, stderr, "Global flags:")
}

func Test_Unknown_Command_When_Invoked(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("frobnicate")

	cli.AssertContains(t, stderr, "unknown command: frobnicate")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Command_Help_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("put", "--help")

	cli.AssertContains(t, stdout, "Usage: segkv put <key>")
	cli.AssertContains(t, stdout, "--stdin")
	cli.AssertContains(t, stdout, "--file")
}

func Test_Command_Flag_Error_Shows_Help_When_Flag_Unknown(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, stderr, exitCode := c.Run("stat", "--bogus")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	cli.AssertContains(t, stderr, "error: unknown flag: --bogus")
}
