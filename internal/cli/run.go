package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
)

// Run is the main entry point. Returns exit code.
//
// A value on sigCh cancels the context passed to the running command.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("segkv", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use specified config `file`")
	segmentPath := globals.String("segment", "", "Segment file `path` (overrides config)")
	help := globals.BoolP("help", "h", false, "Show help")

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut)
		printUsage(errOut, globals, nil)

		return 1
	}

	rest := globals.Args()

	if *help || len(rest) == 0 {
		printUsage(out, globals, nil)

		return 0
	}

	if globals.Changed("segment") && *segmentPath == "" {
		fprintln(errOut, "error:", config.ErrSegmentPathEmpty)
		fprintln(errOut)
		printUsage(errOut, globals, nil)

		return 1
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: *workDir,
		ConfigPath:      *configPath,
		SegmentOverride: *segmentPath,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	commands := allCommands(&cfg, env)

	name := rest[0]

	cmd, ok := lookupCommand(commands, name)
	if !ok {
		fprintln(errOut, "error: unknown command:", name)
		fprintln(errOut)
		printUsage(errOut, globals, commands)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	return cmd.Run(ctx, NewIO(stdin, out, errOut), rest[1:])
}

func allCommands(cfg *config.Config, env map[string]string) []*Command {
	return []*Command{
		PutCmd(cfg),
		GetCmd(cfg),
		KeysCmd(cfg),
		StatCmd(cfg),
		VerifyCmd(cfg),
		RepairCmd(cfg),
		ExportCmd(cfg),
		ShellCmd(cfg, env),
		PrintConfigCmd(cfg),
	}
}

func lookupCommand(commands []*Command, name string) (*Command, bool) {
	for _, c := range commands {
		if c.Name() == name {
			return c, true
		}
	}

	return nil, false
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `segkv - append-only key-value segment store

Usage: segkv [global flags] <command> [args]`)
	fprintln(w)
	fprintln(w, "Global flags:")

	var buf strings.Builder
	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})

	_, _ = io.WriteString(w, buf.String())

	if commands == nil {
		commands = allCommands(&config.Config{}, nil)
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
