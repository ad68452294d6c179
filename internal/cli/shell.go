package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/segkv/internal/config"
	"github.com/calvinalkan/segkv/pkg/segment"
)

// ShellCmd returns the shell command.
func ShellCmd(cfg *config.Config, env map[string]string) *Command {
	return &Command{
		Flags: flag.NewFlagSet("shell", flag.ContinueOnError),
		Usage: "shell",
		Short: "Interactive prompt on one open segment",
		Long: `Open the segment for writing and read commands interactively.
The writer lock is held until the shell exits. Type 'help' for commands.

When stdin is not the terminal, commands are read one per line without a
prompt, which makes the shell scriptable.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execShell(ctx, o, cfg, env)
		},
	}
}

// lineReader is the subset of [liner.State] the shell uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

// scanReader reads commands from a non-interactive input.
type scanReader struct {
	sc *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if r.sc.Scan() {
		return r.sc.Text(), nil
	}

	if err := r.sc.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

func (*scanReader) AppendHistory(string) {}

func (*scanReader) Close() error { return nil }

var shellCommands = []string{
	"put", "get", "keys", "stat", "verify", "help", "exit", "quit",
}

// shell is the interactive command loop.
type shell struct {
	seg   *segment.Segment
	o     *IO
	lines lineReader
}

func execShell(ctx context.Context, o *IO, cfg *config.Config, env map[string]string) error {
	s, err := openWriter(cfg)
	if err != nil {
		return err
	}

	sh := &shell{seg: s, o: o}

	var state *liner.State

	if f, ok := o.Stdin().(*os.File); ok && f == os.Stdin {
		state = liner.NewLiner()
		state.SetCtrlCAborts(true)
		state.SetCompleter(completeShell)
		loadHistory(state, env)

		sh.lines = state

		o.Printf("segkv shell on %s\n", s.Path())
		o.Println("Type 'help' for available commands.")
	} else {
		sh.lines = &scanReader{sc: bufio.NewScanner(o.Stdin())}
	}

	loopErr := sh.loop(ctx)

	if state != nil {
		saveHistory(state, env)
	}

	return errors.Join(loopErr, sh.lines.Close(), s.Close())
}

func (sh *shell) loop(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := sh.lines.Prompt("segkv> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sh.lines.AppendHistory(line)

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimLeft(rest, " ")

		switch strings.ToLower(cmd) {
		case "exit", "quit", "q":
			return nil
		case "help", "?":
			sh.printHelp()
		case "put":
			sh.put(rest)
		case "get":
			sh.get(rest)
		case "keys", "ls":
			sh.keys()
		case "stat":
			sh.stat()
		case "verify":
			sh.verify()
		default:
			sh.o.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}

	return nil
}

// put stores the rest of the line after the key verbatim.
func (sh *shell) put(rest string) {
	key, value, ok := strings.Cut(rest, " ")
	if key == "" || !ok {
		sh.o.Println("usage: put <key> <value>")

		return
	}

	err := sh.seg.Put(key, []byte(value))
	if err != nil {
		sh.printErr(err)

		return
	}

	sh.o.Printf("ok: put %s (%d bytes)\n", key, len(value))
}

func (sh *shell) get(key string) {
	if key == "" || strings.Contains(key, " ") {
		sh.o.Println("usage: get <key>")

		return
	}

	value, err := sh.seg.Get(key)
	if err != nil {
		if errors.Is(err, segment.ErrKeyNotFound) || errors.Is(err, segment.ErrEmptySegment) {
			sh.o.Println("(not found)")

			return
		}

		sh.printErr(err)

		return
	}

	sh.o.Printf("%s\n", value)
}

func (sh *shell) keys() {
	keys, err := sh.seg.Keys()
	if errors.Is(err, segment.ErrEmptySegment) {
		sh.o.Println("(empty)")

		return
	}

	if err != nil {
		sh.printErr(err)

		return
	}

	for _, k := range keys {
		sh.o.Println(k)
	}

	sh.o.Printf("(%d keys)\n", len(keys))
}

func (sh *shell) stat() {
	st, err := sh.seg.Stat()
	if err != nil {
		sh.printErr(err)

		return
	}

	sh.o.Printf("file_size=%d snapshot_offset=%d entries=%d dead_bytes=%d\n",
		st.FileSize, st.SnapshotOffset, st.Entries, st.DeadBytes)
}

func (sh *shell) verify() {
	err := sh.seg.Verify()
	if err != nil && !errors.Is(err, segment.ErrEmptySegment) {
		sh.printErr(err)

		return
	}

	sh.o.Println("ok")
}

func (sh *shell) printErr(err error) {
	sh.o.Println("error:", err)

	if segment.NeedsRepair(err) {
		sh.o.Println("hint: exit the shell and run 'segkv repair'")
	}
}

func (sh *shell) printHelp() {
	sh.o.Println("Commands:")
	sh.o.Println("  put <key> <value>   Store value (rest of the line) under key")
	sh.o.Println("  get <key>           Print the value for key")
	sh.o.Println("  keys                List keys in index order")
	sh.o.Println("  stat                Show space usage")
	sh.o.Println("  verify              Check the index against the data")
	sh.o.Println("  help                Show this help")
	sh.o.Println("  exit / quit / q     Exit")
}

func completeShell(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range shellCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// historyFile returns the path to the history file, or "" without a home.
func historyFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".segkv_history")
}

func loadHistory(state *liner.State, env map[string]string) {
	path := historyFile(env)
	if path == "" {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return
	}

	_, _ = state.ReadHistory(f)
	_ = f.Close()
}

func saveHistory(state *liner.State, env map[string]string) {
	path := historyFile(env)
	if path == "" {
		return
	}

	f, err := os.Create(path)
	if err != nil {
		return
	}

	_, _ = state.WriteHistory(f)
	_ = f.Close()
}
