package cli

import (
	"fmt"
	"io"
)

// IO handles command output. Warnings are collected and printed to stderr
// both before the first stdout line and at the end, so they survive head/tail.
type IO struct {
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	warnings []string
	started  bool
}

// NewIO creates a new IO instance.
func NewIO(in io.Reader, out, errOut io.Writer) *IO {
	return &IO{in: in, out: out, errOut: errOut}
}

// Warn adds an actionable warning.
//
// Parameters:
//   - issue: what went wrong
//   - action: what the user should do about it
//
// Output to stdout still occurs; warnings don't suppress normal output.
// Any warnings cause exit code 1.
func (o *IO) Warn(issue string, action string) {
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %s", issue, action))
}

// Stdin returns the command input. Never nil.
func (o *IO) Stdin() io.Reader {
	if o.in == nil {
		return eofReader{}
	}

	return o.in
}

// Println writes to stdout. On first call, any collected warnings
// are printed to stderr first.
func (o *IO) Println(a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout. On first call, any collected
// warnings are printed to stderr first.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// Write writes raw bytes to stdout.
func (o *IO) Write(p []byte) (int, error) {
	o.flushWarningsStart()

	return o.out.Write(p)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints warnings to stderr and returns exit code.
// Returns 1 if any warnings, 0 otherwise.
func (o *IO) Finish() int {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	if len(o.warnings) > 0 {
		return 1
	}

	return 0
}

func (o *IO) flushWarningsStart() {
	if !o.started && len(o.warnings) > 0 {
		for _, w := range o.warnings {
			_, _ = fmt.Fprintln(o.errOut, "warning:", w)
		}
	}

	o.started = true
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
