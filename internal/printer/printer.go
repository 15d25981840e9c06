package printer

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
)

// Printer writes colored status lines for the augur CLI.
// Status output goes to out; errors go to errOut.
type Printer struct {
	out    io.Writer
	errOut io.Writer

	green  *color.Color
	yellow *color.Color
	red    *color.Color
	cyan   *color.Color
}

// New creates a printer. With noColor set, every line is written without escape codes.
func New(out, errOut io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:    out,
		errOut: errOut,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed, color.Bold),
		cyan:   color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{p.green, p.yellow, p.red, p.cyan} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return p
}

// Default writes to stdout and stderr and respects NO_COLOR.
func Default() *Printer {
	_, noColor := os.LookupEnv("NO_COLOR")
	return New(os.Stdout, os.Stderr, noColor)
}

// Out returns the writer used for status output.
func (p *Printer) Out() io.Writer {
	return p.out
}

// Success prints a success message in green with a checkmark
func (p *Printer) Success(format string, a ...any) {
	p.green.Fprintf(p.out, "✓ %s", fmt.Sprintf(format, a...))
}

// Info prints an informational message
func (p *Printer) Info(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Warning prints a warning message in yellow
func (p *Printer) Warning(format string, a ...any) {
	p.yellow.Fprintf(p.out, "⚠️  %s", fmt.Sprintf(format, a...))
}

// Step prints a step of a multi-step operation
func (p *Printer) Step(format string, a ...any) {
	p.cyan.Fprintf(p.out, "→ %s", fmt.Sprintf(format, a...))
}

// Error prints a formatted error to errOut and returns an error carrying only the title.
// Cobra is expected to run with SilenceErrors so the title is not printed twice.
func (p *Printer) Error(title string, explanation string, suggestions []string) error {
	return p.ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed between the explanation and the suggestions.
func (p *Printer) ErrorWithContext(title string, explanation string, details map[string]string, suggestions []string) error {
	p.red.Fprintf(p.errOut, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(p.errOut, "%s\n", explanation)
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintf(p.errOut, "\n")
		for _, k := range keys {
			fmt.Fprintf(p.errOut, "  %s: %s\n", k, details[k])
		}
	}

	p.suggest(suggestions)

	return fmt.Errorf("%s", title)
}

func (p *Printer) suggest(suggestions []string) {
	switch len(suggestions) {
	case 0:
		return
	case 1:
		fmt.Fprintf(p.errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.errOut, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, suggestion)
		}
	}
}
