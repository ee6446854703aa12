package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fasterkv/pkg/store"
)

// Exit codes returned by [Command.Run].
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130 // 128 + SIGINT, as shells report it
)

// Command is one fkv subcommand: its flags, help text and body.
type Command struct {
	// Flags holds command-specific flags. The FlagSet name is unused;
	// the command is identified by the first word of Usage.
	Flags *flag.FlagSet

	// Usage follows "fkv" in help output, e.g. "bench [flags]".
	Usage string

	// Short is the line shown in the global command listing.
	Short string

	// Long is the description shown by "fkv <cmd> --help". Falls back to
	// Short.
	Long string

	// Examples are printed verbatim under "Examples:" in command help.
	Examples []string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the short help line for the main usage display.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-22s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help output for "fkv <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: fkv", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}

	if len(c.Examples) > 0 {
		o.Println()
		o.Println("Examples:")

		for _, ex := range c.Examples {
			o.Println("  fkv " + ex)
		}
	}
}

// Run parses flags and executes the command. Returns the exit code.
//
// Exec errors are printed as "error: ..." and exit 1. A canceled context
// (signal) exits 130. A full region adds a hint about --region-size.
// Warnings collected through [IO.Warn] turn a clean run into exit 1.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return exitOK
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return exitFailure
	}

	err = c.Exec(ctx, o, c.Flags.Args())

	switch {
	case err == nil:
		return o.Finish()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		o.ErrPrintln("interrupted")

		return exitInterrupted
	case errors.Is(err, store.ErrFull):
		o.ErrPrintln("error:", err)
		o.ErrPrintln("hint: space is never reclaimed; rerun with a larger --region-size")

		return exitFailure
	default:
		o.ErrPrintln("error:", err)

		return exitFailure
	}
}
