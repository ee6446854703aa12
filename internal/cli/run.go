package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/fasterkv/internal/config"
	"github.com/calvinalkan/fasterkv/pkg/store"
)

// app is the resolved environment shared by all commands.
type app struct {
	stdin   io.Reader
	env     map[string]string
	cfg     config.Config
	sources config.Sources
	logger  *slog.Logger
}

func (a *app) openStore() (*store.Store, error) {
	s, err := store.Open(a.cfg.StoreOptions(a.logger))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return s, nil
}

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the running command; nil disables this.
func Run(stdin io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	o := NewIO(out, errOut)

	globals := flag.NewFlagSet("fkv", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{}) // discard pflag output

	configPath := globals.StringP("config", "c", "", "Use specified config file")
	regionSize := globals.Int("region-size", 0, "Log region size in bytes")
	buckets := globals.Int("buckets", 0, "Hash index buckets (power of two)")
	logLevel := globals.String("log-level", "", "Log level: debug, info, warn, error")

	if len(args) > 0 {
		args = args[1:]
	}

	err := globals.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(o, globals)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		printUsageTo(errOut, globals, usageCommands())

		return 1
	}

	cfg, sources, err := config.Load(*configPath, config.Config{
		RegionSize:   *regionSize,
		IndexBuckets: *buckets,
		LogLevel:     *logLevel,
	}, env)
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	level, err := cfg.Level()
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	a := &app{
		stdin:   stdin,
		env:     env,
		cfg:     cfg,
		sources: sources,
		logger:  slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
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

	commands := []*Command{replCmd(a), benchCmd(a), printConfigCmd(a)}

	rest := globals.Args()
	name := "repl"

	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	if name == "help" {
		printUsage(o, globals)

		return 0
	}

	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(ctx, o, rest)
		}
	}

	o.ErrPrintln("error: unknown command:", name)
	printUsageTo(errOut, globals, commands)

	return 1
}

func printUsage(o *IO, globals *flag.FlagSet) {
	printUsageTo(o.out, globals, usageCommands())
}

// usageCommands returns the command list for help output only.
func usageCommands() []*Command {
	return []*Command{replCmd(nil), benchCmd(nil), printConfigCmd(nil)}
}

func printUsageTo(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	var buf strings.Builder

	globals.SetOutput(&buf)
	globals.PrintDefaults()

	_, _ = fmt.Fprintln(w, "fkv - in-memory fasterkv store")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage: fkv [options] [command] [args]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Global flags:")
	_, _ = fmt.Fprint(w, buf.String())
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Commands:")

	for _, cmd := range commands {
		_, _ = fmt.Fprintln(w, cmd.HelpLine())
	}
}

func replCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("repl", flag.ContinueOnError),
		Usage: "repl",
		Short: "Interactive shell (default)",
		Long:  "Open an empty store and read commands from stdin. Type 'help' inside for commands.",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			r := &REPL{store: s, io: o}

			// liner reads os.Stdin itself and falls back to plain line
			// reading when it is not a terminal.
			if a.stdin == os.Stdin {
				return runInteractive(ctx, r, a.env)
			}

			r.in = &scanReader{scanner: newScanner(a.stdin)}

			return r.Run(ctx)
		},
	}
}

func benchCmd(a *app) *Command {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	writers := fs.IntP("writers", "w", 4, "Concurrent writers")
	readers := fs.IntP("readers", "r", 4, "Concurrent readers")
	keys := fs.IntP("keys", "k", 1, "Keys shared by all writers")
	duration := fs.DurationP("duration", "d", time.Second, "Run time")
	sealEvery := fs.Duration("seal-every", 0, "Seal interval (0 disables)")

	return &Command{
		Flags: fs,
		Usage: "bench [flags]",
		Short: "Race writers against readers and report torn reads",
		Long: "Race writers of distinct homogeneous payloads against readers on a fresh store.\n" +
			"Fails if any read observed a mix of payloads.",
		Examples: []string{
			"bench -w 8 -r 8 -d 5s",
			"bench --keys 16 --seal-every 50ms",
			"--region-size 1073741824 bench -d 30s",
		},
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := RunBench(ctx, s, BenchOptions{
				Writers:   *writers,
				Readers:   *readers,
				Keys:      *keys,
				Duration:  *duration,
				SealEvery: *sealEvery,
			})
			if err != nil {
				return err
			}

			printBenchResult(o, res)

			// Partial results are still printed when interrupted.
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if res.Full {
				o.Warn("region filled up during bench: increase --region-size for longer runs")
			}

			if res.TornReads > 0 {
				return fmt.Errorf("%d torn reads", res.TornReads)
			}

			return nil
		},
	}
}

func printConfigCmd(a *app) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			formatted, err := config.Format(a.cfg)
			if err != nil {
				return err
			}

			o.Println(formatted)
			o.Println()
			o.Println("# sources")

			if a.sources.Global == "" && a.sources.Explicit == "" {
				o.Println("(defaults only)")

				return nil
			}

			if a.sources.Global != "" {
				o.Println("global_config=" + a.sources.Global)
			}

			if a.sources.Explicit != "" {
				o.Println("explicit_config=" + a.sources.Explicit)
			}

			return nil
		},
	}
}
