package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/calvinalkan/fasterkv/pkg/store"
)

var errQuit = errors.New("quit")

// lineReader is the subset of [liner.State] the REPL needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// scanReader reads lines from a non-terminal stdin.
type scanReader struct {
	scanner *bufio.Scanner
}

func (r *scanReader) Prompt(string) (string, error) {
	if !r.scanner.Scan() {
		err := r.scanner.Err()
		if err == nil {
			err = io.EOF
		}

		return "", err
	}

	return r.scanner.Text(), nil
}

func (r *scanReader) AppendHistory(string) {}

// maxLineSize bounds a single REPL line read from a non-terminal stdin.
const maxLineSize = 1 << 20

func newScanner(in io.Reader) *bufio.Scanner {
	if in == nil {
		in = strings.NewReader("")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return scanner
}

var replCommands = []string{
	"put", "get", "seal", "stats",
	"export", "import", "bench",
	"help", "exit", "quit", "q",
}

// REPL is the interactive command loop over an open store.
type REPL struct {
	store *store.Store
	io    *IO
	in    lineReader
}

// historyFile returns the path to the history file, or "" if HOME is unset.
func historyFile(env map[string]string) string {
	home := env["HOME"]
	if home == "" {
		return ""
	}

	return filepath.Join(home, ".fkv_history")
}

// runInteractive drives r with liner on the terminal, keeping history.
func runInteractive(ctx context.Context, r *REPL, env map[string]string) error {
	state := liner.NewLiner()
	defer state.Close()

	state.SetCtrlCAborts(true)
	state.SetCompleter(complete)

	path := historyFile(env)

	if f, err := os.Open(path); err == nil { //nolint:gosec // history path derived from HOME
		_, _ = state.ReadHistory(f)
		_ = f.Close()
	}

	r.in = state

	err := r.Run(ctx)

	if path != "" {
		if f, createErr := os.Create(path); createErr == nil { //nolint:gosec // history path derived from HOME
			_, _ = state.WriteHistory(f)
			_ = f.Close()
		}
	}

	return err
}

// complete provides tab completion for commands.
func complete(line string) []string {
	var completions []string

	lower := strings.ToLower(line)
	for _, cmd := range replCommands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}

	return completions
}

// Run reads and executes lines until exit, EOF, Ctrl-C, or ctx ends.
// Command errors are printed and do not stop the loop.
func (r *REPL) Run(ctx context.Context) error {
	r.io.Println("fkv - in-memory fasterkv store")
	r.io.Println("Type 'help' for available commands.")

	for ctx.Err() == nil {
		line, err := r.in.Prompt("fkv> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				r.io.Println("Bye!")

				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.in.AppendHistory(line)

		err = r.Exec(ctx, line)
		if errors.Is(err, errQuit) {
			r.io.Println("Bye!")

			return nil
		}

		if err != nil {
			r.io.Println("error:", err)
		}
	}

	return ctx.Err()
}

// Exec runs a single REPL line. Returns errQuit for exit commands.
func (r *REPL) Exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "exit", "quit", "q":
		return errQuit
	case "help", "?":
		r.printHelp()

		return nil
	case "put":
		return r.cmdPut(rest)
	case "get":
		return r.cmdGet(args)
	case "seal":
		return r.cmdSeal(ctx)
	case "stats":
		return r.cmdStats()
	case "export":
		return r.cmdExport(args)
	case "import":
		return r.cmdImport(args)
	case "bench":
		return r.cmdBench(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (r *REPL) printHelp() {
	r.io.Println("Commands:")
	r.io.Println("  put <key> <value>                       Insert or update a key")
	r.io.Println("  get <key>                               Print the value of a key")
	r.io.Println("  seal                                    Make all records so far read-only")
	r.io.Println("  stats                                   Show store counters")
	r.io.Println("  export <file>                           Write all pairs to a dump file")
	r.io.Println("  import <file>                           Load pairs from a dump file")
	r.io.Println("  bench [writers] [readers] [duration]    Race writers against readers")
	r.io.Println("  help                                    Show this help")
	r.io.Println("  exit / quit / q                         Exit")
	r.io.Println()
	r.io.Println("Values run to the end of the line and may contain spaces.")
}

func (r *REPL) cmdPut(rest string) error {
	key, value, ok := strings.Cut(rest, " ")
	if !ok && key == "" {
		return errors.New("usage: put <key> <value>")
	}

	err := r.store.Put([]byte(key), []byte(value))
	if err != nil {
		return err
	}

	r.io.Println("OK")

	return nil
}

func (r *REPL) cmdGet(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}

	value, found, err := r.store.Get([]byte(args[0]), nil)
	if err != nil {
		return err
	}

	if !found {
		r.io.Println("(not found)")

		return nil
	}

	r.io.Println(string(value))

	return nil
}

func (r *REPL) cmdSeal(ctx context.Context) error {
	err := r.store.Seal(ctx)
	if err != nil {
		return err
	}

	stats, err := r.store.Stats()
	if err != nil {
		return err
	}

	r.io.Printf("sealed at %d\n", stats.ReadOnlyAddress)

	return nil
}

func (r *REPL) cmdStats() error {
	st, err := r.store.Stats()
	if err != nil {
		return err
	}

	printStats(r.io, st)

	return nil
}

func printStats(o *IO, st store.Stats) {
	o.Printf("in_place_updates=%d\n", st.InPlaceUpdates)
	o.Printf("appends=%d\n", st.Appends)
	o.Printf("relocations=%d\n", st.Relocations)
	o.Printf("abandoned_bytes=%d\n", st.AbandonedBytes)
	o.Printf("read_retries=%d\n", st.ReadRetries)
	o.Printf("tail=%d\n", st.TailAddress)
	o.Printf("read_only=%d\n", st.ReadOnlyAddress)
	o.Printf("safe_read_only=%d\n", st.SafeReadOnlyAddress)
	o.Printf("region_size=%d\n", st.RegionSize)
	o.Printf("buckets_used=%d/%d\n", st.BucketsUsed, st.Buckets)
}

func (r *REPL) cmdExport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <file>")
	}

	n, err := r.store.Export(args[0])
	if err != nil {
		return err
	}

	r.io.Printf("exported %d pairs to %s\n", n, args[0])

	return nil
}

func (r *REPL) cmdImport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: import <file>")
	}

	n, err := r.store.Import(args[0])
	if err != nil {
		return fmt.Errorf("after %d pairs: %w", n, err)
	}

	r.io.Printf("imported %d pairs from %s\n", n, args[0])

	return nil
}

func (r *REPL) cmdBench(ctx context.Context, args []string) error {
	opts := BenchOptions{Writers: 4, Readers: 4, Keys: 1, Duration: time.Second}

	if len(args) > 3 {
		return errors.New("usage: bench [writers] [readers] [duration]")
	}

	var err error

	if len(args) > 0 {
		opts.Writers, err = strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("writers: %w", err)
		}
	}

	if len(args) > 1 {
		opts.Readers, err = strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("readers: %w", err)
		}
	}

	if len(args) > 2 {
		opts.Duration, err = time.ParseDuration(args[2])
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
	}

	res, err := RunBench(ctx, r.store, opts)
	if err != nil {
		return err
	}

	printBenchResult(r.io, res)

	if res.TornReads > 0 {
		return fmt.Errorf("%d torn reads", res.TornReads)
	}

	return nil
}
