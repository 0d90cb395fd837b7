package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/odvcencio/appbridge/pkg/config"
	apperrors "github.com/odvcencio/appbridge/pkg/errors"
	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/terminal"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// cli carries the global flags and output streams. Command output goes to
// stdout; status lines, logs and traces go to stderr.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	trace      bool
	noColor    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	if val, ok := parseBoolEnv("NO_COLOR"); ok {
		c.noColor = val
	}

	fs := flag.NewFlagSet("appbridge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { c.printHelp() }
	fs.StringVar(&c.configPath, "config", "", "load configuration from this file instead of the default locations")
	fs.BoolVar(&c.trace, "trace", false, "write OpenTelemetry spans to stderr")
	fs.BoolVar(&c.noColor, "no-color", c.noColor, "disable styled output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}

	rest := fs.Args()
	if len(rest) == 0 {
		c.printHelp()
		return exitUsage
	}
	switch rest[0] {
	case "version", "--version", "-v":
		c.printVersion()
		return 0
	case "help":
		c.printHelp()
		return 0
	case "locate":
		return c.runCommand(ctx, c.runLocate, rest[1:])
	case "compose":
		return c.runCommand(ctx, c.runCompose, rest[1:])
	case "exec":
		return c.runCommand(ctx, c.runExec, rest[1:])
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", rest[0])
		c.printHelp()
		return exitUsage
	}
}

func (c *cli) runCommand(ctx context.Context, handler func(context.Context, []string) error, args []string) int {
	err := handler(ctx, args)
	if err == nil {
		return 0
	}
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if !alreadyReported(err) {
		c.reportError(err)
	}
	return exitCodeForError(err)
}

// reportError prints err, using the structured form when there is one.
func (c *cli) reportError(err error) {
	var structured *apperrors.Error
	if errors.As(err, &structured) && (len(structured.Details) > 0 || len(structured.Remediation) > 0) {
		fmt.Fprint(c.stderr, "Error: "+structured.Format())
		return
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
}

func (c *cli) printHelp() {
	w := c.stderr
	fmt.Fprintln(w, "appbridge - drive desktop and mobile app builds from tests")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  appbridge [FLAGS] <COMMAND> [ARGS]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  locate [target flags] [-json]          Resolve the app binary and list every attempt")
	fmt.Fprintln(w, "  compose [target flags] [-instance n]   Print the merged session capabilities as JSON")
	fmt.Fprintln(w, "  exec [target flags] <script> [args]    Launch a session and run a script in the app")
	fmt.Fprintln(w, "  version                                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FLAGS:")
	fmt.Fprintln(w, "  -config <path>   Configuration file (default ~/.appbridge and ./.appbridge)")
	fmt.Fprintln(w, "  -trace           Write OpenTelemetry spans to stderr")
	fmt.Fprintln(w, "  -no-color        Disable styled output")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "TARGET FLAGS:")
	fmt.Fprintln(w, "  -framework tauri|flutter|electron  -root <dir>  -platform <os>")
	fmt.Fprintln(w, "  -mode debug|release  -path <binary>  -name <app>  -arch <arch>  -flavor <flavor>")
}

func (c *cli) printVersion() {
	fmt.Fprintf(c.stdout, "appbridge %s\n", version)
	if commit != "unknown" {
		fmt.Fprintf(c.stdout, "  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Fprintf(c.stdout, "  Built:      %s\n", buildDate)
	}
	fmt.Fprintf(c.stdout, "  Go version: %s\n", runtime.Version())
}

func (c *cli) status() *terminal.Writer {
	if c.noColor {
		return terminal.New(c.stderr, terminal.WithColor(false))
	}
	return terminal.New(c.stderr)
}

func (c *cli) output() *terminal.Writer {
	if c.noColor {
		return terminal.New(c.stdout, terminal.WithColor(false))
	}
	return terminal.New(c.stdout)
}

func (c *cli) loadConfig(overrides ...config.Override) (*config.Config, error) {
	if c.configPath != "" {
		return config.LoadFromPath(c.configPath, overrides...)
	}
	return config.Load(overrides...)
}

// scope builds the observability scope for one command. The returned
// function flushes the tracer.
func (c *cli) scope(cfg *config.Config) (*observability.Scope, func(), error) {
	logger := observability.NewLogger("cli", observability.ParseLevel(cfg.Observability.LogLevel), c.stderr)
	if !c.trace && !cfg.Observability.Trace {
		return observability.NewScope(logger, nil, nil), func() {}, nil
	}
	tp, err := observability.NewStdoutTracerProvider("appbridge", c.stderr)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	return observability.NewScope(logger, tp.Tracer(), nil), shutdown, nil
}

func parseBoolEnv(key string) (bool, bool) {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if val == "" {
		return false, false
	}
	switch val {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
