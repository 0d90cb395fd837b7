package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/appbridge/pkg/bridge"
	"github.com/odvcencio/appbridge/pkg/lifecycle"
	"github.com/odvcencio/appbridge/pkg/terminal"
)

const teardownTimeout = 30 * time.Second

func (c *cli) runExec(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var tf targetFlags
	tf.register(fs)
	scriptFile := fs.String("file", "", "read the script from this file")
	instance := fs.String("instance", "", "run in this named instance")
	timeout := fs.Duration("timeout", 0, "script timeout (defaults to bridge.timeout)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}

	script, rawArgs, err := execScript(*scriptFile, fs.Args())
	if err != nil {
		return err
	}
	scriptArgs, err := parseScriptArgs(rawArgs)
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig(tf.override())
	if err != nil {
		return err
	}
	if *timeout > 0 {
		cfg.Bridge.Timeout = *timeout
	}
	scope, shutdown, err := c.scope(cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	opts, sinks, err := cfg.Options(scope)
	if err != nil {
		return err
	}
	defer sinks.Close()

	ctrl, err := lifecycle.New(opts)
	if err != nil {
		return err
	}
	status := c.status()
	_, err = terminal.WithSpinner(status, fmt.Sprintf("launching %s session", cfg.Session.Driver), func() (struct{}, error) {
		return struct{}{}, ctrl.Launch(ctx)
	})
	if err != nil {
		return withExitCode(err, launchExitCode(err))
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if terr := ctrl.Teardown(tctx); terr != nil {
			status.Warn("teardown: %v", terr)
		}
	}()

	b, err := ctrl.Bridge(*instance)
	if err != nil {
		return withExitCode(err, exitUsage)
	}
	result, err := b.Execute(ctx, script, scriptArgs...)
	if err != nil {
		return withExitCode(err, exitScript)
	}
	return c.printResult(result)
}

// execScript returns the script source and the remaining positional
// arguments.
func execScript(file string, positional []string) (string, []string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", nil, withExitCode(err, exitUsage)
		}
		return string(data), positional, nil
	}
	if len(positional) == 0 || strings.TrimSpace(positional[0]) == "" {
		return "", nil, usageError("usage: appbridge exec [target flags] [-instance <name>] <script> [json-arg...]")
	}
	return positional[0], positional[1:], nil
}

// parseScriptArgs decodes each argument as JSON. Arguments that are not
// valid JSON are rejected rather than passed as strings.
func parseScriptArgs(raw []string) ([]any, error) {
	out := make([]any, 0, len(raw))
	for i, arg := range raw {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			return nil, withExitCode(fmt.Errorf("argument %d is not valid JSON: %w", i+1, err), exitUsage)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *cli) printResult(v any) error {
	if v == bridge.Undefined {
		fmt.Fprintln(c.stdout, "undefined")
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(data))
	return nil
}

func launchExitCode(err error) int {
	if code := exitCodeForError(err); code != exitFailure {
		return code
	}
	return exitSession
}
