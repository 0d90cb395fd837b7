package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/odvcencio/appbridge/pkg/lifecycle"
)

func (c *cli) runCompose(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compose", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var tf targetFlags
	tf.register(fs)
	instance := fs.String("instance", "", "compose for this named instance")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return usageError("usage: appbridge compose [target flags] [-instance <name>]")
	}

	cfg, err := c.loadConfig(tf.override())
	if err != nil {
		return err
	}
	scope, shutdown, err := c.scope(cfg)
	if err != nil {
		return err
	}
	defer shutdown()

	// Previewing never establishes, so sinks are left unopened.
	est, err := cfg.Establisher(scope.Logger)
	if err != nil {
		return err
	}
	ctrl, err := lifecycle.New(lifecycle.Options{
		Target:      cfg.Descriptor(),
		Layers:      cfg.Layers(),
		Establisher: est,
		Instances:   cfg.Session.Instances,
		Scope:       scope,
	})
	if err != nil {
		return err
	}
	_, caps, err := ctrl.Preview(ctx, *instance)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(caps, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(data))
	return nil
}
