package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"

	"github.com/odvcencio/appbridge/pkg/locator"
)

func (c *cli) runLocate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var tf targetFlags
	tf.register(fs)
	asJSON := fs.Bool("json", false, "print the resolution as JSON")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitUsage)
	}
	if fs.NArg() > 0 {
		return usageError("usage: appbridge locate [target flags] [-json]")
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

	res := locator.New(locator.WithScope(scope)).Resolve(ctx, cfg.Descriptor())
	if *asJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, string(data))
		return reported(res.Err(), exitDiscovery)
	}

	c.printResolution(res)
	return reported(res.Err(), exitDiscovery)
}

func (c *cli) printResolution(res locator.ResolvedBinary) {
	out := c.output()
	if res.Verified {
		out.Success("%s", res.Path)
	} else {
		out.Error("no runnable %s binary found", res.Platform)
	}

	fields := map[string]string{
		"platform":   string(res.Platform),
		"framework":  string(res.Framework),
		"build mode": string(res.BuildMode),
	}
	if res.AppName != "" {
		fields["app name"] = res.AppName
	}
	out.Fields(fields)

	if len(res.Attempts) > 0 {
		out.Header(fmt.Sprintf("Rejected candidates (%d)", len(res.Attempts)))
		items := make([]string, 0, len(res.Attempts))
		for _, a := range res.Attempts {
			items = append(items, a.String())
		}
		out.List(items)
	}

	if res.Verified {
		return
	}
	if tips := locator.Remediation(res.Platform, res.Framework, res.BuildMode); len(tips) > 0 {
		_ = out.Markdown(remediationMarkdown(tips))
	}
}

func remediationMarkdown(tips []string) string {
	var sb strings.Builder
	sb.WriteString("Build the app first:\n\n```sh\n")
	for _, tip := range tips {
		sb.WriteString(tip)
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")
	return sb.String()
}
