package main

import (
	"flag"

	"github.com/odvcencio/appbridge/pkg/config"
)

// targetFlags override the target section of the loaded configuration.
// Unset flags leave the configured values alone.
type targetFlags struct {
	platform    string
	framework   string
	projectRoot string
	buildMode   string
	path        string
	appName     string
	arch        string
	flavor      string
}

func (f *targetFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.platform, "platform", "", "target platform (linux, macos, windows, android)")
	fs.StringVar(&f.framework, "framework", "", "app framework (tauri, flutter, electron)")
	fs.StringVar(&f.projectRoot, "root", "", "project root directory")
	fs.StringVar(&f.buildMode, "mode", "", "build mode (debug, release)")
	fs.StringVar(&f.path, "path", "", "explicit binary path, skips discovery")
	fs.StringVar(&f.appName, "name", "", "app name when project metadata is missing")
	fs.StringVar(&f.arch, "arch", "", "target architecture")
	fs.StringVar(&f.flavor, "flavor", "", "build flavor")
}

func (f *targetFlags) override() config.Override {
	return func(cfg *config.Config) {
		set := func(dst *string, v string) {
			if v != "" {
				*dst = v
			}
		}
		set(&cfg.Target.Platform, f.platform)
		set(&cfg.Target.Framework, f.framework)
		set(&cfg.Target.ProjectRoot, f.projectRoot)
		set(&cfg.Target.BuildMode, f.buildMode)
		set(&cfg.Target.Path, f.path)
		set(&cfg.Target.AppName, f.appName)
		set(&cfg.Target.Arch, f.arch)
		set(&cfg.Target.Flavor, f.flavor)
	}
}
