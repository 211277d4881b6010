package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/fspropfaker/fspropfaker/internal/config"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
)

// options holds the command line. Only flags the user set override the
// configuration file and environment.
type options struct {
	ConfigFile  string
	WriteConfig string

	Name       string
	Root       string
	MountPoint string
	Debug      bool
	AllowOther bool

	LogFile   string
	LogLevel  string
	LogFormat string

	DiskMB      int64
	DiskDeltaMB int64
	FreeMB      int64
	FreeDeltaMB int64

	APIAddress string
	NoAPI      bool
	NoMetrics  bool
}

func bindFlags(fs *pflag.FlagSet, opt *options) {
	fs.StringVarP(&opt.ConfigFile, "config", "c", "", "YAML configuration file")
	fs.StringVar(&opt.WriteConfig, "write-config", "", "write the effective configuration to this file and exit")

	fs.StringVarP(&opt.Name, "name", "n", "", "filesystem name shown in the mount table (at most 20 bytes)")
	fs.StringVarP(&opt.Root, "root", "r", "", "directory exposed through the mount")
	fs.StringVarP(&opt.MountPoint, "mount", "m", "", "mount point (a temporary directory when empty)")
	fs.BoolVarP(&opt.Debug, "debug", "d", false, "trace every FUSE request")
	fs.BoolVar(&opt.AllowOther, "allow-other", false, "allow other users to access the mount")

	fs.StringVar(&opt.LogFile, "log-file", "", "write logs to this file with rotation")
	fs.StringVar(&opt.LogLevel, "log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&opt.LogFormat, "log-format", "", "log format (text or json)")

	fs.Int64Var(&opt.DiskMB, "disk-mb", 0, "report a fixed total size in megabytes")
	fs.Int64Var(&opt.DiskDeltaMB, "disk-delta-mb", 0, "offset the real total size by this many megabytes")
	fs.Int64Var(&opt.FreeMB, "free-mb", 0, "report a fixed available size in megabytes")
	fs.Int64Var(&opt.FreeDeltaMB, "free-delta-mb", 0, "offset the real available size by this many megabytes")

	fs.StringVar(&opt.APIAddress, "api-address", "", "listen address of the control API")
	fs.BoolVar(&opt.NoAPI, "no-api", false, "do not serve the control API")
	fs.BoolVar(&opt.NoMetrics, "no-metrics", false, "disable Prometheus metrics")
}

// configuration layers defaults, the config file, FSPROPFAKER_* variables,
// flags and positional ROOT [MOUNTPOINT] arguments, in that order.
func (opt *options) configuration(fs *pflag.FlagSet) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opt.ConfigFile != "" {
		if err := cfg.LoadFromFile(opt.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	strs := map[string]struct {
		src string
		dst *string
	}{
		"name":        {opt.Name, &cfg.Mount.Name},
		"root":        {opt.Root, &cfg.Mount.Root},
		"mount":       {opt.MountPoint, &cfg.Mount.MountPoint},
		"log-file":    {opt.LogFile, &cfg.Global.LogFile},
		"log-level":   {opt.LogLevel, &cfg.Global.LogLevel},
		"log-format":  {opt.LogFormat, &cfg.Global.LogFormat},
		"api-address": {opt.APIAddress, &cfg.API.Address},
	}
	for flag, v := range strs {
		if fs.Changed(flag) {
			*v.dst = v.src
		}
	}
	if fs.Changed("debug") {
		cfg.Mount.Debug = opt.Debug
	}
	if fs.Changed("allow-other") {
		cfg.Mount.AllowOther = opt.AllowOther
	}
	if opt.NoAPI {
		cfg.API.Enabled = false
	}
	if opt.NoMetrics {
		cfg.Metrics.Enabled = false
	}

	if err := opt.rule(fs, "disk", &cfg.Faking.Disk, opt.DiskMB, opt.DiskDeltaMB); err != nil {
		return nil, err
	}
	if err := opt.rule(fs, "free", &cfg.Faking.Free, opt.FreeMB, opt.FreeDeltaMB); err != nil {
		return nil, err
	}

	args := fs.Args()
	switch {
	case len(args) > 2:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "too many arguments: %v", args).WithComponent("cli")
	case len(args) == 2:
		cfg.Mount.MountPoint = args[1]
		fallthrough
	case len(args) == 1:
		cfg.Mount.Root = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (opt *options) rule(fs *pflag.FlagSet, name string, dst *config.RuleConfig, fixedMB, deltaMB int64) error {
	fixedFlag, deltaFlag := name+"-mb", name+"-delta-mb"
	switch {
	case fs.Changed(fixedFlag) && fs.Changed(deltaFlag):
		return errors.Newf(errors.ErrCodeInvalidConfig, "--%s and --%s are mutually exclusive", fixedFlag, deltaFlag).
			WithComponent("cli")
	case fs.Changed(fixedFlag):
		*dst = config.RuleConfig{Mode: "fixed", MB: &fixedMB}
	case fs.Changed(deltaFlag):
		*dst = config.RuleConfig{Mode: "delta", MB: &deltaMB}
	}
	return nil
}

func usage(fs *pflag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "Usage: fspropfaker [flags] [ROOT [MOUNTPOINT]]\n\n")
		fmt.Fprintf(w, "Mounts ROOT at MOUNTPOINT and reports faked disk and free sizes.\n\n")
		fmt.Fprint(w, fs.FlagUsages())
	}
}
