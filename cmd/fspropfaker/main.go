// Command fspropfaker mounts a directory through FUSE and reports faked
// total and available sizes for it, controllable over HTTP.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/fspropfaker/fspropfaker/internal/capacity"
	"github.com/fspropfaker/fspropfaker/internal/config"
	"github.com/fspropfaker/fspropfaker/internal/metrics"
	"github.com/fspropfaker/fspropfaker/pkg/api"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/health"
	"github.com/fspropfaker/fspropfaker/pkg/session"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdout, os.Stderr))
}

func realMain(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("fspropfaker", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs, stderr)

	var opt options
	bindFlags(fs, &opt)
	if err := fs.Parse(args); err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := opt.configuration(fs)
	if err != nil {
		printError(stderr, err)
		return 2
	}

	if opt.WriteConfig != "" {
		if err := cfg.SaveToFile(opt.WriteConfig); err != nil {
			printError(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "configuration written to %s\n", opt.WriteConfig)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, stdout); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

// run mounts, serves until ctx is done or the mount goes away, and unmounts.
func run(ctx context.Context, cfg *config.Configuration, stdout io.Writer) error {
	loggerConfig, err := cfg.LoggerConfig()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid logging configuration")
	}
	logger, err := utils.NewStructuredLogger(loggerConfig)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePathInvalid, "cannot open log file").
			WithContext("path", cfg.Global.LogFile)
	}
	defer logger.Close()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
		Labels:    map[string]string{},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "cannot set up metrics")
	}

	tracker := health.NewTracker(health.TrackerConfig{
		ErrorThreshold:       cfg.Health.ErrorThreshold,
		UnavailableThreshold: cfg.Health.UnavailableThreshold,
		HealthCheckInterval:  cfg.Health.CheckInterval,
	})
	tracker.AddStateChangeCallback(health.StateUnavailable, func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("component unavailable", map[string]interface{}{"component": component, "error": err})
	})

	sess, err := session.Create(ctx, session.Options{
		Name:         cfg.Mount.Name,
		RootPath:     cfg.Mount.Root,
		MountPath:    cfg.Mount.MountPoint,
		Debug:        cfg.Mount.Debug,
		AllowOther:   cfg.Mount.AllowOther,
		AttrTimeout:  cfg.Mount.AttrTimeout,
		EntryTimeout: cfg.Mount.EntryTimeout,
		Readiness:    cfg.RetryConfig(),
		Logger:       logger,
		Metrics:      collector,
		Health:       tracker,
	})
	if err != nil {
		return err
	}

	if err := applyRules(sess, cfg.Faking); err != nil {
		_ = sess.Close()
		return err
	}

	healthCtx, cancelHealth := context.WithCancel(ctx)
	defer cancelHealth()
	if cfg.Health.CheckInterval > 0 {
		go tracker.StartHealthChecks(healthCtx, sess.CheckHealth)
	}

	var server *api.Server
	if cfg.API.Enabled {
		apiConfig := api.DefaultServerConfig()
		apiConfig.Address = cfg.API.Address
		server = api.NewServer(apiConfig, sess, tracker, collector, logger)
		server.StartBackground()
	}

	disk, free := sess.Rules()
	fmt.Fprintf(stdout, "%s mounted at %s (disk: %s, free: %s)\n", sess.RootPath(), sess.MountPath(), disk, free)

	select {
	case <-ctx.Done():
		logger.Info("signal received, unmounting", nil)
	case <-sess.Done():
		logger.Warn("mount ended without a request", nil)
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", map[string]interface{}{"error": err})
		}
		cancel()
	}
	return sess.Close()
}

// ruleTarget is the setter family of one capacity rule.
type ruleTarget struct {
	name    string
	fixed   func(int64) error
	delta   func(int64)
	fixedMB func(int64) (int64, error)
	deltaMB func(int64) (int64, error)
}

// applyRules installs the configured rules on a ready session.
func applyRules(sess *session.Session, faking config.FakingConfig) error {
	targets := []struct {
		rule   config.RuleConfig
		target ruleTarget
	}{
		{faking.Disk, ruleTarget{"disk", sess.SetDiskFixed, sess.SetDiskDelta, sess.SetDiskFixedMB, sess.SetDiskDeltaMB}},
		{faking.Free, ruleTarget{"free", sess.SetFreeFixed, sess.SetFreeDelta, sess.SetFreeFixedMB, sess.SetFreeDeltaMB}},
	}

	for _, t := range targets {
		if err := applyRule(t.rule, t.target); err != nil {
			return errors.Wrap(err, errors.CodeOf(err), "cannot apply "+t.target.name+" rule").
				WithContext("rule", t.rule.String())
		}
	}
	return nil
}

func applyRule(rule config.RuleConfig, t ruleTarget) error {
	if rule.IsZero() {
		return nil
	}
	mode, err := rule.ParsedMode()
	if err != nil {
		return err
	}

	fixed := mode == capacity.ModeFixed
	switch {
	case rule.MB != nil && fixed:
		_, err = t.fixedMB(*rule.MB)
	case rule.MB != nil:
		_, err = t.deltaMB(*rule.MB)
	case rule.Blocks != nil && fixed:
		err = t.fixed(*rule.Blocks)
	case rule.Blocks != nil:
		t.delta(*rule.Blocks)
	}
	return err
}

func printError(w io.Writer, err error) {
	var fe *errors.FakerError
	if stderrors.As(err, &fe) {
		fmt.Fprintln(w, fe.DetailedDiagnostic())
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
