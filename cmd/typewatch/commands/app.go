package commands

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/typewatch/typewatch/pkg/config"
	"github.com/typewatch/typewatch/pkg/runner"
	"github.com/typewatch/typewatch/pkg/telemetry"
	"github.com/typewatch/typewatch/pkg/typings"
	"github.com/typewatch/typewatch/pkg/watcher"
)

// newRunner builds the command runner; tests replace it.
var newRunner = func() runner.Runner { return runner.ExecRunner{} }

// app wires configuration, telemetry and the watcher for one command invocation.
type app struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  *telemetry.Logger
	queue   *typings.Queue
	watcher *watcher.Watcher
	out     io.Writer

	// outMu serialises progress and summary lines
	outMu sync.Mutex
}

func newApp(cmd *cobra.Command, version string) (*app, error) {
	cfg, err := config.Load(configPath, rootDir)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger,
		out:    cmd.OutOrStdout(),
	}

	orch := typings.NewOrchestrator(typings.Options{
		Flavor:  typings.FlavorFor(cfg.UseYarn),
		Root:    cfg.Root,
		Runner:  newRunner(),
		Logger:  tel.Logger.NewComponentLogger("typings").Zerolog(),
		Metrics: tel.Metrics,
		Tracer:  tel.Tracer,
	})
	a.queue = typings.NewQueue(tel.Metrics)

	a.watcher, err = watcher.New(watcher.Options{
		Root:        cfg.Root,
		Manifests:   cfg.Manifests,
		SettleDelay: cfg.SettleDelay,
		Settings:    a.settings,
		Sink:        a.progress,
		Report:      a.report,
	}, orch, a.queue, tel.Metrics)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// settings re-reads the configuration so that a session picks up edits made
// since startup. Invalid or unreadable configuration falls back to defaults.
func (a *app) settings() watcher.Settings {
	cfg, err := config.Load(configPath, rootDir)
	if err != nil {
		a.logger.WithError(err).Warn("Failed to reload configuration, using defaults")
		cfg = config.Default(rootDir)
	}
	return watcher.Settings{
		Flavor:   typings.FlavorFor(cfg.UseYarn),
		ForceDev: cfg.SaveAsDevDependency,
	}
}

func (a *app) progress(message string) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintln(a.out, message)
}

func (a *app) report(r watcher.Report) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	printSummary(a.out, r)
}
