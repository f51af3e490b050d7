package typings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/typewatch/typewatch/pkg/manifest"
	"github.com/typewatch/typewatch/pkg/runner"
	"github.com/typewatch/typewatch/pkg/telemetry"
)

// ProgressSink receives human-facing progress text, in order. It is never
// consulted for control decisions.
type ProgressSink func(message string)

func (s ProgressSink) emit(format string, args ...interface{}) {
	if s != nil {
		s(fmt.Sprintf(format, args...))
	}
}

// Options configures an Orchestrator.
type Options struct {
	// Flavor selects npm or yarn. Empty means npm.
	Flavor Flavor

	// Root is the working directory for every command.
	Root string

	// Runner executes the package-manager commands.
	Runner runner.Runner

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Orchestrator drives one package-manager command per dependency name,
// strictly sequentially, and aggregates the outcomes.
type Orchestrator struct {
	opts Options
}

// NewOrchestrator creates an orchestrator. A nil Runner defaults to runner.ExecRunner.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Flavor == "" {
		opts.Flavor = FlavorNPM
	}
	if opts.Runner == nil {
		opts.Runner = runner.ExecRunner{}
	}
	return &Orchestrator{opts: opts}
}

// Flavor returns the package-manager flavor in use.
func (o *Orchestrator) Flavor() Flavor {
	return o.opts.Flavor
}

// WithFlavor returns a copy of the orchestrator using flavor f.
func (o *Orchestrator) WithFlavor(f Flavor) *Orchestrator {
	opts := o.opts
	opts.Flavor = f
	return NewOrchestrator(opts)
}

// CommandOutcome is the result of one install or uninstall attempt.
type CommandOutcome struct {
	Name     string        `json:"name"`
	Package  string        `json:"package"`
	Command  string        `json:"command"`
	Status   Status        `json:"status"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`

	// Err is a *CommandError for any non-successful outcome.
	Err error `json:"-"`
}

// Succeeded reports whether the command succeeded.
func (c CommandOutcome) Succeeded() bool {
	return c.Status == StatusSucceeded
}

// BatchResult aggregates the outcomes of one Install or Uninstall call.
type BatchResult struct {
	ID        string               `json:"id"`
	Operation Operation            `json:"operation"`
	Section   manifest.SectionName `json:"section,omitempty"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Skipped   int                  `json:"skipped"`
	Outcomes  []CommandOutcome     `json:"outcomes,omitempty"`
	Duration  time.Duration        `json:"duration"`

	// Cancelled is set when the context ended before every name was processed.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Install installs the type declarations for each name, in order.
func (o *Orchestrator) Install(ctx context.Context, names []string, dev bool, sink ProgressSink) BatchResult {
	return o.run(ctx, OperationInstall, names, dev, sink)
}

// Uninstall removes the type declarations for each name, in order.
func (o *Orchestrator) Uninstall(ctx context.Context, names []string, dev bool, sink ProgressSink) BatchResult {
	return o.run(ctx, OperationUninstall, names, dev, sink)
}

func (o *Orchestrator) run(ctx context.Context, op Operation, names []string, dev bool, sink ProgressSink) BatchResult {
	result := BatchResult{
		ID:        uuid.New().String(),
		Operation: op,
	}
	if len(names) == 0 {
		return result
	}

	timer := telemetry.NewTimer()
	ctx, span := o.opts.Tracer.StartBatchSpan(ctx, result.ID, string(op), len(names))
	defer span.End()

	logger := o.opts.Logger.With().
		Str("batch_id", result.ID).
		Str("operation", string(op)).
		Str("flavor", string(o.opts.Flavor)).
		Logger()

	for i := 0; i < len(names); i++ {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			logger.Warn().Err(err).Int("remaining", len(names)-i).Msg("Batch cancelled")
			break
		}

		name := names[i]
		if IsTypesPackage(name) {
			result.Skipped++
			continue
		}

		outcome := o.runOne(ctx, logger, op, name, dev, sink)
		result.Total++
		if outcome.Succeeded() {
			result.Succeeded++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	result.Duration = timer.Duration()
	o.opts.Metrics.RecordBatch(string(op), result.Succeeded, result.Duration)
	telemetry.RecordSuccess(span)

	logger.Info().
		Int("total", result.Total).
		Int("succeeded", result.Succeeded).
		Int("skipped", result.Skipped).
		Bool("cancelled", result.Cancelled).
		Dur("duration", result.Duration).
		Msg("Batch finished")

	return result
}

func (o *Orchestrator) runOne(ctx context.Context, logger zerolog.Logger, op Operation, name string, dev bool, sink ProgressSink) CommandOutcome {
	pkg := TypesPackage(name)
	cmd := o.opts.Flavor.Command(op, pkg, dev)
	cmd.Dir = o.opts.Root

	outcome := CommandOutcome{
		Name:    name,
		Package: pkg,
		Command: cmd.String(),
	}

	switch op {
	case OperationInstall:
		sink.emit("Installing type declarations for '%s'...", name)
	case OperationUninstall:
		sink.emit("Uninstalling type declarations for '%s'...", name)
	}

	ctx, span := o.opts.Tracer.StartCommandSpan(ctx, string(op), pkg, outcome.Command)
	defer span.End()

	res, runErr := o.opts.Runner.Run(ctx, cmd)
	outcome.Stdout = res.Stdout
	outcome.Stderr = res.Stderr
	outcome.Duration = res.Duration
	outcome.Status = o.opts.Flavor.Classify(res, runErr)

	span.SetAttributes(telemetry.AttrStatus.String(string(outcome.Status)))
	o.opts.Metrics.RecordCommand(string(op), string(outcome.Status), outcome.Duration)

	event := logger.With().Str("package", pkg).Str("command", outcome.Command).Logger()

	switch outcome.Status {
	case StatusSucceeded:
		telemetry.RecordSuccess(span)
		if out := strings.TrimSpace(res.Stdout); out != "" {
			sink.emit("%s", out)
		}
		if op == OperationInstall {
			sink.emit("Installed type declarations for '%s'.", name)
		} else {
			sink.emit("Uninstalled type declarations for '%s'.", name)
		}
		event.Debug().Dur("duration", outcome.Duration).Msg("Command succeeded")

	case StatusNotFound:
		outcome.Err = &CommandError{Status: StatusNotFound, Operation: op, Package: pkg, Output: res.Stderr, Err: runErr}
		telemetry.RecordError(span, outcome.Err)
		sink.emit("No type declarations available for '%s'.", name)
		event.Info().Msg("No type declarations published")

	default:
		outcome.Err = &CommandError{Status: StatusFailed, Operation: op, Package: pkg, Output: res.Stderr, Err: runErr}
		telemetry.RecordError(span, outcome.Err)
		if errText := strings.TrimSpace(res.Stderr); errText != "" {
			sink.emit("%s", errText)
		}
		if runErr != nil {
			sink.emit("Could not run '%s': %v", outcome.Command, runErr)
		}
		event.Error().Err(runErr).Int("exit_code", res.ExitCode).Str("stderr", res.Stderr).Msg("Command failed")
	}

	return outcome
}

// ManifestResult aggregates the per-section batches of a manifest-wide operation.
type ManifestResult struct {
	Operation Operation     `json:"operation"`
	Sections  []BatchResult `json:"sections"`
}

// Succeeded returns the number of successful commands across all sections.
func (r ManifestResult) Succeeded() int {
	n := 0
	for _, s := range r.Sections {
		n += s.Succeeded
	}
	return n
}

// Total returns the number of commands attempted across all sections.
func (r ManifestResult) Total() int {
	n := 0
	for _, s := range r.Sections {
		n += s.Total
	}
	return n
}

// InstallManifest installs types for every entry of m, section by section.
// devDependencies always install as dev, engines never do, and dependencies
// follow forceDev.
func (o *Orchestrator) InstallManifest(ctx context.Context, m manifest.Manifest, forceDev bool, sink ProgressSink) ManifestResult {
	return o.runManifest(ctx, OperationInstall, m, forceDev, sink)
}

// UninstallManifest removes types for every entry of m, section by section.
func (o *Orchestrator) UninstallManifest(ctx context.Context, m manifest.Manifest, forceDev bool, sink ProgressSink) ManifestResult {
	return o.runManifest(ctx, OperationUninstall, m, forceDev, sink)
}

func (o *Orchestrator) runManifest(ctx context.Context, op Operation, m manifest.Manifest, forceDev bool, sink ProgressSink) ManifestResult {
	result := ManifestResult{Operation: op}
	for _, name := range manifest.Sections {
		if ctx.Err() != nil {
			break
		}
		batch := o.run(ctx, op, m.Section(name).Names(), sectionIsDev(name, forceDev), sink)
		batch.Section = name
		result.Sections = append(result.Sections, batch)
	}
	return result
}

func sectionIsDev(name manifest.SectionName, forceDev bool) bool {
	switch name {
	case manifest.DevDependencies:
		return true
	case manifest.Engines:
		return false
	}
	return forceDev
}
