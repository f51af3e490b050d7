package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"github.com/typewatch/typewatch/pkg/manifest"
	"github.com/typewatch/typewatch/pkg/telemetry"
	"github.com/typewatch/typewatch/pkg/typings"
)

// DefaultSettleDelay is how long a manifest must stay quiet before it is re-read.
const DefaultSettleDelay = 800 * time.Millisecond

// Settings is the per-session snapshot of user preferences.
type Settings struct {
	Flavor   typings.Flavor
	ForceDev bool
}

// SettingsFunc returns the current settings. It is called when a session is
// (re)initialised, not on every change.
type SettingsFunc func() Settings

// Report describes the work done for one manifest change or install-all run.
type Report struct {
	Manifest    string                 `json:"manifest"`
	Label       string                 `json:"label"`
	Installed   typings.ManifestResult `json:"installed"`
	Uninstalled typings.ManifestResult `json:"uninstalled"`
}

// ReportFunc receives a Report after each batch pair completes.
type ReportFunc func(Report)

// Options configures a Watcher.
type Options struct {
	// Root is the project directory. Relative manifest paths resolve against it.
	Root string

	// Manifests are the manifest files to watch.
	Manifests []string

	// SettleDelay defaults to DefaultSettleDelay when zero.
	SettleDelay time.Duration

	Settings SettingsFunc
	Sink     typings.ProgressSink
	Report   ReportFunc
}

// Watcher diffs manifests on change and drives type installs through a shared queue.
type Watcher struct {
	opts     Options
	orch     *typings.Orchestrator
	queue    *typings.Queue
	metrics  *telemetry.Metrics
	sessions []*Session
	byPath   map[string]*Session
	ready    chan struct{}
}

// New creates a watcher with one session per manifest. The watcher logs
// through the logger carried by the context of Run and InstallAll.
func New(opts Options, orch *typings.Orchestrator, queue *typings.Queue, metrics *telemetry.Metrics) (*Watcher, error) {
	if len(opts.Manifests) == 0 {
		return nil, errors.New("no manifests to watch")
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Settings == nil {
		flavor := orch.Flavor()
		opts.Settings = func() Settings { return Settings{Flavor: flavor} }
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", opts.Root, err)
	}
	opts.Root = root

	w := &Watcher{
		opts:    opts,
		orch:    orch,
		queue:   queue,
		metrics: metrics,
		byPath:  make(map[string]*Session),
		ready:   make(chan struct{}),
	}

	for _, m := range opts.Manifests {
		path := m
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		path = filepath.Clean(path)
		if _, ok := w.byPath[path]; ok {
			continue
		}
		s := newSession(path)
		w.sessions = append(w.sessions, s)
		w.byPath[path] = s
	}

	return w, nil
}

// Sessions returns the sessions in configuration order.
func (w *Watcher) Sessions() []*Session {
	return w.sessions
}

// Ready is closed once Run has read the baselines and registered its watches.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Run reads the initial baselines, then watches every manifest until ctx is
// cancelled. Change jobs run on the queue, which must be running.
func (w *Watcher) Run(ctx context.Context) error {
	logger := loggerFrom(ctx)
	for _, s := range w.sessions {
		w.initBaseline(ctx, s)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	var result *multierror.Error
	dirs := make(map[string]bool)
	for _, s := range w.sessions {
		dir := filepath.Dir(s.path)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := fsw.Add(dir); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to watch %s: %w", dir, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"manifests":    len(w.sessions),
		"settle_delay": w.opts.SettleDelay.String(),
	}).Info("Started watching manifests")
	close(w.ready)

	defer func() {
		for _, s := range w.sessions {
			s.stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			s, found := w.byPath[filepath.Clean(event.Name)]
			if !found {
				continue
			}
			logger.WithManifest(s.path).WithField("op", event.Op.String()).Debug("Manifest changed")

			s.schedule(w.opts.SettleDelay, func() { w.enqueue(ctx, s) })

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Watcher error")
		}
	}
}

// initBaseline reads the manifest present at startup. A missing file leaves
// an empty baseline and the session uninitialised.
func (w *Watcher) initBaseline(ctx context.Context, s *Session) {
	logger := loggerFrom(ctx).WithManifest(s.path)

	current, err := manifest.ReadFile(s.path)
	switch {
	case err == nil:
		w.metrics.RecordManifestRead(s.label, "ok")
		s.last = current
		s.settings = w.opts.Settings()
		s.initialized = true
		logger.WithField("entries", current.Count()).Debug("Manifest baseline read")
	case errors.Is(err, fs.ErrNotExist):
		w.metrics.RecordManifestRead(s.label, "missing")
		s.last = manifest.New()
		logger.Debug("Manifest not present yet")
	default:
		w.metrics.RecordManifestRead(s.label, "error")
		s.last = manifest.New()
		logger.WithError(err).Error("Failed to read manifest baseline")
	}
}

// enqueue submits a change job unless one is already waiting for s.
func (w *Watcher) enqueue(ctx context.Context, s *Session) {
	if ctx.Err() != nil {
		return
	}
	if !s.markPending() {
		loggerFrom(ctx).WithManifest(s.path).Debug("Change already queued")
		return
	}
	w.queue.Submit(func(jobCtx context.Context) {
		s.clearPending()
		w.handleChange(jobCtx, s)
	})
}

// handleChange re-reads the manifest, diffs it against the last snapshot and
// runs the resulting installs and uninstalls. It runs on the queue worker.
func (w *Watcher) handleChange(ctx context.Context, s *Session) {
	logger := loggerFrom(ctx).WithManifest(s.path)

	if !s.initialized {
		s.settings = w.opts.Settings()
		s.initialized = true
		logger.WithField("flavor", s.settings.Flavor).Debug("Session initialised")
	}

	current, err := manifest.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.metrics.RecordManifestRead(s.label, "missing")
			s.last = manifest.New()
			s.initialized = false
			logger.Info("Manifest removed, baseline reset")
			return
		}
		w.metrics.RecordManifestRead(s.label, "error")
		logger.WithError(err).Error("Failed to read manifest, keeping previous snapshot")
		return
	}
	w.metrics.RecordManifestRead(s.label, "ok")

	diff := manifest.Compare(s.last, current)
	s.last = current
	if diff.IsEmpty() {
		logger.Debug("No dependency changes")
		return
	}
	w.metrics.RecordManifestChange(s.label)

	logger.WithFields(map[string]interface{}{
		"added":   diff.Added.Count(),
		"removed": diff.Removed.Count(),
	}).Info("Dependency changes detected")

	orch := w.orch.WithFlavor(s.settings.Flavor)
	report := Report{
		Manifest: s.path,
		Label:    s.label,
	}
	report.Installed = orch.InstallManifest(ctx, diff.Added, s.settings.ForceDev, w.opts.Sink)
	report.Uninstalled = orch.UninstallManifest(ctx, diff.Removed, s.settings.ForceDev, w.opts.Sink)

	w.report(ctx, report)
}

// InstallAll installs types for the full content of every manifest, one
// manifest at a time on the queue, and waits for all of them.
func (w *Watcher) InstallAll(ctx context.Context) ([]Report, error) {
	reports := make([]*Report, len(w.sessions))
	dones := make([]<-chan struct{}, len(w.sessions))

	for i, s := range w.sessions {
		i, s := i, s
		dones[i] = w.queue.Submit(func(jobCtx context.Context) {
			reports[i] = w.installAll(jobCtx, s)
		})
	}

	var out []Report
	for i, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return out, ctx.Err()
		}
		if reports[i] != nil {
			out = append(out, *reports[i])
		}
	}
	return out, nil
}

func (w *Watcher) installAll(ctx context.Context, s *Session) *Report {
	logger := loggerFrom(ctx).WithManifest(s.path)

	current, err := manifest.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.metrics.RecordManifestRead(s.label, "missing")
			logger.Debug("Manifest not present, nothing to install")
			return nil
		}
		w.metrics.RecordManifestRead(s.label, "error")
		logger.WithError(err).Error("Failed to read manifest")
		return nil
	}
	w.metrics.RecordManifestRead(s.label, "ok")

	settings := w.opts.Settings()
	report := Report{
		Manifest:  s.path,
		Label:     s.label,
		Installed: w.orch.WithFlavor(settings.Flavor).InstallManifest(ctx, current, settings.ForceDev, w.opts.Sink),
	}
	w.report(ctx, report)
	return &report
}

func (w *Watcher) report(ctx context.Context, r Report) {
	loggerFrom(ctx).WithManifest(r.Manifest).WithFields(map[string]interface{}{
		"installed":   r.Installed.Succeeded(),
		"uninstalled": r.Uninstalled.Succeeded(),
	}).Info("Manifest processed")

	if w.opts.Report != nil {
		w.opts.Report(r)
	}
}

func loggerFrom(ctx context.Context) *telemetry.Logger {
	return telemetry.FromContext(ctx).NewComponentLogger("watcher")
}
