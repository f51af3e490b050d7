package watcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/typewatch/typewatch/pkg/manifest"
	"github.com/typewatch/typewatch/pkg/runner"
	"github.com/typewatch/typewatch/pkg/telemetry"
	"github.com/typewatch/typewatch/pkg/typings"
)

type recordingRunner struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingRunner) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, cmd.String())
	return runner.Result{Stdout: "ok"}, nil
}

func (r *recordingRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

type harness struct {
	dir     string
	runner  *recordingRunner
	queue   *typings.Queue
	watcher *Watcher
	reports chan Report
}

func newHarness(t *testing.T, settings SettingsFunc) *harness {
	t.Helper()

	h := &harness{
		dir:     t.TempDir(),
		runner:  &recordingRunner{},
		queue:   typings.NewQueue(nil),
		reports: make(chan Report, 16),
	}
	orch := typings.NewOrchestrator(typings.Options{
		Root:   h.dir,
		Runner: h.runner,
		Logger: zerolog.Nop(),
	})

	w, err := New(Options{
		Root:        h.dir,
		Manifests:   []string{"package.json", "bower.json"},
		SettleDelay: 50 * time.Millisecond,
		Settings:    settings,
		Report:      func(r Report) { h.reports <- r },
	}, orch, h.queue, nil)
	require.NoError(t, err)
	h.watcher = w
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go h.queue.Run(ctx)
	go h.watcher.Run(ctx)

	select {
	case <-h.watcher.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not start")
	}
}

func (h *harness) write(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(content), 0o644))
}

func (h *harness) waitReport(t *testing.T) Report {
	t.Helper()
	select {
	case r := <-h.reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no report received")
		return Report{}
	}
}

func TestWatcherInstallsAddedAndUninstallsRemoved(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "package.json", `{"dependencies": {"express": "^4.0.0"}}`)
	h.start(t)

	h.write(t, "package.json", `{
		"dependencies": {"express": "^4.0.0", "lodash": "^4.17.0"},
		"devDependencies": {"jest": "^29.0.0"}
	}`)

	r := h.waitReport(t)
	assert.Equal(t, "npm", r.Label)
	assert.Equal(t, filepath.Join(h.dir, "package.json"), r.Manifest)
	assert.Equal(t, 2, r.Installed.Succeeded())
	assert.Equal(t, 0, r.Uninstalled.Succeeded())
	assert.Equal(t, []string{
		"npm install @types/lodash --save",
		"npm install @types/jest --save-dev",
	}, h.runner.commands())

	h.write(t, "package.json", `{"dependencies": {"express": "^4.0.0"}, "devDependencies": {"jest": "^29.0.0"}}`)

	r = h.waitReport(t)
	assert.Equal(t, 0, r.Installed.Succeeded())
	assert.Equal(t, 1, r.Uninstalled.Succeeded())
	assert.Equal(t, "npm uninstall @types/lodash --save", h.runner.commands()[2])
}

func TestWatcherHandlesManifestCreatedLater(t *testing.T) {
	h := newHarness(t, func() Settings {
		return Settings{Flavor: typings.FlavorYarn, ForceDev: true}
	})
	h.start(t)

	h.write(t, "bower.json", `{"dependencies": {"jquery": "~3.0.0"}}`)

	r := h.waitReport(t)
	assert.Equal(t, "bower", r.Label)
	assert.Equal(t, 1, r.Installed.Succeeded())
	assert.Equal(t, []string{"yarn add @types/jquery --dev"}, h.runner.commands())
}

func TestInstallAll(t *testing.T) {
	h := newHarness(t, nil)
	h.write(t, "package.json", `{
		"dependencies": {"react": "18", "@types/react": "18"},
		"devDependencies": {"mocha": "10"},
		"engines": {"node": ">=18"}
	}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.queue.Run(ctx)

	reports, err := h.watcher.InstallAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 3, reports[0].Installed.Succeeded())
	assert.Equal(t, 1, reports[0].Installed.Sections[0].Skipped)
	assert.Equal(t, []string{
		"npm install @types/react --save",
		"npm install @types/mocha --save-dev",
		"npm install @types/node --save",
	}, h.runner.commands())
}

func TestEnqueueCoalescesPendingChanges(t *testing.T) {
	h := newHarness(t, nil)
	s := h.watcher.Sessions()[0]

	ctx := context.Background()
	h.watcher.enqueue(ctx, s)
	h.watcher.enqueue(ctx, s)
	h.watcher.enqueue(ctx, s)
	assert.Equal(t, 1, h.queue.Len())

	h.watcher.enqueue(ctx, h.watcher.Sessions()[1])
	assert.Equal(t, 2, h.queue.Len())
}

func TestEnqueueAfterCancelIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.watcher.enqueue(ctx, h.watcher.Sessions()[0])
	assert.Equal(t, 0, h.queue.Len())
}

func TestHandleChangeKeepsSnapshotOnBrokenManifest(t *testing.T) {
	h := newHarness(t, nil)
	s := h.watcher.Sessions()[0]
	ctx := context.Background()

	h.write(t, "package.json", `{"dependencies": {"a": "1"}}`)
	h.watcher.initBaseline(ctx, s)
	require.True(t, s.initialized)

	h.write(t, "package.json", `{"dependencies": {"a": "1",`)
	h.watcher.handleChange(ctx, s)
	assert.Empty(t, h.runner.commands())
	assert.Equal(t, "1", s.last.Section(manifest.Dependencies)["a"])

	h.write(t, "package.json", `{"dependencies": {"a": "1", "b": "2"}}`)
	h.watcher.handleChange(ctx, s)
	assert.Equal(t, []string{"npm install @types/b --save"}, h.runner.commands())
}

func TestHandleChangeWithLegacyEngines(t *testing.T) {
	h := newHarness(t, nil)
	s := h.watcher.Sessions()[0]

	var buf bytes.Buffer
	logger := telemetry.NewLoggerTo(&buf, telemetry.LoggingConfig{Level: "debug", Format: "json"})
	ctx := logger.WithContext(context.Background())

	h.write(t, "package.json", `{"dependencies": {"lodash": "^4"}, "engines": ["node >= 0.8"]}`)
	h.watcher.initBaseline(ctx, s)
	assert.Equal(t, 1, s.last.Count())

	h.write(t, "package.json", `{
		"dependencies": {"lodash": "^4", "express": "^4", "local": {"version": "1"}},
		"engines": ["node >= 0.8"]
	}`)
	h.watcher.handleChange(ctx, s)

	assert.Equal(t, []string{
		"npm install @types/express --save",
		"npm install @types/local --save",
	}, h.runner.commands())
	assert.Contains(t, buf.String(), `"component":"watcher"`)
	assert.Contains(t, buf.String(), "Dependency changes detected")
	assert.NotContains(t, buf.String(), "keeping previous snapshot")
}

func TestHandleChangeResetsOnRemovedManifest(t *testing.T) {
	calls := 0
	h := newHarness(t, func() Settings {
		calls++
		return Settings{Flavor: typings.FlavorNPM}
	})
	s := h.watcher.Sessions()[0]
	ctx := context.Background()

	h.write(t, "package.json", `{"dependencies": {"a": "1"}}`)
	h.watcher.initBaseline(ctx, s)
	assert.Equal(t, 1, calls)

	require.NoError(t, os.Remove(filepath.Join(h.dir, "package.json")))
	h.watcher.handleChange(ctx, s)
	assert.False(t, s.initialized)
	assert.Zero(t, s.last.Count())
	assert.Empty(t, h.runner.commands())

	h.write(t, "package.json", `{"dependencies": {"a": "1"}}`)
	h.watcher.handleChange(ctx, s)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"npm install @types/a --save"}, h.runner.commands())
}

func TestHandleChangeWithoutDiffRunsNothing(t *testing.T) {
	h := newHarness(t, nil)
	s := h.watcher.Sessions()[0]

	h.write(t, "package.json", `{"dependencies": {"a": "1"}, "name": "demo"}`)
	h.watcher.initBaseline(context.Background(), s)

	h.write(t, "package.json", `{"dependencies": {"a": "1"}, "name": "renamed"}`)
	h.watcher.handleChange(context.Background(), s)

	assert.Empty(t, h.runner.commands())
	select {
	case r := <-h.reports:
		t.Fatalf("unexpected report for %s", r.Manifest)
	default:
	}
}

func TestNewDeduplicatesManifests(t *testing.T) {
	dir := t.TempDir()
	orch := typings.NewOrchestrator(typings.Options{Runner: &recordingRunner{}, Logger: zerolog.Nop()})
	q := typings.NewQueue(nil)

	w, err := New(Options{
		Root:      dir,
		Manifests: []string{"package.json", "./package.json", filepath.Join(dir, "package.json")},
	}, orch, q, nil)
	require.NoError(t, err)
	assert.Len(t, w.Sessions(), 1)
	assert.Equal(t, DefaultSettleDelay, w.opts.SettleDelay)

	_, err = New(Options{Root: dir}, orch, q, nil)
	assert.Error(t, err)
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, "npm", labelFor("/x/package.json"))
	assert.Equal(t, "bower", labelFor("/x/bower.json"))
	assert.Equal(t, "component", labelFor("/x/component.json"))
	assert.True(t, strings.HasSuffix(newSession("/x/package.json").Path(), "package.json"))
}
