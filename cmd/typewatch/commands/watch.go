package commands

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch manifests and sync @types packages on change",
		Long: `Watch package.json and bower.json in the project root. Each change is
diffed against the previous content: new or re-versioned dependencies get
their @types package installed, removed dependencies get it uninstalled.

Runs until interrupted.`,
		Example: `  # Watch the current project
  typewatch watch

  # Watch another project with yarn
  TYPEWATCH_USE_YARN=true typewatch watch --root ./web`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.tel.Shutdown(context.Background())

			a.logger.WithFields(map[string]interface{}{
				"root":      a.cfg.Root,
				"manifests": a.cfg.Manifests,
				"use_yarn":  a.cfg.UseYarn,
			}).Info("Starting typewatch")

			g, ctx := errgroup.WithContext(a.tel.WithContext(cmd.Context()))
			g.Go(func() error { return a.queue.Run(ctx) })
			g.Go(func() error { return a.watcher.Run(ctx) })
			g.Go(func() error { return a.tel.Metrics.Serve(ctx) })

			return g.Wait()
		},
	}

	return cmd
}
