package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newInstallAllCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install-all",
		Short: "Install @types packages for every dependency",
		Long: `Install the @types package of every dependency listed in the configured
manifests, regardless of what changed. Entries under devDependencies are saved
as development dependencies; others follow save_as_dev_dependency.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, version)
			if err != nil {
				return err
			}
			defer a.tel.Shutdown(context.Background())

			ctx, cancel := context.WithCancel(a.tel.WithContext(cmd.Context()))
			defer cancel()

			queueDone := make(chan error, 1)
			go func() { queueDone <- a.queue.Run(ctx) }()

			reports, err := a.watcher.InstallAll(ctx)
			cancel()
			if qerr := <-queueDone; err == nil {
				err = qerr
			}
			if err != nil {
				return err
			}

			if len(reports) == 0 {
				a.logger.WithField("manifests", a.cfg.Manifests).Warn("No manifest found")
			}
			return nil
		},
	}

	return cmd
}
