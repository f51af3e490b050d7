package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/typewatch/typewatch/pkg/manifest"
)

func newDiffCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Show the dependency diff between two manifests",
		Long: `Compare two manifest files and print which dependencies would have their
@types package installed (added) or uninstalled (removed).`,
		Example: `  # Compare the committed manifest with the working copy
  git show HEAD:package.json > /tmp/old.json
  typewatch diff /tmp/old.json package.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := manifest.ReadFile(args[0])
			if err != nil {
				return err
			}
			after, err := manifest.ReadFile(args[1])
			if err != nil {
				return err
			}

			diff := manifest.Compare(before, after)
			out := cmd.OutOrStdout()

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(diff)
			}

			data, err := yaml.Marshal(diff)
			if err != nil {
				return fmt.Errorf("failed to encode diff: %w", err)
			}
			_, err = out.Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}
