package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/typewatch/typewatch/pkg/watcher"
)

var (
	installedColor   = color.New(color.FgGreen, color.Bold)
	uninstalledColor = color.New(color.FgYellow, color.Bold)
	failedColor      = color.New(color.FgRed)
)

// printSummary writes the per-manifest totals. Zero counts are omitted.
func printSummary(out io.Writer, r watcher.Report) {
	if n := r.Installed.Succeeded(); n > 0 {
		_, _ = installedColor.Fprintf(out, "Installed types of %d %s package(s)\n", n, r.Label)
	}
	if n := r.Uninstalled.Succeeded(); n > 0 {
		_, _ = uninstalledColor.Fprintf(out, "Uninstalled types of %d %s package(s)\n", n, r.Label)
	}

	failed := (r.Installed.Total() - r.Installed.Succeeded()) + (r.Uninstalled.Total() - r.Uninstalled.Succeeded())
	if failed > 0 {
		_, _ = fmt.Fprintln(out, failedColor.Sprintf("%d %s package(s) without type declarations or failed", failed, r.Label))
	}
}
