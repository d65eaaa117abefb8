package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/lectern/version"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Turn lecture slide decks into structured study notes",
	Long: `Lectern processes a lecture PDF slide by slide: each slide is rendered
to an image, explained by a language model with full awareness of the
slides before it, and published to a workspace page as formatted blocks
with headings, math, and lists.

After the last slide, a lecture summary and a set of practice questions
are appended to the same page.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.lectern/config.yaml)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.AddCommand(versionCmd)
}
