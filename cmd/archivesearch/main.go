// Command archivesearch queries an archive JSON file from the terminal.
//
// Usage:
//
//	archivesearch --items archive.json query 'author:ada score:>10 deep'
//	archivesearch --items archive.json facets 'scope:all'
//	archivesearch parse '"exact phrase" -draft /regex/i'
//	archivesearch --items archive.json import --user u1 --config configs/development.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
)

var (
	itemsPath string
	logLevel  string
	asJSON    bool
)

var rootCmd = &cobra.Command{
	Use:   "archivesearch",
	Short: "Search a post and comment archive",
	Long:  `Run archive search queries, facet counts and query parsing against a JSON archive file.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
	PersistentPreRun: func(*cobra.Command, []string) {
		slog.SetDefault(logger.New(os.Stderr, logLevel, "text"))
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&itemsPath, "items", "i", "archive.json", "archive JSON file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print JSON output")
	rootCmd.AddCommand(newQueryCmd(), newFacetsCmd(), newParseCmd(), newImportCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
