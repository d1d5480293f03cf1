package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"slate/internal/logging"
	"slate/internal/scraper"
)

func newScrapeCommand(ctx *commandContext) *cobra.Command {
	var root string
	var slugsOnly bool

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Download the screenplay corpus",
		Long: "Fetches the remote slug index, merges it with any local list, and " +
			"downloads each screenplay that is not already present. Downloads are " +
			"resumable; existing files are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: "console"})
			if err != nil {
				return err
			}

			scrapeRoot := resolveScrapeRoot(cfg.Paths.DataDir, root)
			s, err := scraper.New(cfg.Scraper, scrapeRoot, logger)
			if err != nil {
				return err
			}

			slugs, err := s.FetchSlugs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d slug(s) known\n", len(slugs))
			if slugsOnly {
				return nil
			}

			stats, err := s.DownloadAll(cmd.Context(), slugs)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Downloaded %d, skipped %d, failed %d (of %d)\n",
				stats.Downloaded, stats.Skipped, stats.Failed, stats.Requested)
			if stats.Failed > 0 {
				return fmt.Errorf("%d download(s) failed; rerun to retry", stats.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Scrape tree root (defaults to <data_dir>/scripts)")
	cmd.Flags().BoolVar(&slugsOnly, "slugs-only", false, "Refresh the slug index without downloading")
	return cmd
}

func resolveScrapeRoot(dataDir, override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return filepath.Join(dataDir, "scripts")
}
