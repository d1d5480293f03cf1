package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"slate/internal/match"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var root string
	var filmsPath string
	var reportPath string

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Cross-reference film titles against parsed scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			scrapeRoot := resolveScrapeRoot(cfg.Paths.DataDir, root)
			if filmsPath == "" {
				filmsPath = filepath.Join(scrapeRoot, "film-slugs.json")
			}
			if reportPath == "" {
				reportPath = filepath.Join(scrapeRoot, "matching-report.json")
			}

			films, err := match.LoadFilms(filmsPath)
			if err != nil {
				return err
			}
			scripts, err := match.LoadScripts(filepath.Join(scrapeRoot, "parsed"))
			if err != nil {
				return err
			}

			result := match.Match(films, scripts)
			if err := result.WriteReport(reportPath); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Films:   %d\n", result.Stats.TotalFilms)
			fmt.Fprintf(out, "Scripts: %d\n", result.Stats.TotalScripts)
			fmt.Fprintf(out, "Matched: %d (%.1f%%)\n", result.Stats.MatchesFound, result.Stats.MatchPercentage)
			fmt.Fprintf(out, "Report:  %s\n", reportPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Scrape tree root (defaults to <data_dir>/scripts)")
	cmd.Flags().StringVar(&filmsPath, "films", "", "Film slug list JSON (defaults to <root>/film-slugs.json)")
	cmd.Flags().StringVar(&reportPath, "report", "", "Report destination (defaults to <root>/matching-report.json)")
	return cmd
}
