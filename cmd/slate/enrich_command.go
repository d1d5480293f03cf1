package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"slate/internal/enrich"
)

func newEnrichCommand(ctx *commandContext) *cobra.Command {
	var root string
	var slug string

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Analyze downloaded screenplays",
		Long: "Runs scene, character, genre, and beat extraction over raw scripts " +
			"in the scrape tree and writes one parsed JSON document per script.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			scrapeRoot := resolveScrapeRoot(cfg.Paths.DataDir, root)
			rawDir := filepath.Join(scrapeRoot, "raw")
			parsedDir := filepath.Join(scrapeRoot, "parsed")
			if err := os.MkdirAll(parsedDir, 0o755); err != nil {
				return fmt.Errorf("create parsed directory: %w", err)
			}

			slugs, err := enrichTargets(rawDir, slug)
			if err != nil {
				return err
			}
			if len(slugs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No raw scripts to analyze")
				return nil
			}

			analyzed := 0
			failed := 0
			out := cmd.OutOrStdout()
			for _, name := range slugs {
				if err := analyzeOne(rawDir, parsedDir, name); err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", name, err)
					continue
				}
				analyzed++
			}
			fmt.Fprintf(out, "Analyzed %d script(s), %d failed\n", analyzed, failed)
			if failed > 0 {
				return fmt.Errorf("%d script(s) failed analysis", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "Scrape tree root (defaults to <data_dir>/scripts)")
	cmd.Flags().StringVar(&slug, "slug", "", "Analyze a single script by slug")
	return cmd
}

func enrichTargets(rawDir, only string) ([]string, error) {
	if trimmed := strings.TrimSpace(only); trimmed != "" {
		return []string{trimmed}, nil
	}
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read raw directory: %w", err)
	}
	var slugs []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		slugs = append(slugs, strings.TrimSuffix(entry.Name(), ".txt"))
	}
	return slugs, nil
}

func analyzeOne(rawDir, parsedDir, slug string) error {
	raw, err := os.ReadFile(filepath.Join(rawDir, slug+".txt"))
	if err != nil {
		return fmt.Errorf("read raw script: %w", err)
	}
	analysis := enrich.Analyze(string(raw))
	encoded, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	if err := os.WriteFile(filepath.Join(parsedDir, slug+".json"), encoded, 0o644); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	return nil
}
