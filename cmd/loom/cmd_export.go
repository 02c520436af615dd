package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"threadloom/internal/export"
	"threadloom/internal/types"
)

var (
	exportScope      string
	exportSource     string
	exportMinQuality float64
	exportLanguage   string
	exportOut        string
)

// exportCmd packages articles into a signed JSONL export.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Package articles into a provenance-signed JSONL export",
	Long: `Selects visible articles of one source scope above the quality floor and
writes two sibling files: the JSONL record stream and a signed C2PA-style
manifest binding its content hash.

Examples:
  loom export --scope 123456789 --source discord
  loom export --scope acme/widget --source github --min-quality 0.8 --language go`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportScope, "scope", "", "source scope (guild id or owner/repo)")
	exportCmd.Flags().StringVar(&exportSource, "source", "discord", "source type: discord or github")
	exportCmd.Flags().Float64Var(&exportMinQuality, "min-quality", 0, "quality floor (default from config)")
	exportCmd.Flags().StringVar(&exportLanguage, "language", "", "restrict to one language")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output directory (default from config)")
	_ = exportCmd.MarkFlagRequired("scope")
}

func runExport(cmd *cobra.Command, args []string) error {
	source := types.SourceType(exportSource)
	if source != types.SourceDiscord && source != types.SourceGitHub {
		return fmt.Errorf("unknown source type %q", exportSource)
	}

	minQuality := exportMinQuality
	if minQuality == 0 {
		minQuality = cfg.Export.MinQuality
	}
	outDir := exportOut
	if outDir == "" {
		outDir = cfg.Export.OutputDir
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	packager := export.NewPackager(a.store, outDir)
	result, err := packager.Export(cmd.Context(), export.Request{
		Scope:      exportScope,
		Source:     source,
		MinQuality: minQuality,
		Language:   exportLanguage,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Export %s: %d records\n", result.JobID, result.RecordCount)
	fmt.Printf("  records:  %s\n", result.RecordsPath)
	fmt.Printf("  manifest: %s\n", result.ManifestPath)
	fmt.Printf("  content:  %s\n", result.ContentHash)
	return nil
}
