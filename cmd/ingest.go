package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhiyin-ai/zhiyin/internal/app"
	"github.com/zhiyin-ai/zhiyin/internal/crystal"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Build the vector index from the crystal knowledge base",
	Long: `Reads the crystal knowledge base, embeds every entry, and writes the
vectors to the index. Re-running replaces existing entries, so ingest is
safe to repeat after editing the knowledge base.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "crystals.json", "knowledge base JSON file")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	raws, err := crystal.LoadFile(ingestFile)
	if err != nil {
		return err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	report, err := a.Pipeline.Ingest(ctx, raws)

	fmt.Printf("Ingested %d/%d entries", report.Written, report.Total)
	if report.Skipped > 0 {
		fmt.Printf(" (%d malformed entries skipped)", report.Skipped)
	}
	fmt.Println()

	if err != nil {
		var partial *knowledge.PartialUpsertError
		if errors.As(err, &partial) {
			fmt.Printf("Failed to write: %s\n", strings.Join(report.FailedIDs, ", "))
			fmt.Println("Re-run ingest to retry; existing entries are replaced in place.")
		}
		return err
	}
	return nil
}
