package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhiyin-ai/zhiyin/internal/app"
	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	if err := a.Pipeline.VerifyIndex(ctx); err != nil {
		return describeIndexError(err)
	}

	query := strings.Join(args, " ")
	ans, err := a.Pipeline.RetrieveAndAnswer(ctx, session.New(), query)
	if err != nil {
		return err
	}

	fmt.Println(ans.Text)
	if len(ans.Sources) > 0 {
		names := make([]string, len(ans.Sources))
		for i, src := range ans.Sources {
			names[i] = src.Name
		}
		fmt.Printf("\nSources: %s\n", strings.Join(names, ", "))
	}
	return nil
}

// describeIndexError turns index verification failures into actionable
// messages.
func describeIndexError(err error) error {
	switch {
	case errors.Is(err, knowledge.ErrNoIndexModel):
		return fmt.Errorf("the index is empty; run 'zhiyin ingest' first")
	case errors.Is(err, knowledge.ErrModelMismatch):
		return fmt.Errorf("the index was built with a different embedder model; re-run 'zhiyin ingest' with the current configuration: %w", err)
	default:
		return err
	}
}
