package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhiyin-ai/zhiyin/internal/app"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Starts an interactive session against the crystal knowledge base.
Conversation history is kept for follow-up questions until you /reset
or exit.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	fmt.Println("Zhiyin crystal assistant. Ask a question, or /help for commands.")

	state := session.New()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if done := handleChatCommand(line, state); done {
				return nil
			}
			continue
		}

		ans, err := a.Pipeline.RetrieveAndAnswer(ctx, state, line)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		fmt.Println(ans.Text)
		if len(ans.Sources) > 0 {
			names := make([]string, len(ans.Sources))
			for i, src := range ans.Sources {
				names[i] = src.Name
			}
			fmt.Printf("(sources: %s)\n", strings.Join(names, ", "))
		}
		fmt.Println()
	}
	return scanner.Err()
}

// handleChatCommand processes slash commands; returns true when the
// session should end.
func handleChatCommand(line string, state *session.State) bool {
	switch line {
	case "/exit", "/quit":
		fmt.Println("Goodbye.")
		return true
	case "/reset":
		state.Reset()
		fmt.Println("Conversation history cleared.")
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /reset  clear conversation history")
		fmt.Println("  /exit   leave the chat")
	default:
		fmt.Printf("Unknown command %q; try /help.\n", line)
	}
	return false
}
