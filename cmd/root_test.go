package cmd

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/zhiyin-ai/zhiyin/internal/knowledge"
	"github.com/zhiyin-ai/zhiyin/internal/session"
)

func TestRootCommandWiring(t *testing.T) {
	if rootCmd.Use != "zhiyin" {
		t.Errorf("Use = %q, want %q", rootCmd.Use, "zhiyin")
	}
	if rootCmd.Short == "" || rootCmd.Long == "" {
		t.Error("root command should carry descriptions")
	}

	want := []string{"ingest", "ask", "chat", "serve", "version"}
	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[strings.Fields(c.Use)[0]] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestDescribeIndexError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHint string
	}{
		{"empty index", knowledge.ErrNoIndexModel, "zhiyin ingest"},
		{"model mismatch", fmt.Errorf("verify: %w", knowledge.ErrModelMismatch), "different embedder model"},
		{"other errors pass through", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeIndexError(tt.err)
			if got == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(got.Error(), tt.wantHint) {
				t.Errorf("error = %q, want it to mention %q", got, tt.wantHint)
			}
		})
	}
}

func TestHandleChatCommand(t *testing.T) {
	state := session.New()
	state.Append(session.RoleUser, "hello")

	if done := handleChatCommand("/reset", state); done {
		t.Error("/reset should not end the session")
	}
	if state.Len() != 0 {
		t.Errorf("history length after /reset = %d, want 0", state.Len())
	}

	if done := handleChatCommand("/exit", state); !done {
		t.Error("/exit should end the session")
	}
	if done := handleChatCommand("/unknown", state); done {
		t.Error("unknown commands should not end the session")
	}
}
