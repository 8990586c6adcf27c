// Package main provides the user-prompt-submit hook entry point.
package main

import (
	"context"
	"os"
	"strings"

	"github.com/thebtf/clusterd/pkg/hooks"
)

// Input is the user-prompt-submit hook input.
type Input struct {
	hooks.BaseInput
	Prompt string `json:"prompt"`
}

func main() {
	client := hooks.NewClient(hooks.ServerPort())
	os.Exit(hooks.RunHook(context.Background(), "UserPromptSubmit", hooks.StdStreams(), client, handle))
}

// handle injects prior work matching the prompt. Prompts without a match
// inject nothing.
func handle(ctx context.Context, c *hooks.Client, in *Input) (string, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return "", nil
	}
	text, err := c.Index(ctx, "context", in.SessionID, in.Prompt)
	if err != nil {
		return "", err
	}
	if strings.Contains(text, "No matching sessions.") {
		return "", nil
	}
	return text, nil
}
