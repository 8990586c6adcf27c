// Package main provides the session-start hook entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/thebtf/clusterd/pkg/hooks"
)

// Input is the session-start hook input.
type Input struct {
	hooks.BaseInput
	Source string `json:"source"` // "startup", "resume", "clear", "compact"
}

func main() {
	client := hooks.NewClient(hooks.ServerPort())
	os.Exit(hooks.RunHook(context.Background(), "SessionStart", hooks.StdStreams(), client, handle))
}

// handle injects the session-start index: recent clusters first, then
// recent unclustered sessions.
func handle(ctx context.Context, c *hooks.Client, in *Input) (string, error) {
	text, err := c.Index(ctx, "session-start", in.SessionID, "")
	if err != nil {
		return "", err
	}
	if strings.Contains(text, "No prior sessions.") {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "[clusterd] Injecting session index (%s)\n", in.Source)
	return text, nil
}
