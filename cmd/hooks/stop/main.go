// Package main provides the stop hook entry point.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/thebtf/clusterd/pkg/hooks"
	"github.com/thebtf/clusterd/pkg/models"
)

// Input is the stop hook input.
type Input struct {
	hooks.BaseInput
	StopHookActive bool `json:"stop_hook_active"`
}

func main() {
	client := hooks.NewClient(hooks.ServerPort())
	os.Exit(hooks.RunHook(context.Background(), "Stop", hooks.StdStreams(), client, handle))
}

// handle clusters recent sessions once the agent stops, so the next session
// start sees the finished work grouped.
func handle(ctx context.Context, c *hooks.Client, in *Input) (string, error) {
	if in.StopHookActive {
		return "", nil
	}
	result, err := c.Autocluster(ctx, models.ScopeRecent)
	if err != nil {
		return "", err
	}
	if result.ClustersCreated+result.ClustersMerged > 0 {
		fmt.Fprintf(os.Stderr, "[clusterd] Clustered %d sessions (%d new clusters, %d merged)\n",
			result.SessionsClustered, result.ClustersCreated, result.ClustersMerged)
	}
	return "", nil
}
