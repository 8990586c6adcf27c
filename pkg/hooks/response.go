// Package hooks adapts clusterd to agent lifecycle hooks. A hook reads its
// payload from stdin, talks to a running clusterd server and answers on stdout.
package hooks

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// InternalEnv marks processes spawned by clusterd itself; hooks skip them.
const InternalEnv = "CLUSTERD_INTERNAL"

// Exit codes for hooks.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// HookResponse is the response written to stdout.
type HookResponse struct {
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
	Continue           bool                `json:"continue"`
}

// HookSpecificOutput carries context injected into the agent.
type HookSpecificOutput struct {
	HookEventName     string `json:"hookEventName"`
	AdditionalContext string `json:"additionalContext"`
}

// BaseInput contains common fields shared by all hook inputs.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permission_mode"`
	HookEventName  string `json:"hook_event_name"`
}

// WriteResponse writes a hook response to out.
func WriteResponse(out io.Writer, hookName, additionalContext string) error {
	resp := HookResponse{Continue: true}
	if additionalContext != "" {
		resp.HookSpecificOutput = &HookSpecificOutput{
			HookEventName:     hookName,
			AdditionalContext: additionalContext,
		}
	}
	return json.NewEncoder(out).Encode(resp)
}

// HookHandler handles hook-specific logic and returns optional context to inject.
type HookHandler[T any] func(ctx context.Context, c *Client, input *T) (additionalContext string, err error)

// Streams bundles the process streams a hook uses.
type Streams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// StdStreams returns the process streams.
func StdStreams() Streams {
	return Streams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
}

// RunHook executes a hook and returns the exit code. An unreachable server or
// a failing handler never blocks the agent: the hook answers continue and
// reports the problem on ErrOut.
func RunHook[T any](ctx context.Context, hookName string, s Streams, c *Client, handler HookHandler[T]) int {
	if os.Getenv(InternalEnv) == "1" {
		return exitFor(WriteResponse(s.Out, hookName, ""))
	}

	data, err := io.ReadAll(s.In)
	if err != nil {
		fmt.Fprintf(s.ErrOut, "[clusterd] %s: read input: %v\n", hookName, err)
		return ExitFailure
	}

	var input T
	if err := json.Unmarshal(data, &input); err != nil {
		fmt.Fprintf(s.ErrOut, "[clusterd] %s: parse input: %v\n", hookName, err)
		return ExitFailure
	}

	if !c.Healthy(ctx) {
		fmt.Fprintf(s.ErrOut, "[clusterd] %s: server not reachable at %s, skipping\n", hookName, c.BaseURL())
		return exitFor(WriteResponse(s.Out, hookName, ""))
	}

	additionalContext, err := handler(ctx, c, &input)
	if err != nil {
		fmt.Fprintf(s.ErrOut, "[clusterd] %s: %v\n", hookName, err)
		additionalContext = ""
	}
	return exitFor(WriteResponse(s.Out, hookName, additionalContext))
}

func exitFor(err error) int {
	if err != nil {
		return ExitFailure
	}
	return ExitSuccess
}
