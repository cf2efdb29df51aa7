package optimize

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandLLMClient invokes a language model via a shell command, feeding
// the prompt on stdin and reading the completion from stdout.
type CommandLLMClient struct {
	Command string
	Args    []string
}

// Complete sends a system+user prompt to the LLM command.
func (c *CommandLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	prompt := systemPrompt + "\n\n" + userPrompt

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("LLM command failed: %w (stderr: %s)", err, stderr.String())
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("empty response from LLM")
	}
	return out, nil
}

// withRetry runs fn up to attempts times with doubling backoff. Model
// calls are flaky; a fixed small retry budget keeps a transient failure
// from sinking a whole optimization pass.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
