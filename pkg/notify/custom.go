package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/serverprep/hardn/pkg/executor"
)

// scriptChannel pipes the result as JSON to a user script's stdin.
// the script runs once, in its own process group, killed when the send times out.
type scriptChannel struct {
	path string
	exec *executor.Executor
}

func newScriptChannel(path string) *scriptChannel {
	return &scriptChannel{path: path, exec: executor.New(executor.Options{MaxAttempts: 1})}
}

func (c *scriptChannel) send(ctx context.Context, r Result, timeout time.Duration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = c.exec.Execute(ctx, executor.CommandSpec{
		Argv:         []string{c.path},
		Stdin:        string(data),
		Timeout:      timeout,
		NoSubstitute: true,
	})
	if err != nil {
		return fmt.Errorf("script %s: %w", c.path, err)
	}
	return nil
}
