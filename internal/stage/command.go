package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner shells out to an external worker. The request is written
// as JSON to stdin; the worker prints an Output JSON document on stdout.
// A non-zero exit is a stage failure, not an orchestrator failure.
type CommandRunner struct {
	Command string
	Args    []string
}

func NewCommandRunner(command string) CommandRunner {
	parts := strings.Fields(command)
	cr := CommandRunner{}
	if len(parts) > 0 {
		cr.Command = parts[0]
		cr.Args = parts[1:]
	}
	return cr
}

func (c CommandRunner) Run(ctx context.Context, req Request) (Output, error) {
	if c.Command == "" {
		return Output{}, fmt.Errorf("no execution command configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return Output{}, err
	}
	args := append(append([]string{}, c.Args...), req.Stage.Name)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Output{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Output{}, fmt.Errorf("stage %s: %s", req.Stage.Name, msg)
	}
	var out Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Output{}, fmt.Errorf("stage %s produced invalid output: %w", req.Stage.Name, err)
	}
	return out, nil
}
