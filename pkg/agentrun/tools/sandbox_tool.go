package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/runloom/runloom/pkg/agentrun/core"
)

// DockerSandbox runs one persistent container per session and executes
// shell commands inside it via `docker exec`. Adapted from
// pkg/sandbox/docker_sandbox/docker_sandbox_manager.go, which shells out
// to the docker CLI rather than importing a Docker SDK — kept in that
// idiom, just trimmed to what the code-execution tool needs and made to
// honor ctx cancellation mid-command (spec §4.4).
type DockerSandbox struct {
	image string

	mu        sync.Mutex
	container string
}

func NewDockerSandbox(image string) *DockerSandbox {
	return &DockerSandbox{image: image}
}

func (s *DockerSandbox) ensureContainer(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.container != "" {
		return s.container, nil
	}

	name := fmt.Sprintf("runloom-sandbox-%s", sessionID)
	if err := runDocker(ctx, "run", "-d", "--name", name, s.image, "sleep", "infinity"); err != nil {
		return "", fmt.Errorf("docker run: %w", err)
	}
	s.container = name
	return name, nil
}

// sandboxInput is the parameter shape of the code-execution tool.
type sandboxInput struct {
	Code string `json:"code"`
}

// CodeExecutionTool executes shell commands against a DockerSandbox.
type CodeExecutionTool struct {
	*core.BaseTool
	sandbox   *DockerSandbox
	sessionID string
}

func NewCodeExecutionTool(sandbox *DockerSandbox, sessionID string) *CodeExecutionTool {
	return &CodeExecutionTool{
		BaseTool: &core.BaseTool{
			ToolSpec: core.ToolSpec{
				Name:        "execute_bash_commands",
				Description: "Execute a bash command inside a sandboxed container and return its output",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"code": map[string]any{"type": "string", "description": "bash command to run"},
					},
					"required": []string{"code"},
				},
			},
			RequiresApproval: false,
		},
		sandbox:   sandbox,
		sessionID: sessionID,
	}
}

func (t *CodeExecutionTool) Execute(ctx context.Context, call core.ToolCall) (core.ToolResult, error) {
	var in sandboxInput
	if err := sonic.Unmarshal([]byte(call.Arguments), &in); err != nil {
		return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}, nil
	}

	container, err := t.sandbox.ensureContainer(ctx, t.sessionID)
	if err != nil {
		return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}, nil
	}

	out, err := runDockerOutput(ctx, "exec", container, "bash", "-c", in.Code)
	if err != nil {
		// exec.CommandContext returns context.Canceled promptly once the
		// interleaver's abort channel fires and cancels ctx — this is
		// the abort-latency contract every tool here must honor.
		if ctx.Err() != nil {
			return core.ToolResult{}, ctx.Err()
		}
		return core.ToolResult{ToolCallID: call.ID, OfError: &core.ToolError{Message: err.Error()}}, nil
	}

	return core.ToolResult{ToolCallID: call.ID, OfOutput: &core.ToolOutput{Output: out}}, nil
}

func runDocker(ctx context.Context, args ...string) error {
	_, err := runDockerOutput(ctx, args...)
	return err
}

func runDockerOutput(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
