package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"strings"
	"time"
)

// blockedCommands are never run in blocklist mode.
var blockedCommands = map[string]bool{
	"rm": true, "rmdir": true, "mv": true, "dd": true, "mkfs": true, "fdisk": true,
	"shutdown": true, "reboot": true, "halt": true, "init": true,
	"sudo": true, "su": true, "chmod": true, "chown": true,
	"format": true, "del": true, "erase": true,
}

// dangerousPatterns are rejected anywhere in a command, catching
// destructive commands smuggled behind pipes and substitutions.
var dangerousPatterns = []string{
	"| rm", "| sudo", "; rm", "; sudo",
	"&& rm", "&& sudo", "$(rm", "$(sudo",
	"`rm", "`sudo", "> /dev/", "| dd",
}

const maxShellOutput = 10000

// Shell executes shell commands with safety guardrails. When
// allowedCommands is non-nil the skill runs in whitelist mode;
// otherwise the blocklist applies.
type Shell struct {
	allowedCommands  []string
	workingDirectory string
	timeout          time.Duration
	logger           *slog.Logger
}

var _ Skill = (*Shell)(nil)

// NewShell builds the shell skill.
func NewShell(allowedCommands []string, workingDirectory string, timeout time.Duration) *Shell {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Shell{
		allowedCommands:  allowedCommands,
		workingDirectory: workingDirectory,
		timeout:          timeout,
		logger:           slog.Default().With("component", "skill", "skill", "shell"),
	}
}

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Tools() []ToolDefinition {
	return []ToolDefinition{{
		Name:        "run_command",
		Description: "Run a shell command and return its output. Use for tasks like listing files, checking system info, or running scripts.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "The shell command to execute",
				},
			},
			"required": []any{"command"},
		},
	}}
}

func (s *Shell) Execute(ctx context.Context, tool string, args map[string]any) ToolResult {
	if tool != "run_command" {
		return Fail("Unknown tool: %s", tool)
	}
	command, _ := args["command"].(string)
	if command == "" {
		return Fail("Command is required")
	}
	if reason := s.validate(command); reason != "" {
		return Fail("%s", reason)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if s.workingDirectory != "" {
		cmd.Dir = s.workingDirectory
	}
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return Fail("Command timed out after %s", s.timeout)
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return Fail("Command execution failed: %v", err)
		}
	}
	if exitCode != 0 {
		s.logger.Warn("command returned non-zero exit code",
			"command_preview", truncate(command, 50), "exit_code", exitCode)
	}

	return Ok(map[string]any{
		"exit_code": exitCode,
		"stdout":    truncateOutput(stdout.String()),
		"stderr":    truncateOutput(stderr.String()),
	})
}

// validate checks a command against the whitelist or blocklist plus
// the dangerous pattern scan. Returns an error message or "".
func (s *Shell) validate(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "Empty command"
	}
	base := path.Base(fields[0])

	if s.allowedCommands != nil {
		allowed := false
		for _, c := range s.allowedCommands {
			if base == c {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("Command '%s' is not in the allowed list", base)
		}
	} else if blockedCommands[strings.ToLower(base)] {
		return fmt.Sprintf("Command '%s' is blocked for safety", base)
	}

	lower := strings.ToLower(command)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Sprintf("Command contains dangerous pattern: %s", pattern)
		}
	}
	return ""
}

func truncateOutput(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	return s[:maxShellOutput] + "\n... (output truncated)"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
