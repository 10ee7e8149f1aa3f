// Package localexec runs an allowlisted local command as the execution oracle.
package localexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/models"
)

// ExitTempFail is the exit code a command uses to report a retryable
// failure (sysexits EX_TEMPFAIL).
const ExitTempFail = 75

// waitDelay bounds how long output pipes are drained after a kill.
const waitDelay = 2 * time.Second

// Config selects the command and its allowlist.
type Config struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
	// Allow maps a command to its permitted first arguments.
	Allow map[string][]string `yaml:"allow"`
}

// LocalExec implements connectors.Executor by piping the request as JSON to
// a local command and reading an Outcome JSON from its stdout.
type LocalExec struct {
	cfg Config
}

// New creates a new LocalExec executor.
func New(cfg Config) *LocalExec {
	return &LocalExec{cfg: cfg}
}

// Name returns the executor identifier.
func (l *LocalExec) Name() string {
	return "localexec"
}

// IsAllowed checks if a command is in the allowlist.
func (l *LocalExec) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := l.cfg.Allow[cmd]
	if !ok {
		return false
	}
	if len(args) == 0 {
		return false
	}
	for _, allowed := range allowedSubcmds {
		if args[0] == allowed {
			return true
		}
	}
	return false
}

// Execute runs the configured command for req.
func (l *LocalExec) Execute(ctx context.Context, req connectors.Request) (*connectors.Outcome, error) {
	const op = "localexec.execute"
	if !l.IsAllowed(l.cfg.Command, l.cfg.Args) {
		return nil, models.Permanent(op, fmt.Errorf("command not allowed: %s %s", l.cfg.Command, strings.Join(l.cfg.Args, " ")))
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, models.Permanent(op, fmt.Errorf("encode request: %w", err))
	}

	execCmd := exec.CommandContext(ctx, l.cfg.Command, l.cfg.Args...)
	execCmd.WaitDelay = waitDelay
	if l.cfg.WorkDir != "" {
		execCmd.Dir = l.cfg.WorkDir
	}
	var stdout, stderr bytes.Buffer
	execCmd.Stdin = bytes.NewReader(input)
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	if err := execCmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, models.Transient(op, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cause := fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
			if exitErr.ExitCode() == ExitTempFail {
				return nil, models.Transient(op, cause)
			}
			return nil, models.Permanent(op, cause)
		}
		return nil, models.Permanent(op, fmt.Errorf("exec error: %w", err))
	}

	var out connectors.Outcome
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, models.Permanent(op, fmt.Errorf("decode outcome: %w", err))
	}
	out.Normalize()
	return &out, nil
}
