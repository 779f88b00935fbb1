package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dipeo/dipeo-core/internal/envelope"
	"github.com/dipeo/dipeo-core/internal/handler"
)

// defaultSandboxRoot roots every code_job execution unless the node
// overrides "sandbox_root".
const defaultSandboxRoot = "/tmp/dipeo-sandbox"

// defaultCodeTimeout bounds a code_job run when the node doesn't set
// "timeout_seconds".
const defaultCodeTimeout = 30 * time.Second

// maxCodeTimeout is the ceiling regardless of what the node requests.
const maxCodeTimeout = 600 * time.Second

// CodeJobHandler runs an inline script (shell via "/bin/sh -c" by
// default, "python3 -c" for Python, "node -e" for Node) inside a
// sandboxed working directory, grounded on rakunlabs-at's
// execNode (sandbox-root confinement, stdout/stderr/exit_code capture).
// Unlike execNode it has no port-selection routing: the edge's own
// continue_on_error metadata decides whether a non-zero exit is fatal.
type CodeJobHandler struct {
	handler.Defaults
}

func (CodeJobHandler) Validate(req *handler.ExecutionRequest) error {
	code, _ := req.Node.Data["code"].(string)
	if strings.TrimSpace(code) == "" {
		return &missingConfigError{NodeType: req.Node.Type, Field: "code"}
	}
	return nil
}

func (CodeJobHandler) Run(ctx context.Context, req *handler.ExecutionRequest, args map[string]any) (any, error) {
	code, _ := req.Node.Data["code"].(string)
	language, _ := req.Node.Data["language"].(string)

	sandboxRoot, _ := req.Node.Data["sandbox_root"].(string)
	if sandboxRoot == "" {
		sandboxRoot = defaultSandboxRoot
	}
	sandboxAbs, err := filepath.Abs(sandboxRoot)
	if err != nil {
		return nil, fmt.Errorf("code_job: resolve sandbox root: %w", err)
	}
	workDir := filepath.Join(sandboxAbs, string(req.ExecutionID), string(req.Node.ID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("code_job: create working dir: %w", err)
	}

	timeout := defaultCodeTimeout
	if secs, ok := req.Node.Data["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > maxCodeTimeout {
			timeout = maxCodeTimeout
		}
	}

	command, interpreter := commandFor(language, code, workDir)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, interpreter[0], append(interpreter[1:], command)...)
	cmd.Dir = workDir
	cmd.Env = []string{
		"HOME=" + sandboxAbs,
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"DIPEO_EXECUTION_ID=" + string(req.ExecutionID),
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("code_job: %w", runErr)
		}
	}

	result := map[string]any{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}
	if exitCode != 0 {
		return result, fmt.Errorf("code_job: exited with status %d: %s", exitCode, stderr.String())
	}
	return result, nil
}

// commandFor returns the inline script text and the interpreter argv
// to run it with. Bare shell is the default; python3 is invoked with
// "-c" and node with "-e" so the script never touches disk outside the
// sandbox.
func commandFor(language, code, workDir string) (script string, interpreter []string) {
	switch language {
	case "python":
		return code, []string{"python3", "-c"}
	case "javascript", "node":
		return code, []string{"node", "-e"}
	default:
		return code, []string{"/bin/sh", "-c"}
	}
}

func (CodeJobHandler) SerializeOutput(req *handler.ExecutionRequest, result any) (envelope.Envelope, error) {
	return envelope.JSONEnvelope(result, req.Node.ID, req.ExecutionID)
}
