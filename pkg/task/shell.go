package task

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kisohq/kiso/pkg/config"
)

// truncMarker is appended when captured output hits the size cap.
const truncMarker = "\n… [output truncated]"

// runResult is the raw outcome of one subprocess run, before sanitizing.
type runResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// capWriter buffers up to limit bytes and drops the rest.
type capWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.truncated {
		return n, nil
	}
	if room := w.limit - w.buf.Len(); n > room {
		w.buf.Write(p[:room])
		w.truncated = true
		return n, nil
	}
	w.buf.Write(p)
	return n, nil
}

func (w *capWriter) String() string {
	if w.truncated {
		return w.buf.String() + truncMarker
	}
	return w.buf.String()
}

// runSubprocess runs argv with a hard timeout, capped capture, and an
// optional uid/gid switch. A non-zero exit is not an error; only failures to
// start or supervise the process are.
func runSubprocess(ctx context.Context, argv []string, dir string, env []string,
	stdin []byte, sandbox config.SandboxConfig, sandboxed bool,
	timeout time.Duration, maxBytes int) (*runResult, error) {

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	if sandboxed && sandbox.Enabled() {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: sandbox.UID, Gid: sandbox.GID},
		}
	}
	cmd.WaitDelay = 5 * time.Second

	stdout := &capWriter{limit: maxBytes}
	stderr := &capWriter{limit: maxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	res := &runResult{Stdout: stdout.String(), Stderr: stderr.String()}
	switch {
	case err == nil:
		res.ExitCode = 0
	case runCtx.Err() != nil && ctx.Err() == nil:
		res.TimedOut = true
		res.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}
	return res, nil
}

// runShell runs one shell command line through /bin/sh -c.
func runShell(ctx context.Context, command, dir string, env []string,
	sandbox config.SandboxConfig, sandboxed bool,
	timeout time.Duration, maxBytes int) (*runResult, error) {
	return runSubprocess(ctx, []string{"/bin/sh", "-c", command}, dir, env,
		nil, sandbox, sandboxed, timeout, maxBytes)
}

// execEnv builds the minimal subprocess environment: PATH, HOME pointing at
// the workspace, and git variables only when their backing files exist.
func execEnv(workspace string) []string {
	env := []string{"PATH=" + os.Getenv("PATH"), "HOME=" + workspace}
	if gitconfig := filepath.Join(workspace, ".gitconfig"); fileExists(gitconfig) {
		env = append(env, "GIT_CONFIG_GLOBAL="+gitconfig)
	}
	sshConfig := filepath.Join(workspace, ".ssh", "config")
	sshKey := filepath.Join(workspace, ".ssh", "id_ed25519")
	if fileExists(sshConfig) && fileExists(sshKey) {
		env = append(env, "GIT_SSH_COMMAND=ssh -F "+sshConfig+" -i "+sshKey)
	}
	return env
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
