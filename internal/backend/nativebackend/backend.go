// Package nativebackend runs instances as detached host processes when
// no container engine is reachable.
package nativebackend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/polyhost/polyhost-server/internal/domain"
)

const (
	// LogFileName is the workspace file the detached process writes its
	// combined output to.
	LogFileName = "app.log"

	installTimeout = 120 * time.Second

	// earlyExitWindow catches processes that die immediately on launch.
	earlyExitWindow = 1 * time.Second

	stopGrace = 5 * time.Second
)

// Backend implements [domain.Backend] with detached OS processes. The
// launched process outlives the triggering call; its process group id
// is retained on the handle so stop can target it specifically. Stop
// never matches processes by port or name: killing by pattern risks
// taking down unrelated tenants.
type Backend struct {
	Logger *log.Logger
}

func New(logger *log.Logger) *Backend {
	return &Backend{Logger: logger}
}

func (b *Backend) Kind() domain.BackendKind { return domain.BackendNative }

// Build installs application dependencies when the runtime's manifest
// file is present in the workspace.
func (b *Backend) Build(ctx context.Context, def domain.RuntimeDefinition, inst domain.ApplicationInstance) (domain.BackendHandle, error) {
	handle := domain.BackendHandle{Kind: domain.BackendNative}
	if def.ManifestFile == "" || def.InstallCommand == "" {
		return handle, nil
	}
	if _, err := os.Stat(filepath.Join(inst.WorkspacePath, def.ManifestFile)); err != nil {
		return handle, nil
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", def.InstallCommand)
	cmd.Dir = inst.WorkspacePath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: %s: %v: %s",
			domain.ErrBuild, def.InstallCommand, err, lastOutputLine(out))
	}
	b.Logger.Debug("dependencies installed", "instance", inst.ID, "command", def.InstallCommand)
	return handle, nil
}

// Start launches the run command detached in its own session, with
// output redirected to the workspace log file. The handle records the
// process id, which doubles as the process group id after Setsid.
func (b *Backend) Start(_ context.Context, def domain.RuntimeDefinition, inst domain.ApplicationInstance, h domain.BackendHandle) (domain.BackendHandle, error) {
	logPath := filepath.Join(inst.WorkspacePath, LogFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: open log file: %v", domain.ErrBuild, err)
	}
	defer logFile.Close()

	// No CommandContext here: the process must outlive the deploy call.
	cmd := exec.Command("sh", "-c", def.RenderRunCommand(inst.Port))
	cmd.Dir = inst.WorkspacePath
	cmd.Env = processEnv(inst)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: launch: %v", domain.ErrBuild, err)
	}

	pid := cmd.Process.Pid
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		tail, _ := tailFile(logPath, 5)
		return domain.BackendHandle{}, fmt.Errorf("%w: process exited immediately (%v): %s",
			domain.ErrBuild, waitErr, strings.Join(tail, " | "))
	case <-time.After(earlyExitWindow):
	}

	b.Logger.Info("process running", "instance", inst.ID, "pid", pid, "port", inst.Port)
	h.PID = pid
	h.LogPath = logPath
	return h, nil
}

// Stop terminates the process group recorded at launch: SIGTERM first,
// SIGKILL after the grace period. A dead or missing process is a no-op.
func (b *Backend) Stop(_ context.Context, inst domain.ApplicationInstance) error {
	pid := inst.Handle.PID
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}

// Logs tails the workspace log file. The file survives the process, so
// logs remain readable for stopped instances.
func (b *Backend) Logs(_ context.Context, inst domain.ApplicationInstance, lines int) ([]string, error) {
	logPath := inst.Handle.LogPath
	if logPath == "" {
		logPath = inst.LogPath
	}
	if logPath == "" {
		logPath = filepath.Join(inst.WorkspacePath, LogFileName)
	}
	out, err := tailFile(logPath, lines)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no logs for instance %s: %w", inst.ID, domain.ErrNotFound)
		}
		return nil, err
	}
	return out, nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func processEnv(inst domain.ApplicationInstance) []string {
	env := os.Environ()
	for k, v := range inst.Env {
		env = append(env, k+"="+v)
	}
	return append(env, fmt.Sprintf("PORT=%d", inst.Port))
}

func lastOutputLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
