// Package workspace manages the per-instance filesystem areas holding
// source code and environment configuration.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// EnvFileName is the environment file written next to the entrypoint.
const EnvFileName = ".env"

// Manager implements [domain.WorkspaceMaterializer]. Each instance gets
// one directory under BaseDir, created on materialize and removed only
// on explicit delete. The directory survives stop and restart.
type Manager struct {
	BaseDir string
}

// New creates a manager rooted at baseDir.
func New(baseDir string) *Manager {
	return &Manager{BaseDir: baseDir}
}

// Path returns the workspace directory for an instance.
func (m *Manager) Path(id domain.InstanceID) string {
	return filepath.Join(m.BaseDir, string(id))
}

// Materialize writes the source payload to the runtime's entrypoint
// file and serializes env as key=value lines. Idempotent: an existing
// workspace is overwritten, not duplicated.
func (m *Manager) Materialize(id domain.InstanceID, entrypoint string, source []byte, env map[string]string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: instance ID is required", domain.ErrInvalidArgument)
	}
	if entrypoint == "" {
		return "", fmt.Errorf("%w: entrypoint file name is required", domain.ErrInvalidArgument)
	}

	dir := m.Path(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, entrypoint), source, 0o644); err != nil {
		return "", fmt.Errorf("write source: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, EnvFileName), []byte(encodeEnv(env)), 0o600); err != nil {
		return "", fmt.Errorf("write env file: %w", err)
	}

	return dir, nil
}

// ReadSource returns the stored source payload for an instance, used by
// restart to re-deploy from the preserved workspace.
func (m *Manager) ReadSource(id domain.InstanceID, entrypoint string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(m.Path(id), entrypoint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("workspace for %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read source: %w", err)
	}
	return data, nil
}

// Remove deletes an instance's workspace.
func (m *Manager) Remove(id domain.InstanceID) error {
	if id == "" {
		return fmt.Errorf("%w: instance ID is required", domain.ErrInvalidArgument)
	}
	if err := os.RemoveAll(m.Path(id)); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// encodeEnv serializes env vars as key=value lines in stable order.
func encodeEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	return b.String()
}
