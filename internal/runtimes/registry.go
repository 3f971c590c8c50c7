// Package runtimes holds the catalog of supported runtime definitions
// and installs them on demand.
package runtimes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// installTimeout bounds the install step (image pull or host package
// install). Fixed, not configurable.
const installTimeout = 120 * time.Second

// ImagePuller pulls a container image; the container backend provides it.
type ImagePuller interface {
	PullImage(ctx context.Context, ref string) error
}

// HostInstaller installs host packages for native execution.
type HostInstaller interface {
	InstallPackages(ctx context.Context, packages []string) error
}

// Registry implements [domain.RuntimeResolver] over a static catalog.
// It is constructed once at process start and passed by reference;
// there is no package-level instance.
type Registry struct {
	mu   sync.Mutex
	defs map[string]domain.RuntimeDefinition

	// Prober and Puller come from the container backend and may be nil
	// when no engine client could be constructed.
	Prober    domain.EngineProber
	Puller    ImagePuller
	Installer HostInstaller

	Logger *log.Logger
}

// New builds a registry from a catalog of definitions.
func New(catalog []domain.RuntimeDefinition, logger *log.Logger) *Registry {
	defs := make(map[string]domain.RuntimeDefinition, len(catalog))
	for _, def := range catalog {
		defs[def.Key()] = def
	}
	return &Registry{defs: defs, Logger: logger}
}

// Resolve returns the definition for a (language, version) pair.
// Unknown or disabled runtimes yield ErrRuntimeNotFound.
func (r *Registry) Resolve(language, version string) (domain.RuntimeDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs[domain.RuntimeKey(language, version)]
	if !ok || !def.Enabled {
		return domain.RuntimeDefinition{}, fmt.Errorf("%w: %s %s", domain.ErrRuntimeNotFound, language, version)
	}
	return def, nil
}

// List returns all registered definitions in stable order.
func (r *Registry) List() []domain.RuntimeDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RuntimeDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// EnsureInstalled installs the runtime and returns the updated
// definition. Already-installed definitions return immediately. With a
// reachable container engine the image is pulled; a failed pull falls
// back once to a host dependency install. Without an engine the host
// install runs directly. InstallationFailed surfaces only after the
// chosen path, fallback included, has failed.
func (r *Registry) EnsureInstalled(ctx context.Context, def domain.RuntimeDefinition) (domain.RuntimeDefinition, error) {
	r.mu.Lock()
	current, ok := r.defs[def.Key()]
	r.mu.Unlock()
	if ok && current.Installed {
		return current, nil
	}

	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	if r.Prober != nil && r.Puller != nil && r.Prober.Probe(ctx) {
		r.Logger.Info("pulling runtime image", "runtime", def.Key(), "image", def.Image)
		if pullErr := r.Puller.PullImage(ctx, def.Image); pullErr != nil {
			r.Logger.Warn("image pull failed, falling back to host install", "runtime", def.Key(), "err", pullErr)
			if err := r.installHost(ctx, def); err != nil {
				return domain.RuntimeDefinition{}, fmt.Errorf("%w: pull %s: %v; %v", domain.ErrInstallationFailed, def.Image, pullErr, err)
			}
		}
	} else if err := r.installHost(ctx, def); err != nil {
		return domain.RuntimeDefinition{}, fmt.Errorf("%w: %v", domain.ErrInstallationFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	def.Installed = true
	r.defs[def.Key()] = def
	return def, nil
}

func (r *Registry) installHost(ctx context.Context, def domain.RuntimeDefinition) error {
	if len(def.Dependencies) == 0 {
		return nil
	}
	if r.Installer == nil {
		return fmt.Errorf("no host installer configured")
	}
	r.Logger.Info("installing host dependencies", "runtime", def.Key(), "packages", def.Dependencies)
	return r.Installer.InstallPackages(ctx, def.Dependencies)
}

// MarkInstalled flips the installed flag without running an install,
// for hosts where the runtime is known to be present.
func (r *Registry) MarkInstalled(language, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := domain.RuntimeKey(language, version)
	if def, ok := r.defs[key]; ok {
		def.Installed = true
		r.defs[key] = def
	}
}
