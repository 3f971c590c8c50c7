package runtimes_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/polyhost/polyhost-server/internal/domain"
	"github.com/polyhost/polyhost-server/internal/runtimes"
)

type fakePuller struct {
	pulls []string
	err   error
}

func (p *fakePuller) PullImage(_ context.Context, ref string) error {
	if p.err != nil {
		return p.err
	}
	p.pulls = append(p.pulls, ref)
	return nil
}

type fakeInstaller struct {
	installs [][]string
	err      error
}

func (i *fakeInstaller) InstallPackages(_ context.Context, packages []string) error {
	if i.err != nil {
		return i.err
	}
	i.installs = append(i.installs, packages)
	return nil
}

type alwaysProbe bool

func (p alwaysProbe) Probe(_ context.Context) bool { return bool(p) }

func testRegistry(t *testing.T) *runtimes.Registry {
	t.Helper()
	return runtimes.New(runtimes.DefaultCatalog(), log.New(io.Discard))
}

func TestResolve(t *testing.T) {
	reg := testRegistry(t)

	def, err := reg.Resolve("nodejs", "20")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.Image != "node:20-alpine" {
		t.Errorf("Image = %q", def.Image)
	}
	if def.DefaultPort != 3000 {
		t.Errorf("DefaultPort = %d, want 3000", def.DefaultPort)
	}

	if _, err := reg.Resolve("nodejs", "99"); !errors.Is(err, domain.ErrRuntimeNotFound) {
		t.Errorf("unknown version: got %v, want ErrRuntimeNotFound", err)
	}
	if _, err := reg.Resolve("cobol", "85"); !errors.Is(err, domain.ErrRuntimeNotFound) {
		t.Errorf("unknown language: got %v, want ErrRuntimeNotFound", err)
	}
}

func TestResolve_DisabledRuntime(t *testing.T) {
	catalog := []domain.RuntimeDefinition{
		{Language: "nodejs", Version: "20", Enabled: false},
	}
	reg := runtimes.New(catalog, log.New(io.Discard))

	if _, err := reg.Resolve("nodejs", "20"); !errors.Is(err, domain.ErrRuntimeNotFound) {
		t.Fatalf("disabled runtime: got %v, want ErrRuntimeNotFound", err)
	}
}

func TestList_StableOrder(t *testing.T) {
	reg := testRegistry(t)
	list := reg.List()
	if len(list) == 0 {
		t.Fatal("List returned nothing")
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Key() >= list[i].Key() {
			t.Fatalf("List not sorted: %q before %q", list[i-1].Key(), list[i].Key())
		}
	}
}

func TestEnsureInstalled_PullsImageWhenEngineReachable(t *testing.T) {
	reg := testRegistry(t)
	puller := &fakePuller{}
	reg.Prober = alwaysProbe(true)
	reg.Puller = puller

	def, _ := reg.Resolve("python", "3.12")
	got, err := reg.EnsureInstalled(context.Background(), def)
	if err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}
	if !got.Installed {
		t.Error("Installed = false after successful install")
	}
	if len(puller.pulls) != 1 || puller.pulls[0] != "python:3.12-alpine" {
		t.Errorf("pulls = %v, want the runtime image", puller.pulls)
	}

	// Second call is a no-op.
	if _, err := reg.EnsureInstalled(context.Background(), def); err != nil {
		t.Fatalf("second EnsureInstalled: %v", err)
	}
	if len(puller.pulls) != 1 {
		t.Errorf("pulls after second call = %d, want 1", len(puller.pulls))
	}
}

func TestEnsureInstalled_UsesHostInstallerWithoutEngine(t *testing.T) {
	reg := testRegistry(t)
	installer := &fakeInstaller{}
	reg.Installer = installer

	def, _ := reg.Resolve("ruby", "3.2")
	if _, err := reg.EnsureInstalled(context.Background(), def); err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}
	if len(installer.installs) != 1 {
		t.Fatalf("installs = %v, want one call", installer.installs)
	}
}

func TestEnsureInstalled_PullFailureFallsBackToHostInstall(t *testing.T) {
	reg := testRegistry(t)
	installer := &fakeInstaller{}
	reg.Prober = alwaysProbe(true)
	reg.Puller = &fakePuller{err: errors.New("registry unreachable")}
	reg.Installer = installer

	def, _ := reg.Resolve("nodejs", "20")
	got, err := reg.EnsureInstalled(context.Background(), def)
	if err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}
	if !got.Installed {
		t.Error("Installed = false after the host-install fallback succeeded")
	}
	if len(installer.installs) != 1 {
		t.Fatalf("host installs = %v, want exactly one fallback call", installer.installs)
	}
}

func TestEnsureInstalled_PullAndFallbackFailure(t *testing.T) {
	reg := testRegistry(t)
	reg.Prober = alwaysProbe(true)
	reg.Puller = &fakePuller{err: errors.New("registry unreachable")}
	reg.Installer = &fakeInstaller{err: errors.New("no package repository")}

	def, _ := reg.Resolve("nodejs", "20")
	_, err := reg.EnsureInstalled(context.Background(), def)
	if !errors.Is(err, domain.ErrInstallationFailed) {
		t.Fatalf("EnsureInstalled: got %v, want ErrInstallationFailed", err)
	}

	got, _ := reg.Resolve("nodejs", "20")
	if got.Installed {
		t.Error("failed install must leave Installed false")
	}
}

func TestEnsureInstalled_FailureWrapsSentinel(t *testing.T) {
	reg := testRegistry(t)
	reg.Prober = alwaysProbe(true)
	reg.Puller = &fakePuller{err: errors.New("registry unreachable")}

	def, _ := reg.Resolve("nodejs", "18")
	_, err := reg.EnsureInstalled(context.Background(), def)
	if !errors.Is(err, domain.ErrInstallationFailed) {
		t.Fatalf("EnsureInstalled: got %v, want ErrInstallationFailed", err)
	}

	// A failed install must not mark the runtime installed.
	got, _ := reg.Resolve("nodejs", "18")
	if got.Installed {
		t.Error("failed install must leave Installed false")
	}
}

func TestMarkInstalled(t *testing.T) {
	reg := testRegistry(t)
	reg.MarkInstalled("go", "1.22")
	def, _ := reg.Resolve("go", "1.22")
	if !def.Installed {
		t.Error("MarkInstalled must flip the flag")
	}
}
