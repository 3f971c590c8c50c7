package domain_test

import (
	"testing"

	"github.com/polyhost/polyhost-server/internal/domain"
)

func TestRenderRunCommand(t *testing.T) {
	def := domain.RuntimeDefinition{
		Entrypoint: "server.php",
		RunCommand: "php -S 0.0.0.0:{port} -t .",
	}
	got := def.RenderRunCommand(3201)
	if got != "php -S 0.0.0.0:3201 -t ." {
		t.Errorf("RenderRunCommand = %q", got)
	}

	def = domain.RuntimeDefinition{Entrypoint: "index.js", RunCommand: "node {entry}"}
	if got := def.RenderRunCommand(3000); got != "node index.js" {
		t.Errorf("RenderRunCommand = %q", got)
	}
}

func TestRuntimeKey(t *testing.T) {
	if got := domain.RuntimeKey("nodejs", "20"); got != "nodejs-20" {
		t.Errorf("RuntimeKey = %q, want nodejs-20", got)
	}
	def := domain.RuntimeDefinition{Language: "python", Version: "3.12"}
	if got := def.Key(); got != "python-3.12" {
		t.Errorf("Key = %q, want python-3.12", got)
	}
}

func TestInstanceStatusLive(t *testing.T) {
	live := []domain.InstanceStatus{
		domain.InstanceStatusBuilding,
		domain.InstanceStatusRunning,
		domain.InstanceStatusStopping,
	}
	for _, s := range live {
		if !s.Live() {
			t.Errorf("%q.Live() = false, want true", s)
		}
	}
	dead := []domain.InstanceStatus{
		domain.InstanceStatusStopped,
		domain.InstanceStatusError,
	}
	for _, s := range dead {
		if s.Live() {
			t.Errorf("%q.Live() = true, want false", s)
		}
	}
}

func TestBackendHandleEmpty(t *testing.T) {
	if !(domain.BackendHandle{}).Empty() {
		t.Error("zero handle must be empty")
	}
	if (domain.BackendHandle{ContainerID: "c1"}).Empty() {
		t.Error("container handle must not be empty")
	}
	if (domain.BackendHandle{PID: 123}).Empty() {
		t.Error("process handle must not be empty")
	}
}
