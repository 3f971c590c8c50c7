package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/polyhost/polyhost-server/internal/domain"
	"github.com/polyhost/polyhost-server/internal/workspace"
)

func TestMaterialize_WritesSourceAndEnv(t *testing.T) {
	m := workspace.New(t.TempDir())

	dir, err := m.Materialize("i1", "index.js", []byte("console.log('hi')"), map[string]string{
		"B": "2",
		"A": "1",
	})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if dir != m.Path("i1") {
		t.Errorf("dir = %q, want %q", dir, m.Path("i1"))
	}

	source, err := os.ReadFile(filepath.Join(dir, "index.js"))
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if string(source) != "console.log('hi')" {
		t.Errorf("source = %q", source)
	}

	env, err := os.ReadFile(filepath.Join(dir, workspace.EnvFileName))
	if err != nil {
		t.Fatalf("read env file: %v", err)
	}
	if string(env) != "A=1\nB=2\n" {
		t.Errorf("env file = %q, want sorted key=value lines", env)
	}
}

func TestMaterialize_OverwritesExistingWorkspace(t *testing.T) {
	m := workspace.New(t.TempDir())

	if _, err := m.Materialize("i1", "app.py", []byte("print(1)"), nil); err != nil {
		t.Fatalf("first Materialize: %v", err)
	}
	if _, err := m.Materialize("i1", "app.py", []byte("print(2)"), nil); err != nil {
		t.Fatalf("second Materialize: %v", err)
	}

	got, err := m.ReadSource("i1", "app.py")
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}
	if string(got) != "print(2)" {
		t.Errorf("source = %q, want the second payload", got)
	}
}

func TestMaterialize_RequiresIDAndEntrypoint(t *testing.T) {
	m := workspace.New(t.TempDir())

	if _, err := m.Materialize("", "index.js", nil, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty ID: got %v, want ErrInvalidArgument", err)
	}
	if _, err := m.Materialize("i1", "", nil, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty entrypoint: got %v, want ErrInvalidArgument", err)
	}
}

func TestReadSource_MissingWorkspace(t *testing.T) {
	m := workspace.New(t.TempDir())
	_, err := m.ReadSource("ghost", "index.js")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ReadSource: got %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	m := workspace.New(t.TempDir())
	if _, err := m.Materialize("i1", "index.js", []byte("x"), nil); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	if err := m.Remove("i1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(m.Path("i1")); !os.IsNotExist(err) {
		t.Error("workspace directory must be gone after Remove")
	}

	// Removing an absent workspace is not an error.
	if err := m.Remove("i1"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}
