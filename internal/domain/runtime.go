package domain

import (
	"strconv"
	"strings"
)

// RuntimeDefinition describes a (language, version) pair the platform
// knows how to execute. Definitions are registered once at construction
// and immutable afterwards except for the Installed flag, which flips
// true after a successful install step.
type RuntimeDefinition struct {
	Language string
	Version  string

	// DefaultPort is the preferred listen port handed to the port
	// allocator as the starting candidate.
	DefaultPort int

	// Image is the container image reference used by the container
	// backend and pulled during installation when an engine is reachable.
	Image string

	// RunCommand is the startup command template. The placeholders
	// {entry} and {port} are substituted at launch time.
	RunCommand string

	// Entrypoint is the source file name the workspace writes the
	// payload to (index.js, app.py, ...).
	Entrypoint string

	// ManifestFile, when present in a workspace, triggers the dependency
	// install step before launch (package.json, requirements.txt, ...).
	ManifestFile string

	// InstallCommand installs application dependencies from ManifestFile.
	InstallCommand string

	// Dependencies are the host packages required to run this runtime
	// natively, installed when no container engine is reachable.
	Dependencies []string

	Installed bool
	Enabled   bool
}

// RenderRunCommand substitutes the {entry} and {port} placeholders in
// the run-command template.
func (d RuntimeDefinition) RenderRunCommand(port int) string {
	cmd := strings.ReplaceAll(d.RunCommand, "{entry}", d.Entrypoint)
	return strings.ReplaceAll(cmd, "{port}", strconv.Itoa(port))
}

// Key returns the catalog key for a definition.
func (d RuntimeDefinition) Key() string {
	return RuntimeKey(d.Language, d.Version)
}

// RuntimeKey builds the catalog key for a (language, version) pair.
func RuntimeKey(language, version string) string {
	return language + "-" + version
}
