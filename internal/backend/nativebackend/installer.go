package nativebackend

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

// packageManagers are tried in order; the first one present on the host
// is used.
var packageManagers = []struct {
	binary string
	args   []string
}{
	{"apt-get", []string{"install", "-y"}},
	{"apk", []string{"add"}},
	{"dnf", []string{"install", "-y"}},
}

// Installer installs runtime host packages when no container engine is
// available to pull images instead.
type Installer struct {
	Logger *log.Logger
}

func (i *Installer) InstallPackages(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	for _, mgr := range packageManagers {
		if _, err := exec.LookPath(mgr.binary); err != nil {
			continue
		}
		args := append(append([]string{}, mgr.args...), packages...)
		i.Logger.Info("installing packages", "manager", mgr.binary, "packages", packages)
		out, err := exec.CommandContext(ctx, mgr.binary, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s %s: %w: %s", mgr.binary, strings.Join(args, " "), err, lastOutputLine(out))
		}
		return nil
	}
	return fmt.Errorf("no supported package manager found")
}
