package dockerbackend

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/polyhost/polyhost-server/internal/domain"
)

// renderDockerfile generates the per-language build descriptor: base
// image, copy step, optional dependency install, exposed port, and the
// start command with placeholders substituted.
func renderDockerfile(def domain.RuntimeDefinition, inst domain.ApplicationInstance, hasManifest bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", def.Image)
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY . .\n")
	if hasManifest && def.InstallCommand != "" {
		fmt.Fprintf(&b, "RUN %s\n", def.InstallCommand)
	}
	fmt.Fprintf(&b, "ENV PORT=%d\n", inst.Port)
	fmt.Fprintf(&b, "EXPOSE %d\n", inst.Port)
	fmt.Fprintf(&b, "CMD [\"sh\", \"-c\", %q]\n", def.RenderRunCommand(inst.Port))
	return b.String()
}

// buildContext tars the workspace together with the generated
// Dockerfile into an image build context.
func buildContext(workspacePath, dockerfile string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(len(dockerfile)),
	}); err != nil {
		return nil, fmt.Errorf("tar dockerfile header: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("tar dockerfile: %w", err)
	}

	err := filepath.WalkDir(workspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspacePath, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := tw.WriteHeader(&tar.Header{
			Name: filepath.ToSlash(rel),
			Mode: int64(info.Mode().Perm()),
			Size: info.Size(),
		}); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("tar workspace: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}
