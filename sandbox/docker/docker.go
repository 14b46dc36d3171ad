// Package docker implements fabric.Sandbox and fabric.SandboxFactory using
// the Docker Engine API, grounded on the reference sandbox's subprocess
// execution model (cmd/sandbox) but running each sandbox in its own
// container instead of a bare subprocess, per §6 "Sandbox Capability":
// create_from_template builds an image from a host template directory and
// a Dockerfile, then starts a container from it.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nevindra/fabric"
)

const defaultWorkdir = "/workspace"

// Factory builds sandboxes as fresh containers on demand.
type Factory struct {
	cli     *client.Client
	workdir string
}

var _ fabric.SandboxFactory = (*Factory)(nil)

// NewFactory creates a Factory using a Docker client built from the
// environment (DOCKER_HOST, TLS certs, API version negotiation).
func NewFactory() (*Factory, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: new client: %w", err)
	}
	return &Factory{cli: cli, workdir: defaultWorkdir}, nil
}

// CreateFromTemplate builds an image from templateDir using dockerfile and
// starts a container from it, per §6 "create_from_template". The image tag
// is derived from the template directory's base name; rebuilding with the
// same template reuses Docker's layer cache.
func (f *Factory) CreateFromTemplate(ctx context.Context, templateDir, dockerfile string) (fabric.Sandbox, error) {
	tag := "fabric-sandbox-" + filepath.Base(templateDir) + ":latest"

	buildCtx, err := archive.TarWithOptions(templateDir, &archive.TarOptions{})
	if err != nil {
		return nil, fmt.Errorf("docker: tar build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := f.cli.ImageBuild(ctx, buildCtx, build.BuildOptions{
		Tags:       []string{tag},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("docker: image build: %w", err)
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("docker: drain build response: %w", err)
	}
	resp.Body.Close()

	created, err := f.cli.ContainerCreate(ctx, &container.Config{
		Image:      tag,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: f.workdir,
		Tty:        false,
	}, &container.HostConfig{}, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("docker: container create: %w", err)
	}

	if err := f.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("docker: container start: %w", err)
	}

	return &Sandbox{cli: f.cli, containerID: created.ID, workdir: f.workdir}, nil
}

// Sandbox is one running container backing a Sandbox.
type Sandbox struct {
	cli         *client.Client
	containerID string
	workdir     string
}

var _ fabric.Sandbox = (*Sandbox)(nil)

func (s *Sandbox) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.workdir, path)
}

// Exec runs command with args inside the container and collects stdout,
// stderr, and the exit code, mirroring the reference sandbox's
// capture-then-wait subprocess pattern (cmd/sandbox/runner.go) but against
// a container exec session instead of a local process.
func (s *Sandbox) Exec(ctx context.Context, command string, args []string) (fabric.ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          append([]string{command}, args...),
		WorkingDir:   s.workdir,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := s.cli.ContainerExecCreate(ctx, s.containerID, execCfg)
	if err != nil {
		return fabric.ExecResult{}, fmt.Errorf("docker: exec create: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return fabric.ExecResult{}, fmt.Errorf("docker: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && err != io.EOF {
		return fabric.ExecResult{}, fmt.Errorf("docker: exec read output: %w", err)
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return fabric.ExecResult{}, fmt.Errorf("docker: exec inspect: %w", err)
	}

	return fabric.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// WriteFile uploads a single-file tar archive to the container via the
// CopyToContainer API, creating parent directories implicitly (Docker
// extracts relative to the destination directory, which must already
// exist, so the parent is created first with an exec call).
func (s *Sandbox) WriteFile(ctx context.Context, path string, data []byte) error {
	resolved := s.resolve(path)
	parent := filepath.Dir(resolved)
	if _, err := s.Exec(ctx, "mkdir", []string{"-p", parent}); err != nil {
		return fmt.Errorf("docker: mkdir parent %s: %w", parent, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filepath.Base(resolved),
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("docker: tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("docker: tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("docker: tar close: %w", err)
	}

	return s.cli.CopyToContainer(ctx, s.containerID, parent, &buf, container.CopyToContainerOptions{})
}

// ReadFile downloads path from the container via CopyFromContainer, which
// returns a single-entry tar stream for a regular file.
func (s *Sandbox) ReadFile(ctx context.Context, path string) ([]byte, error) {
	rc, _, err := s.cli.CopyFromContainer(ctx, s.containerID, s.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("docker: copy from container: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	if _, err := tr.Next(); err != nil {
		return nil, fmt.Errorf("docker: tar read header: %w", err)
	}
	return io.ReadAll(tr)
}

// ListDir lists the entries of path by reading the tar stream
// CopyFromContainer returns for a directory: one header per entry,
// immediate children only.
func (s *Sandbox) ListDir(ctx context.Context, path string) ([]fabric.DirEntry, error) {
	resolved := s.resolve(path)
	rc, _, err := s.cli.CopyFromContainer(ctx, s.containerID, resolved)
	if err != nil {
		return nil, fmt.Errorf("docker: copy from container: %w", err)
	}
	defer rc.Close()

	base := filepath.Base(resolved)
	tr := tar.NewReader(rc)
	var out []fabric.DirEntry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docker: tar read: %w", err)
		}
		rel := strings.TrimPrefix(hdr.Name, base+"/")
		if rel == "" || rel == hdr.Name || strings.Contains(rel, "/") {
			continue // root entry or nested descendant, not an immediate child
		}
		out = append(out, fabric.DirEntry{
			Name:  rel,
			IsDir: hdr.Typeflag == tar.TypeDir,
			Size:  hdr.Size,
		})
	}
	return out, nil
}

// Remove deletes path inside the container via rm -rf.
func (s *Sandbox) Remove(ctx context.Context, path string) error {
	result, err := s.Exec(ctx, "rm", []string{"-rf", s.resolve(path)})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("docker: rm %s: %s", path, result.Stderr)
	}
	return nil
}

// Export copies sandboxPath's contents out to hostPath (§4.3.3 step 5),
// extracting the tar stream CopyFromContainer returns onto the host file
// system with the archive's top-level directory name stripped. Every file
// is copied: no version-control index is built and ignore files are not
// consulted.
func (s *Sandbox) Export(ctx context.Context, sandboxPath, hostPath string) error {
	rc, _, err := s.cli.CopyFromContainer(ctx, s.containerID, s.resolve(sandboxPath))
	if err != nil {
		return fmt.Errorf("docker: copy from container: %w", err)
	}
	defer rc.Close()

	if err := os.MkdirAll(hostPath, 0755); err != nil {
		return fmt.Errorf("docker: mkdir export dir: %w", err)
	}

	base := filepath.Base(s.resolve(sandboxPath)) + "/"
	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("docker: tar read: %w", err)
		}
		target := filepath.Join(hostPath, strings.TrimPrefix(hdr.Name, base))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("docker: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("docker: mkdir parent %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("docker: create %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("docker: write %s: %w", target, err)
			}
			f.Close()
		}
	}
}

// Close stops and removes the container, per §5 "sandbox lifetime tied to
// Finished event, not a wall-clock idle timer" — the caller decides when
// to release, this just tears down the underlying resources.
func (s *Sandbox) Close(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	timeoutSecs := 5
	if err := s.cli.ContainerStop(stopCtx, s.containerID, container.StopOptions{Timeout: &timeoutSecs}); err != nil {
		return fmt.Errorf("docker: container stop: %w", err)
	}
	if err := s.cli.ContainerRemove(ctx, s.containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("docker: container remove: %w", err)
	}
	return nil
}
