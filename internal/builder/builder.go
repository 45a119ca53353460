/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package builder wraps the devcontainer CLI and the registry push. One call
// produces one pull-reachable image reference plus the full build output;
// callers persist both. The push step distinguishes the address pods pull
// through from the address the builder can reach, retagging when they differ.
package builder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/jeffvincent/devspawn/internal/devcontainer"
	"github.com/jeffvincent/devspawn/internal/naming"
)

// ErrBuildToolUnavailable means the container runtime could not be reached;
// no build was attempted.
var ErrBuildToolUnavailable = errors.New("container build tooling unavailable")

// ExitError reports a build tool failure with its exit code. Logs captured
// up to the failure are still returned.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("devcontainer build failed with exit code %d", e.Code)
}

// Request describes one image build.
type Request struct {
	InstanceID   string
	WorkspaceDir string
	// Devcontainer, when set, is materialized into the workspace as
	// .devcontainer/devcontainer.json before the build. When nil the
	// workspace must already contain one.
	Devcontainer *devcontainer.Config
}

// Builder produces a devcontainer image for a workspace.
type Builder interface {
	Build(ctx context.Context, req Request) (imageRef string, logs string, err error)
}

// commandRunner is the subprocess seam. Tests substitute a scripted fake.
type commandRunner interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) (string, error)
	// Stream executes a command in dir, feeding combined output to sink
	// line by line.
	Stream(ctx context.Context, dir string, sink func(line string), name string, args ...string) error
}

// execRunner shells out. A non-nil env replaces the inherited environment,
// which is how a DOCKER_HOST override reaches docker and the devcontainer
// CLI.
type execRunner struct {
	env []string
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.env
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (r execRunner) Stream(ctx context.Context, dir string, sink func(string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = r.env

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return err
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		done <- err
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
	return <-done
}

// Options configures a CLIBuilder.
type Options struct {
	// PullRegistry is the address pod specs reference images through.
	PullRegistry string
	// PushRegistry is the address the builder pushes through. Equal to
	// PullRegistry unless the pull address is node-local.
	PushRegistry string
	// DockerHost, when set, overrides the container runtime endpoint for
	// every build subprocess.
	DockerHost string
}

// CLIBuilder shells out to the devcontainer CLI and docker.
type CLIBuilder struct {
	fs     afero.Fs
	runner commandRunner
	log    logr.Logger
	opts   Options
}

// New returns a CLIBuilder using the real subprocess runner.
func New(fs afero.Fs, log logr.Logger, opts Options) *CLIBuilder {
	return &CLIBuilder{fs: fs, runner: execRunner{env: runnerEnv(opts)}, log: log, opts: opts}
}

// runnerEnv returns the subprocess environment, nil when nothing needs
// overriding so children inherit the process environment untouched.
func runnerEnv(opts Options) []string {
	if opts.DockerHost == "" {
		return nil
	}
	return append(os.Environ(), "DOCKER_HOST="+opts.DockerHost)
}

// Build implements Builder.
func (b *CLIBuilder) Build(ctx context.Context, req Request) (string, string, error) {
	var lines []string
	capture := func(line string) {
		lines = append(lines, line)
	}
	logs := func() string { return strings.Join(lines, "\n") }

	if req.Devcontainer != nil {
		if err := b.materialize(req); err != nil {
			return "", logs(), err
		}
	}

	if out, err := b.runner.Run(ctx, "docker", "version"); err != nil {
		b.log.Error(err, "container runtime unreachable", "output", out)
		return "", logs(), fmt.Errorf("%w: %s", ErrBuildToolUnavailable, firstLine(out))
	}

	pullTag := naming.DevcontainerImage(b.opts.PullRegistry, req.InstanceID)
	b.log.Info("building devcontainer image", "instance", req.InstanceID, "image", pullTag)

	err := b.runner.Stream(ctx, req.WorkspaceDir, capture,
		"devcontainer", "build",
		"--workspace-folder", req.WorkspaceDir,
		"--image-name", pullTag,
		"--no-cache")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", logs(), &ExitError{Code: exitErr.ExitCode()}
		}
		return "", logs(), fmt.Errorf("run devcontainer build: %w", err)
	}

	b.push(ctx, req.InstanceID, pullTag, capture)
	return pullTag, logs(), nil
}

// push uploads the built image. The first attempt uses the tag as built;
// when that fails and a distinct push address is configured, the image is
// retagged and pushed through it. A total push failure is recorded in the
// logs but not fatal: the image is still usable from the builder's node.
func (b *CLIBuilder) push(ctx context.Context, instanceID, pullTag string, capture func(string)) {
	out, err := b.runner.Run(ctx, "docker", "push", pullTag)
	if out != "" {
		capture(out)
	}
	if err == nil {
		return
	}

	if b.opts.PushRegistry != "" && b.opts.PushRegistry != b.opts.PullRegistry {
		pushTag := naming.DevcontainerImage(b.opts.PushRegistry, instanceID)
		if out, tagErr := b.runner.Run(ctx, "docker", "tag", pullTag, pushTag); tagErr != nil {
			capture(out)
		} else {
			out, err = b.runner.Run(ctx, "docker", "push", pushTag)
			if out != "" {
				capture(out)
			}
			if err == nil {
				return
			}
		}
	}

	b.log.Info("image push failed, pods can only pull on the builder's node",
		"instance", instanceID, "image", pullTag)
	capture(fmt.Sprintf("WARNING: failed to push %s: %v", pullTag, err))
}

// materialize writes the devcontainer override into the workspace.
func (b *CLIBuilder) materialize(req Request) error {
	data, err := req.Devcontainer.Encode()
	if err != nil {
		return fmt.Errorf("encode devcontainer config: %w", err)
	}
	dir := filepath.Join(req.WorkspaceDir, ".devcontainer")
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "devcontainer.json")
	if err := afero.WriteFile(b.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
