/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chainguard-dev/clog"
)

// LocalWorker runs commands on the current host, treating base as the
// worker's build directory.
type LocalWorker struct {
	name string
	base string
}

var _ Worker = (*LocalWorker)(nil)

// NewLocalWorker returns a LocalWorker rooted at base, creating it if needed.
func NewLocalWorker(name, base string) (*LocalWorker, error) {
	if name == "" {
		return nil, errors.New("worker name cannot be empty")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolving base dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating base dir: %w", err)
	}
	return &LocalWorker{name: name, base: abs}, nil
}

// Name implements Worker.
func (w *LocalWorker) Name() string { return w.name }

// Path implements Worker.
func (w *LocalWorker) Path() PathModule { return HostPath() }

// Base returns the absolute build directory.
func (w *LocalWorker) Base() string { return w.base }

func (w *LocalWorker) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.base, p)
}

// Run implements Worker.
func (w *LocalWorker) Run(ctx context.Context, cmd *Command) (*Result, error) {
	if len(cmd.Args) == 0 {
		return nil, errors.New("command has no arguments")
	}

	out := cmd.Log
	if out == nil {
		out = io.Discard
	}

	dir := w.resolve(cmd.Dir)
	fmt.Fprintf(out, "%s\n in dir %s\n", cmd, dir)

	env := mergeEnv(os.Environ(), cmd.Env)
	if cmd.LogEnviron {
		fmt.Fprintf(out, " environment:\n  %s\n", strings.Join(env, "\n  "))
	}

	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		fmt.Fprintf(out, "working directory %s does not exist\n", dir)
		return &Result{Status: Failure, ExitCode: -1}, nil
	}

	path, err := exec.LookPath(cmd.Args[0])
	if err != nil {
		return nil, fmt.Errorf("locating %s: %w", cmd.Args[0], err)
	}

	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, path, cmd.Args[1:]...)
	c.Dir = dir
	c.Env = env

	var stdout bytes.Buffer
	if cmd.CollectStdout {
		c.Stdout = io.MultiWriter(&stdout, out)
	} else {
		c.Stdout = out
	}
	c.Stderr = out

	err = c.Run()
	res := &Result{Stdout: stdout.String()}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		fmt.Fprintf(out, "command interrupted\n")
		res.Status = Cancelled
		res.ExitCode = -1
	case runCtx.Err() != nil:
		fmt.Fprintf(out, "command timed out after %s\n", cmd.Timeout)
		res.Status = Failure
		res.ExitCode = -1
	case errors.As(err, &exitErr):
		res.Status = Failure
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, fmt.Errorf("running %s: %w", cmd.Args[0], err)
	default:
		res.Status = Success
	}

	fmt.Fprintf(out, "program finished with exit code %d\n", res.ExitCode)
	clog.FromContext(ctx).Debugf("worker %s: %q in %s -> %s", w.name, cmd.Args, cmd.Dir, res.Status)
	return res, nil
}

// Exists implements Worker.
func (w *LocalWorker) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(w.resolve(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// RemoveFile implements Worker.
func (w *LocalWorker) RemoveFile(_ context.Context, path string) error {
	return os.Remove(w.resolve(path))
}

// RemoveAll implements Worker.
func (w *LocalWorker) RemoveAll(_ context.Context, path string) error {
	return os.RemoveAll(w.resolve(path))
}

// Mkdir implements Worker.
func (w *LocalWorker) Mkdir(_ context.Context, path string) error {
	return os.MkdirAll(w.resolve(path), 0o755)
}

// WriteFile implements Worker.
func (w *LocalWorker) WriteFile(_ context.Context, path string, data []byte) error {
	return os.WriteFile(w.resolve(path), data, 0o644)
}

// mergeEnv overlays extra on base, with deterministic ordering for the
// added variables.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[k]; !ok {
			env = append(env, kv)
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
