/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package remotetest provides a scripted remote.Worker for tests.
//
// A Worker is loaded with an ordered list of expectations. Each operation the
// code under test performs must match the next expectation exactly; the
// expectation's canned response is then returned. Anything out of order is
// recorded and reported by Verify.
//
//	w := remotetest.New("worker",
//	    remotetest.ExpectShell(".", "fossil", "version", "-verbose").Stdout(versionOutput),
//	    remotetest.ExpectShell("wkdir", "fossil", "revert").Exit(1),
//	)
//	... run the code under test ...
//	if err := w.Verify(); err != nil {
//	    t.Fatal(err)
//	}
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"

	"chainguard.dev/fossilci/remote"
)

// Kinds of worker operations.
const (
	KindShell      = "shell"
	KindStat       = "stat"
	KindRemoveFile = "rmfile"
	KindRemoveAll  = "rmdir"
	KindMkdir      = "mkdir"
	KindWriteFile  = "upload"
)

// Call is one operation observed by the fake worker.
type Call struct {
	Kind string
	// Dir and Args are set for shell calls.
	Dir  string
	Args []string
	// Path is set for filesystem calls.
	Path string
}

func (c Call) String() string {
	if c.Kind == KindShell {
		return fmt.Sprintf("shell %s: %s", c.Dir, strings.Join(c.Args, " "))
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Path)
}

// Expectation is one scripted operation and its response.
type Expectation struct {
	call Call

	status   remote.Status
	exitCode int
	stdout   string
	err      error
	exists   bool
	cancel   bool
}

// ExpectShell expects a command run in dir with the given argv. By default it
// succeeds with empty output.
func ExpectShell(dir string, args ...string) *Expectation {
	return &Expectation{call: Call{Kind: KindShell, Dir: dir, Args: args}}
}

// ExpectStat expects an existence check for path. By default the path exists.
func ExpectStat(path string) *Expectation {
	return &Expectation{call: Call{Kind: KindStat, Path: path}, exists: true}
}

// ExpectRemoveFile expects a single-file removal. By default the file is
// reported missing; chain Exists(true) for a removal that finds the file.
func ExpectRemoveFile(path string) *Expectation {
	return &Expectation{call: Call{Kind: KindRemoveFile, Path: path}}
}

// ExpectRemoveAll expects a directory tree removal.
func ExpectRemoveAll(path string) *Expectation {
	return &Expectation{call: Call{Kind: KindRemoveAll, Path: path}}
}

// ExpectMkdir expects a directory creation.
func ExpectMkdir(path string) *Expectation {
	return &Expectation{call: Call{Kind: KindMkdir, Path: path}}
}

// ExpectWriteFile expects an upload to path.
func ExpectWriteFile(path string) *Expectation {
	return &Expectation{call: Call{Kind: KindWriteFile, Path: path}}
}

// Stdout sets the collected standard output of a shell expectation.
func (e *Expectation) Stdout(s string) *Expectation {
	e.stdout = s
	return e
}

// Exit sets the exit code of a shell expectation. Non-zero codes fail.
func (e *Expectation) Exit(code int) *Expectation {
	e.exitCode = code
	if code == 0 {
		e.status = remote.Success
	} else {
		e.status = remote.Failure
	}
	return e
}

// Cancel makes a shell expectation report an interrupted command, and a
// filesystem expectation fail with context.Canceled.
func (e *Expectation) Cancel() *Expectation {
	e.status = remote.Cancelled
	e.exitCode = -1
	e.cancel = true
	return e
}

// Err makes the operation fail to run at all.
func (e *Expectation) Err(err error) *Expectation {
	e.err = err
	return e
}

// Exists sets the answer of a stat expectation.
func (e *Expectation) Exists(exists bool) *Expectation {
	e.exists = exists
	return e
}

// Worker is a scripted remote.Worker.
type Worker struct {
	name string
	path remote.PathModule

	mu         sync.Mutex
	expected   []*Expectation
	calls      []Call
	commands   []*remote.Command
	unexpected []string
}

var _ remote.Worker = (*Worker)(nil)

// New returns a Worker that expects exactly the given operations in order.
func New(name string, expected ...*Expectation) *Worker {
	return &Worker{name: name, path: remote.Posix, expected: expected}
}

// WithPath sets the path rules the worker reports.
func (w *Worker) WithPath(p remote.PathModule) *Worker {
	w.path = p
	return w
}

// Name implements remote.Worker.
func (w *Worker) Name() string { return w.name }

// Path implements remote.Worker.
func (w *Worker) Path() remote.PathModule { return w.path }

// Calls returns every operation observed so far, expected or not.
func (w *Worker) Calls() []Call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.calls)
}

// Commands returns the commands passed to Run, in order.
func (w *Worker) Commands() []*remote.Command {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.commands)
}

// Verify reports unexpected operations and expectations never reached.
func (w *Worker) Verify() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, u := range w.unexpected {
		errs = append(errs, errors.New(u))
	}
	for _, e := range w.expected {
		errs = append(errs, fmt.Errorf("expected %s was never called", e.call))
	}
	return errors.Join(errs...)
}

func (w *Worker) next(c Call) (*Expectation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.calls = append(w.calls, c)
	if len(w.expected) == 0 {
		msg := fmt.Sprintf("unexpected %s", c)
		w.unexpected = append(w.unexpected, msg)
		return nil, errors.New(msg)
	}
	e := w.expected[0]
	if e.call.String() != c.String() {
		msg := fmt.Sprintf("got %s, want %s", c, e.call)
		w.unexpected = append(w.unexpected, msg)
		return nil, errors.New(msg)
	}
	w.expected = w.expected[1:]
	return e, nil
}

// Run implements remote.Worker.
func (w *Worker) Run(_ context.Context, cmd *remote.Command) (*remote.Result, error) {
	w.mu.Lock()
	w.commands = append(w.commands, cmd)
	w.mu.Unlock()

	e, err := w.next(Call{Kind: KindShell, Dir: cmd.Dir, Args: cmd.Args})
	if err != nil {
		return nil, err
	}
	if e.err != nil {
		return nil, e.err
	}
	res := &remote.Result{Status: e.status, ExitCode: e.exitCode}
	if cmd.CollectStdout {
		res.Stdout = e.stdout
	}
	if cmd.Log != nil && e.stdout != "" {
		fmt.Fprint(cmd.Log, e.stdout)
	}
	return res, nil
}

func (w *Worker) fsOp(kind, path string) (*Expectation, error) {
	e, err := w.next(Call{Kind: kind, Path: path})
	if err != nil {
		return nil, err
	}
	switch {
	case e.cancel:
		return e, context.Canceled
	case e.err != nil:
		return e, e.err
	}
	return e, nil
}

// Exists implements remote.Worker.
func (w *Worker) Exists(_ context.Context, path string) (bool, error) {
	e, err := w.fsOp(KindStat, path)
	if err != nil {
		return false, err
	}
	return e.exists, nil
}

// RemoveFile implements remote.Worker.
func (w *Worker) RemoveFile(_ context.Context, path string) error {
	e, err := w.fsOp(KindRemoveFile, path)
	if err != nil {
		return err
	}
	if !e.exists {
		return fs.ErrNotExist
	}
	return nil
}

// RemoveAll implements remote.Worker.
func (w *Worker) RemoveAll(_ context.Context, path string) error {
	_, err := w.fsOp(KindRemoveAll, path)
	return err
}

// Mkdir implements remote.Worker.
func (w *Worker) Mkdir(_ context.Context, path string) error {
	_, err := w.fsOp(KindMkdir, path)
	return err
}

// WriteFile implements remote.Worker.
func (w *Worker) WriteFile(_ context.Context, path string, _ []byte) error {
	_, err := w.fsOp(KindWriteFile, path)
	return err
}
