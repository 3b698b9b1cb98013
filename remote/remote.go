/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package remote

import (
	"context"
	"io"
	"strings"
	"time"
)

// Status classifies how a remote command ended.
type Status int

const (
	// Success means the command exited 0.
	Success Status = iota
	// Failure means the command exited non-zero or timed out.
	Failure
	// Cancelled means the command was interrupted from outside.
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Command describes a single program invocation on a worker.
type Command struct {
	// Dir is the working directory, relative to the worker's base directory.
	Dir string
	// Args is the argv, including the program name.
	Args []string
	// Env is merged over the worker's environment.
	Env map[string]string
	// LogEnviron asks the worker to write the full environment to Log
	// before running the command.
	LogEnviron bool
	// Timeout bounds the command's run time. Zero means no limit.
	Timeout time.Duration
	// CollectStdout asks the worker to capture stdout into Result.Stdout.
	CollectStdout bool
	// Log receives the command's combined output as it runs. May be nil.
	Log io.Writer
}

// String renders the argv the way it is written to logs.
func (c *Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result is the outcome of a Command that actually ran.
type Result struct {
	Status   Status
	ExitCode int
	// Stdout is only populated when Command.CollectStdout was set.
	Stdout string
}

// Failed reports whether the command ran and failed. Cancelled commands
// did not fail.
func (r *Result) Failed() bool {
	return r.Status == Failure
}

// Worker runs commands and filesystem operations on a build worker.
//
// Implementations need not be safe for concurrent use; callers issue one
// operation at a time.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Path returns the path rules of the worker's operating system.
	Path() PathModule
	// Run executes cmd. A non-nil error means the command could not be run.
	Run(ctx context.Context, cmd *Command) (*Result, error)
	// Exists reports whether path exists on the worker.
	Exists(ctx context.Context, path string) (bool, error)
	// RemoveFile deletes a single file. A missing file yields an error
	// matching fs.ErrNotExist.
	RemoveFile(ctx context.Context, path string) error
	// RemoveAll deletes a directory tree. A missing tree is not an error.
	RemoveAll(ctx context.Context, path string) error
	// Mkdir creates a directory and any missing parents.
	Mkdir(ctx context.Context, path string) error
	// WriteFile uploads data to path, replacing any existing file.
	WriteFile(ctx context.Context, path string, data []byte) error
}
