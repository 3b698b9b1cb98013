/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"errors"
	"fmt"
)

var (
	// ErrBadConfig wraps every configuration error returned by New.
	ErrBadConfig = errors.New("invalid fossil configuration")

	// ErrNotInstalled means the worker could not run `fossil version`.
	ErrNotInstalled = errors.New("fossil is not installed on worker")

	// ErrUnrecognizedVersion means `fossil version` printed something else.
	ErrUnrecognizedVersion = errors.New("unrecognized fossil version")
)

// SetupError reports a worker that cannot run this build at all. It is never
// retried.
type SetupError struct {
	Worker string
	// Err is ErrNotInstalled or ErrUnrecognizedVersion.
	Err error
	// Cause is the underlying transport error, if any.
	Cause error
}

func (e *SetupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("worker %s: %v: %v", e.Worker, e.Err, e.Cause)
	}
	return fmt.Sprintf("worker %s: %v", e.Worker, e.Err)
}

func (e *SetupError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// ProtocolError reports output from fossil that does not have the expected
// structure, which points at an incompatible or broken fossil binary.
type ProtocolError struct {
	Command string
	Reason  string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fossil %s: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("fossil %s: %s", e.Command, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
