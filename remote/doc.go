/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package remote defines the contract for running commands and touching the
// filesystem on a build worker.
//
// A Worker runs one Command at a time on behalf of a caller and reports how it
// ended through a Result. Three outcomes are distinguished:
//   - Success: the program ran and exited 0.
//   - Failure: the program ran and exited non-zero, or hit its timeout.
//   - Cancelled: the caller's context ended while the command was in flight.
//
// Problems that prevent the command from running at all (missing executable,
// lost connection to the worker) are returned as a Go error from Run instead
// of a Result, so callers can tell "the tool said no" apart from "the tool is
// not there".
//
// Paths passed to a Worker are interpreted by the worker, relative to its
// build base directory, using the worker's own path syntax. PathModule
// exposes those rules so callers can build paths the worker understands.
//
// LocalWorker runs commands on the current host. The remotetest subpackage
// provides a scripted Worker for tests.
package remote
