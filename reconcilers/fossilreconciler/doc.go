/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package fossilreconciler brings a Fossil working copy on a build worker to a
// requested revision.
//
// A Reconciler is configured once with the upstream repository URL and a
// cleanup policy, then asked to Reconcile a remote.Worker for each build. A
// reconciliation is a strictly sequential series of `fossil` invocations:
//
//	fossil version -verbose              probe the tool and its capabilities
//	<clean>                              incremental, or full/{fresh,copy,clobber}
//	fossil checkout <revision|tag:branch|tip>
//	patch ...                            only when a patch is supplied
//	fossil json status | status --differ publish got_revision and got_tags
//
// The local clone lives next to the working directory: a workdir of "build"
// uses the repository file "build.fossil".
//
// # Cleanup
//
// In incremental mode the clone is validated and `fossil revert` discards edits
// to versioned files while leaving build products in place. In full mode the
// method decides how much is thrown away:
//   - fresh runs `fossil clean --verily` and a revert.
//   - copy deletes the working directory and opens a new checkout from the clone.
//   - clobber deletes the clone as well and starts over from `fossil clone`.
//
// Failures only ever move towards the more destructive methods: a broken
// checkout under fresh falls back to copy, a missing clone falls back to
// clobber, and each fallback starts from a known state instead of trying to
// repair the one that failed.
//
// # Results
//
// Reconcile returns an Outcome whose Result is Success, Failure, Cancelled or
// Exception. Exception is reserved for problems with the worker itself (no
// fossil, unrecognized version output, malformed JSON status) and is always
// accompanied by an error. A command interrupted from outside ends the run as
// Cancelled without issuing anything further.
package fossilreconciler
