/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"maps"
	"time"
)

// Mode selects how much of the existing working copy is reused.
type Mode string

const (
	// ModeIncremental keeps build products and only reverts versioned files.
	ModeIncremental Mode = "incremental"
	// ModeFull cleans the working copy according to a Method.
	ModeFull Mode = "full"
)

// Method selects how a full-mode checkout cleans up.
type Method string

const (
	// MethodFresh deletes unversioned files and reverts versioned ones.
	MethodFresh Method = "fresh"
	// MethodCopy deletes the working directory and reopens it from the clone.
	MethodCopy Method = "copy"
	// MethodClobber deletes the clone too and clones again.
	MethodClobber Method = "clobber"
)

// Methods lists the valid full-mode methods.
var Methods = []Method{MethodFresh, MethodCopy, MethodClobber}

// RepoCheck selects how an existing clone is validated.
type RepoCheck string

const (
	// RepoCheckPull pulls from the upstream into the clone. A failed pull
	// against an existing clone stops the build.
	RepoCheckPull RepoCheck = "pull"
	// RepoCheckRemote compares the clone's recorded remote URL against the
	// configured one without touching the network.
	RepoCheckRemote RepoCheck = "remote"
)

const (
	defaultWorkdir = "build"
	defaultTimeout = 20 * time.Minute
)

// Option configures the Reconciler.
type Option func(*Reconciler)

// WithMode sets the checkout mode. The default is ModeIncremental.
func WithMode(m Mode) Option {
	return func(r *Reconciler) {
		r.mode = m
	}
}

// WithMethod sets the full-mode cleanup method. It must be set in full mode
// and left empty in incremental mode.
func WithMethod(m Method) Option {
	return func(r *Reconciler) {
		r.method = m
	}
}

// WithWorkdir sets the working directory, relative to the worker's build
// directory. The default is "build".
func WithWorkdir(dir string) Option {
	return func(r *Reconciler) {
		r.workdir = dir
	}
}

// WithRepoCheck selects how an existing clone is validated. The default is
// RepoCheckPull.
func WithRepoCheck(c RepoCheck) Option {
	return func(r *Reconciler) {
		r.repoCheck = c
	}
}

// WithEnv adds environment variables to every command.
func WithEnv(env map[string]string) Option {
	return func(r *Reconciler) {
		if r.env == nil {
			r.env = make(map[string]string, len(env))
		}
		maps.Copy(r.env, env)
	}
}

// WithTimeout bounds every command. The default is 20 minutes.
func WithTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		r.timeout = d
	}
}
