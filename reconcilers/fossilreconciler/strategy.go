/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"chainguard.dev/fossilci/remote"
	"github.com/chainguard-dev/clog"
)

// repoState is what is known about the clone next to the workdir.
type repoState int

const (
	repoUnknown repoState = iota
	repoGood
	// repoMissing means the clone file is known not to exist.
	repoMissing
	// repoBroken means the clone file may exist but cannot be used. It
	// must be removed before cloning again.
	repoBroken
)

// clean brings the workdir to a state where only a checkout is needed.
func (r *run) clean(ctx context.Context) (Result, error) {
	if r.mode == ModeIncremental {
		r.msg(ctx, "incremental update")
		return r.incremental(ctx)
	}
	r.msg(ctx, "full/%s checkout", r.method)
	return r.full(ctx, r.method, repoUnknown)
}

// incremental reverts versioned files in an existing checkout and leaves
// everything else in place. A missing or unusable clone falls back to
// full/clobber and a failed revert to full/copy.
func (r *run) incremental(ctx context.Context) (Result, error) {
	state, res, err := r.validateRepo(ctx)
	if err != nil || res != Success {
		return res, err
	}
	switch state {
	case repoMissing:
		r.msg(ctx, "no repo found, cloning")
		return r.fallback(ctx, string(ModeIncremental), MethodClobber, state)
	case repoBroken:
		r.msg(ctx, "unusable repo, cloning")
		return r.fallback(ctx, string(ModeIncremental), MethodClobber, state)
	}

	out, err := r.fossil(ctx, r.workdir, "revert")
	if err != nil {
		return Exception, err
	}
	if !out.Failed() {
		return resultOf(out.Status), nil
	}

	r.msg(ctx, "failed to revert, using full/copy checkout")
	return r.fallback(ctx, string(ModeIncremental), MethodCopy, state)
}

// fallback counts the transition and continues as full/to. from names the
// mode or method that gave up.
func (r *run) fallback(ctx context.Context, from string, to Method, state repoState) (Result, error) {
	fallbacksTotal.WithLabelValues(from, string(to)).Inc()
	clog.FromContext(ctx).Infof("falling back from %s to full/%s", from, to)
	return r.full(ctx, to, state)
}

// full performs a full-mode checkout with method. Pass the clone's state
// when it has already been validated.
func (r *run) full(ctx context.Context, method Method, state repoState) (Result, error) {
	if method != MethodClobber {
		if state == repoUnknown {
			var (
				res Result
				err error
			)
			state, res, err = r.validateRepo(ctx)
			if err != nil || res != Success {
				return res, err
			}
		}
		if state != repoGood {
			r.msg(ctx, "no usable repo, falling back to full/clobber")
			return r.fallback(ctx, string(method), MethodClobber, state)
		}
	}

	if method == MethodClobber {
		// Only a clone proven missing can be skipped.
		if state != repoMissing {
			if res := r.removeRepo(ctx); res != Success {
				return res, nil
			}
		}
		if res, err := r.clone(ctx); err != nil || res != Success {
			return res, err
		}
		method = MethodCopy
	}

	// The clone is good from here on.

	if method == MethodFresh {
		// clean fails when the workdir is not a checkout or is badly broken.
		out, err := r.fossil(ctx, r.workdir, "clean", "--verily")
		if err != nil {
			return Exception, err
		}
		if out.Status == remote.Success {
			if out, err = r.fossil(ctx, r.workdir, "revert"); err != nil {
				return Exception, err
			}
		}
		if !out.Failed() {
			return resultOf(out.Status), nil
		}
		r.msg(ctx, "problem cleaning, falling back to full/copy")
		fallbacksTotal.WithLabelValues(string(MethodFresh), string(MethodCopy)).Inc()
		method = MethodCopy
	}

	if err := r.worker.RemoveAll(ctx, r.workdir); err != nil {
		clog.FromContext(ctx).Warnf("removing %s: %v", r.workdir, err)
		return opResult(ctx, err), nil
	}
	return r.open(ctx)
}

// removeRepo deletes the clone. A missing clone is fine.
func (r *run) removeRepo(ctx context.Context) Result {
	err := r.worker.RemoveFile(ctx, r.repoPath)
	switch {
	case err == nil, errors.Is(err, fs.ErrNotExist):
		return Success
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return Cancelled
	default:
		clog.FromContext(ctx).Warnf("removing %s: %v", r.repoPath, err)
		return Success
	}
}

// clone clones the upstream into the repo file.
func (r *run) clone(ctx context.Context) (Result, error) {
	out, err := r.fossil(ctx, ".", "clone", r.repoURL, r.repoPath)
	if err != nil {
		// The binary may have gone away since the probe.
		clog.FromContext(ctx).Warnf("clone did not run: %v", err)
		res, perr := r.checkVersion(ctx)
		switch {
		case perr != nil:
			return res, perr
		case res == Cancelled:
			return Cancelled, nil
		}
		return Failure, nil
	}
	return resultOf(out.Status), nil
}

// validateRepo checks that the clone exists and is usable. A Result other
// than Success stops the build.
func (r *run) validateRepo(ctx context.Context) (repoState, Result, error) {
	if r.repoCheck == RepoCheckRemote {
		return r.checkRemote(ctx)
	}
	return r.pullRepo(ctx)
}

// pullRepo pulls upstream changes into the clone. A missing clone is bad, an
// existing clone that cannot pull stops the build since there is no telling
// what is wrong with it.
func (r *run) pullRepo(ctx context.Context) (repoState, Result, error) {
	out, err := r.fossil(ctx, ".", "pull", r.repoURL, "-R", r.repoPath)
	if err != nil {
		return repoUnknown, Exception, err
	}
	switch out.Status {
	case remote.Success:
		return repoGood, Success, nil
	case remote.Cancelled:
		return repoUnknown, Cancelled, nil
	}

	exists, err := r.worker.Exists(ctx, r.repoPath)
	if err != nil {
		if res := opResult(ctx, err); res == Cancelled {
			return repoUnknown, Cancelled, nil
		}
		return repoUnknown, Exception, err
	}
	if exists {
		clog.FromContext(ctx).Errorf("Problem with existing Fossil repo %s", r.repoPath)
		return repoUnknown, Failure, nil
	}
	return repoMissing, Success, nil
}

// checkRemote compares the clone's remote URL with the configured one.
func (r *run) checkRemote(ctx context.Context) (repoState, Result, error) {
	out, err := r.fossilOutput(ctx, ".", "remote", "-R", r.repoPath)
	if err != nil {
		return repoUnknown, Exception, err
	}
	switch out.Status {
	case remote.Cancelled:
		return repoUnknown, Cancelled, nil
	case remote.Failure:
		// fossil cannot read the clone, which usually means it is corrupt.
		return repoBroken, Success, nil
	}
	if got := strings.TrimRight(out.Stdout, "\r\n"); got != r.repoURL {
		clog.FromContext(ctx).Infof("clone %s tracks %q, not %q", r.repoPath, got, r.repoURL)
		return repoBroken, Success, nil
	}
	return repoGood, Success, nil
}

// open opens the clone into a workdir that does not exist.
func (r *run) open(ctx context.Context) (Result, error) {
	if r.caps.OpenForm() == OpenWithWorkdir {
		out, err := r.fossil(ctx, ".", "open", r.repoPath, "--workdir", r.workdir, "--empty")
		if err != nil {
			return Exception, err
		}
		return resultOf(out.Status), nil
	}

	// Older fossil can only open into the current directory.
	if err := r.worker.Mkdir(ctx, r.workdir); err != nil {
		clog.FromContext(ctx).Warnf("creating %s: %v", r.workdir, err)
		return opResult(ctx, err), nil
	}
	pathm := r.worker.Path()
	_, file := pathm.Split(r.repoPath)
	out, err := r.fossil(ctx, r.workdir, "open", pathm.Join("..", file), "--empty")
	if err != nil {
		return Exception, err
	}
	return resultOf(out.Status), nil
}
