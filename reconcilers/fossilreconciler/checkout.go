/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"context"
	"errors"
	"io/fs"
	"strconv"

	"chainguard.dev/fossilci/remote"
	"github.com/chainguard-dev/clog"
)

// patchFile is the name the patch body is uploaded under.
const patchFile = ".buildbot-diff"

// Patch is a diff applied on top of the checkout.
type Patch struct {
	// Level is the number of leading path components to strip.
	Level int
	// Body is the unified diff.
	Body []byte
	// Subdir is relative to the workdir. Empty means the workdir itself.
	Subdir string
}

// Label returns the name passed to `fossil checkout`: the revision when set,
// else the newest check-in on branch, else the newest check-in on any branch.
func Label(branch, revision string) string {
	switch {
	case revision != "":
		return revision
	case branch != "":
		return "tag:" + branch
	default:
		return "tip"
	}
}

func (r *run) checkout(ctx context.Context, branch, revision string) (Result, error) {
	out, err := r.fossil(ctx, r.workdir, "checkout", Label(branch, revision))
	if err != nil {
		return Exception, err
	}
	return resultOf(out.Status), nil
}

// applyPatch uploads the diff next to the sources and applies it with patch(1).
func (r *run) applyPatch(ctx context.Context, p *Patch) (Result, error) {
	r.msg(ctx, "applying patch")

	pathm := r.worker.Path()
	dir := r.workdir
	if p.Subdir != "" {
		dir = pathm.Join(r.workdir, p.Subdir)
	}
	diff := pathm.Join(dir, patchFile)

	if err := r.worker.WriteFile(ctx, diff, p.Body); err != nil {
		clog.FromContext(ctx).Warnf("uploading %s: %v", diff, err)
		return opResult(ctx, err), nil
	}

	out, err := r.command(ctx, dir, false,
		"patch", "-p"+strconv.Itoa(p.Level), "--remove-empty-files", "--force", "--forward", "-i", patchFile)
	if err != nil {
		return Exception, err
	}
	if out.Status == remote.Cancelled {
		return Cancelled, nil
	}

	if err := r.worker.RemoveFile(ctx, diff); err != nil && !errors.Is(err, fs.ErrNotExist) {
		clog.FromContext(ctx).Warnf("removing %s: %v", diff, err)
	}
	return resultOf(out.Status), nil
}
