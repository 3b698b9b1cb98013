/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"chainguard.dev/fossilci/remote"
	"github.com/chainguard-dev/clog"
)

// HasOpenWorkdir is the first Fossil release that supports `open --workdir`,
// in the RELEASE_VERSION_NUMBER encoding.
const HasOpenWorkdir = 21200

var (
	versionRE = regexp.MustCompile(`^This is fossil version (\d+(?:\.\d+)+)`)
	jsonAPIRE = regexp.MustCompile(`(?m)^JSON \(API (\d+)\)\r?$`)
)

// OpenForm is how a new checkout is opened from the clone.
type OpenForm int

const (
	// OpenWithWorkdir runs `fossil open <repo> --workdir <dir> --empty`.
	OpenWithWorkdir OpenForm = iota
	// OpenInParent creates the directory first and opens from inside it,
	// for fossil releases that can only open into the current directory.
	OpenInParent
)

// StatusForm is how the checked-out revision is read back.
type StatusForm int

const (
	// StatusJSON uses `fossil json status`.
	StatusJSON StatusForm = iota
	// StatusText scrapes `fossil status --differ`.
	StatusText
)

// Capabilities describes the fossil binary on a worker.
type Capabilities struct {
	// Version uses fossil's own encoding: major*10000 + minor*100 + patch.
	Version int
	// JSONAPI is the JSON API revision, or 0 when fossil was built without it.
	JSONAPI int
}

// OpenForm returns the open command form this fossil supports.
func (c Capabilities) OpenForm() OpenForm {
	if c.Version >= HasOpenWorkdir {
		return OpenWithWorkdir
	}
	return OpenInParent
}

// StatusForm returns the status command form this fossil supports.
func (c Capabilities) StatusForm() StatusForm {
	if c.JSONAPI > 0 {
		return StatusJSON
	}
	return StatusText
}

// ParseVersion reads the output of `fossil version -verbose`.
func ParseVersion(out string) (Capabilities, error) {
	m := versionRE.FindStringSubmatch(out)
	if m == nil {
		return Capabilities{}, ErrUnrecognizedVersion
	}

	var caps Capabilities
	scale := []int{10000, 100, 1}
	for i, part := range strings.Split(m[1], ".") {
		if i >= len(scale) {
			break
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return Capabilities{}, ErrUnrecognizedVersion
		}
		caps.Version += n * scale[i]
	}

	if m := jsonAPIRE.FindStringSubmatch(out); m != nil {
		caps.JSONAPI, _ = strconv.Atoi(m[1])
	}
	return caps, nil
}

// checkVersion makes sure the worker has a usable fossil and records what it
// can do.
func (r *run) checkVersion(ctx context.Context) (Result, error) {
	r.msg(ctx, "checking fossil version")

	res, err := r.fossilOutput(ctx, ".", "version", "-verbose")
	if err != nil {
		return Exception, &SetupError{Worker: r.worker.Name(), Err: ErrNotInstalled, Cause: err}
	}
	switch res.Status {
	case remote.Cancelled:
		return Cancelled, nil
	case remote.Failure:
		return Exception, &SetupError{Worker: r.worker.Name(), Err: ErrNotInstalled}
	}

	caps, err := ParseVersion(res.Stdout)
	if err != nil {
		return Exception, &SetupError{Worker: r.worker.Name(), Err: err}
	}
	r.caps = caps

	clog.FromContext(ctx).Infof("worker %s has Fossil/%d, JSON/%d", r.worker.Name(), caps.Version, caps.JSONAPI)
	return Success, nil
}
