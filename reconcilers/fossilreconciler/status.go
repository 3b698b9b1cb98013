/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"chainguard.dev/fossilci/remote"
)

var (
	checkoutRE = regexp.MustCompile(`(?m)^checkout:\s+([0-9a-f]+)`)
	tagsRE     = regexp.MustCompile(`(?m)^tags:\s+(.+?)\r?$`)
)

// Checkout is the part of the `fossil json status` payload we use.
type Checkout struct {
	Revision string   `json:"uuid"`
	Tags     []string `json:"tags"`
}

// status reads back the checked-out revision and its tags into out. It also
// shows any patched files in the build log.
func (r *run) status(ctx context.Context, out *Outcome) (Result, error) {
	if r.caps.StatusForm() == StatusJSON {
		return r.jsonStatus(ctx, out)
	}
	return r.textStatus(ctx, out)
}

func (r *run) jsonStatus(ctx context.Context, out *Outcome) (Result, error) {
	res, err := r.fossilOutput(ctx, r.workdir, "json", "status")
	if err != nil {
		return Exception, err
	}
	if res.Status != remote.Success {
		return resultOf(res.Status), nil
	}

	co, err := ParseJSONStatus([]byte(res.Stdout))
	if err != nil {
		return Exception, err
	}
	out.GotRevision = co.Revision
	out.GotTags = co.Tags
	return Success, nil
}

// ParseJSONStatus extracts the checkout from `fossil json status` output.
func ParseJSONStatus(data []byte) (Checkout, error) {
	perr := func(reason string, err error) error {
		return &ProtocolError{Command: "json status", Reason: reason, Err: err}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Checkout{}, perr("response is not a JSON object", err)
	}
	if _, ok := envelope["fossil"]; !ok {
		return Checkout{}, perr("response is not a fossil JSON envelope", nil)
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(envelope["payload"], &payload); err != nil || payload == nil {
		return Checkout{}, perr("payload is not an object", err)
	}

	var co *Checkout
	if err := json.Unmarshal(payload["checkout"], &co); err != nil || co == nil {
		return Checkout{}, perr("payload has no checkout object", err)
	}
	if co.Revision == "" {
		return Checkout{}, perr("checkout has no uuid", nil)
	}
	return *co, nil
}

func (r *run) textStatus(ctx context.Context, out *Outcome) (Result, error) {
	res, err := r.fossilOutput(ctx, r.workdir, "status", "--differ")
	if err != nil {
		return Exception, err
	}
	if res.Status != remote.Success {
		return resultOf(res.Status), nil
	}

	rev, tags := ParseTextStatus(res.Stdout)
	out.GotRevision = rev
	out.GotTags = tags
	return Success, nil
}

// ParseTextStatus scrapes the revision hash and tag list from
// `fossil status` output. Missing lines yield zero values.
func ParseTextStatus(stdout string) (revision string, tags []string) {
	if m := checkoutRE.FindStringSubmatch(stdout); m != nil {
		revision = m[1]
	}
	if m := tagsRE.FindStringSubmatch(stdout); m != nil {
		tags = strings.Split(m[1], ", ")
	}
	return revision, tags
}
