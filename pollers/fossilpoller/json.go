/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilpoller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"chainguard.dev/fossilci/changesink"
	"github.com/chainguard-dev/clog"
)

// timelineEntry is one check-in from /json/timeline/checkin.
type timelineEntry struct {
	UUID      string   `json:"uuid"`
	User      string   `json:"user"`
	Comment   string   `json:"comment"`
	Timestamp int64    `json:"timestamp"`
	Tags      []string `json:"tags"`
	Files     []struct {
		Name string `json:"name"`
	} `json:"files"`
}

type timelinePayload struct {
	Timeline []timelineEntry `json:"timeline"`
}

type anonymousPassword struct {
	Seed     json.Number `json:"seed"`
	Password string      `json:"password"`
}

type loginPayload struct {
	Name            string `json:"name"`
	AuthToken       string `json:"authToken"`
	LoginCookieName string `json:"loginCookieName"`
}

// fetchJSON reads the check-in timeline through the JSON API, logging in
// anonymously once if the server asks for authentication.
func (p *Poller) fetchJSON(ctx context.Context) ([]changesink.Change, error) {
	query := url.Values{"files": {"true"}}

	var payload timelinePayload
	err := p.jsonGet(ctx, "timeline/checkin", query, &payload)
	var aerr *JSONAuthError
	if errors.As(err, &aerr) {
		clog.FromContext(ctx).Warn(err.Error())
		if err := p.login(ctx); err != nil {
			return nil, err
		}
		err = p.jsonGet(ctx, "timeline/checkin", query, &payload)
	}
	if err != nil {
		return nil, err
	}

	changes := make([]changesink.Change, 0, len(payload.Timeline))
	for _, entry := range slices.Backward(payload.Timeline) {
		ch := changesink.Change{
			Author:     entry.User,
			Comments:   entry.Comment,
			Revision:   entry.UUID,
			When:       time.Unix(entry.Timestamp, 0).UTC(),
			Revlink:    p.repoURL + "/info/" + entry.UUID,
			Repository: p.repoURL,
		}
		for _, f := range entry.Files {
			ch.Files = append(ch.Files, f.Name)
		}
		if len(entry.Tags) > 0 {
			ch.Branch = entry.Tags[0]
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

// login performs the anonymous login procedure, which usually grants the
// history permission the timeline needs, and keeps the resulting cookie.
func (p *Poller) login(ctx context.Context) error {
	clog.FromContext(ctx).Infof("Getting anonymous password for %s", p.repoURL)
	var anon anonymousPassword
	if err := p.jsonGet(ctx, "anonymousPassword", nil, &anon); err != nil {
		return err
	}
	if anon.Seed == "" {
		return fmt.Errorf("%w: anonymousPassword response has no seed", ErrNotFossil)
	}

	// POST so the password does not end up in server logs.
	var login loginPayload
	if err := p.jsonPost(ctx, "login", map[string]any{
		"name":          "anonymous",
		"password":      anon.Password,
		"anonymousSeed": anon.Seed,
	}, &login); err != nil {
		return err
	}
	if login.LoginCookieName == "" || login.AuthToken == "" {
		return fmt.Errorf("%w: login response has no cookie", ErrNotFossil)
	}
	clog.FromContext(ctx).Infof("Logged in as %s", login.Name)

	cookie := login.LoginCookieName + "=" + login.AuthToken
	p.mu.Lock()
	p.cookie = cookie
	p.mu.Unlock()

	if err := p.state.Set(ctx, stateLoginCookie, cookie); err != nil {
		errorsTotal.WithLabelValues(p.repoURL, kindState).Inc()
		return fmt.Errorf("saving %s: %w", stateLoginCookie, err)
	}
	return nil
}

// jsonGet requests /json/<endpoint> and decodes the envelope's payload into
// into.
func (p *Poller) jsonGet(ctx context.Context, endpoint string, query url.Values, into any) error {
	path := "/json/" + endpoint
	body, err := p.get(ctx, path, query)
	if err != nil {
		return err
	}
	return p.decodeEnvelope(path, body, into)
}

// jsonPost sends payload to /json/<endpoint> wrapped in a request envelope
// and decodes the response payload into into.
func (p *Poller) jsonPost(ctx context.Context, endpoint string, payload, into any) error {
	path := "/json/" + endpoint
	req, err := json.Marshal(map[string]any{"payload": payload})
	if err != nil {
		return fmt.Errorf("encoding request to %s: %w", path, err)
	}
	body, err := p.request(ctx, http.MethodPost, path, nil, req)
	if err != nil {
		return err
	}
	return p.decodeEnvelope(path, body, into)
}

// decodeEnvelope checks a Fossil JSON response envelope and decodes its
// payload into into.
func (p *Poller) decodeEnvelope(path string, body []byte, into any) error {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotFossil, path, err)
	}
	if _, ok := envelope["fossil"]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFossil, path)
	}

	// resultCode is only set for errors.
	if code := resultString(envelope["resultCode"]); code != "" {
		jerr := JSONError{URL: p.repoURL + path, Code: code, Text: resultString(envelope["resultText"])}
		if strings.HasPrefix(code, "FOSSIL-2") {
			return &JSONAuthError{JSONError: jerr}
		}
		return &jerr
	}

	raw := bytes.TrimSpace(envelope["payload"])
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if raw[0] != '{' {
		return fmt.Errorf("expected object payload from %s: %s", path, raw)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decoding payload from %s: %w", path, err)
	}
	return nil
}

// resultString renders a JSON scalar as a string. Missing and null values
// are empty.
func resultString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
