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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chainguard.dev/fossilci/changesink"
	"chainguard.dev/fossilci/retry"
	"chainguard.dev/fossilci/statestore"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const (
	revFE7B = "fe7bf77289d5b0097b27692f1567bc45308272cf8e3456d1a26efc033cfadafb"
	revEADE = "eade2f86c050cf06aca42cc7f1b8bfb9bda586823e0713e6933c736e679cce24"
	revFDD7 = "fdd7d7dcde7a8fea1c50728e511973f630b04daee0297bbeb70a7fb494e44f21"
	rev4CCF = "4ccf5d57ec51f0ffde0d1208ba22fe6b8ce1296657763c316f95123d433fe94c"
	revC4DA = "c4da1011eed6e7ac8c84f7bbd4f23c80af4638bc230da1926587f01381713316"
)

// response is one scripted reply of the fake Fossil server.
type response struct {
	method string
	path   string
	query  string
	code   int
	body   string
	// check inspects the request.
	check func(t *testing.T, r *http.Request, body []byte)
}

// fakeFossil serves scripted responses in order.
type fakeFossil struct {
	t *testing.T

	mu        sync.Mutex
	responses []response
}

func (f *fakeFossil) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.responses) == 0 {
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusTeapot)
		return
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]

	method := resp.method
	if method == "" {
		method = http.MethodGet
	}
	if r.Method != method || r.URL.Path != resp.path || r.URL.RawQuery != resp.query {
		f.t.Errorf("got request %s %s?%s, want %s %s?%s", r.Method, r.URL.Path, r.URL.RawQuery, method, resp.path, resp.query)
	}
	if got := r.Header.Get("User-Agent"); got != userAgent {
		f.t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}
	body, _ := io.ReadAll(r.Body)
	if resp.check != nil {
		resp.check(f.t, r, body)
	}

	if resp.code != 0 {
		w.WriteHeader(resp.code)
	}
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakeFossil) verify() {
	f.t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.responses {
		f.t.Errorf("expected request %s%s was never made", r.path, r.query)
	}
}

func testdata(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

type harness struct {
	server  *httptest.Server
	fossil  *fakeFossil
	poller  *Poller
	sink    *changesink.Memory
	backend *statestore.Memory
	logs    *bytes.Buffer
	ctx     context.Context
}

func newHarness(t *testing.T, responses []response, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		fossil:  &fakeFossil{t: t, responses: responses},
		sink:    &changesink.Memory{},
		backend: statestore.NewMemory(),
		logs:    &bytes.Buffer{},
	}
	h.server = httptest.NewServer(h.fossil)
	t.Cleanup(h.server.Close)
	t.Cleanup(h.fossil.verify)

	h.ctx = clog.WithLogger(context.Background(), clog.New(slog.NewTextHandler(h.logs, nil)))

	opts = append([]Option{
		WithHTTPClient(h.server.Client()),
		WithStateStore(h.backend),
		WithSink(h.sink),
		WithRetry(retry.NoRetry),
	}, opts...)
	p, err := New(h.server.URL, opts...)
	require.NoError(t, err)
	h.poller = p
	return h
}

func (h *harness) state(t *testing.T, key string, into any) {
	t.Helper()
	found, err := statestore.Scoped(h.backend, "FossilPoller:"+h.poller.Name()).Get(context.Background(), key, into)
	require.NoError(t, err)
	require.True(t, found, "no state for %s", key)
}

func revisions(changes []changesink.Change) []string {
	var revs []string
	for _, ch := range changes {
		revs = append(revs, ch.Revision)
	}
	return revs
}

func TestNew(t *testing.T) {
	const url = "https://fossil.example.com/home"

	p, err := New(url)
	require.NoError(t, err)
	require.Equal(t, url, p.Name())

	p, err = New(url, WithName("my-poller"))
	require.NoError(t, err)
	require.Equal(t, "my-poller", p.Name())

	for name, tc := range map[string]struct {
		url  string
		opts []Option
	}{
		"empty url":        {url: ""},
		"trailing slash":   {url: url + "/"},
		"zero interval":    {url: url, opts: []Option{WithPollInterval(0)}},
		"inverted delay":   {url: url, opts: []Option{WithRandomDelay(2*time.Second, time.Second)}},
		"delay too long":   {url: url, opts: []Option{WithPollInterval(time.Minute), WithRandomDelay(0, time.Minute)}},
		"negative retries": {url: url, opts: []Option{WithRetry(retry.Config{MaxRetries: -1})}},
		"negative delay":   {url: url, opts: []Option{WithRandomDelay(-time.Second, time.Second)}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(tc.url, tc.opts...)
			require.Error(t, err)
		})
	}
}

func TestRSS(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/timeline.rss", query: "y=ci", body: testdata(t, "timeline.rss")},
	}, WithRSS())
	require.NoError(t, h.poller.Activate(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))

	want := []changesink.Change{{
		Revision:   revEADE,
		Author:     "jolesen",
		Comments:   "*MERGE* Test logging, merge poetry",
		When:       time.Date(2021, 1, 10, 18, 44, 36, 0, time.UTC),
		Branch:     "trunk",
		Revlink:    "http://fossil.local/buildbot-fossil/info/" + revEADE,
		Repository: h.server.URL,
		Project:    "Buildbot-fossil",
	}, {
		Revision:   revFE7B,
		Author:     "jolesen",
		Comments:   "Remove the path dependency on buildbot. This prevented the built wheel from working correctly on the server.",
		When:       time.Date(2021, 1, 18, 1, 5, 58, 0, time.UTC),
		Branch:     "trunk",
		Revlink:    "http://fossil.local/buildbot-fossil/info/" + revFE7B,
		Repository: h.server.URL,
		Project:    "Buildbot-fossil",
	}}
	if diff := cmp.Diff(want, h.sink.Changes()); diff != "" {
		t.Errorf("changes (-want +got):\n%s", diff)
	}

	var lastFetch []string
	h.state(t, "last_fetch", &lastFetch)
	require.Equal(t, []string{revEADE, revFE7B}, lastFetch)
}

func TestRSSRepeatFilter(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/timeline.rss", query: "y=ci", body: testdata(t, "timeline.rss")},
		{path: "/timeline.rss", query: "y=ci", body: testdata(t, "timeline2.rss")},
	}, WithRSS())
	require.NoError(t, h.poller.Activate(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))

	// The two feeds have one item in common.
	require.Equal(t, []string{revEADE, revFE7B, revFDD7}, revisions(h.sink.Changes()))

	// Only the revisions of the last fetch are kept.
	var lastFetch []string
	h.state(t, "last_fetch", &lastFetch)
	require.Equal(t, []string{revFDD7, revEADE}, lastFetch)
}

func TestRSSSavedRepeatFilter(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/timeline.rss", query: "y=ci", body: testdata(t, "timeline.rss")},
	}, WithRSS())
	require.NoError(t, statestore.Scoped(h.backend, "FossilPoller:"+h.server.URL).Set(context.Background(), "last_fetch", []string{revEADE}))

	require.NoError(t, h.poller.Activate(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))
	require.Equal(t, []string{revFE7B}, revisions(h.sink.Changes()))
}

func TestRSSNotFound(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/timeline.rss", query: "y=ci", body: testdata(t, "timeline.rss")},
		{path: "/timeline.rss", query: "y=ci", code: http.StatusNotFound},
	}, WithRSS())
	require.NoError(t, h.poller.Activate(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))

	require.Contains(t, h.logs.String(), "Fossil at "+h.server.URL+" returned code 404")
	require.Len(t, h.sink.Changes(), 2)

	// A failed fetch leaves the seen set alone.
	var lastFetch []string
	h.state(t, "last_fetch", &lastFetch)
	require.Equal(t, []string{revEADE, revFE7B}, lastFetch)
}

func TestRSSMalformed(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/timeline.rss", query: "y=ci", body: `<rss><channel><item><link>x/abc</link><pubDate>yesterday</pubDate></item></channel></rss>`},
	}, WithRSS())
	require.Error(t, h.poller.Poll(h.ctx))
	require.Empty(t, h.sink.Changes())
}

func TestParseRSSTitles(t *testing.T) {
	const feed = `<rss xmlns:dc="http://purl.org/dc/elements/1.1/"><channel><title>P</title>
<item><title>No tags here</title><link>http://x/info/aaa</link><pubDate>Sat, 26 Dec 2020 00:00:42 +0000</pubDate><dc:creator>bob</dc:creator></item>
<item><title>Multi (tags: release, trunk)</title><link>http://x/info/bbb</link><pubDate>Sat, 26 Dec 2020 00:00:43 +0100</pubDate></item>
</channel></rss>`

	changes, err := parseRSS("https://fossil.example.com/home", []byte(feed))
	require.NoError(t, err)
	require.Len(t, changes, 2)

	require.Equal(t, "bbb", changes[0].Revision)
	require.Equal(t, "Multi", changes[0].Comments)
	require.Equal(t, "release", changes[0].Branch)
	require.Equal(t, time.Date(2020, 12, 25, 23, 0, 43, 0, time.UTC), changes[0].When)

	require.Equal(t, "aaa", changes[1].Revision)
	require.Equal(t, "No tags here", changes[1].Comments)
	require.Empty(t, changes[1].Branch)
	require.Equal(t, "bob", changes[1].Author)
}

func TestJSON(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", body: testdata(t, "timeline.json")},
	})
	require.NoError(t, h.poller.Activate(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))

	changes := h.sink.Changes()
	require.Equal(t, []string{rev4CCF, revC4DA}, revisions(changes))

	want := changesink.Change{
		Revision:   rev4CCF,
		Author:     "jolesen",
		Comments:   "Test the filter for repeated revisions. Make the saved list order consistent.",
		When:       time.Unix(1611942417, 0).UTC(),
		Branch:     "trunk",
		Files:      []string{"buildbot_fossil/changes.py", "buildbot_fossil/test/test_changes.py"},
		Revlink:    h.server.URL + "/info/" + rev4CCF,
		Repository: h.server.URL,
	}
	if diff := cmp.Diff(want, changes[0]); diff != "" {
		t.Errorf("first change (-want +got):\n%s", diff)
	}
}

func TestJSONNotConfigured(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", code: http.StatusNotFound},
	})
	require.NoError(t, h.poller.Poll(h.ctx))
	require.Contains(t, h.logs.String(), "404 Not Found "+h.server.URL+"/json/timeline/checkin")
	require.Empty(t, h.sink.Changes())
}

func TestJSONError(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", body: `{
			"fossil": "49f68be83b",
			"timestamp": 1611972492,
			"resultCode": "FOSSIL-3002",
			"resultText": "No subcommand specified.",
			"command": "timeline"
		}`},
	})
	require.NoError(t, h.poller.Poll(h.ctx))
	require.Contains(t, h.logs.String(), "JSONError: FOSSIL-3002: No subcommand specified.")
}

func TestJSONAnonymousAuth(t *testing.T) {
	const cookie = "fossil-42b934f2ab=b7ef6649d551b44b04d4d3ababc/2459244.7069349/anonymous"

	h := newHarness(t, []response{{
		path:  "/json/timeline/checkin",
		query: "files=true",
		body: `{
			"fossil": "49f68be83b",
			"resultCode": "FOSSIL-2002",
			"resultText": "Check-in timeline requires 'h' access.",
			"command": "timeline/checkin"
		}`,
	}, {
		path: "/json/anonymousPassword",
		body: `{"fossil":"49f68be83b","command":"anonymousPassword","payload":{"seed":1247781448,"password":"8XXXX13b"}}`,
	}, {
		method: http.MethodPost,
		path:   "/json/login",
		body: `{"fossil":"49f68be83b","command":"login","payload":{
			"authToken":"b7ef6649d551b44b04d4d3ababc/2459244.7069349/anonymous",
			"name":"anonymous",
			"capabilities":"hmnc",
			"loginCookieName":"fossil-42b934f2ab"}}`,
		check: func(t *testing.T, _ *http.Request, body []byte) {
			var got map[string]any
			if err := json.Unmarshal(body, &got); err != nil {
				t.Errorf("login request is not JSON: %v", err)
				return
			}
			want := map[string]any{"payload": map[string]any{
				"name":          "anonymous",
				"password":      "8XXXX13b",
				"anonymousSeed": float64(1247781448),
			}}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("login request (-want +got):\n%s", diff)
			}
		},
	}, {
		path:  "/json/timeline/checkin",
		query: "files=true",
		body:  testdata(t, "timeline.json"),
		check: func(t *testing.T, r *http.Request, _ []byte) {
			if got := r.Header.Get("Cookie"); got != cookie {
				t.Errorf("Cookie = %q, want %q", got, cookie)
			}
		},
	}})
	require.NoError(t, h.poller.Poll(h.ctx))

	logs := h.logs.String()
	require.Contains(t, logs, "JSONAuthError: FOSSIL-2002: Check-in timeline requires 'h' access")
	require.Contains(t, logs, "Getting anonymous password for "+h.server.URL)
	require.Contains(t, logs, "Logged in as anonymous")
	require.Len(t, h.sink.Changes(), 2)

	var saved string
	h.state(t, "login_cookie", &saved)
	require.Equal(t, cookie, saved)
}

func TestActivateRestoresCookie(t *testing.T) {
	const cookie = "fossil-42b934f2ab=token"
	h := newHarness(t, []response{{
		path:  "/json/timeline/checkin",
		query: "files=true",
		body:  testdata(t, "timeline.json"),
		check: func(t *testing.T, r *http.Request, _ []byte) {
			if got := r.Header.Get("Cookie"); got != cookie {
				t.Errorf("Cookie = %q, want %q", got, cookie)
			}
		},
	}})
	require.NoError(t, statestore.Scoped(h.backend, "FossilPoller:"+h.server.URL).Set(context.Background(), "login_cookie", cookie))
	require.NoError(t, h.poller.Activate(h.ctx))
	require.NoError(t, h.poller.Poll(h.ctx))
}

func TestJSONProtocolErrors(t *testing.T) {
	for name, body := range map[string]string{
		"not fossil":     `{"payload":{"timeline":[]}}`,
		"not json":       `<html>Not Found</html>`,
		"string payload": `{"fossil":"x","payload":"nope"}`,
		"list payload":   `{"fossil":"x","payload":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, []response{
				{path: "/json/timeline/checkin", query: "files=true", body: body},
			})
			require.Error(t, h.poller.Poll(h.ctx))
			require.Empty(t, h.sink.Changes())
		})
	}

	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", body: `{"payload":{}}`},
	})
	require.ErrorIs(t, h.poller.Poll(h.ctx), ErrNotFossil)
}

func TestJSONEmptyPayload(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", body: `{"fossil":"x"}`},
	})
	require.NoError(t, h.poller.Poll(h.ctx))
	require.Empty(t, h.sink.Changes())
}

func TestRetryTransient(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", code: http.StatusServiceUnavailable},
		{path: "/json/timeline/checkin", query: "files=true", body: testdata(t, "timeline.json")},
	}, WithRetry(retry.Config{MaxRetries: 2, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	require.NoError(t, h.poller.Poll(h.ctx))
	require.Len(t, h.sink.Changes(), 2)
}

type failingSink struct{}

func (failingSink) AddChange(context.Context, changesink.Change) error {
	return errors.New("scheduler unavailable")
}

func TestSinkFailureKeepsState(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/json/timeline/checkin", query: "files=true", body: testdata(t, "timeline.json")},
	}, WithSink(failingSink{}))
	require.NoError(t, h.poller.Activate(h.ctx))
	require.Error(t, h.poller.Poll(h.ctx))

	var lastFetch []string
	found, err := statestore.Scoped(h.backend, "FossilPoller:"+h.server.URL).Get(context.Background(), "last_fetch", &lastFetch)
	require.NoError(t, err)
	require.False(t, found)
}

func TestDescribeAndRun(t *testing.T) {
	h := newHarness(t, []response{
		{path: "/timeline.rss", query: "y=ci", body: testdata(t, "timeline.rss")},
	}, WithRSS(), WithPollInterval(time.Hour))
	want := "FossilPoller watching '" + h.server.URL + "'"
	require.Equal(t, want+" [STOPPED - check log]", h.poller.Describe())
	require.NoError(t, h.poller.Activate(h.ctx))

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx) }()

	// The poll at launch delivers the feed.
	require.Eventually(t, func() bool {
		return len(h.sink.Changes()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, want, h.poller.Describe())

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, want+" [STOPPED - check log]", h.poller.Describe())
}
