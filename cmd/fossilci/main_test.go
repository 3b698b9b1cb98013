/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chainguard.dev/fossilci/reconcilers/fossilreconciler"
	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

const feed = `<?xml version="1.0"?>
<rss xmlns:dc="http://purl.org/dc/elements/1.1/" version="2.0">
  <channel>
    <title>widgets</title>
    <item>
      <title>Fix the frobnicator (tags: trunk)</title>
      <link>%s/info/0123456789abcdef</link>
      <pubDate>Sat, 9 Jan 2021 18:44:36 +0000</pubDate>
      <dc:creator>alice</dc:creator>
    </item>
  </channel>
</rss>
`

func execute(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(envconfig.MapLookuper(env))
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPollOnce(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repo/timeline.rss" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(fmt.Sprintf(feed, srv.URL+"/repo")))
	}))
	t.Cleanup(srv.Close)

	env := map[string]string{
		"FOSSIL_REPOURLS": srv.URL + "/repo",
		"FOSSIL_RSS":      "true",
		"STATE_FILE":      filepath.Join(t.TempDir(), "state.yaml"),
	}

	out, err := execute(t, env, "poll", "--once")
	require.NoError(t, err)
	require.Contains(t, out, "0123456789abcdef")
	require.Contains(t, out, "Fix the frobnicator")
	require.Contains(t, out, "alice")

	// The seen set is persisted, so a second run reports nothing new.
	out, err = execute(t, env, "poll", "--once")
	require.NoError(t, err)
	require.NotContains(t, out, "0123456789abcdef")
}

func TestPollMissingConfig(t *testing.T) {
	_, err := execute(t, map[string]string{}, "poll", "--once")
	require.ErrorContains(t, err, "FOSSIL_REPOURLS")
}

func TestCheckoutBadConfig(t *testing.T) {
	_, err := execute(t, map[string]string{
		"FOSSIL_REPOURL": "https://fossil.example.com/repo/",
	}, "checkout")
	require.ErrorIs(t, err, fossilreconciler.ErrBadConfig)

	_, err = execute(t, map[string]string{}, "checkout")
	require.ErrorContains(t, err, "FOSSIL_REPOURL")
}

func TestCheckoutConfigOptions(t *testing.T) {
	var cfg checkoutConfig
	require.NoError(t, envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target: &cfg,
		Lookuper: envconfig.MapLookuper(map[string]string{
			"FOSSIL_REPOURL": "https://fossil.example.com/repo",
			"FOSSIL_MODE":    "full",
			"FOSSIL_METHOD":  "fresh",
			"FOSSIL_ENV":     "TZ:UTC",
		}),
	}))
	require.Equal(t, "build", cfg.Workdir)
	require.Equal(t, 20*time.Minute, cfg.Timeout)
	require.Equal(t, map[string]string{"TZ": "UTC"}, cfg.Env)

	_, err := fossilreconciler.New(cfg.RepoURL, cfg.options()...)
	require.NoError(t, err)
	require.Equal(t, "build.fossil", fossilreconciler.RepoPath(cfg.Workdir))
}

func TestPatchedFiles(t *testing.T) {
	diff := `diff --git a/main.go b/main.go
index 1111111..2222222 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,3 @@
 package main
-var x = 1
+var x = 2
 func main() {}
`
	files, err := patchedFiles(diff)
	require.NoError(t, err)
	require.Equal(t, []string{"main.go"}, files)

	_, err = patchedFiles("not a diff\n")
	require.ErrorContains(t, err, "does not change any files")
}
