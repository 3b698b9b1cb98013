/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package changesink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var testChange = Change{
	Revision:   "a2e7b5a4fa",
	Author:     "alice",
	Comments:   "Fix the frobnicator.\n\nLonger description.",
	When:       time.Date(2020, 12, 26, 0, 0, 42, 0, time.UTC),
	Branch:     "trunk",
	Files:      []string{"src/frob.c"},
	Revlink:    "https://fossil.example.com/repo/info/a2e7b5a4fa",
	Repository: "https://fossil.example.com/repo",
}

type failingSink struct{ err error }

func (f failingSink) AddChange(context.Context, Change) error { return f.err }

func TestMemoryAndMulti(t *testing.T) {
	ctx := context.Background()
	a, b := &Memory{}, &Memory{}
	boom := errors.New("boom")

	err := Multi{a, failingSink{boom}, b}.AddChange(ctx, testChange)
	require.ErrorIs(t, err, boom)

	// Every sink still sees the change.
	if diff := cmp.Diff([]Change{testChange}, a.Changes()); diff != "" {
		t.Errorf("first sink (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Change{testChange}, b.Changes()); diff != "" {
		t.Errorf("last sink (-want +got):\n%s", diff)
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	ctx := clog.WithLogger(context.Background(), clog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, Log{}.AddChange(ctx, testChange))
	require.Contains(t, buf.String(), "new change a2e7b5a4fa by alice")
	require.Contains(t, buf.String(), "repository=https://fossil.example.com/repo")
}

func TestTable(t *testing.T) {
	ctx := context.Background()
	table := &Table{}
	require.NoError(t, table.AddChange(ctx, testChange))
	require.Equal(t, 1, table.Len())

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))

	out := buf.String()
	for _, want := range []string{"Revision", "a2e7b5a4fa", "alice", "trunk", "2020-12-26 00:00:42", "Fix the frobnicator."} {
		require.Contains(t, out, want)
	}
	require.NotContains(t, out, "Longer description")
	require.Contains(t, out, "|")
}

func TestNewKafkaValidation(t *testing.T) {
	_, err := NewKafka(nil, "changes")
	require.Error(t, err)
	_, err = NewKafka([]string{"localhost:19092"}, "")
	require.Error(t, err)
}

func TestKafka(t *testing.T) {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	k, err := NewKafka(strings.Split(brokers, ","), "fossilci-test-changes")
	require.NoError(t, err)
	defer k.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, k.AddChange(ctx, testChange))
}
