/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package changesink

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Table is a Sink that collects changes and renders them as a markdown table.
type Table struct {
	mu   sync.Mutex
	rows [][]string
}

var _ Sink = (*Table)(nil)

// AddChange implements Sink.
func (t *Table) AddChange(_ context.Context, ch Change) error {
	comment, _, _ := strings.Cut(ch.Comments, "\n")

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, []string{
		ch.Repository,
		ch.Revision,
		ch.Branch,
		ch.Author,
		ch.When.UTC().Format(time.DateTime),
		comment,
	})
	return nil
}

// Len returns the number of collected changes.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Render writes the collected changes to w.
func (t *Table) Render(w io.Writer) error {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader([]string{"Repository", "Revision", "Branch", "Author", "When", "Comment"}),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range t.rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
