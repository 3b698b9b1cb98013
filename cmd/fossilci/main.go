/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements fossilci, which checks out Fossil revisions on
// build workers and polls Fossil servers for new check-ins.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	"github.com/chainguard-dev/terraform-infra-common/pkg/profiler"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
)

func newRootCmd(lookuper envconfig.Lookuper) *cobra.Command {
	root := &cobra.Command{
		Use:   "fossilci",
		Short: "Fossil SCM integration for build automation",
		Long: `fossilci brings build workers' working copies to a requested Fossil
revision and watches Fossil servers for new check-ins.

Configuration is read from the environment:
  checkout  FOSSIL_REPOURL, FOSSIL_MODE, FOSSIL_METHOD, FOSSIL_WORKDIR, ...
  poll      FOSSIL_REPOURLS, FOSSIL_RSS, STATE_FILE or POSTGRES_DSN, ...`,
		SilenceUsage: true,
	}
	root.AddCommand(newCheckoutCmd(lookuper), newPollCmd(lookuper))
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	profiler.SetupProfiler()
	defer httpmetrics.SetupTracer(ctx)()

	if err := newRootCmd(envconfig.OsLookuper()).ExecuteContext(ctx); err != nil {
		clog.ErrorContextf(ctx, "fossilci: %v", err)
		cancel()
		os.Exit(1)
	}
}
