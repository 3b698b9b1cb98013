/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"chainguard.dev/fossilci/reconcilers/fossilreconciler"
	"chainguard.dev/fossilci/remote"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"github.com/waigani/diffparser"
)

type checkoutConfig struct {
	RepoURL   string            `env:"FOSSIL_REPOURL,required"`
	Mode      string            `env:"FOSSIL_MODE,default=incremental"`
	Method    string            `env:"FOSSIL_METHOD"`
	Workdir   string            `env:"FOSSIL_WORKDIR,default=build"`
	BaseDir   string            `env:"FOSSIL_BASEDIR,default=."`
	Timeout   time.Duration     `env:"FOSSIL_TIMEOUT,default=20m"`
	RepoCheck string            `env:"FOSSIL_REPO_CHECK,default=pull"`
	Worker    string            `env:"FOSSIL_WORKER_NAME"`
	Env       map[string]string `env:"FOSSIL_ENV"`
}

// options translates the configuration into reconciler options.
func (c checkoutConfig) options() []fossilreconciler.Option {
	return []fossilreconciler.Option{
		fossilreconciler.WithMode(fossilreconciler.Mode(c.Mode)),
		fossilreconciler.WithMethod(fossilreconciler.Method(c.Method)),
		fossilreconciler.WithWorkdir(c.Workdir),
		fossilreconciler.WithTimeout(c.Timeout),
		fossilreconciler.WithRepoCheck(fossilreconciler.RepoCheck(c.RepoCheck)),
		fossilreconciler.WithEnv(c.Env),
	}
}

type checkoutFlags struct {
	branch      string
	revision    string
	patch       string
	patchLevel  int
	patchSubdir string
}

func newCheckoutCmd(lookuper envconfig.Lookuper) *cobra.Command {
	var flags checkoutFlags
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Bring the working directory to a Fossil revision",
		Long: `Check out a Fossil revision into FOSSIL_WORKDIR under FOSSIL_BASEDIR,
cloning, cleaning or reopening the checkout as FOSSIL_MODE and FOSSIL_METHOD
require. Prints got_revision and got_tags on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg checkoutConfig
			if err := envconfig.ProcessWith(cmd.Context(), &envconfig.Config{
				Target:   &cfg,
				Lookuper: lookuper,
			}); err != nil {
				return fmt.Errorf("processing config: %w", err)
			}
			return runCheckout(cmd.Context(), cfg, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.branch, "branch", "", "branch to check out the newest check-in of")
	cmd.Flags().StringVar(&flags.revision, "revision", "", "revision to check out; overrides --branch")
	cmd.Flags().StringVar(&flags.patch, "patch", "", "unified diff to apply after checkout")
	cmd.Flags().IntVar(&flags.patchLevel, "patch-level", 0, "leading path components to strip from the patch")
	cmd.Flags().StringVar(&flags.patchSubdir, "patch-subdir", "", "directory under the workdir to apply the patch in")
	return cmd
}

func runCheckout(ctx context.Context, cfg checkoutConfig, flags checkoutFlags, out io.Writer) error {
	r, err := fossilreconciler.New(cfg.RepoURL, cfg.options()...)
	if err != nil {
		return err
	}

	name := cfg.Worker
	if name == "" {
		if name, err = os.Hostname(); err != nil {
			name = "local"
		}
	}
	worker, err := remote.NewLocalWorker(name, cfg.BaseDir)
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}

	req := fossilreconciler.Request{
		Branch:   flags.branch,
		Revision: flags.revision,
		Log:      out,
	}
	if flags.patch != "" {
		if req.Patch, err = loadPatch(ctx, flags.patch, flags.patchLevel, flags.patchSubdir); err != nil {
			return err
		}
	}

	props := fossilreconciler.PropertyMap{}
	req.Properties = props
	clog.InfoContextf(ctx, "checking out %s into %s on %s", fossilreconciler.Label(req.Branch, req.Revision), cfg.Workdir, worker.Base())

	outcome, err := r.Reconcile(ctx, worker, req)
	if err != nil {
		return err
	}
	if outcome.Result != fossilreconciler.Success {
		return fmt.Errorf("checkout finished with %s", outcome.Result)
	}

	fmt.Fprintln(out)
	for _, k := range slices.Sorted(maps.Keys(props)) {
		fmt.Fprintf(out, "%s: %v\n", k, props[k])
	}
	return nil
}

// loadPatch reads a unified diff and checks that it touches some files.
func loadPatch(ctx context.Context, path string, level int, subdir string) (*fossilreconciler.Patch, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patch: %w", err)
	}
	files, err := patchedFiles(string(body))
	if err != nil {
		return nil, err
	}
	clog.InfoContextf(ctx, "patch %s touches %d files: %s", path, len(files), strings.Join(files, ", "))
	return &fossilreconciler.Patch{Level: level, Body: body, Subdir: subdir}, nil
}

// patchedFiles lists the files a unified diff changes.
func patchedFiles(diff string) ([]string, error) {
	parsed, err := diffparser.Parse(diff)
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	var files []string
	for _, f := range parsed.Files {
		name := f.NewName
		if f.Mode == diffparser.DELETED || name == "" {
			name = f.OrigName
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return nil, errors.New("patch does not change any files")
	}
	return files, nil
}
