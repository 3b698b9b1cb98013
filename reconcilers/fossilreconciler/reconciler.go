/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilreconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"chainguard.dev/fossilci/remote"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Property names published after a successful checkout.
const (
	PropertyGotRevision = "got_revision"
	PropertyGotTags     = "got_tags"

	propertySource = "Fossil"
)

var tracer = otel.Tracer("chainguard.dev/fossilci/reconcilers/fossilreconciler")

// Result is the terminal state of a reconciliation or one of its phases.
type Result int

const (
	Success Result = iota
	Failure
	Cancelled
	// Exception means the worker or its fossil binary is unusable.
	Exception
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	case Exception:
		return "exception"
	default:
		return "unknown"
	}
}

func resultOf(s remote.Status) Result {
	switch s {
	case remote.Success:
		return Success
	case remote.Cancelled:
		return Cancelled
	default:
		return Failure
	}
}

// Properties receives build properties. It is implemented by the surrounding
// build.
type Properties interface {
	SetProperty(name string, value any, source string)
}

// PropertyMap is a Properties backed by a map.
type PropertyMap map[string]any

// SetProperty implements Properties.
func (p PropertyMap) SetProperty(name string, value any, _ string) {
	p[name] = value
}

// Request is one build's checkout request.
type Request struct {
	// Revision is checked out when set.
	Revision string
	// Branch is checked out at its newest check-in when Revision is empty.
	Branch string
	// Patch is applied after checkout when non-nil.
	Patch *Patch

	// Log receives section headers and command output. May be nil.
	Log io.Writer
	// Properties receives got_revision and got_tags on success. May be nil.
	Properties Properties
}

// Outcome is the result of a reconciliation.
type Outcome struct {
	Result       Result
	GotRevision  string
	GotTags      []string
	Capabilities Capabilities
}

// Reconciler checks out Fossil revisions on build workers.
//
// A Reconciler is immutable after New and may serve concurrent builds, as long
// as no two builds share a worker working directory.
type Reconciler struct {
	repoURL   string
	mode      Mode
	method    Method
	workdir   string
	repoCheck RepoCheck
	env       map[string]string
	timeout   time.Duration
}

// New validates the configuration and constructs a Reconciler.
func New(repoURL string, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		repoURL:   repoURL,
		mode:      ModeIncremental,
		workdir:   defaultWorkdir,
		repoCheck: RepoCheckPull,
		timeout:   defaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	switch {
	case r.repoURL == "":
		return nil, fmt.Errorf("%w: repourl cannot be empty", ErrBadConfig)
	case strings.HasSuffix(r.repoURL, "/"):
		return nil, fmt.Errorf("%w: repourl must not end in /", ErrBadConfig)
	case strings.TrimRight(r.workdir, `\/`) == "":
		return nil, fmt.Errorf("%w: workdir cannot be empty", ErrBadConfig)
	case r.timeout < 0:
		return nil, fmt.Errorf("%w: timeout cannot be negative", ErrBadConfig)
	}

	switch r.mode {
	case ModeIncremental:
		if r.method != "" {
			return nil, fmt.Errorf("%w: method has no effect in incremental mode", ErrBadConfig)
		}
	case ModeFull:
		if !slices.Contains(Methods, r.method) {
			return nil, fmt.Errorf("%w: method must be one of %v", ErrBadConfig, Methods)
		}
	default:
		return nil, fmt.Errorf("%w: mode must be 'full' or 'incremental'", ErrBadConfig)
	}

	switch r.repoCheck {
	case RepoCheckPull, RepoCheckRemote:
	default:
		return nil, fmt.Errorf("%w: repo check must be 'pull' or 'remote'", ErrBadConfig)
	}

	return r, nil
}

// RepoURL returns the upstream repository URL.
func (r *Reconciler) RepoURL() string { return r.repoURL }

// RepoPath returns the clone file used for workdir: the workdir with any
// trailing separators removed and ".fossil" appended.
func RepoPath(workdir string) string {
	return strings.TrimRight(workdir, `\/`) + ".fossil"
}

// run holds the state of a single reconciliation.
type run struct {
	*Reconciler

	worker     remote.Worker
	log        io.Writer
	repoPath   string
	caps       Capabilities
	logEnviron bool
}

type phase struct {
	name string
	fn   func(context.Context) (Result, error)
}

// Reconcile brings the worker's working directory to the requested revision.
//
// The returned Outcome is never nil. The error is non-nil exactly when the
// Outcome's Result is Exception.
func (r *Reconciler) Reconcile(ctx context.Context, w remote.Worker, req Request) (*Outcome, error) {
	out := &Outcome{Result: Exception}
	if w == nil {
		return out, errors.New("worker cannot be nil")
	}

	log := clog.FromContext(ctx).With("run", uuid.NewString(), "worker", w.Name(), "repourl", r.repoURL)
	ctx = clog.WithLogger(ctx, log)

	ctx, span := tracer.Start(ctx, "fossil.reconcile", trace.WithAttributes(
		attribute.String("fossil.repourl", r.repoURL),
		attribute.String("fossil.mode", string(r.mode)),
		attribute.String("fossil.method", string(r.method)),
		attribute.String("fossil.worker", w.Name()),
	))
	defer span.End()

	rn := &run{
		Reconciler: r,
		worker:     w,
		log:        req.Log,
		repoPath:   RepoPath(r.workdir),
		logEnviron: true,
	}
	if rn.log == nil {
		rn.log = io.Discard
	}

	phases := []phase{
		{"probe", rn.checkVersion},
		{"clean", rn.clean},
		{"checkout", func(ctx context.Context) (Result, error) {
			return rn.checkout(ctx, req.Branch, req.Revision)
		}},
	}
	if req.Patch != nil {
		phases = append(phases, phase{"patch", func(ctx context.Context) (Result, error) {
			return rn.applyPatch(ctx, req.Patch)
		}})
	}
	phases = append(phases, phase{"status", func(ctx context.Context) (Result, error) {
		return rn.status(ctx, out)
	}})

	res, err := rn.runPhases(ctx, phases)
	out.Result = res
	out.Capabilities = rn.caps
	reconcileTotal.WithLabelValues(string(r.mode), res.String()).Inc()
	span.SetAttributes(attribute.String("fossil.result", res.String()))

	if err != nil {
		out.Result = Exception
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Errorf("fossil checkout failed: %v", err)
		return out, err
	}

	if res != Success {
		log.Warnf("fossil checkout finished with %s", res)
		return out, nil
	}

	if req.Properties != nil {
		if out.GotRevision != "" {
			req.Properties.SetProperty(PropertyGotRevision, out.GotRevision, propertySource)
		}
		if out.GotTags != nil {
			req.Properties.SetProperty(PropertyGotTags, out.GotTags, propertySource)
		}
	}
	log.Infof("checked out %s", out.GotRevision)
	return out, nil
}

// runPhases runs each phase in order and stops at the first one that does not
// succeed.
func (r *run) runPhases(ctx context.Context, phases []phase) (Result, error) {
	for _, p := range phases {
		pctx, span := tracer.Start(ctx, "fossil."+p.name)
		res, err := p.fn(pctx)
		span.SetAttributes(attribute.String("fossil.result", res.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			return Exception, err
		}
		if res != Success {
			return res, nil
		}
	}
	return Success, nil
}

// msg writes a section header to the build log so strategy decisions stand
// out among the command output.
func (r *run) msg(ctx context.Context, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.log, "\n=== %s ===\n", text)
	clog.FromContext(ctx).Debug(text)
}

// command runs argv on the worker in dir. A non-nil error means the command
// could not be run at all.
func (r *run) command(ctx context.Context, dir string, collect bool, argv ...string) (*remote.Result, error) {
	cmd := &remote.Command{
		Dir:           dir,
		Args:          argv,
		Env:           r.env,
		LogEnviron:    r.logEnviron,
		Timeout:       r.timeout,
		CollectStdout: collect,
		Log:           r.log,
	}
	res, err := r.worker.Run(ctx, cmd)

	// There is no reason to keep repeating the environment in the logs.
	r.logEnviron = false

	sub := argv[0]
	if sub == "fossil" && len(argv) > 1 {
		sub = argv[1]
	}
	if err != nil {
		commandsTotal.WithLabelValues(sub, "error").Inc()
		return nil, fmt.Errorf("running %s: %w", cmd, err)
	}
	commandsTotal.WithLabelValues(sub, res.Status.String()).Inc()
	return res, nil
}

// fossil runs a fossil subcommand in dir.
func (r *run) fossil(ctx context.Context, dir string, args ...string) (*remote.Result, error) {
	return r.command(ctx, dir, false, append([]string{"fossil"}, args...)...)
}

// fossilOutput runs a fossil subcommand in dir and collects its stdout.
func (r *run) fossilOutput(ctx context.Context, dir string, args ...string) (*remote.Result, error) {
	return r.command(ctx, dir, true, append([]string{"fossil"}, args...)...)
}

// opResult classifies the error from a worker filesystem operation.
func opResult(ctx context.Context, err error) Result {
	switch {
	case err == nil:
		return Success
	case ctx.Err() != nil, errors.Is(err, context.Canceled):
		return Cancelled
	default:
		return Failure
	}
}
