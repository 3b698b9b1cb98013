/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package fossilpoller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"chainguard.dev/fossilci/changesink"
	"chainguard.dev/fossilci/retry"
	"chainguard.dev/fossilci/statestore"
	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-infra-common/pkg/httpmetrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// State keys.
const (
	stateLastFetch   = "last_fetch"
	stateLoginCookie = "login_cookie"
)

const userAgent = "fossilci"

var tracer = otel.Tracer("chainguard.dev/fossilci/pollers/fossilpoller")

// Poller polls one Fossil repository for new check-ins.
type Poller struct {
	repoURL  string
	name     string
	rss      bool
	interval time.Duration
	atLaunch bool
	delayMin time.Duration
	delayMax time.Duration
	client   *http.Client
	backend  statestore.Backend
	sink     changesink.Sink
	retry    retry.Config

	state statestore.Store

	mu        sync.Mutex
	running   bool
	lastFetch map[string]struct{}
	cookie    string
}

// New validates the configuration and constructs a Poller.
func New(repoURL string, opts ...Option) (*Poller, error) {
	p := &Poller{
		repoURL:  repoURL,
		interval: defaultPollInterval,
		atLaunch: true,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}

	switch {
	case repoURL == "":
		return nil, errors.New("repourl cannot be empty")
	case strings.HasSuffix(repoURL, "/"):
		return nil, errors.New("repourl must not end in /")
	case p.interval <= 0:
		return nil, errors.New("poll interval must be positive")
	case p.delayMin < 0 || p.delayMax < p.delayMin:
		return nil, errors.New("random delay must satisfy 0 <= min <= max")
	case p.delayMax >= p.interval:
		return nil, errors.New("random delay max must be less than the poll interval")
	}
	if err := p.retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry: %w", err)
	}

	if p.name == "" {
		p.name = repoURL
	}
	if p.client == nil {
		p.client = &http.Client{
			Transport: httpmetrics.Transport,
			Timeout:   time.Minute,
		}
	}
	if p.backend == nil {
		p.backend = statestore.NewMemory()
	}
	if p.sink == nil {
		p.sink = changesink.Log{}
	}
	p.state = statestore.Scoped(p.backend, "FossilPoller:"+p.name)
	p.lastFetch = make(map[string]struct{})
	return p, nil
}

// Name returns the poller's name.
func (p *Poller) Name() string { return p.name }

// Describe returns a one-line status for operators.
func (p *Poller) Describe() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	status := ""
	if !p.running {
		status = " [STOPPED - check log]"
	}
	return fmt.Sprintf("FossilPoller watching '%s'%s", p.repoURL, status)
}

// Activate loads the persisted state. Call it once before Run or Poll.
func (p *Poller) Activate(ctx context.Context) error {
	var lastFetch []string
	if _, err := p.state.Get(ctx, stateLastFetch, &lastFetch); err != nil {
		errorsTotal.WithLabelValues(p.repoURL, kindState).Inc()
		clog.FromContext(ctx).Errorf("while initializing FossilPoller repository: %v", err)
		return fmt.Errorf("loading %s: %w", stateLastFetch, err)
	}
	var cookie string
	if _, err := p.state.Get(ctx, stateLoginCookie, &cookie); err != nil {
		errorsTotal.WithLabelValues(p.repoURL, kindState).Inc()
		clog.FromContext(ctx).Errorf("while initializing FossilPoller repository: %v", err)
		return fmt.Errorf("loading %s: %w", stateLoginCookie, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFetch = make(map[string]struct{}, len(lastFetch))
	for _, rev := range lastFetch {
		p.lastFetch[rev] = struct{}{}
	}
	p.cookie = cookie
	return nil
}

// Run polls until ctx is done. Failed polls are logged and retried on the
// next interval.
func (p *Poller) Run(ctx context.Context) error {
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("poller", p.name))

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	clog.FromContext(ctx).Infof("%s, every %s", p.Describe(), p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	poll := p.atLaunch
	for {
		if poll {
			if err := p.delay(ctx); err != nil {
				return nil
			}
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				clog.FromContext(ctx).Errorf("polling %s: %v", p.repoURL, err)
			}
		}
		poll = true

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// delay sleeps for the configured random delay.
func (p *Poller) delay(ctx context.Context) error {
	if p.delayMax <= 0 {
		return ctx.Err()
	}
	d := p.delayMin
	if span := p.delayMax - p.delayMin; span > 0 {
		d += rand.N(span + 1)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Poll fetches the timeline once and emits changes not seen by the previous
// poll. HTTP and JSON API errors are logged and leave the seen set alone;
// other errors are returned.
func (p *Poller) Poll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "fossil.poll")
	defer span.End()
	span.SetAttributes(attribute.String("fossil.repourl", p.repoURL), attribute.Bool("fossil.rss", p.rss))

	var (
		changes []changesink.Change
		err     error
	)
	if p.rss {
		changes, err = p.fetchRSS(ctx)
	} else {
		changes, err = p.fetchJSON(ctx)
	}

	var herr *HTTPError
	var jerr *JSONError
	switch {
	case errors.As(err, &herr):
		errorsTotal.WithLabelValues(p.repoURL, kindHTTP).Inc()
		if p.rss {
			clog.FromContext(ctx).Errorf("Fossil at %s returned code %d", p.repoURL, herr.StatusCode)
		} else {
			clog.FromContext(ctx).Error(err.Error())
		}
		return nil
	case errors.As(err, &jerr):
		errorsTotal.WithLabelValues(p.repoURL, kindJSON).Inc()
		clog.FromContext(ctx).Error(err.Error())
		return nil
	case err != nil:
		if ctx.Err() == nil {
			errorsTotal.WithLabelValues(p.repoURL, kindProtocol).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := p.process(ctx, changes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// process emits the changes missing from the previous poll and replaces the
// seen set with exactly the fetched revisions.
func (p *Poller) process(ctx context.Context, changes []changesink.Change) error {
	p.mu.Lock()
	lastFetch := p.lastFetch
	p.mu.Unlock()

	fetched := make([]string, 0, len(changes))
	for _, ch := range changes {
		fetched = append(fetched, ch.Revision)
		if _, seen := lastFetch[ch.Revision]; seen {
			continue
		}
		if err := p.sink.AddChange(ctx, ch); err != nil {
			errorsTotal.WithLabelValues(p.repoURL, kindSink).Inc()
			return fmt.Errorf("adding change %s: %w", ch.Revision, err)
		}
		changesTotal.WithLabelValues(p.repoURL).Inc()
	}

	next := make(map[string]struct{}, len(fetched))
	for _, rev := range fetched {
		next[rev] = struct{}{}
	}
	p.mu.Lock()
	p.lastFetch = next
	p.mu.Unlock()

	if err := p.state.Set(ctx, stateLastFetch, fetched); err != nil {
		errorsTotal.WithLabelValues(p.repoURL, kindState).Inc()
		return fmt.Errorf("saving %s: %w", stateLastFetch, err)
	}
	return nil
}

// get fetches path on the server. See request.
func (p *Poller) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return p.request(ctx, http.MethodGet, path, query, nil)
}

// request sends a request with retries for transient failures. A non-nil
// body is sent as JSON. It returns an *HTTPError for any status other than
// 200.
func (p *Poller) request(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	u := p.repoURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return retry.Do(ctx, p.retry, method+" "+p.repoURL+path, isTransient, func(ctx context.Context) ([]byte, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rd)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		p.mu.Lock()
		if p.cookie != "" {
			req.Header.Set("Cookie", p.cookie)
		}
		p.mu.Unlock()

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &HTTPError{URL: p.repoURL + path, StatusCode: resp.StatusCode}
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p.repoURL+path, err)
		}
		return data, nil
	})
}

// isTransient reports whether a request is worth repeating.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var herr *HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500
	}
	var nerr net.Error
	var uerr *url.Error
	return errors.As(err, &nerr) || errors.As(err, &uerr)
}
