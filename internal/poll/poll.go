// Package poll waits for the appliance's web interface to come up, for
// example after a boot or after a configuration restore triggered a reboot.
package poll

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"opnsensectl/internal/logging"
	"opnsensectl/internal/opnsense"
)

// Defaults match the boot behaviour of a small appliance VM.
const (
	DefaultInterval     = 5 * time.Second
	DefaultProbeTimeout = 5 * time.Second
	DefaultMaxWait      = 180 * time.Second
)

// IsAvailable reports whether a probe status means the web UI is up. The UI
// answers 200 on its landing page and 302 when it redirects an
// unauthenticated browser to the login form; both mean it is serving.
func IsAvailable(status int) bool {
	return status == http.StatusOK || status == http.StatusFound
}

// Poller probes a URL on a fixed interval until it answers or a deadline
// passes. It is a bounded spin-poll, not a backoff.
type Poller struct {
	client       *http.Client
	interval     time.Duration
	probeTimeout time.Duration
	log          *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Poller.
type Option func(*Poller)

// WithInterval sets the pause between probes.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds each individual probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.probeTimeout = d
		}
	}
}

// WithLogger injects the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) { p.log = logging.OrNop(l) }
}

// WithHTTPClient replaces the probe client. Redirect following should stay
// disabled so 302 is observed.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Poller) { p.client = c }
}

// New builds a Poller that ignores certificate errors and does not follow
// redirects.
func New(opts ...Option) *Poller {
	p := &Poller{
		client: &http.Client{
			Transport: opnsense.InsecureTransport(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		interval:     DefaultInterval,
		probeTimeout: DefaultProbeTimeout,
		log:          zap.NewNop(),
		now:          time.Now,
		sleep:        sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitUntilAvailable returns true as soon as a probe of url succeeds, false
// once maxWait has elapsed or ctx is done. Probe failures are not errors.
func (p *Poller) WaitUntilAvailable(ctx context.Context, url string, maxWait time.Duration) bool {
	p.log.Info("Checking if OPNsense is available", zap.String("url", url), zap.Duration("max_wait", maxWait))

	start := p.now()
	for attempt := 1; p.now().Sub(start) < maxWait; attempt++ {
		status, err := p.probe(ctx, url)
		if err == nil && IsAvailable(status) {
			p.log.Info("OPNsense is available",
				zap.Int("status", status),
				zap.Int("attempts", attempt),
				zap.Duration("elapsed", p.now().Sub(start)))
			return true
		}
		if err != nil {
			p.log.Debug("Probe failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			p.log.Debug("Probe returned unexpected status", zap.Int("attempt", attempt), zap.Int("status", status))
		}

		p.log.Info("Waiting for OPNsense to become available...")
		if err := p.sleep(ctx, p.interval); err != nil {
			p.log.Warn("Stopped waiting for OPNsense", zap.Error(err))
			return false
		}
	}

	p.log.Warn("OPNsense did not become available in time", zap.Duration("max_wait", maxWait))
	return false
}

func (p *Poller) probe(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
