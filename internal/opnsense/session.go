// Package opnsense talks to the OPNsense management API: it builds an
// authenticated session, wraps individual API calls and exposes the backup,
// restore and status endpoints on top of them.
package opnsense

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"opnsensectl/internal/logging"
)

// Timeouts bound every request class.
type Timeouts struct {
	Probe    time.Duration
	JSON     time.Duration
	Upload   time.Duration
	Download time.Duration
}

// DefaultTimeouts: 10s probe, 30s JSON, 120s upload, 30s download.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Probe:    10 * time.Second,
		JSON:     30 * time.Second,
		Upload:   120 * time.Second,
		Download: 30 * time.Second,
	}
}

// Session is an authenticated client bound to one appliance. It is created
// once per invocation and is not meant to be shared between goroutines.
type Session struct {
	creds    Credentials
	baseURL  string
	client   *http.Client
	log      *zap.Logger
	timeouts Timeouts
	info     *Result
}

// Option customises a Session.
type Option func(*Session)

// WithLogger injects the logger used for request failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = logging.OrNop(l) }
}

// WithHTTPClient replaces the default insecure client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) { s.client = c }
}

// WithTimeouts overrides the per-class request timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(s *Session) { s.timeouts = t }
}

// NewSession validates creds, builds the client and probes
// core/system/info once. A nil session is returned with the error when the
// credentials are incomplete or the probe fails; callers should abort.
func NewSession(ctx context.Context, creds Credentials, opts ...Option) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		creds:    creds,
		baseURL:  creds.BaseURL(),
		client:   &http.Client{Transport: InsecureTransport()},
		log:      zap.NewNop(),
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(s)
	}

	info, err := s.Call(ctx, Request{
		Method:   http.MethodGet,
		Endpoint: EndpointSystemInfo,
		Timeout:  s.timeouts.Probe,
	})
	if err != nil {
		s.log.Error("Failed to connect to OPNsense API", zap.String("url", s.baseURL), zap.Error(err))
		return nil, err
	}
	s.info = info
	s.log.Debug("Connected to OPNsense API", zap.String("url", s.baseURL))
	return s, nil
}

// BaseURL is the appliance URL the session is bound to.
func (s *Session) BaseURL() string { return s.baseURL }

// Info is the answer of the connectivity probe.
func (s *Session) Info() *Result { return s.info }
