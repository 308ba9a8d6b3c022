// Package fault classifies the failures opnsensectl can hit so the CLI can
// map them to an exit status and a remediation hint.
package fault

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Sentinel kinds. Errors are tagged with errors.Mark so that errors.Is keeps
// working after further wrapping.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnectivity  = errors.New("connectivity error")
	ErrRemote        = errors.New("remote error")
	ErrLocalIO       = errors.New("local I/O error")

	// ErrCancelled marks an operator-requested stop. It exits 0.
	ErrCancelled = errors.New("cancelled")
)

// Kind is the coarse category of a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindConnectivity
	KindRemote
	KindLocalIO
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindConnectivity:
		return "connectivity"
	case KindRemote:
		return "remote"
	case KindLocalIO:
		return "local-io"
	default:
		return "unknown"
	}
}

// Configuration marks err as a configuration problem (missing credentials,
// bad flags, invalid selection). Never retried.
func Configuration(err error, hint string) error {
	return mark(err, ErrConfiguration, hint)
}

// Configurationf builds a new configuration error.
func Configurationf(format string, args ...any) error {
	return errors.Mark(errors.NewWithDepthf(1, format, args...), ErrConfiguration)
}

// Connectivity marks a transport-level failure (DNS, refused, timeout).
func Connectivity(err error, hint string) error {
	return mark(err, ErrConnectivity, hint)
}

// LocalIO marks a local filesystem failure.
func LocalIO(err error, hint string) error {
	return mark(err, ErrLocalIO, hint)
}

func mark(err error, kind error, hint string) error {
	if err == nil {
		return nil
	}
	err = errors.Mark(errors.WithStackDepth(err, 2), kind)
	if hint != "" {
		err = errors.WithHint(err, hint)
	}
	return err
}

// RemoteError is a non-2xx answer from the appliance.
type RemoteError struct {
	Endpoint   string
	StatusCode int
	// Detail is the decoded JSON error body when there was one, else raw text.
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Detail)
}

// Remote wraps a RemoteError with the ErrRemote marker.
func Remote(e *RemoteError) error {
	err := errors.Mark(e, ErrRemote)
	switch e.StatusCode {
	case 401, 403:
		err = errors.WithHint(err, "check OPNSENSE_API_KEY / OPNSENSE_API_SECRET and the key's privileges")
	case 404:
		err = errors.WithHint(err, "the endpoint does not exist on this OPNsense version")
	}
	return err
}

// KindOf reports the kind an error was marked with.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrConnectivity):
		return KindConnectivity
	case errors.Is(err, ErrRemote):
		return KindRemote
	case errors.Is(err, ErrLocalIO):
		return KindLocalIO
	}
	return KindUnknown
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil || errors.Is(err, ErrCancelled) {
		return 0
	}
	switch KindOf(err) {
	case KindConfiguration:
		return 2
	case KindConnectivity:
		return 3
	case KindRemote:
		return 4
	case KindLocalIO:
		return 5
	}
	return 1
}

// Hint returns the flattened remediation hints attached to err, if any.
func Hint(err error) string {
	return errors.FlattenHints(err)
}
