package answerer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies an answering failure by how the session should react.
type Kind int

const (
	// KindApplication covers every failure not listed below.
	KindApplication Kind = iota
	// KindConnectivity means the service could not be reached; the session
	// goes offline.
	KindConnectivity
	// KindRateLimit is an HTTP 429 or quota exhaustion.
	KindRateLimit
	// KindAuthConfig is an authentication problem between this service and
	// the answering backend. Operators fix it, not users.
	KindAuthConfig
)

func (k Kind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindRateLimit:
		return "rate_limit"
	case KindAuthConfig:
		return "auth_config"
	default:
		return "application"
	}
}

// Error is returned by every Answerer operation that fails.
type Error struct {
	Kind    Kind
	Status  int // HTTP status when one was received
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ErrUnreachable is wrapped by health probe failures.
var ErrUnreachable = errors.New("answering service unreachable")

// Classify returns the Kind of err. Errors not produced by this package are
// classified from their shape: transport errors are connectivity problems,
// messages mentioning 429 or authentication are mapped accordingly.
func Classify(err error) Kind {
	if err == nil {
		return KindApplication
	}

	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}

	if errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}
	return classifyMessage(err.Error())
}

func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "429"):
		return KindRateLimit
	case strings.Contains(lower, "autenticación"), strings.Contains(lower, "authentication"):
		return KindAuthConfig
	}
	return KindApplication
}

func kindForStatus(status int) (Kind, bool) {
	switch status {
	case http.StatusTooManyRequests:
		return KindRateLimit, true
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthConfig, true
	}
	return KindApplication, false
}
