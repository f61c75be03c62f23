// file: internal/gateway/errors.go
// version: 1.0.0
// guid: 8c9d0e1f-2a3b-4c5d-6e7f-8a9b0c1d2e3f

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a gateway call failure so callers can present different
// behavior per class without string matching.
type Kind int

const (
	// KindConfig: the caller omitted required call configuration (SFD id or
	// token). A programmer error, never retried.
	KindConfig Kind = iota
	// KindAuth: the server rejected the credential (401 and friends).
	KindAuth
	// KindPermission: the credential is valid but not allowed (403). Kept
	// distinct so callers can show "insufficient permission" rather than a
	// generic server error.
	KindPermission
	// KindTransport: timeout, DNS or connection failure; the request may
	// never have reached the server.
	KindTransport
	// KindServer: the server answered with a non-2xx outside the auth
	// classes.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindTransport:
		return "transport"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is the typed failure surfaced by the gateway client.
type Error struct {
	Kind       Kind
	StatusCode int
	Op         string // "GET /loans"
	Wrapped    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindPermission:
		return fmt.Sprintf("gateway %s: insufficient permission (HTTP %d)", e.Op, e.StatusCode)
	case e.StatusCode > 0 && e.Wrapped != nil:
		return fmt.Sprintf("gateway %s: %s error (HTTP %d): %v", e.Op, e.Kind, e.StatusCode, e.Wrapped)
	case e.StatusCode > 0:
		return fmt.Sprintf("gateway %s: %s error (HTTP %d)", e.Op, e.Kind, e.StatusCode)
	case e.Wrapped != nil:
		return fmt.Sprintf("gateway %s: %s error: %v", e.Op, e.Kind, e.Wrapped)
	default:
		return fmt.Sprintf("gateway %s: %s error", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// IsPermission reports whether err is an insufficient-permission failure.
func IsPermission(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindPermission
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindTransport
}

// IsConfig reports whether err is a call-configuration failure.
func IsConfig(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindConfig
}

// classifyStatus maps a non-2xx HTTP status to a failure kind. 403 is kept
// distinct per the error taxonomy; anything else non-auth is the server's
// problem to describe via the status code.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusUnauthorized:
		return KindAuth
	default:
		return KindServer
	}
}
