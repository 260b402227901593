// Package apierr implements the §7 error-kind taxonomy the core
// distinguishes, so every RPC surface (RouterService, MessageService, and
// their gRPC-JSON handlers) can classify a failure into the same tagged
// set instead of each inventing its own status strings.
package apierr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the caller-visible behaviour §7 assigns it.
type Kind string

const (
	KindInvalidParameter      Kind = "InvalidParameter"
	KindOperationNotSupported Kind = "OperationNotSupported"
	KindServiceUnavailable    Kind = "ServiceUnavailable"
	KindDatabaseError         Kind = "DatabaseError"
	KindResourceExhausted     Kind = "ResourceExhausted"
	KindInternalError         Kind = "InternalError"
)

// Classified pairs a Kind with its cause and the trace id a response's
// metadata should carry on failure (S6's "trace id present in response
// metadata").
type Classified struct {
	Kind    Kind
	TraceID string
	Err     error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Kind, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// New builds a Classified error.
func New(kind Kind, traceID string, err error) *Classified {
	return &Classified{Kind: kind, TraceID: traceID, Err: err}
}

// Classify extracts a *Classified from err, defaulting to InternalError
// with traceID when err carries no classification of its own (an
// unclassified collaborator error bubbling up unwrapped).
func Classify(err error, traceID string) *Classified {
	var c *Classified
	if errors.As(err, &c) {
		if c.TraceID == "" {
			c.TraceID = traceID
		}
		return c
	}
	return &Classified{Kind: KindInternalError, TraceID: traceID, Err: err}
}
