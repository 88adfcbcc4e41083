// Package credstore adapts a platform password manager to the sign-in flow.
//
// The Store issues platform calls in the background and reports every outcome
// as an Event on its bus. Operations the platform cannot finish on its own
// (the user has to pick an account, or confirm a save) are parked under a
// request id; the UI runs the platform's resolution flow and hands the
// outcome back through DeliverExternalCallback.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoCredentials    = errors.New("no saved credentials")
	ErrNotConfigured    = errors.New("credential store not configured")
	ErrResolutionDenied = errors.New("resolution denied by user")
	ErrUnknownRequest   = errors.New("unknown resolution request")
)

type Credentials struct {
	Email    string
	Password string
}

// Platform is the password manager the Store wraps.
type Platform interface {
	// Request returns the credentials to sign in with, ErrNoCredentials when
	// nothing is saved, or a *ResolutionError when the user has to choose.
	Request(ctx context.Context) (Credentials, error)

	// Save stores creds, or returns a *ResolutionError when the user has to
	// confirm the save first.
	Save(ctx context.Context, creds Credentials) error

	// Resolve finishes the operation described by rerr with the outcome of
	// the platform's resolution flow.
	Resolve(ctx context.Context, rerr *ResolutionError, outcome Outcome) (Credentials, error)
}

type Op string

const (
	OpQuery Op = "query"
	OpSave  Op = "save"
)

// ResolutionError reports an operation that needs the user before it can
// complete.
type ResolutionError struct {
	Op       Op
	Accounts []string

	// Pending is the credential waiting to be saved for OpSave.
	Pending Credentials
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s needs user resolution (accounts: %s)", e.Op, strings.Join(e.Accounts, ", "))
}

// Outcome is what the platform's resolution flow produced.
type Outcome struct {
	Accepted bool

	// Email is the account the user picked when resolving a query.
	Email string
}

type State int

const (
	Idle State = iota
	Querying
	Resolvable
	Resolved
	Failed
	NotConfigured
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Querying:
		return "querying"
	case Resolvable:
		return "resolvable"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	case NotConfigured:
		return "not_configured"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Kind int

const (
	KindFound Kind = iota + 1
	KindNeedsResolution
	KindUnavailable
	KindSaved
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindFound:
		return "found"
	case KindNeedsResolution:
		return "needs_resolution"
	case KindUnavailable:
		return "unavailable"
	case KindSaved:
		return "saved"
	case KindFailed:
		return "failed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one result of a query, save or resolution.
type Event struct {
	Kind Kind
	Op   Op

	// Credentials is set for KindFound.
	Credentials Credentials

	// RequestID and Accounts are set for KindNeedsResolution.
	RequestID string
	Accounts  []string

	// Err is set for KindUnavailable and KindFailed.
	Err error
}

// Terminal reports whether the event ends its operation. Every kind except
// KindNeedsResolution does.
func (e Event) Terminal() bool {
	return e.Kind != KindNeedsResolution
}
