package signin

import (
	"time"

	"github.com/gelozr/signin/credstore"
	"github.com/gelozr/signin/social"
	"github.com/gelozr/signin/tokenservice"
)

// Event is anything the orchestrator reports to the UI.
type Event interface {
	eventName() string
}

// ValidationFailed carries the single active field error of a submission.
type ValidationFailed struct {
	Error ValidationError
}

// Ready is the session-ready signal. It fires whenever sign-in and the
// credential store have both completed, so it can fire again for the same
// session when the store completes a later operation.
type Ready struct {
	CompletedAt time.Time
	Token       tokenservice.SessionToken
}

// Notice is a failure the UI should show, usually as a dialog. The
// orchestrator stays usable after it.
type Notice struct {
	Err error
}

// ResolutionRequested asks the UI to run the platform's resolution flow and
// report back through DeliverResolution with RequestID.
type ResolutionRequested struct {
	RequestID string
	Op        credstore.Op
	Accounts  []string
}

// CredentialsFilled reports credentials retrieved from the store and put in
// the form.
type CredentialsFilled struct {
	Credentials Credentials
}

// PasswordCleared reports the password field was emptied after a recovery
// code was issued.
type PasswordCleared struct{}

// Busy brackets network work, for a progress indicator.
type Busy struct {
	Active bool
}

// SocialRedirect asks the UI to open URL to continue a social login.
type SocialRedirect struct {
	Provider social.Provider
	URL      string
}

// RecoverySent reports the recovery mail went out.
type RecoverySent struct {
	Email string
}

func (ValidationFailed) eventName() string    { return "validation_failed" }
func (Ready) eventName() string               { return "ready" }
func (Notice) eventName() string              { return "notice" }
func (ResolutionRequested) eventName() string { return "resolution_requested" }
func (CredentialsFilled) eventName() string   { return "credentials_filled" }
func (PasswordCleared) eventName() string     { return "password_cleared" }
func (Busy) eventName() string                { return "busy" }
func (SocialRedirect) eventName() string      { return "social_redirect" }
func (RecoverySent) eventName() string        { return "recovery_sent" }
