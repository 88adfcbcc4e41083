package signin

import "time"

// join holds the two completion marks that make a session ready.
type join struct {
	signedIn time.Time
	stored   time.Time
}

func (j *join) markSignedIn(at time.Time) { j.signedIn = at }
func (j *join) markStored(at time.Time)   { j.stored = at }
func (j *join) resetSignIn()              { j.signedIn = time.Time{} }

func (j *join) ready() bool {
	return !j.signedIn.IsZero() && !j.stored.IsZero()
}
