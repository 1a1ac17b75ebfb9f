package models

import "errors"

// Domain error kinds. Handlers branch on these with errors.Is and map each
// to a stable response; nothing here leaks whether a subject exists or what
// a stored code was.
var (
	ErrNotOpen          = errors.New("event is not open for admission")
	ErrSelfRegistration = errors.New("organizers cannot register for their own event")
	ErrDuplicate        = errors.New("a registration already exists for this participant and event")
	ErrNotPending       = errors.New("registration is not pending")
	ErrFull             = errors.New("event is at capacity")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("not allowed")
	ErrAlreadyChecked   = errors.New("registration is already checked in")
	ErrBadToken         = errors.New("invalid attendance token")
	ErrNoChallenge      = errors.New("no verification code issued")
	ErrExpired          = errors.New("verification code expired")
	ErrMismatch         = errors.New("verification code does not match")
	ErrTooManyAttempts  = errors.New("too many verification attempts, request a new code")
	ErrPaymentState     = errors.New("payment is not in a state that allows this change")

	// ErrBusy signals lost-race contention on a per-key lock. It is the only
	// kind callers may retry.
	ErrBusy = errors.New("resource busy, try again")

	ErrStoreUnavailable = errors.New("storage unavailable")
)
