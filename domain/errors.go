package domain

import "errors"

var (
	// ErrMalformedActivity rejects an activity at admission (client error).
	ErrMalformedActivity = errors.New("malformed activity")

	// ErrActorMismatch is returned when the activity actor is not the signer.
	ErrActorMismatch = errors.New("activity actor does not match signature")

	// ErrDuplicateActivity marks an activity id seen recently; treated as success.
	ErrDuplicateActivity = errors.New("duplicate activity")

	// ErrTransient and ErrPermanent classify gateway and delivery errors.
	// Error types of those adapters match one of them with errors.Is.
	ErrTransient = errors.New("transient failure")
	ErrPermanent = errors.New("permanent failure")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err will not go away by retrying.
func IsPermanent(err error) bool {
	return err != nil && errors.Is(err, ErrPermanent)
}
