package apperr

import "errors"

var (
	// ErrNothingToReport marks a run that found no qualifying changes.
	// It is a policy skip, not a failure.
	ErrNothingToReport = errors.New("nothing to report")

	// ErrPolicySkip marks a day excluded from overview generation by
	// configuration (e.g. Sundays).
	ErrPolicySkip = errors.New("skipped by weekday policy")

	// ErrMissingRequiredContent marks a required external content source
	// that has no file for the target date.
	ErrMissingRequiredContent = errors.New("required external content missing")

	ErrNotFound = errors.New("not found")
)
