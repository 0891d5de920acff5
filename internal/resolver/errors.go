package resolver

import (
	"errors"

	"github.com/pushpaanand/teleconsult/internal/models"
)

// Error is a resolution failure. Every Error ends the page in AccessDenied.
type Error struct {
	Reason models.DenialReason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf returns the denial reason carried by err, or "" if err is not a resolution failure
func ReasonOf(err error) models.DenialReason {
	var re *Error
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}
