package models

import "github.com/pkg/errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrNotEligible             = errors.New("voter is not eligible for this election")
	ErrAlreadyVoted            = errors.New("voter has already voted in this election")
	ErrStoreUnavailable        = errors.New("store unavailable")
	ErrSignatureFailure        = errors.New("signature failure")
	ErrChainIntegrityViolation = errors.New("chain integrity violation")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrElectionNotActive       = errors.New("election is not accepting votes")
)

// IsRejection reports whether err is a business rule rejection rather than
// an infrastructure failure that warrants a retry.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotEligible),
		errors.Is(err, ErrAlreadyVoted),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrElectionNotActive):
		return true
	default:
		return false
	}
}
