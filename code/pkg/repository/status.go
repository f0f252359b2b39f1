package repository

import (
	"fmt"
	"strings"
)

// Status is the state of a draft payment.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusNone     Status = "none"
)

// ParseStatus trims and lower-cases s and checks that it's one of the known
// statuses.  Anything else gives ErrValidation.
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case StatusPending, StatusApproved, StatusRejected, StatusNone:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q: %w", s, ErrValidation)
}
