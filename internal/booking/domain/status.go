package domain

import (
	"time"

	"service-dispatch/internal/shared/apperrors"
)

// AllowedTransitions is the complete edge set. Any pair not listed is illegal.
// The edges back to PENDING_CONFIRMATION are forced releases issued by
// dispatch when a provider becomes unavailable.
var AllowedTransitions = map[Status][]Status{
	StatusPendingConfirmation: {StatusConfirmed, StatusCanceled},
	StatusConfirmed:           {StatusProviderAssigned, StatusCanceled},
	StatusProviderAssigned:    {StatusEnRoute, StatusPendingConfirmation, StatusCanceled},
	StatusEnRoute:             {StatusInProgress, StatusPendingConfirmation, StatusCanceled},
	StatusInProgress:          {StatusCompleted, StatusDisputed, StatusPendingConfirmation},
}

var transitionSet = buildTransitionSet(AllowedTransitions)

func buildTransitionSet(m map[Status][]Status) map[Status]map[Status]struct{} {
	set := make(map[Status]map[Status]struct{}, len(m))
	for from, targets := range m {
		set[from] = make(map[Status]struct{}, len(targets))
		for _, to := range targets {
			set[from][to] = struct{}{}
		}
	}
	return set
}

func CanTransition(from, to Status) bool {
	_, ok := transitionSet[from][to]
	return ok
}

func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusDisputed
}

func (s Status) IsActive() bool {
	return s == StatusProviderAssigned || s == StatusEnRoute || s == StatusInProgress
}

func invalid(from, to Status, reason string) error {
	return &apperrors.InvalidTransitionError{From: string(from), To: string(to), Reason: reason}
}

// ApplyTransition computes the booking after a caller-requested status change.
// The forced release and provider assignment are not reachable here; use
// Release and Assign.
func ApplyTransition(b Booking, to Status, now time.Time) (Booking, error) {
	if !to.IsValid() {
		return Booking{}, apperrors.Validation("status", "unknown status "+string(to))
	}
	if b.Status.IsTerminal() {
		return Booking{}, invalid(b.Status, to, "booking is already in a terminal status")
	}
	if !CanTransition(b.Status, to) {
		return Booking{}, invalid(b.Status, to, "")
	}
	switch to {
	case StatusPendingConfirmation:
		return Booking{}, invalid(b.Status, to, "release is reserved for dispatch")
	case StatusProviderAssigned:
		return Booking{}, invalid(b.Status, to, "use provider assignment")
	}
	return apply(b, to, now), nil
}

// Assign moves a PENDING_CONFIRMATION or CONFIRMED booking to PROVIDER_ASSIGNED.
// Dispatch may assign straight from PENDING_CONFIRMATION.
func Assign(b Booking, providerID string, now time.Time) (Booking, error) {
	if providerID == "" {
		return Booking{}, apperrors.Validation("providerId", "is required")
	}
	if b.Status != StatusPendingConfirmation && b.Status != StatusConfirmed {
		return Booking{}, invalid(b.Status, StatusProviderAssigned, "booking is not awaiting a provider")
	}
	next := apply(b, StatusProviderAssigned, now)
	next.ProviderID = &providerID
	return next, nil
}

// Release takes the forced edge from an active status back to
// PENDING_CONFIRMATION and clears the provider.
func Release(b Booking, now time.Time) (Booking, error) {
	if !b.Status.IsActive() {
		return Booking{}, invalid(b.Status, StatusPendingConfirmation, "booking holds no provider")
	}
	return apply(b, StatusPendingConfirmation, now), nil
}

func apply(b Booking, to Status, now time.Time) Booking {
	next := b
	next.Status = to
	next.UpdatedAt = now
	if !to.IsActive() {
		next.ProviderID = nil
	}
	if to == StatusCompleted {
		t := now
		next.CompletedAt = &t
	}
	return next
}
