package models

import "fmt"

// Order statuses. Closed set of five values.
const (
	StatusPending    = "pending"
	StatusPreparing  = "preparing"
	StatusDelivering = "delivering"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// validStatusTransitions is the authoritative state machine: the order
// moves forward through preparation and delivery, and may only be
// cancelled while still pending.
var validStatusTransitions = map[string][]string{
	StatusPending:    {StatusPreparing, StatusCancelled},
	StatusPreparing:  {StatusDelivering},
	StatusDelivering: {StatusCompleted},
}

// IsOrderStatus reports whether s is one of the five known statuses.
func IsOrderStatus(s string) bool {
	switch s {
	case StatusPending, StatusPreparing, StatusDelivering, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionOrderStatus checks whether an order may move from one
// status to another.
func CanTransitionOrderStatus(from, to string) error {
	for _, next := range validStatusTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition %s -> %s", from, to)
}

// NextOrderStatuses returns all statuses reachable from the given one.
func NextOrderStatuses(from string) []string {
	return validStatusTransitions[from]
}
