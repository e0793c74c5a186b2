package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateVenue = errors.New("venue already registered")
	ErrDisabled       = errors.New("auto-execution disabled")
	ErrExpired        = errors.New("expired")
	ErrContextDone    = errors.New("context cancelled")
)

// CapacityError reports that a hard limit (venue count, concurrent
// arbitrages, daily volume) would be exceeded. Callers must not queue;
// they retry later if they still care.
type CapacityError struct {
	Resource string
	Limit    int
	Current  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity: %s limit reached (%d/%d)", e.Resource, e.Current, e.Limit)
}

// ValidationError reports that an execution plan failed a static pre-trade
// check. A plan carrying a ValidationError is never dispatched.
type ValidationError struct {
	PlanID string
	Check  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: plan %s failed %s: %s", e.PlanID, e.Check, e.Detail)
}

// DataError reports that a venue failed to answer a market-data, order-book
// or balance request. Detection-phase data errors are isolated per venue and
// never abort sibling requests.
type DataError struct {
	VenueID string
	Symbol  string
	Err     error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data: venue %s symbol %s: %v", e.VenueID, e.Symbol, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// ExecutionError reports that an order leg failed or timed out at a venue.
type ExecutionError struct {
	VenueID string
	OrderID string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution: venue %s order %s: %v", e.VenueID, e.OrderID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
