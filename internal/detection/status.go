package detection

import (
	"errors"
	"fmt"
)

// Status is the pipeline state of a detection run.
type Status string

const (
	StatusPending          Status = "pending"
	StatusCategoryDetected Status = "category_detected"
	StatusIdentified       Status = "identified"
	StatusVerified         Status = "verified"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

var (
	// ErrInvalidTransition is returned for a transition missing from the table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStaleStatus is returned when a persisted status no longer matches the
	// expected source status of a transition.
	ErrStaleStatus = errors.New("stale detection status")
	// ErrNotFound is returned when a detection id does not exist.
	ErrNotFound = errors.New("detection not found")
)

var transitions = map[Status][]Status{
	StatusPending:          {StatusCategoryDetected, StatusFailed},
	StatusCategoryDetected: {StatusIdentified, StatusFailed},
	StatusIdentified:       {StatusVerified, StatusCompleted, StatusFailed},
	StatusVerified:         {StatusCompleted, StatusFailed},
	StatusCompleted:        {},
	StatusFailed:           {},
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var progress = map[Status]int{
	StatusPending:          0,
	StatusCategoryDetected: 1,
	StatusIdentified:       2,
	StatusVerified:         3,
	StatusCompleted:        4,
}

// Reached reports whether a run in status s has passed through stage. A failed
// run has reached nothing, since the stage it failed in is not recorded.
func (s Status) Reached(stage Status) bool {
	p, ok := progress[s]
	if !ok {
		return false
	}
	want, ok := progress[stage]
	return ok && p >= want
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition (wrapped with both states) when
// from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown detection status %q", s)
	}
	return st, nil
}

// Category is the coarse product category chosen by the first stage.
type Category string

const (
	CategoryElectronics Category = "electronics"
	CategoryFashion     Category = "fashion"
	CategoryOther       Category = "other"
)

// Categories lists all known categories in prompt order.
var Categories = []Category{CategoryElectronics, CategoryFashion, CategoryOther}

// ParseCategory converts model or stored text into a Category.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Outcome is the result of one post-confirmation branch.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Resolved reports whether the branch has finished, successfully or not.
func (o Outcome) Resolved() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed
}
