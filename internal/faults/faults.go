// Package faults defines the error categories a compilation run can fail
// with. Every category is fatal: callers wrap one of the sentinels with
// fmt.Errorf("%w: ...") and abort, tests match with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMalformed reports a missing or wrongly shaped section, field,
	// or value in the topology or infrastructure description.
	ErrConfigMalformed = errors.New("config malformed")

	// ErrResourceExhausted reports that no physical core group can satisfy a
	// pinned process's core requirement.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrPlacementMissing reports an attempt to synthesize commands for a
	// node that has no entry in the placement.
	ErrPlacementMissing = errors.New("placement missing")

	// ErrUnresolvedLink reports a cross-host link whose VLAN wiring cannot
	// be completed, e.g. a phynode without a trunk device.
	ErrUnresolvedLink = errors.New("unresolved link")
)

// ConfigMalformed wraps ErrConfigMalformed with a formatted diagnostic.
func ConfigMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfigMalformed, fmt.Sprintf(format, args...))
}

// ResourceExhausted wraps ErrResourceExhausted with a formatted diagnostic.
func ResourceExhausted(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceExhausted, fmt.Sprintf(format, args...))
}

// PlacementMissing wraps ErrPlacementMissing with a formatted diagnostic.
func PlacementMissing(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPlacementMissing, fmt.Sprintf(format, args...))
}

// UnresolvedLink wraps ErrUnresolvedLink with a formatted diagnostic.
func UnresolvedLink(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnresolvedLink, fmt.Sprintf(format, args...))
}
