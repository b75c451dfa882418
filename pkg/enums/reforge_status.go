package enums

import "fmt"

// ReforgeStatus is the one-way lifecycle of a device reforge request.
type ReforgeStatus string

const (
	ReforgeStatusPending   ReforgeStatus = "PENDING"
	ReforgeStatusConfirmed ReforgeStatus = "CONFIRMED"
	ReforgeStatusExpired   ReforgeStatus = "EXPIRED"
)

var validReforgeStatuses = []ReforgeStatus{
	ReforgeStatusPending,
	ReforgeStatusConfirmed,
	ReforgeStatusExpired,
}

// String implements fmt.Stringer.
func (s ReforgeStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known ReforgeStatus.
func (s ReforgeStatus) IsValid() bool {
	for _, candidate := range validReforgeStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s ReforgeStatus) IsTerminal() bool {
	return s == ReforgeStatusConfirmed || s == ReforgeStatusExpired
}

// ParseReforgeStatus converts raw input into a ReforgeStatus.
func ParseReforgeStatus(value string) (ReforgeStatus, error) {
	for _, candidate := range validReforgeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reforge status %q", value)
}
