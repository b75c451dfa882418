package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var tierRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// Drop identifies a capacity-bounded issuance campaign.
type Drop struct {
	Tier string `json:"tier" toml:"tier"`
	Year int    `json:"year" toml:"year"`
}

// NewDrop normalizes the tier and validates both parts.
func NewDrop(tier string, year int) (Drop, error) {
	d := Drop{Tier: strings.ToLower(strings.TrimSpace(tier)), Year: year}
	return d, d.Validate()
}

// ParseDrop builds a Drop from a tier and a textual year, as found in URLs.
func ParseDrop(tier, year string) (Drop, error) {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return Drop{}, fmt.Errorf("drop year %q is not a number", year)
	}
	return NewDrop(tier, y)
}

func (d Drop) Validate() error {
	if !tierRe.MatchString(d.Tier) {
		return fmt.Errorf("drop tier %q must be lowercase alphanumeric", d.Tier)
	}
	if d.Year < 2000 || d.Year > 9999 {
		return fmt.Errorf("drop year %d out of range", d.Year)
	}
	return nil
}

func (d Drop) String() string {
	return d.Tier + "/" + strconv.Itoa(d.Year)
}
