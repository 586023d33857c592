// Package model defines the core domain types for aipdeck.
//
// Types correspond directly to database rows and API payloads. Profile and
// filter validation doubles as a command-injection guard: profile names end up
// as directory names and filters are passed as arguments to the external tool.
package model

import (
	"fmt"
	"regexp"
)

// FlightRule selects which AIP publication a profile downloads.
type FlightRule string

const (
	FlightRuleVFR FlightRule = "vfr"
	FlightRuleIFR FlightRule = "ifr"
)

// Valid reports whether the flight rule is one of the known values.
func (r FlightRule) Valid() bool {
	return r == FlightRuleVFR || r == FlightRuleIFR
}

// Profile is a named download configuration. Name is the unique key.
type Profile struct {
	Name       string     `json:"name"`
	FlightRule FlightRule `json:"flight_rule"`
	Filters    []string   `json:"filters"`
	Enabled    bool       `json:"enabled"`
}

const (
	// MaxProfileNameLen bounds profile names; they become directory names.
	MaxProfileNameLen = 100
	// MaxFilterLen bounds a single section filter.
	MaxFilterLen = 200
	// MaxFilters bounds the number of filters per profile.
	MaxFilters = 100
)

var (
	// Profile names become output directory names; restrict to filesystem-safe
	// characters so no sanitization is needed downstream.
	profileNameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// Section filters are passed verbatim as CLI arguments to the external
	// tool. Matches typical AIP section patterns like "AD-2.EDDF" or "GEN-*".
	filterRE = regexp.MustCompile(`^[a-zA-Z0-9/_.*-]+$`)
)

// Validate checks a profile against the naming and filter rules.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > MaxProfileNameLen {
		return fmt.Errorf("name exceeds maximum length of %d characters", MaxProfileNameLen)
	}
	if !profileNameRE.MatchString(p.Name) {
		return fmt.Errorf("invalid name %q: only alphanumeric, dash, and underscore allowed", p.Name)
	}
	if !p.FlightRule.Valid() {
		return fmt.Errorf("invalid flight_rule %q: must be %q or %q", p.FlightRule, FlightRuleVFR, FlightRuleIFR)
	}
	if len(p.Filters) > MaxFilters {
		return fmt.Errorf("too many filters: %d (max %d)", len(p.Filters), MaxFilters)
	}
	for _, f := range p.Filters {
		if len(f) > MaxFilterLen {
			return fmt.Errorf("filter too long: %q", f)
		}
		if !filterRE.MatchString(f) {
			return fmt.Errorf("invalid filter %q: only alphanumeric, dash, underscore, slash, period, and asterisk allowed", f)
		}
	}
	return nil
}
