package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is an optional backend feature that gates schema constructs.
type Capability string

const (
	CapabilityIntID  Capability = "intid"
	CapabilityUUIDID Capability = "uuidid"
)

// KnownCapabilities lists every capability understood by the engine.
func KnownCapabilities() []Capability {
	return []Capability{CapabilityIntID, CapabilityUUIDID}
}

type CapabilitySet map[Capability]bool

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := CapabilitySet{}
	for _, c := range caps {
		set[c] = true
	}
	return set
}

// ParseCapabilities parses a comma separated list such as "intid,uuidid".
func ParseCapabilities(s string) (CapabilitySet, error) {
	set := CapabilitySet{}
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		known := false
		for _, c := range KnownCapabilities() {
			if string(c) == part {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown capability %q", part)
		}
		set[Capability(part)] = true
	}
	return set, nil
}

func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// Intersect returns the capabilities present in both sets.
func (s CapabilitySet) Intersect(other CapabilitySet) CapabilitySet {
	out := CapabilitySet{}
	for c := range s {
		if other.Has(c) {
			out[c] = true
		}
	}
	return out
}

func (s CapabilitySet) String() string {
	var names []string
	for c, ok := range s {
		if ok {
			names = append(names, string(c))
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// RequiredCapability returns the capability an id type needs, if any.
func RequiredCapability(t IDType) (Capability, bool) {
	switch t {
	case IDInt:
		return CapabilityIntID, true
	case IDUUID:
		return CapabilityUUIDID, true
	}
	return "", false
}
