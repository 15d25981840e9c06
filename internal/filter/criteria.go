package filter

import (
	"github.com/dyluth/augur/pkg/gameplay"
)

// Criteria defines filtering criteria for event envelopes.
// All filters are ANDed together - an envelope must match ALL non-empty criteria to pass.
type Criteria struct {
	EventTags    []gameplay.Tag       // Event tag set, empty = no filter
	DomainTags   []gameplay.Tag       // Domain tag set, empty = no filter
	PayloadTypes []string             // Payload type descriptors, empty = no filter
	Senders      []gameplay.EntityRef // Sender ids, empty = no filter
	ExactEvent   bool                 // Event tags must match exactly instead of by prefix
	ExactDomain  bool                 // Domain tags must match exactly instead of by prefix
}

// Matches returns true if the envelope matches all filter criteria.
// Empty criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(env *gameplay.EventEnvelope) bool {
	if len(c.EventTags) > 0 && !env.EventTag.MatchesAny(c.EventTags, c.ExactEvent) {
		return false
	}

	if len(c.DomainTags) > 0 && !env.DomainTag.MatchesAny(c.DomainTags, c.ExactDomain) {
		return false
	}

	// An envelope without a payload has no type to match
	if len(c.PayloadTypes) > 0 && !containsString(c.PayloadTypes, env.Payload.Type) {
		return false
	}

	if len(c.Senders) > 0 {
		if env.Sender == nil || !containsSender(c.Senders, env.Sender.ID) {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return len(c.EventTags) > 0 ||
		len(c.DomainTags) > 0 ||
		len(c.PayloadTypes) > 0 ||
		len(c.Senders) > 0
}

// Overlaps reports whether c and other share a tag in every dimension both constrain.
// An empty dimension on either side overlaps everything.
func (c *Criteria) Overlaps(other *Criteria) bool {
	return tagsOverlap(c.EventTags, other.EventTags) &&
		tagsOverlap(c.DomainTags, other.DomainTags)
}

func tagsOverlap(a, b []gameplay.Tag) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, tag := range a {
		if tag.MatchesAny(b, true) {
			return true
		}
	}
	return false
}

func containsString(set []string, value string) bool {
	if value == "" {
		return false
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

func containsSender(set []gameplay.EntityRef, id string) bool {
	for _, ref := range set {
		if ref.ID == id {
			return true
		}
	}
	return false
}
