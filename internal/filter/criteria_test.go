package filter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dyluth/augur/pkg/gameplay"
)

func envelope(eventTag, domainTag gameplay.Tag, payloadType string, sender string) *gameplay.EventEnvelope {
	env := &gameplay.EventEnvelope{
		ID:        uuid.New(),
		EventTag:  eventTag,
		DomainTag: domainTag,
	}
	if payloadType != "" {
		env.Payload = gameplay.MustPayload(payloadType, 1)
	}
	if sender != "" {
		env.Sender = &gameplay.EntityRef{ID: sender}
	}
	return env
}

func TestCriteria_Matches(t *testing.T) {
	testCases := []struct {
		name     string
		criteria Criteria
		env      *gameplay.EventEnvelope
		expected bool
	}{
		{
			name:     "empty criteria matches everything",
			criteria: Criteria{},
			env:      envelope("A.B", "", "", ""),
			expected: true,
		},
		{
			name:     "prefix event match",
			criteria: Criteria{EventTags: []gameplay.Tag{"A.B"}},
			env:      envelope("A.B.C", "", "", ""),
			expected: true,
		},
		{
			name:     "prefix event sibling does not match",
			criteria: Criteria{EventTags: []gameplay.Tag{"A.B"}},
			env:      envelope("A.C", "", "", ""),
			expected: false,
		},
		{
			name:     "exact event rejects child",
			criteria: Criteria{EventTags: []gameplay.Tag{"A.B"}, ExactEvent: true},
			env:      envelope("A.B.C", "", "", ""),
			expected: false,
		},
		{
			name:     "exact event and prefix domain are independent",
			criteria: Criteria{EventTags: []gameplay.Tag{"A.B"}, ExactEvent: true, DomainTags: []gameplay.Tag{"Side"}},
			env:      envelope("A.B", "Side.Client", "", ""),
			expected: true,
		},
		{
			name:     "exact domain rejects child",
			criteria: Criteria{DomainTags: []gameplay.Tag{"Side"}, ExactDomain: true},
			env:      envelope("A.B", "Side.Client", "", ""),
			expected: false,
		},
		{
			name:     "domain filter rejects missing domain",
			criteria: Criteria{DomainTags: []gameplay.Tag{"Side"}},
			env:      envelope("A.B", "", "", ""),
			expected: false,
		},
		{
			name:     "payload type match",
			criteria: Criteria{PayloadTypes: []string{"melee.swing"}},
			env:      envelope("A", "", "melee.swing", ""),
			expected: true,
		},
		{
			name:     "payload type filter rejects missing payload",
			criteria: Criteria{PayloadTypes: []string{"melee.swing"}},
			env:      envelope("A", "", "", ""),
			expected: false,
		},
		{
			name:     "sender match",
			criteria: Criteria{Senders: []gameplay.EntityRef{{ID: "hero"}}},
			env:      envelope("A", "", "", "hero"),
			expected: true,
		},
		{
			name:     "sender filter rejects anonymous event",
			criteria: Criteria{Senders: []gameplay.EntityRef{{ID: "hero"}}},
			env:      envelope("A", "", "", ""),
			expected: false,
		},
		{
			name: "all filters ANDed",
			criteria: Criteria{
				EventTags:    []gameplay.Tag{"A"},
				PayloadTypes: []string{"x"},
				Senders:      []gameplay.EntityRef{{ID: "hero"}},
			},
			env:      envelope("A.B", "", "x", "villain"),
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.criteria.Matches(tc.env))
		})
	}
}

func TestCriteria_HasFilters(t *testing.T) {
	assert.False(t, (&Criteria{ExactEvent: true}).HasFilters())
	assert.True(t, (&Criteria{EventTags: []gameplay.Tag{"A"}}).HasFilters())
	assert.True(t, (&Criteria{Senders: []gameplay.EntityRef{{ID: "x"}}}).HasFilters())
}

func TestCriteria_Overlaps(t *testing.T) {
	sub := &Criteria{EventTags: []gameplay.Tag{"A", "B"}, DomainTags: []gameplay.Tag{"D"}}

	assert.True(t, sub.Overlaps(&Criteria{}))
	assert.True(t, sub.Overlaps(&Criteria{EventTags: []gameplay.Tag{"B"}}))
	assert.False(t, sub.Overlaps(&Criteria{EventTags: []gameplay.Tag{"C"}}))
	assert.False(t, sub.Overlaps(&Criteria{EventTags: []gameplay.Tag{"A"}, DomainTags: []gameplay.Tag{"E"}}))
}
