package gameplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagMatches(t *testing.T) {
	testCases := []struct {
		name     string
		tag      Tag
		parent   Tag
		expected bool
	}{
		{"identical", "A.B", "A.B", true},
		{"child of parent", "A.B.C", "A.B", true},
		{"grandchild", "A.B.C.D", "A", true},
		{"sibling", "A.C", "A.B", false},
		{"shared prefix without dot", "A.BC", "A.B", false},
		{"parent is not child", "A.B", "A.B.C", false},
		{"empty tag", "", "A", false},
		{"empty parent", "A", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tag.Matches(tc.parent); got != tc.expected {
				t.Errorf("Tag(%q).Matches(%q) = %v, expected %v", tc.tag, tc.parent, got, tc.expected)
			}
		})
	}
}

func TestTagMatchesExact(t *testing.T) {
	assert.True(t, Tag("A.B").MatchesExact("A.B"))
	assert.False(t, Tag("A.B.C").MatchesExact("A.B"))
	assert.False(t, EmptyTag.MatchesExact(EmptyTag))
}

func TestTagMatchesAny(t *testing.T) {
	set := []Tag{"Ability.Melee", "Effect.Burning"}

	assert.True(t, Tag("Ability.Melee.Heavy").MatchesAny(set, false))
	assert.False(t, Tag("Ability.Melee.Heavy").MatchesAny(set, true))
	assert.True(t, Tag("Effect.Burning").MatchesAny(set, true))
	assert.False(t, Tag("Ability.Ranged").MatchesAny(set, false))
}

func TestTagParent(t *testing.T) {
	assert.Equal(t, Tag("A.B"), Tag("A.B.C").Parent())
	assert.Equal(t, Tag("A"), Tag("A.B").Parent())
	assert.Equal(t, EmptyTag, Tag("A").Parent())
}

func TestTagValidate(t *testing.T) {
	t.Run("accepts dotted names", func(t *testing.T) {
		assert.NoError(t, Tag("Ability.Melee.Heavy").Validate())
		assert.NoError(t, Tag("Root").Validate())
	})

	t.Run("rejects malformed names", func(t *testing.T) {
		for _, name := range []string{"", ".A", "A.", "A..B", "A. B"} {
			assert.Error(t, Tag(name).Validate(), "expected %q to be invalid", name)
		}
	})
}

func TestRequestTag(t *testing.T) {
	t.Run("interns valid tags", func(t *testing.T) {
		first, err := RequestTag("Test.Interned.Tag")
		require.NoError(t, err)

		second, err := RequestTag("Test.Interned.Tag")
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Contains(t, RegisteredTags(), first)
	})

	t.Run("rejects invalid tags", func(t *testing.T) {
		_, err := RequestTag("Bad..Tag")
		assert.Error(t, err)
		assert.NotContains(t, RegisteredTags(), Tag("Bad..Tag"))
	})

	t.Run("MustTag panics on invalid tag", func(t *testing.T) {
		assert.Panics(t, func() { MustTag("") })
	})
}
