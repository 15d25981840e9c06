package gameplay

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tag is an immutable hierarchical identifier such as "Ability.Melee.Heavy".
// Segments are separated by dots; a tag is-a every one of its dotted prefixes.
type Tag string

// EmptyTag is the zero tag. It matches nothing.
const EmptyTag Tag = ""

var internedTags sync.Map // string -> Tag

// RequestTag validates name and returns its interned Tag.
// Repeated requests for the same name share one canonical string.
func RequestTag(name string) (Tag, error) {
	if cached, ok := internedTags.Load(name); ok {
		return cached.(Tag), nil
	}

	tag := Tag(strings.Clone(name))
	if err := tag.Validate(); err != nil {
		return EmptyTag, err
	}

	actual, _ := internedTags.LoadOrStore(name, tag)
	return actual.(Tag), nil
}

// MustTag is RequestTag for tags known at compile time. It panics on an invalid name.
func MustTag(name string) Tag {
	tag, err := RequestTag(name)
	if err != nil {
		panic(err)
	}
	return tag
}

// RegisteredTags returns every interned tag in lexical order.
func RegisteredTags() []Tag {
	var tags []Tag
	internedTags.Range(func(_, value any) bool {
		tags = append(tags, value.(Tag))
		return true
	})
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Validate checks the tag is non-empty and has no empty or padded segments.
func (t Tag) Validate() error {
	if t == EmptyTag {
		return fmt.Errorf("tag cannot be empty")
	}

	for i, segment := range strings.Split(string(t), ".") {
		if segment == "" {
			return fmt.Errorf("invalid tag %q: empty segment at position %d", string(t), i)
		}
		if strings.ContainsAny(segment, " \t\r\n") {
			return fmt.Errorf("invalid tag %q: whitespace in segment %q", string(t), segment)
		}
	}

	return nil
}

// IsValid reports whether Validate succeeds.
func (t Tag) IsValid() bool {
	return t.Validate() == nil
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	return string(t)
}

// MatchesExact reports whether t and other are the same non-empty tag.
func (t Tag) MatchesExact(other Tag) bool {
	return t != EmptyTag && t == other
}

// Matches reports whether t is-a parent: the tags are equal, or parent is a
// dotted prefix of t. "A.B.C" matches "A.B" but "A.BC" does not.
func (t Tag) Matches(parent Tag) bool {
	if t == EmptyTag || parent == EmptyTag {
		return false
	}
	if t == parent {
		return true
	}
	return len(t) > len(parent) &&
		strings.HasPrefix(string(t), string(parent)) &&
		t[len(parent)] == '.'
}

// Parent returns the tag with its last segment removed, or EmptyTag for a root tag.
func (t Tag) Parent() Tag {
	idx := strings.LastIndexByte(string(t), '.')
	if idx < 0 {
		return EmptyTag
	}
	return t[:idx]
}

// MatchesAny reports whether t matches any tag in set, exactly or by prefix.
func (t Tag) MatchesAny(set []Tag, exact bool) bool {
	for _, candidate := range set {
		if exact && t.MatchesExact(candidate) {
			return true
		}
		if !exact && t.Matches(candidate) {
			return true
		}
	}
	return false
}
