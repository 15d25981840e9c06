package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 4

// ResolveActivityID resolves a full id or a short id prefix against known ids.
// A full id is returned as-is when it is known. A prefix must match exactly one id.
func ResolveActivityID(ref string, known []uuid.UUID) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		for _, k := range known {
			if k == id {
				return id, nil
			}
		}
		return uuid.Nil, &NotFoundError{ShortID: ref}
	}

	if len(ref) < MinShortIDLength {
		return uuid.Nil, fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(ref))
	}

	ref = strings.ToLower(ref)
	seen := make(map[uuid.UUID]struct{})
	var matches []uuid.UUID
	for _, k := range known {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if strings.HasPrefix(k.String(), ref) {
			matches = append(matches, k)
		}
	}

	switch len(matches) {
	case 0:
		return uuid.Nil, &NotFoundError{ShortID: ref}
	case 1:
		return matches[0], nil
	default:
		sort.Slice(matches, func(i, j int) bool { return matches[i].String() < matches[j].String() })
		return uuid.Nil, &AmbiguousError{ShortID: ref, Matches: matches}
	}
}

// NotFoundError indicates no activity matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no activity matches '%s'", e.ShortID)
}

// AmbiguousError indicates multiple activities matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []uuid.UUID
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d activities", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError lists up to 10 matching ids, then "...and N more".
func FormatAmbiguousError(err *AmbiguousError) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", err.Error())

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for _, id := range err.Matches[:displayCount] {
		fmt.Fprintf(&b, "  %s\n", id)
	}
	if len(err.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(err.Matches)-10)
	}

	b.WriteString("Use a longer prefix to uniquely identify the activity.")
	return b.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}
