package uid

import (
	"fmt"
	"slices"
	"strings"
)

// ExternalID is an identifier issued outside the master, such as a security ticker.
type ExternalID struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

func (e ExternalID) IsZero() bool {
	return e.Scheme == "" && e.Value == ""
}

func (e ExternalID) String() string {
	return e.Scheme + separator + e.Value
}

func (e ExternalID) Validate() error {
	if strings.TrimSpace(e.Scheme) == "" || strings.TrimSpace(e.Value) == "" {
		return fmt.Errorf("%w: external id %q needs both scheme and value", ErrInvalidID, e.String())
	}
	return nil
}

func compareExternal(a, b ExternalID) int {
	if c := strings.Compare(a.Scheme, b.Scheme); c != 0 {
		return c
	}
	return strings.Compare(a.Value, b.Value)
}

// ExternalIDBundle is a set of external ids. Bundles built with NewBundle are
// sorted and free of duplicates so they compare with Equal.
type ExternalIDBundle []ExternalID

func NewBundle(ids ...ExternalID) ExternalIDBundle {
	out := make(ExternalIDBundle, len(ids))
	copy(out, ids)
	slices.SortFunc(out, compareExternal)
	return slices.CompactFunc(out, func(a, b ExternalID) bool { return a == b })
}

func (b ExternalIDBundle) Contains(id ExternalID) bool {
	return slices.Contains(b, id)
}

// ContainsAny reports whether the bundles share at least one id.
func (b ExternalIDBundle) ContainsAny(other ExternalIDBundle) bool {
	for _, id := range other {
		if b.Contains(id) {
			return true
		}
	}
	return false
}

func (b ExternalIDBundle) Equal(other ExternalIDBundle) bool {
	return slices.Equal(NewBundle(b...), NewBundle(other...))
}

func (b ExternalIDBundle) Validate() error {
	for _, id := range b {
		if err := id.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SearchType says how a bundle must relate to the ids searched for.
type SearchType string

const (
	// SearchAny matches a bundle holding at least one of the ids.
	SearchAny SearchType = "ANY"
	// SearchAll matches a bundle holding every id, and possibly more.
	SearchAll SearchType = "ALL"
	// SearchExact matches a bundle holding exactly the ids.
	SearchExact SearchType = "EXACT"
	// SearchNone matches a bundle holding none of the ids.
	SearchNone SearchType = "NONE"
)

func ParseSearchType(s string) (SearchType, error) {
	t := SearchType(strings.ToUpper(strings.TrimSpace(s)))
	if t == "" {
		return SearchAny, nil
	}
	switch t {
	case SearchAny, SearchAll, SearchExact, SearchNone:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown search type %q", ErrInvalidID, s)
}

// CanMatch reports whether some bundle can satisfy a search for ids. Only NONE
// is satisfiable with no ids.
func (t SearchType) CanMatch(ids ExternalIDBundle) bool {
	return t == SearchNone || len(ids) > 0
}

// Matches reports whether b satisfies a search of type t for ids.
func (b ExternalIDBundle) Matches(t SearchType, ids ExternalIDBundle) bool {
	switch t {
	case SearchAll:
		for _, id := range ids {
			if !b.Contains(id) {
				return false
			}
		}
		return len(ids) > 0
	case SearchExact:
		return len(ids) > 0 && b.Equal(ids)
	case SearchNone:
		return !b.ContainsAny(ids)
	default:
		return b.ContainsAny(ids)
	}
}
