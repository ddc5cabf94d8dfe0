// Package uid holds the identifiers used by the master: object ids, unique ids
// pinned to a version, and external identifier bundles.
package uid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	separator = "~"
	// Latest is the explicit version token meaning "the current live and corrected row".
	Latest = "LATEST"
)

var ErrInvalidID = errors.New("invalid identifier")

// ObjectID identifies one logical entity across all of its versions.
type ObjectID struct {
	Scheme string
	Value  string
}

func NewObjectID(scheme string, oid int64) ObjectID {
	return ObjectID{Scheme: scheme, Value: strconv.FormatInt(oid, 10)}
}

func (o ObjectID) IsZero() bool {
	return o.Scheme == "" && o.Value == ""
}

func (o ObjectID) String() string {
	return o.Scheme + separator + o.Value
}

// Int64 returns the numeric object id. Master-issued values are always decimal.
func (o ObjectID) Int64() (int64, error) {
	n, err := strconv.ParseInt(o.Value, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: object id %q is not a positive integer", ErrInvalidID, o.Value)
	}
	return n, nil
}

func (o ObjectID) AtLatest() UniqueID {
	return UniqueID{Scheme: o.Scheme, Value: o.Value}
}

func (o ObjectID) AtVersion(version int64) UniqueID {
	return UniqueID{Scheme: o.Scheme, Value: o.Value, Version: strconv.FormatInt(version, 10)}
}

func (o ObjectID) MarshalText() ([]byte, error) {
	if o.IsZero() {
		return []byte{}, nil
	}
	return []byte(o.String()), nil
}

func (o *ObjectID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*o = ObjectID{}
		return nil
	}
	id, err := ParseObjectID(string(b))
	if err != nil {
		return err
	}
	*o = id
	return nil
}

func ParseObjectID(s string) (ObjectID, error) {
	parts := strings.Split(s, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ObjectID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ObjectID{Scheme: parts[0], Value: parts[1]}, nil
}

// UniqueID is an ObjectID optionally pinned to one version row.
// An empty Version, or Latest, leaves the id unpinned.
type UniqueID struct {
	Scheme  string
	Value   string
	Version string
}

func NewUniqueID(scheme string, oid, version int64) UniqueID {
	return NewObjectID(scheme, oid).AtVersion(version)
}

func (u UniqueID) IsZero() bool {
	return u.Scheme == "" && u.Value == "" && u.Version == ""
}

func (u UniqueID) IsLatest() bool {
	return u.Version == "" || u.Version == Latest
}

func (u UniqueID) ObjectID() ObjectID {
	return ObjectID{Scheme: u.Scheme, Value: u.Value}
}

// VersionInt64 returns the pinned version; ok is false when the id is unpinned.
func (u UniqueID) VersionInt64() (version int64, ok bool, err error) {
	if u.IsLatest() {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(u.Version, 10, 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: version %q is not a non-negative integer", ErrInvalidID, u.Version)
	}
	return n, true, nil
}

func (u UniqueID) String() string {
	if u.IsLatest() {
		return u.Scheme + separator + u.Value
	}
	return u.Scheme + separator + u.Value + separator + u.Version
}

func (u UniqueID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

func (u *UniqueID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*u = UniqueID{}
		return nil
	}
	id, err := Parse(string(b))
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// Parse reads "Scheme~Value" or "Scheme~Value~Version".
func Parse(s string) (UniqueID, error) {
	parts := strings.Split(s, separator)
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return UniqueID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	u := UniqueID{Scheme: parts[0], Value: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return UniqueID{}, fmt.Errorf("%w: %q has an empty version", ErrInvalidID, s)
		}
		u.Version = parts[2]
	}
	return u, nil
}
