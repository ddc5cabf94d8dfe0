package bitemporal

import "time"

// Instants are the four bitemporal bounds of a row. A zero VersionTo or
// CorrectionTo means the interval is open.
type Instants struct {
	VersionFrom    time.Time `json:"version_from"`
	VersionTo      time.Time `json:"version_to,omitzero"`
	CorrectionFrom time.Time `json:"correction_from"`
	CorrectionTo   time.Time `json:"correction_to,omitzero"`
}

func (i Instants) IsLatestVersion() bool {
	return i.VersionTo.IsZero()
}

func (i Instants) IsLatestCorrection() bool {
	return i.CorrectionTo.IsZero()
}

// IsCurrent reports whether the row is the live, uncorrected one.
func (i Instants) IsCurrent() bool {
	return i.IsLatestVersion() && i.IsLatestCorrection()
}

// Contains reports whether the row is the recorded truth at the instant pair.
func (i Instants) Contains(versionAsOf, correctedTo time.Time) bool {
	return within(i.VersionFrom, i.VersionTo, versionAsOf) && within(i.CorrectionFrom, i.CorrectionTo, correctedTo)
}

func within(from, to, t time.Time) bool {
	return !t.Before(from) && (to.IsZero() || t.Before(to))
}

// overlaps reports whether [from, to) meets the range [lo, hi). Zero bounds are
// unbounded and lo == hi selects the single instant lo.
func overlaps(from, to, lo, hi time.Time) bool {
	if !lo.IsZero() && !to.IsZero() && !to.After(lo) {
		return false
	}
	if hi.IsZero() {
		return true
	}
	if lo.Equal(hi) {
		return !from.After(hi)
	}
	return from.Before(hi)
}

// Ref addresses one row of one object. VersionID is Unpinned when the caller
// means "whatever is current".
type Ref struct {
	ObjectID  int64
	VersionID int64
}

const Unpinned int64 = -1

func Current(objectID int64) Ref {
	return Ref{ObjectID: objectID, VersionID: Unpinned}
}

func Pinned(objectID, versionID int64) Ref {
	return Ref{ObjectID: objectID, VersionID: versionID}
}

func (r Ref) IsPinned() bool {
	return r.VersionID >= 0
}

// Row is one stored version/correction of an entity with payload P.
type Row[P any] struct {
	ObjectID  int64
	VersionID int64
	Instants
	Payload P
}

func (r Row[P]) Ref() Ref {
	return Pinned(r.ObjectID, r.VersionID)
}
