package uid

import (
	"fmt"
	"time"
)

// VersionCorrection is the instant pair of an as-of read. A zero instant means
// "latest" and is fixed to the caller's clock with Fix before it reaches storage.
type VersionCorrection struct {
	VersionAsOf time.Time
	CorrectedTo time.Time
}

func LatestVersionCorrection() VersionCorrection {
	return VersionCorrection{}
}

func AsOf(versionAsOf, correctedTo time.Time) VersionCorrection {
	return VersionCorrection{VersionAsOf: versionAsOf, CorrectedTo: correctedTo}
}

func (vc VersionCorrection) ContainsLatest() bool {
	return vc.VersionAsOf.IsZero() || vc.CorrectedTo.IsZero()
}

// Fix replaces latest instants with now.
func (vc VersionCorrection) Fix(now time.Time) VersionCorrection {
	if vc.VersionAsOf.IsZero() {
		vc.VersionAsOf = now
	}
	if vc.CorrectedTo.IsZero() {
		vc.CorrectedTo = now
	}
	return vc
}

func (vc VersionCorrection) String() string {
	return fmt.Sprintf("V%s.C%s", instantString(vc.VersionAsOf), instantString(vc.CorrectedTo))
}

func instantString(t time.Time) string {
	if t.IsZero() {
		return Latest
	}
	return t.UTC().Format(time.RFC3339Nano)
}
