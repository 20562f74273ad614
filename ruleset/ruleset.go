// Package ruleset stores published compliance rule-set versions. A version
// is immutable once published; amendments are new versions and the previous
// open-ended version gets its effective_to bounded.
package ruleset

import (
	"time"

	"dealdesk/compliance"
)

// Version is one stored rule-set row. EffectiveTo is exclusive; nil means
// open-ended.
type Version struct {
	ID            string
	OrgID         string
	Jurisdiction  string
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Document      compliance.RuleSet
	CreatedAt     time.Time
}

// ActiveOn reports whether the version covers the given date.
func (v Version) ActiveOn(date time.Time) bool {
	if date.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || date.Before(*v.EffectiveTo)
}

// Overlaps reports whether two effective ranges share any date. Ranges are
// half-open [from, to).
func (v Version) Overlaps(from time.Time, to *time.Time) bool {
	if v.EffectiveTo != nil && !from.Before(*v.EffectiveTo) {
		return false
	}
	if to != nil && !v.EffectiveFrom.Before(*to) {
		return false
	}
	return true
}
