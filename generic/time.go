package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// TIME POINT - Parsed user-supplied times (document dates, import rows, repair -from)
// =============================================================================

// TimePoint is a parsed time with the precision it was written in.
type TimePoint struct {
	Time        time.Time
	Granularity Granularity
}

type Granularity int

const (
	GranularityInstant Granularity = iota
	GranularityMinute
	GranularityDay
)

var timeLayouts = []struct {
	layout      string
	granularity Granularity
}{
	{time.RFC3339Nano, GranularityInstant},
	{"2006-01-02T15:04", GranularityMinute},
	{"2006-01-02 15:04", GranularityMinute},
	{"2006-01-02", GranularityDay},
}

// ParseTimePoint accepts RFC 3339, "2006-01-02T15:04" or "2006-01-02".
// Layouts without a zone are read as UTC. An empty string gives the zero
// TimePoint.
func ParseTimePoint(s string) (TimePoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TimePoint{}, nil
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return TimePoint{Time: t.UTC(), Granularity: l.granularity}, nil
		}
	}
	return TimePoint{}, fmt.Errorf("unrecognized time %q (use RFC 3339 or YYYY-MM-DD)", s)
}

func (tp TimePoint) IsZero() bool { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	switch tp.Granularity {
	case GranularityDay:
		return tp.Time.Format("2006-01-02")
	case GranularityMinute:
		return tp.Time.Format("2006-01-02T15:04")
	default:
		return tp.Time.Format(time.RFC3339)
	}
}

// =============================================================================
// EXPIRY - Lot expiry periods, stored as "YYYY-MM"
// =============================================================================

const expiryLayout = "2006-01"

// ValidExpiry reports whether s is empty or a "YYYY-MM" period.
func ValidExpiry(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(expiryLayout, s)
	return err == nil
}

// Expired reports whether the expiry period ended before at. Lots without
// an expiry never expire.
func Expired(expiry string, at time.Time) bool {
	t, err := time.Parse(expiryLayout, expiry)
	if err != nil {
		return false
	}
	return !at.UTC().Before(t.AddDate(0, 1, 0))
}
