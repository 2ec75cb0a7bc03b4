package settings

import (
	"fmt"
	"time"
)

// TimezoneOffsets is the accepted timezone annotation table: every
// half-hour aligned UTC offset in use somewhere in the world, "-11:00"
// through "+14:00". Annotation payloads outside this table fall through to
// the next priority source.
var TimezoneOffsets = buildTimezoneOffsets()

func buildTimezoneOffsets() []string {
	var offsets []string
	for minutes := -11 * 60; minutes <= 14*60; minutes += 30 {
		offsets = append(offsets, formatOffset(minutes))
	}
	return offsets
}

func formatOffset(minutes int) string {
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("%s%02d:%02d", sign, minutes/60, minutes%60)
}

// ValidTimezone reports whether offset is in the accepted table.
func ValidTimezone(offset string) bool {
	for _, o := range TimezoneOffsets {
		if o == offset {
			return true
		}
	}
	return false
}

// OffsetLocation converts a "+HH:MM"/"-HH:MM" offset into a fixed
// time.Location for rendering timestamps in the channel's local time.
func OffsetLocation(offset string) (*time.Location, error) {
	var sign rune
	var hours, minutes int
	if _, err := fmt.Sscanf(offset, "%c%02d:%02d", &sign, &hours, &minutes); err != nil {
		return nil, fmt.Errorf("parse timezone offset %q: %w", offset, err)
	}
	seconds := hours*3600 + minutes*60
	if sign == '-' {
		seconds = -seconds
	} else if sign != '+' {
		return nil, fmt.Errorf("parse timezone offset %q: bad sign", offset)
	}
	return time.FixedZone("UTC"+offset, seconds), nil
}
