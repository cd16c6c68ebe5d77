package models

import (
	"fmt"
	"regexp"
	"strconv"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// MinuteOfDay converts an HH:MM wall-clock string into minutes since
// midnight. Hours run 00-23 and minutes 00-59; anything else is rejected.
func MinuteOfDay(clock string) (int, error) {
	m := clockPattern.FindStringSubmatch(clock)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", clock)
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	return hours*60 + minutes, nil
}

// Overlaps reports whether the half-open intervals [start1,end1) and
// [start2,end2) intersect. Back-to-back lessons (end1 == start2) do not
// overlap.
func Overlaps(start1, end1, start2, end2 int) bool {
	return start1 < end2 && end1 > start2
}
