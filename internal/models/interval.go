package models

import "time"

// Overlaps reports whether the half-open intervals [start1,end1) and
// [start2,end2) intersect. Back-to-back intervals do not overlap.
func Overlaps(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && end1.After(start2)
}
