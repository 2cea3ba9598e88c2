package fat

import (
	"time"
)

// ParseDate decodes a FAT directory date stamp: day of month in bits 0-4,
// month in bits 5-8, years since 1980 in bits 9-15. The time of day is
// always 00:00:00 UTC.
//
// Day or month zero is unspecified in the on-disk format; in that case the
// zero time.Time is returned so time.Time.IsZero() can be used.
func ParseDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// ParseTime decodes a FAT directory time stamp with its 2 second
// granularity: 2-second count in bits 0-4, minutes in bits 5-10, hours in
// bits 11-15. The date part is always January 1 of year 1, so midnight
// satisfies time.Time.IsZero().
//
// Out-of-range field values simply add up; the result is clamped to
// 23:59:59 so an invalid stamp cannot roll over into a different day.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)

	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}
