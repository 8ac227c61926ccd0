package fee

import "time"

// =============================================================================
// CALENDAR RESOLVER - Due-date arithmetic with month-end clamping
// =============================================================================

// IsLeapYear reports whether year is a leap year in the Gregorian calendar.
func IsLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

// DaysInMonth returns the number of days in the given month of the given year.
func DaysInMonth(year int, month time.Month) int {
	switch month {
	case time.February:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// ResolveDueDate turns (year, month, day) into a valid calendar date at UTC
// midnight. It fails only for an out-of-range month; the day is clamped into
// the month, so Feb 30 resolves to Feb 29 (leap) or Feb 28 (non-leap), and
// day 31 in a 30-day month resolves to day 30. Pure and deterministic.
func ResolveDueDate(year int, month time.Month, day int) (time.Time, error) {
	if month < time.January || month > time.December {
		return time.Time{}, &ValidationError{Field: "annual_fee_month", Message: "month must be between 1 and 12"}
	}
	if day < 1 {
		day = 1
	}
	if max := DaysInMonth(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// FeeYearBounds returns the first and last instant-of-day of a fee year.
// A qualifying transaction belongs to the fee year of its transaction date.
func FeeYearBounds(feeYear int) (start, end time.Time) {
	start = time.Date(feeYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	end = time.Date(feeYear, time.December, 31, 0, 0, 0, 0, time.UTC)
	return start, end
}
