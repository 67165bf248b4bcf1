package mrz

import (
	"fmt"
	"time"
)

// mrzDateLayout parses the two digit year dates printed in the zone.
const mrzDateLayout = "060102"

// BirthDate expands the two digit year of the date of birth.
// The Go parser maps two digit years into 1969-2068; a birth date that
// lands in the future must belong to the previous century, so 100 years
// are subtracted in that case.
func (r *Record) BirthDate() (time.Time, error) {
	parsed, err := parseZoneDate(r.DateOfBirth)
	if err != nil {
		return time.Time{}, err
	}

	if parsed.After(time.Now()) {
		parsed = parsed.AddDate(-100, 0, 0)
	}

	return parsed, nil
}

// ExpiryDate expands the two digit year of the date of expiry.
// An expiry more than 30 years in the past is assumed to be a century
// wrap and gets 100 years added.
func (r *Record) ExpiryDate() (time.Time, error) {
	parsed, err := parseZoneDate(r.DateOfExpiry)
	if err != nil {
		return time.Time{}, err
	}

	if parsed.Before(time.Now().AddDate(-30, 0, 0)) {
		parsed = parsed.AddDate(100, 0, 0)
	}

	return parsed, nil
}

func parseZoneDate(dateStr string) (time.Time, error) {
	if len(dateStr) != 6 {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrFormat, dateStr)
	}

	parsed, err := time.Parse(mrzDateLayout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	return parsed, nil
}
