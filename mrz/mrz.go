// Package mrz parses and validates the machine readable zone of TD3
// travel documents (two 44 character lines) per ICAO Doc 9303.
package mrz

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// LineLength is the fixed width of a TD3 MRZ line.
	LineLength = 44

	// Filler is the padding character used in the MRZ.
	Filler = '<'
)

var (
	// ErrFormat indicates a line with the wrong length or an illegal character.
	ErrFormat = errors.New("malformed MRZ input")

	// ErrCheckDigit indicates one of the five check digits does not match.
	ErrCheckDigit = errors.New("MRZ check digit mismatch")

	// ErrInvalidRecord indicates an operation that requires a valid record
	// was attempted on an invalid one.
	ErrInvalidRecord = errors.New("MRZ record is not valid")
)

// checkDigitWeights are applied cyclically per ICAO Doc 9303 part 3.
var checkDigitWeights = []int{7, 3, 1}

// Record holds the fields extracted from a TD3 MRZ. Validity is never
// stored; it is recomputed from the raw lines on every call to Validate,
// so a Record mutated after parsing cannot claim stale validity.
type Record struct {
	DocumentType   string
	IssuingCountry string
	Surname        string
	GivenNames     string
	DocumentNumber string
	Nationality    string
	DateOfBirth    string // raw YYMMDD as printed in the zone
	Sex            string
	DateOfExpiry   string // raw YYMMDD as printed in the zone
	PersonalNumber string

	// FinalCheckDigit is the check digit over the personal number
	// (position 43 of line 2); CompositeCheckDigit closes the line
	// (position 44).
	FinalCheckDigit     string
	CompositeCheckDigit string

	Line1 string
	Line2 string
}

// charValue maps an MRZ character to its check digit value:
// '0'-'9' map to themselves, 'A'-'Z' to 10..35 and the filler to 0.
func charValue(c byte) (int, error) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), nil
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10, nil
	case c == Filler:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: illegal character %q", ErrFormat, c)
	}
}

// CheckDigit computes the ICAO weighted check digit over s.
func CheckDigit(s string) (int, error) {
	sum := 0
	for i := 0; i < len(s); i++ {
		v, err := charValue(s[i])
		if err != nil {
			return 0, err
		}
		sum += v * checkDigitWeights[i%len(checkDigitWeights)]
	}
	return sum % 10, nil
}

// checkDigitMatches verifies that the check digit character d closes the
// substring s. A filler in the digit position is accepted only when the
// guarded field is entirely filler (permitted for the optional personal
// number field).
func checkDigitMatches(s string, d byte) (bool, error) {
	if d == Filler {
		return strings.Trim(s, string(Filler)) == "", nil
	}
	if d < '0' || d > '9' {
		return false, nil
	}
	expected, err := CheckDigit(s)
	if err != nil {
		return false, err
	}
	return int(d-'0') == expected, nil
}

// trimFiller strips fillers from both ends of a raw MRZ field.
func trimFiller(s string) string {
	return strings.Trim(s, string(Filler))
}

// Parse extracts the TD3 fields from the two raw lines. It never fails:
// short or malformed lines yield a Record whose Validate reports the
// problem and whose fields are populated best effort. Callers must treat
// the record as untrusted until Validate passes.
func Parse(line1, line2 string) Record {
	record := Record{
		Line1: line1,
		Line2: line2,
	}

	if len(line1) >= 5 {
		record.DocumentType = trimFiller(line1[0:2])
		record.IssuingCountry = trimFiller(line1[2:5])
	}
	if len(line1) == LineLength {
		record.Surname, record.GivenNames = parseNameField(line1[5:])
	}

	if len(line2) != LineLength {
		return record
	}

	record.DocumentNumber = trimFiller(line2[0:9])
	record.Nationality = trimFiller(line2[10:13])
	record.DateOfBirth = line2[13:19]
	record.Sex = line2[20:21]
	record.DateOfExpiry = line2[21:27]
	record.PersonalNumber = trimFiller(line2[28:42])
	record.FinalCheckDigit = line2[42:43]
	record.CompositeCheckDigit = line2[43:44]

	return record
}

// parseNameField splits the 39 character name field into the primary
// identifier (surname) and secondary identifier (given names).
func parseNameField(field string) (surname, givenNames string) {
	primary, secondary, _ := strings.Cut(field, "<<")
	surname = strings.ReplaceAll(trimFiller(primary), string(Filler), " ")
	givenNames = strings.ReplaceAll(trimFiller(secondary), string(Filler), " ")
	return surname, givenNames
}

// Validate recomputes the validity verdict from the raw lines: both lines
// must be exactly 44 characters of the MRZ alphabet and all five check
// digits (document number, date of birth, date of expiry, personal number
// and the composite digit) must match.
func (r *Record) Validate() error {
	if len(r.Line1) != LineLength || len(r.Line2) != LineLength {
		return fmt.Errorf("%w: lines must be %d characters (got %d and %d)",
			ErrFormat, LineLength, len(r.Line1), len(r.Line2))
	}

	for _, line := range []string{r.Line1, r.Line2} {
		for i := 0; i < len(line); i++ {
			if _, err := charValue(line[i]); err != nil {
				return err
			}
		}
	}

	line2 := r.Line2
	checks := []struct {
		name  string
		field string
		digit byte
	}{
		{"document number", line2[0:9], line2[9]},
		{"date of birth", line2[13:19], line2[19]},
		{"date of expiry", line2[21:27], line2[27]},
		{"personal number", line2[28:42], line2[42]},
		{"composite", line2[0:10] + line2[13:20] + line2[21:43], line2[43]},
	}

	for _, c := range checks {
		ok, err := checkDigitMatches(c.field, c.digit)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrCheckDigit, c.name)
		}
	}

	return nil
}

// IsValid reports whether Validate passes.
func (r *Record) IsValid() bool {
	return r.Validate() == nil
}

// DeriveAccessKey builds the chip access key: the document number padded
// with fillers to 9 characters, a filler in the check digit position, then
// the raw date of birth and date of expiry exactly as printed in the zone.
// Check digits are intentionally NOT recomputed into the key; the reader
// on the other end derives the session keys from this same literal form.
func (r *Record) DeriveAccessKey() (string, error) {
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.DocumentNumber == "" || len(r.DateOfBirth) != 6 || len(r.DateOfExpiry) != 6 {
		return "", fmt.Errorf("%w: missing document number or dates", ErrInvalidRecord)
	}

	var b strings.Builder
	b.WriteString(r.DocumentNumber)
	for i := len(r.DocumentNumber); i < 9; i++ {
		b.WriteByte(Filler)
	}
	b.WriteByte(Filler)
	b.WriteString(r.DateOfBirth)
	b.WriteString(r.DateOfExpiry)
	return b.String(), nil
}
