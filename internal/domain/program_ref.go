package domain

import (
	"errors"
	"fmt"
	"strings"
)

// NAReference is the stored form of a program reference that was explicitly
// declared unknown. Declarations carrying it never match each other.
const NAReference = "DCP/NA/NA/NA"

const refPrefix = "DCP"

var (
	// ErrIncompleteProgramNumber is returned when a known reference does not
	// carry a 4-digit program number.
	ErrIncompleteProgramNumber = errors.New("program number must be exactly 4 digits")
	// ErrMissingPeriod is returned when a known reference lacks year or month.
	ErrMissingPeriod = errors.New("program year and month are required")
	// ErrMalformedReference is returned by ParseProgramRef for unparseable input.
	ErrMalformedReference = errors.New("malformed program reference")
)

// ProgramRef identifies the delivery program a declaration or receipt belongs
// to. It is either Known (year, month and number) or Unknown. The zero value
// is Unknown.
//
// "Not entered yet" is not a ProgramRef state: receipts model it with a nil
// *ProgramRef.
type ProgramRef struct {
	known  bool
	year   string
	month  string
	number string
}

// KnownRef builds a Known reference from its components. Whitespace is trimmed.
func KnownRef(year, month, number string) ProgramRef {
	return ProgramRef{
		known:  true,
		year:   strings.TrimSpace(year),
		month:  strings.TrimSpace(month),
		number: strings.TrimSpace(number),
	}
}

// UnknownRef returns the "no reference" variant.
func UnknownRef() ProgramRef { return ProgramRef{} }

// Known reports whether r carries concrete components.
func (r ProgramRef) Known() bool { return r.known }

// Components returns year, month and number. ok is false for Unknown.
func (r ProgramRef) Components() (year, month, number string, ok bool) {
	return r.year, r.month, r.number, r.known
}

// String renders DCP/{year}/{month}/{number}, or NAReference for Unknown.
func (r ProgramRef) String() string {
	if !r.known {
		return NAReference
	}
	return fmt.Sprintf("%s/%s/%s/%s", refPrefix, r.year, r.month, r.number)
}

// Validate checks that a Known reference is complete. Unknown is always valid.
func (r ProgramRef) Validate() error {
	if !r.known {
		return nil
	}
	if r.year == "" || r.month == "" {
		return ErrMissingPeriod
	}
	if len(r.number) != 4 {
		return ErrIncompleteProgramNumber
	}
	for _, c := range r.number {
		if c < '0' || c > '9' {
			return ErrIncompleteProgramNumber
		}
	}
	return nil
}

// Equal compares two references by variant and components.
func (r ProgramRef) Equal(o ProgramRef) bool { return r == o }

// ParseProgramRef parses "DCP/yy/mm/nnnn" or NAReference. The result is not
// validated; call Validate for completeness checks.
func ParseProgramRef(s string) (ProgramRef, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, NAReference) {
		return UnknownRef(), nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 4 || !strings.EqualFold(parts[0], refPrefix) {
		return ProgramRef{}, fmt.Errorf("%w: %q", ErrMalformedReference, s)
	}
	return KnownRef(parts[1], parts[2], parts[3]), nil
}

// refColumns maps r onto nullable storage columns. Unknown stores NULLs so the
// composite unique index never applies to it.
func refColumns(r ProgramRef) (year, month, number *string) {
	if !r.known {
		return nil, nil, nil
	}
	y, m, n := r.year, r.month, r.number
	return &y, &m, &n
}

func refFromColumns(reference string, year, month, number *string) ProgramRef {
	if year == nil || month == nil || number == nil || reference == NAReference {
		return UnknownRef()
	}
	return KnownRef(*year, *month, *number)
}
