package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DurationClass is the entitlement duration a credential is scoped to, in months.
type DurationClass int

const (
	DurationOneMonth    DurationClass = 1
	DurationThreeMonths DurationClass = 3
)

// DurationClasses lists every supported class in file/report order.
var DurationClasses = []DurationClass{DurationOneMonth, DurationThreeMonths}

// Valid reports whether d is one of the two supported classes.
func (d DurationClass) Valid() bool {
	return d == DurationOneMonth || d == DurationThreeMonths
}

// Months returns the class as a plain month count.
func (d DurationClass) Months() int {
	return int(d)
}

// String renders the class the way inventory files and reports name it ("1m", "3m").
func (d DurationClass) String() string {
	return fmt.Sprintf("%dm", int(d))
}

// ParseDurationClass accepts "1", "1m", "3", "3m" (case-insensitive).
func ParseDurationClass(s string) (DurationClass, error) {
	trimmed := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "m")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationClass, s)
	}
	d := DurationClass(n)
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationClass, s)
	}
	return d, nil
}
