package shared

import (
	"fmt"
	"time"
)

// Period identifies one calendar month, the granularity of audit cycles.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses the YYYY-MM wire format.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: period must be YYYY-MM: %v", ErrValidation, err)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// After reports whether p is later than the month containing t.
func (p Period) After(t time.Time) bool {
	if p.Year != t.Year() {
		return p.Year > t.Year()
	}
	return p.Month > t.Month()
}
