package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("2026-08")
	require.NoError(t, err)
	require.Equal(t, Period{Year: 2026, Month: time.August}, p)
	require.Equal(t, "2026-08", p.String())

	for _, in := range []string{"", "2026", "2026-13", "08-2026", "2026-8"} {
		_, err := ParsePeriod(in)
		require.ErrorIs(t, err, ErrValidation, "input %q", in)
	}
}

func TestPeriodAfter(t *testing.T) {
	now := time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC)

	require.False(t, Period{Year: 2026, Month: time.August}.After(now))
	require.False(t, Period{Year: 2026, Month: time.July}.After(now))
	require.True(t, Period{Year: 2026, Month: time.September}.After(now))
	require.True(t, Period{Year: 2027, Month: time.January}.After(now))
}

func TestPeriodIsZero(t *testing.T) {
	require.True(t, Period{}.IsZero())
	require.False(t, Period{Year: 2026, Month: time.August}.IsZero())
}
