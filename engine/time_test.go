package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mag/policy-engine/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := engine.ParseDate("start_date", "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.March, 1), d)

	d, err = engine.ParseDate("start_date", "2025-03-01T18:30:00")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", d.String(), "timestamps are truncated to the day")

	_, err = engine.ParseDate("start_date", "")
	assert.True(t, errors.Is(err, engine.ErrValidation))

	_, err = engine.ParseDate("start_date", "2025-02-30")
	assert.True(t, errors.Is(err, engine.ErrValidation))

	opt, err := engine.ParseOptionalDate("end_date", "")
	require.NoError(t, err)
	assert.Nil(t, opt)
}

func TestParsePeriod(t *testing.T) {
	y, m, err := engine.ParsePeriod("2025-03")
	require.NoError(t, err)
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.March, m)

	for _, bad := range []string{"2025-00", "2025-13", "2025-3", "abcd-01", "2025_03"} {
		_, _, err := engine.ParsePeriod(bad)
		assert.True(t, errors.Is(err, engine.ErrValidation), bad)
	}
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 365, engine.DaysBetween(date(2025, time.January, 1), date(2026, time.January, 1)))
	assert.Equal(t, -1, engine.DaysBetween(date(2025, time.March, 2), date(2025, time.March, 1)))
	assert.Equal(t, 29, engine.DaysBetween(date(2024, time.February, 1), date(2024, time.March, 1)), "leap year")
	assert.Equal(t, "2025-03", date(2025, time.March, 31).Period())
}
