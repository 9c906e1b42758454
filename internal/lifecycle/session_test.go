package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2024, 3, 1, h, m, 0, 0, time.UTC)
}

func TestSessionActiveExclusive(t *testing.T) {
	s, err := ParseSession("09:00", "17:30", "UTC")
	require.NoError(t, err)

	assert.False(t, s.Active(at(9, 0)))
	assert.True(t, s.Active(at(9, 1)))
	assert.True(t, s.Active(at(17, 29)))
	assert.False(t, s.Active(at(17, 30)))
	assert.False(t, s.Active(at(3, 0)))
}

func TestSessionWrapsMidnight(t *testing.T) {
	s, err := ParseSession("22:00", "02:00", "UTC")
	require.NoError(t, err)

	assert.True(t, s.Active(at(23, 0)))
	assert.True(t, s.Active(at(1, 0)))
	assert.False(t, s.Active(at(12, 0)))
}

func TestSessionLocation(t *testing.T) {
	s, err := ParseSession("09:00", "10:00", "Asia/Shanghai")
	require.NoError(t, err)

	assert.True(t, s.Active(time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC)))
	assert.False(t, s.Active(at(9, 30)))
}

func TestSessionNilAlwaysActive(t *testing.T) {
	s, err := ParseSession("", "", "")
	require.NoError(t, err)
	assert.Nil(t, s)
	assert.True(t, s.Active(at(3, 0)))
}

func TestParseSessionErrors(t *testing.T) {
	_, err := ParseSession("9am", "17:00", "UTC")
	require.Error(t, err)

	_, err = ParseSession("10:00", "10:00", "UTC")
	require.Error(t, err)

	_, err = ParseSession("09:00", "10:00", "Mars/Olympus")
	require.Error(t, err)
}

func TestDurationCounter(t *testing.T) {
	c := NewDurationCounter(2)
	assert.Equal(t, 2, c.Max())
	c.Decrement()
	c.Decrement()
	c.Decrement()
	assert.Equal(t, 0, c.Value())
	c.Reset()
	assert.Equal(t, 2, c.Value())
}
