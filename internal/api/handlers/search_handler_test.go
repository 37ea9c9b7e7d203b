package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchWindow(t *testing.T) {
	t.Run("single day expands to its utc range", func(t *testing.T) {
		from, to, err := searchWindow("2026-09-01", "", "")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), from)
		assert.Equal(t, from.Add(24*time.Hour), to)
	})

	t.Run("explicit range", func(t *testing.T) {
		from, to, err := searchWindow("", "2026-09-01T08:00:00Z", "2026-09-01T18:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC), from)
		assert.Equal(t, time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC), to)
	})

	t.Run("day takes precedence over a partial range", func(t *testing.T) {
		from, to, err := searchWindow("2026-09-01", "2026-09-01T08:00:00Z", "")
		require.NoError(t, err)
		assert.Equal(t, 24*time.Hour, to.Sub(from))
	})

	t.Run("missing bounds rejected", func(t *testing.T) {
		_, _, err := searchWindow("", "2026-09-01T08:00:00Z", "")
		assert.Error(t, err)
		_, _, err = searchWindow("", "", "")
		assert.Error(t, err)
	})

	t.Run("malformed day rejected", func(t *testing.T) {
		_, _, err := searchWindow("01-09-2026", "", "")
		assert.Error(t, err)
	})
}
