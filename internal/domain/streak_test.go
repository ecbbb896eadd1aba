package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateStreak(t *testing.T) {
	today := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	day := func(offset int, hour int) time.Time {
		return today.AddDate(0, 0, offset).Truncate(24 * time.Hour).Add(time.Duration(hour) * time.Hour)
	}

	t.Run("no completions", func(t *testing.T) {
		assert.Zero(t, CalculateStreak(nil, today))
	})

	t.Run("consecutive days ending today", func(t *testing.T) {
		completions := []time.Time{day(0, 8), day(-1, 20), day(-2, 7)}
		assert.Equal(t, 3, CalculateStreak(completions, today))
	})

	t.Run("today empty counts back from yesterday", func(t *testing.T) {
		completions := []time.Time{day(-1, 9), day(-2, 9), day(-3, 9)}
		assert.Equal(t, 3, CalculateStreak(completions, today))
	})

	t.Run("gap breaks the streak", func(t *testing.T) {
		completions := []time.Time{day(0, 9), day(-1, 9), day(-3, 9), day(-4, 9)}
		assert.Equal(t, 2, CalculateStreak(completions, today))
	})

	t.Run("several completions in one day count once", func(t *testing.T) {
		completions := []time.Time{day(0, 6), day(0, 12), day(0, 22), day(-1, 9)}
		assert.Equal(t, 2, CalculateStreak(completions, today))
	})

	t.Run("only old completions", func(t *testing.T) {
		completions := []time.Time{day(-5, 9), day(-6, 9)}
		assert.Zero(t, CalculateStreak(completions, today))
	})

	t.Run("unordered input", func(t *testing.T) {
		completions := []time.Time{day(-2, 9), day(0, 9), day(-1, 9)}
		assert.Equal(t, 3, CalculateStreak(completions, today))
	})

	t.Run("timezone collapses to UTC day", func(t *testing.T) {
		// 23:30 UTC-2 on the 24th is 01:30 UTC on the 25th.
		loc := time.FixedZone("UTC-2", -2*3600)
		completions := []time.Time{
			time.Date(2026, 8, 24, 23, 30, 0, 0, loc),
			day(-1, 9),
		}
		assert.Equal(t, 2, CalculateStreak(completions, today))
	})
}
