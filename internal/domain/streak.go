package domain

import "time"

// CalculateStreak counts the consecutive days ending at today (UTC) on which
// the user completed at least one task. completions may be unordered and may
// contain several entries per day. A day without completions breaks the
// streak; today itself is allowed to be empty, in which case the streak
// counts back from yesterday.
func CalculateStreak(completions []time.Time, today time.Time) int {
	days := make(map[time.Time]bool, len(completions))
	for _, c := range completions {
		days[dateOf(c)] = true
	}

	day := dateOf(today)
	if !days[day] {
		// Today has no completion yet; the streak is still alive if
		// yesterday does.
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for days[day] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
