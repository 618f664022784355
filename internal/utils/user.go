package utils

import (
	"time"
)

// ContributorLevel maps a count of approved changes to a contributor tier.
func ContributorLevel(approved int) (name string, icon string) {
	switch {
	case approved >= 100:
		return "Steward", "🏛️"
	case approved >= 25:
		return "Maintainer", "🛠️"
	case approved >= 5:
		return "Contributor", "🧩"
	case approved >= 1:
		return "Editor", "✏️"
	default:
		return "Explorer", "🧭"
	}
}

// DaysSince returns whole days elapsed since t; zero for a zero time.
func DaysSince(now, t time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t).Hours() / 24)
}

// ShortWallet abbreviates an address for display, e.g. 0x1234…abcd.
func ShortWallet(w string) string {
	if len(w) < 12 {
		return w
	}
	return w[:6] + "…" + w[len(w)-4:]
}
