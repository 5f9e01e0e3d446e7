package scheduler

import (
	"time"

	"github.com/glowpost/backend/internal/models"
)

// ResolveZone loads the named IANA zone, falling back to defaultZone and
// finally UTC. It never fails: a client with a bad timezone still gets
// scheduled, just on the default clock.
func ResolveZone(name, defaultZone string) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	if defaultZone != "" {
		if loc, err := time.LoadLocation(defaultZone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Target returns the client's posting moment for "today" in their local zone:
// today's date at post_hour:post_minute:00. Out-of-range preferences fall back
// to 17:00 local.
func Target(c *models.Client, nowUTC time.Time, defaultZone string) time.Time {
	loc := ResolveZone(c.Timezone, defaultZone)
	local := nowUTC.In(loc)

	hour := c.PostHour
	if hour < 0 || hour > 23 {
		hour = 17
	}
	minute := c.PostMinute
	if minute < 0 || minute > 59 {
		minute = 0
	}

	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
}

// IsDue reports whether the client's configured local posting time has arrived
// for the current local day. Day rollover and same-day dedup are the engine's
// concern; this is a pure comparison evaluated fresh each pass.
func IsDue(c *models.Client, nowUTC time.Time, defaultZone string) bool {
	loc := ResolveZone(c.Timezone, defaultZone)
	return !nowUTC.In(loc).Before(Target(c, nowUTC, defaultZone))
}

// LocalDate returns the client's current local calendar date at midnight local
// time. The dedup gate compares scheduled_at/posted_at against this date.
func LocalDate(c *models.Client, nowUTC time.Time, defaultZone string) time.Time {
	loc := ResolveZone(c.Timezone, defaultZone)
	local := nowUTC.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// WeekStart returns the Monday of the ISO week containing nowUTC, at 00:00 UTC.
// The accounting week is anchored to a fixed reference clock (UTC) for every
// client so usage rows stay comparable across timezones.
func WeekStart(nowUTC time.Time) time.Time {
	t := nowUTC.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	monday := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}
