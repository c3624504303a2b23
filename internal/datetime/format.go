package datetime

import (
	"fmt"
	"time"
)

// OrdinalSuffix returns the English ordinal suffix for a day number.
// Examples: 1 -> "st", 2 -> "nd", 3 -> "rd", 4 -> "th", 11 -> "th", 21 -> "st"
func OrdinalSuffix(day int) string {
	// 11-13, 111-113, etc. always use "th"
	lastTwoDigits := day % 100
	if lastTwoDigits >= 11 && lastTwoDigits <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	default:
		return "th"
	}
}

// Format renders t in loc using the locale's conventions, e.g.
// "Monday, March 2nd, 2026 - 2:30 PM" for en-US or
// "Montag, 2. März 2026 - 14:30" for de.
func (l Locale) Format(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	weekday := l.weekdays[local.Weekday()]
	month := l.months[local.Month()-1]
	day := local.Day()
	year := local.Year()

	var date string
	switch l.layout {
	case layoutDayMonth:
		date = fmt.Sprintf("%s, %d%s %s %d", weekday, day, OrdinalSuffix(day), month, year)
	case layoutGerman:
		date = fmt.Sprintf("%s, %d. %s %d", weekday, day, month, year)
	case layoutFrench:
		date = fmt.Sprintf("%s %d %s %d", weekday, day, month, year)
	case layoutSpanish:
		date = fmt.Sprintf("%s, %d de %s de %d", weekday, day, month, year)
	default:
		date = fmt.Sprintf("%s, %s %d%s, %d", weekday, month, day, OrdinalSuffix(day), year)
	}
	return date + " - " + l.clock(local)
}

func (l Locale) clock(t time.Time) string {
	if l.Hour24 {
		return t.Format("15:04")
	}
	hour := t.Hour()
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	if hour == 0 {
		hour = 12
	} else if hour > 12 {
		hour -= 12
	}
	return fmt.Sprintf("%d:%02d %s", hour, t.Minute(), period)
}
