package datetime

import (
	"strings"

	"golang.org/x/text/language"
)

// Locale holds the date conventions of one supported language.
type Locale struct {
	Tag    language.Tag
	Hour24 bool

	weekdays [7]string
	months   [12]string
	layout   dateLayout
}

// Name returns the BCP 47 name, e.g. "en-US".
func (l Locale) Name() string {
	return l.Tag.String()
}

type dateLayout int

const (
	layoutMonthDay dateLayout = iota // Monday, March 2nd, 2026
	layoutDayMonth                   // Monday, 2nd March 2026
	layoutGerman                     // Montag, 2. März 2026
	layoutFrench                     // lundi 2 mars 2026
	layoutSpanish                    // lunes, 2 de marzo de 2026
)

var (
	englishWeekdays = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
	englishMonths   = [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"}
)

var locales = []Locale{
	{Tag: language.AmericanEnglish, weekdays: englishWeekdays, months: englishMonths, layout: layoutMonthDay},
	{Tag: language.BritishEnglish, Hour24: true, weekdays: englishWeekdays, months: englishMonths, layout: layoutDayMonth},
	{
		Tag:      language.German,
		Hour24:   true,
		weekdays: [7]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"},
		months:   [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
		layout:   layoutGerman,
	},
	{
		Tag:      language.French,
		Hour24:   true,
		weekdays: [7]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"},
		months:   [12]string{"janvier", "février", "mars", "avril", "mai", "juin", "juillet", "août", "septembre", "octobre", "novembre", "décembre"},
		layout:   layoutFrench,
	},
	{
		Tag:      language.Spanish,
		Hour24:   true,
		weekdays: [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"},
		months:   [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
		layout:   layoutSpanish,
	},
}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, len(locales))
	for i, l := range locales {
		tags[i] = l.Tag
	}
	return language.NewMatcher(tags)
}()

// ResolveLocale matches a configured locale against the supported ones.
// Unparseable or unmatched names resolve to en-US.
func ResolveLocale(configured string) Locale {
	tag, err := language.Parse(strings.TrimSpace(configured))
	if err != nil {
		return locales[0]
	}
	_, idx, confidence := matcher.Match(tag)
	if confidence == language.No {
		return locales[0]
	}
	return locales[idx]
}
