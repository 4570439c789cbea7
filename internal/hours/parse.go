// Package hours reads weekly opening-hours tables published as HTML.
//
// The markup comes from a third-party widget, so parsing degrades one cell
// at a time: a cell that matches nothing becomes an "unknown" all-day entry
// instead of failing the whole table.
package hours

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/briangreenhill/roomwatch/internal/rooms"
)

// LabelUnknown marks a cell that could not be classified.
const LabelUnknown = "unknown"

const daysPerWeek = 7

var (
	allDayRe = regexp.MustCompile(`(?i)24\s*hours`)
	noteRe   = regexp.MustCompile(`\(([^)]*)\)`)
	closedRe = regexp.MustCompile(`(?i)\bclosed\b`)
	rangeRe  = regexp.MustCompile(`(?i)(\d{1,2}(?::\d{2})?\s*[ap]\.?\s*m\.?)\s*(?:-|–|—|to)\s*(\d{1,2}(?::\d{2})?\s*[ap]\.?\s*m\.?)`)
)

// Parse finds the first table row whose leading cell contains rowLabel and
// classifies the seven cells after it as weekStart through weekStart+6.
// It reports false when no row matches.
func Parse(markup, rowLabel string, weekStart rooms.Date) (map[rooms.Date]rooms.DayHours, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, false
	}

	var row *goquery.Selection
	doc.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		first := tr.Children().Filter("td, th").First()
		if strings.Contains(cleanText(first.Text()), rowLabel) {
			row = tr
			return false
		}
		return true
	})
	if row == nil {
		return nil, false
	}

	cells := row.Children().Filter("td, th")
	out := make(map[rooms.Date]rooms.DayHours, daysPerWeek)
	for i := 0; i < daysPerWeek; i++ {
		out[weekStart.AddDays(i)] = Classify(cells.Eq(i + 1))
	}
	return out, true
}

// Classify turns one table cell into DayHours. An empty selection yields the
// unknown fallback.
func Classify(cell *goquery.Selection) rooms.DayHours {
	text := cleanText(cell.Text())

	if isClosed(cell, text) {
		return rooms.DayHours{Closed: true}
	}

	if allDayRe.MatchString(text) {
		h := rooms.DayHours{Open: 0, Close: 24}
		if m := noteRe.FindStringSubmatch(text); m != nil {
			h.Note = strings.TrimSpace(m[1])
		}
		return h
	}

	if m := rangeRe.FindStringSubmatch(text); m != nil {
		open, errOpen := rooms.Parse12Hour(m[1])
		closing, errClose := rooms.Parse12Hour(m[2])
		if errOpen == nil && errClose == nil {
			h := rooms.DayHours{Open: open.Hours(), Close: closing.Hours()}
			// "12:00am" as a closing time is the end of the day
			if closing == 0 {
				h.Close = 24
			}
			return h
		}
	}

	return rooms.DayHours{Open: 0, Close: 24, Label: LabelUnknown}
}

func isClosed(cell *goquery.Selection, text string) bool {
	if cell.Is("[class*=closed]") || cell.Find("[class*=closed]").Length() > 0 {
		return true
	}
	return closedRe.MatchString(text)
}

// cleanText collapses whitespace runs, non-breaking spaces included.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
