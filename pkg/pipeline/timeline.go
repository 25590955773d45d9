package pipeline

import (
	"strings"
	"time"

	"github.com/mohamed-ali0/main-bots-api/pkg/upstream"
)

const (
	// dateLayout is the MM/DD/YYYY form used across all spreadsheet cells.
	dateLayout = "01/02/2006"

	// slotLayout parses the start of an appointment slot string,
	// e.g. "10/10/2025 08:00 AM" out of "10/10/2025 08:00 AM - 09:00 AM".
	slotLayout = "01/02/2006 03:04 PM"
)

// MilestoneDate extracts the date of a named milestone from a timeline,
// normalized to MM/DD/YYYY with any time-of-day stripped. Absent or empty
// milestones yield the literal naValue.
func MilestoneDate(timeline []upstream.Milestone, name string) string {
	for _, m := range timeline {
		if m.Milestone != name {
			continue
		}
		date := strings.TrimSpace(m.Date)
		if date == "" || strings.EqualFold(date, naValue) {
			return naValue
		}
		// "03/24/2025 13:10" → "03/24/2025"
		if i := strings.IndexByte(date, ' '); i > 0 {
			date = date[:i]
		}
		return date
	}
	return naValue
}

// EarliestAppointment returns the MM/DD/YYYY date of the earliest slot in
// available_times. The list is not assumed sorted; each entry looks like
// "10/10/2025 08:00 AM - 09:00 AM". Returns "" when nothing parses.
func EarliestAppointment(availableTimes []string) string {
	var earliest time.Time
	for _, slot := range availableTimes {
		start, _, found := strings.Cut(slot, " - ")
		if !found {
			start = slot
		}
		t, err := time.Parse(slotLayout, strings.TrimSpace(start))
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if earliest.IsZero() {
		return ""
	}
	return earliest.Format(dateLayout)
}
