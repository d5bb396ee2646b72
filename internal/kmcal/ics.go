package kmcal

import (
	"time"

	ical "github.com/arran4/golang-ical"
)

const icsProductID = "-//kmworks//kmcal//EN"

// RenderICS serializes a merged feed as an iCalendar document so external
// calendar apps can subscribe to it. Builders have already applied the
// exclusive-end conversion, so all-day DTEND values go out as stored.
// Events whose dates fail to parse are left out rather than failing the
// whole document, mirroring how the builders skip unusable records.
func RenderICS(events []CalendarEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, event := range events {
		if event.AllDay {
			start, err := time.ParseInLocation(dateOnlyLayout, event.Start, time.UTC)
			if err != nil {
				continue
			}
			entry := cal.AddEvent(event.ID)
			entry.SetDtStampTime(now.UTC())
			entry.SetSummary(event.Title)
			entry.SetAllDayStartAt(start)
			if event.End != "" {
				if end, endErr := time.ParseInLocation(dateOnlyLayout, event.End, time.UTC); endErr == nil {
					entry.SetAllDayEndAt(end)
				}
			}
			if event.NotionURL != "" {
				entry.SetURL(event.NotionURL)
			}
			entry.SetDescription(string(event.Source))
			continue
		}

		start, err := time.Parse(time.RFC3339, event.Start)
		if err != nil {
			continue
		}
		entry := cal.AddEvent(event.ID)
		entry.SetDtStampTime(now.UTC())
		entry.SetSummary(event.Title)
		entry.SetStartAt(start)
		if event.End != "" {
			if end, endErr := time.Parse(time.RFC3339, event.End); endErr == nil {
				entry.SetEndAt(end)
			}
		}
		if event.NotionURL != "" {
			entry.SetURL(event.NotionURL)
		}
		entry.SetDescription(string(event.Source))
	}

	return cal.Serialize()
}
