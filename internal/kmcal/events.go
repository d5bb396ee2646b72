package kmcal

import "sort"

type EventSource string

const (
	SourceProject EventSource = "project"
	SourceIssue   EventSource = "issue"
	SourceSprint  EventSource = "sprint"
	SourceRelease EventSource = "release"
)

var sourceColors = map[EventSource]string{
	SourceProject: "#7c3aed",
	SourceIssue:   "#ea580c",
	SourceSprint:  "#2563eb",
	SourceRelease: "#059669",
}

// CalendarEvent is the canonical feed unit. Events are pure projections of
// their source pages and are rebuilt from scratch on every fetch.
type CalendarEvent struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Start     string      `json:"start"`
	End       string      `json:"end,omitempty"`
	AllDay    bool        `json:"allDay"`
	Source    EventSource `json:"source"`
	NotionURL string      `json:"notionUrl"`
	Color     string      `json:"color"`
}

// BuilderConfig names the properties each source database stores its
// scheduling data under. Defaults match the workspace this service was
// built against; deployments with renamed properties override them via the
// mapping file.
type BuilderConfig struct {
	IssueDueProp   string
	IssueKeyProp   string
	IssueTitleProp string

	SprintRangeProp string
	SprintStartProp string
	SprintEndProp   string
	SprintTitleProp string

	ReleaseDateProp  string
	ReleaseTitleProp string

	ProjectRangeProp  string
	ProjectStartProp  string
	ProjectTargetProp string
	ProjectTitleProp  string
}

func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		IssueDueProp:   "Due Date",
		IssueKeyProp:   "Issue Key",
		IssueTitleProp: "Title",

		SprintRangeProp: "기간",
		SprintStartProp: "Start Date",
		SprintEndProp:   "End Date",
		SprintTitleProp: "Name",

		ReleaseDateProp:  "Release Date",
		ReleaseTitleProp: "Version",

		ProjectRangeProp:  "기간",
		ProjectStartProp:  "Start Date",
		ProjectTargetProp: "Target Date",
		ProjectTitleProp:  "Name",
	}
}

// BuildIssueEvents maps issue pages onto events keyed by the single due
// date property. Pages without a due date are skipped. When the issue key
// property carries a value it is folded into the title.
func BuildIssueEvents(pages []Page, cfg BuilderConfig) []CalendarEvent {
	events := make([]CalendarEvent, 0, len(pages))
	for _, page := range pages {
		due := DateProperty(page, cfg.IssueDueProp)
		if due.Start == "" {
			continue
		}

		title := "[Issue] " + PageTitle(page, cfg.IssueTitleProp)
		if key := PlainText(page.Properties[cfg.IssueKeyProp]); key != "" {
			title = "[Issue] " + key + " " + PageTitle(page, cfg.IssueTitleProp)
		}
		allDay := IsDateOnly(due.Start)

		events = append(events, CalendarEvent{
			ID:        "issue-" + page.ID,
			Title:     title,
			Start:     due.Start,
			End:       normalizeEnd(due.End, allDay),
			AllDay:    allDay,
			Source:    SourceIssue,
			NotionURL: page.URL,
			Color:     sourceColors[SourceIssue],
		})
	}
	return events
}

// BuildSprintEvents maps sprint pages onto events. The combined range
// property wins; legacy start/end fields cover older records, and a sprint
// with only one bound uses it for both start and end.
func BuildSprintEvents(pages []Page, cfg BuilderConfig) []CalendarEvent {
	events := make([]CalendarEvent, 0, len(pages))
	for _, page := range pages {
		span := ReadDateRange(page, cfg.SprintRangeProp, cfg.SprintStartProp, cfg.SprintEndProp)
		start := span.Start
		if start == "" {
			start = span.End
		}
		if start == "" {
			continue
		}
		allDay := IsDateOnly(start)

		events = append(events, CalendarEvent{
			ID:        "sprint-" + page.ID,
			Title:     "[Sprint] " + PageTitle(page, cfg.SprintTitleProp),
			Start:     start,
			End:       normalizeEnd(span.End, allDay),
			AllDay:    allDay,
			Source:    SourceSprint,
			NotionURL: page.URL,
			Color:     sourceColors[SourceSprint],
		})
	}
	return events
}

// BuildReleaseEvents maps release pages onto point events with no end.
func BuildReleaseEvents(pages []Page, cfg BuilderConfig) []CalendarEvent {
	events := make([]CalendarEvent, 0, len(pages))
	for _, page := range pages {
		releaseDate := DateProperty(page, cfg.ReleaseDateProp).Start
		if releaseDate == "" {
			continue
		}

		events = append(events, CalendarEvent{
			ID:        "release-" + page.ID,
			Title:     "[Release] " + PageTitle(page, cfg.ReleaseTitleProp),
			Start:     releaseDate,
			AllDay:    IsDateOnly(releaseDate),
			Source:    SourceRelease,
			NotionURL: page.URL,
			Color:     sourceColors[SourceRelease],
		})
	}
	return events
}

// BuildProjectEvents maps project pages onto events spanning the project
// range, with the legacy target date standing in for the range end.
func BuildProjectEvents(pages []Page, cfg BuilderConfig) []CalendarEvent {
	events := make([]CalendarEvent, 0, len(pages))
	for _, page := range pages {
		span := ReadDateRange(page, cfg.ProjectRangeProp, cfg.ProjectStartProp, cfg.ProjectTargetProp)
		start := span.Start
		if start == "" {
			start = span.End
		}
		if start == "" {
			continue
		}
		allDay := IsDateOnly(start)

		events = append(events, CalendarEvent{
			ID:        "project-" + page.ID,
			Title:     "[Project] " + PageTitle(page, cfg.ProjectTitleProp),
			Start:     start,
			End:       normalizeEnd(span.End, allDay),
			AllDay:    allDay,
			Source:    SourceProject,
			NotionURL: page.URL,
			Color:     sourceColors[SourceProject],
		})
	}
	return events
}

// normalizeEnd converts an inclusive all-day range end to the exclusive
// form calendars expect; timed ends pass through untouched.
func normalizeEnd(end string, allDay bool) string {
	if end == "" {
		return ""
	}
	if allDay {
		return ToExclusiveEnd(end)
	}
	return end
}

// MergeEvents concatenates builder outputs into one feed ordered ascending
// by start. Plain string comparison is enough: every start is ISO-8601,
// which sorts lexicographically the same as chronologically. The sort is
// stable, so ties keep their builder order.
func MergeEvents(groups ...[]CalendarEvent) []CalendarEvent {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	merged := make([]CalendarEvent, 0, total)
	for _, group := range groups {
		merged = append(merged, group...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start < merged[j].Start
	})
	return merged
}
