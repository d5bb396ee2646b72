package kmcal

import (
	"context"
	"errors"
	"testing"
)

func fetchDatabases() Databases {
	return Databases{
		Projects: "db_projects",
		Issues:   "db_issues",
		Sprints:  "db_sprints",
		Releases: "db_releases",
	}
}

func TestFetchCalendarEventsMergesAllSourcesOrdered(t *testing.T) {
	client := newFakeNotionClient()
	client.pages["db_projects"] = []Page{{
		ID: "pr1",
		Properties: map[string]PropertyValue{
			"기간":   dateProp("2024-03-10", ""),
			"Name": titleProp("Revamp"),
		},
	}}
	client.pages["db_issues"] = []Page{{
		ID: "is1",
		Properties: map[string]PropertyValue{
			"Due Date": dateProp("2024-01-05", ""),
			"Title":    titleProp("Fix bug"),
		},
	}}
	client.pages["db_sprints"] = []Page{{
		ID: "sp1",
		Properties: map[string]PropertyValue{
			"기간":   dateProp("2024-02-20", "2024-03-05"),
			"Name": titleProp("Sprint 9"),
		},
	}}
	client.pages["db_releases"] = []Page{{
		ID: "re1",
		Properties: map[string]PropertyValue{
			"Release Date": dateProp("2024-06-30", ""),
			"Version":      titleProp("v2.0"),
		},
	}}

	events, err := FetchCalendarEvents(context.Background(), client, fetchDatabases(), DefaultBuilderConfig())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected four events, got %d", len(events))
	}
	wantOrder := []string{"issue-is1", "sprint-sp1", "project-pr1", "release-re1"}
	for i, want := range wantOrder {
		if events[i].ID != want {
			t.Fatalf("unexpected order at %d: got %s, want %s", i, events[i].ID, want)
		}
	}
}

func TestFetchCalendarEventsFailsWhollyOnAnyQueryFailure(t *testing.T) {
	client := newFakeNotionClient()
	client.pages["db_projects"] = []Page{{
		ID: "pr1",
		Properties: map[string]PropertyValue{
			"기간":   dateProp("2024-03-10", ""),
			"Name": titleProp("Revamp"),
		},
	}}
	client.queryErr["db_sprints"] = errors.New("rate limited")

	events, err := FetchCalendarEvents(context.Background(), client, fetchDatabases(), DefaultBuilderConfig())
	if err == nil {
		t.Fatalf("expected fetch to fail")
	}
	if !errors.Is(err, ErrUpstreamQuery) {
		t.Fatalf("expected upstream query error, got %v", err)
	}
	if events != nil {
		t.Fatalf("expected no partial calendar, got %+v", events)
	}
}

func TestFetchCalendarEventsRequiresAllDatabaseIDs(t *testing.T) {
	databases := fetchDatabases()
	databases.Sprints = ""
	_, err := FetchCalendarEvents(context.Background(), newFakeNotionClient(), databases, DefaultBuilderConfig())
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("expected missing config, got %v", err)
	}
}
