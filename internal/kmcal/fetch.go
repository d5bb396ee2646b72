package kmcal

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Databases names the four source databases feeding the calendar.
type Databases struct {
	Projects string
	Issues   string
	Sprints  string
	Releases string
}

func (d Databases) validate() error {
	missing := ""
	switch {
	case d.Projects == "":
		missing = "projects"
	case d.Issues == "":
		missing = "issues"
	case d.Sprints == "":
		missing = "sprints"
	case d.Releases == "":
		missing = "releases"
	}
	if missing != "" {
		return fmt.Errorf("%w: %s database id", ErrMissingConfig, missing)
	}
	return nil
}

// FetchCalendarEvents queries the four source databases concurrently,
// builds events per source, and merges them into one ordered feed. Any
// failing query fails the whole fetch; there is no partial calendar. The
// builders share no state, so the only coordination is the join.
func FetchCalendarEvents(ctx context.Context, client NotionClient, databases Databases, cfg BuilderConfig) ([]CalendarEvent, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: notion client", ErrMissingConfig)
	}
	if err := databases.validate(); err != nil {
		return nil, err
	}

	var projectEvents, issueEvents, sprintEvents, releaseEvents []CalendarEvent

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		pages, err := client.QueryDatabasePages(groupCtx, databases.Projects)
		if err != nil {
			return fmt.Errorf("%w: projects: %w", ErrUpstreamQuery, err)
		}
		projectEvents = BuildProjectEvents(pages, cfg)
		return nil
	})
	group.Go(func() error {
		pages, err := client.QueryDatabasePages(groupCtx, databases.Issues)
		if err != nil {
			return fmt.Errorf("%w: issues: %w", ErrUpstreamQuery, err)
		}
		issueEvents = BuildIssueEvents(pages, cfg)
		return nil
	})
	group.Go(func() error {
		pages, err := client.QueryDatabasePages(groupCtx, databases.Sprints)
		if err != nil {
			return fmt.Errorf("%w: sprints: %w", ErrUpstreamQuery, err)
		}
		sprintEvents = BuildSprintEvents(pages, cfg)
		return nil
	})
	group.Go(func() error {
		pages, err := client.QueryDatabasePages(groupCtx, databases.Releases)
		if err != nil {
			return fmt.Errorf("%w: releases: %w", ErrUpstreamQuery, err)
		}
		releaseEvents = BuildReleaseEvents(pages, cfg)
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return MergeEvents(projectEvents, issueEvents, sprintEvents, releaseEvents), nil
}
