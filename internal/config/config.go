package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kmworks/kmcal/internal/kmcal"
)

// CalendarMapping names the scheduling properties of each source database.
type CalendarMapping struct {
	IssueDue   string `yaml:"issue_due"`
	IssueKey   string `yaml:"issue_key"`
	IssueTitle string `yaml:"issue_title"`

	SprintRange string `yaml:"sprint_range"`
	SprintStart string `yaml:"sprint_start"`
	SprintEnd   string `yaml:"sprint_end"`
	SprintTitle string `yaml:"sprint_title"`

	ReleaseDate  string `yaml:"release_date"`
	ReleaseTitle string `yaml:"release_title"`

	ProjectRange  string `yaml:"project_range"`
	ProjectStart  string `yaml:"project_start"`
	ProjectTarget string `yaml:"project_target"`
	ProjectTitle  string `yaml:"project_title"`
}

// DatabaseIDs holds the external database identifiers per role.
type DatabaseIDs struct {
	Projects string `yaml:"projects"`
	Issues   string `yaml:"issues"`
	Sprints  string `yaml:"sprints"`
	Releases string `yaml:"releases"`
	Epics    string `yaml:"epics"`
	Stories  string `yaml:"stories"`
}

// Mapping is the workspace mapping configuration: database identifiers,
// property names, and identifier settings. Every field has a default, so a
// deployment against an unmodified workspace needs no file at all.
type Mapping struct {
	CounterName        string          `yaml:"counter_name"`
	GlobalIDProperties []string        `yaml:"global_id_properties"`
	Databases          DatabaseIDs     `yaml:"databases"`
	Calendar           CalendarMapping `yaml:"calendar"`
}

func Default() *Mapping {
	builder := kmcal.DefaultBuilderConfig()
	return &Mapping{
		CounterName:        kmcal.DefaultCounterName,
		GlobalIDProperties: append([]string(nil), kmcal.DefaultGlobalIDProperties...),
		Calendar: CalendarMapping{
			IssueDue:   builder.IssueDueProp,
			IssueKey:   builder.IssueKeyProp,
			IssueTitle: builder.IssueTitleProp,

			SprintRange: builder.SprintRangeProp,
			SprintStart: builder.SprintStartProp,
			SprintEnd:   builder.SprintEndProp,
			SprintTitle: builder.SprintTitleProp,

			ReleaseDate:  builder.ReleaseDateProp,
			ReleaseTitle: builder.ReleaseTitleProp,

			ProjectRange:  builder.ProjectRangeProp,
			ProjectStart:  builder.ProjectStartProp,
			ProjectTarget: builder.ProjectTargetProp,
			ProjectTitle:  builder.ProjectTitleProp,
		},
	}
}

// Normalize fills missing values with defaults so partially-filled mapping
// files behave like the full default mapping.
func (m *Mapping) Normalize() {
	defaults := Default()
	if strings.TrimSpace(m.CounterName) == "" {
		m.CounterName = defaults.CounterName
	}
	if len(m.GlobalIDProperties) == 0 {
		m.GlobalIDProperties = defaults.GlobalIDProperties
	}
	fillString(&m.Calendar.IssueDue, defaults.Calendar.IssueDue)
	fillString(&m.Calendar.IssueKey, defaults.Calendar.IssueKey)
	fillString(&m.Calendar.IssueTitle, defaults.Calendar.IssueTitle)
	fillString(&m.Calendar.SprintRange, defaults.Calendar.SprintRange)
	fillString(&m.Calendar.SprintStart, defaults.Calendar.SprintStart)
	fillString(&m.Calendar.SprintEnd, defaults.Calendar.SprintEnd)
	fillString(&m.Calendar.SprintTitle, defaults.Calendar.SprintTitle)
	fillString(&m.Calendar.ReleaseDate, defaults.Calendar.ReleaseDate)
	fillString(&m.Calendar.ReleaseTitle, defaults.Calendar.ReleaseTitle)
	fillString(&m.Calendar.ProjectRange, defaults.Calendar.ProjectRange)
	fillString(&m.Calendar.ProjectStart, defaults.Calendar.ProjectStart)
	fillString(&m.Calendar.ProjectTarget, defaults.Calendar.ProjectTarget)
	fillString(&m.Calendar.ProjectTitle, defaults.Calendar.ProjectTitle)
}

func fillString(target *string, fallback string) {
	if strings.TrimSpace(*target) == "" {
		*target = fallback
	}
}

// Load reads a mapping file. An empty path or a missing file yields the
// default mapping; a present but unparsable file is an error.
func Load(path string) (*Mapping, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	var mapping Mapping
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("parse mapping file %s: %w", path, err)
	}
	mapping.Normalize()
	return &mapping, nil
}

// ApplyEnv overrides database identifiers and counter settings from the
// environment. Environment wins over the file, matching how deployments
// inject per-workspace identifiers.
func (m *Mapping) ApplyEnv(getenv func(string) string) {
	overrideString(&m.Databases.Projects, getenv("KMCAL_PROJECTS_DB_ID"))
	overrideString(&m.Databases.Issues, getenv("KMCAL_ISSUES_DB_ID"))
	overrideString(&m.Databases.Sprints, getenv("KMCAL_SPRINTS_DB_ID"))
	overrideString(&m.Databases.Releases, getenv("KMCAL_RELEASES_DB_ID"))
	overrideString(&m.Databases.Epics, getenv("KMCAL_EPICS_DB_ID"))
	overrideString(&m.Databases.Stories, getenv("KMCAL_STORIES_DB_ID"))
	overrideString(&m.CounterName, getenv("KMCAL_COUNTER_NAME"))
}

func overrideString(target *string, value string) {
	value = strings.TrimSpace(value)
	if value != "" {
		*target = value
	}
}

// CalendarDatabases returns the four calendar source ids, failing when any
// is missing: the fetch pipeline never runs with a partial source set.
func (m *Mapping) CalendarDatabases() (kmcal.Databases, error) {
	databases := kmcal.Databases{
		Projects: m.Databases.Projects,
		Issues:   m.Databases.Issues,
		Sprints:  m.Databases.Sprints,
		Releases: m.Databases.Releases,
	}
	for name, value := range map[string]string{
		"KMCAL_PROJECTS_DB_ID": databases.Projects,
		"KMCAL_ISSUES_DB_ID":   databases.Issues,
		"KMCAL_SPRINTS_DB_ID":  databases.Sprints,
		"KMCAL_RELEASES_DB_ID": databases.Releases,
	} {
		if strings.TrimSpace(value) == "" {
			return kmcal.Databases{}, fmt.Errorf("%w: %s", kmcal.ErrMissingConfig, name)
		}
	}
	return databases, nil
}

func (m *Mapping) TicketDatabases() kmcal.TicketDatabases {
	return kmcal.TicketDatabases{
		Epics:   m.Databases.Epics,
		Stories: m.Databases.Stories,
		Issues:  m.Databases.Issues,
	}
}

// BuilderConfig converts the calendar mapping into the builder property
// names the core package consumes.
func (m *Mapping) BuilderConfig() kmcal.BuilderConfig {
	return kmcal.BuilderConfig{
		IssueDueProp:   m.Calendar.IssueDue,
		IssueKeyProp:   m.Calendar.IssueKey,
		IssueTitleProp: m.Calendar.IssueTitle,

		SprintRangeProp: m.Calendar.SprintRange,
		SprintStartProp: m.Calendar.SprintStart,
		SprintEndProp:   m.Calendar.SprintEnd,
		SprintTitleProp: m.Calendar.SprintTitle,

		ReleaseDateProp:  m.Calendar.ReleaseDate,
		ReleaseTitleProp: m.Calendar.ReleaseTitle,

		ProjectRangeProp:  m.Calendar.ProjectRange,
		ProjectStartProp:  m.Calendar.ProjectStart,
		ProjectTargetProp: m.Calendar.ProjectTarget,
		ProjectTitleProp:  m.Calendar.ProjectTitle,
	}
}
