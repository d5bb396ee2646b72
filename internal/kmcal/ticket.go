package kmcal

import (
	"context"
	"fmt"
	"strings"
)

type TicketType string

const (
	TicketEpic  TicketType = "Epic"
	TicketStory TicketType = "Story"
	TicketIssue TicketType = "Issue"
)

func (t TicketType) valid() bool {
	switch t {
	case TicketEpic, TicketStory, TicketIssue:
		return true
	default:
		return false
	}
}

type TicketInput struct {
	Type         TicketType `json:"type"`
	Title        string     `json:"title"`
	Status       string     `json:"status,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Description  string     `json:"description,omitempty"`
	AssigneeIDs  []string   `json:"assigneeIds,omitempty"`
	ProjectIDs   []string   `json:"projectIds,omitempty"`
	SprintIDs    []string   `json:"sprintIds,omitempty"`
	ParentIDs    []string   `json:"parentIds,omitempty"`
	DueDateStart string     `json:"dueDateStart,omitempty"`
	DueDateEnd   string     `json:"dueDateEnd,omitempty"`
}

type TicketResult struct {
	GlobalID   string `json:"globalId"`
	RecordID   string `json:"recordId"`
	RecordURL  string `json:"recordUrl"`
	DatabaseID string `json:"databaseId"`
}

// TicketDatabases maps ticket types onto target databases. Types without
// their own database fall back to Issues.
type TicketDatabases struct {
	Epics   string
	Stories string
	Issues  string
}

// TicketCreator mints a fresh global identifier and creates the ticket
// page carrying it. Optional input fields are mapped onto the target
// schema opportunistically: a field whose property is missing or has an
// unexpected type is dropped from the write, never an error.
type TicketCreator struct {
	client       NotionClient
	allocator    SequenceAllocator
	databases    TicketDatabases
	counterName  string
	idProperties []string
}

func NewTicketCreator(client NotionClient, allocator SequenceAllocator, databases TicketDatabases, counterName string, idProperties []string) (*TicketCreator, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: notion client", ErrMissingConfig)
	}
	if allocator == nil {
		return nil, fmt.Errorf("%w: sequence allocator", ErrMissingConfig)
	}
	if strings.TrimSpace(counterName) == "" {
		counterName = DefaultCounterName
	}
	if len(idProperties) == 0 {
		idProperties = DefaultGlobalIDProperties
	}
	return &TicketCreator{
		client:       client,
		allocator:    allocator,
		databases:    databases,
		counterName:  counterName,
		idProperties: idProperties,
	}, nil
}

// Create validates the input, allocates the next identifier, and creates
// the page. Validation happens before any side effect; once the allocator
// commits, a failed page write loses that identifier for good, which is
// acceptable: identifiers must be unique and increasing, not contiguous.
func (c *TicketCreator) Create(ctx context.Context, input TicketInput) (TicketResult, error) {
	if !input.Type.valid() {
		return TicketResult{}, fmt.Errorf("%w: type must be one of Epic, Story, Issue", ErrInvalidInput)
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return TicketResult{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	databaseID, err := c.resolveDatabaseID(input.Type)
	if err != nil {
		return TicketResult{}, err
	}

	value, err := c.allocator.NextValue(ctx, c.counterName)
	if err != nil {
		return TicketResult{}, fmt.Errorf("allocate global id: %w", err)
	}
	globalID := fmt.Sprintf("KM-%d", value)

	schema, err := c.client.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return TicketResult{}, fmt.Errorf("%w: retrieve database %s: %w", ErrUpstreamQuery, databaseID, err)
	}
	titleProp, err := findTitleProperty(schema)
	if err != nil {
		return TicketResult{}, fmt.Errorf("database %s: %w", databaseID, err)
	}

	properties := c.buildProperties(input, schema, titleProp, globalID)

	created, err := c.client.CreatePage(ctx, databaseID, properties)
	if err != nil {
		return TicketResult{}, fmt.Errorf("%w: create ticket page: %w", ErrUpstreamWrite, err)
	}
	return TicketResult{
		GlobalID:   globalID,
		RecordID:   created.ID,
		RecordURL:  created.URL,
		DatabaseID: databaseID,
	}, nil
}

func (c *TicketCreator) resolveDatabaseID(ticketType TicketType) (string, error) {
	typed := ""
	switch ticketType {
	case TicketEpic:
		typed = c.databases.Epics
	case TicketStory:
		typed = c.databases.Stories
	case TicketIssue:
		typed = c.databases.Issues
	}
	if typed != "" {
		return typed, nil
	}
	if c.databases.Issues != "" {
		return c.databases.Issues, nil
	}
	return "", fmt.Errorf("%w: issues database id", ErrMissingConfig)
}

func (c *TicketCreator) buildProperties(input TicketInput, schema DatabaseSchema, titleProp, globalID string) map[string]PropertyValue {
	properties := map[string]PropertyValue{
		titleProp: TitleProperty("[" + globalID + "] " + input.Title),
	}

	if prop := findGlobalIDProperty(schema, c.idProperties); prop != "" {
		properties[prop] = RichTextProperty(globalID)
	}

	if input.Description != "" {
		if prop := firstPropertyOfType(schema, []string{"Description", "설명"}, PropertyTypeRichText); prop != "" {
			properties[prop] = RichTextProperty(input.Description)
		}
	}

	if input.Status != "" && hasSelectOption(schema, "Status", input.Status) {
		properties["Status"] = SelectProperty(input.Status)
	}
	if input.Priority != "" && hasSelectOption(schema, "Priority", input.Priority) {
		properties["Priority"] = SelectProperty(input.Priority)
	}
	if hasSelectOption(schema, "Type", string(input.Type)) {
		properties["Type"] = SelectProperty(string(input.Type))
	}

	if len(input.AssigneeIDs) > 0 && schema["Assignee"].Type == PropertyTypePeople {
		properties["Assignee"] = PeopleProperty(input.AssigneeIDs)
	}
	if len(input.ProjectIDs) > 0 && schema["Project"].Type == PropertyTypeRelation {
		properties["Project"] = RelationProperty(input.ProjectIDs)
	}
	if len(input.SprintIDs) > 0 && schema["Sprint"].Type == PropertyTypeRelation {
		properties["Sprint"] = RelationProperty(input.SprintIDs)
	}

	if len(input.ParentIDs) > 0 {
		candidates := []string{"Parent Issue"}
		switch input.Type {
		case TicketStory:
			candidates = append([]string{"Epic"}, candidates...)
		case TicketIssue:
			candidates = append([]string{"Story"}, candidates...)
		}
		if prop := firstPropertyOfType(schema, candidates, PropertyTypeRelation); prop != "" {
			properties[prop] = RelationProperty(input.ParentIDs)
		}
	}

	if input.DueDateStart != "" {
		if prop := firstPropertyOfType(schema, []string{"Due Date", "기간"}, PropertyTypeDate); prop != "" {
			properties[prop] = DateRangeProperty(input.DueDateStart, input.DueDateEnd)
		}
	}

	return properties
}

// firstPropertyOfType returns the first candidate name that exists in the
// schema with the wanted type, or "".
func firstPropertyOfType(schema DatabaseSchema, candidates []string, wantType string) string {
	for _, candidate := range candidates {
		if schema[candidate].Type == wantType {
			return candidate
		}
	}
	return ""
}

func hasSelectOption(schema DatabaseSchema, propertyName, optionName string) bool {
	prop, ok := schema[propertyName]
	if !ok || prop.Type != PropertyTypeSelect || prop.Select == nil {
		return false
	}
	for _, option := range prop.Select.Options {
		if option.Name == optionName {
			return true
		}
	}
	return false
}
