package kmcal

import (
	"sort"
	"strings"
	"time"
)

// Property type tags as reported by the Notion API. Anything outside this
// set is carried through unmodified but never interpreted.
const (
	PropertyTypeTitle    = "title"
	PropertyTypeRichText = "rich_text"
	PropertyTypeDate     = "date"
	PropertyTypeSelect   = "select"
	PropertyTypePeople   = "people"
	PropertyTypeRelation = "relation"
)

type TextContent struct {
	Content string `json:"content"`
}

type TextSegment struct {
	Type      string       `json:"type,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type DateValue struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type SelectValue struct {
	Name string `json:"name"`
}

type ObjectRef struct {
	ID string `json:"id"`
}

// PropertyValue is one property of a page: a type tag plus the variant
// payload matching that tag. Extraction helpers check the tag and return
// a zero value on mismatch instead of guessing.
type PropertyValue struct {
	Type     string        `json:"type,omitempty"`
	Title    []TextSegment `json:"title,omitempty"`
	RichText []TextSegment `json:"rich_text,omitempty"`
	Date     *DateValue    `json:"date,omitempty"`
	Select   *SelectValue  `json:"select,omitempty"`
	People   []ObjectRef   `json:"people,omitempty"`
	Relation []ObjectRef   `json:"relation,omitempty"`
}

// Page is one row of a Notion database: identifier, permalink and the
// typed property bag. Builders only ever read it.
type Page struct {
	ID         string                   `json:"id"`
	URL        string                   `json:"url,omitempty"`
	Properties map[string]PropertyValue `json:"properties"`
}

func flattenSegments(segments []TextSegment) string {
	var b strings.Builder
	for _, segment := range segments {
		if segment.PlainText != "" {
			b.WriteString(segment.PlainText)
			continue
		}
		if segment.Text != nil {
			b.WriteString(segment.Text.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// PlainText flattens a rich_text property into one trimmed string.
// Returns "" if the property is absent or not rich_text.
func PlainText(prop PropertyValue) string {
	if prop.Type != PropertyTypeRichText {
		return ""
	}
	return flattenSegments(prop.RichText)
}

func titleText(prop PropertyValue) string {
	if prop.Type != PropertyTypeTitle {
		return ""
	}
	return flattenSegments(prop.Title)
}

// PageTitle reads the page title from the preferred property, falling back
// to the first non-empty title-typed property in lexicographic property-name
// order, then to "Untitled". The sorted scan keeps the fallback reproducible
// across runs even though the property bag itself is unordered.
func PageTitle(page Page, preferredProp string) string {
	if value := titleText(page.Properties[preferredProp]); value != "" {
		return value
	}
	names := make([]string, 0, len(page.Properties))
	for name := range page.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if value := titleText(page.Properties[name]); value != "" {
			return value
		}
	}
	return "Untitled"
}

// DateProperty reads a date property by name, returning a zero DateValue
// when the property is absent or carries a different type.
func DateProperty(page Page, name string) DateValue {
	prop, ok := page.Properties[name]
	if !ok || prop.Type != PropertyTypeDate || prop.Date == nil {
		return DateValue{}
	}
	return *prop.Date
}

// ReadDateRange resolves a date range, preferring the combined range
// property. When the range start is absent it falls back to the legacy
// start/end property pair, and when the legacy end property has no end of
// its own, its start doubles as the end. This ordering lets records written
// before a schema migration (two separate fields replaced by one range
// field) keep resolving.
func ReadDateRange(page Page, rangeProp, legacyStartProp, legacyEndProp string) DateValue {
	if rangeValue := DateProperty(page, rangeProp); rangeValue.Start != "" {
		return rangeValue
	}

	var legacyStart, legacyEnd DateValue
	if legacyStartProp != "" {
		legacyStart = DateProperty(page, legacyStartProp)
	}
	if legacyEndProp != "" {
		legacyEnd = DateProperty(page, legacyEndProp)
	}

	start := legacyStart.Start
	if start == "" {
		start = legacyEnd.Start
	}
	end := legacyEnd.End
	if end == "" {
		end = legacyEnd.Start
	}
	return DateValue{Start: start, End: end}
}

// IsDateOnly reports whether a Notion date string is a plain calendar date
// with no time-of-day component.
func IsDateOnly(value string) bool {
	return len(value) == 10
}

const dateOnlyLayout = "2006-01-02"

// ToExclusiveEnd advances a date-only string by one calendar day (UTC),
// rolling over month and year boundaries. Calendar widgets treat the end of
// an all-day range as exclusive, while Notion stores it inclusive.
// Non-date-only values pass through unchanged.
func ToExclusiveEnd(value string) string {
	if !IsDateOnly(value) {
		return value
	}
	parsed, err := time.ParseInLocation(dateOnlyLayout, value, time.UTC)
	if err != nil {
		return value
	}
	return parsed.AddDate(0, 0, 1).Format(dateOnlyLayout)
}

// Write-side constructors. These produce the payload shapes the Notion API
// accepts for page updates and creates.

func TitleProperty(content string) PropertyValue {
	return PropertyValue{
		Title: []TextSegment{{Type: "text", Text: &TextContent{Content: content}}},
	}
}

func RichTextProperty(content string) PropertyValue {
	return PropertyValue{
		RichText: []TextSegment{{Type: "text", Text: &TextContent{Content: content}}},
	}
}

func SelectProperty(name string) PropertyValue {
	return PropertyValue{Select: &SelectValue{Name: name}}
}

func DateRangeProperty(start, end string) PropertyValue {
	value := &DateValue{Start: start}
	if end != "" {
		value.End = end
	}
	return PropertyValue{Date: value}
}

func PeopleProperty(ids []string) PropertyValue {
	return PropertyValue{People: objectRefs(ids)}
}

func RelationProperty(ids []string) PropertyValue {
	return PropertyValue{Relation: objectRefs(ids)}
}

func objectRefs(ids []string) []ObjectRef {
	refs := make([]ObjectRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, ObjectRef{ID: id})
	}
	return refs
}
