package kmcal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultGlobalIDProperties are the rich-text property display names
// recognized as the global identifier field, checked in order.
var DefaultGlobalIDProperties = []string{"Global ID", "글로벌 ID", "표시용 ID"}

const DefaultCounterName = "km_ticket"

var (
	titleGlobalIDPattern = regexp.MustCompile(`^\[(KM-\d+)\]\s*`)
	textGlobalIDPattern  = regexp.MustCompile(`\b(KM-\d+)\b`)
)

// GlobalIDFromTitle extracts an identifier stored as a bracketed title
// prefix, or "" when the title carries none.
func GlobalIDFromTitle(title string) string {
	match := titleGlobalIDPattern.FindStringSubmatch(title)
	if match == nil {
		return ""
	}
	return match[1]
}

// GlobalIDFromText extracts the first identifier appearing as a whole
// token anywhere in a rich-text value.
func GlobalIDFromText(text string) string {
	match := textGlobalIDPattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return match[1]
}

// PrefixTitle rewrites a title to "[<globalID>] <title>", stripping any
// identifier prefix the title already carries so prefixes never stack.
func PrefixTitle(globalID, rawTitle string) string {
	title := strings.TrimSpace(titleGlobalIDPattern.ReplaceAllString(rawTitle, ""))
	if title == "" {
		title = "Untitled"
	}
	return "[" + globalID + "] " + title
}

type SyncOptions struct {
	// LimitPerDatabase caps how many records each database contributes to
	// the run. Zero or negative means no cap.
	LimitPerDatabase int
}

type SyncResult struct {
	Scanned              int      `json:"scanned"`
	Assigned             int      `json:"assigned"`
	Backfilled           int      `json:"backfilled"`
	DatabaseCount        int      `json:"databaseCount"`
	ProcessedDatabaseIDs []string `json:"processedDatabaseIds"`
}

// GlobalIDSyncer walks the target databases and repairs every record's
// global identifier: records that already carry one anywhere get the other
// location backfilled to match, records with none get a fresh one minted.
type GlobalIDSyncer struct {
	client       NotionClient
	allocator    SequenceAllocator
	databaseIDs  []string
	counterName  string
	idProperties []string
}

func NewGlobalIDSyncer(client NotionClient, allocator SequenceAllocator, databaseIDs []string, counterName string, idProperties []string) (*GlobalIDSyncer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: notion client", ErrMissingConfig)
	}
	if allocator == nil {
		return nil, fmt.Errorf("%w: sequence allocator", ErrMissingConfig)
	}
	unique := dedupeNonEmpty(databaseIDs)
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: at least one target database id", ErrMissingConfig)
	}
	if strings.TrimSpace(counterName) == "" {
		counterName = DefaultCounterName
	}
	if len(idProperties) == 0 {
		idProperties = DefaultGlobalIDProperties
	}
	return &GlobalIDSyncer{
		client:       client,
		allocator:    allocator,
		databaseIDs:  unique,
		counterName:  counterName,
		idProperties: idProperties,
	}, nil
}

// Sync processes databases sequentially and, within each, records
// sequentially. Keeping the allocator calls serial avoids racing a fresh
// assignment against a record read from a stale snapshot. A failure stops
// the run and propagates; writes already made stay made, and the counts
// cover everything processed up to the failure point.
func (s *GlobalIDSyncer) Sync(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	result := SyncResult{
		DatabaseCount:        len(s.databaseIDs),
		ProcessedDatabaseIDs: s.databaseIDs,
	}

	for _, databaseID := range s.databaseIDs {
		schema, err := s.client.RetrieveDatabase(ctx, databaseID)
		if err != nil {
			return result, fmt.Errorf("%w: retrieve database %s: %w", ErrUpstreamQuery, databaseID, err)
		}
		titleProp, err := findTitleProperty(schema)
		if err != nil {
			return result, fmt.Errorf("database %s: %w", databaseID, err)
		}
		globalIDProp := findGlobalIDProperty(schema, s.idProperties)

		pages, err := s.client.QueryDatabasePages(ctx, databaseID)
		if err != nil {
			return result, fmt.Errorf("%w: query database %s: %w", ErrUpstreamQuery, databaseID, err)
		}
		if opts.LimitPerDatabase > 0 && len(pages) > opts.LimitPerDatabase {
			pages = pages[:opts.LimitPerDatabase]
		}
		result.Scanned += len(pages)

		for _, page := range pages {
			assigned, backfilled, err := s.reconcilePage(ctx, page, titleProp, globalIDProp)
			if err != nil {
				return result, err
			}
			if assigned {
				result.Assigned++
			}
			if backfilled {
				result.Backfilled++
			}
		}
	}
	return result, nil
}

func (s *GlobalIDSyncer) reconcilePage(ctx context.Context, page Page, titleProp, globalIDProp string) (assigned, backfilled bool, err error) {
	currentTitle := titleText(page.Properties[titleProp])
	titleID := GlobalIDFromTitle(currentTitle)
	propID := ""
	if globalIDProp != "" {
		propID = GlobalIDFromText(PlainText(page.Properties[globalIDProp]))
	}

	// The rich-text field is authoritative when both locations disagree.
	existingID := propID
	if existingID == "" {
		existingID = titleID
	}

	updates := map[string]PropertyValue{}

	if existingID != "" {
		if titleID != existingID {
			updates[titleProp] = TitleProperty(PrefixTitle(existingID, currentTitle))
		}
		if globalIDProp != "" && propID != existingID {
			updates[globalIDProp] = RichTextProperty(existingID)
		}
		if len(updates) == 0 {
			return false, false, nil
		}
		if err := s.client.UpdatePageProperties(ctx, page.ID, updates); err != nil {
			return false, false, fmt.Errorf("%w: backfill page %s: %w", ErrUpstreamWrite, page.ID, err)
		}
		return false, true, nil
	}

	value, err := s.allocator.NextValue(ctx, s.counterName)
	if err != nil {
		return false, false, fmt.Errorf("allocate global id for page %s: %w", page.ID, err)
	}
	globalID := fmt.Sprintf("KM-%d", value)

	updates[titleProp] = TitleProperty(PrefixTitle(globalID, currentTitle))
	if globalIDProp != "" {
		updates[globalIDProp] = RichTextProperty(globalID)
	}
	if err := s.client.UpdatePageProperties(ctx, page.ID, updates); err != nil {
		return false, false, fmt.Errorf("%w: assign %s to page %s: %w", ErrUpstreamWrite, globalID, page.ID, err)
	}
	return true, false, nil
}

// findTitleProperty locates the schema's title property. Property-name
// order is unspecified upstream, so the scan runs in sorted order to stay
// deterministic.
func findTitleProperty(schema DatabaseSchema) (string, error) {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if schema[name].Type == PropertyTypeTitle {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: target database has no title property", ErrMissingConfig)
}

func findGlobalIDProperty(schema DatabaseSchema, candidates []string) string {
	for _, candidate := range candidates {
		if schema[candidate].Type == PropertyTypeRichText {
			return candidate
		}
	}
	return ""
}

func dedupeNonEmpty(values []string) []string {
	seen := map[string]bool{}
	unique := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		unique = append(unique, value)
	}
	return unique
}
