package kmcal

import (
	"context"
	"fmt"
	"sync"
)

type pageUpdate struct {
	PageID     string
	Properties map[string]PropertyValue
}

type pageCreation struct {
	DatabaseID string
	Properties map[string]PropertyValue
}

// fakeNotionClient serves canned schemas and pages and records writes.
type fakeNotionClient struct {
	schemas map[string]DatabaseSchema
	pages   map[string][]Page

	queryErr  map[string]error
	updateErr error
	createErr error

	createResult Page

	updates   []pageUpdate
	creations []pageCreation
}

func newFakeNotionClient() *fakeNotionClient {
	return &fakeNotionClient{
		schemas:  map[string]DatabaseSchema{},
		pages:    map[string][]Page{},
		queryErr: map[string]error{},
	}
}

func (f *fakeNotionClient) QueryDatabasePages(ctx context.Context, databaseID string) ([]Page, error) {
	if err := f.queryErr[databaseID]; err != nil {
		return nil, err
	}
	return f.pages[databaseID], nil
}

func (f *fakeNotionClient) RetrieveDatabase(ctx context.Context, databaseID string) (DatabaseSchema, error) {
	schema, ok := f.schemas[databaseID]
	if !ok {
		return nil, fmt.Errorf("unknown database %s", databaseID)
	}
	return schema, nil
}

func (f *fakeNotionClient) UpdatePageProperties(ctx context.Context, pageID string, properties map[string]PropertyValue) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, pageUpdate{PageID: pageID, Properties: properties})
	return nil
}

func (f *fakeNotionClient) CreatePage(ctx context.Context, databaseID string, properties map[string]PropertyValue) (Page, error) {
	if f.createErr != nil {
		return Page{}, f.createErr
	}
	f.creations = append(f.creations, pageCreation{DatabaseID: databaseID, Properties: properties})
	if f.createResult.ID != "" {
		return f.createResult, nil
	}
	return Page{ID: "created_1", URL: "https://notion.so/created_1"}, nil
}

// countingAllocator wraps the in-memory counter and tracks call volume so
// tests can assert exactly how many identifiers a flow consumed.
type countingAllocator struct {
	mu    sync.Mutex
	inner *InMemoryCounter
	calls int
	err   error
}

func newCountingAllocator() *countingAllocator {
	return &countingAllocator{inner: NewInMemoryCounter()}
}

func (a *countingAllocator) NextValue(ctx context.Context, name string) (int64, error) {
	a.mu.Lock()
	a.calls++
	err := a.err
	a.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return a.inner.NextValue(ctx, name)
}

func (a *countingAllocator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func titleContent(prop PropertyValue) string {
	if len(prop.Title) == 0 || prop.Title[0].Text == nil {
		return ""
	}
	return prop.Title[0].Text.Content
}

func richTextContent(prop PropertyValue) string {
	if len(prop.RichText) == 0 || prop.RichText[0].Text == nil {
		return ""
	}
	return prop.RichText[0].Text.Content
}
