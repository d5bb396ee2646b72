package kmcal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func staticToken(token string) NotionAccessTokenProvider {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func TestQueryDatabasePagesFollowsCursorSequentially(t *testing.T) {
	var capturedAuth, capturedVersion string
	var cursors []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/databases/db_1/query" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		capturedAuth = r.Header.Get("Authorization")
		capturedVersion = r.Header.Get("Notion-Version")

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		cursor, _ := body["start_cursor"].(string)
		cursors = append(cursors, cursor)

		if cursor == "" {
			writeTestJSON(w, map[string]any{
				"results": []any{
					map[string]any{"id": "p1", "url": "https://notion.so/p1", "properties": map[string]any{}},
					map[string]any{"object": "comment"},
				},
				"has_more":    true,
				"next_cursor": "cursor_2",
			})
			return
		}
		writeTestJSON(w, map[string]any{
			"results": []any{
				map[string]any{"id": "p2", "url": "https://notion.so/p2", "properties": map[string]any{}},
			},
			"has_more":    false,
			"next_cursor": nil,
		})
	}))
	defer server.Close()

	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: staticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	pages, err := client.QueryDatabasePages(context.Background(), "db_1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(pages) != 2 || pages[0].ID != "p1" || pages[1].ID != "p2" {
		t.Fatalf("unexpected pages %+v", pages)
	}
	if capturedAuth != "Bearer token_123" {
		t.Fatalf("expected bearer auth, got %q", capturedAuth)
	}
	if capturedVersion == "" {
		t.Fatalf("expected Notion-Version header")
	}
	if len(cursors) != 2 || cursors[0] != "" || cursors[1] != "cursor_2" {
		t.Fatalf("expected sequential cursor continuation, got %v", cursors)
	}
}

func TestQueryDatabasePagesParsesTypedProperties(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, map[string]any{
			"results": []any{map[string]any{
				"id":  "p1",
				"url": "https://notion.so/p1",
				"properties": map[string]any{
					"Due Date": map[string]any{"type": "date", "date": map[string]any{"start": "2024-05-01", "end": nil}},
					"Title":    map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": "Fix bug"}}},
				},
			}},
			"has_more":    false,
			"next_cursor": nil,
		})
	}))
	defer server.Close()

	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: staticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	pages, err := client.QueryDatabasePages(context.Background(), "db_1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("expected one page, got %d", len(pages))
	}
	if got := DateProperty(pages[0], "Due Date").Start; got != "2024-05-01" {
		t.Fatalf("unexpected due date %q", got)
	}
	if got := PageTitle(pages[0], "Title"); got != "Fix bug" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&calls, 1)
		if current == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"try again"}`))
			return
		}
		writeTestJSON(w, map[string]any{"properties": map[string]any{}})
	}))
	defer server.Close()

	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: staticToken("token_123"),
		HTTPClient:    server.Client(),
		BaseDelay:     5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		MaxRetries:    2,
	})
	if _, err := client.RetrieveDatabase(context.Background(), "db_1"); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected one retry, got %d calls", atomic.LoadInt32(&calls))
	}
}

func TestClientReturnsErrorOnPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"validation_error","message":"bad payload"}`))
	}))
	defer server.Close()

	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: staticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	err := client.UpdatePageProperties(context.Background(), "p1", map[string]PropertyValue{
		"Title": TitleProperty("x"),
	})
	if err == nil {
		t.Fatalf("expected permanent error")
	}
	if !strings.Contains(err.Error(), "validation_error") {
		t.Fatalf("expected error to include response code, got %v", err)
	}
}

func TestRetrieveDatabaseParsesSelectOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/databases/db_1" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeTestJSON(w, map[string]any{
			"properties": map[string]any{
				"Title":  map[string]any{"type": "title"},
				"Status": map[string]any{"type": "select", "select": map[string]any{"options": []any{map[string]any{"name": "Todo"}}}},
			},
		})
	}))
	defer server.Close()

	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: staticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	schema, err := client.RetrieveDatabase(context.Background(), "db_1")
	if err != nil {
		t.Fatalf("retrieve failed: %v", err)
	}
	if schema["Title"].Type != PropertyTypeTitle {
		t.Fatalf("unexpected schema %+v", schema)
	}
	if !hasSelectOption(schema, "Status", "Todo") {
		t.Fatalf("expected Todo select option, got %+v", schema["Status"])
	}
}

func TestCreatePageSendsParentAndParsesResult(t *testing.T) {
	var capturedBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&capturedBody)
		writeTestJSON(w, map[string]any{"id": "p9", "url": "https://notion.so/p9"})
	}))
	defer server.Close()

	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       server.URL,
		TokenProvider: staticToken("token_123"),
		HTTPClient:    server.Client(),
	})
	created, err := client.CreatePage(context.Background(), "db_1", map[string]PropertyValue{
		"Title": TitleProperty("[KM-1] New"),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID != "p9" || created.URL != "https://notion.so/p9" {
		t.Fatalf("unexpected created page %+v", created)
	}
	parent, _ := capturedBody["parent"].(map[string]any)
	if parent["database_id"] != "db_1" {
		t.Fatalf("expected parent database id, got %+v", capturedBody)
	}
}

func TestClientRejectsEmptyToken(t *testing.T) {
	client := NewHTTPNotionClient(NotionHTTPClientOptions{
		BaseURL:       "http://127.0.0.1:0",
		TokenProvider: staticToken("   "),
	})
	_, err := client.QueryDatabasePages(context.Background(), "db_1")
	if err == nil || !strings.Contains(err.Error(), "token is empty") {
		t.Fatalf("expected empty token error, got %v", err)
	}
}

func writeTestJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}
