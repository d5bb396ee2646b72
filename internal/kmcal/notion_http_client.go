package kmcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// NotionClient is the slice of the Notion API this service consumes:
// paginated database reads, schema retrieval, and page writes.
type NotionClient interface {
	QueryDatabasePages(ctx context.Context, databaseID string) ([]Page, error)
	RetrieveDatabase(ctx context.Context, databaseID string) (DatabaseSchema, error)
	UpdatePageProperties(ctx context.Context, pageID string, properties map[string]PropertyValue) error
	CreatePage(ctx context.Context, databaseID string, properties map[string]PropertyValue) (Page, error)
}

// SchemaProperty describes one property of a database schema: its type tag
// and, for select properties, the configured options.
type SchemaProperty struct {
	Type   string `json:"type"`
	Select *struct {
		Options []SelectValue `json:"options"`
	} `json:"select,omitempty"`
}

type DatabaseSchema map[string]SchemaProperty

type NotionAccessTokenProvider func(ctx context.Context) (string, error)

type NotionHTTPClientOptions struct {
	BaseURL       string
	TokenProvider NotionAccessTokenProvider
	HTTPClient    *http.Client
	APIVersion    string
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

type HTTPNotionClient struct {
	baseURL       string
	tokenProvider NotionAccessTokenProvider
	httpClient    *http.Client
	apiVersion    string
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPNotionClient(opts NotionHTTPClientOptions) *HTTPNotionClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPNotionClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		apiVersion:    apiVersion,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

const queryPageSize = 100

type databaseQueryRequest struct {
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size"`
}

type databaseQueryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

// QueryDatabasePages reads every page of a database. Pagination is
// inherently sequential: each request needs the cursor returned by the one
// before it.
func (c *HTTPNotionClient) QueryDatabasePages(ctx context.Context, databaseID string) ([]Page, error) {
	if strings.TrimSpace(databaseID) == "" {
		return nil, fmt.Errorf("%w: database id is required", ErrInvalidInput)
	}
	path := "/v1/databases/" + databaseID + "/query"

	pages := make([]Page, 0)
	cursor := ""
	for {
		var response databaseQueryResponse
		request := databaseQueryRequest{StartCursor: cursor, PageSize: queryPageSize}
		if err := c.do(ctx, http.MethodPost, path, request, &response); err != nil {
			return nil, err
		}
		for _, page := range response.Results {
			// Query results can interleave non-page objects; only keep
			// entries that carry an identifier and a property bag.
			if page.ID == "" || page.Properties == nil {
				continue
			}
			pages = append(pages, page)
		}
		if !response.HasMore || response.NextCursor == nil || *response.NextCursor == "" {
			return pages, nil
		}
		cursor = *response.NextCursor
	}
}

type databaseRetrieveResponse struct {
	Properties DatabaseSchema `json:"properties"`
}

func (c *HTTPNotionClient) RetrieveDatabase(ctx context.Context, databaseID string) (DatabaseSchema, error) {
	if strings.TrimSpace(databaseID) == "" {
		return nil, fmt.Errorf("%w: database id is required", ErrInvalidInput)
	}
	var response databaseRetrieveResponse
	if err := c.do(ctx, http.MethodGet, "/v1/databases/"+databaseID, nil, &response); err != nil {
		return nil, err
	}
	if response.Properties == nil {
		return DatabaseSchema{}, nil
	}
	return response.Properties, nil
}

func (c *HTTPNotionClient) UpdatePageProperties(ctx context.Context, pageID string, properties map[string]PropertyValue) error {
	if strings.TrimSpace(pageID) == "" {
		return fmt.Errorf("%w: page id is required", ErrInvalidInput)
	}
	if len(properties) == 0 {
		return nil
	}
	payload := map[string]any{"properties": properties}
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, payload, nil)
}

func (c *HTTPNotionClient) CreatePage(ctx context.Context, databaseID string, properties map[string]PropertyValue) (Page, error) {
	if strings.TrimSpace(databaseID) == "" {
		return Page{}, fmt.Errorf("%w: database id is required", ErrInvalidInput)
	}
	payload := map[string]any{
		"parent":     map[string]string{"database_id": databaseID},
		"properties": properties,
	}
	var created Page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", payload, &created); err != nil {
		return Page{}, err
	}
	return created, nil
}

func (c *HTTPNotionClient) do(ctx context.Context, method, path string, payload, out any) error {
	if c == nil {
		return fmt.Errorf("notion http client is nil")
	}
	tokenProvider := c.tokenProvider
	if tokenProvider == nil {
		return fmt.Errorf("notion token provider is required")
	}
	token, err := tokenProvider(ctx)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: notion token is empty", ErrMissingConfig)
	}
	var bodyBytes []byte
	if payload != nil {
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Notion-Version", c.apiVersion)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		errCode := ""
		errMessage := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if code, ok := parsed["code"].(string); ok {
				errCode = code
			}
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				errMessage = message
			}
		}
		if errCode != "" {
			return fmt.Errorf("notion request failed: status=%d code=%s message=%s", resp.StatusCode, errCode, errMessage)
		}
		return fmt.Errorf("notion request failed: status=%d message=%s", resp.StatusCode, errMessage)
	}
}

func (c *HTTPNotionClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
