package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kmworks/kmcal/internal/kmcal"
)

// Service is the core surface the HTTP layer adapts. It matches the
// methods of kmcal.App.
type Service interface {
	FetchCalendarEvents(ctx context.Context) ([]kmcal.CalendarEvent, error)
	CalendarICS(ctx context.Context) (string, error)
	SyncGlobalIDs(ctx context.Context, opts kmcal.SyncOptions) (kmcal.SyncResult, error)
	CreateTicket(ctx context.Context, input kmcal.TicketInput) (kmcal.TicketResult, error)
}

type ServerConfig struct {
	// SyncSecret, when set, requires "Bearer <secret>" authorization on the
	// sync endpoint. Empty leaves the endpoint open, matching deployments
	// where the scheduler runs inside the same trust boundary.
	SyncSecret   string
	MaxBodyBytes int64
}

type Server struct {
	service Service
	cfg     ServerConfig
}

func NewServer(service Service) *Server {
	return NewServerWithConfig(service, ServerConfig{})
}

func NewServerWithConfig(service Service, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{service: service, cfg: cfg}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/calendar/events" && r.Method == http.MethodGet {
		s.handleCalendarEvents(w, r)
		return
	}
	if r.URL.Path == "/v1/calendar/feed.ics" && r.Method == http.MethodGet {
		s.handleCalendarICS(w, r)
		return
	}
	if r.URL.Path == "/v1/tickets" && r.Method == http.MethodPost {
		s.handleCreateTicket(w, r)
		return
	}
	if r.URL.Path == "/v1/sync/global-ids" && (r.Method == http.MethodGet || r.Method == http.MethodPost) {
		s.handleSyncGlobalIDs(w, r)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "route not found")
}

func (s *Server) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.FetchCalendarEvents(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"generatedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	document, err := s.service.CalendarICS(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, document)
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}

	if message, ok := validateTicketBody(body); !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", message)
		return
	}
	var input kmcal.TicketInput
	if err := json.Unmarshal(body, &input); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body must be a JSON object")
		return
	}

	result, err := s.service.CreateTicket(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleSyncGlobalIDs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.SyncSecret != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.SyncSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid sync credential")
			return
		}
	}

	opts := kmcal.SyncOptions{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts.LimitPerDatabase = parsed
		}
	}

	result, err := s.service.SyncGlobalIDs(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                   true,
		"scanned":              result.Scanned,
		"assigned":             result.Assigned,
		"backfilled":           result.Backfilled,
		"databaseCount":        result.DatabaseCount,
		"processedDatabaseIds": result.ProcessedDatabaseIDs,
		"syncedAt":             time.Now().UTC().Format(time.RFC3339),
	})
}

const ticketSchemaJSON = `{
	"type": "object",
	"required": ["type", "title"],
	"properties": {
		"type": {"enum": ["Epic", "Story", "Issue"]},
		"title": {"type": "string", "minLength": 1},
		"status": {"type": "string"},
		"priority": {"type": "string"},
		"description": {"type": "string"},
		"assigneeIds": {"type": "array", "items": {"type": "string"}},
		"projectIds": {"type": "array", "items": {"type": "string"}},
		"sprintIds": {"type": "array", "items": {"type": "string"}},
		"parentIds": {"type": "array", "items": {"type": "string"}},
		"dueDateStart": {"type": "string"},
		"dueDateEnd": {"type": "string"}
	}
}`

var ticketSchema = mustCompileTicketSchema()

func mustCompileTicketSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(ticketSchemaJSON))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ticket.json", doc); err != nil {
		panic(err)
	}
	schema, err := compiler.Compile("ticket.json")
	if err != nil {
		panic(err)
	}
	return schema
}

// validateTicketBody checks the raw body against the ticket schema before
// anything touches the allocator or the upstream API.
func validateTicketBody(body []byte) (string, bool) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return "request body must be valid JSON", false
	}
	if err := ticketSchema.Validate(instance); err != nil {
		return err.Error(), false
	}
	return "", true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kmcal.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, kmcal.ErrMissingConfig):
		writeError(w, http.StatusInternalServerError, "config_error", err.Error())
	case errors.Is(err, kmcal.ErrUpstreamQuery):
		writeError(w, http.StatusBadGateway, "upstream_query_failed", err.Error())
	case errors.Is(err, kmcal.ErrUpstreamWrite):
		writeError(w, http.StatusBadGateway, "upstream_write_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}
