package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kmworks/kmcal/internal/config"
	"github.com/kmworks/kmcal/internal/httpapi"
	"github.com/kmworks/kmcal/internal/kmcal"
)

func main() {
	addr := os.Getenv("KMCAL_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	token := os.Getenv("KMCAL_NOTION_TOKEN")
	if token == "" {
		log.Fatalf("KMCAL_NOTION_TOKEN is required")
	}
	counterDSN := os.Getenv("KMCAL_COUNTER_DSN")
	if counterDSN == "" {
		log.Fatalf("KMCAL_COUNTER_DSN is required (postgres:// or memory://)")
	}

	client := kmcal.NewHTTPNotionClient(kmcal.NotionHTTPClientOptions{
		BaseURL: os.Getenv("KMCAL_NOTION_BASE_URL"),
		TokenProvider: func(ctx context.Context) (string, error) {
			return token, nil
		},
		MaxRetries: intEnv("KMCAL_NOTION_MAX_RETRIES", 0),
		BaseDelay:  durationEnv("KMCAL_NOTION_RETRY_DELAY", 0),
		MaxDelay:   durationEnv("KMCAL_NOTION_RETRY_MAX_DELAY", 0),
	})
	allocator, err := kmcal.BuildCounterFromDSN(counterDSN)
	if err != nil {
		log.Fatalf("failed to initialize counter: %v", err)
	}

	mappingFile := os.Getenv("KMCAL_MAPPING_FILE")
	var current atomic.Pointer[kmcal.App]
	app, err := buildApp(client, allocator, mappingFile)
	if err != nil {
		log.Fatalf("failed to initialize service: %v", err)
	}
	current.Store(app)

	if mappingFile != "" {
		go func() {
			err := config.Watch(context.Background(), mappingFile, func(*config.Mapping) {
				rebuilt, buildErr := buildApp(client, allocator, mappingFile)
				if buildErr != nil {
					log.Printf("mapping reload rejected: %v", buildErr)
					return
				}
				current.Store(rebuilt)
				log.Printf("mapping reloaded from %s", mappingFile)
			})
			if err != nil && err != context.Canceled {
				log.Printf("mapping watch stopped: %v", err)
			}
		}()
	}

	service := &currentApp{app: &current}

	if spec := os.Getenv("KMCAL_SYNC_CRON"); spec != "" {
		scheduler := cron.New()
		limit := intEnv("KMCAL_SYNC_LIMIT", 0)
		if _, err := scheduler.AddFunc(spec, func() {
			runScheduledSync(service, limit)
		}); err != nil {
			log.Fatalf("invalid KMCAL_SYNC_CRON %q: %v", spec, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("global id sync scheduled: %s", spec)
	}

	server := httpapi.NewServerWithConfig(service, httpapi.ServerConfig{
		SyncSecret:   os.Getenv("KMCAL_SYNC_SECRET"),
		MaxBodyBytes: int64Env("KMCAL_MAX_BODY_BYTES", 0),
	})

	log.Printf("kmcald listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildApp(client kmcal.NotionClient, allocator kmcal.SequenceAllocator, mappingFile string) (*kmcal.App, error) {
	mapping, err := config.Load(mappingFile)
	if err != nil {
		return nil, err
	}
	mapping.ApplyEnv(os.Getenv)
	mapping.Normalize()

	calendar, err := mapping.CalendarDatabases()
	if err != nil {
		return nil, err
	}
	return kmcal.NewApp(kmcal.AppOptions{
		Client:             client,
		Allocator:          allocator,
		Calendar:           calendar,
		Builder:            mapping.BuilderConfig(),
		Tickets:            mapping.TicketDatabases(),
		CounterName:        mapping.CounterName,
		GlobalIDProperties: mapping.GlobalIDProperties,
	})
}

// currentApp indirects every call through the latest mapping so a reload
// swaps the whole wiring atomically under in-flight requests.
type currentApp struct {
	app *atomic.Pointer[kmcal.App]
}

func (c *currentApp) FetchCalendarEvents(ctx context.Context) ([]kmcal.CalendarEvent, error) {
	return c.app.Load().FetchCalendarEvents(ctx)
}

func (c *currentApp) CalendarICS(ctx context.Context) (string, error) {
	return c.app.Load().CalendarICS(ctx)
}

func (c *currentApp) SyncGlobalIDs(ctx context.Context, opts kmcal.SyncOptions) (kmcal.SyncResult, error) {
	return c.app.Load().SyncGlobalIDs(ctx, opts)
}

func (c *currentApp) CreateTicket(ctx context.Context, input kmcal.TicketInput) (kmcal.TicketResult, error) {
	return c.app.Load().CreateTicket(ctx, input)
}

func runScheduledSync(service *currentApp, limit int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	result, err := service.SyncGlobalIDs(ctx, kmcal.SyncOptions{LimitPerDatabase: limit})
	if err != nil {
		log.Printf("scheduled global id sync failed: %v", err)
		return
	}
	log.Printf("scheduled global id sync: scanned=%d assigned=%d backfilled=%d databases=%d",
		result.Scanned, result.Assigned, result.Backfilled, result.DatabaseCount)
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
