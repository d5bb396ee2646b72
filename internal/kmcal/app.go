package kmcal

import (
	"context"
	"fmt"
	"time"
)

// AppOptions wires the core operations to their collaborators. Client and
// Allocator are required; each operation additionally requires its own
// database ids at call time.
type AppOptions struct {
	Client    NotionClient
	Allocator SequenceAllocator

	Calendar Databases
	Builder  BuilderConfig

	SyncDatabaseIDs []string
	Tickets         TicketDatabases

	CounterName        string
	GlobalIDProperties []string
}

// App bundles the three exposed operations behind one handle, the way the
// transport adapter consumes them.
type App struct {
	client    NotionClient
	calendar  Databases
	builder   BuilderConfig
	syncer    *GlobalIDSyncer
	creator   *TicketCreator
	nowSource func() time.Time
}

func NewApp(opts AppOptions) (*App, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: notion client", ErrMissingConfig)
	}
	if opts.Allocator == nil {
		return nil, fmt.Errorf("%w: sequence allocator", ErrMissingConfig)
	}
	if opts.Builder == (BuilderConfig{}) {
		opts.Builder = DefaultBuilderConfig()
	}
	if len(opts.SyncDatabaseIDs) == 0 {
		// The reconciliation targets default to the ticket databases, the
		// same set identifiers are minted into.
		opts.SyncDatabaseIDs = []string{opts.Tickets.Issues, opts.Tickets.Stories, opts.Tickets.Epics}
	}

	syncer, err := NewGlobalIDSyncer(opts.Client, opts.Allocator, opts.SyncDatabaseIDs, opts.CounterName, opts.GlobalIDProperties)
	if err != nil {
		return nil, err
	}
	creator, err := NewTicketCreator(opts.Client, opts.Allocator, opts.Tickets, opts.CounterName, opts.GlobalIDProperties)
	if err != nil {
		return nil, err
	}
	return &App{
		client:    opts.Client,
		calendar:  opts.Calendar,
		builder:   opts.Builder,
		syncer:    syncer,
		creator:   creator,
		nowSource: time.Now,
	}, nil
}

func (a *App) FetchCalendarEvents(ctx context.Context) ([]CalendarEvent, error) {
	return FetchCalendarEvents(ctx, a.client, a.calendar, a.builder)
}

func (a *App) CalendarICS(ctx context.Context) (string, error) {
	events, err := a.FetchCalendarEvents(ctx)
	if err != nil {
		return "", err
	}
	return RenderICS(events, a.nowSource()), nil
}

func (a *App) SyncGlobalIDs(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	return a.syncer.Sync(ctx, opts)
}

func (a *App) CreateTicket(ctx context.Context, input TicketInput) (TicketResult, error) {
	return a.creator.Create(ctx, input)
}
